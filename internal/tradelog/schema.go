package tradelog

const schemaDDL = `
CREATE TABLE IF NOT EXISTS orders (
	order_id      INTEGER PRIMARY KEY,
	parent_id     INTEGER NOT NULL DEFAULT 0,
	kind          TEXT NOT NULL,
	symbol        TEXT NOT NULL,
	expiry        TEXT NOT NULL DEFAULT '',
	strike        TEXT NOT NULL DEFAULT '0',
	opt_right     TEXT NOT NULL DEFAULT '',
	action        TEXT NOT NULL,
	quantity      INTEGER NOT NULL DEFAULT 0,
	order_type    TEXT NOT NULL,
	limit_price   TEXT NOT NULL DEFAULT '0',
	status        TEXT NOT NULL,
	filled        REAL NOT NULL DEFAULT 0,
	remaining     REAL NOT NULL DEFAULT 0,
	created_time  DATETIME NOT NULL,
	updated_time  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_parent ON orders(parent_id);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
CREATE INDEX IF NOT EXISTS idx_orders_created ON orders(created_time);

CREATE TABLE IF NOT EXISTS order_events (
	event_id    TEXT PRIMARY KEY,
	order_id    INTEGER NOT NULL REFERENCES orders(order_id),
	status      TEXT NOT NULL,
	filled      REAL NOT NULL DEFAULT 0,
	remaining   REAL NOT NULL DEFAULT 0,
	event_time  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_order ON order_events(order_id);

CREATE VIEW IF NOT EXISTS v_status_summary AS
SELECT
	status,
	COUNT(*) AS orders,
	SUM(quantity) AS contracts,
	MAX(updated_time) AS last_update
FROM orders
GROUP BY status
ORDER BY status;
`
