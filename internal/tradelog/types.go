package tradelog

import "time"

// OrderRow is the latest journaled state of one order.
type OrderRow struct {
	OrderID     int64
	ParentID    int64
	Kind        string
	Symbol      string
	Expiry      string
	Strike      string
	Right       string
	Action      string
	Quantity    int
	OrderType   string
	LimitPrice  string
	Status      string
	Filled      float64
	Remaining   float64
	CreatedTime time.Time
	UpdatedTime time.Time
}

// EventRow is one status change in the journal.
type EventRow struct {
	EventID   string
	OrderID   int64
	Status    string
	Filled    float64
	Remaining float64
	EventTime time.Time
}

// StatusCount is a row from the v_status_summary view.
type StatusCount struct {
	Status     string
	Orders     int
	Contracts  int
	LastUpdate string
}
