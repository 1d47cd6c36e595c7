package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gw/options-chain/internal/gateway"
	"github.com/gw/options-chain/internal/logger"
	"github.com/gw/options-chain/internal/metrics"
)

var (
	ErrInvalidContract      = errors.New("invalid contract")
	ErrUnsupportedOrderType = errors.New("unsupported order type")
	ErrOrderNotFound        = errors.New("order not found")
	ErrInvalidOrder         = errors.New("invalid order request")
	ErrOrderFinal           = errors.New("order already in a final state")
	ErrRollbackIncomplete   = errors.New("bracket rollback incomplete")
)

const (
	defaultQualifyTimeout = 5 * time.Second
	sinkTimeout           = 5 * time.Second
	rollbackTimeout       = 5 * time.Second
)

type Options struct {
	Sink           EventSink
	Logger         *logger.Logger
	Now            func() time.Time
	QualifyTimeout time.Duration
}

// Ledger places orders through the gateway and caches what the brokerage
// reports about them. Records live for the life of the process.
type Ledger struct {
	gw             gateway.Port
	sink           EventSink
	log            *logger.Logger
	now            func() time.Time
	qualifyTimeout time.Duration

	mu      sync.Mutex
	records map[int64]*Record
}

func NewLedger(gw gateway.Port, opts Options) *Ledger {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.QualifyTimeout <= 0 {
		opts.QualifyTimeout = defaultQualifyTimeout
	}
	return &Ledger{
		gw:             gw,
		sink:           opts.Sink,
		log:            logger.OrGlobal(opts.Logger).With("component", "ledger"),
		now:            opts.Now,
		qualifyTimeout: opts.QualifyTimeout,
		records:        make(map[int64]*Record),
	}
}

// PlaceSingle submits one option order and returns its order id.
func (l *Ledger) PlaceSingle(ctx context.Context, req Request) (id int64, err error) {
	defer func() { metrics.RecordOrder(string(KindSingle), err) }()

	lg, err := req.parse()
	if err != nil {
		return 0, err
	}
	if !l.gw.IsConnected() {
		return 0, gateway.ErrNotConnected
	}

	c, err := l.qualify(ctx, lg.contract())
	if err != nil {
		return 0, err
	}
	trade, err := l.gw.PlaceOrder(ctx, c, lg.order())
	if err != nil {
		return 0, fmt.Errorf("placing %s: %w", c, err)
	}

	rec := l.newRecord(KindSingle, trade)
	l.commit(ctx, rec)
	l.log.Infow("order submitted", "orderId", rec.OrderID, "contract", c.String(),
		"action", rec.Order.Action, "qty", rec.Order.Quantity, "type", rec.Order.Type)
	return rec.OrderID, nil
}

// PlaceMultiLeg submits a combo when every leg shares symbol and expiry,
// otherwise a bracket with leg 0 as parent. Either the whole request goes
// live or nothing does.
func (l *Ledger) PlaceMultiLeg(ctx context.Context, req MultiLegRequest) (PlacedMultiLeg, error) {
	if len(req.Legs) == 0 {
		err := fmt.Errorf("%w: no legs", ErrInvalidOrder)
		metrics.RecordOrder(string(KindCombo), err)
		return PlacedMultiLeg{}, err
	}

	legs := make([]leg, len(req.Legs))
	for i, r := range req.Legs {
		lg, err := r.parse()
		if err != nil {
			metrics.RecordOrder(string(KindCombo), err)
			return PlacedMultiLeg{}, fmt.Errorf("leg %d: %w", i, err)
		}
		legs[i] = lg
	}
	if !l.gw.IsConnected() {
		metrics.RecordOrder(string(KindCombo), gateway.ErrNotConnected)
		return PlacedMultiLeg{}, gateway.ErrNotConnected
	}

	if sameSeries(legs) {
		res, err := l.placeCombo(ctx, legs)
		metrics.RecordOrder(string(KindCombo), err)
		return res, err
	}
	res, err := l.placeBracket(ctx, legs)
	metrics.RecordOrder("bracket", err)
	return res, err
}

func (l *Ledger) placeCombo(ctx context.Context, legs []leg) (PlacedMultiLeg, error) {
	bag := gateway.Contract{
		Symbol:   legs[0].symbol,
		SecType:  gateway.Combo,
		Exchange: "SMART",
		Currency: "USD",
	}
	for i, lg := range legs {
		c, err := l.qualify(ctx, lg.contract())
		if err != nil {
			return PlacedMultiLeg{}, fmt.Errorf("leg %d: %w", i, err)
		}
		bag.ComboLegs = append(bag.ComboLegs, gateway.ComboLeg{
			ConID:    c.ConID,
			Ratio:    lg.quantity,
			Action:   lg.action,
			Exchange: "SMART",
		})
	}

	order := gateway.Order{Action: gateway.Buy, Quantity: 1, Type: gateway.Market, Transmit: true}
	trade, err := l.gw.PlaceOrder(ctx, bag, order)
	if err != nil {
		return PlacedMultiLeg{}, fmt.Errorf("placing combo: %w", err)
	}

	rec := l.newRecord(KindCombo, trade)
	l.commit(ctx, rec)
	l.log.Infow("combo submitted", "orderId", rec.OrderID, "legs", len(legs))
	return PlacedMultiLeg{OrderID: rec.OrderID, ChildIDs: []int64{}}, nil
}

// placeBracket sends the parent untransmitted and each child linked to it.
// Only the last child transmits, which releases the whole group. Any
// failure cancels what was already sent.
func (l *Ledger) placeBracket(ctx context.Context, legs []leg) (PlacedMultiLeg, error) {
	pc, err := l.qualify(ctx, legs[0].contract())
	if err != nil {
		return PlacedMultiLeg{}, fmt.Errorf("leg 0: %w", err)
	}
	po := legs[0].order()
	po.Transmit = false
	pt, err := l.gw.PlaceOrder(ctx, pc, po)
	if err != nil {
		return PlacedMultiLeg{}, fmt.Errorf("placing bracket parent: %w", err)
	}

	parent := l.newRecord(KindBracketParent, pt)
	staged := []*Record{parent}

	for i := 1; i < len(legs); i++ {
		c, err := l.qualify(ctx, legs[i].contract())
		if err != nil {
			err = fmt.Errorf("leg %d: %w", i, err)
			if rbErr := l.rollback(ctx, staged); rbErr != nil {
				return PlacedMultiLeg{}, fmt.Errorf("%w; %w", rbErr, err)
			}
			return PlacedMultiLeg{}, err
		}
		o := legs[i].order()
		o.ParentID = parent.OrderID
		o.Transmit = i == len(legs)-1

		t, err := l.gw.PlaceOrder(ctx, c, o)
		if err != nil {
			err = fmt.Errorf("placing bracket leg %d: %w", i, err)
			if rbErr := l.rollback(ctx, staged); rbErr != nil {
				return PlacedMultiLeg{}, fmt.Errorf("%w; %w", rbErr, err)
			}
			return PlacedMultiLeg{}, err
		}
		child := l.newRecord(KindBracketChild, t)
		child.ParentID = parent.OrderID
		parent.ChildIDs = append(parent.ChildIDs, child.OrderID)
		staged = append(staged, child)
	}

	for _, r := range staged {
		l.commit(ctx, r)
	}
	l.log.Infow("bracket submitted", "orderId", parent.OrderID, "children", parent.ChildIDs)
	return PlacedMultiLeg{OrderID: parent.OrderID, ChildIDs: append([]int64{}, parent.ChildIDs...)}, nil
}

// rollback cancels staged bracket orders, newest first. The cancels run
// detached from ctx, which may be the reason the bracket failed. Only
// orders the gateway accepted a cancel for are recorded as Cancelled; the
// rest stay Submitted and are named in the returned error.
func (l *Ledger) rollback(ctx context.Context, staged []*Record) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	var orphans []int64
	for i := len(staged) - 1; i >= 0; i-- {
		r := staged[i]
		if err := l.gw.CancelOrder(cctx, r.Order); err != nil {
			l.log.Errorw("bracket rollback cancel failed", "orderId", r.OrderID, "err", err)
			orphans = append(orphans, r.OrderID)
		} else {
			r.Status = StatusCancelled
		}
		r.UpdatedAt = l.now()
		l.commit(cctx, r)
	}

	if len(orphans) > 0 {
		return fmt.Errorf("%w: orders %v still held at the gateway", ErrRollbackIncomplete, orphans)
	}
	l.log.Warnw("bracket rolled back", "orderId", staged[0].OrderID, "orders", len(staged))
	return nil
}

// Cancel requests cancellation and marks the record Cancelling. The
// brokerage confirms asynchronously.
func (l *Ledger) Cancel(ctx context.Context, id int64) (err error) {
	defer func() { metrics.RecordOrder("cancel", err) }()

	l.mu.Lock()
	rec, ok := l.records[id]
	var order gateway.Order
	var status Status
	if ok {
		order, status = rec.Order, rec.Status
	}
	l.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	if !l.gw.IsConnected() {
		return gateway.ErrNotConnected
	}
	if status.Final() {
		return fmt.Errorf("%w: %d is %s", ErrOrderFinal, id, status)
	}

	if err := l.gw.CancelOrder(ctx, order); err != nil {
		return fmt.Errorf("cancelling %d: %w", id, err)
	}

	if ev, changed := l.transition(id, StatusCancelling); changed {
		l.emit(ctx, ev)
	}
	l.log.Infow("cancel requested", "orderId", id)
	return nil
}

// Status reports the order's state, taken from the live trade handle when
// the gateway provides one and from the cached record otherwise.
func (l *Ledger) Status(ctx context.Context, id int64) (Report, error) {
	l.mu.Lock()
	rec, ok := l.records[id]
	if !ok {
		l.mu.Unlock()
		return Report{}, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}
	trade := rec.trade
	cached := Report{OrderID: id, Status: rec.Status, Remaining: float64(rec.Order.Quantity)}
	if rec.Status == StatusFilled {
		cached.Filled, cached.Remaining = cached.Remaining, 0
	}
	l.mu.Unlock()

	if trade == nil {
		return cached, nil
	}

	live := trade.State()
	if s, ok := fromBroker(live.Status); ok {
		if ev, changed := l.transitionWith(id, s, live.Filled, live.Remaining); changed {
			l.emit(ctx, ev)
		}
	}

	l.mu.Lock()
	status := rec.Status
	l.mu.Unlock()
	return Report{OrderID: id, Status: status, Filled: live.Filled, Remaining: live.Remaining}, nil
}

// Get returns a copy of the record for id.
func (l *Ledger) Get(id int64) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[id]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// Records returns copies of every record, ordered by id.
func (l *Ledger) Records() []Record {
	l.mu.Lock()
	out := make([]Record, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, r.clone())
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

func (l *Ledger) qualify(ctx context.Context, c gateway.Contract) (gateway.Contract, error) {
	qctx, cancel := context.WithTimeout(ctx, l.qualifyTimeout)
	defer cancel()

	out, err := l.gw.QualifyContracts(qctx, c)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return gateway.Contract{}, fmt.Errorf("%w: qualifying %s", gateway.ErrGatewayTimeout, c)
		}
		return gateway.Contract{}, fmt.Errorf("qualifying %s: %w", c, err)
	}
	if len(out) == 0 || !out[0].Qualified() {
		return gateway.Contract{}, fmt.Errorf("%w: %s", ErrInvalidContract, c)
	}
	return out[0], nil
}

func (l *Ledger) newRecord(kind Kind, t *gateway.Trade) *Record {
	now := l.now()
	return &Record{
		OrderID:   t.Order.ID,
		Kind:      kind,
		Contract:  t.Contract,
		Order:     t.Order,
		Status:    StatusSubmitted,
		CreatedAt: now,
		UpdatedAt: now,
		trade:     t,
	}
}

func (l *Ledger) commit(ctx context.Context, r *Record) {
	l.mu.Lock()
	l.records[r.OrderID] = r
	snap := r.clone()
	l.mu.Unlock()

	remaining := float64(snap.Order.Quantity)
	if snap.Status.Final() {
		remaining = 0
	}
	l.emit(ctx, eventFor(snap, 0, remaining))
}

func (l *Ledger) transition(id int64, to Status) (Event, bool) {
	l.mu.Lock()
	rec := l.records[id]
	qty := 0.0
	if rec != nil {
		qty = float64(rec.Order.Quantity)
	}
	l.mu.Unlock()
	return l.transitionWith(id, to, 0, qty)
}

func (l *Ledger) transitionWith(id int64, to Status, filled, remaining float64) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[id]
	if !ok || !canMove(rec.Status, to) {
		return Event{}, false
	}
	rec.Status = to
	rec.UpdatedAt = l.now()
	return eventFor(rec.clone(), filled, remaining), true
}

func (l *Ledger) emit(ctx context.Context, ev Event) {
	if l.sink == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	if err := l.sink.RecordOrderEvent(sctx, ev); err != nil {
		l.log.Warnw("order event sink failed", "orderId", ev.OrderID, "status", ev.Status, "err", err)
	}
}

func sameSeries(legs []leg) bool {
	for _, lg := range legs[1:] {
		if lg.symbol != legs[0].symbol || lg.expiry != legs[0].expiry {
			return false
		}
	}
	return true
}
