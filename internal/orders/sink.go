package orders

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Event is emitted on every record creation and status change.
type Event struct {
	OrderID    int64           `json:"orderId"`
	ParentID   int64           `json:"parentId,omitempty"`
	Kind       Kind            `json:"kind"`
	Symbol     string          `json:"symbol"`
	Expiry     string          `json:"expiry,omitempty"`
	Strike     decimal.Decimal `json:"strike"`
	Right      string          `json:"right,omitempty"`
	Action     string          `json:"action"`
	Quantity   int             `json:"quantity"`
	OrderType  string          `json:"orderType"`
	LimitPrice decimal.Decimal `json:"limitPrice"`
	Status     Status          `json:"status"`
	Filled     float64         `json:"filled"`
	Remaining  float64         `json:"remaining"`
	Time       time.Time       `json:"time"`
}

// EventSink receives ledger events. Failures are logged by the ledger and
// never fail the order operation.
type EventSink interface {
	RecordOrderEvent(ctx context.Context, ev Event) error
}

// MultiSink fans an event out to every sink.
type MultiSink []EventSink

func (m MultiSink) RecordOrderEvent(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.RecordOrderEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func eventFor(r Record, filled, remaining float64) Event {
	return Event{
		OrderID:    r.OrderID,
		ParentID:   r.ParentID,
		Kind:       r.Kind,
		Symbol:     r.Contract.Symbol,
		Expiry:     r.Contract.Expiry,
		Strike:     r.Contract.Strike,
		Right:      string(r.Contract.Right),
		Action:     string(r.Order.Action),
		Quantity:   r.Order.Quantity,
		OrderType:  string(r.Order.Type),
		LimitPrice: r.Order.LimitPrice,
		Status:     r.Status,
		Filled:     filled,
		Remaining:  remaining,
		Time:       r.UpdatedAt,
	}
}
