package orders

import (
	"time"

	"github.com/gw/options-chain/internal/gateway"
)

type Status string

const (
	StatusSubmitted  Status = "Submitted"
	StatusCancelling Status = "Cancelling"
	StatusFilled     Status = "Filled"
	StatusCancelled  Status = "Cancelled"
	StatusRejected   Status = "Rejected"
)

func (s Status) Final() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// canMove reports whether the ledger accepts a transition. Final states do
// not move and Cancelling never goes back to Submitted.
func canMove(from, to Status) bool {
	if from == to || from.Final() {
		return false
	}
	if from == StatusCancelling && to == StatusSubmitted {
		return false
	}
	return true
}

// fromBroker maps a brokerage status string onto the ledger's states.
func fromBroker(s string) (Status, bool) {
	switch s {
	case gateway.StatusPendingSubmit, gateway.StatusPreSubmitted, gateway.StatusSubmitted:
		return StatusSubmitted, true
	case gateway.StatusPendingCancel:
		return StatusCancelling, true
	case gateway.StatusCancelled, gateway.StatusAPICancelled:
		return StatusCancelled, true
	case gateway.StatusFilled:
		return StatusFilled, true
	case gateway.StatusInactive:
		return StatusRejected, true
	}
	return "", false
}

type Kind string

const (
	KindSingle        Kind = "single"
	KindCombo         Kind = "combo"
	KindBracketParent Kind = "bracket_parent"
	KindBracketChild  Kind = "bracket_child"
)

// Record is the ledger's view of one brokerage order.
type Record struct {
	OrderID   int64
	Kind      Kind
	Contract  gateway.Contract
	Order     gateway.Order
	Status    Status
	ParentID  int64
	ChildIDs  []int64
	CreatedAt time.Time
	UpdatedAt time.Time

	trade *gateway.Trade
}

func (r *Record) clone() Record {
	out := *r
	out.ChildIDs = append([]int64(nil), r.ChildIDs...)
	out.trade = nil
	return out
}

// Report is the answer to a status query.
type Report struct {
	OrderID   int64   `json:"orderId"`
	Status    Status  `json:"status"`
	Filled    float64 `json:"filled"`
	Remaining float64 `json:"remaining"`
}

// PlacedMultiLeg identifies the orders created for a multi-leg request.
// ChildIDs is empty for combos.
type PlacedMultiLeg struct {
	OrderID  int64   `json:"orderId"`
	ChildIDs []int64 `json:"childIds"`
}
