package domain

import "time"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Sign is +1 for buys and -1 for sells.
func (s Side) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

type OrderKind string

const (
	KindMarket OrderKind = "MARKET"
	KindLimit  OrderKind = "LIMIT"
	KindStop   OrderKind = "STOP"
)

type OrderState string

const (
	StatePending         OrderState = "PENDING"
	StatePartiallyFilled OrderState = "PARTIALLY_FILLED"
	StateFilled          OrderState = "FILLED"
	StateCancelled       OrderState = "CANCELLED"
	StateRejected        OrderState = "REJECTED"
	StateExpired         OrderState = "EXPIRED"
)

func (s OrderState) Terminal() bool {
	switch s {
	case StateFilled, StateCancelled, StateRejected, StateExpired:
		return true
	}
	return false
}

// OrderPurpose records why the simulator created an order.
type OrderPurpose string

const (
	PurposeManual     OrderPurpose = "manual"
	PurposeEntry      OrderPurpose = "entry"
	PurposeStopLoss   OrderPurpose = "stop_loss"
	PurposeTakeProfit OrderPurpose = "take_profit"
)

// Protective reports whether the order guards an open position.
func (p OrderPurpose) Protective() bool {
	return p == PurposeStopLoss || p == PurposeTakeProfit
}

type Order struct {
	ID             string       `json:"id"`
	Symbol         string       `json:"symbol"`
	Side           Side         `json:"side"`
	Kind           OrderKind    `json:"kind"`
	Purpose        OrderPurpose `json:"purpose"`
	Quantity       float64      `json:"quantity"`
	FilledQuantity float64      `json:"filled_quantity"`
	AvgFillPrice   float64      `json:"avg_fill_price"`
	LimitPrice     float64      `json:"limit_price,omitempty"`
	TriggerPrice   float64      `json:"trigger_price,omitempty"`
	SignalID       string       `json:"signal_id,omitempty"`
	LinkedOrderID  string       `json:"linked_order_id,omitempty"`
	State          OrderState   `json:"state"`
	Reason         string       `json:"reason,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	ExpiresAt      time.Time    `json:"expires_at,omitempty"`
}

func (o *Order) Remaining() float64 {
	r := o.Quantity - o.FilledQuantity
	if r < 1e-9 {
		return 0
	}
	return r
}

func (o *Order) IsTerminal() bool {
	return o.State.Terminal()
}

// Trade is one fill. ExpectedPositionQty is set by fills that must close a
// position in full; the ledger refuses them when the held quantity differs.
// Closing is set by the ledger when the fill reduced an existing position.
type Trade struct {
	ID                  string    `json:"id"`
	OrderID             string    `json:"order_id"`
	Symbol              string    `json:"symbol"`
	Side                Side      `json:"side"`
	Price               float64   `json:"price"`
	Quantity            float64   `json:"quantity"`
	Commission          float64   `json:"commission"`
	RealizedPnL         float64   `json:"realized_pnl"`
	Time                time.Time `json:"time"`
	ExpectedPositionQty *float64  `json:"expected_position_qty,omitempty"`
	Closing             bool      `json:"closing,omitempty"`
}

// SignedQuantity is positive for buys and negative for sells.
func (t *Trade) SignedQuantity() float64 {
	return t.Side.Sign() * t.Quantity
}

// TradeIntent is a sized, risk-approved proposal to open a position.
type TradeIntent struct {
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Quantity   float64 `json:"quantity"`
	EntryPrice float64 `json:"entry_price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Signal     *Signal `json:"-"`
}
