package domain

import "errors"

var (
	ErrDataUnavailable     = errors.New("data unavailable")
	ErrStaleQuote          = errors.New("stale quote")
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrInsufficientCash    = errors.New("insufficient cash")
	ErrLedgerInconsistency = errors.New("ledger inconsistency")
	ErrOrderTerminal       = errors.New("already terminal")
	ErrOrderNotFound       = errors.New("order not found")
	ErrNoPortfolio         = errors.New("no saved portfolio")
)

// Order rejection reasons carried on Order.Reason.
const (
	RejectStaleQuote       = "stale or missing quote"
	RejectInsufficientCash = "insufficient cash"
	RejectBelowMinUnit     = "below minimum unit"
	RejectInvalidQuantity  = "invalid quantity"
	RejectLimitRequired    = "limit price required"
	RejectTriggerRequired  = "trigger price required"
	RejectInvalidSide      = "invalid side"
	RejectInvalidKind      = "invalid order kind"
	RejectLedger           = "ledger inconsistency"
	RejectNoPosition       = "no position to protect"
	RejectNoSymbol         = "missing instrument"
)

// RiskVeto is the non-error outcome of a refused trade.
type RiskVeto struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

func (v RiskVeto) String() string {
	return v.Symbol + ": " + v.Reason
}

// Veto reasons, in the order the risk manager checks them.
const (
	VetoNoSignal      = "no actionable signal"
	VetoLowConfidence = "confidence too low"
	VetoDailyLoss     = "daily loss limit reached"
	VetoPositionLimit = "position limit reached"
	VetoBelowMinUnit  = "size below minimum unit"
	VetoPositionOpen  = "position already open"
	VetoInvalidPrice  = "invalid price"
)
