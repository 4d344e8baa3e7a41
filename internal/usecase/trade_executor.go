package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/paper_signal_engine/internal/domain"
	"github.com/vitos/paper_signal_engine/pkg/id"
	"go.uber.org/zap"
)

type ExecutionConfig struct {
	SlippagePct     float64       `yaml:"slippage_pct"`
	CommissionPct   float64       `yaml:"commission_pct"`
	CommissionMin   float64       `yaml:"commission_min"`
	QuoteFreshness  time.Duration `yaml:"quote_freshness"`
	LimitTTL        time.Duration `yaml:"limit_ttl"`
	MinQuantity     float64       `yaml:"min_quantity"`
	MaxFillQuantity float64       `yaml:"max_fill_quantity"`
	CashDecimals    int32         `yaml:"cash_decimals"`
}

func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		SlippagePct:    0.0005,
		CommissionPct:  0.001,
		CommissionMin:  10,
		QuoteFreshness: 30 * time.Second,
		LimitTTL:       time.Hour,
		MinQuantity:    1,
		CashDecimals:   2,
	}
}

func (c ExecutionConfig) Validate() error {
	switch {
	case c.SlippagePct < 0 || c.SlippagePct >= 1:
		return fmt.Errorf("slippage_pct must be within [0, 1), got %v", c.SlippagePct)
	case c.CommissionPct < 0 || c.CommissionPct >= 1:
		return fmt.Errorf("commission_pct must be within [0, 1), got %v", c.CommissionPct)
	case c.CommissionMin < 0:
		return fmt.Errorf("commission_min must not be negative, got %v", c.CommissionMin)
	case c.QuoteFreshness <= 0:
		return fmt.Errorf("quote_freshness must be positive, got %s", c.QuoteFreshness)
	case c.LimitTTL <= 0:
		return fmt.Errorf("limit_ttl must be positive, got %s", c.LimitTTL)
	case c.MinQuantity < 0 || c.MaxFillQuantity < 0:
		return errors.New("min_quantity and max_fill_quantity must not be negative")
	}
	return nil
}

// OrderRequest describes a manual order. Price is the limit price for LIMIT
// orders and the trigger price for STOP orders.
type OrderRequest struct {
	Symbol   string           `json:"symbol"`
	Side     domain.Side      `json:"side"`
	Kind     domain.OrderKind `json:"kind"`
	Quantity float64          `json:"quantity"`
	Price    float64          `json:"price,omitempty"`
}

type bracket struct {
	stopLoss   float64
	takeProfit float64
}

// outbox collects copies of everything changed under the executor lock so
// persistence and notification happen after it is released.
type outbox struct {
	orders []domain.Order
	trades []domain.Trade
}

func (b *outbox) order(o *domain.Order) { b.orders = append(b.orders, *o) }
func (b *outbox) trade(t *domain.Trade) { b.trades = append(b.trades, *t) }

// TradeExecutor simulates order handling against quotes and books every
// fill in the ledger.
type TradeExecutor struct {
	cfg     ExecutionConfig
	market  domain.MarketData
	ledger  *Ledger
	store   *resilientStore
	events  *eventBus
	logger  *zap.Logger
	timeNow func() time.Time

	mu       sync.Mutex
	orders   map[string]*domain.Order
	brackets map[string]bracket
}

func NewTradeExecutor(cfg ExecutionConfig, market domain.MarketData, ledger *Ledger, store domain.Store, logger *zap.Logger) *TradeExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return newTradeExecutor(cfg, market, ledger, newResilientStore(store, logger), &eventBus{}, logger)
}

func newTradeExecutor(cfg ExecutionConfig, market domain.MarketData, ledger *Ledger, store *resilientStore, bus *eventBus, logger *zap.Logger) *TradeExecutor {
	return &TradeExecutor{
		cfg:      cfg,
		market:   market,
		ledger:   ledger,
		store:    store,
		events:   bus,
		logger:   logger,
		timeNow:  time.Now,
		orders:   make(map[string]*domain.Order),
		brackets: make(map[string]bracket),
	}
}

// Restore re-registers live orders from an earlier session. Terminal and
// already known orders are ignored. Brackets of pending entries are not
// persisted, so a restored entry opens without protection.
func (e *TradeExecutor) Restore(orders []domain.Order) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for i := range orders {
		o := orders[i]
		if o.IsTerminal() {
			continue
		}
		if _, ok := e.orders[o.ID]; ok {
			continue
		}
		e.orders[o.ID] = &o
		n++
	}
	return n
}

// Subscribe registers a handler for order and trade events.
func (e *TradeExecutor) Subscribe(h EventHandler) {
	e.events.Subscribe(h)
}

// Place submits a manual order. The returned order is never nil; failures
// are reported as REJECTED with a reason. A non-nil error is returned only
// when the ledger refused a fill as inconsistent.
func (e *TradeExecutor) Place(ctx context.Context, req OrderRequest) (*domain.Order, error) {
	return e.place(ctx, req, domain.PurposeManual, "", nil)
}

// ExecuteIntent opens a position for a risk-approved intent with a MARKET
// order and attaches stop-loss and take-profit orders once it fills.
func (e *TradeExecutor) ExecuteIntent(ctx context.Context, intent *domain.TradeIntent) (*domain.Order, error) {
	signalID := ""
	if intent.Signal != nil {
		signalID = intent.Signal.ID
	}
	req := OrderRequest{Symbol: intent.Symbol, Side: intent.Side, Kind: domain.KindMarket, Quantity: intent.Quantity}
	return e.place(ctx, req, domain.PurposeEntry, signalID, &bracket{stopLoss: intent.StopLoss, takeProfit: intent.TakeProfit})
}

func (e *TradeExecutor) place(ctx context.Context, req OrderRequest, purpose domain.OrderPurpose, signalID string, br *bracket) (*domain.Order, error) {
	now := e.timeNow()
	o := &domain.Order{
		ID:        id.New(),
		Symbol:    req.Symbol,
		Side:      req.Side,
		Kind:      req.Kind,
		Purpose:   purpose,
		Quantity:  req.Quantity,
		SignalID:  signalID,
		State:     domain.StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	reason := e.validate(req)
	var quote domain.Quote
	var quoteErr error
	if reason == "" && req.Kind == domain.KindMarket {
		quote, quoteErr = e.market.GetQuote(ctx, req.Symbol)
		if quoteErr != nil {
			e.logger.Warn("Quote unavailable for market order",
				zap.String("symbol", req.Symbol), zap.Error(quoteErr))
		}
	}

	var box outbox
	var err error
	e.mu.Lock()
	e.orders[o.ID] = o
	switch {
	case reason != "":
		e.transition(o, domain.StateRejected, reason, now, &box)
	case req.Kind == domain.KindMarket:
		if quoteErr != nil || !e.fresh(quote, now) {
			e.transition(o, domain.StateRejected, domain.RejectStaleQuote, now, &box)
			break
		}
		if br != nil {
			e.brackets[o.ID] = *br
		}
		err = e.fill(o, e.slipped(o.Side, quote.Price), now, &box)
	case req.Kind == domain.KindLimit:
		o.LimitPrice = req.Price
		o.ExpiresAt = now.Add(e.cfg.LimitTTL)
		box.order(o)
	case req.Kind == domain.KindStop:
		o.TriggerPrice = req.Price
		box.order(o)
	}
	out := *o
	e.mu.Unlock()

	e.flush(ctx, &box)
	return &out, err
}

func (e *TradeExecutor) validate(req OrderRequest) string {
	switch {
	case req.Symbol == "":
		return domain.RejectNoSymbol
	case !req.Side.Valid():
		return domain.RejectInvalidSide
	case req.Kind != domain.KindMarket && req.Kind != domain.KindLimit && req.Kind != domain.KindStop:
		return domain.RejectInvalidKind
	case req.Quantity <= 0 || math.IsNaN(req.Quantity) || math.IsInf(req.Quantity, 0):
		return domain.RejectInvalidQuantity
	case req.Quantity < e.cfg.MinQuantity:
		return domain.RejectBelowMinUnit
	case req.Kind == domain.KindLimit && !(req.Price > 0):
		return domain.RejectLimitRequired
	case req.Kind == domain.KindStop && !(req.Price > 0):
		return domain.RejectTriggerRequired
	}
	return ""
}

func (e *TradeExecutor) fresh(q domain.Quote, now time.Time) bool {
	return q.Price > 0 && !q.Time.IsZero() && q.Age(now) <= e.cfg.QuoteFreshness
}

func (e *TradeExecutor) slipped(side domain.Side, price float64) float64 {
	return price * (1 + side.Sign()*e.cfg.SlippagePct)
}

func (e *TradeExecutor) commission(notional float64) float64 {
	c := decimal.NewFromFloat(notional).Mul(decimal.NewFromFloat(e.cfg.CommissionPct))
	floor := decimal.NewFromFloat(e.cfg.CommissionMin)
	if c.LessThan(floor) {
		c = floor
	}
	return c.Round(e.cfg.CashDecimals).InexactFloat64()
}

// transition moves o to state unless it is already terminal.
func (e *TradeExecutor) transition(o *domain.Order, state domain.OrderState, reason string, now time.Time, box *outbox) bool {
	if o.IsTerminal() {
		return false
	}
	o.State = state
	if reason != "" {
		o.Reason = reason
	}
	o.UpdatedAt = now
	box.order(o)
	if state.Terminal() {
		delete(e.brackets, o.ID)
	}
	return true
}

// fill books one fill of o at price. Must be called with mu held.
func (e *TradeExecutor) fill(o *domain.Order, price float64, now time.Time, box *outbox) error {
	qty := o.Remaining()
	var expected *float64
	if o.Purpose.Protective() {
		pos, ok := e.ledger.Position(o.Symbol)
		if !ok || pos.Side() == o.Side {
			e.transition(o, domain.StateCancelled, domain.RejectNoPosition, now, box)
			return nil
		}
		held := pos.Quantity
		expected = &held
		qty = math.Abs(held)
		o.Quantity = o.FilledQuantity + qty
	} else if e.cfg.MaxFillQuantity > 0 && qty > e.cfg.MaxFillQuantity {
		qty = e.cfg.MaxFillQuantity
	}

	t := &domain.Trade{
		ID:                  id.New(),
		OrderID:             o.ID,
		Symbol:              o.Symbol,
		Side:                o.Side,
		Price:               price,
		Quantity:            qty,
		Commission:          e.commission(price * qty),
		Time:                now,
		ExpectedPositionQty: expected,
	}
	if _, err := e.ledger.Apply(t); err != nil {
		if errors.Is(err, domain.ErrInsufficientCash) {
			e.logger.Warn("Order refused for cash",
				zap.String("order_id", o.ID),
				zap.String("symbol", o.Symbol),
				zap.Error(err))
			e.abandon(o, domain.RejectInsufficientCash, now, box)
			return nil
		}
		e.logger.Error("Ledger refused fill",
			zap.String("order_id", o.ID),
			zap.String("symbol", o.Symbol),
			zap.Error(err))
		e.abandon(o, domain.RejectLedger, now, box)
		return fmt.Errorf("fill order %s: %w", o.ID, err)
	}

	filled := o.FilledQuantity + qty
	o.AvgFillPrice = (o.AvgFillPrice*o.FilledQuantity + price*qty) / filled
	o.FilledQuantity = filled
	state := domain.StatePartiallyFilled
	if o.Remaining() == 0 {
		state = domain.StateFilled
	}
	e.logger.Info("Order filled",
		zap.String("order_id", o.ID),
		zap.String("symbol", o.Symbol),
		zap.String("side", string(o.Side)),
		zap.String("purpose", string(o.Purpose)),
		zap.Float64("qty", qty),
		zap.Float64("price", price),
		zap.Float64("commission", t.Commission),
		zap.String("state", string(state)))

	// Attach protection before the transition drops the bracket.
	if br, ok := e.brackets[o.ID]; ok && o.Purpose == domain.PurposeEntry {
		delete(e.brackets, o.ID)
		e.protect(o, br, now, box)
	}
	box.trade(t)
	e.transition(o, state, "", now, box)
	e.afterFill(o, now, box)
	return nil
}

// abandon ends an order that could not be filled any further.
func (e *TradeExecutor) abandon(o *domain.Order, reason string, now time.Time, box *outbox) {
	if o.FilledQuantity == 0 {
		e.transition(o, domain.StateRejected, reason, now, box)
		return
	}
	e.transition(o, domain.StateCancelled, reason, now, box)
}

func (e *TradeExecutor) protect(entry *domain.Order, br bracket, now time.Time, box *outbox) {
	pos, ok := e.ledger.Position(entry.Symbol)
	if !ok {
		return
	}
	leg := func(purpose domain.OrderPurpose, trigger float64) *domain.Order {
		if trigger <= 0 {
			return nil
		}
		o := &domain.Order{
			ID:           id.New(),
			Symbol:       entry.Symbol,
			Side:         entry.Side.Opposite(),
			Kind:         domain.KindStop,
			Purpose:      purpose,
			Quantity:     math.Abs(pos.Quantity),
			TriggerPrice: trigger,
			SignalID:     entry.SignalID,
			State:        domain.StatePending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		e.orders[o.ID] = o
		return o
	}
	sl := leg(domain.PurposeStopLoss, br.stopLoss)
	tp := leg(domain.PurposeTakeProfit, br.takeProfit)
	if sl != nil && tp != nil {
		sl.LinkedOrderID = tp.ID
		tp.LinkedOrderID = sl.ID
	}
	for _, o := range []*domain.Order{sl, tp} {
		if o != nil {
			box.order(o)
		}
	}
	e.ledger.SetStops(entry.Symbol, br.stopLoss, br.takeProfit)
}

// afterFill cancels protection that no longer guards anything.
func (e *TradeExecutor) afterFill(o *domain.Order, now time.Time, box *outbox) {
	if o.Purpose.Protective() && o.State == domain.StateFilled {
		if sib, ok := e.orders[o.LinkedOrderID]; ok {
			e.transition(sib, domain.StateCancelled, "linked order filled", now, box)
		}
	}
	if _, open := e.ledger.Position(o.Symbol); open {
		return
	}
	for _, other := range e.orders {
		if other.Symbol == o.Symbol && other.Purpose.Protective() && !other.IsTerminal() {
			e.transition(other, domain.StateCancelled, domain.RejectNoPosition, now, box)
		}
	}
}

func crossesLimit(o *domain.Order, price float64) bool {
	if o.Side == domain.SideBuy {
		return price <= o.LimitPrice
	}
	return price >= o.LimitPrice
}

// triggered reports whether price activates a STOP order. Stop-loss and
// manual stops fire against the order side; take-profits fire with it.
func triggered(o *domain.Order, price float64) bool {
	if o.Purpose == domain.PurposeTakeProfit {
		if o.Side == domain.SideSell {
			return price >= o.TriggerPrice
		}
		return price <= o.TriggerPrice
	}
	if o.Side == domain.SideSell {
		return price <= o.TriggerPrice
	}
	return price >= o.TriggerPrice
}

// OnQuote advances every live order for the quote's symbol using this quote
// only. Stale quotes change nothing.
func (e *TradeExecutor) OnQuote(ctx context.Context, q domain.Quote) error {
	now := e.timeNow()
	if !e.fresh(q, now) {
		e.logger.Debug("Ignoring stale quote",
			zap.String("symbol", q.Symbol),
			zap.Time("quote_time", q.Time))
		return nil
	}

	var box outbox
	var firstErr error
	e.mu.Lock()
	for _, o := range e.liveLocked(q.Symbol) {
		if err := e.evaluate(o, q.Price, now, &box); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.mu.Unlock()

	e.flush(ctx, &box)
	return firstErr
}

func (e *TradeExecutor) evaluate(o *domain.Order, price float64, now time.Time, box *outbox) error {
	if o.IsTerminal() {
		return nil
	}
	switch o.Kind {
	case domain.KindLimit:
		if !o.ExpiresAt.IsZero() && !now.Before(o.ExpiresAt) {
			e.transition(o, domain.StateExpired, "time to live elapsed", now, box)
			return nil
		}
		if crossesLimit(o, price) {
			return e.fill(o, o.LimitPrice, now, box)
		}
	case domain.KindStop:
		if o.Purpose.Protective() {
			if _, ok := e.ledger.Position(o.Symbol); !ok {
				e.transition(o, domain.StateCancelled, domain.RejectNoPosition, now, box)
				return nil
			}
		}
		if triggered(o, price) {
			return e.fill(o, e.slipped(o.Side, price), now, box)
		}
	case domain.KindMarket:
		return e.fill(o, e.slipped(o.Side, price), now, box)
	}
	return nil
}

// ExpireOrders moves LIMIT orders past their time to live to EXPIRED.
func (e *TradeExecutor) ExpireOrders(ctx context.Context) int {
	now := e.timeNow()
	var box outbox
	n := 0
	e.mu.Lock()
	for _, o := range e.orders {
		if o.Kind == domain.KindLimit && !o.IsTerminal() && !o.ExpiresAt.IsZero() && !now.Before(o.ExpiresAt) {
			if e.transition(o, domain.StateExpired, "time to live elapsed", now, &box) {
				n++
			}
		}
	}
	e.mu.Unlock()
	e.flush(ctx, &box)
	return n
}

// Cancel cancels a live order. Terminal orders are left as they are and
// ErrOrderTerminal is returned with their current state.
func (e *TradeExecutor) Cancel(ctx context.Context, orderID string) (*domain.Order, error) {
	now := e.timeNow()
	var box outbox
	e.mu.Lock()
	o, ok := e.orders[orderID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("cancel %s: %w", orderID, domain.ErrOrderNotFound)
	}
	if o.IsTerminal() {
		out := *o
		e.mu.Unlock()
		return &out, fmt.Errorf("cancel %s (%s): %w", orderID, out.State, domain.ErrOrderTerminal)
	}
	e.transition(o, domain.StateCancelled, "cancelled by request", now, &box)
	out := *o
	e.mu.Unlock()

	e.flush(ctx, &box)
	return &out, nil
}

func (e *TradeExecutor) liveLocked(symbol string) []*domain.Order {
	var live []*domain.Order
	for _, o := range e.orders {
		if o.Symbol == symbol && !o.IsTerminal() {
			live = append(live, o)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].ID < live[j].ID })
	return live
}

// LiveSymbols lists instruments with at least one non-terminal order.
func (e *TradeExecutor) LiveSymbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, o := range e.orders {
		if !o.IsTerminal() && !seen[o.Symbol] {
			seen[o.Symbol] = true
			out = append(out, o.Symbol)
		}
	}
	sort.Strings(out)
	return out
}

func (e *TradeExecutor) Order(orderID string) (domain.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// Orders returns copies of all orders, oldest first.
func (e *TradeExecutor) Orders() []domain.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Order, 0, len(e.orders))
	for _, o := range e.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *TradeExecutor) flush(ctx context.Context, box *outbox) {
	for i := range box.trades {
		t := box.trades[i]
		e.store.SaveTrade(ctx, &t)
		e.events.publish(Event{Type: EventTrade, Time: t.Time, Data: t})
	}
	for i := range box.orders {
		o := box.orders[i]
		e.store.SaveOrder(ctx, &o)
		e.events.publish(Event{Type: EventOrder, Time: o.UpdatedAt, Data: o})
	}
}
