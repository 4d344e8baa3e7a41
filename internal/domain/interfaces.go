package domain

import (
	"context"
	"time"
)

// MarketData supplies bars and live quotes for instruments.
type MarketData interface {
	// GetBars returns bars oldest first. Unknown symbols and unreachable
	// providers fail with ErrDataUnavailable.
	GetBars(ctx context.Context, symbol, period string) ([]PriceBar, error)
	// GetQuote fails with ErrStaleQuote when the quote is older than the
	// provider's freshness threshold.
	GetQuote(ctx context.Context, symbol string) (Quote, error)
}

// Clock is implemented by market data sources that carry their own time,
// such as a replay of recorded bars. Now returns the zero time until the
// source has data.
type Clock interface {
	Now() time.Time
}

// SignalRepository defines storage operations for signals.
type SignalRepository interface {
	SaveSignal(ctx context.Context, signal *Signal) error
	ListSignals(ctx context.Context, symbol string, limit int) ([]*Signal, error)
}

// OrderRepository defines storage operations for simulated orders.
type OrderRepository interface {
	SaveOrder(ctx context.Context, order *Order) error
	ListOrders(ctx context.Context, limit int) ([]*Order, error)
	// ListLiveOrders returns every PENDING or PARTIALLY_FILLED order,
	// oldest first, with no limit.
	ListLiveOrders(ctx context.Context) ([]*Order, error)
}

// TradeRepository defines storage operations for fills.
type TradeRepository interface {
	SaveTrade(ctx context.Context, trade *Trade) error
	ListTrades(ctx context.Context, limit int) ([]*Trade, error)
	ListTradeIDs(ctx context.Context) ([]string, error)
}

// PortfolioRepository persists portfolio snapshots. LoadPortfolio returns
// ErrNoPortfolio when nothing has been saved yet.
type PortfolioRepository interface {
	LoadPortfolio(ctx context.Context) (*Portfolio, error)
	SavePortfolio(ctx context.Context, p *Portfolio) error
}

// Store groups every repository the engine writes to.
type Store interface {
	SignalRepository
	OrderRepository
	TradeRepository
	PortfolioRepository
}
