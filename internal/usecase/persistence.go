package usecase

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/vitos/paper_signal_engine/internal/domain"
	"go.uber.org/zap"
)

// resilientStore forwards writes to the configured store until the first
// failure, after which the session continues in memory only.
type resilientStore struct {
	store    domain.Store
	logger   *zap.Logger
	disabled atomic.Bool
}

func newResilientStore(store domain.Store, logger *zap.Logger) *resilientStore {
	r := &resilientStore{store: store, logger: logger}
	if store == nil {
		r.disabled.Store(true)
	}
	return r
}

// Degraded reports whether persistence has been switched off.
func (r *resilientStore) Degraded() bool {
	return r.disabled.Load()
}

func (r *resilientStore) fail(op string, err error) {
	if r.disabled.CompareAndSwap(false, true) {
		r.logger.Warn("Persistence unavailable, continuing in memory",
			zap.String("op", op), zap.Error(err))
	}
}

func (r *resilientStore) SaveSignal(ctx context.Context, s *domain.Signal) {
	if r.Degraded() {
		return
	}
	if err := r.store.SaveSignal(ctx, s); err != nil {
		r.fail("save signal", err)
	}
}

func (r *resilientStore) SaveOrder(ctx context.Context, o *domain.Order) {
	if r.Degraded() {
		return
	}
	if err := r.store.SaveOrder(ctx, o); err != nil {
		r.fail("save order", err)
	}
}

func (r *resilientStore) SaveTrade(ctx context.Context, t *domain.Trade) {
	if r.Degraded() {
		return
	}
	if err := r.store.SaveTrade(ctx, t); err != nil {
		r.fail("save trade", err)
	}
}

func (r *resilientStore) SavePortfolio(ctx context.Context, p *domain.Portfolio) {
	if r.Degraded() {
		return
	}
	if err := r.store.SavePortfolio(ctx, p); err != nil {
		r.fail("save portfolio", err)
	}
}

// LiveOrders returns every saved order that had not reached a terminal
// state.
func (r *resilientStore) LiveOrders(ctx context.Context) []domain.Order {
	if r.Degraded() {
		return nil
	}
	orders, err := r.store.ListLiveOrders(ctx)
	if err != nil {
		r.fail("list live orders", err)
		return nil
	}
	live := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		if !o.IsTerminal() {
			live = append(live, *o)
		}
	}
	return live
}

// TradeIDs lists every persisted trade id.
func (r *resilientStore) TradeIDs(ctx context.Context) []string {
	if r.Degraded() {
		return nil
	}
	ids, err := r.store.ListTradeIDs(ctx)
	if err != nil {
		r.fail("list trade ids", err)
		return nil
	}
	return ids
}

// LoadPortfolio returns nil when nothing is saved or the store is unusable.
func (r *resilientStore) LoadPortfolio(ctx context.Context) *domain.Portfolio {
	if r.Degraded() {
		return nil
	}
	p, err := r.store.LoadPortfolio(ctx)
	if errors.Is(err, domain.ErrNoPortfolio) {
		return nil
	}
	if err != nil {
		r.fail("load portfolio", err)
		return nil
	}
	return p
}
