package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vitos/paper_signal_engine/internal/domain"
)

var errStoreDown = errors.New("store down")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MockMarket serves canned bars and quotes.
type MockMarket struct {
	mu       sync.Mutex
	clock    *fakeClock
	quotes   map[string]domain.Quote
	bars     map[string][]domain.PriceBar
	barCalls int
}

func NewMockMarket(clock *fakeClock) *MockMarket {
	return &MockMarket{
		clock:  clock,
		quotes: make(map[string]domain.Quote),
		bars:   make(map[string][]domain.PriceBar),
	}
}

// SetPrice publishes a fresh quote stamped with the clock's time.
func (m *MockMarket) SetPrice(symbol string, price float64) domain.Quote {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := domain.Quote{Symbol: symbol, Price: price, Time: m.clock.Now()}
	m.quotes[symbol] = q
	return q
}

func (m *MockMarket) SetBars(symbol string, bars []domain.PriceBar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bars[symbol] = bars
}

func (m *MockMarket) GetBars(ctx context.Context, symbol, period string) ([]domain.PriceBar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.barCalls++
	bars, ok := m.bars[symbol]
	if !ok {
		return nil, fmt.Errorf("%s: %w", symbol, domain.ErrDataUnavailable)
	}
	return bars, nil
}

func (m *MockMarket) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[symbol]
	if !ok {
		return domain.Quote{}, fmt.Errorf("%s: %w", symbol, domain.ErrDataUnavailable)
	}
	return q, nil
}

// MockStore keeps everything in maps and can be switched to fail.
type MockStore struct {
	mu        sync.Mutex
	Fail      bool
	Signals   []*domain.Signal
	Orders    map[string]domain.Order
	Trades    []domain.Trade
	Portfolio *domain.Portfolio
	SaveCalls int
}

func NewMockStore() *MockStore {
	return &MockStore{Orders: make(map[string]domain.Order)}
}

func (s *MockStore) call() error {
	s.SaveCalls++
	if s.Fail {
		return errStoreDown
	}
	return nil
}

func (s *MockStore) SaveSignal(ctx context.Context, sig *domain.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call(); err != nil {
		return err
	}
	s.Signals = append(s.Signals, sig)
	return nil
}

func (s *MockStore) ListSignals(ctx context.Context, symbol string, limit int) ([]*domain.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Signals, nil
}

func (s *MockStore) SaveOrder(ctx context.Context, o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call(); err != nil {
		return err
	}
	s.Orders[o.ID] = *o
	return nil
}

func (s *MockStore) ListOrders(ctx context.Context, limit int) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Order
	for _, o := range s.Orders {
		o := o
		out = append(out, &o)
	}
	return out, nil
}

func (s *MockStore) ListLiveOrders(ctx context.Context) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return nil, errStoreDown
	}
	var out []*domain.Order
	for _, o := range s.Orders {
		if o.State != domain.StatePending && o.State != domain.StatePartiallyFilled {
			continue
		}
		o := o
		out = append(out, &o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MockStore) SaveTrade(ctx context.Context, t *domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call(); err != nil {
		return err
	}
	s.Trades = append(s.Trades, *t)
	return nil
}

func (s *MockStore) ListTrades(ctx context.Context, limit int) ([]*domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Trade, len(s.Trades))
	for i := range s.Trades {
		out[i] = &s.Trades[i]
	}
	return out, nil
}

func (s *MockStore) ListTradeIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return nil, errStoreDown
	}
	ids := make([]string, len(s.Trades))
	for i, t := range s.Trades {
		ids[i] = t.ID
	}
	return ids, nil
}

func (s *MockStore) LoadPortfolio(ctx context.Context) (*domain.Portfolio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return nil, errStoreDown
	}
	if s.Portfolio == nil {
		return nil, domain.ErrNoPortfolio
	}
	p := s.Portfolio.Clone()
	return &p, nil
}

func (s *MockStore) SavePortfolio(ctx context.Context, p *domain.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.call(); err != nil {
		return err
	}
	c := p.Clone()
	s.Portfolio = &c
	return nil
}

func (s *MockStore) TradeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Trades)
}

// newTestExecutor wires an executor, ledger and mocks around one clock.
func newTestExecutor(cash float64, cfg ExecutionConfig) (*TradeExecutor, *Ledger, *MockMarket, *MockStore, *fakeClock) {
	clock := newFakeClock()
	market := NewMockMarket(clock)
	store := NewMockStore()
	ledger := NewLedger(cash, nil)
	ledger.timeNow = clock.Now
	ex := NewTradeExecutor(cfg, market, ledger, store, nil)
	ex.timeNow = clock.Now
	return ex, ledger, market, store, clock
}
