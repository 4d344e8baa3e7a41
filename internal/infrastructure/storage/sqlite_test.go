package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/paper_signal_engine/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func TestSQLiteStore_Signals(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sig := &domain.Signal{
		ID: "sig-1", Symbol: "BTCUSDT", Time: t0, Price: 64000,
		Classification: domain.ClassBuy, WeightedScore: 31.5, Confidence: 31.5,
		Reasoning: "Trend: SMA20 above SMA50 by 1.20%",
		Indicators: &domain.IndicatorSet{
			Symbol: "BTCUSDT", Backend: "wilder",
			Values:  map[string]float64{domain.IndRSI: 61.2},
			Missing: []string{domain.IndADX},
		},
	}
	sig.Scores[0] = domain.StrategyScore{Strategy: domain.StrategyTrend, Score: 50,
		Reasons: []domain.Reason{{Text: "Trend: SMA20 above SMA50 by 1.20%", Magnitude: 12}}}
	require.NoError(t, store.SaveSignal(ctx, sig))
	require.NoError(t, store.SaveSignal(ctx, &domain.Signal{
		ID: "sig-2", Symbol: "ETHUSDT", Time: t0.Add(time.Minute), Classification: domain.ClassHold,
	}))

	all, err := store.ListSignals(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "sig-2", all[0].ID)
	assert.Nil(t, all[0].Indicators)

	btc, err := store.ListSignals(ctx, "BTCUSDT", 0)
	require.NoError(t, err)
	require.Len(t, btc, 1)
	got := btc[0]
	assert.Equal(t, domain.ClassBuy, got.Classification)
	assert.True(t, t0.Equal(got.Time))
	assert.Equal(t, 50.0, got.Scores[0].Score)
	assert.Equal(t, sig.Scores[0].Reasons, got.Scores[0].Reasons)
	require.NotNil(t, got.Indicators)
	assert.Equal(t, 61.2, got.Indicators.Values[domain.IndRSI])
	assert.Equal(t, []string{domain.IndADX}, got.Indicators.Missing)
}

func TestSQLiteStore_OrdersUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	o := &domain.Order{
		ID: "01HQ0000000000000000000000", Symbol: "BTCUSDT", Side: domain.SideBuy,
		Kind: domain.KindLimit, Purpose: domain.PurposeManual, Quantity: 2, LimitPrice: 60000,
		State: domain.StatePending, CreatedAt: t0, UpdatedAt: t0, ExpiresAt: t0.Add(time.Hour),
	}
	require.NoError(t, store.SaveOrder(ctx, o))

	o.State = domain.StateFilled
	o.FilledQuantity = 2
	o.AvgFillPrice = 60000
	o.UpdatedAt = t0.Add(time.Minute)
	require.NoError(t, store.SaveOrder(ctx, o))

	stop := &domain.Order{
		ID: "01HQ0000000000000000000001", Symbol: "BTCUSDT", Side: domain.SideSell,
		Kind: domain.KindStop, Purpose: domain.PurposeStopLoss, Quantity: 2, TriggerPrice: 58800,
		State: domain.StatePending, CreatedAt: t0.Add(time.Minute), UpdatedAt: t0.Add(time.Minute),
	}
	require.NoError(t, store.SaveOrder(ctx, stop))

	orders, err := store.ListOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, stop.ID, orders[0].ID)
	assert.True(t, orders[0].ExpiresAt.IsZero())

	filled := orders[1]
	assert.Equal(t, domain.StateFilled, filled.State)
	assert.Equal(t, 2.0, filled.FilledQuantity)
	assert.Equal(t, domain.KindLimit, filled.Kind)
	assert.True(t, t0.Add(time.Hour).Equal(filled.ExpiresAt))
}

func TestSQLiteStore_LiveOrdersIgnoreListLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stop := &domain.Order{
		ID: "00-stop", Symbol: "BTCUSDT", Side: domain.SideSell, Kind: domain.KindStop,
		Purpose: domain.PurposeStopLoss, Quantity: 1, TriggerPrice: 58800,
		State: domain.StatePending, CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, store.SaveOrder(ctx, stop))
	partial := &domain.Order{
		ID: "01-limit", Symbol: "ETHUSDT", Side: domain.SideBuy, Kind: domain.KindLimit,
		Purpose: domain.PurposeManual, Quantity: 4, FilledQuantity: 1, LimitPrice: 3000,
		State: domain.StatePartiallyFilled, CreatedAt: t0.Add(time.Second), UpdatedAt: t0.Add(time.Second),
	}
	require.NoError(t, store.SaveOrder(ctx, partial))
	for i := 0; i < 1001; i++ {
		at := t0.Add(time.Duration(i+2) * time.Second)
		require.NoError(t, store.SaveOrder(ctx, &domain.Order{
			ID: fmt.Sprintf("filled-%04d", i), Symbol: "BTCUSDT", Side: domain.SideBuy,
			Kind: domain.KindMarket, Purpose: domain.PurposeManual, Quantity: 1, FilledQuantity: 1,
			State: domain.StateFilled, CreatedAt: at, UpdatedAt: at,
		}))
	}

	recent, err := store.ListOrders(ctx, 1000)
	require.NoError(t, err)
	require.Len(t, recent, 1000)
	for _, o := range recent {
		assert.Equal(t, domain.StateFilled, o.State)
	}

	live, err := store.ListLiveOrders(ctx)
	require.NoError(t, err)
	require.Len(t, live, 2)
	assert.Equal(t, stop.ID, live[0].ID)
	assert.Equal(t, domain.KindStop, live[0].Kind)
	assert.Equal(t, partial.ID, live[1].ID)
	assert.Equal(t, 1.0, live[1].FilledQuantity)
}

func TestSQLiteStore_TradesAreWrittenOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tr := &domain.Trade{
		ID: "tr-1", OrderID: "o-1", Symbol: "BTCUSDT", Side: domain.SideSell,
		Price: 61000, Quantity: 1, Commission: 61, RealizedPnL: 939, Time: t0,
	}
	require.NoError(t, store.SaveTrade(ctx, tr))
	require.NoError(t, store.SaveTrade(ctx, tr))

	trades, err := store.ListTrades(ctx, 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.SideSell, trades[0].Side)
	assert.Equal(t, 939.0, trades[0].RealizedPnL)

	require.NoError(t, store.SaveTrade(ctx, &domain.Trade{ID: "tr-2", OrderID: "o-2", Symbol: "BTCUSDT", Side: domain.SideBuy, Time: t0}))
	ids, err := store.ListTradeIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tr-1", "tr-2"}, ids)
}

func TestSQLiteStore_Portfolio(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.LoadPortfolio(ctx)
	require.ErrorIs(t, err, domain.ErrNoPortfolio)

	p := domain.NewPortfolio(100_000)
	p.Cash = 40_000
	p.DayLoss = 120
	p.SessionDate = "2024-03-04"
	p.TotalTrades = 3
	p.WinningTrades = 1
	p.UpdatedAt = t0
	p.Positions["BTCUSDT"] = &domain.Position{Symbol: "BTCUSDT", Quantity: 1, AvgEntryPrice: 60000, StopLoss: 58800, OpenedAt: t0}
	require.NoError(t, store.SavePortfolio(ctx, p))

	p.Cash = 41_000
	require.NoError(t, store.SavePortfolio(ctx, p))

	got, err := store.LoadPortfolio(ctx)
	require.NoError(t, err)
	assert.Equal(t, 41_000.0, got.Cash)
	assert.Equal(t, "2024-03-04", got.SessionDate)
	assert.Equal(t, 1, got.WinningTrades)
	require.Contains(t, got.Positions, "BTCUSDT")
	assert.Equal(t, 58800.0, got.Positions["BTCUSDT"].StopLoss)
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.SavePortfolio(context.Background(), domain.NewPortfolio(5_000)))
	require.NoError(t, store.Close())

	store, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()
	p, err := store.LoadPortfolio(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5_000.0, p.InitialCapital)
	assert.Empty(t, p.Positions)
}
