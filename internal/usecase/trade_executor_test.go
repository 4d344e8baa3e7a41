package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/paper_signal_engine/internal/domain"
)

func TestTradeExecutor_MarketFillWithSlippageAndCommission(t *testing.T) {
	ex, ledger, market, store, _ := newTestExecutor(1_000_000, DefaultExecutionConfig())
	ctx := context.Background()
	market.SetPrice("AAPL", 100)

	var events []Event
	ex.Subscribe(func(e Event) { events = append(events, e) })

	o, err := ex.Place(ctx, OrderRequest{Symbol: "AAPL", Side: domain.SideBuy, Kind: domain.KindMarket, Quantity: 10})
	require.NoError(t, err)
	assert.Equal(t, domain.StateFilled, o.State)
	assert.Equal(t, 10.0, o.FilledQuantity)
	assert.InDelta(t, 100.05, o.AvgFillPrice, 1e-9)

	// 0.1% of 1000.5 is below the 10 minimum.
	p := ledger.Portfolio()
	assert.InDelta(t, 1_000_000-1000.5-10, p.Cash, 1e-6)
	assert.InDelta(t, 10, p.Positions["AAPL"].Quantity, 1e-12)

	require.Len(t, store.Trades, 1)
	assert.Equal(t, 10.0, store.Trades[0].Commission)
	assert.Equal(t, domain.StateFilled, store.Orders[o.ID].State)

	require.NotEmpty(t, events)
	assert.Equal(t, EventTrade, events[0].Type)
}

func TestTradeExecutor_SellSlipsDown(t *testing.T) {
	ex, _, market, _, _ := newTestExecutor(1_000_000, DefaultExecutionConfig())
	market.SetPrice("AAPL", 200)

	o, err := ex.Place(context.Background(), OrderRequest{Symbol: "AAPL", Side: domain.SideSell, Kind: domain.KindMarket, Quantity: 1})
	require.NoError(t, err)
	assert.InDelta(t, 199.9, o.AvgFillPrice, 1e-9)
}

func TestTradeExecutor_MarketRejectsWithoutFreshQuote(t *testing.T) {
	ex, ledger, market, _, clock := newTestExecutor(1_000_000, DefaultExecutionConfig())
	ctx := context.Background()
	req := OrderRequest{Symbol: "MSFT", Side: domain.SideBuy, Kind: domain.KindMarket, Quantity: 5}

	o, err := ex.Place(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRejected, o.State)
	assert.Equal(t, domain.RejectStaleQuote, o.Reason)

	market.SetPrice("MSFT", 300)
	clock.Advance(time.Minute)
	o, err = ex.Place(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRejected, o.State)
	assert.Equal(t, domain.RejectStaleQuote, o.Reason)

	p := ledger.Portfolio()
	assert.Equal(t, 1_000_000.0, p.Cash)
	assert.Empty(t, p.Positions)
	assert.Equal(t, 0, p.TotalTrades)
}

func TestTradeExecutor_ValidationRejects(t *testing.T) {
	ex, _, market, _, _ := newTestExecutor(1_000_000, DefaultExecutionConfig())
	market.SetPrice("AAPL", 100)

	tests := []struct {
		name   string
		req    OrderRequest
		reason string
	}{
		{"no symbol", OrderRequest{Side: domain.SideBuy, Kind: domain.KindMarket, Quantity: 1}, domain.RejectNoSymbol},
		{"bad side", OrderRequest{Symbol: "AAPL", Side: "HOLD", Kind: domain.KindMarket, Quantity: 1}, domain.RejectInvalidSide},
		{"bad kind", OrderRequest{Symbol: "AAPL", Side: domain.SideBuy, Kind: "ICEBERG", Quantity: 1}, domain.RejectInvalidKind},
		{"zero quantity", OrderRequest{Symbol: "AAPL", Side: domain.SideBuy, Kind: domain.KindMarket}, domain.RejectInvalidQuantity},
		{"fractional", OrderRequest{Symbol: "AAPL", Side: domain.SideBuy, Kind: domain.KindMarket, Quantity: 0.5}, domain.RejectBelowMinUnit},
		{"limit without price", OrderRequest{Symbol: "AAPL", Side: domain.SideBuy, Kind: domain.KindLimit, Quantity: 1}, domain.RejectLimitRequired},
		{"stop without trigger", OrderRequest{Symbol: "AAPL", Side: domain.SideSell, Kind: domain.KindStop, Quantity: 1}, domain.RejectTriggerRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := ex.Place(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, domain.StateRejected, o.State)
			assert.Equal(t, tt.reason, o.Reason)
		})
	}
}

func TestTradeExecutor_LimitNeverFillsAboveLimitThenExpires(t *testing.T) {
	ex, ledger, market, store, clock := newTestExecutor(1_000_000, DefaultExecutionConfig())
	ctx := context.Background()

	o, err := ex.Place(ctx, OrderRequest{Symbol: "AAPL", Side: domain.SideBuy, Kind: domain.KindLimit, Quantity: 10, Price: 95})
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, o.State)

	for i := 0; i < 5; i++ {
		clock.Advance(10 * time.Minute)
		require.NoError(t, ex.OnQuote(ctx, market.SetPrice("AAPL", 96+float64(i))))
	}
	got, ok := ex.Order(o.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatePending, got.State)

	clock.Advance(15 * time.Minute)
	assert.Equal(t, 1, ex.ExpireOrders(ctx))
	got, _ = ex.Order(o.ID)
	assert.Equal(t, domain.StateExpired, got.State)
	assert.Equal(t, 0, ex.ExpireOrders(ctx))

	// A later quote through the limit changes nothing.
	require.NoError(t, ex.OnQuote(ctx, market.SetPrice("AAPL", 90)))
	got, _ = ex.Order(o.ID)
	assert.Equal(t, domain.StateExpired, got.State)

	p := ledger.Portfolio()
	assert.Equal(t, 1_000_000.0, p.Cash)
	assert.Empty(t, p.Positions)
	assert.Empty(t, store.Trades)
}

func TestTradeExecutor_LimitExpiresOnQuote(t *testing.T) {
	ex, _, market, _, clock := newTestExecutor(1_000_000, DefaultExecutionConfig())
	ctx := context.Background()

	o, _ := ex.Place(ctx, OrderRequest{Symbol: "AAPL", Side: domain.SideBuy, Kind: domain.KindLimit, Quantity: 10, Price: 95})
	clock.Advance(time.Hour)
	require.NoError(t, ex.OnQuote(ctx, market.SetPrice("AAPL", 94)))

	got, _ := ex.Order(o.ID)
	assert.Equal(t, domain.StateExpired, got.State)
	assert.Zero(t, got.FilledQuantity)
}

func TestTradeExecutor_LimitFillsAtLimitPrice(t *testing.T) {
	ex, ledger, market, _, clock := newTestExecutor(1_000_000, DefaultExecutionConfig())
	ctx := context.Background()

	buy, _ := ex.Place(ctx, OrderRequest{Symbol: "AAPL", Side: domain.SideBuy, Kind: domain.KindLimit, Quantity: 10, Price: 95})
	clock.Advance(time.Second)
	require.NoError(t, ex.OnQuote(ctx, market.SetPrice("AAPL", 94)))

	got, _ := ex.Order(buy.ID)
	assert.Equal(t, domain.StateFilled, got.State)
	assert.Equal(t, 95.0, got.AvgFillPrice)

	sell, _ := ex.Place(ctx, OrderRequest{Symbol: "AAPL", Side: domain.SideSell, Kind: domain.KindLimit, Quantity: 10, Price: 105})
	require.NoError(t, ex.OnQuote(ctx, market.SetPrice("AAPL", 104.99)))
	got, _ = ex.Order(sell.ID)
	assert.Equal(t, domain.StatePending, got.State)

	require.NoError(t, ex.OnQuote(ctx, market.SetPrice("AAPL", 106)))
	got, _ = ex.Order(sell.ID)
	assert.Equal(t, domain.StateFilled, got.State)
	assert.Equal(t, 105.0, got.AvgFillPrice)

	p := ledger.Portfolio()
	assert.Empty(t, p.Positions)
	assert.InDelta(t, 100-20, p.RealizedPnL, 1e-9)
}

func TestTradeExecutor_StopLossClosesPositionAndCancelsTakeProfit(t *testing.T) {
	ex, ledger, market, _, clock := newTestExecutor(1_000_000, DefaultExecutionConfig())
	ctx := context.Background()
	market.SetPrice("AAPL", 100)

	entry, err := ex.ExecuteIntent(ctx, &domain.TradeIntent{
		Symbol: "AAPL", Side: domain.SideBuy, Quantity: 500,
		EntryPrice: 100, StopLoss: 98, TakeProfit: 103,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateFilled, entry.State)
	assert.Equal(t, domain.PurposeEntry, entry.Purpose)

	var sl, tp domain.Order
	for _, o := range ex.Orders() {
		switch o.Purpose {
		case domain.PurposeStopLoss:
			sl = o
		case domain.PurposeTakeProfit:
			tp = o
		}
	}
	require.NotEmpty(t, sl.ID)
	require.NotEmpty(t, tp.ID)
	assert.Equal(t, domain.SideSell, sl.Side)
	assert.Equal(t, 98.0, sl.TriggerPrice)
	assert.Equal(t, 103.0, tp.TriggerPrice)
	assert.Equal(t, tp.ID, sl.LinkedOrderID)
	assert.Equal(t, sl.ID, tp.LinkedOrderID)

	pos, ok := ledger.Position("AAPL")
	require.True(t, ok)
	assert.Equal(t, 98.0, pos.StopLoss)
	assert.Equal(t, 103.0, pos.TakeProfit)

	clock.Advance(time.Second)
	require.NoError(t, ex.OnQuote(ctx, market.SetPrice("AAPL", 99)))
	_, ok = ledger.Position("AAPL")
	assert.True(t, ok)

	require.NoError(t, ex.OnQuote(ctx, market.SetPrice("AAPL", 97.9)))
	_, ok = ledger.Position("AAPL")
	assert.False(t, ok)

	got, _ := ex.Order(sl.ID)
	assert.Equal(t, domain.StateFilled, got.State)
	assert.Equal(t, 500.0, got.FilledQuantity)
	got, _ = ex.Order(tp.ID)
	assert.Equal(t, domain.StateCancelled, got.State)

	p := ledger.Portfolio()
	assert.Less(t, p.RealizedPnL, 0.0)
	assert.Greater(t, p.DayLoss, 0.0)
	assert.Equal(t, 1, p.LosingTrades)
	assert.Empty(t, ex.LiveSymbols())
}

func TestTradeExecutor_TakeProfitOnShort(t *testing.T) {
	ex, ledger, market, _, _ := newTestExecutor(1_000_000, DefaultExecutionConfig())
	ctx := context.Background()
	market.SetPrice("TSLA", 200)

	_, err := ex.ExecuteIntent(ctx, &domain.TradeIntent{
		Symbol: "TSLA", Side: domain.SideSell, Quantity: 50,
		EntryPrice: 200, StopLoss: 204, TakeProfit: 194,
	})
	require.NoError(t, err)

	require.NoError(t, ex.OnQuote(ctx, market.SetPrice("TSLA", 202)))
	_, ok := ledger.Position("TSLA")
	require.True(t, ok)

	require.NoError(t, ex.OnQuote(ctx, market.SetPrice("TSLA", 193)))
	_, ok = ledger.Position("TSLA")
	assert.False(t, ok)

	p := ledger.Portfolio()
	assert.Greater(t, p.RealizedPnL, 0.0)
	assert.Equal(t, 1, p.WinningTrades)
}

func TestTradeExecutor_StaleQuoteDoesNotTrigger(t *testing.T) {
	ex, ledger, market, _, clock := newTestExecutor(1_000_000, DefaultExecutionConfig())
	ctx := context.Background()
	market.SetPrice("AAPL", 100)
	_, err := ex.ExecuteIntent(ctx, &domain.TradeIntent{
		Symbol: "AAPL", Side: domain.SideBuy, Quantity: 10, StopLoss: 98, TakeProfit: 103,
	})
	require.NoError(t, err)

	old := domain.Quote{Symbol: "AAPL", Price: 90, Time: clock.Now()}
	clock.Advance(2 * time.Minute)
	require.NoError(t, ex.OnQuote(ctx, old))

	_, ok := ledger.Position("AAPL")
	assert.True(t, ok)
	assert.Equal(t, []string{"AAPL"}, ex.LiveSymbols())
}

func TestTradeExecutor_ManualStopTriggers(t *testing.T) {
	ex, ledger, market, _, _ := newTestExecutor(1_000_000, DefaultExecutionConfig())
	ctx := context.Background()

	o, _ := ex.Place(ctx, OrderRequest{Symbol: "AAPL", Side: domain.SideBuy, Kind: domain.KindStop, Quantity: 3, Price: 110})
	require.NoError(t, ex.OnQuote(ctx, market.SetPrice("AAPL", 109)))
	got, _ := ex.Order(o.ID)
	assert.Equal(t, domain.StatePending, got.State)

	require.NoError(t, ex.OnQuote(ctx, market.SetPrice("AAPL", 111)))
	got, _ = ex.Order(o.ID)
	assert.Equal(t, domain.StateFilled, got.State)
	assert.InDelta(t, 111*1.0005, got.AvgFillPrice, 1e-9)

	pos, ok := ledger.Position("AAPL")
	require.True(t, ok)
	assert.Equal(t, 3.0, pos.Quantity)
}

func TestTradeExecutor_Cancel(t *testing.T) {
	ex, _, market, store, _ := newTestExecutor(1_000_000, DefaultExecutionConfig())
	ctx := context.Background()

	o, _ := ex.Place(ctx, OrderRequest{Symbol: "AAPL", Side: domain.SideBuy, Kind: domain.KindLimit, Quantity: 1, Price: 50})
	got, err := ex.Cancel(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCancelled, got.State)
	assert.Equal(t, domain.StateCancelled, store.Orders[o.ID].State)

	_, err = ex.Cancel(ctx, o.ID)
	assert.ErrorIs(t, err, domain.ErrOrderTerminal)

	market.SetPrice("AAPL", 100)
	filled, _ := ex.Place(ctx, OrderRequest{Symbol: "AAPL", Side: domain.SideBuy, Kind: domain.KindMarket, Quantity: 1})
	got, err = ex.Cancel(ctx, filled.ID)
	require.ErrorIs(t, err, domain.ErrOrderTerminal)
	assert.Equal(t, domain.StateFilled, got.State)

	_, err = ex.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestTradeExecutor_PartialFills(t *testing.T) {
	cfg := DefaultExecutionConfig()
	cfg.MaxFillQuantity = 4
	ex, ledger, market, store, _ := newTestExecutor(1_000_000, cfg)
	ctx := context.Background()
	market.SetPrice("AAPL", 100)

	o, err := ex.Place(ctx, OrderRequest{Symbol: "AAPL", Side: domain.SideBuy, Kind: domain.KindMarket, Quantity: 10})
	require.NoError(t, err)
	assert.Equal(t, domain.StatePartiallyFilled, o.State)
	assert.Equal(t, 4.0, o.FilledQuantity)

	require.NoError(t, ex.OnQuote(ctx, market.SetPrice("AAPL", 101)))
	got, _ := ex.Order(o.ID)
	assert.Equal(t, domain.StatePartiallyFilled, got.State)
	assert.Equal(t, 8.0, got.FilledQuantity)

	require.NoError(t, ex.OnQuote(ctx, market.SetPrice("AAPL", 102)))
	got, _ = ex.Order(o.ID)
	assert.Equal(t, domain.StateFilled, got.State)
	assert.Equal(t, 10.0, got.FilledQuantity)
	assert.InDelta(t, (4*100+4*101+2*102)*1.0005/10, got.AvgFillPrice, 1e-9)

	assert.Len(t, store.Trades, 3)
	pos, _ := ledger.Position("AAPL")
	assert.Equal(t, 10.0, pos.Quantity)
}

func TestTradeExecutor_InsufficientCashRejects(t *testing.T) {
	ex, ledger, market, _, _ := newTestExecutor(1_000, DefaultExecutionConfig())
	market.SetPrice("AAPL", 100)

	o, err := ex.Place(context.Background(), OrderRequest{Symbol: "AAPL", Side: domain.SideBuy, Kind: domain.KindMarket, Quantity: 100})
	require.NoError(t, err)
	assert.Equal(t, domain.StateRejected, o.State)
	assert.Equal(t, domain.RejectInsufficientCash, o.Reason)
	assert.Equal(t, 1_000.0, ledger.Portfolio().Cash)
}

func TestTradeExecutor_KeepsTradingWhenStoreFails(t *testing.T) {
	ex, ledger, market, store, _ := newTestExecutor(1_000_000, DefaultExecutionConfig())
	store.Fail = true
	market.SetPrice("AAPL", 100)

	for i := 0; i < 3; i++ {
		o, err := ex.Place(context.Background(), OrderRequest{Symbol: "AAPL", Side: domain.SideBuy, Kind: domain.KindMarket, Quantity: 1})
		require.NoError(t, err)
		assert.Equal(t, domain.StateFilled, o.State)
	}
	assert.True(t, ex.store.Degraded())
	assert.Equal(t, 1, store.SaveCalls)
	assert.Equal(t, 3, ledger.Portfolio().TotalTrades)
}

func TestTradeExecutor_ConcurrentOrdersKeepCashInvariant(t *testing.T) {
	ex, ledger, market, _, _ := newTestExecutor(10_000_000, DefaultExecutionConfig())
	ctx := context.Background()
	for g := 0; g < 6; g++ {
		market.SetPrice(fmt.Sprintf("S%d", g), 50+float64(g))
	}

	var wg sync.WaitGroup
	for g := 0; g < 6; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			symbol := fmt.Sprintf("S%d", g)
			for i := 0; i < 20; i++ {
				side := domain.SideBuy
				if i%3 == 2 {
					side = domain.SideSell
				}
				_, err := ex.Place(ctx, OrderRequest{Symbol: symbol, Side: side, Kind: domain.KindMarket, Quantity: 2})
				assert.NoError(t, err)
				q, _ := market.GetQuote(ctx, symbol)
				assert.NoError(t, ex.OnQuote(ctx, q))
			}
		}(g)
	}
	wg.Wait()

	p := ledger.Portfolio()
	assert.Equal(t, 120, p.TotalTrades)
	assertCashInvariant(t, p)
}
