package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitos/paper_signal_engine/internal/domain"
	"github.com/vitos/paper_signal_engine/internal/usecase"
)

// Recorder turns engine events and tick reports into prometheus series.
// Each Recorder owns its registry so tests can build as many as they like.
type Recorder struct {
	registry *prometheus.Registry

	signals      *prometheus.CounterVec
	orders       *prometheus.CounterVec
	trades       *prometheus.CounterVec
	vetoes       *prometheus.CounterVec
	ticks        prometheus.Counter
	tickErrors   prometheus.Counter
	tickDuration prometheus.Histogram
	realized     prometheus.Counter
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "paper_signals_total", Help: "Signals produced"},
			[]string{"symbol", "classification"},
		),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "paper_order_updates_total", Help: "Order state changes"},
			[]string{"symbol", "state"},
		),
		trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "paper_trades_total", Help: "Simulated fills"},
			[]string{"symbol", "side"},
		),
		vetoes: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "paper_vetoes_total", Help: "Signals refused by risk limits"},
			[]string{"reason"},
		),
		ticks: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "paper_ticks_total", Help: "Engine passes"},
		),
		tickErrors: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "paper_tick_errors_total", Help: "Errors reported by engine passes"},
		),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "paper_tick_duration_seconds",
			Help:    "Wall time of one engine pass",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		realized: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "paper_realized_pnl_abs_total", Help: "Absolute realized PnL across fills"},
		),
	}
	r.registry.MustRegister(r.signals, r.orders, r.trades, r.vetoes,
		r.ticks, r.tickErrors, r.tickDuration, r.realized)
	return r
}

// Observe is an engine event handler.
func (r *Recorder) Observe(e usecase.Event) {
	switch data := e.Data.(type) {
	case domain.Signal:
		r.signals.WithLabelValues(data.Symbol, string(data.Classification)).Inc()
	case domain.Order:
		r.orders.WithLabelValues(data.Symbol, string(data.State)).Inc()
	case domain.Trade:
		r.trades.WithLabelValues(data.Symbol, string(data.Side)).Inc()
		if data.RealizedPnL < 0 {
			r.realized.Add(-data.RealizedPnL)
		} else {
			r.realized.Add(data.RealizedPnL)
		}
	case domain.RiskVeto:
		r.vetoes.WithLabelValues(data.Reason).Inc()
	}
}

func (r *Recorder) ObserveTick(report usecase.TickReport) {
	r.ticks.Inc()
	r.tickErrors.Add(float64(len(report.Errors)))
	r.tickDuration.Observe(report.Duration.Seconds())
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
