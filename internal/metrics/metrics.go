package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Refresh engine
	RefreshCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionschain_refresh_cycles_total",
			Help: "Refresh cycles by outcome",
		},
		[]string{"result"}, // published|no_expiry|error|timeout|not_connected
	)

	RefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "optionschain_refresh_duration_seconds",
			Help:    "Duration of a refresh cycle",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
	)

	QuotesPublished = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "optionschain_quotes_published",
			Help: "Quotes in the current snapshot",
		},
	)

	UnavailableSides = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "optionschain_unavailable_quote_sides",
			Help: "Quotes in the current snapshot with a missing side",
		},
		[]string{"side"}, // bid|ask
	)

	UnderlyingPrice = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "optionschain_underlying_price",
			Help: "Reference price of the underlying in the current snapshot",
		},
	)

	// Order ledger
	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionschain_orders_total",
			Help: "Order requests by kind and outcome",
		},
		[]string{"kind", "result"}, // kind: single|combo|bracket|cancel
	)

	// Broadcast relay
	RelaySubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "optionschain_relay_subscribers",
			Help: "Connected push-channel subscribers",
		},
	)

	RelayEmits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optionschain_relay_emits_total",
			Help: "Snapshot broadcasts by sink and outcome",
		},
		[]string{"sink", "result"},
	)
)

func init() {
	prometheus.MustRegister(RefreshCycles)
	prometheus.MustRegister(RefreshDuration)
	prometheus.MustRegister(QuotesPublished)
	prometheus.MustRegister(UnavailableSides)
	prometheus.MustRegister(UnderlyingPrice)

	prometheus.MustRegister(Orders)

	prometheus.MustRegister(RelaySubscribers)
	prometheus.MustRegister(RelayEmits)
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordCycle(result string, duration time.Duration) {
	RefreshCycles.WithLabelValues(result).Inc()
	RefreshDuration.Observe(duration.Seconds())
}

func RecordSnapshot(price float64, quotes, missingBids, missingAsks int) {
	UnderlyingPrice.Set(price)
	QuotesPublished.Set(float64(quotes))
	UnavailableSides.WithLabelValues("bid").Set(float64(missingBids))
	UnavailableSides.WithLabelValues("ask").Set(float64(missingAsks))
}

func RecordOrder(kind string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	Orders.WithLabelValues(kind, result).Inc()
}

func RecordEmit(sink string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	RelayEmits.WithLabelValues(sink, result).Inc()
}
