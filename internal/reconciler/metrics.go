package reconciler

import "github.com/prometheus/client_golang/prometheus"

var (
	watchesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "paycore",
		Subsystem: "reconciler",
		Name:      "watches_active",
		Help:      "Number of invoice watches currently polling.",
	})

	outcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paycore",
		Subsystem: "reconciler",
		Name:      "outcomes_total",
		Help:      "Terminal watch outcomes by kind.",
	}, []string{"outcome"})

	pollErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "paycore",
		Subsystem: "reconciler",
		Name:      "poll_errors_total",
		Help:      "Invoice polls that failed transiently.",
	})
)

func init() {
	prometheus.MustRegister(watchesActive, outcomesTotal, pollErrors)
}
