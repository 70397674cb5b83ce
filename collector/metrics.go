package collector

import "github.com/prometheus/client_golang/prometheus"

var (
	sessionsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "heartrate_monitor_sessions_total",
		Help: "Connection sessions started against a located device.",
	})
	failuresCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "heartrate_monitor_session_failures_total",
		Help: "Monitor attempts which ended, by reason.",
	}, []string{"kind"})
	readingsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "heartrate_monitor_readings_total",
		Help: "Heart rate measurements decoded and published.",
	})
)

func init() {
	// expose every kind from the start, even before it happens.
	for _, kind := range errorKinds {
		failuresCounter.WithLabelValues(kind.String())
	}
}

func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		sessionsCounter,
		failuresCounter,
		readingsCounter,
	)
}
