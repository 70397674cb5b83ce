package hub

import "github.com/prometheus/client_golang/prometheus"

var (
  subscribersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
    Namespace: "heartrate_monitor",
    Subsystem: "hub",
    Name:      "subscribers",
    Help:      "Number of hub subscribers currently attached.",
  })

  droppedCounter = prometheus.NewCounter(prometheus.CounterOpts{
    Namespace: "heartrate_monitor",
    Subsystem: "hub",
    Name:      "dropped_readings_total",
    Help:      "Readings overwritten in a subscriber buffer before being consumed.",
  })

  unobservedCounter = prometheus.NewCounter(prometheus.CounterOpts{
    Namespace: "heartrate_monitor",
    Subsystem: "hub",
    Name:      "unobserved_readings_total",
    Help:      "Readings published while nobody was subscribed.",
  })
)

func RegisterMetrics(reg prometheus.Registerer) {
  reg.MustRegister(subscribersGauge, droppedCounter, unobservedCounter)
}
