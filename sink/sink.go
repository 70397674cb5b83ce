// Package sink forwards hub readings to external brokers.
package sink

import (
  "context"
  "encoding/json"
  "errors"

  "github.com/prometheus/client_golang/prometheus"
  "github.com/robertof/go-heartrate-monitor/device"
  "github.com/robertof/go-heartrate-monitor/hub"
  "github.com/rs/zerolog/log"
)

var (
  sentCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
    Name: "heartrate_monitor_sink_sent_total",
    Help: "Readings forwarded by each sink.",
  }, []string{"sink"})
  errorsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
    Name: "heartrate_monitor_sink_errors_total",
    Help: "Readings a sink failed to forward.",
  }, []string{"sink"})
)

func RegisterMetrics(reg prometheus.Registerer) {
  reg.MustRegister(sentCounter, errorsCounter)
}

// Sink delivers a single reading to an external system.
type Sink interface {
  Name() string
  Send(ctx context.Context, r device.Reading) error
  Close() error
}

func encode(r device.Reading) ([]byte, error) {
  return json.Marshal(r)
}

// Run feeds every reading from sub to s until ctx is done. Delivery failures are logged and
// counted, the sink keeps consuming. The subscription and the sink are closed on return.
func Run(ctx context.Context, s Sink, sub *hub.Subscription) error {
  defer sub.Close()

  defer func() {
    if err := s.Close(); err != nil {
      log.Warn().Err(err).Str("Sink", s.Name()).Msg("Failed to close sink")
    }
  }()

  log.Info().Str("Sink", s.Name()).Msg("Starting sink")

  for {
    r, err := sub.Next(ctx)

    if err != nil {
      if errors.Is(err, context.Canceled) {
        log.Info().Str("Sink", s.Name()).Msg("Sink is shutting down")
      }

      return err
    }

    if err := s.Send(ctx, r); err != nil {
      errorsCounter.WithLabelValues(s.Name()).Inc()

      log.Error().
        Err(err).
        Str("Sink", s.Name()).
        Stringer("Reading", r).
        Msg("Failed to forward reading")

      continue
    }

    sentCounter.WithLabelValues(s.Name()).Inc()

    log.Trace().Str("Sink", s.Name()).Stringer("Reading", r).Msg("Forwarded reading")
  }
}
