package collector

import (
  "context"
  "errors"
  "sync"
  "time"

  "github.com/robertof/go-heartrate-monitor/device"
  "github.com/robertof/go-heartrate-monitor/utils"
  "github.com/rs/zerolog"
  "github.com/rs/zerolog/log"
)

// Publisher receives every reading produced by the monitor.
type Publisher interface {
  Publish(r device.Reading) int
}

// Monitor keeps a heart rate sensor connected forever, retrying after every failure.
type Monitor struct {
  Backoff Backoff
  Locator Locator

  adapter   device.Adapter
  publisher Publisher

  // replaceable in tests.
  sleep SleepFunc
  now   func() time.Time

  mu            sync.Mutex
  lastPublished time.Time
  started       bool
}

func NewMonitor(adapter device.Adapter, publisher Publisher) *Monitor {
  return &Monitor{
    Backoff: ConstantBackoff(DefaultBackoff),
    Locator: Locator{
      Filter: device.HeartRateFilter,
    },
    adapter:   adapter,
    publisher: publisher,
    sleep:     sleepContext,
    now:       time.Now,
  }
}

// publish forwards r keeping timestamps non-decreasing in publication order.
func (m *Monitor) publish(r device.Reading) {
  m.mu.Lock()
  if r.Timestamp.Before(m.lastPublished) {
    r.Timestamp = m.lastPublished
  }
  m.lastPublished = r.Timestamp
  m.mu.Unlock()

  if !r.IsSentinel() {
    readingsCounter.Inc()

    ev := log.Info().Uint16("HeartRate", r.HeartRate)

    if r.SensorContact != nil {
      ev = ev.Bool("SensorContact", *r.SensorContact)
    }

    ev.Msgf("[%v] heart rate: %d BPM", r.Timestamp.Format(device.TimestampLayout), r.HeartRate)
  }

  m.publisher.Publish(r)
}

// attempt runs one locate + session cycle. The returned error is never nil; the session is
// returned when one was started.
func (m *Monitor) attempt(ctx context.Context) (*Session, *Error) {
  if err := m.adapter.WaitAvailable(ctx); err != nil {
    return nil, newError(KindAdapterUnavailable, "", err)
  }

  p, err := m.Locator.Locate(ctx, m.adapter)

  if err != nil {
    var cerr *Error

    if errors.As(err, &cerr) {
      return nil, cerr
    }

    return nil, newError(KindDeviceNotFound, m.Locator.Address, err)
  }

  sessionsCounter.Inc()

  session := NewSession(p, m.Locator.Filter, m.publish)
  session.now = m.now

  return session, session.Run(ctx)
}

// Run blocks until ctx is cancelled. Each failed attempt publishes exactly one
// disconnected reading, then waits for the backoff delay before trying again.
func (m *Monitor) Run(ctx context.Context) error {
  m.mu.Lock()
  started := m.started
  m.started = true
  m.mu.Unlock()

  if started {
    panic("attempted to call collector.Monitor.Run() twice")
  }

  log.Info().
    Stringer("Filter", m.Locator.Filter).
    Str("Address", m.Locator.Address).
    Dur("FirstBackoffSec", m.Backoff.NextDelay(0)).
    Msg("Starting heart rate monitor")

  failures := 0

  for {
    session, err := m.attempt(ctx)

    if ctx.Err() != nil {
      log.Info().Msg("Heart rate monitor is shutting down")
      return ctx.Err()
    }

    if session != nil && session.Readings() > 0 {
      failures = 0
    }

    failuresCounter.WithLabelValues(err.Kind.String()).Inc()

    delay := m.Backoff.NextDelay(failures)
    failures++

    var ev *zerolog.Event

    if utils.ErrorIsAnyOf(err, ErrStreamEnded, ErrDeviceNotFound) {
      ev = log.Warn()
    } else {
      ev = log.Error()
    }

    ev.Err(err).
      Stringer("Kind", err.Kind).
      Int("ConsecutiveFailures", failures).
      Dur("RetryInSec", delay).
      Msg("Heart rate monitor failed, retrying")

    // consumers must see the disconnect now, not after the backoff.
    m.publish(device.Disconnected(m.now()))

    if err := m.sleep(ctx, delay); err != nil {
      log.Info().Msg("Heart rate monitor is shutting down")
      return err
    }
  }
}
