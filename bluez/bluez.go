// Package bluez implements device.Adapter on top of tinygo.org/x/bluetooth, which talks to
// BlueZ over D-Bus on Linux and to CoreBluetooth on macOS.
package bluez

import (
  "context"
  "fmt"
  "strings"
  "sync"
  "time"

  "github.com/prometheus/client_golang/prometheus"
  "github.com/robertof/go-heartrate-monitor/device"
  "github.com/rs/zerolog/log"
  "tinygo.org/x/bluetooth"
)

// delay between StopScan attempts when the scan has not started yet.
const stopScanRetry = 100 * time.Millisecond

var (
  connectionsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
    Name: "heartrate_monitor_bluez_connections_total",
  }, []string{"result"})
  disconnectsCounter = prometheus.NewCounter(prometheus.CounterOpts{
    Name: "heartrate_monitor_bluez_disconnections_total",
  })
)

func RegisterMetrics(reg prometheus.Registerer) {
  reg.MustRegister(connectionsCounter, disconnectsCounter)
}

func UUID16(u device.UUID) bluetooth.UUID {
  return bluetooth.New16BitUUID(uint16(u))
}

// Adapter wraps a tinygo bluetooth adapter. Connections opened through it are tracked until
// the stack reports them as gone.
type Adapter struct {
  adapter *bluetooth.Adapter

  mu        sync.Mutex
  enabled   bool
  connected map[string]*peripheral

  // serializes scans, the stack only runs one at a time.
  scanMu sync.Mutex
}

var _ device.Adapter = (*Adapter)(nil)

func New() *Adapter {
  return NewWithAdapter(bluetooth.DefaultAdapter)
}

func NewWithAdapter(a *bluetooth.Adapter) *Adapter {
  return &Adapter{
    adapter:   a,
    connected: make(map[string]*peripheral),
  }
}

func addrKey(a fmt.Stringer) string {
  return strings.ToLower(a.String())
}

// WaitAvailable enables the adapter on first use. A failure is returned as is, the caller
// decides when to try again.
func (a *Adapter) WaitAvailable(ctx context.Context) error {
  if err := ctx.Err(); err != nil {
    return err
  }

  a.mu.Lock()
  defer a.mu.Unlock()

  if a.enabled {
    return nil
  }

  log.Debug().Msg("bluez: enabling Bluetooth adapter")

  if err := a.adapter.Enable(); err != nil {
    return fmt.Errorf("failed to enable Bluetooth adapter: %w", err)
  }

  a.adapter.SetConnectHandler(a.onConnectionChange)
  a.enabled = true

  return nil
}

func (a *Adapter) onConnectionChange(d bluetooth.Device, connected bool) {
  key := addrKey(d.Address)

  log.Debug().Str("Addr", key).Bool("Connected", connected).Msg("bluez: connection state changed")

  if connected {
    return
  }

  a.mu.Lock()
  p := a.connected[key]
  delete(a.connected, key)
  a.mu.Unlock()

  if p != nil {
    disconnectsCounter.Inc()
    p.markDisconnected()
  }
}

func (a *Adapter) track(p *peripheral) {
  a.mu.Lock()
  defer a.mu.Unlock()

  a.connected[addrKey(p.addr)] = p
}

func (a *Adapter) untrack(p *peripheral) {
  a.mu.Lock()
  defer a.mu.Unlock()

  key := addrKey(p.addr)

  if a.connected[key] == p {
    delete(a.connected, key)
  }
}

// ConnectedPeripherals returns the peripherals connected through this adapter which expose
// the service.
func (a *Adapter) ConnectedPeripherals(ctx context.Context, service device.UUID) ([]device.Peripheral, error) {
  a.mu.Lock()
  candidates := make([]*peripheral, 0, len(a.connected))

  for _, p := range a.connected {
    candidates = append(candidates, p)
  }
  a.mu.Unlock()

  var out []device.Peripheral

  for _, p := range candidates {
    if err := ctx.Err(); err != nil {
      return out, err
    }

    if !p.IsConnected() {
      continue
    }

    services, err := p.DiscoverServices(ctx, service)

    if err != nil || len(services) == 0 {
      continue
    }

    out = append(out, p)
  }

  return out, nil
}

// Discover scans for advertisements listing the service. Every matching advertisement is
// delivered, the caller stops the scan by cancelling ctx.
func (a *Adapter) Discover(ctx context.Context, service device.UUID) (<-chan device.Peripheral, error) {
  if err := a.WaitAvailable(ctx); err != nil {
    return nil, err
  }

  uuid := UUID16(service)
  out := make(chan device.Peripheral)

  ctx, cancel := context.WithCancel(ctx)
  scanDone := make(chan struct{})

  callback := func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
    select {
    case <-ctx.Done():
      return
    default:
    }

    if !result.HasServiceUUID(uuid) {
      return
    }

    log.Trace().
      Str("Addr", result.Address.String()).
      Str("Name", result.LocalName()).
      Int16("RSSI", result.RSSI).
      Msg("bluez: received matching advertisement")

    p := &peripheral{
      adapter: a,
      addr:    result.Address,
      name:    result.LocalName(),
    }

    select {
    case <-ctx.Done():
    case out <- p:
    }
  }

  go func() {
    defer close(out)
    defer close(scanDone)
    defer cancel()

    a.scanMu.Lock()
    defer a.scanMu.Unlock()

    log.Debug().Stringer("Service", service).Msg("bluez: scanning for peripherals")

    if err := a.adapter.Scan(callback); err != nil {
      log.Warn().Err(err).Msg("bluez: scan ended with an error")
    }
  }()

  go a.stopScanOnDone(ctx, scanDone)

  return out, nil
}

// stopScanOnDone stops the running scan once ctx is done. Scan might not be running yet when
// that happens, so StopScan is retried until the scan returns.
func (a *Adapter) stopScanOnDone(ctx context.Context, scanDone <-chan struct{}) {
  select {
  case <-scanDone:
    return
  case <-ctx.Done():
  }

  for {
    if err := a.adapter.StopScan(); err == nil {
      return
    }

    select {
    case <-scanDone:
      return
    case <-time.After(stopScanRetry):
    }
  }
}

// Scan reports every advertisement until ctx is done.
func (a *Adapter) Scan(ctx context.Context, onResult func(bluetooth.ScanResult)) error {
  if err := a.WaitAvailable(ctx); err != nil {
    return err
  }

  a.scanMu.Lock()
  defer a.scanMu.Unlock()

  scanDone := make(chan struct{})
  defer close(scanDone)

  go a.stopScanOnDone(ctx, scanDone)

  return a.adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
    onResult(r)
  })
}
