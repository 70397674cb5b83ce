package bluez

import (
  "context"
  "fmt"
  "sync"

  "github.com/robertof/go-heartrate-monitor/device"
  "github.com/rs/zerolog/log"
  "tinygo.org/x/bluetooth"
)

const notificationBuffer = 16

type peripheral struct {
  adapter *Adapter
  addr    bluetooth.Address
  name    string

  mu           sync.Mutex
  dev          *bluetooth.Device
  disconnected chan struct{}
}

func (p *peripheral) ID() string {
  return p.addr.String()
}

func (p *peripheral) Name() string {
  return p.name
}

func (p *peripheral) String() string {
  return device.Describe(p)
}

func (p *peripheral) IsConnected() bool {
  p.mu.Lock()
  defer p.mu.Unlock()

  if p.dev == nil {
    return false
  }

  select {
  case <-p.disconnected:
    return false
  default:
    return true
  }
}

func (p *peripheral) markDisconnected() {
  p.mu.Lock()
  defer p.mu.Unlock()

  if p.disconnected == nil {
    return
  }

  select {
  case <-p.disconnected:
  default:
    close(p.disconnected)
  }
}

type connectResult struct {
  dev bluetooth.Device
  err error
}

// Connect links to the peripheral. The stack call itself cannot be interrupted, if ctx ends
// first the connection is dropped as soon as it completes.
func (p *peripheral) Connect(ctx context.Context) error {
  if err := p.adapter.WaitAvailable(ctx); err != nil {
    return err
  }

  done := make(chan connectResult, 1)

  go func() {
    dev, err := p.adapter.adapter.Connect(p.addr, bluetooth.ConnectionParams{})
    done <- connectResult{dev, err}
  }()

  var res connectResult

  select {
  case res = <-done:
  case <-ctx.Done():
    go func() {
      if res := <-done; res.err == nil {
        res.dev.Disconnect()
      }
    }()

    connectionsCounter.WithLabelValues("cancelled").Inc()

    return ctx.Err()
  }

  if res.err != nil {
    connectionsCounter.WithLabelValues("failed").Inc()
    return fmt.Errorf("failed to connect to %v: %w", p.addr.String(), res.err)
  }

  connectionsCounter.WithLabelValues("success").Inc()

  p.mu.Lock()
  p.dev = &res.dev
  p.disconnected = make(chan struct{})
  p.mu.Unlock()

  p.adapter.track(p)

  log.Debug().Str("Addr", p.addr.String()).Msg("bluez: connected to peripheral")

  return nil
}

func (p *peripheral) connected() (*bluetooth.Device, <-chan struct{}, error) {
  p.mu.Lock()
  defer p.mu.Unlock()

  if p.dev == nil {
    return nil, nil, fmt.Errorf("peripheral %v is not connected", p.addr.String())
  }

  return p.dev, p.disconnected, nil
}

func (p *peripheral) DiscoverServices(ctx context.Context, uuid device.UUID) ([]device.Service, error) {
  dev, disconnected, err := p.connected()

  if err != nil {
    return nil, err
  }

  if err := ctx.Err(); err != nil {
    return nil, err
  }

  services, err := dev.DiscoverServices([]bluetooth.UUID{UUID16(uuid)})

  if err != nil {
    return nil, fmt.Errorf("failed to discover services: %w", err)
  }

  out := make([]device.Service, 0, len(services))

  for _, s := range services {
    if s.UUID() != UUID16(uuid) {
      continue
    }

    out = append(out, &service{svc: s, uuid: uuid, disconnected: disconnected})
  }

  return out, nil
}

func (p *peripheral) Disconnect() error {
  p.mu.Lock()
  dev := p.dev
  p.dev = nil
  p.mu.Unlock()

  if dev == nil {
    return nil
  }

  p.adapter.untrack(p)
  p.markDisconnected()

  return dev.Disconnect()
}

type service struct {
  svc          bluetooth.DeviceService
  uuid         device.UUID
  disconnected <-chan struct{}
}

func (s *service) UUID() device.UUID {
  return s.uuid
}

func (s *service) DiscoverCharacteristics(ctx context.Context, uuid device.UUID) ([]device.Characteristic, error) {
  if err := ctx.Err(); err != nil {
    return nil, err
  }

  chars, err := s.svc.DiscoverCharacteristics([]bluetooth.UUID{UUID16(uuid)})

  if err != nil {
    return nil, fmt.Errorf("failed to discover characteristics: %w", err)
  }

  out := make([]device.Characteristic, 0, len(chars))

  for _, c := range chars {
    if c.UUID() != UUID16(uuid) {
      continue
    }

    out = append(out, &characteristic{char: c, uuid: uuid, disconnected: s.disconnected})
  }

  return out, nil
}

type characteristic struct {
  char         bluetooth.DeviceCharacteristic
  uuid         device.UUID
  disconnected <-chan struct{}
}

func (c *characteristic) UUID() device.UUID {
  return c.uuid
}

func (c *characteristic) Subscribe(ctx context.Context) (<-chan device.Notification, error) {
  stream := device.NewNotificationStream(notificationBuffer)

  err := c.char.EnableNotifications(func(buf []byte) {
    stream.Deliver(buf)
  })

  if err != nil {
    return nil, fmt.Errorf("failed to enable notifications: %w", err)
  }

  go func() {
    select {
    case <-ctx.Done():
    case <-c.disconnected:
    }

    stream.Close()
  }()

  return stream.C(), nil
}
