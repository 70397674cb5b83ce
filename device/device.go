package device

import (
  "context"
  "fmt"
)

// UUID is a 16-bit Bluetooth SIG assigned number.
type UUID uint16

const (
  HeartRateService     UUID = 0x180d
  HeartRateMeasurement UUID = 0x2a37
)

func (u UUID) String() string {
  return fmt.Sprintf("%04x", uint16(u))
}

// ScanFilter identifies the GATT service to look for and the characteristic to subscribe to.
type ScanFilter struct {
  Service        UUID
  Characteristic UUID
}

var HeartRateFilter = ScanFilter{
  Service:        HeartRateService,
  Characteristic: HeartRateMeasurement,
}

func (f ScanFilter) String() string {
  return fmt.Sprintf("filter[service=%v, characteristic=%v]", f.Service, f.Characteristic)
}

// Adapter is the capability surface over a platform BLE stack.
type Adapter interface {
  // WaitAvailable blocks until the adapter is powered and usable.
  WaitAvailable(ctx context.Context) error
  // ConnectedPeripherals lists peripherals which are already linked and expose the service.
  ConnectedPeripherals(ctx context.Context, service UUID) ([]Peripheral, error)
  // Discover scans for peripherals advertising the service. The channel is closed when
  // discovery ends, either because ctx is done or because the platform stopped scanning.
  Discover(ctx context.Context, service UUID) (<-chan Peripheral, error)
}

// Peripheral is an owned handle on a remote device. It is used by one goroutine at a time.
type Peripheral interface {
  ID() string
  Name() string
  IsConnected() bool
  Connect(ctx context.Context) error
  DiscoverServices(ctx context.Context, uuid UUID) ([]Service, error)
  Disconnect() error
}

type Service interface {
  UUID() UUID
  DiscoverCharacteristics(ctx context.Context, uuid UUID) ([]Characteristic, error)
}

type Characteristic interface {
  UUID() UUID
  // Subscribe enables notifications. The returned channel is closed when the stream ends;
  // a Notification carrying a non-nil Err is the last one delivered.
  Subscribe(ctx context.Context) (<-chan Notification, error)
}

type Notification struct {
  Value []byte
  Err   error
}

// Describe renders a peripheral for logs.
func Describe(p Peripheral) string {
  if p == nil {
    return "<none>"
  }

  if name := p.Name(); name != "" {
    return fmt.Sprintf("%v (%q)", p.ID(), name)
  }

  return p.ID()
}
