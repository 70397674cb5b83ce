package collector

import (
	"context"
	"sync"
	"time"

	"github.com/robertof/go-heartrate-monitor/device"
)

type fakeCharacteristic struct {
	notifications []device.Notification
	subscribeErr  error
	// keep the stream open after the scripted notifications until ctx is done.
	hold bool
}

func (c *fakeCharacteristic) UUID() device.UUID {
	return device.HeartRateMeasurement
}

func (c *fakeCharacteristic) Subscribe(ctx context.Context) (<-chan device.Notification, error) {
	if c.subscribeErr != nil {
		return nil, c.subscribeErr
	}

	ch := make(chan device.Notification, len(c.notifications))

	for _, n := range c.notifications {
		ch <- n
	}

	if c.hold {
		go func() {
			<-ctx.Done()
			close(ch)
		}()
	} else {
		close(ch)
	}

	return ch, nil
}

type fakeService struct {
	chars []device.Characteristic
	err   error
}

func (s *fakeService) UUID() device.UUID {
	return device.HeartRateService
}

func (s *fakeService) DiscoverCharacteristics(_ context.Context, _ device.UUID) ([]device.Characteristic, error) {
	return s.chars, s.err
}

type fakePeripheral struct {
	id          string
	connected   bool
	connectErr  error
	services    []device.Service
	servicesErr error

	mu          sync.Mutex
	connects    int
	disconnects int
}

func (p *fakePeripheral) ID() string   { return p.id }
func (p *fakePeripheral) Name() string { return "fake " + p.id }

func (p *fakePeripheral) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.connected
}

func (p *fakePeripheral) Connect(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.connects++

	if p.connectErr != nil {
		return p.connectErr
	}

	p.connected = true

	return nil
}

func (p *fakePeripheral) DiscoverServices(context.Context, device.UUID) ([]device.Service, error) {
	return p.services, p.servicesErr
}

func (p *fakePeripheral) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.disconnects++
	p.connected = false

	return nil
}

// healthyPeripheral streams the given payloads and then stops notifying.
func healthyPeripheral(id string, payloads ...[]byte) *fakePeripheral {
	char := &fakeCharacteristic{}

	for _, p := range payloads {
		char.notifications = append(char.notifications, device.Notification{Value: p})
	}

	return &fakePeripheral{
		id: id,
		services: []device.Service{
			&fakeService{chars: []device.Characteristic{char}},
		},
	}
}

type fakeAdapter struct {
	mu sync.Mutex

	waitErr      error
	connected    []device.Peripheral
	connectedErr error
	discoverErr  error
	// each Discover call hands out the next entry; a nil entry or an empty queue ends
	// discovery without a match.
	discovered [][]device.Peripheral

	discoverCalls int
}

func (a *fakeAdapter) WaitAvailable(context.Context) error {
	return a.waitErr
}

func (a *fakeAdapter) ConnectedPeripherals(context.Context, device.UUID) ([]device.Peripheral, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.connected, a.connectedErr
}

func (a *fakeAdapter) Discover(ctx context.Context, _ device.UUID) (<-chan device.Peripheral, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.discoverCalls++

	if a.discoverErr != nil {
		return nil, a.discoverErr
	}

	var next []device.Peripheral

	if len(a.discovered) > 0 {
		next, a.discovered = a.discovered[0], a.discovered[1:]
	}

	ch := make(chan device.Peripheral)

	go func() {
		defer close(ch)

		for _, p := range next {
			select {
			case <-ctx.Done():
				return
			case ch <- p:
			}
		}
	}()

	return ch, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	readings []device.Reading
}

func (p *recordingPublisher) Publish(r device.Reading) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.readings = append(p.readings, r)

	return 1
}

func (p *recordingPublisher) all() []device.Reading {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]device.Reading(nil), p.readings...)
}

func (p *recordingPublisher) sentinels() int {
	n := 0

	for _, r := range p.all() {
		if r.IsSentinel() {
			n++
		}
	}

	return n
}

type recordingBackoff struct {
	delay    time.Duration
	attempts []int
}

func (b *recordingBackoff) NextDelay(attempt int) time.Duration {
	b.attempts = append(b.attempts, attempt)

	return b.delay
}
