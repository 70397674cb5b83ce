package ble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/robertof/go-heartrate-monitor/device"
	"github.com/rs/zerolog/log"
)

// notifications are buffered so the HCI event loop is not held up by a slow consumer.
const notificationBuffer = 16

type peripheral struct {
	h    *Handle
	addr ble.Addr
	name string

	mu     sync.Mutex
	client Client
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

func (p *peripheral) currentClient() Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.client
}

func (p *peripheral) IsConnected() bool {
	c := p.currentClient()

	return c != nil && isAlive(c)
}

func (p *peripheral) Connect(ctx context.Context) error {
	c, err := p.h.connect(ctx, p.addr)

	if err != nil {
		return fmt.Errorf("failed to connect to %v: %w", p.addr, err)
	}

	p.mu.Lock()
	p.client = c
	p.mu.Unlock()

	return nil
}

func (p *peripheral) DiscoverServices(ctx context.Context, uuid device.UUID) ([]device.Service, error) {
	c := p.currentClient()

	if c == nil {
		return nil, fmt.Errorf("peripheral %v is not connected", p.addr)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	services, err := c.DiscoverServices([]ble.UUID{UUID16(uuid)})

	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", err)
	}

	out := make([]device.Service, 0, len(services))

	for _, s := range services {
		if !s.UUID.Equal(UUID16(uuid)) {
			continue
		}

		out = append(out, &service{client: c, svc: s, uuid: uuid})
	}

	return out, nil
}

func (p *peripheral) Disconnect() error {
	p.mu.Lock()
	c := p.client
	p.client = nil
	p.mu.Unlock()

	if c == nil || !isAlive(c) {
		return nil
	}

	if err := c.ClearSubscriptions(); err != nil {
		log.Debug().Err(err).Stringer("Addr", p.addr).Msg("ble: failed to clear subscriptions")
	}

	return c.CancelConnection()
}

type service struct {
	client Client
	svc    *ble.Service
	uuid   device.UUID
}

func (s *service) UUID() device.UUID {
	return s.uuid
}

func (s *service) DiscoverCharacteristics(ctx context.Context, uuid device.UUID) ([]device.Characteristic, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chars, err := s.client.DiscoverCharacteristics([]ble.UUID{UUID16(uuid)}, s.svc)

	if err != nil {
		return nil, fmt.Errorf("failed to discover characteristics: %w", err)
	}

	out := make([]device.Characteristic, 0, len(chars))

	for _, c := range chars {
		if !c.UUID.Equal(UUID16(uuid)) {
			continue
		}

		out = append(out, &characteristic{client: s.client, char: c, uuid: uuid})
	}

	return out, nil
}

type characteristic struct {
	client Client
	char   *ble.Characteristic
	uuid   device.UUID
}

func (c *characteristic) UUID() device.UUID {
	return c.uuid
}

func (c *characteristic) Subscribe(ctx context.Context) (<-chan device.Notification, error) {
	if c.char.Property&ble.CharNotify == 0 {
		return nil, fmt.Errorf("characteristic %v does not support notifications", c.uuid)
	}

	// the CCCD is only known after descriptor discovery.
	if c.char.CCCD == nil {
		if _, err := c.client.DiscoverDescriptors(nil, c.char); err != nil {
			return nil, fmt.Errorf("failed to discover descriptors: %w", err)
		}
	}

	stream := device.NewNotificationStream(notificationBuffer)

	handler := func(data []byte) {
		if stream.Deliver(data) {
			notificationsCounter.Inc()
		}
	}

	if err := c.client.Subscribe(c.char, false, handler); err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-c.client.Disconnected():
		}

		stream.Close()
	}()

	return stream.C(), nil
}
