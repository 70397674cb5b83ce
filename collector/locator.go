package collector

import (
	"context"
	"errors"
	"strings"

	"github.com/robertof/go-heartrate-monitor/device"
	"github.com/rs/zerolog/log"
)

var errDiscoveryEnded = errors.New("discovery ended without a matching peripheral")

// Locator picks the peripheral to monitor: an already connected one if the platform has it,
// otherwise the first one advertising the service.
type Locator struct {
	Filter device.ScanFilter
	// If set, only the peripheral with this ID (address) is accepted.
	Address string
}

func (l *Locator) accepts(p device.Peripheral) bool {
	return l.Address == "" || strings.EqualFold(p.ID(), l.Address)
}

// Locate blocks until a peripheral is found. There is no timeout: only ctx or the end of
// discovery stop the wait. A peripheral found by discovery is returned only after the
// discovery channel has been closed.
func (l *Locator) Locate(ctx context.Context, adapter device.Adapter) (device.Peripheral, error) {
	connected, err := adapter.ConnectedPeripherals(ctx, l.Filter.Service)

	if err != nil {
		// not fatal, discovery can still find the device.
		log.Warn().Err(err).Msg("Failed to list connected peripherals, falling back to discovery")
	}

	for _, p := range connected {
		if l.accepts(p) {
			log.Info().
				Str("Device", device.Describe(p)).
				Msg("Using already connected heart rate device")

			return p, nil
		}
	}

	log.Info().
		Stringer("Service", l.Filter.Service).
		Str("Address", l.Address).
		Msg("Scanning for heart rate devices...")

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	found, err := adapter.Discover(scanCtx, l.Filter.Service)

	if err != nil {
		return nil, newError(KindDeviceNotFound, l.Address, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, newError(KindDeviceNotFound, l.Address, ctx.Err())
		case p, ok := <-found:
			if !ok {
				return nil, newError(KindDeviceNotFound, l.Address, errDiscoveryEnded)
			}

			if !l.accepts(p) {
				log.Trace().Str("Device", device.Describe(p)).Msg("locator: skipping peripheral")
				continue
			}

			log.Info().Str("Device", device.Describe(p)).Msg("Found heart rate device")

			// connecting while the controller is still scanning is unreliable, so wait for the
			// scan to wind down first.
			cancel()

			for range found {
			}

			return p, nil
		}
	}
}
