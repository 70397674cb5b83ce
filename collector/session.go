package collector

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/robertof/go-heartrate-monitor/device"
	"github.com/robertof/go-heartrate-monitor/device/heartrate"
	"github.com/rs/zerolog/log"
)

var errNotificationsStopped = errors.New("heart rate notifications stopped")

type SessionState uint8

const (
	StateIdle SessionState = iota
	StateConnecting
	StateServiceDiscovery
	StateCharacteristicDiscovery
	StateSubscribing
	StateStreaming
	StateEnded
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateServiceDiscovery:
		return "ServiceDiscovery"
	case StateCharacteristicDiscovery:
		return "CharacteristicDiscovery"
	case StateSubscribing:
		return "Subscribing"
	case StateStreaming:
		return "Streaming"
	case StateEnded:
		return "Ended"
	case StateFailed:
		return "Failed"
	default:
		panic("unknown SessionState value: " + strconv.Itoa(int(s)))
	}
}

// Session drives a single peripheral from connection to the end of its notification stream.
// A session is used once.
type Session struct {
	peripheral device.Peripheral
	filter     device.ScanFilter
	emit       func(device.Reading)
	now        func() time.Time

	state    SessionState
	readings int
}

func NewSession(p device.Peripheral, filter device.ScanFilter, emit func(device.Reading)) *Session {
	return &Session{
		peripheral: p,
		filter:     filter,
		emit:       emit,
		now:        time.Now,
	}
}

func (s *Session) State() SessionState {
	return s.state
}

// Readings is the number of genuine readings emitted so far.
func (s *Session) Readings() int {
	return s.readings
}

func (s *Session) transition(to SessionState) {
	log.Trace().
		Str("Device", s.peripheral.ID()).
		Stringer("From", s.state).
		Stringer("To", to).
		Msg("session: state transition")

	s.state = to
}

func (s *Session) fail(kind ErrorKind, err error) *Error {
	s.transition(StateFailed)

	return newError(kind, s.peripheral.ID(), err)
}

// Run always returns a non-nil error: a healthy sensor keeps the session streaming, and
// every way out of it is something the caller must react to.
//
// A link whose notification stream simply ended is left up, so the next locate can pick it
// again through Adapter.ConnectedPeripherals. Every other failure, and shutdown, tears it
// down.
func (s *Session) Run(ctx context.Context) (result *Error) {
	if s.state != StateIdle {
		panic("attempted to run collector.Session twice")
	}

	// ends the notification stream together with the session.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	defer func() {
		if result != nil && result.Kind == KindStreamEnded && ctx.Err() == nil && s.peripheral.IsConnected() {
			log.Debug().Str("Device", s.peripheral.ID()).Msg("session: keeping link for the next attempt")
			return
		}

		if derr := s.peripheral.Disconnect(); derr != nil {
			log.Debug().
				Err(derr).
				Str("Device", s.peripheral.ID()).
				Msg("session: failed to disconnect peripheral")
		}
	}()

	s.transition(StateConnecting)

	if !s.peripheral.IsConnected() {
		log.Info().Str("Device", device.Describe(s.peripheral)).Msg("Connecting to device")

		if err := s.peripheral.Connect(ctx); err != nil {
			return s.fail(KindConnectError, err)
		}
	}

	s.transition(StateServiceDiscovery)

	services, err := s.peripheral.DiscoverServices(ctx, s.filter.Service)

	if err != nil {
		return s.fail(KindServiceNotFound, err)
	}

	if len(services) == 0 {
		return s.fail(KindServiceNotFound, errors.New("device exposes no "+s.filter.Service.String()+" service"))
	}

	s.transition(StateCharacteristicDiscovery)

	chars, err := services[0].DiscoverCharacteristics(ctx, s.filter.Characteristic)

	if err != nil {
		return s.fail(KindCharacteristicNotFound, err)
	}

	if len(chars) == 0 {
		return s.fail(KindCharacteristicNotFound,
			errors.New("service has no "+s.filter.Characteristic.String()+" characteristic"))
	}

	s.transition(StateSubscribing)

	notifications, err := chars[0].Subscribe(ctx)

	if err != nil {
		return s.fail(KindSubscribeError, err)
	}

	s.transition(StateStreaming)
	log.Info().Str("Device", s.peripheral.ID()).Msg("Receiving heart rate data...")

	for {
		select {
		case <-ctx.Done():
			s.transition(StateEnded)
			return newError(KindStreamEnded, s.peripheral.ID(), ctx.Err())
		case n, ok := <-notifications:
			if !ok {
				s.transition(StateEnded)

				if ctx.Err() != nil {
					return newError(KindStreamEnded, s.peripheral.ID(), ctx.Err())
				}

				return newError(KindStreamEnded, s.peripheral.ID(), errNotificationsStopped)
			}

			if n.Err != nil {
				s.transition(StateEnded)
				return newError(KindStreamEnded, s.peripheral.ID(), n.Err)
			}

			reading, err := heartrate.Decode(n.Value, s.now())

			if err != nil {
				return s.fail(KindMalformedMeasurement, err)
			}

			log.Trace().
				Hex("Data", n.Value).
				Stringer("Flags", heartrate.Flags(n.Value[0])).
				Msg("session: decoded notification")

			s.readings++
			s.emit(reading)
		}
	}
}
