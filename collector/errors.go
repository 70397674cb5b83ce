package collector

import (
	"fmt"
	"strconv"
)

// ErrorKind classifies why a monitor attempt ended.
type ErrorKind uint8

const (
	KindAdapterUnavailable ErrorKind = iota + 1
	KindDeviceNotFound
	KindConnectError
	KindServiceNotFound
	KindCharacteristicNotFound
	KindSubscribeError
	KindMalformedMeasurement
	KindStreamEnded
)

var errorKinds = []ErrorKind{
	KindAdapterUnavailable,
	KindDeviceNotFound,
	KindConnectError,
	KindServiceNotFound,
	KindCharacteristicNotFound,
	KindSubscribeError,
	KindMalformedMeasurement,
	KindStreamEnded,
}

func (k ErrorKind) String() string {
	switch k {
	case KindAdapterUnavailable:
		return "adapter_unavailable"
	case KindDeviceNotFound:
		return "device_not_found"
	case KindConnectError:
		return "connect_error"
	case KindServiceNotFound:
		return "service_not_found"
	case KindCharacteristicNotFound:
		return "characteristic_not_found"
	case KindSubscribeError:
		return "subscribe_error"
	case KindMalformedMeasurement:
		return "malformed_measurement"
	case KindStreamEnded:
		return "stream_ended"
	default:
		return "unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

// Error is returned by every terminal state of a monitor attempt.
type Error struct {
	Kind   ErrorKind
	Device string
	Err    error
}

var (
	ErrAdapterUnavailable     = &Error{Kind: KindAdapterUnavailable}
	ErrDeviceNotFound         = &Error{Kind: KindDeviceNotFound}
	ErrConnectError           = &Error{Kind: KindConnectError}
	ErrServiceNotFound        = &Error{Kind: KindServiceNotFound}
	ErrCharacteristicNotFound = &Error{Kind: KindCharacteristicNotFound}
	ErrSubscribeError         = &Error{Kind: KindSubscribeError}
	ErrMalformedMeasurement   = &Error{Kind: KindMalformedMeasurement}
	ErrStreamEnded            = &Error{Kind: KindStreamEnded}
)

func newError(kind ErrorKind, device string, err error) *Error {
	return &Error{Kind: kind, Device: device, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.String()

	if e.Device != "" {
		msg += " (device " + e.Device + ")"
	}

	if e.Err != nil {
		return fmt.Sprintf("%v: %v", msg, e.Err)
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on the kind only, so errors.Is(err, ErrConnectError) works for any device or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)

	return ok && t.Kind == e.Kind
}
