// Package heartrate decodes Heart Rate Measurement (0x2a37) notifications.
package heartrate

import (
  "encoding/binary"
  "strings"
  "time"

  "github.com/pkg/errors"
  "github.com/robertof/go-heartrate-monitor/device"
)

var ErrMalformedMeasurement = errors.New("malformed heart rate measurement")

// Flags is the first byte of a Heart Rate Measurement.
type Flags uint8

const (
  FlagValueFormatUint16 Flags = 1 << iota
  FlagSensorContactDetected
  FlagSensorContactSupported
  FlagEnergyExpendedPresent
  FlagRRIntervalPresent
)

func (f Flags) String() string {
  var flags []string

  if f & FlagValueFormatUint16 != 0 {
    flags = append(flags, "uint16")
  } else {
    flags = append(flags, "uint8")
  }

  if f & FlagSensorContactSupported != 0 {
    if f & FlagSensorContactDetected != 0 {
      flags = append(flags, "contact")
    } else {
      flags = append(flags, "no contact")
    }
  }

  if f & FlagEnergyExpendedPresent != 0 {
    flags = append(flags, "energy")
  }

  if f & FlagRRIntervalPresent != 0 {
    flags = append(flags, "rr")
  }

  return strings.Join(flags, ", ")
}

// Decode parses a raw notification into a reading stamped with now. Energy expended and
// RR intervals are not decoded.
func Decode(data []byte, now time.Time) (reading device.Reading, err error) {
  if len(data) == 0 {
    return reading, errors.Wrap(ErrMalformedMeasurement, "missing flags")
  }

  flags := Flags(data[0])

  if flags & FlagValueFormatUint16 != 0 {
    if len(data) < 3 {
      return reading, errors.Wrapf(ErrMalformedMeasurement,
        "flags (%v) require a 16-bit value, got %d bytes: %x", flags, len(data), data)
    }

    reading.HeartRate = binary.LittleEndian.Uint16(data[1:])
  } else {
    if len(data) < 2 {
      return reading, errors.Wrapf(ErrMalformedMeasurement,
        "flags (%v) require an 8-bit value, got %d bytes: %x", flags, len(data), data)
    }

    reading.HeartRate = uint16(data[1])
  }

  // the contact bit is meaningless unless the sensor says it supports contact detection.
  if flags & FlagSensorContactSupported != 0 {
    contact := flags & FlagSensorContactDetected != 0
    reading.SensorContact = &contact
  }

  reading.DeviceConnected = true
  reading.Timestamp = now

  return reading, nil
}
