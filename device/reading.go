package device

import (
  "encoding/json"
  "fmt"
  "strconv"
  "time"
)

// TimestampLayout is the human readable form of Reading.Timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

// Reading is a single heart rate sample, or the sentinel emitted when the sensor is lost.
type Reading struct {
  Timestamp time.Time
  HeartRate uint16
  // nil when the sensor does not report contact detection support.
  SensorContact *bool
  DeviceConnected bool
}

// Disconnected returns the sentinel reading published when a monitor attempt fails.
func Disconnected(now time.Time) Reading {
  return Reading{
    Timestamp: now,
  }
}

// IsSentinel reports whether r signals loss of the sensor. A heart rate of 0 is not enough
// to tell: only DeviceConnected is.
func (r Reading) IsSentinel() bool {
  return !r.DeviceConnected
}

func (r Reading) String() string {
  contact := "n/a"

  if r.SensorContact != nil {
    contact = strconv.FormatBool(*r.SensorContact)
  }

  return fmt.Sprintf("Reading[HeartRate=%d,SensorContact=%v,DeviceConnected=%v,Timestamp=%v]",
    r.HeartRate, contact, r.DeviceConnected, r.Timestamp.Format(TimestampLayout))
}

type readingJSON struct {
  Timestamp       string `json:"timestamp"`
  HeartRate       uint16 `json:"heart_rate"`
  SensorContact   *bool  `json:"sensor_contact"`
  DeviceConnected bool   `json:"device_connected"`
}

func (r Reading) MarshalJSON() ([]byte, error) {
  return json.Marshal(readingJSON{
    Timestamp:       r.Timestamp.Local().Format(TimestampLayout),
    HeartRate:       r.HeartRate,
    SensorContact:   r.SensorContact,
    DeviceConnected: r.DeviceConnected,
  })
}

func (r *Reading) UnmarshalJSON(data []byte) error {
  var raw readingJSON

  if err := json.Unmarshal(data, &raw); err != nil {
    return err
  }

  ts, err := time.ParseInLocation(TimestampLayout, raw.Timestamp, time.Local)
  if err != nil {
    return fmt.Errorf("invalid timestamp %q: %w", raw.Timestamp, err)
  }

  *r = Reading{
    Timestamp:       ts,
    HeartRate:       raw.HeartRate,
    SensorContact:   raw.SensorContact,
    DeviceConnected: raw.DeviceConnected,
  }

  return nil
}
