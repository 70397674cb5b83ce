package metrics

import (
  "github.com/prometheus/client_golang/prometheus"
  "github.com/robertof/go-heartrate-monitor/device"
)

var (
  descHeartRate = prometheus.NewDesc(
    "heartrate_bpm",
    "Heart rate reported by the sensor in beats per minute. 0 while disconnected.",
    nil,
    nil,
  )

  descSensorContact = prometheus.NewDesc(
    "heartrate_sensor_contact",
    "Whether the sensor detects skin contact. Absent when the sensor does not report it.",
    nil,
    nil,
  )

  descDeviceConnected = prometheus.NewDesc(
    "heartrate_device_connected",
    "Whether a heart rate sensor is currently streaming.",
    nil,
    nil,
  )
)

// CollectFunc returns the latest reading and whether there is one at all.
type CollectFunc func() (device.Reading, bool)

type collector struct {
  CollectFunc
}

// Describe is static: nothing may have been published yet when registering.
func (c *collector) Describe(ch chan<- *prometheus.Desc) {
  ch <- descHeartRate
  ch <- descSensorContact
  ch <- descDeviceConnected
}

func boolToFloat(b bool) float64 {
  if b {
    return 1
  }

  return 0
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
  reading, ok := c.CollectFunc()

  // nothing published yet: export nothing rather than a fake zero.
  if !ok {
    return
  }

  ts := reading.Timestamp

  heartRate := prometheus.MustNewConstMetric(
    descHeartRate,
    prometheus.GaugeValue,
    float64(reading.HeartRate),
  )

  ch <- prometheus.NewMetricWithTimestamp(ts, heartRate)

  if reading.SensorContact != nil {
    contact := prometheus.MustNewConstMetric(
      descSensorContact,
      prometheus.GaugeValue,
      boolToFloat(*reading.SensorContact),
    )

    ch <- prometheus.NewMetricWithTimestamp(ts, contact)
  }

  connected := prometheus.MustNewConstMetric(
    descDeviceConnected,
    prometheus.GaugeValue,
    boolToFloat(reading.DeviceConnected),
  )

  ch <- prometheus.NewMetricWithTimestamp(ts, connected)
}

func RegisterCollector(f CollectFunc, reg prometheus.Registerer) {
  c := &collector{f}

  reg.MustRegister(c)
}
