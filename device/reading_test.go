package device_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/robertof/go-heartrate-monitor/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReading_MarshalJSON(t *testing.T) {
	contact := true
	r := device.Reading{
		Timestamp:       time.Date(2024, 3, 9, 14, 30, 5, 0, time.Local),
		HeartRate:       72,
		SensorContact:   &contact,
		DeviceConnected: true,
	}

	data, err := json.Marshal(r)
	require.NoError(t, err)

	assert.JSONEq(t,
		`{"timestamp":"2024-03-09 14:30:05","heart_rate":72,"sensor_contact":true,"device_connected":true}`,
		string(data))
}

func TestReading_SentinelJSON(t *testing.T) {
	r := device.Disconnected(time.Date(2024, 3, 9, 14, 30, 5, 0, time.Local))

	data, err := json.Marshal(r)
	require.NoError(t, err)

	assert.JSONEq(t,
		`{"timestamp":"2024-03-09 14:30:05","heart_rate":0,"sensor_contact":null,"device_connected":false}`,
		string(data))
	assert.True(t, r.IsSentinel())
}

func TestReading_UnmarshalJSON(t *testing.T) {
	var r device.Reading

	err := json.Unmarshal(
		[]byte(`{"timestamp":"2024-03-09 14:30:05","heart_rate":61,"sensor_contact":false,"device_connected":true}`),
		&r)
	require.NoError(t, err)

	assert.Equal(t, uint16(61), r.HeartRate)
	require.NotNil(t, r.SensorContact)
	assert.False(t, *r.SensorContact)
	assert.True(t, r.DeviceConnected)
	assert.Equal(t, time.Date(2024, 3, 9, 14, 30, 5, 0, time.Local), r.Timestamp)
}

func TestReading_ZeroHeartRateIsNotSentinel(t *testing.T) {
	r := device.Reading{HeartRate: 0, DeviceConnected: true}

	assert.False(t, r.IsSentinel())
}

func TestUUID_String(t *testing.T) {
	assert.Equal(t, "180d", device.HeartRateService.String())
	assert.Equal(t, "2a37", device.HeartRateMeasurement.String())
}
