package ble

import (
	"testing"

	"github.com/go-ble/ble"
	"github.com/robertof/go-heartrate-monitor/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagsString(t *testing.T) {
	assert.Equal(t, "none", Flags(0).String())
	assert.Equal(t, "active scan", FlagScanTypeActive.String())
	assert.Equal(t,
		"active scan, device allow-list, persistent connections",
		(FlagScanTypeActive | FlagEnableDeviceAllowList | FlagPersistConnections).String(),
	)
}

func TestConnParams(t *testing.T) {
	var p ConnParams

	require.NoError(t, p.Set(""))
	assert.Equal(t, ConnParamsDefault, p)

	require.NoError(t, p.Set("power-saving"))
	assert.Equal(t, ConnParamsPowerSaving, p)
	assert.Equal(t, uint16(0x0708), p.AdapterOptions().SupervisionTimeout)

	assert.Error(t, p.Set("turbo"))
	assert.Equal(t, ConnParamsPowerSaving, p)
}

func TestUUID16(t *testing.T) {
	assert.True(t, UUID16(device.HeartRateService).Equal(ble.MustParse("180d")))
	assert.False(t, UUID16(device.HeartRateMeasurement).Equal(ble.MustParse("180d")))
}
