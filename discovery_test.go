package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoveredDevicesMerge(t *testing.T) {
	devices := make(discoveredDevices)

	devices.add(advertisement{addr: "AA:BB:CC:DD:EE:FF", rssi: -70, services: []string{"180a"}})
	devices.add(advertisement{addr: "aa:bb:cc:dd:ee:ff", name: "Polar H10", rssi: -60, connectable: true, services: []string{"180d"}})
	devices.add(advertisement{addr: "11:22:33:44:55:66", name: "Thermometer", services: []string{"181a"}})

	require.Len(t, devices, 2)

	hr := devices["aa:bb:cc:dd:ee:ff"]
	assert.Equal(t, "Polar H10", hr.name)
	assert.Equal(t, -60, hr.rssi)
	assert.True(t, hr.connectable)
	assert.Equal(t, map[string]bool{"180a": true, "180d": true}, hr.services)
	assert.True(t, hr.isHeartRateMonitor())

	assert.False(t, devices["11:22:33:44:55:66"].isHeartRateMonitor())
}
