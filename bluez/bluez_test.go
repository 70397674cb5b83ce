package bluez

import (
	"context"
	"testing"

	"github.com/robertof/go-heartrate-monitor/device"
	"github.com/stretchr/testify/assert"
	"tinygo.org/x/bluetooth"
)

func TestUUID16(t *testing.T) {
	assert.Equal(t, bluetooth.ServiceUUIDHeartRate, UUID16(device.HeartRateService))
	assert.Equal(t, bluetooth.CharacteristicUUIDHeartRateMeasurement, UUID16(device.HeartRateMeasurement))
}

func TestPeripheralNotConnected(t *testing.T) {
	p := &peripheral{adapter: NewWithAdapter(bluetooth.DefaultAdapter), name: "Polar H10"}

	assert.False(t, p.IsConnected())
	assert.Equal(t, "Polar H10", p.Name())

	_, err := p.DiscoverServices(context.Background(), device.HeartRateService)
	assert.Error(t, err)

	assert.NoError(t, p.Disconnect())

	// a disconnect event for a peripheral which never connected is harmless.
	p.markDisconnected()
	assert.False(t, p.IsConnected())
}

func TestConnectedPeripheralsEmpty(t *testing.T) {
	a := NewWithAdapter(bluetooth.DefaultAdapter)

	got, err := a.ConnectedPeripherals(context.Background(), device.HeartRateService)

	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestWaitAvailableCancelled(t *testing.T) {
	a := NewWithAdapter(bluetooth.DefaultAdapter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, a.WaitAvailable(ctx), context.Canceled)
}
