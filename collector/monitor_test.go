package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/robertof/go-heartrate-monitor/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSleeper records every delay and stops the monitor after the given number of sleeps.
type fakeSleeper struct {
	publisher *recordingPublisher
	cancel    context.CancelFunc
	stopAfter int

	delays []time.Duration
	// sentinel count observed when each sleep started.
	sentinels []int
}

func (s *fakeSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	s.sentinels = append(s.sentinels, s.publisher.sentinels())

	if len(s.delays) >= s.stopAfter {
		s.cancel()
		return ctx.Err()
	}

	return nil
}

func newTestMonitor(t *testing.T, adapter device.Adapter, stopAfter int) (*Monitor, *recordingPublisher, *fakeSleeper, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	pub := &recordingPublisher{}
	m := NewMonitor(adapter, pub)

	sleeper := &fakeSleeper{publisher: pub, cancel: cancel, stopAfter: stopAfter}
	m.sleep = sleeper.sleep

	return m, pub, sleeper, ctx
}

func TestMonitorPublishesSentinelBeforeBackoff(t *testing.T) {
	adapter := &fakeAdapter{waitErr: errors.New("hci0: no such device")}
	m, pub, sleeper, ctx := newTestMonitor(t, adapter, 3)

	err := m.Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}, sleeper.delays)
	assert.Equal(t, []int{1, 2, 3}, sleeper.sentinels)

	for _, r := range pub.all() {
		assert.Equal(t, uint16(0), r.HeartRate)
		assert.Nil(t, r.SensorContact)
		assert.False(t, r.DeviceConnected)
	}
}

func TestMonitorRecoversAfterConnectError(t *testing.T) {
	broken := healthyPeripheral("AA")
	broken.connectErr = errors.New("connection refused")
	healthy := healthyPeripheral("AA", []byte{0x00, 60}, []byte{0x00, 61})

	adapter := &fakeAdapter{
		discovered: [][]device.Peripheral{{broken}, {healthy}},
	}
	m, pub, sleeper, ctx := newTestMonitor(t, adapter, 2)

	err := m.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	got := pub.all()
	require.Len(t, got, 4)

	assert.True(t, got[0].IsSentinel())
	assert.Equal(t, uint16(60), got[1].HeartRate)
	assert.True(t, got[1].DeviceConnected)
	assert.Equal(t, uint16(61), got[2].HeartRate)
	assert.True(t, got[2].DeviceConnected)
	// the healthy sensor eventually stops notifying too.
	assert.True(t, got[3].IsSentinel())

	assert.Equal(t, []int{1, 2}, sleeper.sentinels)
	assert.Equal(t, 2, adapter.discoverCalls)
}

func TestMonitorEveryFailureKindIsRetried(t *testing.T) {
	noService := healthyPeripheral("A")
	noService.services = nil
	badPacket := healthyPeripheral("B", []byte{})
	noSubscribe := healthyPeripheral("C")
	noSubscribe.services = []device.Service{&fakeService{chars: []device.Characteristic{
		&fakeCharacteristic{subscribeErr: errors.New("denied")},
	}}}

	adapter := &fakeAdapter{
		discovered: [][]device.Peripheral{{noService}, {badPacket}, {noSubscribe}, nil},
	}
	m, pub, sleeper, ctx := newTestMonitor(t, adapter, 4)

	err := m.Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, sleeper.delays, 4)
	assert.Equal(t, 4, pub.sentinels())
	assert.Len(t, pub.all(), 4)
}

func TestMonitorBackoffAttemptResetsAfterReadings(t *testing.T) {
	adapter := &fakeAdapter{
		discovered: [][]device.Peripheral{
			nil,
			nil,
			{healthyPeripheral("AA", []byte{0x00, 70})},
			nil,
		},
	}
	m, _, _, ctx := newTestMonitor(t, adapter, 4)

	backoff := &recordingBackoff{delay: time.Second}
	m.Backoff = backoff

	require.ErrorIs(t, m.Run(ctx), context.Canceled)

	// NextDelay(0) is also consulted once when logging the startup configuration.
	assert.Equal(t, []int{0, 0, 1, 0, 1}, backoff.attempts)
}

func TestMonitorTimestampsNeverGoBackwards(t *testing.T) {
	base := time.Date(2024, 3, 9, 14, 30, 0, 0, time.Local)
	times := []time.Time{base, base.Add(-time.Hour), base.Add(time.Second)}

	adapter := &fakeAdapter{
		discovered: [][]device.Peripheral{
			{healthyPeripheral("AA", []byte{0x00, 60}, []byte{0x00, 61})},
		},
	}
	m, pub, _, ctx := newTestMonitor(t, adapter, 1)

	i := 0
	m.now = func() time.Time {
		ts := times[i%len(times)]
		i++
		return ts
	}

	require.ErrorIs(t, m.Run(ctx), context.Canceled)

	got := pub.all()
	require.Len(t, got, 3)

	for j := 1; j < len(got); j++ {
		assert.False(t, got[j].Timestamp.Before(got[j-1].Timestamp), "reading %d went backwards", j)
	}
}

func TestMonitorStopsWhenContextCancelledDuringSession(t *testing.T) {
	p := healthyPeripheral("AA", []byte{0x00, 60})
	p.services[0].(*fakeService).chars[0].(*fakeCharacteristic).hold = true

	adapter := &fakeAdapter{discovered: [][]device.Peripheral{{p}}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pub := &recordingPublisher{}
	m := NewMonitor(adapter, &cancellingPublisher{recordingPublisher: pub, cancel: cancel})
	m.sleep = func(context.Context, time.Duration) error {
		t.Fatal("monitor should not back off after cancellation")
		return nil
	}

	require.ErrorIs(t, m.Run(ctx), context.Canceled)
	assert.Len(t, pub.all(), 1)
}

type cancellingPublisher struct {
	*recordingPublisher
	cancel context.CancelFunc
}

func (p *cancellingPublisher) Publish(r device.Reading) int {
	p.recordingPublisher.Publish(r)
	p.cancel()

	return 1
}

func TestMonitorRunTwicePanics(t *testing.T) {
	m := NewMonitor(&fakeAdapter{}, &recordingPublisher{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, m.Run(ctx), context.Canceled)
	assert.Panics(t, func() { _ = m.Run(ctx) })
}
