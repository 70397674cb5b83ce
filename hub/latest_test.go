package hub

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestTracksMostRecentReading(t *testing.T) {
	h := New(16)
	l := NewLatest(h)

	_, ok := l.Latest()
	assert.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// published before Run got scheduled, still seen thanks to the early subscription.
	h.Publish(reading(60))

	r, err := l.WaitLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(60), r.HeartRate)

	h.Publish(reading(61))

	require.Eventually(t, func() bool {
		r, ok := l.Latest()
		return ok && r.HeartRate == 61
	}, time.Second, 5*time.Millisecond)
	assert.False(t, l.UpdatedAt().IsZero())

	next := make(chan uint16, 1)
	go func() {
		if r, err := l.WaitNext(ctx); err == nil {
			next <- r.HeartRate
		}
	}()

	// keep publishing until the waiter has observed one.
	require.Eventually(t, func() bool {
		h.Publish(reading(62))

		select {
		case bpm := <-next:
			return bpm == 62
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Empty(t, h.subs)
}

func TestLatestDoesNotCountAsConsumer(t *testing.T) {
	h := New(16)
	l := NewLatest(h)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go l.Run(ctx)

	before := testutil.ToFloat64(unobservedCounter)

	for bpm := uint16(60); bpm < 65; bpm++ {
		assert.Equal(t, 0, h.Publish(reading(bpm)))
	}

	// the tracker still sees everything.
	require.Eventually(t, func() bool {
		r, ok := l.Latest()
		return ok && r.HeartRate == 64
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, h.Subscribers())
	assert.True(t, h.unobserved)
	assert.Equal(t, float64(5), testutil.ToFloat64(unobservedCounter)-before)

	web := h.Subscribe()
	defer web.Close()

	assert.False(t, h.unobserved)
	assert.Equal(t, 1, h.Subscribers())
	assert.Equal(t, 1, h.Publish(reading(65)))
	assert.Equal(t, float64(5), testutil.ToFloat64(unobservedCounter)-before)
}

func TestWaitLatestCancelled(t *testing.T) {
	l := NewLatest(New(4))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.WaitLatest(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLatestRunTwicePanics(t *testing.T) {
	l := NewLatest(New(4))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, l.Run(ctx), context.Canceled)
	assert.Panics(t, func() { _ = l.Run(ctx) })
}
