package web

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robertof/go-heartrate-monitor/device"
	"github.com/robertof/go-heartrate-monitor/hub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testReading(bpm uint16) device.Reading {
	contact := true

	return device.Reading{
		Timestamp:       time.Date(2024, 3, 9, 14, 30, 0, 0, time.Local),
		HeartRate:       bpm,
		SensorContact:   &contact,
		DeviceConnected: true,
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *hub.Hub, *hub.Latest) {
	h := hub.New(16)
	latest := hub.NewLatest(h)

	ctx, cancel := context.WithCancel(context.Background())
	go latest.Run(ctx)

	reg := prometheus.NewRegistry()
	s := NewServer("", h, latest, reg)
	ts := httptest.NewServer(s.Handler())

	t.Cleanup(func() {
		ts.Close()
		cancel()
	})

	return ts, h, latest
}

func TestHealth(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestLatestReading(t *testing.T) {
	ts, h, latest := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/heart-rate")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	h.Publish(testReading(72))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = latest.WaitLatest(ctx)
	require.NoError(t, err)

	resp, err = http.Get(ts.URL + "/api/heart-rate")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.Equal(t, "2024-03-09 14:30:00", body["timestamp"])
	assert.Equal(t, float64(72), body["heart_rate"])
	assert.Equal(t, true, body["sensor_contact"])
	assert.Equal(t, true, body["device_connected"])
}

func TestEventStream(t *testing.T) {
	ts, h, _ := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/heart-rate/stream", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)

	// wait for the handshake comment, the subscription exists by then.
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	h.Publish(testReading(80))
	h.Publish(device.Disconnected(time.Now()))

	var events []device.Reading

	for len(events) < 2 {
		line, err := r.ReadString('\n')
		require.NoError(t, err)

		data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: ")

		if !ok {
			continue
		}

		var reading device.Reading
		require.NoError(t, json.Unmarshal([]byte(data), &reading))
		events = append(events, reading)
	}

	assert.Equal(t, uint16(80), events[0].HeartRate)
	assert.True(t, events[1].IsSentinel())
}

func TestWebsocket(t *testing.T) {
	ts, h, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	h.Publish(testReading(90))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var reading device.Reading
	require.NoError(t, conn.ReadJSON(&reading))

	assert.Equal(t, uint16(90), reading.HeartRate)
	assert.True(t, reading.DeviceConnected)
}

func TestWebsocketRejectsForeignOrigin(t *testing.T) {
	a := &api{allowedOrigins: []string{"http://dashboard.local"}}

	req := httptest.NewRequest("GET", "http://monitor.local/ws", nil)

	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, a.checkOrigin(req))

	req.Header.Set("Origin", "http://dashboard.local")
	assert.True(t, a.checkOrigin(req))

	req.Header.Set("Origin", "http://monitor.local")
	assert.True(t, a.checkOrigin(req))
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
