package ble

import (
	"context"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robertof/go-heartrate-monitor/device"
	"github.com/rs/zerolog/log"
)

var (
	successfulConnectionsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "heartrate_monitor_ble_successful_connections_total",
	})
	failedConnectionsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "heartrate_monitor_ble_failed_connections_total",
	})
	connectionsFromPoolCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "heartrate_monitor_ble_reused_connections_total",
	})
	disconnectsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "heartrate_monitor_ble_disconnections_total",
	})
	notificationsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "heartrate_monitor_ble_notifications_total",
	})
)

type connectionPool struct {
	mu sync.Mutex

	connections map[string]Client
}

func initConnectionPool() *connectionPool {
	return &connectionPool{
		connections: make(map[string]ble.Client),
	}
}

func poolKey(addr ble.Addr) string {
	return strings.ToLower(addr.String())
}

func (h *Handle) connect(ctx context.Context, addr ble.Addr) (Client, error) {
	if h.connPool == nil {
		c, err := ble.Dial(ctx, addr)

		if err == nil {
			successfulConnectionsCounter.Inc()
		} else {
			failedConnectionsCounter.Inc()
		}

		return c, err
	}

	addrStr := poolKey(addr)

	h.connPool.mu.Lock()
	defer h.connPool.mu.Unlock()

	if conn := h.connPool.connections[addrStr]; conn != nil {
		connectionsFromPoolCounter.Inc()
		log.Trace().Stringer("Addr", addr).Msg("ble: reusing connection from connection pool")
		return conn, nil
	}

	conn, err := ble.Dial(ctx, addr)

	if err != nil {
		failedConnectionsCounter.Inc()
		return nil, err
	}

	successfulConnectionsCounter.Inc()

	h.connPool.connections[addrStr] = conn
	log.Debug().Stringer("Addr", addr).Msg("ble: successfully opened new connection to device")

	// spawn a watchdog removing the entry from the connection pool when the connection breaks.
	go func() {
		<-conn.Disconnected()

		disconnectsCounter.Inc()
		log.Debug().Stringer("Addr", addr).Msg("ble: connection with device closed, cleaning up")

		h.connPool.mu.Lock()
		defer h.connPool.mu.Unlock()

		if h.connPool.connections[addrStr] == conn {
			delete(h.connPool.connections, addrStr)
		}
	}()

	return conn, nil
}

// ConnectedPeripherals returns the pooled connections still alive whose GATT table contains
// the requested service. Without a connection pool there is nothing to report.
func (h *Handle) ConnectedPeripherals(ctx context.Context, service device.UUID) ([]device.Peripheral, error) {
	if h.connPool == nil {
		return nil, nil
	}

	h.connPool.mu.Lock()
	clients := make([]Client, 0, len(h.connPool.connections))

	for _, conn := range h.connPool.connections {
		clients = append(clients, conn)
	}
	h.connPool.mu.Unlock()

	var out []device.Peripheral

	for _, c := range clients {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		if !isAlive(c) {
			continue
		}

		services, err := c.DiscoverServices([]ble.UUID{UUID16(service)})

		if err != nil {
			log.Debug().Err(err).Stringer("Addr", c.Addr()).Msg("ble: service discovery failed on pooled connection")
			continue
		}

		if len(services) == 0 {
			continue
		}

		out = append(out, &peripheral{
			h:      h,
			addr:   c.Addr(),
			name:   c.Name(),
			client: c,
		})
	}

	return out, nil
}

func isAlive(c Client) bool {
	select {
	case <-c.Disconnected():
		return false
	default:
		return true
	}
}

// Clear the connection pool (if any) and close all connections.
func (h *Handle) DisconnectAll() {
	if h.connPool == nil {
		return
	}

	h.connPool.mu.Lock()
	defer h.connPool.mu.Unlock()

	for _, conn := range h.connPool.connections {
		conn.CancelConnection()
	}

	h.connPool.connections = make(map[string]ble.Client)
}
