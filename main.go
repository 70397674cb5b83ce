package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robertof/go-heartrate-monitor/ble"
	"github.com/robertof/go-heartrate-monitor/bluez"
	"github.com/robertof/go-heartrate-monitor/collector"
	"github.com/robertof/go-heartrate-monitor/device"
	"github.com/robertof/go-heartrate-monitor/hub"
	"github.com/robertof/go-heartrate-monitor/metrics"
	"github.com/robertof/go-heartrate-monitor/sink"
	"github.com/robertof/go-heartrate-monitor/web"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
  zerolog.DurationFieldUnit = time.Second
  zerolog.TimeFieldFormat = time.RFC3339Nano

  log.Logger = log.Output(zerolog.ConsoleWriter{
    Out: os.Stderr,
    TimeFormat: "15:04:05.000",
  })

  cfg := ParseArgs()

  zerolog.SetGlobalLevel(cfg.logLevel())

  ctx, cancel := rootContext(cfg)
  defer cancel()

  if cfg.DiscoverDevices {
    doDeviceDiscovery(ctx, cfg)
    return
  }

  log.Info().
    Str("Backend", cfg.Backend).
    Str("BindAddr", cfg.BindAddress).
    Int("BluetoothDeviceID", cfg.BluetoothDeviceId).
    Str("DeviceAddress", cfg.DeviceAddress).
    Uint32("BufferSize", cfg.BufferSize).
    Str("BackoffStrategy", cfg.BackoffStrategy).
    Dur("BackoffSec", cfg.Backoff).
    Msg("Starting with the specified configuration")

  registry := prometheus.NewRegistry()
  registry.MustRegister(
    collectors.NewGoCollector(),
    collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
  )

  collector.RegisterMetrics(registry)
  hub.RegisterMetrics(registry)
  sink.RegisterMetrics(registry)

  adapter, stopAdapter := initAdapter(cfg, registry)
  defer stopAdapter()

  h := hub.New(cfg.BufferSize)
  latest := hub.NewLatest(h)

  metrics.RegisterCollector(latest.Latest, registry)

  monitor := collector.NewMonitor(adapter, h)
  monitor.Backoff = cfg.backoff()
  monitor.Locator.Address = cfg.DeviceAddress

  server := web.NewServer(cfg.BindAddress, h, latest, registry)
  server.AllowedOrigins = cfg.CORSOrigins

  // a plain group: a failing consumer must not cancel the monitor.
  var g errgroup.Group

  runTask(&g, "latest", func() error { return latest.Run(ctx) })
  runTask(&g, "http", func() error { return server.Run(ctx) })

  for _, s := range initSinks(cfg) {
    // subscribe now, before the monitor publishes anything.
    sub := h.Subscribe()
    runTask(&g, s.Name(), func() error { return sink.Run(ctx, s, sub) })
  }

  runTask(&g, "monitor", func() error { return monitor.Run(ctx) })

  if err := g.Wait(); err != nil {
    log.Error().Err(err).Msg("Heart rate monitor stopped with errors")
    os.Exit(1)
  }

  log.Info().Msg("Heart rate monitor stopped")
}

// runTask runs fn in g. Failures are logged when they happen, cancellation is not a failure.
func runTask(g *errgroup.Group, name string, fn func() error) {
  g.Go(func() error {
    err := fn()

    if err == nil || errors.Is(err, context.Canceled) {
      log.Debug().Str("Task", name).Msg("Task finished")
      return nil
    }

    log.Error().Err(err).Str("Task", name).Msg("Task failed, the other tasks keep running")

    return fmt.Errorf("%s: %w", name, err)
  })
}

func rootContext(cfg config) (context.Context, context.CancelFunc) {
  if cfg.Backend == backendHCI {
    ctx, cancel := context.WithCancel(context.Background())

    return ble.WrapContextWithSigHandler(ctx, cancel), cancel
  }

  return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func initAdapter(cfg config, reg prometheus.Registerer) (device.Adapter, func()) {
  if cfg.Backend == backendBlueZ {
    bluez.RegisterMetrics(reg)

    return bluez.New(), func() {}
  }

  ble.RegisterMetrics(reg)

  handle := initBle(cfg)

  return handle, handle.Stop
}

func initBle(cfg config) *ble.Handle {
  var bleFlags ble.Flags = ble.FlagPersistConnections

  if cfg.ActiveScan {
    bleFlags |= ble.FlagScanTypeActive
  }

  var deviceAddresses []net.HardwareAddr

  if cfg.DeviceAddress != "" {
    addr, err := net.ParseMAC(cfg.DeviceAddress)

    if err != nil {
      log.Fatal().Err(err).Str("DeviceAddress", cfg.DeviceAddress).Msg("Invalid device address")
    }

    bleFlags |= ble.FlagEnableDeviceAllowList
    deviceAddresses = append(deviceAddresses, addr)
  }

  bleHandle, err := ble.InitWithConnParams(cfg.BluetoothDeviceId, cfg.BluetoothConnParams, bleFlags)

  if err != nil {
    log.Fatal().Err(err).Msg("Failed to initialize Bluetooth device")
  }

  if len(deviceAddresses) > 0 {
    if err := bleHandle.SetAllowListedAddresses(deviceAddresses); err != nil {
      log.Error().Err(err).Msg("Failed to set device allow list")
    }
  }

  return bleHandle
}

// initSinks builds the sinks enabled in cfg. A sink which cannot be created is logged and
// left out; the monitor runs regardless.
func initSinks(cfg config) []sink.Sink {
  var sinks []sink.Sink

  if cfg.MQTT.Broker != "" {
    if s, err := sink.NewMQTT(cfg.MQTT); err != nil {
      log.Error().Err(err).Str("Broker", cfg.MQTT.Broker).Msg("MQTT sink disabled")
    } else {
      sinks = append(sinks, s)
    }
  }

  if len(cfg.Kafka.Brokers) > 0 {
    if s, err := sink.NewKafka(cfg.Kafka); err != nil {
      log.Error().Err(err).Strs("Brokers", cfg.Kafka.Brokers).Msg("Kafka sink disabled")
    } else {
      sinks = append(sinks, s)
    }
  }

  if cfg.Redis.Addr != "" {
    sinks = append(sinks, sink.NewRedis(cfg.Redis))
  }

  return sinks
}
