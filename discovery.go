package main

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/exp/maps"
	"tinygo.org/x/bluetooth"

	"github.com/robertof/go-heartrate-monitor/ble"
	"github.com/robertof/go-heartrate-monitor/bluez"
	"github.com/robertof/go-heartrate-monitor/device"
)

type advertisement struct {
  addr        string
  name        string
  rssi        int
  connectable bool
  services    []string
}

type deviceInfo struct {
  name        string
  rssi        int
  connectable bool
  services    map[string]bool
}

func (d deviceInfo) isHeartRateMonitor() bool {
  return d.services[device.HeartRateService.String()]
}

// discoveredDevices merges advertisements by address.
type discoveredDevices map[string]*deviceInfo

func (d discoveredDevices) add(a advertisement) {
  addr := strings.ToLower(a.addr)
  info, ok := d[addr]

  if !ok {
    info = &deviceInfo{services: make(map[string]bool)}
    d[addr] = info
  }

  // merge
  if info.name == "" {
    info.name = a.name
  }

  info.rssi = a.rssi
  info.connectable = info.connectable || a.connectable

  for _, uuid := range a.services {
    info.services[uuid] = true
  }

  log.Debug().
    Str("Addr", a.addr).
    Str("Name", a.name).
    Int("RSSI", a.rssi).
    Bool("Connectable", a.connectable).
    Strs("Services", maps.Keys(info.services)).
    Msg("Received device advertisement")
}

func doDeviceDiscovery(parent context.Context, cfg config) {
  log.Info().
    Dur("DurationSec", cfg.DiscoverDuration).
    Msg("Starting in device discovery mode - looking for heart rate sensors...")

  ctx, cancel := context.WithTimeout(parent, cfg.DiscoverDuration)
  defer cancel()

  devices := make(discoveredDevices)

  var err error

  if cfg.Backend == backendBlueZ {
    err = scanBlueZ(ctx, devices)
  } else {
    err = scanHCI(ctx, cfg, devices)
  }

  if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
    log.Fatal().Err(err).Msg("Failed to initiate scan")
  }

  found := 0

  for addr, data := range devices {
    if !data.isHeartRateMonitor() {
      continue
    }

    found++

    log.Info().
      Str("Addr", addr).
      Str("Name", data.name).
      Int("RSSI", data.rssi).
      Bool("Connectable", data.connectable).
      Strs("Services", maps.Keys(data.services)).
      Msg("Found heart rate sensor")
  }

  log.Info().
    Int("Found", found).
    Int("Seen", len(devices)).
    Msg("Finished device discovery")
}

func scanHCI(ctx context.Context, cfg config, devices discoveredDevices) error {
  handle, err := ble.InitWithConnParams(cfg.BluetoothDeviceId, cfg.BluetoothConnParams, ble.FlagScanTypeActive)

  if err != nil {
    log.Fatal().Err(err).Msg("Failed to initialize Bluetooth device")
  }

  defer handle.Stop()

  return handle.ScanAll(ctx, func(a ble.Advertisement) {
    services := make([]string, 0, len(a.Services()))

    for _, uuid := range a.Services() {
      services = append(services, uuid.String())
    }

    devices.add(advertisement{
      addr:        a.Addr().String(),
      name:        a.LocalName(),
      rssi:        a.RSSI(),
      connectable: a.Connectable(),
      services:    services,
    })
  })
}

// scanBlueZ only reports the heart rate service out of each advertisement. Connectability
// is not exposed portably and is left unset.
func scanBlueZ(ctx context.Context, devices discoveredDevices) error {
  adapter := bluez.New()
  hrService := bluez.UUID16(device.HeartRateService)

  return adapter.Scan(ctx, func(r bluetooth.ScanResult) {
    var services []string

    if r.HasServiceUUID(hrService) {
      services = append(services, device.HeartRateService.String())
    }

    devices.add(advertisement{
      addr:        r.Address.String(),
      name:        r.LocalName(),
      rssi:     int(r.RSSI),
      services: services,
    })
  })
}
