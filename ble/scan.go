package ble

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/robertof/go-heartrate-monitor/device"
	"github.com/rs/zerolog/log"
)

func WrapContextWithSigHandler(ctx context.Context, cancel func()) context.Context {
  return ble.WithSigHandler(ctx, cancel)
}

// Perform an active or passive scan and return every advertisement found.
func (h *Handle) ScanAll(ctx context.Context, onDevice func(Advertisement)) error {
  err := h.dev.Scan(ctx, true, onDevice)

  if err != nil {
    return fmt.Errorf("failed to initiate scan: %w", err)
  }

  return nil
}

func advertisesService(a Advertisement, uuid ble.UUID) bool {
  for _, u := range a.Services() {
    if u.Equal(uuid) {
      return true
    }
  }

  return false
}

// Discover scans for peripherals advertising the requested service and sends each of them
// on the returned channel, which is closed when scanning stops.
func (h *Handle) Discover(ctx context.Context, svc device.UUID) (<-chan device.Peripheral, error) {
  if err := h.WaitAvailable(ctx); err != nil {
    return nil, err
  }

  uuid := UUID16(svc)
  out := make(chan device.Peripheral)

  ctx, cancel := context.WithCancel(ctx)

  callback := func(a Advertisement) {
    // the BLE lib could send an advertisement even after `Scan()` returns. do not waste
    // time enqueueing data if we're done.
    select {
    case <-ctx.Done():
      return
    default:
    }

    if !advertisesService(a, uuid) {
      return
    }

    log.Trace().
      Str("Advertisement", fmt.Sprintf("%+v", a)).
      Msg("ble: received matching advertisement")

    p := &peripheral{
      h:    h,
      addr: a.Addr(),
      name: a.LocalName(),
    }

    select {
    case <-ctx.Done():
    case out <- p:
    }
  }

  go func() {
    defer close(out)
    defer cancel()

    log.Debug().Stringer("Service", svc).Msg("ble: scanning for peripherals")

    err := h.dev.Scan(ctx, false, callback)

    // swallow context.Canceled errors which are caused by our explicit cancellations.
    if err != nil && !errors.Is(err, context.Canceled) {
      log.Warn().Err(err).Msg("ble: scan ended with an error")
    }
  }()

  return out, nil
}
