package hub

import (
  "context"
  "sync"
  "time"

  "github.com/robertof/go-heartrate-monitor/device"
  "github.com/rs/zerolog/log"
)

// Latest keeps the most recent reading published on a hub.
type Latest struct {
  sub *Subscription

  mu        sync.Mutex
  reading   device.Reading
  has       bool
  updatedAt time.Time
  // closed and replaced on every update.
  updated chan struct{}
  started bool
}

// NewLatest subscribes to h right away, so no reading published after this call is missed
// even if Run starts later. The tracker is an internal subscriber: it does not count as a
// consumer of the hub.
func NewLatest(h *Hub) *Latest {
  return &Latest{
    sub:     h.subscribe(true),
    updated: make(chan struct{}),
  }
}

func (l *Latest) Update(r device.Reading) {
  l.mu.Lock()
  defer l.mu.Unlock()

  l.reading = r
  l.has = true
  l.updatedAt = time.Now()

  close(l.updated)
  l.updated = make(chan struct{})
}

// Latest returns the last reading seen, if any.
func (l *Latest) Latest() (device.Reading, bool) {
  l.mu.Lock()
  defer l.mu.Unlock()

  return l.reading, l.has
}

// UpdatedAt is the time the last reading was received from the hub.
func (l *Latest) UpdatedAt() time.Time {
  l.mu.Lock()
  defer l.mu.Unlock()

  return l.updatedAt
}

// WaitLatest returns the last reading seen, waiting for the first one if nothing has been
// published yet.
func (l *Latest) WaitLatest(ctx context.Context) (device.Reading, error) {
  l.mu.Lock()
  r, has, updated := l.reading, l.has, l.updated
  l.mu.Unlock()

  if has {
    return r, nil
  }

  select {
  case <-ctx.Done():
    return device.Reading{}, ctx.Err()
  case <-updated:
  }

  r, _ = l.Latest()

  return r, nil
}

// WaitNext blocks until a reading newer than the current one arrives.
func (l *Latest) WaitNext(ctx context.Context) (device.Reading, error) {
  l.mu.Lock()
  updated := l.updated
  l.mu.Unlock()

  select {
  case <-ctx.Done():
    return device.Reading{}, ctx.Err()
  case <-updated:
  }

  r, _ := l.Latest()

  return r, nil
}

// Run consumes the hub until ctx is done.
func (l *Latest) Run(ctx context.Context) error {
  l.mu.Lock()
  started := l.started
  l.started = true
  l.mu.Unlock()

  if started {
    panic("attempted to call hub.Latest.Run() twice")
  }

  defer l.sub.Close()

  log.Debug().Uint64("Subscription", l.sub.ID()).Msg("Starting latest reading tracker")

  for {
    r, err := l.sub.Next(ctx)

    if err != nil {
      log.Debug().Err(err).Msg("Latest reading tracker is shutting down")
      return err
    }

    log.Trace().Stringer("Reading", r).Msg("Latest reading updated")

    l.Update(r)
  }
}
