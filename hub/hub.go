package hub

import (
  "context"
  "errors"
  "sync"

  "github.com/hedzr/go-ringbuf/v2/mpmc"
  "github.com/robertof/go-heartrate-monitor/device"
  "github.com/rs/zerolog/log"
)

const (
  DefaultCapacity uint32 = 100
  // MaxCapacity bounds the per-subscriber buffer.
  MaxCapacity uint32 = 1 << 16
)

var ErrClosed = errors.New("subscription closed")

// Hub fans every published reading out to all current subscribers. Each subscriber owns a
// bounded buffer; when it fills up, the oldest readings are overwritten so Publish never
// blocks.
//
// Internal subscriptions (the Latest tracker) receive every reading like the others, but they
// do not count as somebody consuming the data: Subscribers, the Publish result and the
// unobserved warning only consider external subscriptions.
type Hub struct {
  capacity uint32

  mu       sync.RWMutex
  subs     map[uint64]*Subscription
  external int
  nextID   uint64

  // set while readings are being published with nobody listening.
  unobserved bool
}

func New(capacity uint32) *Hub {
  if capacity == 0 {
    capacity = DefaultCapacity
  }

  if capacity > MaxCapacity {
    capacity = MaxCapacity
  }

  return &Hub{
    capacity: capacity,
    subs:     make(map[uint64]*Subscription),
  }
}

func (h *Hub) Capacity() uint32 {
  return h.capacity
}

// Subscribers is the number of external subscriptions.
func (h *Hub) Subscribers() int {
  h.mu.RLock()
  defer h.mu.RUnlock()

  return h.external
}

// Subscribe returns a handle receiving every reading published from now on.
func (h *Hub) Subscribe() *Subscription {
  return h.subscribe(false)
}

func (h *Hub) subscribe(internal bool) *Subscription {
  h.mu.Lock()
  defer h.mu.Unlock()

  h.nextID++

  s := &Subscription{
    id:       h.nextID,
    hub:      h,
    internal: internal,
    capacity: h.capacity,
    // the ring keeps one slot free, push trims it back to capacity.
    buffer: mpmc.NewOverlappedRingBuffer[device.Reading](h.capacity + 1),
    notify: make(chan struct{}, 1),
    closed: make(chan struct{}),
  }

  h.subs[s.id] = s

  if !internal {
    h.external++
    h.unobserved = false

    subscribersGauge.Inc()
  }

  log.Debug().
    Uint64("Subscription", s.id).
    Bool("Internal", internal).
    Int("Subscribers", h.external).
    Msg("New hub subscriber")

  return s
}

func (h *Hub) unsubscribe(s *Subscription) {
  h.mu.Lock()
  defer h.mu.Unlock()

  if _, ok := h.subs[s.id]; !ok {
    return
  }

  delete(h.subs, s.id)

  if !s.internal {
    h.external--

    subscribersGauge.Dec()
  }

  log.Debug().Uint64("Subscription", s.id).Int("Subscribers", h.external).Msg("Hub subscriber left")
}

// Publish delivers r to every subscriber and returns how many external ones were reached.
// Publishing with no external subscribers is not an error, but it is logged once until
// somebody subscribes again.
func (h *Hub) Publish(r device.Reading) int {
  h.mu.RLock()

  n := 0
  external := h.external

  for _, s := range h.subs {
    if s.push(r) && !s.internal {
      n++
    }
  }

  h.mu.RUnlock()

  if external == 0 {
    h.markUnobserved(r)
  }

  return n
}

func (h *Hub) markUnobserved(r device.Reading) {
  unobservedCounter.Inc()

  h.mu.Lock()
  first := !h.unobserved && h.external == 0
  if first {
    h.unobserved = true
  }
  h.mu.Unlock()

  if first {
    log.Warn().
      Stringer("Reading", r).
      Msg("Published a reading with no subscribers, nothing is consuming heart rate data")
  } else {
    log.Trace().Stringer("Reading", r).Msg("Reading published with no subscribers")
  }
}

// Subscription is a single consumer of the hub. Its methods are safe for concurrent use, but
// each reading is handed to only one caller.
type Subscription struct {
  id       uint64
  hub      *Hub
  internal bool

  capacity uint32
  buffer   mpmc.RichOverlappedRingBuffer[device.Reading]
  notify   chan struct{}

  closed    chan struct{}
  closeOnce sync.Once
}

func (s *Subscription) ID() uint64 {
  return s.id
}

func (s *Subscription) push(r device.Reading) bool {
  select {
  case <-s.closed:
    return false
  default:
  }

  overwrites, err := s.buffer.EnqueueM(r)

  if err != nil {
    log.Error().Err(err).Uint64("Subscription", s.id).Msg("Unable to buffer reading for subscriber")
    return false
  }

  // a reader may dequeue concurrently, so a failed Dequeue just means there is room again.
  for s.buffer.Size() > s.capacity {
    if _, err := s.buffer.Dequeue(); err != nil {
      break
    }

    overwrites++
  }

  if overwrites > 0 {
    droppedCounter.Add(float64(overwrites))
  }

  select {
  case s.notify <- struct{}{}:
  default:
  }

  return true
}

// TryNext returns the oldest buffered reading without blocking.
func (s *Subscription) TryNext() (device.Reading, bool) {
  if s.buffer.IsEmpty() {
    return device.Reading{}, false
  }

  r, err := s.buffer.Dequeue()

  if err != nil {
    // lost a race with another reader.
    return device.Reading{}, false
  }

  return r, true
}

// Next blocks until a reading is available, ctx is done or the subscription is closed.
func (s *Subscription) Next(ctx context.Context) (device.Reading, error) {
  for {
    if r, ok := s.TryNext(); ok {
      return r, nil
    }

    select {
    case <-ctx.Done():
      return device.Reading{}, ctx.Err()
    case <-s.closed:
      return device.Reading{}, ErrClosed
    case <-s.notify:
    }
  }
}

// Stream forwards readings to the returned channel until ctx is done or the subscription is
// closed, then closes it.
func (s *Subscription) Stream(ctx context.Context) <-chan device.Reading {
  ch := make(chan device.Reading)

  go func() {
    defer close(ch)

    for {
      r, err := s.Next(ctx)

      if err != nil {
        return
      }

      select {
      case <-ctx.Done():
        return
      case <-s.closed:
        return
      case ch <- r:
      }
    }
  }()

  return ch
}

// Close detaches the subscription from the hub. Pending readings are discarded.
func (s *Subscription) Close() {
  s.closeOnce.Do(func() {
    s.hub.unsubscribe(s)
    close(s.closed)
  })
}
