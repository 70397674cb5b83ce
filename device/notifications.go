package device

import "sync"

// NotificationStream hands payloads received by a platform callback over to the consumer of
// Characteristic.Subscribe. Deliver and Close may race: Close always wins, and a Deliver
// waiting on a full buffer gives up as soon as the stream is closed.
type NotificationStream struct {
  ch   chan Notification
  done chan struct{}

  mu        sync.Mutex
  closed    bool
  closeOnce sync.Once
}

func NewNotificationStream(buffer int) *NotificationStream {
  return &NotificationStream{
    ch:   make(chan Notification, buffer),
    done: make(chan struct{}),
  }
}

// C is the channel returned to subscribers.
func (s *NotificationStream) C() <-chan Notification {
  return s.ch
}

// Deliver copies value into the stream, blocking while the buffer is full. It reports false
// if the stream was closed before the value could be queued.
func (s *NotificationStream) Deliver(value []byte) bool {
  s.mu.Lock()
  defer s.mu.Unlock()

  if s.closed {
    return false
  }

  // platform stacks reuse their buffers.
  n := Notification{Value: append([]byte(nil), value...)}

  select {
  case s.ch <- n:
    return true
  case <-s.done:
    return false
  }
}

// Close ends the stream. Safe to call more than once.
func (s *NotificationStream) Close() {
  s.closeOnce.Do(func() {
    // releases a Deliver blocked on a full buffer before taking the lock it holds.
    close(s.done)

    s.mu.Lock()
    defer s.mu.Unlock()

    s.closed = true
    close(s.ch)
  })
}
