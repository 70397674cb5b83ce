package web

import (
  "context"
  "encoding/json"
  "fmt"
  "net/http"
  "slices"
  "time"

  "github.com/gorilla/websocket"
  "github.com/robertof/go-heartrate-monitor/hub"
  "github.com/rs/zerolog/log"
)

const (
  wsWriteTimeout = 5 * time.Second
  wsPingInterval = 30 * time.Second
)

type api struct {
  hub            *hub.Hub
  latest         *hub.Latest
  allowedOrigins []string
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
  w.Header().Set("Content-Type", "text/plain; charset=utf-8")
  w.WriteHeader(http.StatusOK)
  w.Write([]byte("OK"))
}

// latestHandler returns the most recent reading, or 204 when nothing was published yet.
func (a *api) latestHandler(w http.ResponseWriter, _ *http.Request) {
  reading, ok := a.latest.Latest()

  if !ok {
    w.WriteHeader(http.StatusNoContent)
    return
  }

  w.Header().Set("Content-Type", "application/json")

  if err := json.NewEncoder(w).Encode(reading); err != nil {
    log.Debug().Err(err).Msg("web: failed to write latest reading")
  }
}

// streamHandler sends every reading published after the request started as a Server-Sent
// Event carrying the JSON reading.
func (a *api) streamHandler(w http.ResponseWriter, r *http.Request) {
  flusher, ok := w.(http.Flusher)

  if !ok {
    http.Error(w, "streaming unsupported", http.StatusInternalServerError)
    return
  }

  sub := a.hub.Subscribe()
  defer sub.Close()

  w.Header().Set("Content-Type", "text/event-stream")
  w.Header().Set("Cache-Control", "no-cache")
  w.Header().Set("Connection", "keep-alive")
  w.WriteHeader(http.StatusOK)

  fmt.Fprint(w, ": connected\n\n")
  flusher.Flush()

  log.Debug().Str("Remote", r.RemoteAddr).Uint64("Subscription", sub.ID()).Msg("web: event stream opened")

  for {
    reading, err := sub.Next(r.Context())

    if err != nil {
      log.Debug().Err(err).Str("Remote", r.RemoteAddr).Msg("web: event stream closed")
      return
    }

    payload, err := json.Marshal(reading)

    if err != nil {
      log.Error().Err(err).Msg("web: failed to encode reading")
      continue
    }

    if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
      log.Debug().Err(err).Str("Remote", r.RemoteAddr).Msg("web: event stream write failed")
      return
    }

    flusher.Flush()
  }
}

func (a *api) checkOrigin(r *http.Request) bool {
  origin := r.Header.Get("Origin")

  if origin == "" || slices.Contains(a.allowedOrigins, "*") {
    return true
  }

  if slices.Contains(a.allowedOrigins, origin) {
    return true
  }

  // same-origin requests are always fine.
  return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// websocketHandler pushes each reading as a JSON text message. Messages from the client are
// read and discarded, only to notice when it goes away.
func (a *api) websocketHandler(w http.ResponseWriter, r *http.Request) {
  upgrader := websocket.Upgrader{
    CheckOrigin: a.checkOrigin,
  }

  // subscribe before upgrading, readings published once the client sees the handshake
  // complete must not be missed.
  sub := a.hub.Subscribe()
  defer sub.Close()

  conn, err := upgrader.Upgrade(w, r, nil)

  if err != nil {
    // Upgrade already replied to the client.
    log.Debug().Err(err).Str("Remote", r.RemoteAddr).Msg("web: websocket upgrade failed")
    return
  }

  defer conn.Close()

  ctx, cancel := context.WithCancel(r.Context())
  defer cancel()

  go func() {
    defer cancel()

    for {
      if _, _, err := conn.ReadMessage(); err != nil {
        return
      }
    }
  }()

  log.Debug().Str("Remote", r.RemoteAddr).Uint64("Subscription", sub.ID()).Msg("web: websocket opened")

  readings := sub.Stream(ctx)
  ping := time.NewTicker(wsPingInterval)
  defer ping.Stop()

  for {
    select {
    case <-ctx.Done():
      conn.WriteControl(
        websocket.CloseMessage,
        websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
        time.Now().Add(wsWriteTimeout),
      )
      log.Debug().Str("Remote", r.RemoteAddr).Msg("web: websocket closed")
      return
    case <-ping.C:
      if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
        return
      }
    case reading, ok := <-readings:
      if !ok {
        return
      }

      conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))

      if err := conn.WriteJSON(reading); err != nil {
        log.Debug().Err(err).Str("Remote", r.RemoteAddr).Msg("web: websocket write failed")
        return
      }
    }
  }
}
