package web

import (
  "context"
  "errors"
  "net"
  "net/http"
  "time"

  "github.com/gorilla/handlers"
  "github.com/prometheus/client_golang/prometheus"
  "github.com/robertof/go-heartrate-monitor/hub"
  "github.com/rs/zerolog"
  "github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
  BindAddress    string
  AllowedOrigins []string

  hub      *hub.Hub
  latest   *hub.Latest
  gatherer prometheus.Gatherer
}

func NewServer(bind string, h *hub.Hub, latest *hub.Latest, gatherer prometheus.Gatherer) *Server {
  return &Server{
    BindAddress: bind,
    hub:         h,
    latest:      latest,
    gatherer:    gatherer,
  }
}

// Handler builds the complete handler chain: router, CORS when origins are configured, and
// the access log.
func (s *Server) Handler() http.Handler {
  var handler http.Handler = NewRouter(s.hub, s.latest, s.gatherer, s.AllowedOrigins)

  if len(s.AllowedOrigins) > 0 {
    handler = handlers.CORS(
      handlers.AllowedOrigins(s.AllowedOrigins),
      handlers.AllowedMethods([]string{"GET", "OPTIONS"}),
    )(handler)
  }

  accessLog := log.Logger.With().Str("Component", "http").Logger().Level(zerolog.DebugLevel)

  return handlers.LoggingHandler(accessLog, handler)
}

// Run serves HTTP until ctx is done, then shuts the server down gracefully.
func (s *Server) Run(ctx context.Context) error {
  listener, err := net.Listen("tcp", s.BindAddress)

  if err != nil {
    return err
  }

  return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
  srv := &http.Server{
    Handler:           s.Handler(),
    ReadHeaderTimeout: 10 * time.Second,
    BaseContext: func(net.Listener) context.Context {
      return ctx
    },
  }

  log.Info().
    Str("ListenAddress", listener.Addr().String()).
    Strs("AllowedOrigins", s.AllowedOrigins).
    Msg("Starting HTTP server")

  errCh := make(chan error, 1)

  go func() {
    errCh <- srv.Serve(listener)
  }()

  select {
  case err := <-errCh:
    return err
  case <-ctx.Done():
  }

  log.Info().Msg("HTTP server is shutting down")

  shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
  defer cancel()

  if err := srv.Shutdown(shutdownCtx); err != nil {
    return err
  }

  if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
    return err
  }

  return nil
}
