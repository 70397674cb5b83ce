package web

import (
  "github.com/gorilla/mux"
  "github.com/prometheus/client_golang/prometheus"
  "github.com/prometheus/client_golang/prometheus/promhttp"
  "github.com/robertof/go-heartrate-monitor/hub"
)

func NewRouter(h *hub.Hub, latest *hub.Latest, gatherer prometheus.Gatherer, allowedOrigins []string) *mux.Router {
  a := &api{
    hub:            h,
    latest:         latest,
    allowedOrigins: allowedOrigins,
  }

  r := mux.NewRouter()

  r.HandleFunc("/health", healthHandler).Methods("GET")
  r.HandleFunc("/api/heart-rate", a.latestHandler).Methods("GET")
  r.HandleFunc("/api/heart-rate/stream", a.streamHandler).Methods("GET")
  r.HandleFunc("/ws", a.websocketHandler).Methods("GET")
  r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

  return r
}
