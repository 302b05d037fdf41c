package main

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matst80/matchbox/internal/broker"
	"github.com/matst80/matchbox/internal/transport"
	"github.com/matst80/matchbox/internal/web"
)

// opsServer serves Prometheus metrics plus lightweight dashboard & state endpoints.
func opsServer(addr string, b *broker.Broker, reg *transport.Registry, hs *health) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/matchbox/metrics", promhttp.Handler())
	mux.HandleFunc("/matchbox/api/state", func(w http.ResponseWriter, r *http.Request) {
		doc, err := collectState(r.Context(), b, reg)
		if err != nil {
			http.Error(w, "state unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(doc)
	})
	mux.HandleFunc("/matchbox/dashboard", func(w http.ResponseWriter, r *http.Request) {
		doc, err := collectState(r.Context(), b, reg)
		if err != nil {
			http.Error(w, "state unavailable", http.StatusServiceUnavailable)
			return
		}
		var buf bytes.Buffer
		if err := web.Render(&buf, "dashboard", doc.toTemplateMap()); err != nil {
			w.WriteHeader(http.StatusNotImplemented)
			_, _ = w.Write([]byte("dashboard template missing"))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(buf.Bytes())
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !hs.ok() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return &http.Server{Addr: addr, Handler: mux}
}
