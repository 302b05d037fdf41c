package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/matst80/matchbox/internal/broker"
	"github.com/matst80/matchbox/internal/config"
	"github.com/matst80/matchbox/internal/obs"
	"github.com/matst80/matchbox/internal/ratelimit"
	"github.com/matst80/matchbox/internal/transport"
)

var (
	flagConfig   = kingpin.Flag("config", "Path to YAML configuration file.").Short('c').Default("").String()
	flagListen   = kingpin.Flag("listen", "Endpoint listen address, overrides the config file.").Default("").String()
	flagMetrics  = kingpin.Flag("metrics", "Metrics and dashboard listen address, overrides the config file.").Default("").String()
	flagLogLevel = kingpin.Flag("log.level", "Log level (trace, debug, info, warn, error).").Default("").String()
	flagPretty   = kingpin.Flag("log.pretty", "Human readable console output instead of JSON.").Bool()
)

func main() {
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	cfg, loadErr := loadConfig()
	obs.Setup(cfg.Log.Level, cfg.Log.Pretty)
	if loadErr != nil {
		obs.Error("config.load_failed", obs.Fields{"path": *flagConfig, "err": loadErr.Error()})
	}
	if err := cfg.Validate(); err != nil {
		obs.Error("config.invalid", obs.Fields{"err": err.Error()})
		os.Exit(1)
	}
	obs.Info("server.start", obs.Fields{"listen": cfg.Server.ListenAddr, "metrics": cfg.Server.MetricsAddr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := transport.NewRegistry()
	limiter := ratelimit.New(cfg.Limits.ConnectionsPerMinute, cfg.Limits.MessagesPerSecond)
	b := broker.New(registry)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); b.Run(ctx) }()
	wg.Add(1)
	go func() { defer wg.Done(); statsLoop(ctx, b, registry, limiter, cfg.GetStatsInterval()) }()

	ws := transport.NewServer(b, registry, limiter, cfg)
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Server.WSPath, ws.HandleWS)
	if cfg.Server.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(cfg.Server.StaticDir)))
	}
	app := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}

	hs := &health{}
	ops := opsServer(cfg.Server.MetricsAddr, b, registry, hs)

	go serve(app, "listen.app", stop)
	go serve(ops, "listen.metrics", stop)

	hs.setReady()
	obs.Info("server.ready", obs.Fields{})

	<-ctx.Done()
	obs.Info("server.shutdown.signal", obs.Fields{})
	hs.setClosing()

	grace, cancel := context.WithTimeout(context.Background(), cfg.GetShutdownGrace())
	defer cancel()
	_ = app.Shutdown(grace)
	registry.CloseAll()
	_ = ops.Shutdown(grace)
	wg.Wait()
	obs.Info("server.shutdown.complete", obs.Fields{})
}

// loadConfig merges file, environment and flag layers. A missing or broken
// config file falls back to defaults so the broker still comes up.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	var loadErr error
	if *flagConfig != "" {
		loaded, err := config.Load(*flagConfig)
		if err != nil {
			loadErr = err
		} else {
			cfg = loaded
		}
	}
	if *flagListen != "" {
		cfg.Server.ListenAddr = *flagListen
	}
	if *flagMetrics != "" {
		cfg.Server.MetricsAddr = *flagMetrics
	}
	if *flagLogLevel != "" {
		cfg.Log.Level = *flagLogLevel
	}
	if *flagPretty {
		cfg.Log.Pretty = true
	}
	return cfg, loadErr
}

func serve(s *http.Server, event string, stop func()) {
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		obs.Error(event, obs.Fields{"err": err.Error(), "addr": s.Addr})
		stop()
	}
}

type health struct {
	mu      sync.Mutex
	ready   bool
	closing bool
}

func (h *health) setReady() {
	h.mu.Lock()
	h.ready = true
	h.mu.Unlock()
}

func (h *health) setClosing() {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()
}

func (h *health) ok() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready && !h.closing
}
