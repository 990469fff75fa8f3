// Package app contains the top-level orchestration for host and client roles.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/blobrepl/internal/config"
	"github.com/1ureka/blobrepl/internal/replication"
	"github.com/1ureka/blobrepl/internal/store"
	"github.com/1ureka/blobrepl/internal/transport"
	"github.com/1ureka/blobrepl/internal/util"
)

const shutdownTimeout = 5 * time.Second

// App runs replication sessions for one local store.
type App struct {
	cfg     config.Config
	store   store.Store
	metrics *replication.Metrics
	log     *util.Logger
}

// New creates an App serving st. Every session it starts shares one set
// of metrics.
func New(cfg config.Config, st store.Store) *App {
	return &App{
		cfg:     cfg,
		store:   st,
		metrics: replication.NewMetrics(),
		log:     util.NewLogger(nil),
	}
}

// Metrics returns the counters shared by the App's sessions.
func (a *App) Metrics() *replication.Metrics {
	return a.metrics
}

// Run opens the configured store and runs the configured role until it
// completes (client) or ctx is cancelled (host).
func Run(ctx context.Context, cfg config.Config) error {
	st, closeStore, err := OpenStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	a := New(cfg, st)

	g, ctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	if cfg.Metrics != "" {
		g.Go(func() error {
			return a.serveMetrics(runCtx, cfg.Metrics)
		})
	}
	if cfg.StatsInterval > 0 {
		util.StartStatsReporter(runCtx, cfg.StatsInterval)
	}

	g.Go(func() error {
		// Auxiliary servers stop with the role.
		defer stop()
		return a.run(runCtx)
	})
	return g.Wait()
}

func (a *App) run(ctx context.Context) error {
	switch a.cfg.Role() {
	case config.RoleHost:
		switch a.cfg.Transport {
		case config.TransportTCP:
			return a.ListenTCP(ctx, a.cfg.Listen)
		case config.TransportWS:
			return a.ListenWS(ctx, a.cfg.Listen)
		case config.TransportWebRTC:
			return a.HostWebRTC(ctx, a.cfg.Listen)
		}
	case config.RoleClient:
		switch a.cfg.Transport {
		case config.TransportTCP:
			return a.DialTCP(ctx, a.cfg.Connect)
		case config.TransportWS:
			return a.DialWS(ctx, a.cfg.Connect)
		case config.TransportWebRTC:
			return a.DialWebRTC(ctx, a.cfg.Connect)
		}
	}
	return fmt.Errorf("unsupported transport %q", a.cfg.Transport)
}

// replicate runs one session over d. Run closes d.
func (a *App) replicate(ctx context.Context, peer string, d transport.Duplex) error {
	log := a.log.With("peer", peer)
	sess := replication.New(a.store, replication.Config{
		Mode:            a.cfg.Mode,
		Filter:          a.cfg.FilterFunc(),
		Logger:          log,
		Metrics:         a.metrics,
		StrictAnomalies: a.cfg.Strict,
		OnProgress: func(transferred, total int) {
			log.Debug("progress", "transferred", transferred, "total", total)
		},
	})
	log.Info("session started", "session", sess.ID())
	return sess.Run(ctx, transport.NewStream(d, transport.WithMaxFrameSize(a.cfg.MaxFrameSize)))
}

// MetricsHandler exposes the App's counters in the Prometheus text format.
func (a *App) MetricsHandler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(a.metrics.Collectors()...)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (a *App) serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	util.LogInfo("serving metrics on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
