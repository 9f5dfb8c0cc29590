package api

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"evsiting/internal/config"
	"evsiting/internal/metrics"
	"evsiting/internal/opt"
	"evsiting/internal/store"
	"evsiting/internal/webhooks"
)

type Server struct {
	Store    store.Store
	Broker   EventBroker
	Log      *zap.Logger
	Config   config.Config
	Scenario opt.Scenario

	runs    *runManager
	limiter *rate.Limiter
	closers []io.Closer
	stop    context.CancelFunc
}

// NewServer wires the store, broker and run manager from cfg. An empty
// DatabaseURL selects the in-memory store; an empty RedisURL the in-process
// broker.
func NewServer(ctx context.Context, cfg config.Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	scenario, err := resolveScenario(cfg)
	if err != nil {
		return nil, err
	}
	s := &Server{Log: log, Config: cfg, Scenario: scenario}

	if cfg.DatabaseURL == "" {
		s.Store = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.DBMigrate {
			if err := pg.Migrate(ctx); err != nil {
				_ = pg.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		s.Store = pg
		s.closers = append(s.closers, pg)
	}

	s.Broker = NewBroker()
	if cfg.RedisURL != "" {
		rb, err := NewRedisBroker(ctx, cfg.RedisURL, log)
		if err != nil {
			log.Warn("redis unavailable, using in-process broker", zap.Error(err))
		} else {
			s.Broker = rb
			s.closers = append(s.closers, rb)
		}
	}

	s.limiter = rate.NewLimiter(rate.Inf, 0)
	if cfg.RateRPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateRPS), max(cfg.RateBurst, 1))
	}
	base, stop := context.WithCancel(context.WithoutCancel(ctx))
	s.stop = stop
	s.runs = newRunManager(base, s.Store, s.Broker, log, cfg.Solver, cfg.ProgressRPS)
	if cfg.Webhook.URL != "" {
		s.runs.notify = webhooks.NewNotifier(cfg.Webhook.URL, cfg.Webhook.Secret, cfg.Webhook.MaxAttempts, log)
	}
	return s, nil
}

func resolveScenario(cfg config.Config) (opt.Scenario, error) {
	if cfg.ScenarioFile != "" {
		return opt.LoadScenario(cfg.ScenarioFile)
	}
	name := cfg.Scenario
	if name == "" {
		name = opt.ScenarioBaseline
	}
	sc, ok := opt.Preset(name)
	if !ok {
		return opt.Scenario{}, fmt.Errorf("unknown scenario %q", name)
	}
	return sc, nil
}

// Handler returns the routed API with request logging and metrics.
func (s *Server) Handler() http.Handler {
	metrics.RegisterDefault()
	mux := http.NewServeMux()

	// Inputs
	mux.HandleFunc("/v1/dataset", s.DatasetHandler)

	// Runs
	mux.HandleFunc("/v1/runs", s.RunsHandler)
	mux.HandleFunc("/v1/runs/", s.RunByIDHandler) // includes /solutions, /convergence, /failures, /events/stream, /cancel
	mux.HandleFunc("/v1/ws", s.WSHandler)
	mux.HandleFunc("/v1/scenarios", s.ScenariosHandler)

	// Health
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)

	// Admin
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/vars.json", s.DebugJSON)

	// Docs
	mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("/openapi.json", s.OpenAPIHandler)
	mux.HandleFunc("/docs", s.DocsHandler)

	return s.observe(mux)
}

// Shutdown cancels the active run, waits for it to persist its state and
// releases the store and broker.
func (s *Server) Shutdown(ctx context.Context) error {
	if id := s.runs.Active(); id != "" {
		s.runs.Cancel(id)
	}
	err := s.runs.Wait(ctx)
	s.stop()
	for _, c := range s.closers {
		_ = c.Close()
	}
	return err
}
