package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/vango-go/vai-rooms/pkg/gateway/bots"
	"github.com/vango-go/vai-rooms/pkg/gateway/bots/launcher"
	"github.com/vango-go/vai-rooms/pkg/gateway/bots/registry"
	"github.com/vango-go/vai-rooms/pkg/gateway/config"
	"github.com/vango-go/vai-rooms/pkg/gateway/handlers"
	"github.com/vango-go/vai-rooms/pkg/gateway/interview"
	"github.com/vango-go/vai-rooms/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-rooms/pkg/gateway/metrics"
	"github.com/vango-go/vai-rooms/pkg/gateway/mw"
	"github.com/vango-go/vai-rooms/pkg/gateway/ratelimit"
	"github.com/vango-go/vai-rooms/pkg/gateway/rooms/daily"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	manager      *lifecycle.Manager
	orchestrator *bots.Orchestrator
	metrics      *metrics.Metrics
	limiter      *ratelimit.Limiter
	interview    *interview.Service
}

// Option overrides a collaborator, mostly for tests.
type Option func(*options)

type options struct {
	provisioner  bots.Provisioner
	launcher     bots.Launcher
	completer    interview.Completer
	workerStdout io.Writer
	workerStderr io.Writer
}

func WithProvisioner(p bots.Provisioner) Option {
	return func(o *options) { o.provisioner = p }
}

func WithLauncher(l bots.Launcher) Option {
	return func(o *options) { o.launcher = l }
}

func WithCompleter(c interview.Completer) Option {
	return func(o *options) { o.completer = c }
}

// WithWorkerOutput redirects worker stdout/stderr. Defaults to the
// orchestrator's own streams.
func WithWorkerOutput(stdout, stderr io.Writer) Option {
	return func(o *options) {
		o.workerStdout = stdout
		o.workerStderr = stderr
	}
}

// New wires the gateway. The returned server owns the lifecycle manager;
// callers must call Shutdown on every exit path once New succeeds.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	reg := registry.New()
	m := metrics.New("", reg.Running)
	manager := lifecycle.NewManager(lifecycle.ManagerConfig{
		Registry:              reg,
		Logger:                logger,
		KillTimeout:           cfg.BotKillTimeout,
		ReapInterval:          cfg.BotReapInterval,
		ReapGrace:             cfg.BotReapGrace,
		ConnectTimeout:        cfg.UpstreamConnectTimeout,
		ResponseHeaderTimeout: cfg.UpstreamResponseHeaderTimeout,
		OnReap:                m.Reaped,
	})

	provisioner := o.provisioner
	if provisioner == nil {
		provisioner = daily.NewClient(daily.Config{
			APIKey:        cfg.DailyAPIKey,
			BaseURL:       cfg.DailyAPIURL,
			SampleRoomURL: cfg.DailySampleRoomURL,
			Expiry:        cfg.DailyRoomExpiry,
		}, manager.HTTPClient())
	}

	var bl bots.Launcher = o.launcher
	if bl == nil {
		l, err := launcher.New(launcher.Config{
			Variant: string(cfg.BotImplementation),
			Command: cfg.Command(),
			Dir:     cfg.BotWorkDir,
			Stdout:  o.workerStdout,
			Stderr:  o.workerStderr,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("server: %w", err)
		}
		bl = l
	}

	orch, err := bots.New(bots.Options{
		Provisioner: provisioner,
		Launcher:    bl,
		Registry:    reg,
		Ceiling:     cfg.BotMaxPerRoom,
		Logger:      logger,
		Observer:    m,
		Drain:       manager,
		KillTimeout: cfg.BotKillTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	completer := o.completer
	if completer == nil && cfg.GeminiAPIKey != "" {
		gc, err := interview.NewGeminiCompleter(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, manager.HTTPClient())
		if err != nil {
			return nil, fmt.Errorf("server: %w", err)
		}
		completer = gc
	}
	if completer == nil {
		logger.Info("interview endpoints disabled: GEMINI_API_KEY not set")
	}

	s := &Server{
		cfg:          cfg,
		logger:       logger,
		mux:          http.NewServeMux(),
		manager:      manager,
		orchestrator: orch,
		metrics:      m,
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                   cfg.LimitRPS,
			Burst:                 cfg.LimitBurst,
			MaxConcurrentRequests: cfg.LimitMaxConcurrentRequests,
			CostlyRPS:             cfg.LimitCostlyPerMinute / 60,
			CostlyBurst:           cfg.LimitCostlyBurst,
		}),
		interview: interview.NewService(completer),
	}

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.Handle("GET /{$}", handlers.RootHandler{})
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:  s.cfg,
		Workers: s.manager.Registry(),
		Drain:   s.manager,
	})
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	s.mux.Handle("/daily/{$}", handlers.RedirectHandler{
		Sessions: s.orchestrator,
		Timeout:  s.cfg.HandlerTimeout,
		Logger:   s.logger,
	})
	s.mux.Handle("/daily/connect", handlers.ConnectHandler{
		Sessions: s.orchestrator,
		Timeout:  s.cfg.HandlerTimeout,
		Logger:   s.logger,
	})
	s.mux.Handle("/daily/status/{worker_id}", handlers.StatusHandler{Sessions: s.orchestrator})
	s.mux.Handle("/daily/status/{worker_id}/watch", handlers.WatchHandler{
		Sessions:     s.orchestrator,
		PingInterval: s.cfg.StatusWatchPingInterval,
		Logger:       s.logger,
	})
	s.mux.Handle("/daily/workers", handlers.WorkersHandler{Sessions: s.orchestrator})

	s.mux.Handle("/chat", handlers.InterviewHandler{Service: s.interview, Mode: handlers.InterviewChat, Logger: s.logger})
	s.mux.Handle("/feedback", handlers.InterviewHandler{Service: s.interview, Mode: handlers.InterviewFeedback, Logger: s.logger})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Instrument(s.metrics, h)
	h = mw.MaxBody(s.cfg.MaxBodyBytes, h)
	h = mw.RateLimit(s.cfg, s.limiter, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Start begins background work (the registry reaper).
func (s *Server) Start() {
	s.manager.Start()
}

func (s *Server) SetDraining(draining bool) {
	s.manager.SetDraining(draining)
}

func (s *Server) IsDraining() bool {
	return s.manager.IsDraining()
}

// Shutdown stops every worker and releases the shared HTTP client, then
// waits for in-flight session starts, which stop their own workers once the
// registry is closed. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.manager.Shutdown(ctx)
	if werr := s.orchestrator.Wait(ctx); werr != nil {
		err = errors.Join(err, fmt.Errorf("wait for session starts: %w", werr))
	}
	return err
}

func (s *Server) Orchestrator() *bots.Orchestrator {
	return s.orchestrator
}
