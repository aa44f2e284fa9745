package lifecycle

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vango-go/vai-rooms/pkg/gateway/bots/registry"
)

type ManagerConfig struct {
	Registry *registry.Registry
	Logger   *slog.Logger

	// KillTimeout bounds the wait after SIGTERM before SIGKILL, and again
	// after SIGKILL.
	KillTimeout  time.Duration
	ReapInterval time.Duration
	ReapGrace    time.Duration

	ConnectTimeout        time.Duration
	ResponseHeaderTimeout time.Duration

	// OnReap is called with the number of entries dropped by each reap pass.
	OnReap func(n int)
}

// Manager owns process-wide resources: the shared upstream HTTP client, the
// registry reaper, and the shutdown sweep that stops every worker.
type Manager struct {
	Lifecycle

	cfg        ManagerConfig
	registry   *registry.Registry
	logger     *slog.Logger
	httpClient *http.Client

	startOnce  sync.Once
	stopReaper chan struct{}
	reaperDone chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = registry.New()
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = 5 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: cfg.ConnectTimeout,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		},
	}

	return &Manager{
		cfg:        cfg,
		registry:   reg,
		logger:     logger,
		httpClient: httpClient,
		stopReaper: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
}

// HTTPClient is shared by every outbound provisioning call.
func (m *Manager) HTTPClient() *http.Client {
	return m.httpClient
}

func (m *Manager) Registry() *registry.Registry {
	return m.registry
}

// Start launches the periodic reaper. A zero ReapInterval disables it.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		if m.cfg.ReapInterval <= 0 {
			close(m.reaperDone)
			return
		}
		go m.reapLoop()
	})
}

func (m *Manager) reapLoop() {
	defer close(m.reaperDone)
	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopReaper:
			return
		case now := <-ticker.C:
			m.ReapOnce(now)
		}
	}
}

// ReapOnce drops registry entries that exited more than ReapGrace ago.
func (m *Manager) ReapOnce(now time.Time) int {
	n := m.registry.Reap(now, m.cfg.ReapGrace)
	if n > 0 {
		m.logger.Info("reaped exited workers", "count", n, "remaining", m.registry.Len())
	}
	if m.cfg.OnReap != nil {
		m.cfg.OnReap(n)
	}
	return n
}

// Shutdown marks the process as draining, terminates every tracked worker
// (SIGTERM, bounded wait, SIGKILL) and releases the shared HTTP client.
// Only the first call does work; later calls return the same result.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.shutdownErr = m.shutdown(ctx)
	})
	return m.shutdownErr
}

func (m *Manager) shutdown(ctx context.Context) error {
	m.SetDraining(true)

	m.startOnce.Do(func() { close(m.reaperDone) })
	close(m.stopReaper)
	<-m.reaperDone

	defer m.httpClient.CloseIdleConnections()

	handles := m.registry.Clear()
	if len(handles) == 0 {
		return nil
	}
	m.logger.Info("terminating workers", "count", len(handles))

	var g errgroup.Group
	for _, h := range handles {
		g.Go(func() error {
			if h.Exited() {
				return nil
			}
			err := h.Terminate(m.cfg.KillTimeout)
			if err != nil {
				m.logger.Error("worker did not stop", "worker_id", h.ID, "error", err)
			} else {
				m.logger.Info("worker stopped", "worker_id", h.ID, "status", h.Status())
			}
			return err
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// Terminate calls keep escalating in the background.
		return ctx.Err()
	}
}
