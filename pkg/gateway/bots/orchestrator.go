package bots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/vai-rooms/pkg/gateway/bots/registry"
)

// Observer receives session lifecycle events, typically for metrics.
type Observer interface {
	SessionStarted(variant string)
	SessionFailed(kind string)
	WorkerExited(status registry.Status)
}

type nopObserver struct{}

func (nopObserver) SessionStarted(string)        {}
func (nopObserver) SessionFailed(string)         {}
func (nopObserver) WorkerExited(registry.Status) {}

type DrainState interface {
	IsDraining() bool
}

type Options struct {
	Provisioner Provisioner
	Launcher    Launcher
	Registry    *registry.Registry
	Ceiling     int
	Logger      *slog.Logger
	Observer    Observer
	Drain       DrainState
	// KillTimeout bounds the SIGTERM wait when a just-launched worker has
	// to be stopped again. Defaults to one second.
	KillTimeout time.Duration
}

// Orchestrator runs the start-session flow: provision a room, reserve a
// slot, spawn the worker, record it.
type Orchestrator struct {
	provisioner Provisioner
	launcher    Launcher
	registry    *registry.Registry
	gate        *Gate
	logger      *slog.Logger
	observer    Observer
	drain       DrainState
	killTimeout time.Duration

	mu       sync.Mutex
	inflight int
	idle     chan struct{}
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Provisioner == nil {
		return nil, errors.New("orchestrator: provisioner is required")
	}
	if opts.Launcher == nil {
		return nil, errors.New("orchestrator: launcher is required")
	}
	reg := opts.Registry
	if reg == nil {
		reg = registry.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	killTimeout := opts.KillTimeout
	if killTimeout <= 0 {
		killTimeout = time.Second
	}
	return &Orchestrator{
		provisioner: opts.Provisioner,
		launcher:    opts.Launcher,
		registry:    reg,
		gate:        NewGate(opts.Ceiling, reg),
		logger:      logger,
		observer:    observer,
		drain:       opts.Drain,
		killTimeout: killTimeout,
	}, nil
}

func (o *Orchestrator) Registry() *registry.Registry { return o.registry }

func (o *Orchestrator) Gate() *Gate { return o.gate }

// Start provisions a room and launches a worker for it. Provisioning runs
// before any capacity is reserved, so a provisioning failure leaves the
// gate untouched. Every call creates a new provider-side room unless the
// provisioner is pinned to a fixed one, so callers must not retry blindly.
func (o *Orchestrator) Start(ctx context.Context) (Session, error) {
	o.enter()
	defer o.leave()

	if o.draining() {
		return Session{}, ErrDraining
	}

	room, err := o.provisioner.Provision(ctx)
	if err != nil {
		var pe *ProvisioningError
		if !errors.As(err, &pe) {
			err = &ProvisioningError{Stage: StageRoom, Err: err}
		}
		o.observer.SessionFailed("provisioning")
		return Session{}, err
	}

	res, err := o.gate.TryReserve(room.URL)
	if err != nil {
		o.observer.SessionFailed("capacity")
		o.logger.Warn("worker capacity exceeded", "room_url", room.URL, "ceiling", o.gate.Ceiling())
		return Session{}, err
	}

	if o.draining() {
		res.Release()
		return Session{}, ErrDraining
	}

	h, err := o.launcher.Launch(room.URL, room.Token)
	if err != nil {
		res.Release()
		o.observer.SessionFailed("launch")
		return Session{}, &LaunchError{Variant: o.launcher.Variant(), Err: err}
	}

	if err := res.Commit(h); err != nil {
		if terr := h.Terminate(o.killTimeout); terr != nil {
			o.logger.Error("uncommitted worker did not stop", "worker_id", h.ID, "error", terr)
		}
		if errors.Is(err, registry.ErrClosed) {
			o.logger.Warn("worker launched during shutdown, stopped", "worker_id", h.ID, "room_url", room.URL)
			return Session{}, ErrDraining
		}
		o.observer.SessionFailed("launch")
		return Session{}, &LaunchError{Variant: o.launcher.Variant(), Err: fmt.Errorf("record worker: %w", err)}
	}

	o.observer.SessionStarted(h.Variant)
	go o.watchExit(h)

	return Session{Room: room, WorkerID: h.ID, Variant: h.Variant}, nil
}

func (o *Orchestrator) draining() bool {
	return o.drain != nil && o.drain.IsDraining()
}

func (o *Orchestrator) enter() {
	o.mu.Lock()
	o.inflight++
	o.mu.Unlock()
}

func (o *Orchestrator) leave() {
	o.mu.Lock()
	o.inflight--
	if o.inflight == 0 && o.idle != nil {
		close(o.idle)
		o.idle = nil
	}
	o.mu.Unlock()
}

// Wait blocks until no Start call is in progress. Used after the shutdown
// sweep so a launch racing the sweep has stopped its own worker before the
// process exits.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	if o.inflight == 0 {
		o.mu.Unlock()
		return nil
	}
	if o.idle == nil {
		o.idle = make(chan struct{})
	}
	idle := o.idle
	o.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) watchExit(h *registry.Handle) {
	<-h.Done()
	status := h.Status()
	code, _ := h.ExitCode()
	o.observer.WorkerExited(status)
	o.logger.Info("worker exited",
		"worker_id", h.ID,
		"room_url", h.RoomURL,
		"exit_code", code,
		"status", status,
	)
}

// Status reports liveness for a worker ID, or ErrWorkerNotFound.
func (o *Orchestrator) Status(workerID int) (registry.Status, error) {
	status := o.registry.Status(workerID)
	if status == registry.StatusNotFound {
		return status, ErrWorkerNotFound
	}
	return status, nil
}

func (o *Orchestrator) Worker(workerID int) (WorkerInfo, error) {
	h, ok := o.registry.Get(workerID)
	if !ok {
		return WorkerInfo{}, ErrWorkerNotFound
	}
	return infoFor(h), nil
}

// Watch returns a WorkerWatch for workerID, or ErrWorkerNotFound.
func (o *Orchestrator) Watch(workerID int) (WorkerWatch, error) {
	h, ok := o.registry.Get(workerID)
	if !ok {
		return WorkerWatch{}, ErrWorkerNotFound
	}
	return WorkerWatch{
		Done: h.Done(),
		Info: func() WorkerInfo { return infoFor(h) },
	}, nil
}

func (o *Orchestrator) Workers() []WorkerInfo {
	handles := o.registry.All()
	out := make([]WorkerInfo, 0, len(handles))
	for _, h := range handles {
		out = append(out, infoFor(h))
	}
	return out
}

func infoFor(h *registry.Handle) WorkerInfo {
	info := WorkerInfo{
		WorkerID:  h.ID,
		RoomURL:   h.RoomURL,
		Variant:   h.Variant,
		Status:    h.Status(),
		CreatedAt: h.CreatedAt,
	}
	if code, ok := h.ExitCode(); ok {
		info.ExitCode = &code
	}
	return info
}
