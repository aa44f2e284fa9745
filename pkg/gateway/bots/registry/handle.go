package registry

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

type Status string

const (
	StatusRunning    Status = "running"
	StatusFinished   Status = "finished"
	StatusFailed     Status = "failed"
	StatusTerminated Status = "terminated"
	StatusNotFound   Status = "not_found"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusTerminated:
		return true
	default:
		return false
	}
}

// SignalFunc delivers a signal to a worker. Launchers that put workers in
// their own process group supply one that signals the whole group.
type SignalFunc func(sig os.Signal) error

// Handle is one spawned worker process. The process itself is only reachable
// through the handle, which owns the single cmd.Wait call.
type Handle struct {
	ID        int
	RoomURL   string
	Variant   string
	CreatedAt time.Time

	signal SignalFunc
	done   chan struct{}

	mu         sync.Mutex
	exitCode   int
	exitedAt   time.Time
	terminated bool
}

// Track takes ownership of a started command and reaps it in the background.
func Track(cmd *exec.Cmd, roomURL, variant string, signal SignalFunc) (*Handle, error) {
	if cmd == nil || cmd.Process == nil {
		return nil, errors.New("command has not been started")
	}
	if signal == nil {
		signal = cmd.Process.Signal
	}
	h := &Handle{
		ID:        cmd.Process.Pid,
		RoomURL:   roomURL,
		Variant:   variant,
		CreatedAt: time.Now(),
		signal:    signal,
		done:      make(chan struct{}),
	}
	go h.wait(cmd)
	return h, nil
}

func (h *Handle) wait(cmd *exec.Cmd) {
	_ = cmd.Wait()
	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	h.mu.Lock()
	h.exitCode = code
	h.exitedAt = time.Now()
	h.mu.Unlock()
	close(h.done)
}

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit code once the process has exited. A process
// killed by a signal reports -1.
func (h *Handle) ExitCode() (int, bool) {
	if !h.Exited() {
		return 0, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode, true
}

func (h *Handle) ExitedAt() (time.Time, bool) {
	if !h.Exited() {
		return time.Time{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitedAt, true
}

func (h *Handle) Status() Status {
	if !h.Exited() {
		return StatusRunning
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.terminated:
		return StatusTerminated
	case h.exitCode == 0:
		return StatusFinished
	default:
		return StatusFailed
	}
}

// Terminate sends SIGTERM and waits up to timeout for the worker to exit,
// then escalates to SIGKILL. It returns once the process has been reaped.
func (h *Handle) Terminate(timeout time.Duration) error {
	if h.Exited() {
		return nil
	}
	h.mu.Lock()
	h.terminated = true
	h.mu.Unlock()

	if err := h.signal(syscall.SIGTERM); err != nil && !h.Exited() {
		return h.kill(timeout, fmt.Errorf("sigterm worker %d: %w", h.ID, err))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.done:
		return nil
	case <-timer.C:
	}
	return h.kill(timeout, nil)
}

func (h *Handle) kill(timeout time.Duration, cause error) error {
	if err := h.signal(os.Kill); err != nil && !h.Exited() {
		return errors.Join(cause, fmt.Errorf("sigkill worker %d: %w", h.ID, err))
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.done:
		return nil
	case <-timer.C:
		return errors.Join(cause, fmt.Errorf("worker %d still running after sigkill", h.ID))
	}
}
