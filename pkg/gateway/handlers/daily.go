package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/vai-rooms/pkg/gateway/apierror"
	"github.com/vango-go/vai-rooms/pkg/gateway/bots"
	"github.com/vango-go/vai-rooms/pkg/gateway/bots/registry"
)

// Sessions is the orchestrator surface the HTTP layer needs.
type Sessions interface {
	Start(ctx context.Context) (bots.Session, error)
	Worker(workerID int) (bots.WorkerInfo, error)
	Workers() []bots.WorkerInfo
	Watch(workerID int) (bots.WorkerWatch, error)
}

// startSession runs Start detached from the client connection: a client
// that hangs up mid-launch must not abort a spawn that already holds a
// room reservation. timeout still bounds the provider calls.
func startSession(r *http.Request, s Sessions, timeout time.Duration) (bots.Session, error) {
	ctx := context.WithoutCancel(r.Context())
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.Start(ctx)
}

func logStartFailure(logger *slog.Logger, r *http.Request, err error) {
	if logger == nil {
		return
	}
	logger.Warn("session start failed", "path", r.URL.Path, "error", err)
}

// ConnectHandler serves POST /daily/connect.
type ConnectHandler struct {
	Sessions Sessions
	Timeout  time.Duration
	Logger   *slog.Logger
}

type connectResponse struct {
	RoomID     string `json:"room_id"`
	Credential string `json:"credential"`
	WorkerID   int    `json:"worker_id"`
}

func (h ConnectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	s, err := startSession(r, h.Sessions, h.Timeout)
	if err != nil {
		logStartFailure(h.Logger, r, err)
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, connectResponse{
		RoomID:     s.Room.URL,
		Credential: s.Room.Token,
		WorkerID:   s.WorkerID,
	})
}

// RedirectHandler serves /daily/ for browsers: it starts a session and sends
// the caller straight into the room.
type RedirectHandler struct {
	Sessions Sessions
	Timeout  time.Duration
	Logger   *slog.Logger
}

func (h RedirectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeMethodNotAllowed(w, r, "GET, POST")
		return
	}
	s, err := startSession(r, h.Sessions, h.Timeout)
	if err != nil {
		logStartFailure(h.Logger, r, err)
		writeErr(w, r, err)
		return
	}
	http.Redirect(w, r, s.Room.URL, http.StatusFound)
}

type statusResponse struct {
	WorkerID int             `json:"worker_id"`
	Status   registry.Status `json:"status"`
	ExitCode *int            `json:"exit_code,omitempty"`
}

func statusFrom(info bots.WorkerInfo) statusResponse {
	return statusResponse{WorkerID: info.WorkerID, Status: info.Status, ExitCode: info.ExitCode}
}

// parseWorkerID reads the {worker_id} path value. Worker IDs are OS pids, so
// anything that is not a positive integer is rejected before lookup.
func parseWorkerID(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.PathValue("worker_id"))
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		writeAPIError(w, r, http.StatusBadRequest, &apierror.Error{
			Type:    apierror.ErrInvalidRequest,
			Message: "worker_id must be a positive integer",
			Param:   "worker_id",
		})
		return 0, false
	}
	return id, true
}

// StatusHandler serves GET /daily/status/{worker_id}.
type StatusHandler struct {
	Sessions Sessions
}

func (h StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	id, ok := parseWorkerID(w, r)
	if !ok {
		return
	}
	info, err := h.Sessions.Worker(id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusFrom(info))
}

// WorkersHandler serves GET /daily/workers.
type WorkersHandler struct {
	Sessions Sessions
}

func (h WorkersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Workers []bots.WorkerInfo `json:"workers"`
	}{Workers: h.Sessions.Workers()})
}
