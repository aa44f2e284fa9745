package handlers

import (
	"net/http"

	"github.com/vango-go/vai-rooms/pkg/gateway/config"
)

// RootHandler is the liveness payload served at "/".
type RootHandler struct{}

func (h RootHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "vai-rooms",
	})
}

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// WorkerCounter reports registry occupancy for readiness.
type WorkerCounter interface {
	Len() int
	Running() int
}

type DrainState interface {
	IsDraining() bool
}

type ReadyHandler struct {
	Config  config.Config
	Workers WorkerCounter
	Drain   DrainState
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK                bool     `json:"ok"`
		Draining          bool     `json:"draining"`
		Variant           string   `json:"variant"`
		MaxPerRoom        int      `json:"max_per_room"`
		WorkersRunning    int      `json:"workers_running"`
		WorkersTracked    int      `json:"workers_tracked"`
		InterviewEnabled  bool     `json:"interview_enabled"`
		SampleRoomEnabled bool     `json:"sample_room_enabled"`
		Issues            []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)
	if h.Config.DailyAPIKey == "" {
		issues = append(issues, "daily api key is not configured")
	}
	if h.Config.Command().Path == "" {
		issues = append(issues, "no command configured for bot variant "+string(h.Config.BotImplementation))
	}
	if h.Config.BotMaxPerRoom <= 0 {
		issues = append(issues, "bot max per room must be > 0")
	}
	if h.Config.BotKillTimeout <= 0 {
		issues = append(issues, "bot kill timeout must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 || h.Config.HandlerTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}
	if h.Config.UpstreamConnectTimeout <= 0 || h.Config.UpstreamResponseHeaderTimeout <= 0 {
		issues = append(issues, "upstream timeouts must be > 0")
	}

	draining := h.Drain != nil && h.Drain.IsDraining()
	resp := readyResp{
		OK:                len(issues) == 0 && !draining,
		Draining:          draining,
		Variant:           string(h.Config.BotImplementation),
		MaxPerRoom:        h.Config.BotMaxPerRoom,
		InterviewEnabled:  h.Config.GeminiAPIKey != "",
		SampleRoomEnabled: h.Config.DailySampleRoomURL != "",
		Issues:            issues,
	}
	if h.Workers != nil {
		resp.WorkersRunning = h.Workers.Running()
		resp.WorkersTracked = h.Workers.Len()
	}

	status := http.StatusOK
	switch {
	case draining:
		status = http.StatusServiceUnavailable
	case len(issues) > 0:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}
