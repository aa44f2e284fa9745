package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vango-go/vai-rooms/pkg/gateway/bots/launcher"
	"github.com/vango-go/vai-rooms/pkg/gateway/config"
)

type fixedCounter struct{ total, running int }

func (c fixedCounter) Len() int     { return c.total }
func (c fixedCounter) Running() int { return c.running }

type fixedDrain bool

func (d fixedDrain) IsDraining() bool { return bool(d) }

func readyConfig() config.Config {
	return config.Config{
		BotImplementation: config.BotVariantOpenAI,
		BotCommands: map[config.BotVariant]launcher.Command{
			config.BotVariantOpenAI: {Path: "python3", Args: []string{"bot.py", launcher.PlaceholderRoomURL, launcher.PlaceholderToken}},
		},
		BotMaxPerRoom:                 1,
		BotKillTimeout:                time.Second,
		DailyAPIKey:                   "k",
		ReadHeaderTimeout:             time.Second,
		ReadTimeout:                   time.Second,
		HandlerTimeout:                time.Second,
		UpstreamConnectTimeout:        time.Second,
		UpstreamResponseHeaderTimeout: time.Second,
	}
}

func serveReady(t *testing.T, h ReadyHandler) (int, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return rr.Code, resp
}

func TestReadyHandler_Ready(t *testing.T) {
	status, resp := serveReady(t, ReadyHandler{Config: readyConfig(), Workers: fixedCounter{total: 3, running: 2}, Drain: fixedDrain(false)})
	if status != http.StatusOK {
		t.Fatalf("status=%d resp=%v", status, resp)
	}
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("expected ok=true, resp=%v", resp)
	}
	if resp["workers_running"] != float64(2) || resp["workers_tracked"] != float64(3) {
		t.Fatalf("resp=%v", resp)
	}
}

func TestReadyHandler_DrainingIs503(t *testing.T) {
	status, resp := serveReady(t, ReadyHandler{Config: readyConfig(), Drain: fixedDrain(true)})
	if status != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", status)
	}
	if d, _ := resp["draining"].(bool); !d {
		t.Fatalf("expected draining=true, resp=%v", resp)
	}
}

func TestReadyHandler_MissingCommand_NotReady(t *testing.T) {
	cfg := readyConfig()
	cfg.BotImplementation = config.BotVariantGemini
	status, resp := serveReady(t, ReadyHandler{Config: cfg})
	if status != http.StatusInternalServerError {
		t.Fatalf("status=%d resp=%v", status, resp)
	}
	if ok, _ := resp["ok"].(bool); ok {
		t.Fatalf("expected ok=false")
	}
}

func TestRootAndHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	RootHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("root status=%d", rr.Code)
	}

	rr = httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok\n" {
		t.Fatalf("healthz status=%d body=%q", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	NotFoundHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if e := decodeError(t, rr); rr.Code != http.StatusNotFound || e.Type != "not_found_error" {
		t.Fatalf("status=%d err=%+v", rr.Code, e)
	}
}
