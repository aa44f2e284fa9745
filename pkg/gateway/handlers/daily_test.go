package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-rooms/pkg/gateway/apierror"
	"github.com/vango-go/vai-rooms/pkg/gateway/bots"
	"github.com/vango-go/vai-rooms/pkg/gateway/bots/registry"
)

type fakeSessions struct {
	mu       sync.Mutex
	startErr error
	session  bots.Session
	workers  map[int]bots.WorkerInfo
	handles  map[int]bots.WorkerInfo // outlives workers, like a held handle
	done     map[int]chan struct{}
	startCtx context.Context
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		session: bots.Session{
			Room:     bots.Room{Name: "r1", URL: "https://example.daily.co/r1", Token: "tok"},
			WorkerID: 4242,
			Variant:  "openai",
		},
		workers: map[int]bots.WorkerInfo{},
		handles: map[int]bots.WorkerInfo{},
		done:    map[int]chan struct{}{},
	}
}

func (f *fakeSessions) Start(ctx context.Context) (bots.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCtx = ctx
	if f.startErr != nil {
		return bots.Session{}, f.startErr
	}
	return f.session, nil
}

func (f *fakeSessions) Worker(id int) (bots.WorkerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.workers[id]
	if !ok {
		return bots.WorkerInfo{}, bots.ErrWorkerNotFound
	}
	return info, nil
}

func (f *fakeSessions) Workers() []bots.WorkerInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]bots.WorkerInfo, 0, len(f.workers))
	for _, w := range f.workers {
		out = append(out, w)
	}
	return out
}

func (f *fakeSessions) Watch(id int) (bots.WorkerWatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.workers[id]; !ok {
		return bots.WorkerWatch{}, bots.ErrWorkerNotFound
	}
	return bots.WorkerWatch{
		Done: f.doneLocked(id),
		Info: func() bots.WorkerInfo {
			f.mu.Lock()
			defer f.mu.Unlock()
			return f.handles[id]
		},
	}, nil
}

func (f *fakeSessions) doneLocked(id int) chan struct{} {
	ch, ok := f.done[id]
	if !ok {
		ch = make(chan struct{})
		f.done[id] = ch
	}
	return ch
}

func (f *fakeSessions) put(info bots.WorkerInfo) {
	f.mu.Lock()
	f.workers[info.WorkerID] = info
	f.handles[info.WorkerID] = info
	f.mu.Unlock()
}

func (f *fakeSessions) exit(id int, status registry.Status) {
	f.mu.Lock()
	info := f.handles[id]
	info.Status = status
	f.workers[id] = info
	f.handles[id] = info
	ch := f.doneLocked(id)
	f.mu.Unlock()
	close(ch)
}

// sweep stops the worker and drops its entry, as the shutdown sweep does.
func (f *fakeSessions) sweep(id int) {
	f.mu.Lock()
	info := f.handles[id]
	info.Status = registry.StatusTerminated
	f.handles[id] = info
	delete(f.workers, id)
	ch := f.doneLocked(id)
	f.mu.Unlock()
	close(ch)
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) *apierror.Error {
	t.Helper()
	var env apierror.Envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v body=%q", err, rr.Body.String())
	}
	if env.Error == nil {
		t.Fatalf("missing error in body %q", rr.Body.String())
	}
	return env.Error
}

func TestConnectHandler_ReturnsRoomAndCredential(t *testing.T) {
	fs := newFakeSessions()
	h := ConnectHandler{Sessions: fs, Timeout: time.Minute}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/daily/connect", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["room_id"] != "https://example.daily.co/r1" || resp["credential"] != "tok" || resp["worker_id"] != float64(4242) {
		t.Fatalf("resp=%v", resp)
	}
}

func TestConnectHandler_StartIsDetachedFromClient(t *testing.T) {
	fs := newFakeSessions()
	h := ConnectHandler{Sessions: fs, Timeout: time.Minute}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/daily/connect", nil).WithContext(ctx)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if err := fs.startCtx.Err(); err != nil {
		t.Fatalf("start ctx err=%v, want nil after client cancel", err)
	}
	if _, ok := fs.startCtx.Deadline(); !ok {
		t.Fatalf("expected start ctx to carry the handler timeout")
	}
}

func TestConnectHandler_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"capacity", &bots.CapacityError{RoomURL: "r", Ceiling: 1}, http.StatusTooManyRequests, "capacity_exceeded"},
		{"room", &bots.ProvisioningError{Stage: bots.StageRoom, Err: errors.New("x")}, http.StatusInternalServerError, "provisioning_room_failed"},
		{"credential", &bots.ProvisioningError{Stage: bots.StageCredential, Err: errors.New("x")}, http.StatusInternalServerError, "provisioning_credential_failed"},
		{"launch", &bots.LaunchError{Variant: "openai", Err: errors.New("x")}, http.StatusInternalServerError, "launch_failed"},
		{"draining", bots.ErrDraining, http.StatusServiceUnavailable, "draining"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fs := newFakeSessions()
			fs.startErr = tc.err
			rr := httptest.NewRecorder()
			ConnectHandler{Sessions: fs}.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/daily/connect", nil))
			if rr.Code != tc.status {
				t.Fatalf("status=%d, want %d", rr.Code, tc.status)
			}
			if e := decodeError(t, rr); e.Code != tc.code {
				t.Fatalf("code=%q, want %q", e.Code, tc.code)
			}
		})
	}
}

func TestConnectHandler_CapacitySetsRetryAfter(t *testing.T) {
	fs := newFakeSessions()
	fs.startErr = &bots.CapacityError{RoomURL: "r", Ceiling: 1}
	rr := httptest.NewRecorder()
	ConnectHandler{Sessions: fs}.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/daily/connect", nil))
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestConnectHandler_RejectsGET(t *testing.T) {
	rr := httptest.NewRecorder()
	ConnectHandler{Sessions: newFakeSessions()}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/daily/connect", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", rr.Code)
	}
	if rr.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("Allow=%q", rr.Header().Get("Allow"))
	}
}

func TestRedirectHandler_RedirectsToRoom(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rr := httptest.NewRecorder()
		RedirectHandler{Sessions: newFakeSessions()}.ServeHTTP(rr, httptest.NewRequest(method, "/daily/", nil))
		if rr.Code != http.StatusFound {
			t.Fatalf("%s status=%d", method, rr.Code)
		}
		if got := rr.Header().Get("Location"); got != "https://example.daily.co/r1" {
			t.Fatalf("%s Location=%q", method, got)
		}
	}
}

func TestRedirectHandler_FailureIsJSON(t *testing.T) {
	fs := newFakeSessions()
	fs.startErr = &bots.LaunchError{Variant: "openai", Err: errors.New("enoent")}
	rr := httptest.NewRecorder()
	RedirectHandler{Sessions: fs}.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/daily/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rr.Code)
	}
	if rr.Header().Get("Location") != "" {
		t.Fatalf("unexpected redirect on failure")
	}
}

func statusMux(fs *fakeSessions) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /daily/status/{worker_id}", StatusHandler{Sessions: fs})
	mux.Handle("GET /daily/status/{worker_id}/watch", WatchHandler{Sessions: fs, PingInterval: 50 * time.Millisecond})
	mux.Handle("GET /daily/workers", WorkersHandler{Sessions: fs})
	return mux
}

func TestStatusHandler(t *testing.T) {
	fs := newFakeSessions()
	code := 3
	fs.put(bots.WorkerInfo{WorkerID: 10, Status: registry.StatusRunning})
	fs.put(bots.WorkerInfo{WorkerID: 11, Status: registry.StatusFailed, ExitCode: &code})
	mux := statusMux(fs)

	cases := []struct {
		path   string
		status int
		body   string
	}{
		{"/daily/status/10", http.StatusOK, `{"worker_id":10,"status":"running"}`},
		{"/daily/status/11", http.StatusOK, `{"worker_id":11,"status":"failed","exit_code":3}`},
		{"/daily/status/9999", http.StatusNotFound, `"code":"worker_not_found"`},
		{"/daily/status/abc", http.StatusBadRequest, `"param":"worker_id"`},
		{"/daily/status/-1", http.StatusBadRequest, `"param":"worker_id"`},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rr.Code != tc.status {
			t.Fatalf("%s status=%d, want %d", tc.path, rr.Code, tc.status)
		}
		if !strings.Contains(rr.Body.String(), tc.body) {
			t.Fatalf("%s body=%q, want %q", tc.path, rr.Body.String(), tc.body)
		}
	}
}

func TestWorkersHandler_ListsWorkers(t *testing.T) {
	fs := newFakeSessions()
	mux := statusMux(fs)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/daily/workers", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"workers":[]`) {
		t.Fatalf("empty list status=%d body=%q", rr.Code, rr.Body.String())
	}

	fs.put(bots.WorkerInfo{WorkerID: 7, RoomURL: "https://example.daily.co/r", Variant: "gemini", Status: registry.StatusRunning})
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/daily/workers", nil))
	var resp struct {
		Workers []bots.WorkerInfo `json:"workers"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Workers) != 1 || resp.Workers[0].WorkerID != 7 || resp.Workers[0].Variant != "gemini" {
		t.Fatalf("workers=%+v", resp.Workers)
	}
}

func dialWatch(t *testing.T, srv *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/daily/status/" + id + "/watch"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial: %v (status %d)", err, status)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readStatus(t *testing.T, conn *websocket.Conn) statusResponse {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var s statusResponse
	if err := conn.ReadJSON(&s); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return s
}

func TestWatchHandler_PushesExit(t *testing.T) {
	fs := newFakeSessions()
	fs.put(bots.WorkerInfo{WorkerID: 21, Status: registry.StatusRunning})
	srv := httptest.NewServer(statusMux(fs))
	defer srv.Close()

	conn := dialWatch(t, srv, "21")
	if s := readStatus(t, conn); s.WorkerID != 21 || s.Status != registry.StatusRunning {
		t.Fatalf("initial=%+v", s)
	}

	fs.exit(21, registry.StatusFinished)
	if s := readStatus(t, conn); s.Status != registry.StatusFinished {
		t.Fatalf("final=%+v", s)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("err=%v, want normal closure", err)
	}
}

func TestWatchHandler_SweptWorkerReportsTerminated(t *testing.T) {
	fs := newFakeSessions()
	fs.put(bots.WorkerInfo{WorkerID: 23, Status: registry.StatusRunning})
	srv := httptest.NewServer(statusMux(fs))
	defer srv.Close()

	conn := dialWatch(t, srv, "23")
	if s := readStatus(t, conn); s.Status != registry.StatusRunning {
		t.Fatalf("initial=%+v", s)
	}

	fs.sweep(23)
	if s := readStatus(t, conn); s.WorkerID != 23 || s.Status != registry.StatusTerminated {
		t.Fatalf("final=%+v, want terminated", s)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("err=%v, want normal closure", err)
	}
}

func TestWatchHandler_AlreadyExitedClosesImmediately(t *testing.T) {
	fs := newFakeSessions()
	fs.put(bots.WorkerInfo{WorkerID: 22, Status: registry.StatusTerminated})
	srv := httptest.NewServer(statusMux(fs))
	defer srv.Close()

	conn := dialWatch(t, srv, "22")
	if s := readStatus(t, conn); s.Status != registry.StatusTerminated {
		t.Fatalf("status=%+v", s)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("err=%v, want normal closure", err)
	}
}

func TestWatchHandler_UnknownWorkerIs404(t *testing.T) {
	srv := httptest.NewServer(statusMux(newFakeSessions()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/daily/status/31337/watch"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("resp=%v, want 404", resp)
	}
}
