package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"sirsi-hub/internal/domain"
	"sirsi-hub/internal/infra/config"
	"sirsi-hub/internal/infra/middleware"
)

// --- test doubles ---

type testBus struct {
	mu       sync.Mutex
	all      []domain.EventHandler
	typed    map[domain.EventType][]domain.EventHandler
	unsubbed int
}

func (b *testBus) Publish(ctx context.Context, event domain.Event) {
	b.mu.Lock()
	hs := append([]domain.EventHandler(nil), b.all...)
	hs = append(hs, b.typed[event.Type]...)
	b.mu.Unlock()
	for _, h := range hs {
		h(ctx, event)
	}
}

func (b *testBus) Subscribe(typ domain.EventType, h domain.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.typed == nil {
		b.typed = make(map[domain.EventType][]domain.EventHandler)
	}
	b.typed[typ] = append(b.typed[typ], h)
	return func() {}
}

func (b *testBus) SubscribeAll(handler domain.EventHandler) func() {
	b.mu.Lock()
	b.all = append(b.all, handler)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = nil
		b.unsubbed++
	}
}

func (b *testBus) Close() {}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestAuth() Authenticator {
	return NewStaticTokenAuth([]config.TokenConfig{{Token: "test-token", Name: "tester", Roles: []string{"admin"}}})
}

// startTestServer runs srv on a loopback listener. setup runs before Start
// so it can register HTTP routes.
func startTestServer(t *testing.T, bus domain.EventBus, setup func(*Server), opts ...Option) *Server {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	opts = append(opts, WithListener(lis))
	srv := NewServer(bus, newTestAuth(), "", testLogger(), opts...)
	if setup != nil {
		setup(srv)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Start(ctx); err != nil {
			t.Errorf("Start: %v", err)
		}
	}()

	deadline := time.Now().Add(3 * time.Second)
	for srv.BoundAddr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server did not start in time")
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Cleanup(func() {
		cancel()
		srv.Stop(context.Background())
		<-done
	})
	return srv
}

func dialWS(t *testing.T, addr, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, "ws://"+addr+"/ws?token="+token, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

func call(t *testing.T, ws *websocket.Conn, id uint64, method string, payload string) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req := Frame{Type: FrameTypeRequest, ID: id, Method: method}
	if payload != "" {
		req.Payload = json.RawMessage(payload)
	}
	if err := wsjson.Write(ctx, ws, req); err != nil {
		t.Fatalf("write: %v", err)
	}
	for {
		var resp Frame
		if err := wsjson.Read(ctx, ws, &resp); err != nil {
			t.Fatalf("read: %v", err)
		}
		if resp.Type == FrameTypeResponse && resp.ID == id {
			return resp
		}
	}
}

// --- tests ---

func TestServerLifecycle(t *testing.T) {
	bus := &testBus{}
	srv := startTestServer(t, bus, nil)

	if srv.BoundAddr() == "" {
		t.Fatal("BoundAddr is empty")
	}
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if bus.unsubbed != 1 {
		t.Errorf("unsubscribed %d times, want 1", bus.unsubbed)
	}
}

func TestServerAuthReject(t *testing.T) {
	srv := startTestServer(t, &testBus{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, "ws://"+srv.BoundAddr()+"/ws?token=bad-token", nil)
	if err == nil {
		t.Fatal("expected auth rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}
	if srv.Metrics().AuthFailures.Load() != 1 {
		t.Errorf("AuthFailures = %d", srv.Metrics().AuthFailures.Load())
	}
}

func TestServerBearerHeader(t *testing.T) {
	srv := startTestServer(t, &testBus{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, "ws://"+srv.BoundAddr()+"/ws", &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer test-token"}},
	})
	if err != nil {
		t.Fatalf("dial with bearer: %v", err)
	}
	ws.Close(websocket.StatusNormalClosure, "")
}

func TestServerRPCRoundtrip(t *testing.T) {
	srv := startTestServer(t, &testBus{}, nil)
	srv.RegisterHandler("echo", func(_ context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		return payload, nil
	})

	ws := dialWS(t, srv.BoundAddr(), "test-token")
	resp := call(t, ws, 1, "echo", `{"msg":"hello"}`)

	if resp.Error != "" {
		t.Errorf("error = %q", resp.Error)
	}
	if string(resp.Payload) != `{"msg":"hello"}` {
		t.Errorf("payload = %s", resp.Payload)
	}
	if got := srv.Metrics().RPCCalls.Load(); got != 1 {
		t.Errorf("RPCCalls = %d", got)
	}
}

func TestServerUnknownMethod(t *testing.T) {
	srv := startTestServer(t, &testBus{}, nil)
	ws := dialWS(t, srv.BoundAddr(), "test-token")

	resp := call(t, ws, 2, "nonexistent", "")
	if resp.Error == "" {
		t.Fatal("expected error for unknown method")
	}
	if resp.Code != string(domain.CodeRPCMethodNotFound) {
		t.Errorf("code = %q", resp.Code)
	}
}

func TestServerRateLimitsFrames(t *testing.T) {
	limiter := middleware.NewClientLimiter(middleware.LimiterConfig{RequestsPerMin: 1, Burst: 2})
	srv := startTestServer(t, &testBus{}, nil, WithLimiter(limiter))
	srv.RegisterHandler("ping", func(context.Context, *ClientInfo, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`"pong"`), nil
	})

	// The upgrade request spends one token from the IP bucket; frames use a
	// per-connection bucket.
	ws := dialWS(t, srv.BoundAddr(), "test-token")
	for i := uint64(1); i <= 2; i++ {
		if resp := call(t, ws, i, "ping", ""); resp.Error != "" {
			t.Fatalf("call %d: %s", i, resp.Error)
		}
	}
	resp := call(t, ws, 3, "ping", "")
	if resp.Code != string(domain.CodeRateLimit) {
		t.Errorf("code = %q, want %s", resp.Code, domain.CodeRateLimit)
	}
}

func TestServerEventForwarding(t *testing.T) {
	bus := &testBus{}
	srv := startTestServer(t, bus, nil)
	ws := dialWS(t, srv.BoundAddr(), "test-token")

	deadline := time.Now().Add(2 * time.Second)
	for srv.Metrics().Connections.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	bus.Publish(context.Background(), domain.NewEvent(domain.EventConsensusFinalized, "", map[string]string{"decision_id": "d-1"}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var frame Frame
	if err := wsjson.Read(ctx, ws, &frame); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if frame.Type != FrameTypeEvent {
		t.Fatalf("type = %q, want event", frame.Type)
	}
	var ev domain.Event
	if err := json.Unmarshal(frame.Payload, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if ev.Type != domain.EventConsensusFinalized {
		t.Errorf("event type = %q", ev.Type)
	}
}

func TestServerSecurityHeaders(t *testing.T) {
	srv := startTestServer(t, &testBus{}, func(s *Server) {
		s.RegisterHTTPRoute("/ping", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	})

	resp, err := http.Get("http://" + srv.BoundAddr() + "/ping")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}
