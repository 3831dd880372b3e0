// Package gateway exposes the hub over WebSocket JSON-RPC frames and a
// small REST surface, and forwards bus events to connected clients.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"sirsi-hub/internal/domain"
	"sirsi-hub/internal/infra/middleware"
)

// RPCHandler handles a single RPC method call.
type RPCHandler func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error)

// clientConn tracks a single WebSocket connection.
type clientConn struct {
	id        uint64
	info      *ClientInfo
	ws        *websocket.Conn
	sendCh    chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

// Server is the WebSocket gateway that exposes RPC methods and forwards events.
type Server struct {
	bus        domain.EventBus
	clients    sync.Map // connID (uint64) -> *clientConn
	auth       Authenticator
	limiter    *middleware.ClientLimiter
	handlersMu sync.RWMutex
	handlers   map[string]RPCHandler
	logger     *slog.Logger
	addr       string
	listener   net.Listener
	httpRoutes []httpRoute
	metrics    *Metrics
	nextID     atomic.Uint64

	mu        sync.Mutex
	httpSrv   *http.Server
	boundAddr string
	unsubAll  func()
}

type httpRoute struct {
	pattern string
	handler http.HandlerFunc
}

// Option configures a Server.
type Option func(*Server)

// WithLimiter rate-limits HTTP requests per IP and RPC frames per connection.
func WithLimiter(l *middleware.ClientLimiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithListener serves on an already bound listener instead of addr.
func WithListener(l net.Listener) Option {
	return func(s *Server) { s.listener = l }
}

// NewServer creates a gateway server.
func NewServer(bus domain.EventBus, auth Authenticator, addr string, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		bus:      bus,
		auth:     auth,
		handlers: make(map[string]RPCHandler),
		logger:   logger,
		addr:     addr,
		metrics:  &Metrics{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RegisterHandler adds an RPC handler for the given method name.
// Safe to call concurrently with active connections.
func (s *Server) RegisterHandler(method string, handler RPCHandler) {
	s.handlersMu.Lock()
	s.handlers[method] = handler
	s.handlersMu.Unlock()
}

// Methods returns the registered RPC method names.
func (s *Server) Methods() []string {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	out := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		out = append(out, m)
	}
	return out
}

// RegisterHTTPRoute adds an HTTP handler to the gateway's mux.
// Must be called before Start.
func (s *Server) RegisterHTTPRoute(pattern string, handler http.HandlerFunc) {
	s.httpRoutes = append(s.httpRoutes, httpRoute{pattern: pattern, handler: handler})
}

// Metrics returns the gateway's counters.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Start begins accepting WebSocket connections. Blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	for _, route := range s.httpRoutes {
		mux.HandleFunc(route.pattern, route.handler)
	}
	var handler http.Handler = mux
	if s.limiter != nil {
		handler = s.limiter.Middleware(handler)
	}
	handler = middleware.SecurityHeaders(handler)

	listener := s.listener
	if listener == nil {
		var err error
		listener, err = net.Listen("tcp", s.addr)
		if err != nil {
			return fmt.Errorf("gateway listen: %w", err)
		}
	}

	unsub := s.bus.SubscribeAll(s.forwardEvent)

	s.mu.Lock()
	s.boundAddr = listener.Addr().String()
	s.httpSrv = &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	s.unsubAll = unsub
	srv := s.httpSrv
	s.mu.Unlock()

	s.logger.Info("gateway started", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

func (s *Server) forwardEvent(_ context.Context, event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	frame := Frame{Type: FrameTypeEvent, Payload: payload}
	s.clients.Range(func(_, value any) bool {
		cc := value.(*clientConn)
		select {
		case cc.sendCh <- frame:
		default:
			s.metrics.EventsDropped.Add(1)
			s.logger.Warn("gateway: dropped event for slow client", "conn_id", cc.id, "event", event.Type)
		}
		return true
	})
}

// Stop gracefully shuts down the gateway server. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	unsub := s.unsubAll
	s.unsubAll = nil
	srv := s.httpSrv
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}

	s.clients.Range(func(key, value any) bool {
		cc := value.(*clientConn)
		cc.closeOnce.Do(func() { close(cc.done) })
		cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the address the server bound to. Empty before Start.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// requestToken reads the token from ?token= or an Authorization bearer header.
func requestToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	clientInfo, err := s.auth.Authenticate(requestToken(r))
	if err != nil {
		s.metrics.AuthFailures.Add(1)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	connID := s.nextID.Add(1)
	cc := &clientConn{
		id:     connID,
		info:   clientInfo,
		ws:     ws,
		sendCh: make(chan Frame, 64),
		done:   make(chan struct{}),
	}
	s.clients.Store(connID, cc)
	s.metrics.Connections.Add(1)

	s.logger.Info("gateway client connected", "conn_id", connID, "client", clientInfo.Name)

	go s.writeLoop(cc)
	s.readLoop(r.Context(), cc)

	cc.closeOnce.Do(func() { close(cc.done) })
	s.clients.Delete(connID)
	s.metrics.Connections.Add(-1)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("gateway client disconnected", "conn_id", connID)
}

func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		var frame Frame
		if err := wsjson.Read(ctx, cc.ws, &frame); err != nil {
			return
		}
		if frame.Type != FrameTypeRequest {
			continue
		}
		go s.dispatchRPC(ctx, cc, frame)
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, cc.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) dispatchRPC(ctx context.Context, cc *clientConn, req Frame) {
	s.metrics.RPCCalls.Add(1)
	if s.limiter != nil && !s.limiter.Allow("conn:"+strconv.FormatUint(cc.id, 10)) {
		s.sendResponse(cc, req.ID, nil, domain.ErrRateLimit)
		return
	}

	s.handlersMu.RLock()
	handler, ok := s.handlers[req.Method]
	s.handlersMu.RUnlock()
	if !ok {
		s.sendResponse(cc, req.ID, nil, fmt.Errorf("%w: %s", domain.ErrRPCMethodNotFound, req.Method))
		return
	}

	result, err := handler(ctx, cc.info, req.Payload)
	s.sendResponse(cc, req.ID, result, err)
}

func (s *Server) sendResponse(cc *clientConn, id uint64, result json.RawMessage, err error) {
	resp := Frame{Type: FrameTypeResponse, ID: id, Payload: result}
	if err != nil {
		s.metrics.RPCErrors.Add(1)
		resp.Error = err.Error()
		resp.Code = string(domain.ErrorCodeOf(err))
	}
	select {
	case cc.sendCh <- resp:
	case <-cc.done:
	default:
		s.logger.Warn("gateway: dropped RPC response for slow client", "frame_id", id)
	}
}
