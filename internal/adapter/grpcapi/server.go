package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"sirsi-hub/internal/infra/tracer"
	"sirsi-hub/internal/usecase/hub"
)

// Hub is the session and agent API served over gRPC. *hub.Service
// satisfies it.
type Hub interface {
	CreateSession(ctx context.Context, req hub.CreateSessionRequest) (*hub.CreateSessionResponse, error)
	CreateAgent(ctx context.Context, req hub.CreateAgentRequest) (*hub.CreateAgentResponse, error)
	SendMessage(ctx context.Context, req hub.SendMessageRequest) (*hub.SendMessageResponse, error)
	GetAgentStatus(ctx context.Context, req hub.GetAgentStatusRequest) (*hub.GetAgentStatusResponse, error)
	GetSuggestions(ctx context.Context, req hub.GetSuggestionsRequest) (*hub.GetSuggestionsResponse, error)
	GetSystemHealth(ctx context.Context, req hub.GetSystemHealthRequest) (*hub.GetSystemHealthResponse, error)
}

// Server exposes a Hub as sirsi.agent.v1.AgentService.
type Server struct {
	hub    Hub
	logger *slog.Logger
	grpc   *grpc.Server

	mu        sync.Mutex
	boundAddr string
}

// NewServer creates a Server. Extra options are appended after the
// logging interceptor.
func NewServer(h Hub, logger *slog.Logger, opts ...grpc.ServerOption) *Server {
	s := &Server{hub: h, logger: logger}
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(s.observe)}, opts...)
	s.grpc = grpc.NewServer(opts...)
	RegisterAgentServiceServer(s.grpc, s)
	return s
}

// Serve accepts connections on lis until ctx is cancelled, then drains
// in-flight calls.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.mu.Lock()
	s.boundAddr = lis.Addr().String()
	s.mu.Unlock()
	s.logger.Info("grpc server started", "addr", s.boundAddr)

	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.grpc.GracefulStop()
		case <-stopped:
		}
	}()
	defer close(stopped)

	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// Stop halts the server immediately.
func (s *Server) Stop() { s.grpc.Stop() }

// BoundAddr returns the listening address. Only valid after Serve.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// observe wraps every call in a span and converts hub errors to statuses.
func (s *Server) observe(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	ctx, span := tracer.StartSpan(ctx, "grpc"+info.FullMethod)
	defer span.End()

	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		tracer.RecordError(span, err)
		err = toStatus(err)
		s.logger.Warn("grpc call failed", "method", info.FullMethod, "code", status.Code(err), "error", err, "elapsed", time.Since(start))
		return nil, err
	}
	tracer.SetOK(span)
	s.logger.Debug("grpc call", "method", info.FullMethod, "elapsed", time.Since(start))
	return resp, nil
}

func (s *Server) CreateSession(ctx context.Context, in *hub.CreateSessionRequest) (*hub.CreateSessionResponse, error) {
	return s.hub.CreateSession(ctx, *in)
}

func (s *Server) CreateAgent(ctx context.Context, in *hub.CreateAgentRequest) (*hub.CreateAgentResponse, error) {
	return s.hub.CreateAgent(ctx, *in)
}

func (s *Server) SendMessage(ctx context.Context, in *hub.SendMessageRequest) (*hub.SendMessageResponse, error) {
	return s.hub.SendMessage(ctx, *in)
}

func (s *Server) GetAgentStatus(ctx context.Context, in *hub.GetAgentStatusRequest) (*hub.GetAgentStatusResponse, error) {
	return s.hub.GetAgentStatus(ctx, *in)
}

func (s *Server) GetSuggestions(ctx context.Context, in *hub.GetSuggestionsRequest) (*hub.GetSuggestionsResponse, error) {
	return s.hub.GetSuggestions(ctx, *in)
}

func (s *Server) GetSystemHealth(ctx context.Context, in *hub.GetSystemHealthRequest) (*hub.GetSystemHealthResponse, error) {
	return s.hub.GetSystemHealth(ctx, *in)
}
