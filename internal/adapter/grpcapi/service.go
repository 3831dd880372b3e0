package grpcapi

import (
	"context"

	"google.golang.org/grpc"

	"sirsi-hub/internal/usecase/hub"
)

const serviceName = "sirsi.agent.v1.AgentService"

// Full method names.
const (
	MethodCreateSession   = "/" + serviceName + "/CreateSession"
	MethodCreateAgent     = "/" + serviceName + "/CreateAgent"
	MethodSendMessage     = "/" + serviceName + "/SendMessage"
	MethodGetAgentStatus  = "/" + serviceName + "/GetAgentStatus"
	MethodGetSuggestions  = "/" + serviceName + "/GetSuggestions"
	MethodGetSystemHealth = "/" + serviceName + "/GetSystemHealth"
)

// AgentServiceServer is the server API for AgentService.
type AgentServiceServer interface {
	CreateSession(context.Context, *hub.CreateSessionRequest) (*hub.CreateSessionResponse, error)
	CreateAgent(context.Context, *hub.CreateAgentRequest) (*hub.CreateAgentResponse, error)
	SendMessage(context.Context, *hub.SendMessageRequest) (*hub.SendMessageResponse, error)
	GetAgentStatus(context.Context, *hub.GetAgentStatusRequest) (*hub.GetAgentStatusResponse, error)
	GetSuggestions(context.Context, *hub.GetSuggestionsRequest) (*hub.GetSuggestionsResponse, error)
	GetSystemHealth(context.Context, *hub.GetSystemHealthRequest) (*hub.GetSystemHealthResponse, error)
}

// RegisterAgentServiceServer registers srv with a gRPC server.
func RegisterAgentServiceServer(s grpc.ServiceRegistrar, srv AgentServiceServer) {
	s.RegisterService(&AgentService_ServiceDesc, srv)
}

// AgentService_ServiceDesc describes AgentService for grpc.ServiceRegistrar.
var AgentService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AgentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateSession", Handler: unaryHandler(MethodCreateSession, AgentServiceServer.CreateSession)},
		{MethodName: "CreateAgent", Handler: unaryHandler(MethodCreateAgent, AgentServiceServer.CreateAgent)},
		{MethodName: "SendMessage", Handler: unaryHandler(MethodSendMessage, AgentServiceServer.SendMessage)},
		{MethodName: "GetAgentStatus", Handler: unaryHandler(MethodGetAgentStatus, AgentServiceServer.GetAgentStatus)},
		{MethodName: "GetSuggestions", Handler: unaryHandler(MethodGetSuggestions, AgentServiceServer.GetSuggestions)},
		{MethodName: "GetSystemHealth", Handler: unaryHandler(MethodGetSystemHealth, AgentServiceServer.GetSystemHealth)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sirsi/agent/v1/agent.proto",
}

// unaryHandler adapts a typed method expression to grpc.MethodHandler,
// following the shape protoc-gen-go-grpc emits per method.
func unaryHandler[Req, Resp any](fullMethod string, call func(AgentServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AgentServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AgentServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}
