package grpcapi

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"sirsi-hub/internal/usecase/hub"
)

// Client calls AgentService on a remote hub.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a Client for addr. The connection is established lazily.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc connect %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append(opts, grpc.CallContentSubtype(codecName))
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateSession(ctx context.Context, in *hub.CreateSessionRequest, opts ...grpc.CallOption) (*hub.CreateSessionResponse, error) {
	return invoke[hub.CreateSessionResponse](ctx, c.conn, MethodCreateSession, in, opts...)
}

func (c *Client) CreateAgent(ctx context.Context, in *hub.CreateAgentRequest, opts ...grpc.CallOption) (*hub.CreateAgentResponse, error) {
	return invoke[hub.CreateAgentResponse](ctx, c.conn, MethodCreateAgent, in, opts...)
}

func (c *Client) SendMessage(ctx context.Context, in *hub.SendMessageRequest, opts ...grpc.CallOption) (*hub.SendMessageResponse, error) {
	return invoke[hub.SendMessageResponse](ctx, c.conn, MethodSendMessage, in, opts...)
}

func (c *Client) GetAgentStatus(ctx context.Context, in *hub.GetAgentStatusRequest, opts ...grpc.CallOption) (*hub.GetAgentStatusResponse, error) {
	return invoke[hub.GetAgentStatusResponse](ctx, c.conn, MethodGetAgentStatus, in, opts...)
}

func (c *Client) GetSuggestions(ctx context.Context, in *hub.GetSuggestionsRequest, opts ...grpc.CallOption) (*hub.GetSuggestionsResponse, error) {
	return invoke[hub.GetSuggestionsResponse](ctx, c.conn, MethodGetSuggestions, in, opts...)
}

func (c *Client) GetSystemHealth(ctx context.Context, in *hub.GetSystemHealthRequest, opts ...grpc.CallOption) (*hub.GetSystemHealthResponse, error) {
	return invoke[hub.GetSystemHealthResponse](ctx, c.conn, MethodGetSystemHealth, in, opts...)
}
