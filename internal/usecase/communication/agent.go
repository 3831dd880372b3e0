package communication

import (
	"context"
	"log/slog"
	"time"

	"sirsi-hub/internal/domain"
)

// AgentHandler is the agent side of a channel: it turns one request into
// one reply.
type AgentHandler interface {
	Handle(ctx context.Context, agentID string, msg domain.SirsiToAgentMessage) (domain.AgentToSirsiMessage, error)
}

// AgentHandlerFunc adapts a function to AgentHandler.
type AgentHandlerFunc func(ctx context.Context, agentID string, msg domain.SirsiToAgentMessage) (domain.AgentToSirsiMessage, error)

func (f AgentHandlerFunc) Handle(ctx context.Context, agentID string, msg domain.SirsiToAgentMessage) (domain.AgentToSirsiMessage, error) {
	return f(ctx, agentID, msg)
}

// RunAgent consumes ch's outbound queue until ctx is done or the channel is
// closed. Every request gets exactly one reply: a HealthReport for
// HealthCheck, an ErrorReport when the handler fails, otherwise the
// handler's reply.
func RunAgent(ctx context.Context, ch *AgentChannel, handler AgentHandler, logger *slog.Logger) error {
	out := ch.Outbound()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-out:
			if !ok {
				return nil
			}
			reply := handleOne(ctx, ch.ID(), msg, handler, logger)
			if err := ch.Reply(ctx, reply); err != nil {
				logger.Debug("agent reply not delivered", "agent_id", ch.ID(), "message_id", msg.MessageID, "error", err)
			}
		}
	}
}

func handleOne(ctx context.Context, agentID string, msg domain.SirsiToAgentMessage, handler AgentHandler, logger *slog.Logger) domain.AgentToSirsiMessage {
	start := time.Now()

	var reply domain.AgentToSirsiMessage
	if msg.Type == domain.MsgHealthCheck {
		reply = domain.NewAgentReply(agentID, msg, domain.MsgHealthReport, "ok", 1)
	} else {
		r, err := safeHandle(ctx, agentID, msg, handler)
		if err != nil {
			logger.Warn("agent handler failed", "agent_id", agentID, "message_type", msg.Type, "error", err)
			r = domain.NewAgentReply(agentID, msg, domain.MsgErrorReport, err.Error(), 0)
		}
		reply = r
	}

	// The reply must always answer this request.
	reply.AgentID = agentID
	reply.CorrelationID = msg.MessageID
	if reply.MessageID == "" {
		reply.MessageID = domain.NewULID(time.Now())
	}
	if reply.Timestamp.IsZero() {
		reply.Timestamp = time.Now()
	}
	reply.ProcessingTimeMs = time.Since(start).Milliseconds()
	return reply
}

func safeHandle(ctx context.Context, agentID string, msg domain.SirsiToAgentMessage, handler AgentHandler) (reply domain.AgentToSirsiMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.NewSubSystemError("agent", "AgentHandler.Handle", domain.ErrProviderError, "handler panicked")
		}
	}()
	return handler.Handle(ctx, agentID, msg)
}
