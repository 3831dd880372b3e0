package communication

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sirsi-hub/internal/domain"
)

func drain(ch *AgentChannel) []string {
	var out []string
	for {
		select {
		case m := <-ch.Outbound():
			out = append(out, m.Content)
		default:
			return out
		}
	}
}

func TestChannelBacklogKeepsFIFO(t *testing.T) {
	ch := NewAgentChannel("aws", domain.CloudAgent(domain.ProviderAWS), 2, 3)

	for i := 0; i < 5; i++ {
		require.NoError(t, ch.Send(domain.NewSirsiMessage(domain.MsgStatusQuery, fmt.Sprint(i), domain.PriorityNormal)))
	}
	assert.Equal(t, 3, ch.PendingLen())
	assert.Equal(t, []string{"0", "1"}, drain(ch))

	// A new send must queue behind the backlog rather than jump it.
	require.NoError(t, ch.Send(domain.NewSirsiMessage(domain.MsgStatusQuery, "5", domain.PriorityNormal)))

	delivered, dropped := ch.FlushPending()
	assert.Equal(t, 2, delivered)
	assert.Zero(t, dropped)
	assert.Equal(t, []string{"2", "3"}, drain(ch))

	delivered, _ = ch.FlushPending()
	assert.Equal(t, 2, delivered)
	assert.Equal(t, []string{"4", "5"}, drain(ch))
	assert.Zero(t, ch.PendingLen())
}

func TestChannelFlushDropsAfterMaxRetries(t *testing.T) {
	ch := NewAgentChannel("gcp", domain.CloudAgent(domain.ProviderGCP), 1, 2)

	require.NoError(t, ch.Send(domain.NewSirsiMessage(domain.MsgStatusQuery, "fills buffer", domain.PriorityLow)))
	require.NoError(t, ch.Send(domain.NewSirsiMessage(domain.MsgStatusQuery, "stuck", domain.PriorityLow)))

	for i := 0; i < 2; i++ {
		_, dropped := ch.FlushPending()
		assert.Zero(t, dropped, "attempt %d", i)
	}
	_, dropped := ch.FlushPending()
	assert.Equal(t, 1, dropped)
	assert.Zero(t, ch.PendingLen())
}

func TestChannelSendAfterClose(t *testing.T) {
	ch := NewAgentChannel("azure", domain.CloudAgent(domain.ProviderAzure), 4, 3)
	ch.Close()
	ch.Close()

	err := ch.Send(domain.NewSirsiMessage(domain.MsgHealthCheck, "", domain.PriorityLow))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCommunication)
	assert.ErrorIs(t, err, domain.ErrChannelClosed)
	assert.Equal(t, domain.CodeChannelClosed, domain.ErrorCodeOf(err))

	err = ch.Reply(context.Background(), domain.AgentToSirsiMessage{MessageID: "x"})
	assert.ErrorIs(t, err, domain.ErrChannelClosed)
	assert.Equal(t, domain.HealthOffline, ch.Health().Status)

	delivered, dropped := ch.FlushPending()
	assert.Zero(t, delivered)
	assert.Zero(t, dropped)
}

func TestChannelReplyHonoursContext(t *testing.T) {
	ch := NewAgentChannel("aws", domain.CloudAgent(domain.ProviderAWS), 1, 0)
	require.NoError(t, ch.Reply(context.Background(), domain.AgentToSirsiMessage{MessageID: "1"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := ch.Reply(ctx, domain.AgentToSirsiMessage{MessageID: "2"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChannelActivityAndHealth(t *testing.T) {
	ch := NewAgentChannel("digitalocean", domain.CloudAgent(domain.ProviderDigitalOcean), 2, 1)
	before := ch.LastActivity()
	assert.Equal(t, domain.HealthUnknown, ch.Health().Status)

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, ch.Send(domain.NewSirsiMessage(domain.MsgStatusQuery, "", domain.PriorityLow)))
	assert.True(t, ch.LastActivity().After(before))

	ch.SetHealth(domain.AgentHealth{Status: domain.HealthHealthy, CurrentLoad: 0.5})
	h := ch.Health()
	assert.True(t, h.IsHealthy())
	assert.Positive(t, h.Uptime)
}
