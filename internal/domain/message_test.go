package domain

import "testing"

func TestNewSirsiMessage(t *testing.T) {
	msg := NewSirsiMessage(MsgHealthCheck, "ping", PriorityHigh)
	if msg.MessageID == "" || msg.Timestamp.IsZero() {
		t.Fatalf("message not stamped: %+v", msg)
	}
	if msg.Context == nil {
		t.Error("context should be initialised")
	}

	other := NewSirsiMessage(MsgHealthCheck, "ping", PriorityHigh)
	if other.MessageID == msg.MessageID {
		t.Error("message ids should be unique")
	}
}

func TestNewAgentReplyCorrelates(t *testing.T) {
	req := NewSirsiMessage(MsgInformationRequest, "list buckets", PriorityUrgent)
	reply := NewAgentReply("aws", req, MsgInformationResponse, "3 buckets", 0.9)

	if reply.CorrelationID != req.MessageID {
		t.Errorf("CorrelationID = %q, want %q", reply.CorrelationID, req.MessageID)
	}
	if reply.Priority != PriorityUrgent {
		t.Errorf("Priority = %s, want urgent", reply.Priority)
	}
	if reply.AgentID != "aws" || reply.Confidence != 0.9 {
		t.Errorf("unexpected reply: %+v", reply)
	}
}

func TestNewAgentReplyClampsConfidence(t *testing.T) {
	req := NewSirsiMessage(MsgStatusQuery, "", PriorityNormal)
	if got := NewAgentReply("gcp", req, MsgStatusUpdate, "", 1.7).Confidence; got != 1 {
		t.Errorf("confidence above 1 = %v", got)
	}
	if got := NewAgentReply("gcp", req, MsgStatusUpdate, "", -0.2).Confidence; got != 0 {
		t.Errorf("confidence below 0 = %v", got)
	}
}

func TestMessagePriorityString(t *testing.T) {
	tests := map[MessagePriority]string{
		PriorityLow:        "low",
		PriorityNormal:     "normal",
		PriorityHigh:       "high",
		PriorityUrgent:     "urgent",
		PriorityEmergency:  "emergency",
		MessagePriority(9): "unknown",
	}
	for p, want := range tests {
		if got := p.String(); got != want {
			t.Errorf("MessagePriority(%d).String() = %q, want %q", int(p), got, want)
		}
	}
}
