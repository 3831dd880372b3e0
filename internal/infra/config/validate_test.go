package config

import (
	"strings"
	"testing"
)

func assertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("expected %q to contain %q", s, substr)
	}
}

func TestValidateDefaultsPass(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("Defaults should pass validation: %v", err)
	}
}

func TestValidateSections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.Logger.Level = "loud" }, `logger.level "loud" is invalid`},
		{"log format", func(c *Config) { c.Logger.Format = "xml" }, `logger.format "xml" is invalid`},
		{"tracer exporter", func(c *Config) { c.Tracer.Enabled = true; c.Tracer.Exporter = "jaeger" }, `tracer.exporter "jaeger" is invalid`},
		{"no agents", func(c *Config) { c.Communicator.Agents = nil }, "communicator.agents must not be empty"},
		{"unknown agent", func(c *Config) { c.Communicator.Agents = []string{"aws", "oracle"} }, `"oracle" is not a known provider`},
		{"duplicate agent", func(c *Config) { c.Communicator.Agents = []string{"aws", "aws"} }, `duplicate agent "aws"`},
		{"buffer", func(c *Config) { c.Communicator.BufferSize = 0 }, "communicator.buffer_size must be > 0"},
		{"sessions", func(c *Config) { c.Orchestrator.MaxSessions = 0 }, "orchestrator.max_sessions must be > 0"},
		{"intent confidence", func(c *Config) { c.Orchestrator.MinIntentConfidence = 2 }, "orchestrator.min_intent_confidence"},
		{"threshold", func(c *Config) { c.Consensus.DefaultThreshold = 1.5 }, "consensus.default_threshold must be in (0, 1]"},
		{"weight", func(c *Config) { c.Consensus.AgentWeights = map[string]float64{"aws": 11} }, "consensus.agent_weights[aws]"},
		{"vote source", func(c *Config) { c.Consensus.VoteSource = "oracle" }, `consensus.vote_source "oracle" is invalid`},
		{"cost normalizer", func(c *Config) { c.Decision.CostNormalizer = 0 }, "decision.cost_normalizer must be > 0"},
		{"sqlite path", func(c *Config) { c.Store.Backend = "sqlite" }, "store.path is required"},
		{"redis url", func(c *Config) { c.Store.Backend = "redis" }, "store.url is required"},
		{"store ttl", func(c *Config) { c.Store.TTL = 0 }, "store.ttl must be > 0"},
		{"burst", func(c *Config) { c.Connectors.Burst = 0 }, "connectors.burst must be > 0"},
		{"failing provider", func(c *Config) { c.Connectors.Failing = []string{"nope"} }, `"nope" is not a known provider`},
		{"grpc addr", func(c *Config) { c.GRPC.Addr = "nope" }, `grpc.addr "nope" is not a valid host:port`},
		{"gateway addr", func(c *Config) { c.Gateway.Enabled = true; c.Gateway.Addr = "bad" }, `gateway.addr "bad"`},
		{"gateway tokens", func(c *Config) { c.Gateway.Enabled = true; c.Gateway.Auth.Type = "static" }, "gateway.auth.tokens must not be empty"},
		{"gateway auth type", func(c *Config) { c.Gateway.Enabled = true; c.Gateway.Auth.Type = "oauth" }, `gateway.auth.type "oauth" is invalid`},
		{"gateway burst", func(c *Config) { c.Gateway.Enabled = true; c.Gateway.Burst = 0 }, "gateway.burst must be > 0"},
		{"heartbeat", func(c *Config) { c.Ports.HeartbeatTimeout = 0 }, "ports.heartbeat_timeout must be > 0"},
		{"reserved", func(c *Config) { c.Ports.Reserved = []int{70000} }, "ports.reserved[0] 70000 is out of range"},
		{"task action", func(c *Config) {
			c.Scheduler.Tasks = []ScheduledTaskConfig{{Name: "x", Schedule: "1m", Action: "reboot"}}
		}, `scheduler.tasks[0].action "reboot" is invalid`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			assertContains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Orchestrator.MaxSessions = 0
	cfg.Store.TTL = 0
	cfg.Ports.HeartbeatTimeout = 0

	err := Validate(cfg)
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("err = %T, want *ValidationError", err)
	}
	if len(ve.Errors) != 3 {
		t.Errorf("got %d errors, want 3: %v", len(ve.Errors), ve.Errors)
	}
}

func TestValidateSchedulerDisabledSkipsTasks(t *testing.T) {
	cfg := Defaults()
	cfg.Scheduler.Enabled = false
	cfg.Scheduler.Tasks = []ScheduledTaskConfig{{Action: "reboot"}}
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate: %v", err)
	}
}
