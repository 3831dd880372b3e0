package config

import (
	"fmt"
	"net"
	"strings"

	"sirsi-hub/internal/domain"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateCommunicator(cfg, ve)
	validateOrchestrator(cfg, ve)
	validateConsensus(cfg, ve)
	validateDecision(cfg, ve)
	validateStore(cfg, ve)
	validateConnectors(cfg, ve)
	validateGRPC(cfg, ve)
	validateGateway(cfg, ve)
	validatePorts(cfg, ve)
	validateScheduler(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if cfg.Logger.Level != "" && !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
	if cfg.Logger.MaxSizeMB < 0 || cfg.Logger.MaxBackups < 0 || cfg.Logger.MaxAgeDays < 0 {
		ve.Add("logger rotation limits must be >= 0")
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "stdout", "noop", "":
	default:
		ve.Add("tracer.exporter %q is invalid (want: stdout, noop)", cfg.Tracer.Exporter)
	}
	if cfg.Tracer.SampleRatio < 0 || cfg.Tracer.SampleRatio > 1 {
		ve.Add("tracer.sample_ratio must be between 0 and 1")
	}
}

func validateCommunicator(cfg *Config, ve *ValidationError) {
	c := cfg.Communicator
	if len(c.Agents) == 0 {
		ve.Add("communicator.agents must not be empty")
	}
	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if _, err := domain.ParseCloudProvider(a); err != nil {
			ve.Add("communicator.agents[%d] %q is not a known provider", i, a)
		}
		if seen[a] {
			ve.Add("communicator.agents[%d]: duplicate agent %q", i, a)
		}
		seen[a] = true
	}
	if c.BufferSize <= 0 {
		ve.Add("communicator.buffer_size must be > 0")
	}
	if c.MaxRetries < 0 {
		ve.Add("communicator.max_retries must be >= 0")
	}
	if c.RequestTimeout <= 0 {
		ve.Add("communicator.request_timeout must be > 0")
	}
}

func validateOrchestrator(cfg *Config, ve *ValidationError) {
	o := cfg.Orchestrator
	if o.MinIntentConfidence < 0 || o.MinIntentConfidence > 1 {
		ve.Add("orchestrator.min_intent_confidence must be between 0 and 1")
	}
	if o.MaxSessions <= 0 {
		ve.Add("orchestrator.max_sessions must be > 0")
	}
	if o.SessionTTL <= 0 {
		ve.Add("orchestrator.session_ttl must be > 0")
	}
	if o.DefaultTimeout <= 0 {
		ve.Add("orchestrator.default_timeout must be > 0")
	}
}

func validateConsensus(cfg *Config, ve *ValidationError) {
	c := cfg.Consensus
	if c.DefaultThreshold <= 0 || c.DefaultThreshold > 1 {
		ve.Add("consensus.default_threshold must be in (0, 1]")
	}
	if c.HistoryLimit <= 0 {
		ve.Add("consensus.history_limit must be > 0")
	}
	if c.DefaultTimeout <= 0 {
		ve.Add("consensus.default_timeout must be > 0")
	}
	for agent, w := range c.AgentWeights {
		if w < 0 || w > 10 {
			ve.Add("consensus.agent_weights[%s] must be between 0 and 10", agent)
		}
	}
	switch c.VoteSource {
	case "agents", "simulated":
	default:
		ve.Add("consensus.vote_source %q is invalid (want: agents, simulated)", c.VoteSource)
	}
}

func validateDecision(cfg *Config, ve *ValidationError) {
	d := cfg.Decision
	if d.SecurityMinimum < 0 || d.SecurityMinimum > 1 {
		ve.Add("decision.security_minimum must be between 0 and 1")
	}
	if d.RiskCeiling < 0 || d.RiskCeiling > 1 {
		ve.Add("decision.risk_ceiling must be between 0 and 1")
	}
	if d.CostNormalizer <= 0 {
		ve.Add("decision.cost_normalizer must be > 0")
	}
}

func validateStore(cfg *Config, ve *ValidationError) {
	s := cfg.Store
	switch s.Backend {
	case "memory":
	case "sqlite":
		if s.Path == "" {
			ve.Add("store.path is required when backend is sqlite")
		}
	case "redis":
		if s.URL == "" {
			ve.Add("store.url is required when backend is redis")
		}
	default:
		ve.Add("store.backend %q is invalid (want: memory, sqlite, redis)", s.Backend)
	}
	if s.TTL <= 0 {
		ve.Add("store.ttl must be > 0")
	}
}

func validateConnectors(cfg *Config, ve *ValidationError) {
	c := cfg.Connectors
	for i, p := range append(append([]string{}, c.Providers...), c.Failing...) {
		if _, err := domain.ParseCloudProvider(p); err != nil {
			ve.Add("connectors provider[%d] %q is not a known provider", i, p)
		}
	}
	if c.RateLimit < 0 {
		ve.Add("connectors.rate_limit must be >= 0")
	}
	if c.RateLimit > 0 && c.Burst <= 0 {
		ve.Add("connectors.burst must be > 0 when rate_limit is set")
	}
	if c.BreakerTimeout < 0 {
		ve.Add("connectors.breaker_timeout must be >= 0")
	}
}

func validateGRPC(cfg *Config, ve *ValidationError) {
	if cfg.GRPC.Addr == "" {
		return
	}
	if _, _, err := net.SplitHostPort(cfg.GRPC.Addr); err != nil {
		ve.Add("grpc.addr %q is not a valid host:port", cfg.GRPC.Addr)
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if !cfg.Gateway.Enabled {
		return
	}
	if cfg.Gateway.Addr != "" {
		if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
			ve.Add("gateway.addr %q is not a valid host:port", cfg.Gateway.Addr)
		}
	}
	if cfg.Gateway.RequestsPerMin < 0 {
		ve.Add("gateway.requests_per_min must be >= 0")
	}
	if cfg.Gateway.RequestsPerMin > 0 && cfg.Gateway.Burst <= 0 {
		ve.Add("gateway.burst must be > 0 when requests_per_min is set")
	}
	switch cfg.Gateway.Auth.Type {
	case "":
	case "static":
		if len(cfg.Gateway.Auth.Tokens) == 0 {
			ve.Add("gateway.auth.tokens must not be empty when auth type is static")
		}
		for i, tok := range cfg.Gateway.Auth.Tokens {
			if tok.Token == "" {
				ve.Add("gateway.auth.tokens[%d].token must not be empty", i)
			}
		}
	default:
		ve.Add("gateway.auth.type %q is invalid (want: static)", cfg.Gateway.Auth.Type)
	}
}

func validatePorts(cfg *Config, ve *ValidationError) {
	if cfg.Ports.HeartbeatTimeout <= 0 {
		ve.Add("ports.heartbeat_timeout must be > 0")
	}
	for i, p := range cfg.Ports.Reserved {
		if p <= 0 || p > 65535 {
			ve.Add("ports.reserved[%d] %d is out of range", i, p)
		}
	}
}

var validActions = map[string]bool{
	"session_evict":      true,
	"decision_sweep":     true,
	"port_cleanup":       true,
	"agent_health_check": true,
	"pending_flush":      true,
}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if !cfg.Scheduler.Enabled {
		return
	}
	for i, t := range cfg.Scheduler.Tasks {
		if t.Name == "" {
			ve.Add("scheduler.tasks[%d].name is required", i)
		}
		if t.Schedule == "" {
			ve.Add("scheduler.tasks[%d].schedule is required", i)
		}
		if !validActions[t.Action] {
			ve.Add("scheduler.tasks[%d].action %q is invalid", i, t.Action)
		}
	}
}
