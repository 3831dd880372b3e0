package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"sirsi-hub/internal/domain"
	"sirsi-hub/internal/usecase/hub"
)

// Metrics tracks gateway and hub counters for the REST API.
type Metrics struct {
	Connections   atomic.Int64
	RPCCalls      atomic.Int64
	RPCErrors     atomic.Int64
	AuthFailures  atomic.Int64
	EventsDropped atomic.Int64

	SessionsStarted    atomic.Int64
	SessionsCompleted  atomic.Int64
	SessionsFailed     atomic.Int64
	ConsensusFinalized atomic.Int64
	KnowledgeAdded     atomic.Int64
	PortsAllocated     atomic.Int64
}

// StatusResponse is the JSON body returned by GET /api/v1/health.
type StatusResponse struct {
	Service       string            `json:"service"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Health        hub.SystemHealth  `json:"health"`
	Metrics       hub.SystemMetrics `json:"metrics"`
	Gateway       map[string]int64  `json:"gateway"`
}

// RegisterRESTHandlers adds /api/v1/health and /metrics to the gateway and
// subscribes the event counters.
func RegisterRESTHandlers(s *Server, deps HandlerDeps) {
	startTime := time.Now()
	m := s.metrics

	if deps.Bus != nil {
		counters := map[domain.EventType]*atomic.Int64{
			domain.EventSessionCreated:     &m.SessionsStarted,
			domain.EventSessionCompleted:   &m.SessionsCompleted,
			domain.EventSessionFailed:      &m.SessionsFailed,
			domain.EventConsensusFinalized: &m.ConsensusFinalized,
			domain.EventKnowledgeAdded:     &m.KnowledgeAdded,
			domain.EventPortAllocated:      &m.PortsAllocated,
		}
		for typ, c := range counters {
			deps.Bus.Subscribe(typ, func(context.Context, domain.Event) { c.Add(1) })
		}
	}

	authMiddleware := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if _, err := s.auth.Authenticate(requestToken(r)); err != nil {
				m.AuthFailures.Add(1)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}

	s.RegisterHTTPRoute("/api/v1/health", authMiddleware(statusHandler(deps, startTime, m)))
	s.RegisterHTTPRoute("/metrics", authMiddleware(metricsHandler(deps, startTime, m)))
}

// statusHandler returns an HTTP handler for GET /api/v1/health. An
// unhealthy hub answers 503 with the same body.
func statusHandler(deps HandlerDeps, startTime time.Time, m *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		health, err := deps.Hub.GetSystemHealth(r.Context(), hub.GetSystemHealthRequest{})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		resp := StatusResponse{
			Service:       "sirsi-hub",
			UptimeSeconds: int64(time.Since(startTime).Seconds()),
			Health:        health.Health,
			Metrics:       health.Metrics,
			Gateway: map[string]int64{
				"connections": m.Connections.Load(),
				"rpc_calls":   m.RPCCalls.Load(),
				"rpc_errors":  m.RPCErrors.Load(),
			},
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Health.Status == hub.StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(resp)
	}
}
