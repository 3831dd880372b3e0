package gateway

import (
	"fmt"
	"io"
	"net/http"
	"runtime"
	"slices"
	"time"

	"sirsi-hub/internal/usecase/hub"
)

// metricsHandler returns an HTTP handler for GET /metrics in Prometheus
// text format.
func metricsHandler(deps HandlerDeps, startTime time.Time, m *Metrics) http.HandlerFunc {
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
		sm := health.Metrics

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		gauge(w, "sirsi_gateway_connections", "Open WebSocket connections.", m.Connections.Load())
		counter(w, "sirsi_gateway_rpc_calls_total", "RPC frames received.", m.RPCCalls.Load())
		counter(w, "sirsi_gateway_rpc_errors_total", "RPC frames answered with an error.", m.RPCErrors.Load())
		counter(w, "sirsi_gateway_auth_failures_total", "Rejected gateway credentials.", m.AuthFailures.Load())
		counter(w, "sirsi_gateway_events_dropped_total", "Events dropped for slow clients.", m.EventsDropped.Load())

		counter(w, "sirsi_orchestration_sessions_started_total", "Orchestration sessions created.", m.SessionsStarted.Load())
		counter(w, "sirsi_orchestration_sessions_completed_total", "Orchestration sessions completed.", m.SessionsCompleted.Load())
		counter(w, "sirsi_orchestration_sessions_failed_total", "Orchestration sessions failed.", m.SessionsFailed.Load())
		gauge(w, "sirsi_orchestration_sessions_active", "Orchestration sessions in flight.", int64(sm.Orchestration.ActiveSessions))
		counter(w, "sirsi_consensus_finalized_total", "Consensus decisions finalized.", m.ConsensusFinalized.Load())
		gauge(w, "sirsi_consensus_active", "Consensus decisions awaiting votes.", int64(sm.ActiveDecisions))
		counter(w, "sirsi_knowledge_added_total", "Knowledge nodes added.", m.KnowledgeAdded.Load())
		gauge(w, "sirsi_knowledge_nodes", "Knowledge nodes held.", int64(sm.Knowledge.Nodes))
		counter(w, "sirsi_ports_allocated_total", "Ports allocated.", m.PortsAllocated.Load())
		gauge(w, "sirsi_ports_active", "Active port allocations.", int64(sm.Ports.Active))
		gauge(w, "sirsi_agent_instances", "Agent instances across sessions.", int64(sm.AgentInstances))

		counter(w, "sirsi_messages_sent_total", "Messages sent over agent channels.", int64(sm.Communication.MessagesSent))
		counter(w, "sirsi_messages_received_total", "Replies received over agent channels.", int64(sm.Communication.MessagesReceived))
		counter(w, "sirsi_message_errors_total", "Agent channel errors.", int64(sm.Communication.Errors))

		fmt.Fprintf(w, "# HELP sirsi_agent_up Whether an agent channel is healthy.\n")
		fmt.Fprintf(w, "# TYPE sirsi_agent_up gauge\n")
		agents := make([]string, 0, len(health.Health.Agents))
		for id := range health.Health.Agents {
			agents = append(agents, id)
		}
		slices.Sort(agents)
		for _, id := range agents {
			up := 0
			if health.Health.Agents[id].IsHealthy() {
				up = 1
			}
			fmt.Fprintf(w, "sirsi_agent_up{agent=%q} %d\n", id, up)
		}

		gauge(w, "sirsi_uptime_seconds", "Seconds since the gateway started.", int64(time.Since(startTime).Seconds()))

		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		gauge(w, "go_goroutines", "Number of goroutines.", int64(runtime.NumGoroutine()))
		gauge(w, "go_memstats_alloc_bytes", "Bytes of allocated heap objects.", int64(mem.Alloc))
	}
}

func gauge(w io.Writer, name, help string, v int64)   { metric(w, name, help, "gauge", v) }
func counter(w io.Writer, name, help string, v int64) { metric(w, name, help, "counter", v) }

func metric(w io.Writer, name, help, typ string, v int64) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %d\n", name, help, name, typ, name, v)
}
