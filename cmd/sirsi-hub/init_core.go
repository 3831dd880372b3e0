package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"sirsi-hub/internal/adapter/connector"
	"sirsi-hub/internal/adapter/knowledgestore"
	"sirsi-hub/internal/adapter/store"
	"sirsi-hub/internal/domain"
	"sirsi-hub/internal/infra/config"
	"sirsi-hub/internal/usecase/communication"
	"sirsi-hub/internal/usecase/consensus"
	"sirsi-hub/internal/usecase/decision"
	"sirsi-hub/internal/usecase/eventbus"
	"sirsi-hub/internal/usecase/intent"
	"sirsi-hub/internal/usecase/knowledge"
	"sirsi-hub/internal/usecase/multiagent"
	"sirsi-hub/internal/usecase/orchestration"
	"sirsi-hub/internal/usecase/synthesizer"
)

const recentEvents = 256

// coreComponents holds the subsystems behind the hub service.
type coreComponents struct {
	Bus        *eventbus.Bus
	Store      domain.KVStore
	Connectors *connector.Manager
	Comm       *communication.Communicator
	Graph      *knowledge.Graph
	Orch       *orchestration.Orchestrator
	Consensus  *consensus.Engine
	Decisions  *decision.Engine
	Agents     *multiagent.Registry
}

// initCore builds the agent-facing subsystems. The returned cleanup stops
// them in reverse order.
func initCore(ctx context.Context, cfg *config.Config, log *slog.Logger) (*coreComponents, func(), error) {
	var closers []func()
	cleanup := func() {
		for _, c := range slices.Backward(closers) {
			c()
		}
	}

	bus := eventbus.New(log, recentEvents)
	closers = append(closers, bus.Close)

	kv, err := store.Open(ctx, cfg.Store)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("store: %w", err)
	}
	closers = append(closers, func() {
		if err := kv.Close(); err != nil {
			log.Warn("store close failed", "error", err)
		}
	})

	mgr := buildConnectors(cfg.Connectors, log)

	comm := communication.New(communication.Config{
		AgentIDs:       cfg.Communicator.Agents,
		BufferSize:     cfg.Communicator.BufferSize,
		MaxRetries:     cfg.Communicator.MaxRetries,
		RequestTimeout: cfg.Communicator.RequestTimeout,
	}, bus, log)
	comm.Start(ctx)
	closers = append(closers, comm.Stop)
	for _, id := range cfg.Communicator.Agents {
		if err := comm.Attach(ctx, id, orchestration.ConnectorAgentHandler(mgr)); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("attach agent %s: %w", id, err)
		}
	}

	graphOpts := []knowledge.Option{knowledge.WithEventBus(bus)}
	if cfg.Knowledge.Path != "" {
		persister, err := knowledgestore.NewSQLiteStore(cfg.Knowledge.Path)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("knowledge store: %w", err)
		}
		closers = append(closers, func() { _ = persister.Close() })
		graphOpts = append(graphOpts, knowledge.WithPersister(persister))
	}
	graph := knowledge.NewGraph(log, graphOpts...)
	if err := graph.Load(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("load knowledge: %w", err)
	}

	orch := orchestration.New(orchestration.Config{
		MinIntentConfidence: cfg.Orchestrator.MinIntentConfidence,
		MaxSessions:         cfg.Orchestrator.MaxSessions,
		SessionTTL:          cfg.Orchestrator.SessionTTL,
		DefaultTimeout:      cfg.Orchestrator.DefaultTimeout,
	}, comm, synthesizer.New(graph, log), intent.NewKeywordAnalyzer(), bus, log)

	engine := consensus.New(consensus.Config{
		DefaultThreshold: cfg.Consensus.DefaultThreshold,
		DefaultTimeout:   cfg.Consensus.DefaultTimeout,
		HistoryLimit:     cfg.Consensus.HistoryLimit,
		AgentWeights:     cfg.Consensus.AgentWeights,
	}, log,
		consensus.WithVoteSource(voteSource(cfg.Consensus, comm, cfg.Communicator.Agents, log)),
		consensus.WithEventBus(bus),
	)

	decisions := decision.New(decision.Config{
		SecurityMinimum: cfg.Decision.SecurityMinimum,
		RiskCeiling:     cfg.Decision.RiskCeiling,
		CostNormalizer:  cfg.Decision.CostNormalizer,
		HistoryLimit:    cfg.Decision.HistoryLimit,
	}, log)

	return &coreComponents{
		Bus:        bus,
		Store:      kv,
		Connectors: mgr,
		Comm:       comm,
		Graph:      graph,
		Orch:       orch,
		Consensus:  engine,
		Decisions:  decisions,
		Agents:     multiagent.NewRegistry(log),
	}, cleanup, nil
}

// buildConnectors registers a mock connector per provider, wrapped in a
// circuit breaker and, when configured, a rate limiter.
func buildConnectors(cfg config.ConnectorsConfig, log *slog.Logger) *connector.Manager {
	mgr := connector.NewManager(log)
	for _, name := range cfg.Providers {
		p := domain.CloudProvider(name)
		var opts []connector.MockOption
		if cfg.Latency > 0 {
			opts = append(opts, connector.WithLatency(cfg.Latency))
		}
		if slices.Contains(cfg.Failing, name) {
			opts = append(opts, connector.FailWith(fmt.Errorf("%s connector disabled by config", name)))
		}

		var c domain.CloudConnector = connector.NewMockConnector(p, opts...)
		c = connector.NewBreakerConnector(c, connector.BreakerConfig{
			MaxFailures: cfg.BreakerFailures,
			Timeout:     cfg.BreakerTimeout,
		}, log)
		if cfg.RateLimit > 0 {
			c = connector.NewRateLimitedConnector(c, cfg.RateLimit, cfg.Burst)
		}
		mgr.Register(c)
	}
	return mgr
}

// voteSource picks where consensus votes come from. A zero seed draws one
// from the clock.
func voteSource(cfg config.ConsensusConfig, comm consensus.Requester, agents []string, log *slog.Logger) domain.VoteSource {
	if cfg.VoteSource == "simulated" {
		seed := cfg.Seed
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		log.Info("consensus using simulated voters", "seed", seed)
		return consensus.NewSimulatedVoteSource(rand.New(rand.NewPCG(seed, seed>>1)))
	}
	return consensus.NewChannelVoteSource(comm, agents, log)
}
