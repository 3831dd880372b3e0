package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"sirsi-hub/internal/adapter/discovery"
	"sirsi-hub/internal/adapter/gateway"
	"sirsi-hub/internal/adapter/grpcapi"
	"sirsi-hub/internal/domain"
	"sirsi-hub/internal/infra/config"
	"sirsi-hub/internal/infra/middleware"
	"sirsi-hub/internal/usecase/hub"
	"sirsi-hub/internal/usecase/portregistry"
	"sirsi-hub/internal/usecase/scheduling"
)

const (
	grpcServiceName    = "sirsi-grpc"
	gatewayServiceName = "sirsi-gateway"
	limiterSweepEvery  = time.Minute
)

// runtimeComponents holds the hub's outward-facing surfaces.
type runtimeComponents struct {
	Ports     *portregistry.Registry
	Service   *hub.Service
	GRPC      *grpcapi.Server
	GRPCLis   net.Listener
	Gateway   *gateway.Server
	Limiter   *middleware.ClientLimiter
	Scheduler *scheduling.Scheduler
	// Owned lists the allocations the hub holds for its own listeners.
	Owned []domain.PortAllocation
}

func initRuntime(ctx context.Context, cfg *config.Config, core *coreComponents, log *slog.Logger) (*runtimeComponents, func(), error) {
	rt := &runtimeComponents{}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	regOpts := []portregistry.Option{portregistry.WithEventBus(core.Bus)}
	if cfg.Ports.Probe {
		regOpts = append(regOpts, portregistry.WithProber(portregistry.ListenProber))
	}
	if cfg.Ports.MDNS {
		announcer := discovery.NewMDNSAnnouncer(log)
		closers = append(closers, announcer.Close)
		regOpts = append(regOpts, portregistry.WithAnnouncer(announcer))
	}
	rt.Ports = portregistry.New(portregistry.Config{
		HeartbeatTimeout: cfg.Ports.HeartbeatTimeout,
		Reserved:         cfg.Ports.Reserved,
	}, log, regOpts...)

	rt.Service = hub.New(hub.Deps{
		Store:          core.Store,
		Agents:         core.Agents,
		Comm:           core.Comm,
		Orchestrator:   core.Orch,
		Consensus:      core.Consensus,
		Decision:       core.Decisions,
		Knowledge:      core.Graph,
		Ports:          rt.Ports,
		Logger:         log,
		SessionTTL:     cfg.Store.TTL,
		DefaultTimeout: cfg.Orchestrator.DefaultTimeout,
	})

	grpcAddr, alloc, err := claimPort(ctx, rt.Ports, grpcServiceName, domain.ServiceGRPC, cfg.GRPC.Addr)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("grpc port: %w", err)
	}
	rt.Owned = append(rt.Owned, alloc)
	rt.GRPCLis, err = net.Listen("tcp", grpcAddr)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("grpc listen: %w", err)
	}
	rt.GRPC = grpcapi.NewServer(rt.Service, log)

	if cfg.Gateway.Enabled {
		gwAddr, alloc, err := claimPort(ctx, rt.Ports, gatewayServiceName, domain.ServiceWebSocket, cfg.Gateway.Addr)
		if err != nil {
			_ = rt.GRPCLis.Close()
			cleanup()
			return nil, nil, fmt.Errorf("gateway port: %w", err)
		}
		rt.Owned = append(rt.Owned, alloc)

		rt.Limiter = middleware.NewClientLimiter(middleware.LimiterConfig{
			RequestsPerMin: cfg.Gateway.RequestsPerMin,
			Burst:          cfg.Gateway.Burst,
		})
		rt.Gateway = gateway.NewServer(core.Bus, gateway.NewAuthenticator(cfg.Gateway.Auth), gwAddr, log,
			gateway.WithLimiter(rt.Limiter))
		deps := gateway.HandlerDeps{Hub: rt.Service, Bus: core.Bus, Logger: log}
		if err := gateway.RegisterDefaultHandlers(rt.Gateway, deps); err != nil {
			_ = rt.GRPCLis.Close()
			cleanup()
			return nil, nil, fmt.Errorf("gateway handlers: %w", err)
		}
		gateway.RegisterRESTHandlers(rt.Gateway, deps)
	}

	closers = append(closers, func() {
		for _, a := range rt.Owned {
			_ = rt.Ports.ReleasePort(context.Background(), a.ID)
		}
	})

	if cfg.Scheduler.Enabled {
		rt.Scheduler = scheduling.NewScheduler(log)
		m := &maintenance{
			orch:      core.Orch,
			store:     core.Store,
			consensus: core.Consensus,
			ports:     rt.Ports,
			comm:      core.Comm,
			owned:     rt.Owned,
			log:       log,
		}
		m.register(rt.Scheduler)
		if err := rt.Scheduler.AddTasks(schedulerTasks(cfg.Scheduler)); err != nil {
			_ = rt.GRPCLis.Close()
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = rt.Scheduler.Stop() })
	}

	return rt, cleanup, nil
}

// claimPort reserves the port for a hub listener. An empty addr, or one
// with port 0, takes whatever the registry hands out for typ.
func claimPort(ctx context.Context, reg *portregistry.Registry, service string, typ domain.ServiceType, addr string) (string, domain.PortAllocation, error) {
	host, port := "127.0.0.1", 0
	if addr != "" {
		h, p, err := net.SplitHostPort(addr)
		if err != nil {
			return "", domain.PortAllocation{}, fmt.Errorf("parse %q: %w", addr, err)
		}
		if port, err = strconv.Atoi(p); err != nil {
			return "", domain.PortAllocation{}, fmt.Errorf("parse %q: %w", addr, err)
		}
		host = h
	}

	alloc, err := reg.RequestPort(ctx, domain.PortRequest{
		ServiceName:   service,
		ServiceType:   typ,
		PreferredPort: port,
		Required:      port != 0,
		Metadata:      map[string]string{"host": host},
	})
	if err != nil {
		return "", domain.PortAllocation{}, err
	}
	return net.JoinHostPort(host, strconv.Itoa(alloc.Port)), alloc, nil
}

// schedulerTasks converts configured tasks, falling back to the defaults.
func schedulerTasks(cfg config.SchedulerConfig) []scheduling.Task {
	if len(cfg.Tasks) == 0 {
		return scheduling.DefaultTasks()
	}
	tasks := make([]scheduling.Task, 0, len(cfg.Tasks))
	for _, t := range cfg.Tasks {
		tasks = append(tasks, scheduling.Task{
			Name:     t.Name,
			Schedule: t.Schedule,
			Action:   scheduling.Action(t.Action),
		})
	}
	return tasks
}
