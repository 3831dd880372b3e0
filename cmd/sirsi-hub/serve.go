package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"sirsi-hub/internal/infra/config"
	"sirsi-hub/internal/infra/logger"
	"sirsi-hub/internal/infra/tracer"
)

const shutdownTimeout = 10 * time.Second

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := tracerShutdown(shutdownCtx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	// 3. Agents, knowledge, consensus, decisions
	core, coreCleanup, err := initCore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer coreCleanup()

	// 4. Ports, RPC surfaces, scheduler
	rt, rtCleanup, err := initRuntime(ctx, cfg, core, log)
	if err != nil {
		return err
	}
	defer rtCleanup()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.GRPC.Serve(gctx, rt.GRPCLis)
	})
	if rt.Gateway != nil {
		g.Go(func() error { return rt.Gateway.Start(gctx) })
		go rt.Limiter.Run(gctx, limiterSweepEvery)
	}
	if rt.Scheduler != nil {
		if err := rt.Scheduler.Start(gctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
	}

	// The listeners are up; mark our allocations Active.
	for _, a := range rt.Owned {
		if err := rt.Ports.Heartbeat(ctx, a.ID); err != nil {
			log.Warn("port heartbeat failed", "service", a.ServiceName, "error", err)
		}
	}

	log.Info("sirsi-hub starting",
		"grpc", rt.GRPCLis.Addr().String(),
		"gateway", cfg.Gateway.Enabled,
		"agents", len(cfg.Communicator.Agents),
		"store", cfg.Store.Backend,
		"vote_source", cfg.Consensus.VoteSource,
		"scheduler", rt.Scheduler != nil,
	)

	err = g.Wait()
	log.Info("sirsi-hub stopped")
	return err
}
