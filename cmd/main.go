// Command policy-pipeline runs the ext_proc gRPC server and its admin HTTP
// sidecar: load configuration, compile a blueprint.Factory, and serve
// envoy.service.ext_proc.v3.ExternalProcessor until the process is signaled
// to stop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	extprocv3 "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/kuadrant/policy-pipeline/internal/attr"
	"github.com/kuadrant/policy-pipeline/internal/blueprint"
	"github.com/kuadrant/policy-pipeline/internal/config"
	"github.com/kuadrant/policy-pipeline/internal/expr"
	"github.com/kuadrant/policy-pipeline/internal/extproc"
	"github.com/kuadrant/policy-pipeline/internal/grpcclient"
	"github.com/kuadrant/policy-pipeline/internal/logging"
	"github.com/kuadrant/policy-pipeline/internal/metrics"
	"github.com/kuadrant/policy-pipeline/internal/server"
	"github.com/kuadrant/policy-pipeline/internal/task"
	"github.com/kuadrant/policy-pipeline/internal/tracing"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to policy configuration file")
		envPrefix  = flag.String("env-prefix", "KUADRANT", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	promReg := prometheus.NewRegistry()
	metricsRecorder := metrics.NewRecorder(promReg, cfg.Metrics.Namespace)

	dispatcher := grpcclient.NewDispatcher()
	defer func() {
		if err := dispatcher.Close(); err != nil {
			logger.Error("dispatcher shutdown failed", slog.Any("error", err))
		}
	}()

	processor := tracing.NewProcessor(cfg.Tracing.BufferCapacity, cfg.Tracing.BatchSize, logger)
	var tracer task.Tracer
	if cfg.Tracing.Endpoint != "" {
		provider, err := tracing.NewProvider(ctx, "policy-pipeline", processor)
		if err != nil {
			logger.Error("tracer provider setup failed", slog.Any("error", err))
		} else {
			tracer = tracing.NewTracer(provider, "github.com/kuadrant/policy-pipeline")
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := provider.Shutdown(shutdownCtx); err != nil {
					logger.Error("tracer provider shutdown failed", slog.Any("error", err))
				}
			}()
		}
	}

	types := attr.NewDefaultTypeRegistry()

	factory, err := buildFactory(cfg, metricsRecorder, tracer)
	if err != nil {
		log.Fatalf("failed to compile policy configuration: %v", err)
	}

	extprocServer := extproc.NewServer(factory, types, dispatcher, extproc.Options{
		Metrics:       metricsRecorder,
		Logger:        logger,
		TraceUpstream: cfg.Tracing.Endpoint,
		TraceTimeout:  5 * time.Second,
		Drainer:       processor,
	})

	if *configFile != "" {
		watcher, err := loader.Watch(ctx, func(newCfg config.Config) {
			newFactory, err := buildFactory(newCfg, metricsRecorder, tracer)
			if err != nil {
				logger.Error("config reload rejected: blueprint compilation failed", slog.Any("error", err))
				return
			}
			extprocServer.SetFactory(newFactory)
			logger.Info("configuration reloaded", slog.Int("actionSets", len(newCfg.ActionSets)))
		}, func(err error) {
			logger.Error("config watch error", slog.Any("error", err))
		})
		if err != nil {
			logger.Warn("config hot-reload disabled", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	grpcServer := grpc.NewServer()
	extprocv3.RegisterExternalProcessorServer(grpcServer, extprocServer)

	extProcAddr := net.JoinHostPort(cfg.ExtProc.Address, fmt.Sprintf("%d", cfg.ExtProc.Port))
	lis, err := net.Listen("tcp", extProcAddr)
	if err != nil {
		log.Fatalf("failed to listen on %s: %v", extProcAddr, err)
	}

	grpcErrCh := make(chan error, 1)
	go func() {
		logger.Info("ext_proc listener starting", slog.String("address", extProcAddr))
		grpcErrCh <- grpcServer.Serve(lis)
	}()

	adminHandler := server.NewAdminHandler(promReg, func() error { return nil })
	adminServer, err := server.New(cfg, logger, adminHandler)
	if err != nil {
		log.Fatalf("failed to construct admin server: %v", err)
	}

	adminErrCh := make(chan error, 1)
	go func() {
		adminErrCh <- adminServer.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		grpcServer.GracefulStop()
	case err := <-grpcErrCh:
		if err != nil {
			logger.Error("ext_proc server terminated unexpectedly", slog.Any("error", err))
		}
		stop()
	}

	if err := <-adminErrCh; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("admin server terminated unexpectedly", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// buildFactory compiles cfg into a blueprint.Factory, wiring one AuthCodec
// or RateLimitCodec per configured service so each action template's
// dispatch task has the wire-format collaborator it needs.
func buildFactory(cfg config.Config, metricsRecorder *metrics.Recorder, tracer task.Tracer) (*blueprint.Factory, error) {
	env, err := expr.NewEnvironment()
	if err != nil {
		return nil, fmt.Errorf("expr environment: %w", err)
	}

	authCodecs := make(map[string]task.AuthCodec)
	rateLimitCodecs := make(map[string]task.RateLimitCodec)
	for name, svc := range cfg.Services {
		switch svc.Type {
		case config.ServiceAuth:
			authCodecs[name] = grpcclient.AuthCodec{}
		case config.ServiceRateLimit, config.ServiceRateLimitCheck, config.ServiceRateLimitReport:
			rateLimitCodecs[name] = grpcclient.RateLimitCodec{Domain: name}
		}
	}

	factory, err := blueprint.New(cfg, env, blueprint.Options{
		AuthCodecs:      authCodecs,
		RateLimitCodecs: rateLimitCodecs,
		Tracer:          tracer,
		Metrics:         metricsRecorder,
	})
	if err != nil {
		return nil, err
	}
	return factory, nil
}
