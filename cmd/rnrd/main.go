// Command rnrd runs a record & replay node: the session controller behind
// the gRPC control service and the HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/polysync/rnr/internal/api"
	"github.com/polysync/rnr/internal/catalog"
	"github.com/polysync/rnr/internal/config"
	"github.com/polysync/rnr/internal/logfile"
	"github.com/polysync/rnr/internal/logger"
	"github.com/polysync/rnr/internal/metrics"
	"github.com/polysync/rnr/internal/msgtype"
	"github.com/polysync/rnr/internal/replay"
	"github.com/polysync/rnr/internal/session"
	"github.com/polysync/rnr/internal/tracing"
	"github.com/polysync/rnr/internal/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "rnrd: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "rnrd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := logger.Init(&logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		Rotation:   cfg.Logging.Rotation,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Service:    "rnrd",
		Node:       cfg.Node.Name,
	}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log := logger.WithComponent("main")
	info := version.Get()
	log.Info().
		Str("node", cfg.Node.Name).
		Str("version", info.Version).
		Str("commit", info.GitCommit).
		Str("data_dir", cfg.Storage.DataDir).
		Msg("Starting rnrd")

	tp, err := tracing.NewProvider(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Service:     "rnrd",
		Version:     info.Version,
		Node:        cfg.Node.Name,
		Endpoint:    cfg.Tracing.Endpoint,
		Exporter:    cfg.Tracing.Exporter,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("Tracing shutdown failed")
		}
	}()

	registry := msgtype.DefaultRegistry()

	var (
		collector   *metrics.Collector
		nodeMetrics *metrics.NodeMetrics
		rnrMetrics  *metrics.RnRMetrics
	)
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(metrics.WithNode(cfg.Node.Name), metrics.WithProcessMetrics())
		nodeMetrics = metrics.NewNodeMetrics(collector)
		rnrMetrics = metrics.NewRnRMetrics(collector)

		msrv := metrics.NewServer(cfg.Metrics.Addr, collector.Registry())
		if err := msrv.Start(ctx); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := msrv.Stop(sctx); err != nil {
				log.Warn().Err(err).Msg("Metrics server shutdown failed")
			}
		}()
	}

	cat, err := catalog.Open(cfg.CatalogDir())
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer func() {
		if err := cat.Close(); err != nil {
			log.Warn().Err(err).Msg("Catalog close failed")
		}
	}()

	policy, err := logfile.ParseFsyncPolicy(cfg.Storage.FsyncPolicy)
	if err != nil {
		return err
	}
	var scheduler *logfile.FsyncScheduler
	if policy == logfile.FsyncInterval {
		scheduler = logfile.NewFsyncScheduler(cfg.Storage.FsyncInterval)
		scheduler.Start()
		defer scheduler.Stop()
	}

	copts := session.DefaultOptions()
	copts.Writer = logfile.WriterOptions{
		FsyncPolicy:      policy,
		Scheduler:        scheduler,
		DisableChecksums: !cfg.Storage.Checksums,
	}
	copts.BufferSize = cfg.Storage.BufferSize
	copts.Delivery = replay.Delivery(cfg.Replay.Delivery)
	copts.QueueCapacity = cfg.Replay.QueueCapacity
	copts.Replay.Speed = cfg.Replay.Speed
	copts.ResolvePath = cfg.ResolveLogPath
	copts.Catalog = cat
	copts.Registry = registry
	copts.RnR = rnrMetrics
	copts.Node = nodeMetrics
	controller := session.NewController(copts)

	acfg := api.Config{
		GRPCAddr:  cfg.Control.GRPCAddr,
		HTTPAddr:  cfg.Control.HTTPAddr,
		AuthToken: cfg.Control.AuthToken,
	}
	if cfg.Control.TLSEnabled {
		acfg.TLSCertFile = cfg.Control.TLSCertFile
		acfg.TLSKeyFile = cfg.Control.TLSKeyFile
	}
	aopts := api.Options{Registry: registry, NodeMetrics: nodeMetrics}
	if collector != nil {
		aopts.Prometheus = collector.Registry()
	}

	srv, err := api.NewServer(acfg, controller, aopts)
	if err != nil {
		closeController(controller, log)
		return fmt.Errorf("create api server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		closeController(controller, log)
		return fmt.Errorf("start api server: %w", err)
	}

	log.Info().
		Str("grpc_addr", srv.GRPCAddr()).
		Str("http_addr", srv.HTTPAddr()).
		Str("delivery", cfg.Replay.Delivery).
		Msg("rnrd ready")

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Stop closes the controller, which ends any session and its file
	if err := srv.Stop(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("rnrd stopped")
	return nil
}

func closeController(c *session.Controller, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("Controller close failed")
	}
}
