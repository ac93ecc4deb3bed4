package main

import (
	"context"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/subalive/discovery"
	"github.com/ryandielhenn/subalive/internal/config"
	"github.com/ryandielhenn/subalive/internal/logging"
	"github.com/ryandielhenn/subalive/internal/telemetry"
	"github.com/ryandielhenn/subalive/pkg/heartbeat"
	"github.com/ryandielhenn/subalive/pkg/transport"
)

var (
	version = "dev"
	gitSHA  = "unknown"
)

func main() {
	ctx := context.Background()

	// 1. Load config and logger
	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Development)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()
	logger = logger.With(zap.String("receiver_id", cfg.ReceiverID))
	telemetry.SetBuildInfo(version, gitSHA)

	// 2. Receiver and its endpoint
	r, err := heartbeat.NewReceiver(heartbeat.ReceiverConfig{
		Period:        cfg.Period,
		Multiplier:    cfg.TimeoutMultiplier,
		Modulus:       cfg.CounterModulus,
		ShutdownGrace: cfg.ShutdownGrace,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("invalid receiver config", zap.Error(err))
	}
	srv, err := transport.NewServer(transport.ServerConfig{Addr: cfg.ListenAddr}, r, logger)
	if err != nil {
		logger.Fatal("cannot serve alive endpoint", zap.Error(err))
	}

	// 3. Advertise in etcd when configured
	if cfg.UsesEtcd() {
		cli, err := discovery.NewClient(cfg.EtcdEndpoints)
		if err != nil {
			logger.Fatal("create etcd client", zap.Error(err))
		}
		defer cli.Close()

		regCtx, cancel := context.WithTimeout(ctx, cfg.StartupTimeout)
		leaseID, stop, err := discovery.RegisterReceiver(regCtx, cli, cfg.ReceiverID, srv.Addr(), cfg.EtcdLeaseTTL)
		cancel()
		if err != nil {
			logger.Fatal("register receiver", zap.Error(err))
		}
		r.OnTerminate(func(heartbeat.Termination) {
			stop()
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, _ = cli.Revoke(rctx, leaseID)
		})
		logger.Info("registered in etcd", zap.String("key", discovery.ReceiverKey(cfg.ReceiverID)))
	}

	// 4. Serve until the master goes quiet
	term, err := r.Run(srv)
	if err != nil {
		logger.Warn("unclean endpoint shutdown", zap.Error(err))
	}
	logger.Info("master alive lost, exiting",
		zap.String("reason", term.Reason),
		zap.Time("last_arrival", term.LastArrival),
		zap.Duration("elapsed", term.Elapsed))
	_ = logger.Sync()
	os.Exit(term.ExitCode)
}
