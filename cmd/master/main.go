package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ryandielhenn/subalive/discovery"
	"github.com/ryandielhenn/subalive/internal/config"
	"github.com/ryandielhenn/subalive/internal/logging"
	"github.com/ryandielhenn/subalive/internal/telemetry"
	"github.com/ryandielhenn/subalive/pkg/heartbeat"
	"github.com/ryandielhenn/subalive/pkg/launch"
	"github.com/ryandielhenn/subalive/pkg/transport"
)

var (
	version = "dev"
	gitSHA  = "unknown"
)

func main() {
	slavePath := flag.String("slave", "", "slave executable to launch (remaining args are passed to it)")
	flag.Parse()
	if *slavePath == "" {
		fmt.Fprintln(os.Stderr, "usage: master -slave <path> [args...]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	// 2. Launch the slave
	cmd, err := launch.Spawn(launch.Spec{Path: *slavePath, Args: flag.Args(), Env: cfg.Environ()})
	if err != nil {
		logger.Fatal("launch slave", zap.Error(err))
	}
	logger.Info("slave launched", zap.Int("pid", cmd.Process.Pid))
	go func() {
		err := cmd.Wait()
		logger.Info("slave exited", zap.Error(err))
	}()

	// 3. Find it and wait until it answers
	startCtx, cancel := context.WithTimeout(ctx, cfg.StartupTimeout)
	addr, err := resolveReceiver(startCtx, cfg)
	if err == nil {
		err = transport.WaitReady(startCtx, addr, transport.ReadyConfig{Logger: logger})
	}
	cancel()
	if err != nil {
		logger.Fatal("slave did not come up", zap.Error(err))
	}

	// 4. Optional metrics endpoint
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, logger)
	}

	// 5. Keep the slave alive until it goes away or we are told to stop
	sender, err := heartbeat.NewSender(heartbeat.SenderConfig{
		Transport:   transport.NewClient(transport.ClientConfig{Addr: addr, Timeout: cfg.CallTimeout}),
		Period:      cfg.Period,
		Modulus:     cfg.CounterModulus,
		CallTimeout: cfg.CallTimeout,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("invalid sender config", zap.Error(err))
	}
	if err := sender.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("alive keeping failed", zap.Error(err))
	}
}

func resolveReceiver(ctx context.Context, cfg *config.Config) (string, error) {
	if !cfg.UsesEtcd() {
		return cfg.ListenAddr, nil
	}
	cli, err := discovery.NewClient(cfg.EtcdEndpoints)
	if err != nil {
		return "", err
	}
	defer cli.Close()
	return discovery.WaitForReceiver(ctx, cli, cfg.ReceiverID)
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.MetricsHandler())
	mux.Handle("/healthz", telemetry.Instrument("healthz", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})))

	logger.Info("metrics listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", zap.Error(err))
	}
}
