package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

type ReadyConfig struct {
	// Attempts is the number of retries after the first probe. Default: 20
	Attempts int
	// WaitMin and WaitMax bound the backoff between probes.
	WaitMin time.Duration
	WaitMax time.Duration
	Logger  *zap.Logger
}

// WaitReady polls the receiver's /healthz until it answers 200. It runs
// before the first heartbeat so a slow-starting slave is not mistaken for a
// dead one; heartbeats themselves are never retried.
func WaitReady(ctx context.Context, addr string, cfg ReadyConfig) error {
	if cfg.Attempts == 0 {
		cfg.Attempts = 20
	}
	if cfg.WaitMin == 0 {
		cfg.WaitMin = 50 * time.Millisecond
	}
	if cfg.WaitMax == 0 {
		cfg.WaitMax = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.Attempts
	client.RetryWaitMin = cfg.WaitMin
	client.RetryWaitMax = cfg.WaitMax
	client.Logger = leveledZap{cfg.Logger.Named("ready").Sugar()}

	url := BaseURL(addr) + HealthzPath
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("receiver at %s not ready: %w", addr, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("receiver at %s not ready: %s", addr, resp.Status)
	}
	return nil
}

// leveledZap adapts a zap sugared logger to retryablehttp.LeveledLogger.
type leveledZap struct {
	l *zap.SugaredLogger
}

func (z leveledZap) Error(msg string, kv ...interface{}) { z.l.Errorw(msg, kv...) }
func (z leveledZap) Info(msg string, kv ...interface{})  { z.l.Debugw(msg, kv...) }
func (z leveledZap) Debug(msg string, kv ...interface{}) { z.l.Debugw(msg, kv...) }
func (z leveledZap) Warn(msg string, kv ...interface{})  { z.l.Warnw(msg, kv...) }
