package heartbeat

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ryandielhenn/subalive/internal/telemetry"
)

// SenderConfig configures the master side of the protocol.
type SenderConfig struct {
	// Transport reaches the receiver's alive operation. Required.
	Transport Transport

	// Period between heartbeats.
	// Default: 5 seconds
	Period time.Duration

	// Modulus of the heartbeat counter.
	// Default: 256
	Modulus int

	// CallTimeout bounds a single alive call; expiry counts as peer unreachable.
	// Default: 5 seconds
	CallTimeout time.Duration

	Clock  clockwork.Clock
	Logger *zap.Logger
}

// Validate checks the configuration.
func (c *SenderConfig) Validate() error {
	if c.Transport == nil {
		return fmt.Errorf("%w: transport is required", ErrInvalidConfig)
	}
	if c.Period < 0 || c.CallTimeout < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidConfig)
	}
	if c.Modulus == 1 || c.Modulus < 0 {
		return fmt.Errorf("%w: counter modulus %d", ErrInvalidConfig, c.Modulus)
	}
	return nil
}

// DefaultSenderConfig returns configuration with the reference defaults.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		Period:      5 * time.Second,
		Modulus:     DefaultModulus,
		CallTimeout: 5 * time.Second,
	}
}

// Sender issues one alive call per period until the receiver disappears.
type Sender struct {
	transport   Transport
	period      time.Duration
	callTimeout time.Duration
	clock       clockwork.Clock
	log         *zap.Logger

	counter Counter
}

func NewSender(cfg SenderConfig) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	def := DefaultSenderConfig()
	if cfg.Period == 0 {
		cfg.Period = def.Period
	}
	if cfg.Modulus == 0 {
		cfg.Modulus = def.Modulus
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Sender{
		transport:   cfg.Transport,
		period:      cfg.Period,
		callTimeout: cfg.CallTimeout,
		clock:       cfg.Clock,
		log:         cfg.Logger.Named("sender"),
		counter:     NewCounter(cfg.Modulus),
	}, nil
}

// Run sends heartbeats until the peer becomes unreachable (returns nil), an
// unclassified failure occurs (returned), or ctx is done (ctx.Err()).
// The first heartbeat goes out immediately.
func (s *Sender) Run(ctx context.Context) error {
	s.log.Info("alive keeping started",
		zap.Duration("period", s.period),
		zap.Int("modulus", s.counter.Modulus()))

	for {
		if err := s.send(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if IsPeerUnreachable(err) {
				s.log.Warn("slave process might have terminated, stop alive keeping",
					zap.Int("counter", s.counter.Value()), zap.Error(err))
				return nil
			}
			return fmt.Errorf("send heartbeat %d: %w", s.counter.Value(), err)
		}
		s.counter.Advance()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(s.period):
		}
	}
}

func (s *Sender) send(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	start := time.Now()
	_, err := s.transport.Alive(callCtx, s.counter.Value())
	telemetry.SendDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		telemetry.HeartbeatsSent.WithLabelValues("ok").Inc()
		s.log.Debug("heartbeat sent", zap.Int("counter", s.counter.Value()))
	case IsPeerUnreachable(err):
		telemetry.HeartbeatsSent.WithLabelValues("unreachable").Inc()
	default:
		telemetry.HeartbeatsSent.WithLabelValues("error").Inc()
	}
	return err
}

// Counter returns the value the next heartbeat will carry. Not safe to call
// concurrently with Run.
func (s *Sender) Counter() int {
	return s.counter.Value()
}
