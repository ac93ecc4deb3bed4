package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ryandielhenn/subalive/internal/telemetry"
)

// ReceiverConfig configures the slave side of the protocol.
type ReceiverConfig struct {
	// Period is the sender's nominal heartbeat period.
	// Default: 5 seconds
	Period time.Duration

	// Multiplier turns Period into the check period.
	// Default: 1.5
	Multiplier float64

	// Modulus of the heartbeat counter.
	// Default: 256
	Modulus int

	// ShutdownGrace bounds the wait for in-flight calls once the timeout fired.
	// Default: 5 seconds
	ShutdownGrace time.Duration

	Clock  clockwork.Clock
	Logger *zap.Logger
}

// Validate checks the configuration.
func (c *ReceiverConfig) Validate() error {
	if c.Period < 0 || c.ShutdownGrace < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidConfig)
	}
	if c.Multiplier != 0 && c.Multiplier <= 1 {
		return fmt.Errorf("%w: multiplier %.2f must exceed 1", ErrInvalidConfig, c.Multiplier)
	}
	if c.Modulus == 1 || c.Modulus < 0 {
		return fmt.Errorf("%w: counter modulus %d", ErrInvalidConfig, c.Modulus)
	}
	return nil
}

// DefaultReceiverConfig returns configuration with the reference defaults.
func DefaultReceiverConfig() ReceiverConfig {
	return ReceiverConfig{
		Period:        5 * time.Second,
		Multiplier:    1.5,
		Modulus:       DefaultModulus,
		ShutdownGrace: 5 * time.Second,
	}
}

// CheckPeriod is Period scaled by Multiplier.
func (c *ReceiverConfig) CheckPeriod() time.Duration {
	return time.Duration(float64(c.Period) * c.Multiplier)
}

// Receiver answers alive calls and terminates once they stop.
type Receiver struct {
	checkPeriod time.Duration
	grace       time.Duration
	clock       clockwork.Clock
	log         *zap.Logger

	detector *Detector
	state    atomic.Int32
	started  atomic.Bool

	mu    sync.Mutex
	hooks []func(Termination)
	done  chan struct{}
}

// NewReceiver creates a receiver whose silence window starts now.
func NewReceiver(cfg ReceiverConfig) (*Receiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	def := DefaultReceiverConfig()
	if cfg.Period == 0 {
		cfg.Period = def.Period
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.Modulus == 0 {
		cfg.Modulus = def.Modulus
	}
	if cfg.ShutdownGrace == 0 {
		cfg.ShutdownGrace = def.ShutdownGrace
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	r := &Receiver{
		checkPeriod: cfg.CheckPeriod(),
		grace:       cfg.ShutdownGrace,
		clock:       cfg.Clock,
		log:         cfg.Logger.Named("receiver"),
		detector:    NewDetector(cfg.Modulus, cfg.Clock.Now()),
		done:        make(chan struct{}),
	}
	r.setState(StateRunning)
	return r, nil
}

// Alive handles one heartbeat. Counter anomalies are reported but never
// rejected; calls arriving after the timeout fired get ErrShuttingDown.
func (r *Receiver) Alive(counter int) (int, error) {
	if r.State() != StateRunning {
		return Ack, ErrShuttingDown
	}

	now := r.clock.Now()
	if ok, consecutive := r.detector.Observe(counter, now); !ok {
		telemetry.CounterAnomalies.Inc()
		r.log.Warn("invalid alive received",
			zap.Int("counter", counter),
			zap.Uint64("consecutive", consecutive))
	}
	telemetry.HeartbeatsReceived.Inc()
	telemetry.LastHeartbeat.Set(float64(now.UnixNano()) / 1e9)
	return Ack, nil
}

// Run serves ep (may be nil) and checks for silence every check period.
// It returns once the receiver reached StateTerminated; the error collects
// anything that went wrong while stopping the endpoint. A receiver runs
// once; later calls return ErrAlreadyRunning without touching ep.
func (r *Receiver) Run(ep Endpoint) (Termination, error) {
	if !r.started.CompareAndSwap(false, true) {
		return Termination{}, ErrAlreadyRunning
	}

	var serveErr chan error
	if ep != nil {
		serveErr = make(chan error, 1)
		go func() { serveErr <- ep.Serve() }()
	}

	r.log.Info("checking for alive timeout", zap.Duration("check_period", r.checkPeriod))
	for {
		select {
		case err := <-serveErr:
			// The endpoint died under us; without it no heartbeat can arrive.
			r.log.Error("endpoint stopped", zap.Error(err))
			return r.terminate(nil, nil, "endpoint stopped", err)
		case <-r.clock.After(r.checkPeriod):
		}

		now := r.clock.Now()
		if elapsed := r.detector.Elapsed(now); elapsed >= r.checkPeriod {
			return r.terminate(ep, serveErr, "alive timeout", nil)
		}
	}
}

func (r *Receiver) terminate(ep Endpoint, serveErr chan error, reason string, cause error) (Termination, error) {
	r.setState(StateShuttingDown)
	err := cause

	if ep != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.grace)
		err = multierr.Append(err, ep.Shutdown(ctx))
		select {
		case e := <-serveErr:
			err = multierr.Append(err, e)
		case <-ctx.Done():
			err = multierr.Append(err, ErrShutdownTimeout)
		}
		cancel()
	}

	now := r.clock.Now()
	snap := r.detector.Snapshot()
	term := Termination{
		Reason:      reason,
		At:          now,
		LastArrival: snap.LastArrival,
		Elapsed:     now.Sub(snap.LastArrival),
	}
	r.log.Info("timeout, closing",
		zap.String("reason", reason),
		zap.Duration("elapsed", term.Elapsed),
		zap.Duration("check_period", r.checkPeriod))

	r.setState(StateTerminated)
	r.mu.Lock()
	hooks := make([]func(Termination), len(r.hooks))
	copy(hooks, r.hooks)
	close(r.done)
	r.mu.Unlock()

	for _, fn := range hooks {
		fn(term)
	}
	return term, err
}

// OnTerminate registers fn to run once the receiver reached StateTerminated.
func (r *Receiver) OnTerminate(fn func(Termination)) {
	r.mu.Lock()
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

// Done is closed when the receiver terminates.
func (r *Receiver) Done() <-chan struct{} {
	return r.done
}

func (r *Receiver) State() State {
	return State(r.state.Load())
}

func (r *Receiver) setState(s State) {
	r.state.Store(int32(s))
	telemetry.ReceiverState.Set(float64(s))
}

func (r *Receiver) CheckPeriod() time.Duration {
	return r.checkPeriod
}

// Status reports the current receiver view for diagnostics.
func (r *Receiver) Status() Status {
	snap := r.detector.Snapshot()
	st := Status{
		State:                r.State().String(),
		LastArrival:          snap.LastArrival,
		Anomalies:            snap.Anomalies,
		ConsecutiveAnomalies: snap.ConsecutiveAnomalies,
		CheckPeriod:          r.checkPeriod.String(),
	}
	if snap.HasCounter {
		c := snap.LastCounter
		st.LastCounter = &c
	}
	return st
}
