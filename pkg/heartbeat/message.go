package heartbeat

import (
	"context"
	"time"
)

// Ack is the fixed value returned by the alive operation.
const Ack = 0

// State is the lifecycle state of a Receiver.
type State int32

const (
	StateRunning State = iota
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Transport carries one heartbeat to the receiver and returns its ack.
type Transport interface {
	Alive(ctx context.Context, counter int) (int, error)
}

// Endpoint is the served side of the transport, owned by the Receiver.
type Endpoint interface {
	// Serve blocks until the endpoint stops.
	Serve() error
	// Shutdown stops accepting calls and waits for in-flight ones until ctx is done.
	Shutdown(ctx context.Context) error
}

// Status is a point-in-time view of a Receiver.
type Status struct {
	State                string    `json:"state"`
	LastArrival          time.Time `json:"last_arrival"`
	LastCounter          *int      `json:"last_counter,omitempty"`
	Anomalies            uint64    `json:"anomalies"`
	ConsecutiveAnomalies uint64    `json:"consecutive_anomalies"`
	CheckPeriod          string    `json:"check_period"`
}

// Termination describes why and when a Receiver gave up.
type Termination struct {
	Reason      string
	At          time.Time
	LastArrival time.Time
	Elapsed     time.Duration
	ExitCode    int
}
