package heartbeat

import (
	"sync"
	"time"
)

// Detector holds the state shared between the alive handler and the
// timeout checker. Every field is guarded by mu.
type Detector struct {
	mu          sync.Mutex
	modulus     int
	lastArrival time.Time
	lastCounter int
	hasCounter  bool
	anomalies   uint64
	consecutive uint64
}

// Snapshot is a consistent copy of a Detector.
type Snapshot struct {
	LastArrival          time.Time
	LastCounter          int
	HasCounter           bool
	Anomalies            uint64
	ConsecutiveAnomalies uint64
}

// NewDetector starts the silence window at start.
func NewDetector(modulus int, start time.Time) *Detector {
	if modulus < 2 {
		modulus = DefaultModulus
	}
	return &Detector{modulus: modulus, lastArrival: start}
}

// Observe records a heartbeat carrying counter that arrived at at.
// It returns false when the counter does not follow the previous one,
// together with the run of consecutive anomalies including this call.
func (d *Detector) Observe(counter int, at time.Time) (bool, uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ok := true
	if d.hasCounter && !Follows(d.lastCounter, counter, d.modulus) {
		ok = false
	} else if !d.hasCounter && (counter < 0 || counter >= d.modulus) {
		ok = false
	}
	if ok {
		d.consecutive = 0
	} else {
		d.anomalies++
		d.consecutive++
	}

	d.lastCounter = counter
	d.hasCounter = true
	if at.After(d.lastArrival) {
		d.lastArrival = at
	}
	return ok, d.consecutive
}

func (d *Detector) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{
		LastArrival:          d.lastArrival,
		LastCounter:          d.lastCounter,
		HasCounter:           d.hasCounter,
		Anomalies:            d.anomalies,
		ConsecutiveAnomalies: d.consecutive,
	}
}

// Elapsed is the silence since the last arrival, as seen at now.
func (d *Detector) Elapsed(now time.Time) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return now.Sub(d.lastArrival)
}
