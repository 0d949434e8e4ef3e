// Package conn tracks the connection health of one reading source.
//
// A Machine is owned by a single goroutine; none of its methods lock.
package conn

import (
	"errors"
	"fmt"
	"time"
)

// State is a source connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDegraded     State = "degraded"
	StateReconnecting State = "reconnecting"
)

var (
	ErrInvalidTransition = errors.New("invalid connection state transition")
	ErrTerminated        = errors.New("connection machine shut down")
)

// Status is the health record emitted on every transition.
type Status struct {
	SourceID    string     `json:"source_id"`
	State       State      `json:"state"`
	LastError   string     `json:"last_error,omitempty"`
	RetryCount  int        `json:"retry_count"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	At          time.Time  `json:"at"`
}

// edges lists every permitted transition. Shutdown is handled separately.
var edges = map[State][]State{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateReconnecting},
	StateConnected:    {StateDegraded},
	StateDegraded:     {StateReconnecting, StateConnected},
	StateReconnecting: {StateConnecting},
}

// CanTransition reports whether from → to is a defined edge.
func CanTransition(from, to State) bool {
	if to == StateDisconnected {
		return true
	}
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Options configures a Machine.
type Options struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	// FailureThreshold is the number of consecutive failures while degraded
	// before reconnecting. Values below 1 mean 1.
	FailureThreshold int
	Now              func() time.Time
}

// Machine is the per-source connection state machine.
type Machine struct {
	sourceID  string
	state     State
	lastErr   string
	retries   int
	failures  int
	nextRetry *time.Time
	done      bool

	threshold int
	backoff   *Backoff
	now       func() time.Time
	notify    func(Status)
}

// NewMachine returns a machine in the disconnected state. notify, if set, is
// called synchronously with the new status after every transition.
func NewMachine(sourceID string, opts Options, notify func(Status)) *Machine {
	if opts.FailureThreshold < 1 {
		opts.FailureThreshold = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Machine{
		sourceID:  sourceID,
		state:     StateDisconnected,
		threshold: opts.FailureThreshold,
		backoff:   NewBackoff(opts.MinDelay, opts.MaxDelay),
		now:       opts.Now,
		notify:    notify,
	}
}

func (m *Machine) SourceID() string { return m.sourceID }
func (m *Machine) State() State     { return m.state }

// Terminated reports whether Shutdown has run.
func (m *Machine) Terminated() bool { return m.done }

// Status returns a copy of the current health record.
func (m *Machine) Status() Status {
	s := Status{
		SourceID:   m.sourceID,
		State:      m.state,
		LastError:  m.lastErr,
		RetryCount: m.retries,
		At:         m.now(),
	}
	if m.nextRetry != nil {
		t := *m.nextRetry
		s.NextRetryAt = &t
	}
	return s
}

// Connect starts an attempt: disconnected or reconnecting → connecting.
func (m *Machine) Connect() error {
	if err := m.transition(StateConnecting); err != nil {
		return err
	}
	m.nextRetry = nil
	m.emit()
	return nil
}

// Connected records a successful handshake, or a successful read while
// degraded. Retry count and backoff reset.
func (m *Machine) Connected() error {
	if m.state == StateConnected && !m.done {
		m.failures = 0
		return nil
	}
	if err := m.transition(StateConnected); err != nil {
		return err
	}
	m.retries = 0
	m.failures = 0
	m.lastErr = ""
	m.nextRetry = nil
	m.backoff.Reset()
	m.emit()
	return nil
}

// Failure records a failed open, handshake or read and returns the delay
// before the next attempt when the machine moved to reconnecting. A zero
// delay means no retry was scheduled.
func (m *Machine) Failure(cause error) (time.Duration, error) {
	if m.done {
		return 0, ErrTerminated
	}
	if cause != nil {
		m.lastErr = cause.Error()
	}

	switch m.state {
	case StateConnected:
		m.failures = 1
		if err := m.transition(StateDegraded); err != nil {
			return 0, err
		}
		m.emit()
		if m.failures < m.threshold {
			return 0, nil
		}
		return m.scheduleRetry()
	case StateDegraded:
		m.failures++
		if m.failures < m.threshold {
			return 0, nil
		}
		return m.scheduleRetry()
	case StateConnecting:
		return m.scheduleRetry()
	case StateReconnecting:
		// Already waiting; the pending retry stands.
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: failure while %s", ErrInvalidTransition, m.state)
	}
}

func (m *Machine) scheduleRetry() (time.Duration, error) {
	if err := m.transition(StateReconnecting); err != nil {
		return 0, err
	}
	d := m.backoff.Next()
	at := m.now().Add(d)
	m.nextRetry = &at
	m.retries++
	m.failures = 0
	m.emit()
	return d, nil
}

// RetryDue fires when the backoff delay elapsed: reconnecting → connecting.
func (m *Machine) RetryDue() error {
	if m.state != StateReconnecting {
		if m.done {
			return ErrTerminated
		}
		return fmt.Errorf("%w: retry while %s", ErrInvalidTransition, m.state)
	}
	return m.Connect()
}

// Shutdown moves the machine to disconnected for good. Calling it again is a
// no-op.
func (m *Machine) Shutdown() {
	if m.done {
		return
	}
	m.done = true
	m.state = StateDisconnected
	m.nextRetry = nil
	m.emit()
}

func (m *Machine) transition(to State) error {
	if m.done {
		return ErrTerminated
	}
	if !CanTransition(m.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
	}
	m.state = to
	return nil
}

func (m *Machine) emit() {
	if m.notify != nil {
		m.notify(m.Status())
	}
}
