// ABOUTME: Session lifecycle state machine with atomic transitions and snapshots.
// ABOUTME: Gates which operations are legal and supplies identity for resume.

package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Session errors
var (
	ErrNoActiveSession = errors.New("no active session")
	ErrSessionClosed   = errors.New("session closed")
	ErrBadTransition   = errors.New("operation not permitted in current state")
)

// State is a session lifecycle phase.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateResuming State = "resuming"
	StateEnding   State = "ending"
	StateClosed   State = "closed"
)

// operable reports whether commands may be dispatched in this state.
func (s State) operable() bool {
	return s == StateActive || s == StateResuming
}

// Info is a read-only session snapshot handed to callers and dispatchers.
type Info struct {
	ID           string
	State        State
	InstanceURL  string
	Capabilities []string
	MessageCount int
	LastSeq      int64
	CreatedAt    time.Time
	LastActivity time.Time
}

// Machine owns the session identity and lifecycle. All mutation goes through
// its methods under one mutex; readers receive value copies.
type Machine struct {
	mu     sync.Mutex
	logger *slog.Logger

	state        State
	id           string
	resumed      bool
	instanceURL  string
	capabilities []string
	messageCount int
	lastSeq      int64
	createdAt    time.Time
	lastActivity time.Time
}

// NewMachine creates a machine in the Idle state. Pass nil logger for default.
func NewMachine(logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		state:  StateIdle,
		logger: logger.With("component", "session"),
	}
}

// Begin transitions Idle -> Starting. Supplying a prior session identity
// marks the start as a resume: the server acknowledgment will then enter
// Resuming instead of Active. Begin fails with ErrSessionClosed after Close
// and ErrBadTransition from any state other than Idle.
func (m *Machine) Begin(existingID, instanceURL string, capabilities []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateClosed:
		return fmt.Errorf("%w: start", ErrSessionClosed)
	case StateIdle:
	default:
		return fmt.Errorf("%w: start while %s", ErrBadTransition, m.state)
	}

	now := time.Now()
	m.state = StateStarting
	m.resumed = existingID != ""
	m.instanceURL = instanceURL
	m.capabilities = append([]string(nil), capabilities...)
	// Counters and the resume marker are per-session state: they survive
	// only when resuming the identity they belong to.
	if existingID != m.id {
		m.messageCount = 0
		m.lastSeq = 0
	}
	m.id = existingID
	m.createdAt = now
	m.lastActivity = now

	m.logger.Info("session starting", "session_id", m.id, "resume", m.resumed)
	return nil
}

// Activate records the server acknowledgment of a start: Starting -> Active,
// or Starting -> Resuming when a prior identity was supplied. A server-
// assigned identity replaces an empty client one; a mismatched non-empty
// identity is rejected.
func (m *Machine) Activate(serverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateStarting {
		return fmt.Errorf("%w: activate while %s", ErrBadTransition, m.state)
	}
	if m.id != "" && serverID != "" && serverID != m.id {
		return fmt.Errorf("%w: server session %q does not match %q", ErrBadTransition, serverID, m.id)
	}
	if serverID != "" {
		m.id = serverID
	}

	if m.resumed {
		m.state = StateResuming
	} else {
		m.state = StateActive
	}
	m.lastActivity = time.Now()

	m.logger.Info("session active", "session_id", m.id, "state", m.state)
	return nil
}

// End transitions Active/Resuming -> Ending. The identity is retained until
// Ended records the server acknowledgment.
func (m *Machine) End() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateClosed:
		return fmt.Errorf("%w: end", ErrSessionClosed)
	case StateActive, StateResuming:
	default:
		return fmt.Errorf("%w: end while %s", ErrBadTransition, m.state)
	}

	m.state = StateEnding
	m.lastActivity = time.Now()
	m.logger.Info("session ending", "session_id", m.id)
	return nil
}

// Ended records the server acknowledgment of End: Ending -> Idle. The
// session identity is retained so a later Begin can resume it.
func (m *Machine) Ended() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateEnding {
		return fmt.Errorf("%w: ended while %s", ErrBadTransition, m.state)
	}
	m.state = StateIdle
	m.lastActivity = time.Now()
	m.logger.Info("session ended", "session_id", m.id)
	return nil
}

// Close transitions any state to Closed and discards the identity. Closing
// an already-closed machine is a no-op.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed {
		return
	}
	m.logger.Info("session closed", "session_id", m.id)
	m.state = StateClosed
	m.id = ""
	m.resumed = false
}

// Fail records an unrecoverable stream failure: any non-closed state drops
// to Idle with the identity retained for a later resume. The caller is
// responsible for surfacing err; Fail never swallows it silently.
func (m *Machine) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed || m.state == StateIdle {
		return
	}
	m.logger.Warn("session dropped to idle", "session_id", m.id, "error", err)
	m.state = StateIdle
	m.lastActivity = time.Now()
}

// Snapshot returns a read-only copy of the current session, or ok=false when
// no session exists (never begun, or closed).
func (m *Machine) Snapshot() (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed || (m.state == StateIdle && m.id == "") {
		return Info{}, false
	}
	return m.infoLocked(), true
}

// DispatchTarget returns the session identity commands must target, failing
// with a typed error when the session is not in an operation-permitting
// state. Dispatchers call this instead of holding a live reference.
func (m *Machine) DispatchTarget() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.state == StateClosed:
		return "", ErrSessionClosed
	case !m.state.operable():
		return "", fmt.Errorf("%w: state %s", ErrNoActiveSession, m.state)
	}
	return m.id, nil
}

// RecordOutbound bumps the monotonically increasing message counter.
func (m *Machine) RecordOutbound() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messageCount++
	m.lastActivity = time.Now()
}

// MarkDelivered advances the last-known-good sequence marker. The marker
// never regresses; stale tokens are ignored.
func (m *Machine) MarkDelivered(seq int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq > m.lastSeq {
		m.lastSeq = seq
	}
	m.lastActivity = time.Now()
}

// LastSeq returns the resume marker attached to reconnect requests.
func (m *Machine) LastSeq() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeq
}

// infoLocked builds an Info copy. Must be called with mu held.
func (m *Machine) infoLocked() Info {
	return Info{
		ID:           m.id,
		State:        m.state,
		InstanceURL:  m.instanceURL,
		Capabilities: append([]string(nil), m.capabilities...),
		MessageCount: m.messageCount,
		LastSeq:      m.lastSeq,
		CreatedAt:    m.createdAt,
		LastActivity: m.lastActivity,
	}
}
