// Package presence maintains the connection-to-identity mapping and the live
// user count. Each connection owns one Session that moves through a strict
// lifecycle: connected (unnamed) -> active (named) -> disconnected, with
// connected -> disconnected allowed for users who leave before naming. There
// is no transition out of disconnected.
package presence

import (
	"errors"
	"sync"
)

// Session lifecycle states.
const (
	StateConnected    = "connected"
	StateActive       = "active"
	StateDisconnected = "disconnected"
)

var (
	// ErrUnknownSession is returned for operations on a connection ID that
	// was never admitted or has already been removed.
	ErrUnknownSession = errors.New("presence: unknown session")

	// ErrAlreadyNamed is returned when a session attempts to name itself a
	// second time. The first name sticks; duplicates are rejected, not
	// overwritten.
	ErrAlreadyNamed = errors.New("presence: session already named")

	// ErrNotConnected is returned when naming a session that is no longer in
	// the connected state.
	ErrNotConnected = errors.New("presence: session not in connected state")
)

// Session is the server-side record of one live connection's identity and
// naming state. The tracker owns it; callers read it but never mutate it.
type Session struct {
	ConnID   string
	Username string
	state    string
}

// State returns the session's lifecycle state.
func (s *Session) State() string { return s.state }

// IsNamed reports whether the session has been named (is active).
func (s *Session) IsNamed() bool { return s.state == StateActive }

// Tracker is the goroutine-safe registry of live sessions. The named-user
// count is always derived from the session set, never independently
// incremented, so it cannot drift from the sessions it describes.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*Session)}
}

// Admit creates a Session for a new connection in the connected (unnamed)
// state and returns it.
func (t *Tracker) Admit(connID string) *Session {
	s := &Session{ConnID: connID, state: StateConnected}
	t.mu.Lock()
	t.sessions[connID] = s
	t.mu.Unlock()
	return s
}

// Get returns the session for connID, or nil if there is none.
func (t *Tracker) Get(connID string) *Session {
	t.mu.RLock()
	s := t.sessions[connID]
	t.mu.RUnlock()
	return s
}

// Name transitions a session from connected to active exactly once and
// returns the updated named-user count. A second call is rejected with
// ErrAlreadyNamed so duplicate client events cannot inflate the count.
func (t *Tracker) Name(connID, username string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[connID]
	if !ok {
		return t.countLocked(), ErrUnknownSession
	}
	switch s.state {
	case StateActive:
		return t.countLocked(), ErrAlreadyNamed
	case StateDisconnected:
		return t.countLocked(), ErrNotConnected
	}

	s.Username = username
	s.state = StateActive
	return t.countLocked(), nil
}

// Remove transitions a session to disconnected and drops it from the
// registry. It returns the username, whether the session had been named, and
// the updated named-user count. Removing an unknown session is a no-op.
func (t *Tracker) Remove(connID string) (username string, wasNamed bool, count int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[connID]
	if !ok {
		return "", false, t.countLocked()
	}
	username = s.Username
	wasNamed = s.state == StateActive
	s.state = StateDisconnected
	delete(t.sessions, connID)
	return username, wasNamed, t.countLocked()
}

// Count returns the number of named sessions, recomputed from the session
// set.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.countLocked()
}

func (t *Tracker) countLocked() int {
	n := 0
	for _, s := range t.sessions {
		if s.state == StateActive {
			n++
		}
	}
	return n
}
