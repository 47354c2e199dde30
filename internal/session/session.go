// Package session tracks each user's position in the multi-step
// run-script flow. State lives only in process memory: a restart
// drops every in-flight flow, and users start over with the device
// list. That is deliberate, not a defect.
package session

import (
	"errors"
	"sync"
	"time"
)

// Phase is a user's position in the selection flow. Transitions only
// move forward; there is no way back except clearing the session.
type Phase int

const (
	// Idle means no session exists for the identity.
	Idle Phase = iota
	AwaitingDevice
	AwaitingScript
	AwaitingPassword
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case AwaitingDevice:
		return "awaiting_device"
	case AwaitingScript:
		return "awaiting_script"
	case AwaitingPassword:
		return "awaiting_password"
	default:
		return "unknown"
	}
}

// State is one identity's session. Device is set on entering
// AwaitingScript, Script on entering AwaitingPassword.
type State struct {
	Phase     Phase
	Device    string
	Script    string
	ChatID    int64
	MessageID int
	StartedAt time.Time
}

var (
	// ErrNoSession means the identity has no active flow (expired or
	// never started).
	ErrNoSession = errors.New("no active session")
	// ErrWrongPhase means the event is not valid for the session's
	// current phase. The stored state is left untouched.
	ErrWrongPhase = errors.New("event not valid in current phase")
)

// Store holds the active sessions keyed by identity. All mutations are
// atomic with respect to the phase check, so two concurrent events
// from the same identity cannot race the machine into an inconsistent
// phase.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*State
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*State)}
}

// Begin starts (or restarts) a flow for identity at AwaitingDevice.
// An existing session is discarded; requesting the device list always
// resets the flow.
func (s *Store) Begin(identity string, chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[identity] = &State{
		Phase:     AwaitingDevice,
		ChatID:    chatID,
		StartedAt: time.Now(),
	}
}

// Advance moves identity's session from phase `from` to `to`,
// applying mutate to the stored state under the lock. It fails with
// ErrNoSession if no session exists and ErrWrongPhase if the current
// phase is not `from` or `to` is not the immediate successor.
func (s *Store) Advance(identity string, from, to Phase, mutate func(*State)) error {
	if to != from+1 {
		return ErrWrongPhase
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[identity]
	if !ok {
		return ErrNoSession
	}
	if st.Phase != from {
		return ErrWrongPhase
	}
	st.Phase = to
	if mutate != nil {
		mutate(st)
	}
	return nil
}

// Take claims and removes identity's session in one step, provided it
// is in the given phase. At most one caller wins the claim; a
// concurrent duplicate of the same event finds no session left.
func (s *Store) Take(identity string, phase Phase) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[identity]
	if !ok || st.Phase != phase {
		return State{}, false
	}
	delete(s.sessions, identity)
	return *st, true
}

// Get returns a copy of identity's session state.
func (s *Store) Get(identity string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[identity]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Clear removes identity's session. Clearing an absent session is a
// no-op.
func (s *Store) Clear(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, identity)
}

// Len reports the number of active sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
