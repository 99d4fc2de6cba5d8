package session

import (
	"sync"

	"github.com/google/uuid"
)

// Status is the session lifecycle state, per process lifetime.
type Status string

const (
	// StatusUnknown is the initial state before Init has run.
	StatusUnknown Status = "unknown"
	// StatusChecking means stored credentials are being read and validated.
	StatusChecking Status = "checking"
	// StatusAuthenticated means a user is present and the session was
	// accepted by the backend at least once this process.
	StatusAuthenticated Status = "authenticated"
	// StatusRefreshing means a token refresh is in flight after a 401.
	StatusRefreshing Status = "refreshing"
	// StatusUnauthenticated means no user is signed in.
	StatusUnauthenticated Status = "unauthenticated"
)

// State is the observable snapshot exposed to UI layers.
type State struct {
	Status Status
	User   *UserProfile

	// IsLoading is true while an auth operation is in flight.
	IsLoading bool

	// IsSessionValid is the last known validation result. It is never true
	// without at least one successful validation or auth response since
	// process start.
	IsSessionValid bool
}

// stateStore is the owned container for process-wide session state. UI layers
// observe it via Subscribe rather than reading ambient globals.
type stateStore struct {
	mu          sync.RWMutex
	state       State
	subscribers map[string]func(State)
}

func newStateStore() *stateStore {
	return &stateStore{
		state:       State{Status: StatusUnknown},
		subscribers: make(map[string]func(State)),
	}
}

func (s *stateStore) snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// update applies fn to the state and notifies subscribers with the resulting
// snapshot. Callbacks run outside the lock.
func (s *stateStore) update(fn func(*State)) {
	s.mu.Lock()
	fn(&s.state)
	snap := s.state
	subs := make([]func(State), 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub(snap)
	}
}

// subscribe registers fn for state changes and returns a cancel func.
func (s *stateStore) subscribe(fn func(State)) func() {
	id := uuid.NewString()

	s.mu.Lock()
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}
