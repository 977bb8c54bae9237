// Package session implements the UDS diagnostic session finite-state
// machine: a sparse, per-(state,event) transition table over a small set of
// diagnostic states, with S3/P2/P2* timer-driven transitions.
package session

import (
	"sync"

	"github.com/redlinetelematics/ecucore/clock"
	"github.com/redlinetelematics/ecucore/ecoerr"
	"github.com/redlinetelematics/ecucore/ecolog"
)

// State is a diagnostic session state.
type State int

const (
	StateDefault State = iota
	StateProgramming
	StateExtended
	StateSafety
	StateSupplier
	StateEOL
)

func (s State) String() string {
	switch s {
	case StateDefault:
		return "DEFAULT"
	case StateProgramming:
		return "PROGRAMMING"
	case StateExtended:
		return "EXTENDED"
	case StateSafety:
		return "SAFETY"
	case StateSupplier:
		return "SUPPLIER"
	case StateEOL:
		return "EOL"
	default:
		return "UNKNOWN"
	}
}

// Event is a stimulus delivered to a session's state machine.
type Event int

const (
	EventTimeout Event = iota
	EventRequest
	EventResponse
	EventSecurityAccess
	EventSecurityDenied
	EventError
	EventReset
)

// ISO-14229 negative response codes this package can return.
const (
	NRCSecurityAccessDenied byte = 0x33
	NRCConditionsNotCorrect byte = 0x22
	NRCRequestSequenceError byte = 0x24
	NRCGeneralReject        byte = 0x10
)

// Config parameterizes a Manager.
type Config struct {
	S3TimeoutMS           uint32
	P2TimeoutMS           uint32
	P2StarTimeoutMS       uint32
	MaxErrorCount         uint32
	RequireSecurityAccess bool
	AllowNestedResponse   bool
	AutoSessionCleanup    bool
}

// Session is one diagnostic session's live state.
type Session struct {
	ID                uint32
	State             State
	StateEntryMS      uint64
	LastActivityMS    uint64
	SecurityLevel     byte
	PendingDID        uint16
	HasPendingDID     bool
	PendingRoutine    uint16
	HasPendingRoutine bool
	RoutineActive     bool
	ErrorCount        uint32
}

type stateEvent struct {
	state State
	event Event
}

// transition.handler mutates s and returns whether the transition is
// accepted, plus the NRC to report when it is not (ignored when accepted).
// Handlers that refresh last-activity do so themselves (via the now
// parameter) since the refresh condition varies per transition, rather than
// HandleEvent applying it uniformly after every accepted transition. The NRC
// is owned by the handler, not inferred from (state, event) alone, so each
// handler states the NRC for its own rejection condition (e.g. the
// StateExtended/EventRequest security gate answers NRCSecurityAccessDenied).
type transition struct {
	next    State
	handler func(s *Session, cfg Config, data []byte, nowMS uint64) (ok bool, nrc byte)
}

// Manager owns the session table and the transition dispatch table.
type Manager struct {
	cfg Config
	clk clock.Source
	log ecolog.Logger

	mu       sync.Mutex
	sessions map[uint32]*Session
	nextID   uint32

	table map[stateEvent]transition
}

// New creates a Manager with the given configuration.
func New(cfg Config, clk clock.Source, log ecolog.Logger) *Manager {
	m := &Manager{
		cfg:      cfg,
		clk:      clk,
		log:      log.With("session"),
		sessions: make(map[uint32]*Session),
		nextID:   1,
	}
	m.table = buildTransitionTable()
	return m
}

func buildTransitionTable() map[stateEvent]transition {
	t := make(map[stateEvent]transition)

	t[stateEvent{StateDefault, EventTimeout}] = transition{
		next: StateDefault,
		handler: func(s *Session, cfg Config, data []byte, nowMS uint64) (bool, byte) {
			s.SecurityLevel = 0
			s.HasPendingDID = false
			s.HasPendingRoutine = false
			s.ErrorCount = 0
			return true, 0
		},
	}
	t[stateEvent{StateDefault, EventRequest}] = transition{
		next: StateExtended,
		handler: func(s *Session, cfg Config, data []byte, nowMS uint64) (bool, byte) {
			if len(data) > 0 && data[0] == 0x10 {
				s.LastActivityMS = nowMS
			}
			return true, 0
		},
	}
	t[stateEvent{StateProgramming, EventSecurityAccess}] = transition{
		next: StateProgramming,
		handler: func(s *Session, cfg Config, data []byte, nowMS uint64) (bool, byte) {
			if s.ErrorCount >= cfg.MaxErrorCount {
				return false, NRCSecurityAccessDenied
			}
			if len(data) >= 2 && data[0] == 0x27 {
				s.SecurityLevel = data[1]
				s.ErrorCount = 0
				return true, 0
			}
			s.ErrorCount++
			return true, 0
		},
	}
	t[stateEvent{StateExtended, EventRequest}] = transition{
		next: StateExtended,
		handler: func(s *Session, cfg Config, data []byte, nowMS uint64) (bool, byte) {
			if cfg.RequireSecurityAccess && s.SecurityLevel == 0 {
				return false, NRCSecurityAccessDenied
			}
			s.LastActivityMS = nowMS
			return true, 0
		},
	}
	t[stateEvent{StateSafety, EventError}] = transition{
		next: StateDefault,
		handler: func(s *Session, cfg Config, data []byte, nowMS uint64) (bool, byte) {
			s.ErrorCount++
			if s.ErrorCount >= cfg.MaxErrorCount {
				return true, 0
			}
			return false, NRCConditionsNotCorrect
		},
	}
	t[stateEvent{StateSupplier, EventResponse}] = transition{
		next: StateSupplier,
		handler: func(s *Session, cfg Config, data []byte, nowMS uint64) (bool, byte) {
			if !cfg.AllowNestedResponse && s.HasPendingDID {
				return false, NRCRequestSequenceError
			}
			s.LastActivityMS = nowMS
			return true, 0
		},
	}
	t[stateEvent{StateEOL, EventReset}] = transition{
		next: StateDefault,
		handler: func(s *Session, cfg Config, data []byte, nowMS uint64) (bool, byte) {
			s.SecurityLevel = 0
			s.HasPendingDID = false
			s.HasPendingRoutine = false
			s.RoutineActive = false
			s.ErrorCount = 0
			return true, 0
		},
	}

	return t
}

// CreateSession allocates a new session in StateDefault. Ids are assigned
// monotonically and never reused, even though the backing slot is.
func (m *Manager) CreateSession() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	now := m.clk.NowMS()
	m.sessions[id] = &Session{
		ID:             id,
		State:          StateDefault,
		StateEntryMS:   now,
		LastActivityMS: now,
	}
	return id
}

// DestroySession removes a session. Idempotent: destroying an unknown or
// already-destroyed id is a no-op returning false.
func (m *Manager) DestroySession(id uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroySessionLocked(id)
}

// destroySessionLocked assumes m.mu is already held by the caller. Exists so
// ProcessTimeouts can destroy sessions from within its own locked scan
// without requiring a reentrant mutex (Go's sync.Mutex deliberately has
// none).
func (m *Manager) destroySessionLocked(id uint32) bool {
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	return true
}

// HandleEvent dispatches ev to the session's current-state transition, if
// one is defined. A rejected or undefined transition increments the
// session's error counter and returns a protocol-kind error carrying the
// relevant NRC.
func (m *Manager) HandleEvent(id uint32, ev Event, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ecoerr.New(ecoerr.KindProtocol, "session_unknown_id", ecoerr.ErrNotFound)
	}

	tr, ok := m.table[stateEvent{s.State, ev}]
	if !ok {
		s.ErrorCount++
		return ecoerr.NewNRC("session_transition_undefined", nrcForUndefined(s.State, ev), nil)
	}

	now := m.clk.NowMS()
	accepted, nrc := tr.handler(s, m.cfg, data, now)
	if !accepted {
		s.ErrorCount++
		return ecoerr.NewNRC("session_transition_rejected", nrc, nil)
	}

	if s.State != tr.next {
		s.State = tr.next
		s.StateEntryMS = now
	}
	return nil
}

// nrcForUndefined picks the NRC for an (state, event) pair that has no
// transition defined at all, i.e. there is no handler to ask. Rejections of
// a defined transition instead carry the NRC the handler itself returns.
func nrcForUndefined(state State, ev Event) byte {
	switch {
	case ev == EventSecurityAccess:
		return NRCSecurityAccessDenied
	case state == StateSupplier && ev == EventResponse:
		return NRCRequestSequenceError
	default:
		return NRCConditionsNotCorrect
	}
}

// ProcessTimeouts runs one S3/P2/P2* sweep over every live session,
// generating TIMEOUT events per the configured thresholds. Sessions whose
// destruction is decided mid-scan (auto-cleanup) are buffered into a side
// list and destroyed only after the full scan completes, so the scan never
// mutates the map it is iterating.
func (m *Manager) ProcessTimeouts() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.NowMS()
	var toDestroy []uint32

	for id, s := range m.sessions {
		idleMS := now - s.LastActivityMS
		if uint32(idleMS) >= m.cfg.S3TimeoutMS {
			tr, ok := m.table[stateEvent{s.State, EventTimeout}]
			if ok {
				if accepted, _ := tr.handler(s, m.cfg, nil, now); accepted && s.State != tr.next {
					s.State = tr.next
					s.StateEntryMS = now
				}
			}
			if m.cfg.AutoSessionCleanup {
				toDestroy = append(toDestroy, id)
				continue
			}
		}

		if s.HasPendingDID || s.HasPendingRoutine {
			limit := uint64(m.cfg.P2TimeoutMS)
			if s.RoutineActive {
				limit = uint64(m.cfg.P2StarTimeoutMS)
			}
			if now-s.StateEntryMS >= limit {
				tr, ok := m.table[stateEvent{s.State, EventTimeout}]
				if ok {
					if accepted, _ := tr.handler(s, m.cfg, nil, now); accepted && s.State != tr.next {
						s.State = tr.next
						s.StateEntryMS = now
					}
				}
			}
		}
	}

	for _, id := range toDestroy {
		m.destroySessionLocked(id)
	}
}

// Get returns a copy of the session's current snapshot.
func (m *Manager) Get(id uint32) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
