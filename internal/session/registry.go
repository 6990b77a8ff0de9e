package session

import (
	"errors"
	"sync"
	"time"
)

var ErrCallExists = errors.New("call already exists")

// Call is the registry's view of one bridged call.
type Call struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id,omitempty"`
	CarrierSid string     `json:"carrier_sid,omitempty"`
	StreamSid  string     `json:"stream_sid,omitempty"`
	State      string     `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// Event is one entry in a call's timeline.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Registry tracks calls, their event timelines, and the live sessions
// serving them.
type Registry struct {
	mu     sync.RWMutex
	calls  map[string]*Call
	events map[string][]Event
	active map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		calls:  make(map[string]*Call),
		events: make(map[string][]Event),
		active: make(map[string]*Session),
	}
}

func (r *Registry) Create(call *Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[call.ID]; ok {
		return ErrCallExists
	}
	r.calls[call.ID] = call
	r.events[call.ID] = []Event{}
	return nil
}

// Get returns a copy of the call record, or nil.
func (r *Registry) Get(id string) *Call {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calls[id]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

func (r *Registry) SetState(id, state string) {
	r.mu.Lock()
	if c, ok := r.calls[id]; ok {
		c.State = state
		if state == StateTerminated {
			now := time.Now().UTC()
			c.EndedAt = &now
		}
	}
	r.mu.Unlock()
}

func (r *Registry) SetCarrierSid(id, sid string) {
	r.mu.Lock()
	if c, ok := r.calls[id]; ok {
		c.CarrierSid = sid
	}
	r.mu.Unlock()
}

func (r *Registry) SetStream(id, streamSid string) {
	r.mu.Lock()
	if c, ok := r.calls[id]; ok {
		c.StreamSid = streamSid
	}
	r.mu.Unlock()
}

// maxEvents caps the per-call timeline so a long call cannot grow without
// bound; the oldest entries are replaced by a truncation notice.
const maxEvents = 200

func (r *Registry) AppendEvent(id, typ string, payload map[string]any) Event {
	evt := Event{Type: typ, Timestamp: time.Now().UTC(), Payload: payload}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[id] = append(r.events[id], evt)
	if l := len(r.events[id]); l > maxEvents {
		keep := maxEvents - 1
		dropped := l - keep
		r.events[id] = append([]Event(nil), r.events[id][l-keep:]...)
		r.events[id] = append(r.events[id], Event{
			Type:      "events_truncated",
			Timestamp: time.Now().UTC(),
			Payload:   map[string]any{"dropped": dropped},
		})
	}
	return evt
}

func (r *Registry) ListEvents(id string) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.events[id]
	out := make([]Event, len(src))
	copy(out, src)
	return out
}

func (r *Registry) attach(id string, s *Session) {
	r.mu.Lock()
	r.active[id] = s
	r.mu.Unlock()
	metricActiveSessions.Inc()
}

func (r *Registry) detach(id string) {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
	metricActiveSessions.Dec()
}

// Active returns the live session for a call, or nil.
func (r *Registry) Active(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[id]
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// StopAll requests a stop on every live session. Used at process shutdown;
// each session then runs its own closing deadline.
func (r *Registry) StopAll() {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.active))
	for _, s := range r.active {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()
	for _, s := range sessions {
		s.Stop()
	}
}
