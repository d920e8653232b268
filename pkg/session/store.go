// Package session isolates session-specific chat parameters (model,
// temperature, max_tokens) per session_id, bounded to 1000 sessions with
// oldest-evicted-first insertion order.
package session

import (
	"container/list"
	"sync"
)

const maxSessions = 1000

// Params holds the per-session overrides the !set / !get commands mutate.
type Params struct {
	Model       *string
	Temperature *float64
	MaxTokens   *int
}

// Store is an insertion-ordered, size-bounded map of session_id -> Params
// with move-to-end on access.
type Store struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[string]*list.Element
}

type entry struct {
	sessionID string
	params    Params
}

// New creates an empty session store bounded to maxSessions entries.
func New() *Store {
	return &Store{max: maxSessions, order: list.New(), entries: make(map[string]*list.Element)}
}

// Get returns the params for sessionID, creating an empty entry if absent
// and evicting the oldest session if the store is at capacity.
func (s *Store) Get(sessionID string) Params {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[sessionID]; ok {
		s.order.MoveToFront(el)
		return el.Value.(*entry).params
	}

	if len(s.entries) >= s.max {
		oldest := s.order.Back()
		if oldest != nil {
			s.order.Remove(oldest)
			delete(s.entries, oldest.Value.(*entry).sessionID)
		}
	}

	el := s.order.PushFront(&entry{sessionID: sessionID})
	s.entries[sessionID] = el
	return Params{}
}

// Set mutates the params for sessionID, creating the entry if needed.
func (s *Store) Set(sessionID string, mutate func(*Params)) Params {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[sessionID]
	if !ok {
		if len(s.entries) >= s.max {
			oldest := s.order.Back()
			if oldest != nil {
				s.order.Remove(oldest)
				delete(s.entries, oldest.Value.(*entry).sessionID)
			}
		}
		el = s.order.PushFront(&entry{sessionID: sessionID})
		s.entries[sessionID] = el
	} else {
		s.order.MoveToFront(el)
	}

	e := el.Value.(*entry)
	mutate(&e.params)
	return e.params
}

// Delete removes sessionID's params, if present.
func (s *Store) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.entries[sessionID]; ok {
		s.order.Remove(el)
		delete(s.entries, sessionID)
	}
}

// Count returns the number of tracked sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// SessionIDs returns all tracked session IDs, in no particular order.
func (s *Store) SessionIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, id)
	}
	return out
}
