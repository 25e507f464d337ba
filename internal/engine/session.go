package engine

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// session is one request id's decode history. The history only grows.
type session struct {
	id       string
	tokens   []int
	lastUsed uint64
}

type sessionTable struct {
	mu    sync.Mutex
	limit int
	clock uint64
	byID  map[string]*session
}

func newSessionTable(limit int) *sessionTable {
	return &sessionTable{limit: limit, byID: make(map[string]*session)}
}

// history returns a copy of id's tokens followed by next.
func (t *sessionTable) history(id string, next []int) []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var prev []int
	if s, ok := t.byID[id]; ok {
		prev = s.tokens
	}
	out := make([]int, 0, len(prev)+len(next))
	out = append(out, prev...)
	return append(out, next...)
}

// commit appends tokens to id's history, creating the session if needed,
// and returns the ids of sessions evicted to stay within the limit.
func (t *sessionTable) commit(id string, tokens []int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byID[id]
	if !ok {
		s = &session{id: id}
		t.byID[id] = s
	}
	s.tokens = append(s.tokens, tokens...)
	t.clock++
	s.lastUsed = t.clock
	return t.evictLocked(id)
}

// evictLocked drops least recently used sessions other than keep until
// the table fits the limit.
func (t *sessionTable) evictLocked(keep string) []string {
	var evicted []string
	for len(t.byID) > t.limit {
		var lru *session
		for _, s := range t.byID {
			if s.id == keep {
				continue
			}
			if lru == nil || s.lastUsed < lru.lastUsed {
				lru = s
			}
		}
		if lru == nil {
			break
		}
		delete(t.byID, lru.id)
		evicted = append(evicted, lru.id)
	}
	return evicted
}

func (t *sessionTable) tokens(id string) ([]int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	return append([]int(nil), s.tokens...), true
}

func (t *sessionTable) end(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.byID[id]
	delete(t.byID, id)
	return ok
}

func (t *sessionTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}

// SessionTokens returns a copy of the accumulated token history of a
// session.
func (e *Engine) SessionTokens(requestID string) ([]int, bool) {
	return e.sessions.tokens(requestID)
}

// Sessions returns the number of live sessions.
func (e *Engine) Sessions() int { return e.sessions.count() }

// EndSession drops a session's token history. It reports whether the
// session existed.
func (e *Engine) EndSession(requestID string) bool {
	ok := e.sessions.end(requestID)
	if ok {
		log.Debug().Str("request_id", requestID).Msg("session_end")
		e.publish(Event{Name: "session_end", RequestID: requestID})
	}
	return ok
}

func (e *Engine) sessionsEvicted(ids []string) {
	for _, id := range ids {
		log.Info().Str("request_id", id).Msg("session_evicted")
		e.publish(Event{Name: "session_evicted", RequestID: id})
	}
}
