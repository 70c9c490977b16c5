// Package session owns the active-account selection for one operator
// session. The pointer lives in an explicit Session value handed to the
// registry, the task engine, and the transport layer, so separate sessions
// never share state.
package session

import "sync"

// Session holds the alias of the active account, or nothing.
type Session struct {
	mu     sync.RWMutex
	active string
}

// New returns a session with no active account.
func New() *Session {
	return &Session{}
}

// Active returns the active alias and whether one is set.
func (s *Session) Active() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active, s.active != ""
}

// Set makes alias active. Callers must have checked that the account exists.
func (s *Session) Set(alias string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = alias
}

// Clear unsets the active account and returns the alias that was active.
func (s *Session) Clear() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.active
	s.active = ""
	return was, was != ""
}

// ClearIf unsets the active account only if it is alias.
func (s *Session) ClearIf(alias string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != alias || alias == "" {
		return false
	}
	s.active = ""
	return true
}
