package registry

import "sync"

// aliasLocks hands out one mutex per alias. Entries are reference counted
// and dropped when no goroutine holds or waits on them.
type aliasLocks struct {
	mu sync.Mutex
	m  map[string]*aliasLock
}

type aliasLock struct {
	mu   sync.Mutex
	refs int
}

func newAliasLocks() *aliasLocks {
	return &aliasLocks{m: make(map[string]*aliasLock)}
}

// lock blocks until alias is held and returns the matching unlock.
func (l *aliasLocks) lock(alias string) func() {
	l.mu.Lock()
	e, ok := l.m[alias]
	if !ok {
		e = &aliasLock{}
		l.m[alias] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()

		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.m, alias)
		}
		l.mu.Unlock()
	}
}
