// Package credstore persists credential bundles keyed by account alias.
//
// Two backends implement Store: Memory keeps bundles in process memory only
// and is the default; File additionally persists the whole alias-to-bundle
// map to a single owner-only file and is enabled only for deployments flagged
// as development. The backend is chosen once by New and never switched.
//
// Both backends publish an immutable snapshot of the map after every
// mutation, so Get and ListAliases never wait on a writer.
package credstore

import (
	"sync"
	"sync/atomic"

	"github.com/eichemberger/aws-sidekick/internal/config"
	"github.com/eichemberger/aws-sidekick/internal/core"
	"github.com/rs/zerolog"
)

// Store is the credential store contract shared by both backends.
type Store interface {
	// Put stores or replaces the bundle for alias.
	Put(alias string, b core.CredentialBundle) error
	// Get returns a copy of the bundle for alias, or false when absent.
	Get(alias string) (core.CredentialBundle, bool)
	// Delete removes alias. Deleting an absent alias is a no-op.
	Delete(alias string) error
	// ListAliases returns the stored aliases in sorted order.
	ListAliases() []string
	// Clear removes every bundle.
	Clear() error
	Close() error
}

// New selects the backend for this process from the deployment flag.
func New(cfg config.Config, logger zerolog.Logger) (Store, error) {
	if !cfg.DevMode() {
		logger.Info().Msg("credential store: memory only; credentials are lost on restart")
		return NewMemory(), nil
	}

	f, err := OpenFile(cfg.CredentialsFile, cfg.CredentialsPassphrase, logger)
	if err != nil {
		return nil, err
	}
	logger.Warn().
		Str("path", f.Path()).
		Bool("sealed", cfg.CredentialsPassphrase != "").
		Msg("development mode: credentials persisted to disk")
	return f, nil
}

// snapshot is a copy-on-write alias-to-bundle map. Writers serialize on mu
// and publish a fresh map; readers load the current map without locking.
type snapshot struct {
	mu      sync.Mutex
	current atomic.Pointer[map[string]core.CredentialBundle]
}

func (s *snapshot) init(entries map[string]core.CredentialBundle) {
	if entries == nil {
		entries = make(map[string]core.CredentialBundle)
	}
	s.current.Store(&entries)
}

func (s *snapshot) load() map[string]core.CredentialBundle {
	return *s.current.Load()
}

// update builds the next map with fn, hands it to commit, and publishes it
// only if commit succeeds. The caller's view never changes on failure.
func (s *snapshot) update(fn func(next map[string]core.CredentialBundle), commit func(next map[string]core.CredentialBundle) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.load()
	next := make(map[string]core.CredentialBundle, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	fn(next)

	if commit != nil {
		if err := commit(next); err != nil {
			return err
		}
	}
	s.current.Store(&next)
	return nil
}

func (s *snapshot) get(alias string) (core.CredentialBundle, bool) {
	b, ok := s.load()[alias]
	return b, ok
}

func (s *snapshot) aliases() []string {
	return sortedKeys(s.load())
}

func checkPut(alias string, b core.CredentialBundle) error {
	if err := core.ValidateAlias(alias); err != nil {
		return err
	}
	if b == nil {
		return core.InvalidBundle("bundle for %q is nil", alias)
	}
	return b.Validate()
}
