package credstore

import "github.com/eichemberger/aws-sidekick/internal/core"

// Memory is the ephemeral backend. A restart yields an empty store.
type Memory struct {
	snap snapshot
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	m := &Memory{}
	m.snap.init(nil)
	return m
}

func (m *Memory) Put(alias string, b core.CredentialBundle) error {
	if err := checkPut(alias, b); err != nil {
		return err
	}
	return m.snap.update(func(next map[string]core.CredentialBundle) { next[alias] = b }, nil)
}

func (m *Memory) Get(alias string) (core.CredentialBundle, bool) {
	return m.snap.get(alias)
}

func (m *Memory) Delete(alias string) error {
	return m.snap.update(func(next map[string]core.CredentialBundle) { delete(next, alias) }, nil)
}

func (m *Memory) ListAliases() []string {
	return m.snap.aliases()
}

func (m *Memory) Clear() error {
	return m.snap.update(func(next map[string]core.CredentialBundle) { clear(next) }, nil)
}

func (m *Memory) Close() error { return nil }
