package credstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/eichemberger/aws-sidekick/internal/core"
	"github.com/rs/zerolog"
)

const (
	credentialsFileMode = 0o600
	credentialsDirMode  = 0o700
	tempFilePattern     = ".credentials-*.json.tmp"
)

// File is the durable development backend. Every mutation rewrites the whole
// map to path atomically (temp file, fsync, rename); the in-memory snapshot
// advances only after the rename succeeds.
type File struct {
	snap   snapshot
	path   string
	sealer *sealer // nil when no passphrase is configured
	logger zerolog.Logger
}

var _ Store = (*File)(nil)

// OpenFile loads path eagerly. A missing file yields an empty store; an
// unreadable or corrupt file is an error rather than a silent reset. When
// passphrase is non-empty the file is sealed with a key derived from it.
func OpenFile(path, passphrase string, logger zerolog.Logger) (*File, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving credentials path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), credentialsDirMode); err != nil {
		return nil, fmt.Errorf("creating credentials directory: %w", err)
	}

	f := &File{path: path, logger: logger.With().Str("store", "file").Logger()}

	entries, sl, err := f.load(passphrase)
	if err != nil {
		return nil, err
	}
	f.sealer = sl

	if passphrase != "" && f.sealer == nil {
		if f.sealer, err = newSealer(passphrase, nil); err != nil {
			return nil, err
		}
		if len(entries) > 0 {
			f.logger.Info().Msg("credentials file is plaintext; it will be sealed on the next write")
		}
	}

	f.snap.init(entries)
	f.logger.Debug().Int("accounts", len(entries)).Msg("credentials loaded")
	return f, nil
}

// load reads and decodes the file. For a sealed file it also returns the
// sealer, keyed to the file's salt, for later writes.
func (f *File) load(passphrase string) (map[string]core.CredentialBundle, *sealer, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("reading credentials file: %w", err)
	}

	env, sealed, err := peekSealed(data)
	if err != nil {
		return nil, nil, err
	}
	if !sealed {
		entries, err := decodeFile(data)
		return entries, nil, err
	}

	if passphrase == "" {
		return nil, nil, fmt.Errorf("credentials file %s is sealed; set credentials_passphrase to open it", f.path)
	}
	sl, err := newSealer(passphrase, env.Salt)
	if err != nil {
		return nil, nil, err
	}
	plaintext, err := sl.open(env)
	if err != nil {
		sl.wipe()
		return nil, nil, err
	}
	entries, err := decodeFile(plaintext)
	if err != nil {
		sl.wipe()
		return nil, nil, err
	}
	return entries, sl, nil
}

func (f *File) Put(alias string, b core.CredentialBundle) error {
	if err := checkPut(alias, b); err != nil {
		return err
	}
	return f.snap.update(func(next map[string]core.CredentialBundle) { next[alias] = b }, f.commit)
}

func (f *File) Get(alias string) (core.CredentialBundle, bool) {
	return f.snap.get(alias)
}

func (f *File) Delete(alias string) error {
	if _, ok := f.snap.get(alias); !ok {
		return nil
	}
	return f.snap.update(func(next map[string]core.CredentialBundle) { delete(next, alias) }, f.commit)
}

func (f *File) ListAliases() []string {
	return f.snap.aliases()
}

func (f *File) Clear() error {
	return f.snap.update(func(next map[string]core.CredentialBundle) { clear(next) }, f.commit)
}

// Close zeroes the derived key.
func (f *File) Close() error {
	f.snap.mu.Lock()
	defer f.snap.mu.Unlock()
	f.sealer.wipe()
	return nil
}

// Path returns the absolute location of the credentials file.
func (f *File) Path() string { return f.path }

func (f *File) commit(next map[string]core.CredentialBundle) error {
	data, err := encodeFile(next)
	if err != nil {
		return core.StorageWriteFailed(err, "encoding credentials")
	}
	if f.sealer != nil {
		if data, err = f.sealer.seal(data); err != nil {
			return core.StorageWriteFailed(err, "sealing credentials")
		}
	}
	if err := f.writeAtomic(data); err != nil {
		f.logger.Error().Err(err).Msg("credentials write failed; in-memory state unchanged")
		return core.StorageWriteFailed(err, "persisting credentials to %s", f.path)
	}
	return nil
}

func (f *File) writeAtomic(data []byte) error {
	tempFile, err := os.CreateTemp(filepath.Dir(f.path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp credentials file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if err := tempFile.Chmod(credentialsFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp credentials file: %w", err)
	}
	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp credentials file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("sync temp credentials file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp credentials file: %w", err)
	}

	if err := os.Rename(tempName, f.path); err != nil {
		return fmt.Errorf("replace credentials file: %w", err)
	}
	cleanup = false

	// The new file is in place; a failed directory sync only weakens
	// durability across power loss.
	if err := syncDir(filepath.Dir(f.path)); err != nil {
		f.logger.Warn().Err(err).Msg("sync credentials directory")
	}
	return nil
}

var syncDir = func(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
