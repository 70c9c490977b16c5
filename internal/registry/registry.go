// Package registry implements the account registry: CRUD over named
// accounts, each owning one credential bundle, plus the default flag and the
// active selection. Metadata lives in sqlite; bundles live only in the
// credential store.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/eichemberger/aws-sidekick/internal/audit"
	"github.com/eichemberger/aws-sidekick/internal/core"
	"github.com/eichemberger/aws-sidekick/internal/credstore"
	"github.com/eichemberger/aws-sidekick/internal/session"
	"github.com/rs/zerolog"
)

// Registry manages accounts. Mutations on one alias are serialized; different
// aliases proceed concurrently. Reads take no alias lock.
type Registry struct {
	db      *sql.DB
	store   credstore.Store
	session *session.Session
	audit   *audit.Logger
	logger  zerolog.Logger
	locks   *aliasLocks
	now     func() time.Time
}

// New creates a registry over the metadata database and credential store.
func New(db *sql.DB, store credstore.Store, sess *session.Session, al *audit.Logger, logger zerolog.Logger) *Registry {
	return &Registry{
		db:      db,
		store:   store,
		session: sess,
		audit:   al,
		logger:  logger.With().Str("subsystem", "registry").Logger(),
		locks:   newAliasLocks(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RegisterInput holds parameters for a new account.
type RegisterInput struct {
	Alias        string
	Bundle       core.CredentialBundle
	Description  string
	SetAsDefault bool
	// Identity, when set, is the result of a validation performed by the
	// caller before registering.
	Identity *core.Identity
}

// Register creates an account and writes its bundle through to the store.
func (r *Registry) Register(ctx context.Context, in RegisterInput) (*core.Account, error) {
	if err := core.ValidateAlias(in.Alias); err != nil {
		return nil, err
	}
	if in.Bundle == nil {
		return nil, core.InvalidBundle("a credential bundle is required")
	}
	if err := in.Bundle.Validate(); err != nil {
		return nil, err
	}

	unlock := r.locks.lock(in.Alias)
	defer unlock()

	exists, err := r.exists(ctx, in.Alias)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, core.DuplicateAlias(in.Alias)
	}

	if err := r.store.Put(in.Alias, in.Bundle); err != nil {
		return nil, err
	}

	if err := r.insert(ctx, in, r.now()); err != nil {
		if derr := r.store.Delete(in.Alias); derr != nil {
			r.logger.Error().Err(derr).Str("alias", in.Alias).Msg("rolling back stored credentials failed")
		}
		return nil, fmt.Errorf("inserting account: %w", err)
	}

	r.record(audit.EventAccountRegistered, in.Alias, "", map[string]any{
		"kind":       in.Bundle.Kind(),
		"region":     in.Bundle.RegionName(),
		"is_default": in.SetAsDefault,
	})
	r.logger.Info().Str("alias", in.Alias).Str("kind", string(in.Bundle.Kind())).Bool("default", in.SetAsDefault).Msg("account registered")

	return r.Get(ctx, in.Alias)
}

func (r *Registry) insert(ctx context.Context, in RegisterInput, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if in.SetAsDefault {
		if _, err := tx.ExecContext(ctx, "UPDATE accounts SET is_default = 0 WHERE is_default = 1"); err != nil {
			return err
		}
	}

	meta := bundleMeta(in.Bundle)
	var accountID, principal string
	var validatedAt *string
	if in.Identity != nil {
		accountID, principal = in.Identity.AccountID, in.Identity.Principal
		ts := formatTime(now)
		validatedAt = &ts
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (alias, description, kind, region, profile, masked_key_id, is_default,
		                       account_id, principal, last_validated_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.Alias, in.Description, string(meta.kind), meta.region, meta.profile, meta.maskedKeyID,
		boolInt(in.SetAsDefault), accountID, principal, validatedAt,
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateCredentials replaces only the bundle of an existing account. A
// previous validation no longer applies unless identity is supplied.
func (r *Registry) UpdateCredentials(ctx context.Context, alias string, b core.CredentialBundle, identity *core.Identity) (*core.Account, error) {
	if b == nil {
		return nil, core.InvalidBundle("a credential bundle is required")
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}

	unlock := r.locks.lock(alias)
	defer unlock()

	if err := r.mustExist(ctx, alias); err != nil {
		return nil, err
	}

	previous, hadPrevious := r.store.Get(alias)
	if err := r.store.Put(alias, b); err != nil {
		return nil, err
	}

	now := r.now()
	meta := bundleMeta(b)
	var err error
	if identity != nil {
		_, err = r.db.ExecContext(ctx,
			`UPDATE accounts SET kind = ?, region = ?, profile = ?, masked_key_id = ?,
			        account_id = ?, principal = ?, last_validated_at = ?, updated_at = ?
			 WHERE alias = ?`,
			string(meta.kind), meta.region, meta.profile, meta.maskedKeyID,
			identity.AccountID, identity.Principal, formatTime(now), formatTime(now), alias,
		)
	} else {
		_, err = r.db.ExecContext(ctx,
			`UPDATE accounts SET kind = ?, region = ?, profile = ?, masked_key_id = ?,
			        last_validated_at = NULL, updated_at = ?
			 WHERE alias = ?`,
			string(meta.kind), meta.region, meta.profile, meta.maskedKeyID, formatTime(now), alias,
		)
	}
	if err != nil {
		r.restore(alias, previous, hadPrevious)
		return nil, fmt.Errorf("updating account: %w", err)
	}

	r.record(audit.EventCredentialsUpdated, alias, "", map[string]any{
		"kind":   b.Kind(),
		"region": b.RegionName(),
	})
	r.logger.Info().Str("alias", alias).Msg("credentials updated")

	return r.Get(ctx, alias)
}

// Delete removes an account's bundle and metadata. It clears the active
// selection if this account was active. Deleting the default leaves the
// registry without a default; no successor is promoted.
func (r *Registry) Delete(ctx context.Context, alias string) error {
	unlock := r.locks.lock(alias)
	defer unlock()

	acct, err := r.Get(ctx, alias)
	if err != nil {
		return err
	}

	previous, hadPrevious := r.store.Get(alias)
	if err := r.store.Delete(alias); err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx, "DELETE FROM accounts WHERE alias = ?", alias); err != nil {
		r.restore(alias, previous, hadPrevious)
		return fmt.Errorf("deleting account: %w", err)
	}

	if r.session.ClearIf(alias) {
		r.record(audit.EventActiveChanged, alias, "", map[string]string{"action": "cleared", "reason": "account deleted"})
	}

	r.record(audit.EventAccountDeleted, alias, "", map[string]any{"was_default": acct.IsDefault})
	r.logger.Info().Str("alias", alias).Bool("was_default", acct.IsDefault).Msg("account deleted")
	return nil
}

// SetDefault makes alias the only default account. Clearing the previous
// default and setting the new one commit in one transaction.
func (r *Registry) SetDefault(ctx context.Context, alias string) (*core.Account, error) {
	unlock := r.locks.lock(alias)
	defer unlock()

	acct, err := r.Get(ctx, alias)
	if err != nil {
		return nil, err
	}
	if acct.IsDefault {
		return acct, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "UPDATE accounts SET is_default = 0 WHERE is_default = 1 AND alias != ?", alias); err != nil {
		return nil, fmt.Errorf("clearing previous default: %w", err)
	}
	res, err := tx.ExecContext(ctx, "UPDATE accounts SET is_default = 1, updated_at = ? WHERE alias = ?", formatTime(r.now()), alias)
	if err != nil {
		return nil, fmt.Errorf("setting default: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, core.NotFound("account %q not found", alias)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing default change: %w", err)
	}

	r.record(audit.EventDefaultChanged, alias, "", nil)
	r.logger.Info().Str("alias", alias).Msg("default account changed")
	return r.Get(ctx, alias)
}

// SetActive points the session at alias.
func (r *Registry) SetActive(ctx context.Context, alias string) (*core.Account, error) {
	unlock := r.locks.lock(alias)
	defer unlock()

	acct, err := r.Get(ctx, alias)
	if err != nil {
		return nil, err
	}

	if current, _ := r.session.Active(); current != alias {
		r.session.Set(alias)
		r.record(audit.EventActiveChanged, alias, "", map[string]string{"action": "set"})
		r.logger.Info().Str("alias", alias).Msg("active account changed")
	}
	return acct, nil
}

// ClearActive unsets the active account. It is idempotent.
func (r *Registry) ClearActive(ctx context.Context) {
	if alias, ok := r.session.Clear(); ok {
		r.record(audit.EventActiveChanged, alias, "", map[string]string{"action": "cleared"})
	}
}

// Active returns the active account, or NotFound when none is selected.
func (r *Registry) Active(ctx context.Context) (*core.Account, error) {
	alias, ok := r.session.Active()
	if !ok {
		return nil, core.NotFound("no active account; activate one with 'sidekick account use <alias>'")
	}
	return r.Get(ctx, alias)
}

// RecordValidation stores the identity reported by a successful validation.
func (r *Registry) RecordValidation(ctx context.Context, alias string, identity core.Identity) (*core.Account, error) {
	unlock := r.locks.lock(alias)
	defer unlock()

	now := formatTime(r.now())
	res, err := r.db.ExecContext(ctx,
		"UPDATE accounts SET account_id = ?, principal = ?, last_validated_at = ? WHERE alias = ?",
		identity.AccountID, identity.Principal, now, alias,
	)
	if err != nil {
		return nil, fmt.Errorf("recording validation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, core.NotFound("account %q not found", alias)
	}

	r.record(audit.EventCredentialsValidated, alias, "", map[string]string{
		"account_id": identity.AccountID,
		"principal":  identity.Principal,
	})
	return r.Get(ctx, alias)
}

// Credentials returns a copy of alias's bundle for handing to a task.
func (r *Registry) Credentials(ctx context.Context, alias string) (core.CredentialBundle, error) {
	if err := r.mustExist(ctx, alias); err != nil {
		return nil, err
	}
	b, ok := r.store.Get(alias)
	if !ok {
		return nil, core.NotFound("credentials for account %q are not loaded; re-enter them with 'sidekick account update %s'", alias, alias)
	}
	return b, nil
}

// ClearAll drops every stored bundle while keeping account metadata.
func (r *Registry) ClearAll(ctx context.Context) error {
	n := len(r.store.ListAliases())
	if err := r.store.Clear(); err != nil {
		return err
	}
	r.record(audit.EventCredentialsCleared, "", "", map[string]int{"count": n})
	r.logger.Warn().Int("count", n).Msg("all stored credentials cleared")
	return nil
}

// Get returns one account.
func (r *Registry) Get(ctx context.Context, alias string) (*core.Account, error) {
	rows, err := r.db.QueryContext(ctx, selectAccounts+" WHERE alias = ?", alias)
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}
	defer rows.Close()

	accts, err := r.scanAccounts(rows)
	if err != nil {
		return nil, err
	}
	if len(accts) == 0 {
		return nil, core.NotFound("account %q not found", alias)
	}
	return &accts[0], nil
}

// List returns all accounts, default first, then alphabetical by alias.
func (r *Registry) List(ctx context.Context) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx, selectAccounts+" ORDER BY is_default DESC, alias COLLATE NOCASE ASC, alias ASC")
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	defer rows.Close()

	return r.scanAccounts(rows)
}

func (r *Registry) exists(ctx context.Context, alias string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, "SELECT 1 FROM accounts WHERE alias = ?", alias).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking account: %w", err)
	}
	return true, nil
}

func (r *Registry) mustExist(ctx context.Context, alias string) error {
	ok, err := r.exists(ctx, alias)
	if err != nil {
		return err
	}
	if !ok {
		return core.NotFound("account %q not found", alias)
	}
	return nil
}

// restore puts back the bundle that was in the store before a failed
// metadata write.
func (r *Registry) restore(alias string, previous core.CredentialBundle, hadPrevious bool) {
	var err error
	if hadPrevious {
		err = r.store.Put(alias, previous)
	} else {
		err = r.store.Delete(alias)
	}
	if err != nil {
		r.logger.Error().Err(err).Str("alias", alias).Msg("restoring credentials after failed metadata write")
	}
}

const selectAccounts = `SELECT alias, description, kind, region, profile, masked_key_id, is_default,
       account_id, principal, last_validated_at, created_at, updated_at
  FROM accounts`

func (r *Registry) scanAccounts(rows *sql.Rows) ([]core.Account, error) {
	var accts []core.Account
	for rows.Next() {
		var a core.Account
		var kind, createdAt, updatedAt string
		var isDefault int
		var validatedAt sql.NullString

		err := rows.Scan(
			&a.Alias, &a.Description, &kind, &a.Region, &a.Profile, &a.MaskedKeyID, &isDefault,
			&a.AccountID, &a.Principal, &validatedAt, &createdAt, &updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}

		a.Kind = core.BundleKind(kind)
		a.IsDefault = isDefault == 1
		a.CreatedAt = parseTime(createdAt)
		a.UpdatedAt = parseTime(updatedAt)
		if validatedAt.Valid {
			t := parseTime(validatedAt.String)
			a.LastValidatedAt = &t
		}
		_, a.HasCredentials = r.store.Get(a.Alias)

		accts = append(accts, a)
	}
	return accts, rows.Err()
}

type bundleMetadata struct {
	kind        core.BundleKind
	region      string
	profile     string
	maskedKeyID string
}

func bundleMeta(b core.CredentialBundle) bundleMetadata {
	m := bundleMetadata{kind: b.Kind(), region: b.RegionName()}
	switch v := b.(type) {
	case core.KeyBundle:
		m.maskedKeyID = v.MaskedKeyID()
	case core.ProfileBundle:
		m.profile = v.Profile
	}
	return m
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r *Registry) record(event audit.EventType, alias, taskID string, detail any) {
	if err := r.audit.Log(event, "local", alias, taskID, detail); err != nil {
		r.logger.Warn().Err(err).Str("event", string(event)).Str("alias", alias).Msg("audit write failed")
	}
}
