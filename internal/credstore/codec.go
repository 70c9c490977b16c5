package credstore

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/eichemberger/aws-sidekick/internal/core"
)

const fileVersion = 1

// bundleRecord is the storage representation of one credential bundle.
type bundleRecord struct {
	Kind            core.BundleKind `json:"kind"`
	AccessKeyID     string          `json:"access_key_id,omitempty"`
	SecretAccessKey string          `json:"secret_access_key,omitempty"`
	SessionToken    string          `json:"session_token,omitempty"`
	Profile         string          `json:"profile,omitempty"`
	Region          string          `json:"region"`
}

// credentialsFile is the plaintext document persisted by the durable backend.
type credentialsFile struct {
	Version  int                     `json:"version"`
	Accounts map[string]bundleRecord `json:"accounts"`
}

// EncodeBundle serializes a bundle to its storage representation.
func EncodeBundle(b core.CredentialBundle) ([]byte, error) {
	rec, err := toRecord(b)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rec)
}

// DecodeBundle parses a storage representation back into a bundle. Records
// that mix shapes or name an unknown kind are rejected with InvalidBundle.
func DecodeBundle(data []byte) (core.CredentialBundle, error) {
	var rec bundleRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, core.InvalidBundle("decoding bundle: %v", err)
	}
	return fromRecord(rec)
}

func toRecord(b core.CredentialBundle) (bundleRecord, error) {
	switch v := b.(type) {
	case core.KeyBundle:
		return bundleRecord{
			Kind:            core.BundleKeys,
			AccessKeyID:     v.AccessKeyID,
			SecretAccessKey: v.SecretAccessKey,
			SessionToken:    v.SessionToken,
			Region:          v.Region,
		}, nil
	case core.ProfileBundle:
		return bundleRecord{Kind: core.BundleProfile, Profile: v.Profile, Region: v.Region}, nil
	case nil:
		return bundleRecord{}, core.InvalidBundle("bundle is nil")
	default:
		return bundleRecord{}, core.InvalidBundle("unsupported bundle type %T", b)
	}
}

func fromRecord(rec bundleRecord) (core.CredentialBundle, error) {
	var b core.CredentialBundle
	switch rec.Kind {
	case core.BundleKeys:
		if rec.Profile != "" {
			return nil, core.InvalidBundle("key-based record also names profile %q", rec.Profile)
		}
		b = core.KeyBundle{
			AccessKeyID:     rec.AccessKeyID,
			SecretAccessKey: rec.SecretAccessKey,
			SessionToken:    rec.SessionToken,
			Region:          rec.Region,
		}
	case core.BundleProfile:
		if rec.AccessKeyID != "" || rec.SecretAccessKey != "" || rec.SessionToken != "" {
			return nil, core.InvalidBundle("profile-based record %q also carries key material", rec.Profile)
		}
		b = core.ProfileBundle{Profile: rec.Profile, Region: rec.Region}
	default:
		return nil, core.InvalidBundle("unknown bundle kind %q", rec.Kind)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

func encodeFile(entries map[string]core.CredentialBundle) ([]byte, error) {
	doc := credentialsFile{Version: fileVersion, Accounts: make(map[string]bundleRecord, len(entries))}
	for alias, b := range entries {
		rec, err := toRecord(b)
		if err != nil {
			return nil, fmt.Errorf("encoding %q: %w", alias, err)
		}
		doc.Accounts[alias] = rec
	}
	return json.MarshalIndent(doc, "", "  ")
}

func decodeFile(data []byte) (map[string]core.CredentialBundle, error) {
	var doc credentialsFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing credentials file: %w", err)
	}
	if doc.Version > fileVersion {
		return nil, fmt.Errorf("credentials file version %d is newer than supported version %d", doc.Version, fileVersion)
	}

	entries := make(map[string]core.CredentialBundle, len(doc.Accounts))
	for alias, rec := range doc.Accounts {
		if err := core.ValidateAlias(alias); err != nil {
			return nil, fmt.Errorf("credentials file: %w", err)
		}
		b, err := fromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("credentials file entry %q: %w", alias, err)
		}
		entries[alias] = b
	}
	return entries, nil
}

func sortedKeys(m map[string]core.CredentialBundle) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
