package core

import (
	"fmt"
	"regexp"
	"strings"
)

// BundleKind distinguishes the two credential bundle shapes.
type BundleKind string

const (
	BundleKeys    BundleKind = "keys"
	BundleProfile BundleKind = "profile"
)

var regionPattern = regexp.MustCompile(`^[a-z]{2}(-[a-z]+)+-[0-9]+$`)

// CredentialBundle is the credential payload owned by an account. It is
// implemented only by KeyBundle and ProfileBundle; both are plain values, so
// handing one to another goroutine hands over a copy.
type CredentialBundle interface {
	Kind() BundleKind
	RegionName() string
	Validate() error
	sealed()
}

// KeyBundle authenticates with an access key pair and optional session token.
type KeyBundle struct {
	AccessKeyID     string
	SecretAccessKey string `json:"-"`
	SessionToken    string `json:"-"`
	Region          string
}

func (KeyBundle) Kind() BundleKind     { return BundleKeys }
func (b KeyBundle) RegionName() string { return b.Region }
func (KeyBundle) sealed()              {}

// Validate rejects partial key bundles.
func (b KeyBundle) Validate() error {
	if strings.TrimSpace(b.AccessKeyID) == "" {
		return InvalidBundle("access key id is required for a key-based bundle")
	}
	if b.SecretAccessKey == "" {
		return InvalidBundle("secret access key is required for a key-based bundle")
	}
	return ValidateRegion(b.Region)
}

// MaskedKeyID returns the access key id with its middle elided.
func (b KeyBundle) MaskedKeyID() string {
	return MaskKeyID(b.AccessKeyID)
}

// String never prints secret material.
func (b KeyBundle) String() string {
	return fmt.Sprintf("KeyBundle{%s %s}", b.MaskedKeyID(), b.Region)
}

func (b KeyBundle) GoString() string { return b.String() }

// ProfileBundle defers to a named profile in the shared AWS config files.
type ProfileBundle struct {
	Profile string
	Region  string
}

func (ProfileBundle) Kind() BundleKind     { return BundleProfile }
func (b ProfileBundle) RegionName() string { return b.Region }
func (ProfileBundle) sealed()              {}

func (b ProfileBundle) Validate() error {
	if strings.TrimSpace(b.Profile) == "" {
		return InvalidBundle("profile name is required for a profile-based bundle")
	}
	return ValidateRegion(b.Region)
}

// ValidateRegion reports whether region looks like an AWS region name.
func ValidateRegion(region string) error {
	if !regionPattern.MatchString(region) {
		return InvalidBundle("invalid region %q", region)
	}
	return nil
}

// BundleInput is the flat form a bundle takes on the wire and on the CLI.
// ParseBundle turns it into exactly one bundle shape.
type BundleInput struct {
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
	SessionToken    string `json:"session_token,omitempty"`
	Profile         string `json:"profile,omitempty"`
	Region          string `json:"region,omitempty"`
}

// ParseBundle builds a bundle from input, rejecting inputs that mix key and
// profile fields or populate neither. An empty region becomes DefaultRegion.
func ParseBundle(in BundleInput) (CredentialBundle, error) {
	return ParseBundleWithDefault(in, DefaultRegion)
}

// ParseBundleWithDefault is ParseBundle with a configured fallback region.
func ParseBundleWithDefault(in BundleInput, defaultRegion string) (CredentialBundle, error) {
	hasKeys := in.AccessKeyID != "" || in.SecretAccessKey != "" || in.SessionToken != ""
	hasProfile := in.Profile != ""

	switch {
	case hasKeys && hasProfile:
		return nil, InvalidBundle("bundle mixes access keys with profile %q; supply exactly one", in.Profile)
	case !hasKeys && !hasProfile:
		return nil, InvalidBundle("bundle is empty; supply an access key pair or a profile name")
	}

	region := strings.TrimSpace(in.Region)
	if region == "" {
		region = defaultRegion
	}
	if region == "" {
		region = DefaultRegion
	}

	var b CredentialBundle
	if hasKeys {
		b = KeyBundle{
			AccessKeyID:     strings.TrimSpace(in.AccessKeyID),
			SecretAccessKey: in.SecretAccessKey,
			SessionToken:    in.SessionToken,
			Region:          region,
		}
	} else {
		b = ProfileBundle{Profile: strings.TrimSpace(in.Profile), Region: region}
	}

	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// MaskKeyID elides all but the first and last four characters of a key id.
func MaskKeyID(keyID string) string {
	if len(keyID) <= 8 {
		return strings.Repeat("*", len(keyID))
	}
	return keyID[:4] + "..." + keyID[len(keyID)-4:]
}
