// Package core defines the foundational types for aws-sidekick: credential
// bundles, accounts, task records, and conversations. Every other package
// speaks in these types; none of them carry storage or transport concerns.
package core

import (
	"regexp"
	"time"
)

// DefaultRegion is applied to bundles written without a region.
const DefaultRegion = "us-east-1"

var aliasPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// ValidateAlias checks an alias against the allowed character set.
func ValidateAlias(alias string) error {
	if !aliasPattern.MatchString(alias) {
		return InvalidArgument("invalid alias %q: use 1-64 letters, digits, '.', '_' or '-', starting with a letter or digit", alias)
	}
	return nil
}

// Account is a registered cloud account. It never carries secret material.
type Account struct {
	Alias           string     `json:"alias"`
	Description     string     `json:"description,omitempty"`
	Kind            BundleKind `json:"kind"`
	Region          string     `json:"region"`
	Profile         string     `json:"profile,omitempty"`
	MaskedKeyID     string     `json:"access_key_id,omitempty"` // AKIA...WXYZ
	IsDefault       bool       `json:"is_default"`
	HasCredentials  bool       `json:"has_credentials"`
	AccountID       string     `json:"account_id,omitempty"`
	Principal       string     `json:"principal,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastValidatedAt *time.Time `json:"last_validated_at,omitempty"`
}

// Identity is what the provider reports for a working bundle.
type Identity struct {
	AccountID string `json:"account_id"`
	Region    string `json:"region"`
	Principal string `json:"principal"`
	UserID    string `json:"user_id,omitempty"`
}

// ValidationResult is the outcome of a live credential check.
type ValidationResult struct {
	Valid    bool      `json:"valid"`
	Identity *Identity `json:"identity,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Valid reports whether r is a known role.
func (r MessageRole) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Conversation groups chat messages. BoundAccount records the account that
// was active when the first message arrived; it is descriptive only.
type Conversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	BoundAccount string    `json:"bound_account,omitempty"`
	Bound        bool      `json:"bound"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Message is one entry in a conversation transcript.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	TaskID         string      `json:"task_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}
