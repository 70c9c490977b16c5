// Package logging provides structured logging with automatic secret redaction.
package logging

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Known secret field names that must be redacted in all log output.
var secretFieldNames = []string{
	"secretaccesskey",
	"secret_access_key",
	"sessiontoken",
	"session_token",
	"passphrase",
	"password",
	"secret",
	"token",
	"private_key",
	"privatekey",
}

// Matches "field":"value" pairs in a zerolog JSON line.
var stringFieldPattern = regexp.MustCompile(`"([A-Za-z0-9_.-]+)":"((?:[^"\\]|\\.)*)"`)

// RedactingWriter wraps an io.Writer and rewrites the values of secret fields
// before they reach the inner writer. It expects zerolog JSON lines.
type RedactingWriter struct {
	inner io.Writer
}

// NewRedactingWriter creates a writer that redacts secret field values from log output.
func NewRedactingWriter(inner io.Writer) *RedactingWriter {
	return &RedactingWriter{inner: inner}
}

func (rw *RedactingWriter) Write(p []byte) (int, error) {
	out := stringFieldPattern.ReplaceAllFunc(p, func(m []byte) []byte {
		sub := stringFieldPattern.FindSubmatch(m)
		if !IsSecretField(string(sub[1])) {
			return m
		}
		var b bytes.Buffer
		b.WriteByte('"')
		b.Write(sub[1])
		b.WriteString(`":"`)
		b.WriteString(RedactValue(string(sub[2])))
		b.WriteByte('"')
		return b.Bytes()
	})
	if _, err := rw.inner.Write(out); err != nil {
		return 0, err
	}
	// Report the caller's length; the rewritten line may differ in size.
	return len(p), nil
}

// NewLogger creates a logger on stderr. format is "json" or "console".
func NewLogger(level, format string) zerolog.Logger {
	var w io.Writer = os.Stderr
	if format != "json" {
		w = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}
	}
	return NewJSONLogger(w, level)
}

// NewJSONLogger creates a logger writing zerolog JSON to w, for file output,
// machine consumption, and tests.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(NewRedactingWriter(w)).
		Level(lvl).
		With().
		Timestamp().
		Str("component", "sidekick").
		Logger()
}

// IsSecretField checks if a field name is a known secret field that should be redacted.
func IsSecretField(fieldName string) bool {
	lower := strings.ToLower(fieldName)
	for _, secret := range secretFieldNames {
		if strings.Contains(lower, secret) {
			return true
		}
	}
	return false
}

// RedactValue replaces a secret value with a safe placeholder containing a hash prefix.
func RedactValue(value string) string {
	if value == "" {
		return ""
	}
	h := sha256.Sum256([]byte(value))
	return "[REDACTED:sha256:" + hex.EncodeToString(h[:])[:8] + "]"
}
