// Package validator checks a credential bundle against the provider's
// identity service. It never reads or writes the registry or the store, and
// results are never cached.
package validator

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsx "github.com/eichemberger/aws-sidekick/internal/aws"
	"github.com/eichemberger/aws-sidekick/internal/core"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds one validation call.
const DefaultTimeout = 10 * time.Second

// TimeoutError is the error text reported when the provider does not answer
// in time.
const TimeoutError = "timeout"

// Validator performs caller-identity checks.
type Validator struct {
	clients *awsx.ClientFactory
	timeout time.Duration
	logger  zerolog.Logger

	// newSTS builds the identity client for a config.
	newSTS func(cfg aws.Config) awsx.STSAPI
}

// New creates a validator. A non-positive timeout uses DefaultTimeout.
func New(clients *awsx.ClientFactory, timeout time.Duration, logger zerolog.Logger) *Validator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Validator{
		clients: clients,
		timeout: timeout,
		logger:  logger.With().Str("subsystem", "validator").Logger(),
		newSTS:  func(cfg aws.Config) awsx.STSAPI { return clients.STS(cfg) },
	}
}

// Validate reports whether b authenticates. A malformed bundle, a provider
// rejection, and a timeout all yield Valid=false with an error message; the
// returned result never carries secret material.
func (v *Validator) Validate(ctx context.Context, b core.CredentialBundle) core.ValidationResult {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	cfg, err := v.clients.ConfigFor(ctx, b)
	if err != nil {
		return v.failed(ctx, b, err)
	}

	id, err := v.clients.CallerIdentity(ctx, v.newSTS(cfg), b.RegionName())
	if err != nil {
		return v.failed(ctx, b, err)
	}

	v.logger.Debug().Str("account_id", id.AccountID).Str("principal", awsx.PrincipalName(id.Principal)).Msg("credentials valid")
	return core.ValidationResult{Valid: true, Identity: &id}
}

func (v *Validator) failed(ctx context.Context, b core.CredentialBundle, err error) core.ValidationResult {
	msg := awsx.DescribeError(err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		msg = TimeoutError
	}

	ev := v.logger.Info().Str("error", msg)
	if b != nil {
		ev = ev.Str("kind", string(b.Kind()))
	}
	ev.Msg("credentials rejected")

	return core.ValidationResult{Valid: false, Error: msg}
}
