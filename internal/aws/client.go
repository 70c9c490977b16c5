// Package aws builds AWS SDK v2 configurations from credential bundles and
// wraps the read-only service calls used by validation and task execution
// with per-service rate limiting.
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/eichemberger/aws-sidekick/internal/core"
	"github.com/rs/zerolog"
)

const defaultRetryMaxAttempts = 5

// ClientFactory turns credential bundles into SDK configs and service
// clients. It holds no credentials itself.
type ClientFactory struct {
	rateLimiter *RateLimiter
	logger      zerolog.Logger

	// loadShared resolves a named profile from the shared config files.
	loadShared func(ctx context.Context, profile, region string) (aws.Config, error)
}

// NewClientFactory creates a factory allowing ratePerSec calls per service.
func NewClientFactory(logger zerolog.Logger, ratePerSec int) *ClientFactory {
	return &ClientFactory{
		rateLimiter: NewRateLimiter(ratePerSec),
		logger:      logger.With().Str("subsystem", "aws").Logger(),
		loadShared:  loadSharedProfile,
	}
}

// ConfigFor builds an SDK config for b. Key bundles use a static provider;
// profile bundles are resolved through the shared config and credentials
// files, which may in turn use SSO, role chaining, or a credential process.
func (f *ClientFactory) ConfigFor(ctx context.Context, b core.CredentialBundle) (aws.Config, error) {
	if b == nil {
		return aws.Config{}, core.InvalidBundle("a credential bundle is required")
	}
	if err := b.Validate(); err != nil {
		return aws.Config{}, err
	}

	switch v := b.(type) {
	case core.KeyBundle:
		return aws.Config{
			Region: v.Region,
			Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
				v.AccessKeyID,
				v.SecretAccessKey,
				v.SessionToken,
			)),
			RetryMaxAttempts: defaultRetryMaxAttempts,
		}, nil
	case core.ProfileBundle:
		cfg, err := f.loadShared(ctx, v.Profile, v.Region)
		if err != nil {
			return aws.Config{}, fmt.Errorf("loading profile %q: %w", v.Profile, err)
		}
		return cfg, nil
	default:
		return aws.Config{}, core.InvalidBundle("unsupported bundle kind %q", b.Kind())
	}
}

func loadSharedProfile(ctx context.Context, profile, region string) (aws.Config, error) {
	return config.LoadDefaultConfig(ctx,
		config.WithSharedConfigProfile(profile),
		config.WithRegion(region),
		config.WithRetryMaxAttempts(defaultRetryMaxAttempts),
	)
}

// Wait blocks until the rate limit for service allows another call.
func (f *ClientFactory) Wait(ctx context.Context, service string) error {
	return f.rateLimiter.Wait(ctx, service)
}

func (f *ClientFactory) logAPICall(service, operation string) {
	f.logger.Debug().Str("service", service).Str("operation", operation).Msg("aws api call")
}

// --- Service clients ---

func (f *ClientFactory) STS(cfg aws.Config) *sts.Client { return sts.NewFromConfig(cfg) }

func (f *ClientFactory) IAM(cfg aws.Config) *iam.Client { return iam.NewFromConfig(cfg) }

func (f *ClientFactory) S3(cfg aws.Config) *s3.Client { return s3.NewFromConfig(cfg) }

func (f *ClientFactory) EC2(cfg aws.Config) *ec2.Client { return ec2.NewFromConfig(cfg) }

func (f *ClientFactory) Lambda(cfg aws.Config) *lambda.Client { return lambda.NewFromConfig(cfg) }

func (f *ClientFactory) KMS(cfg aws.Config) *kms.Client { return kms.NewFromConfig(cfg) }

func (f *ClientFactory) SecretsManager(cfg aws.Config) *secretsmanager.Client {
	return secretsmanager.NewFromConfig(cfg)
}

func (f *ClientFactory) SSM(cfg aws.Config) *ssm.Client { return ssm.NewFromConfig(cfg) }

func (f *ClientFactory) CloudTrail(cfg aws.Config) *cloudtrail.Client {
	return cloudtrail.NewFromConfig(cfg)
}

func (f *ClientFactory) CloudWatchLogs(cfg aws.Config) *cloudwatchlogs.Client {
	return cloudwatchlogs.NewFromConfig(cfg)
}

func (f *ClientFactory) DynamoDB(cfg aws.Config) *dynamodb.Client { return dynamodb.NewFromConfig(cfg) }
