package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/eichemberger/aws-sidekick/internal/core"
)

// STSAPI is the subset of the STS client used for identity checks.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// CallerIdentity performs sts:GetCallerIdentity. region is echoed into the
// returned identity.
func (f *ClientFactory) CallerIdentity(ctx context.Context, client STSAPI, region string) (core.Identity, error) {
	if err := f.Wait(ctx, "sts"); err != nil {
		return core.Identity{}, err
	}
	f.logAPICall("sts", "GetCallerIdentity")

	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return core.Identity{}, fmt.Errorf("GetCallerIdentity: %w", err)
	}
	return core.Identity{
		AccountID: aws.ToString(out.Account),
		Region:    region,
		Principal: aws.ToString(out.Arn),
		UserID:    aws.ToString(out.UserId),
	}, nil
}

// PrincipalName shortens a caller ARN to its resource part, e.g.
// "user/alice" or "assumed-role/Admin/session".
func PrincipalName(arn string) string {
	parts := strings.SplitN(arn, ":", 6)
	if len(parts) != 6 {
		return arn
	}
	return parts[5]
}

// DescribeError renders a provider error without the SDK's operation
// wrapping, preferring the service error code and message.
func DescribeError(err error) string {
	if err == nil {
		return ""
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if msg := apiErr.ErrorMessage(); msg != "" {
			return apiErr.ErrorCode() + ": " + msg
		}
		return apiErr.ErrorCode()
	}
	return err.Error()
}
