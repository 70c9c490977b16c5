package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
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
)

// Read-only inventory calls. Each takes the narrowest client interface the
// SDK offers so tests can substitute fakes. None of them return secret
// values: secrets and parameters are listed by name only.

// ---- IAM ----

type IAMUserSummary struct {
	UserName   string `json:"user_name"`
	UserID     string `json:"user_id"`
	ARN        string `json:"arn"`
	CreateDate string `json:"create_date"`
}

type IAMRoleSummary struct {
	RoleName   string `json:"role_name"`
	RoleID     string `json:"role_id"`
	ARN        string `json:"arn"`
	CreateDate string `json:"create_date"`
}

func (f *ClientFactory) ListIAMUsers(ctx context.Context, client iam.ListUsersAPIClient) ([]IAMUserSummary, error) {
	f.logAPICall("iam", "ListUsers")

	var users []IAMUserSummary
	paginator := iam.NewListUsersPaginator(client, &iam.ListUsersInput{})
	for paginator.HasMorePages() {
		if err := f.Wait(ctx, "iam"); err != nil {
			return nil, err
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("ListUsers: %w", err)
		}
		for _, u := range page.Users {
			users = append(users, IAMUserSummary{
				UserName:   aws.ToString(u.UserName),
				UserID:     aws.ToString(u.UserId),
				ARN:        aws.ToString(u.Arn),
				CreateDate: formatDate(u.CreateDate),
			})
		}
	}
	return users, nil
}

func (f *ClientFactory) ListIAMRoles(ctx context.Context, client iam.ListRolesAPIClient) ([]IAMRoleSummary, error) {
	f.logAPICall("iam", "ListRoles")

	var roles []IAMRoleSummary
	paginator := iam.NewListRolesPaginator(client, &iam.ListRolesInput{})
	for paginator.HasMorePages() {
		if err := f.Wait(ctx, "iam"); err != nil {
			return nil, err
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("ListRoles: %w", err)
		}
		for _, r := range page.Roles {
			roles = append(roles, IAMRoleSummary{
				RoleName:   aws.ToString(r.RoleName),
				RoleID:     aws.ToString(r.RoleId),
				ARN:        aws.ToString(r.Arn),
				CreateDate: formatDate(r.CreateDate),
			})
		}
	}
	return roles, nil
}

// ---- S3 ----

type S3BucketSummary struct {
	Name         string `json:"name"`
	CreationDate string `json:"creation_date"`
}

// S3ListBucketsAPI is the subset of the S3 client used to list buckets.
type S3ListBucketsAPI interface {
	ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
}

func (f *ClientFactory) ListS3Buckets(ctx context.Context, client S3ListBucketsAPI) ([]S3BucketSummary, error) {
	if err := f.Wait(ctx, "s3"); err != nil {
		return nil, err
	}
	f.logAPICall("s3", "ListBuckets")

	out, err := client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("ListBuckets: %w", err)
	}

	var buckets []S3BucketSummary
	for _, b := range out.Buckets {
		buckets = append(buckets, S3BucketSummary{
			Name:         aws.ToString(b.Name),
			CreationDate: formatDate(b.CreationDate),
		})
	}
	return buckets, nil
}

// ---- EC2 ----

type EC2InstanceSummary struct {
	InstanceID   string `json:"instance_id"`
	Name         string `json:"name"`
	State        string `json:"state"`
	InstanceType string `json:"instance_type"`
	PrivateIP    string `json:"private_ip"`
	PublicIP     string `json:"public_ip"`
	LaunchTime   string `json:"launch_time"`
}

func (f *ClientFactory) ListEC2Instances(ctx context.Context, client ec2.DescribeInstancesAPIClient) ([]EC2InstanceSummary, error) {
	f.logAPICall("ec2", "DescribeInstances")

	var instances []EC2InstanceSummary
	paginator := ec2.NewDescribeInstancesPaginator(client, &ec2.DescribeInstancesInput{})
	for paginator.HasMorePages() {
		if err := f.Wait(ctx, "ec2"); err != nil {
			return nil, err
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("DescribeInstances: %w", err)
		}
		for _, r := range page.Reservations {
			for _, i := range r.Instances {
				name := ""
				for _, t := range i.Tags {
					if aws.ToString(t.Key) == "Name" {
						name = aws.ToString(t.Value)
					}
				}
				state := ""
				if i.State != nil {
					state = string(i.State.Name)
				}
				instances = append(instances, EC2InstanceSummary{
					InstanceID:   aws.ToString(i.InstanceId),
					Name:         name,
					State:        state,
					InstanceType: string(i.InstanceType),
					PrivateIP:    aws.ToString(i.PrivateIpAddress),
					PublicIP:     aws.ToString(i.PublicIpAddress),
					LaunchTime:   formatTimestamp(i.LaunchTime),
				})
			}
		}
	}
	return instances, nil
}

// ---- Lambda ----

type LambdaSummary struct {
	FunctionName string `json:"function_name"`
	Runtime      string `json:"runtime"`
	MemorySize   int32  `json:"memory_size"`
	LastModified string `json:"last_modified"`
}

func (f *ClientFactory) ListLambdaFunctions(ctx context.Context, client lambda.ListFunctionsAPIClient) ([]LambdaSummary, error) {
	f.logAPICall("lambda", "ListFunctions")

	var fns []LambdaSummary
	paginator := lambda.NewListFunctionsPaginator(client, &lambda.ListFunctionsInput{})
	for paginator.HasMorePages() {
		if err := f.Wait(ctx, "lambda"); err != nil {
			return nil, err
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("ListFunctions: %w", err)
		}
		for _, fn := range page.Functions {
			fns = append(fns, LambdaSummary{
				FunctionName: aws.ToString(fn.FunctionName),
				Runtime:      string(fn.Runtime),
				MemorySize:   aws.ToInt32(fn.MemorySize),
				LastModified: aws.ToString(fn.LastModified),
			})
		}
	}
	return fns, nil
}

// ---- KMS ----

type KMSKeySummary struct {
	KeyID  string `json:"key_id"`
	KeyARN string `json:"key_arn"`
}

func (f *ClientFactory) ListKMSKeys(ctx context.Context, client kms.ListKeysAPIClient) ([]KMSKeySummary, error) {
	f.logAPICall("kms", "ListKeys")

	var keys []KMSKeySummary
	paginator := kms.NewListKeysPaginator(client, &kms.ListKeysInput{})
	for paginator.HasMorePages() {
		if err := f.Wait(ctx, "kms"); err != nil {
			return nil, err
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("ListKeys: %w", err)
		}
		for _, k := range page.Keys {
			keys = append(keys, KMSKeySummary{
				KeyID:  aws.ToString(k.KeyId),
				KeyARN: aws.ToString(k.KeyArn),
			})
		}
	}
	return keys, nil
}

// ---- Secrets Manager ----

type SecretSummary struct {
	Name        string `json:"name"`
	LastChanged string `json:"last_changed"`
}

func (f *ClientFactory) ListSecrets(ctx context.Context, client secretsmanager.ListSecretsAPIClient) ([]SecretSummary, error) {
	f.logAPICall("secretsmanager", "ListSecrets")

	var secrets []SecretSummary
	paginator := secretsmanager.NewListSecretsPaginator(client, &secretsmanager.ListSecretsInput{})
	for paginator.HasMorePages() {
		if err := f.Wait(ctx, "secretsmanager"); err != nil {
			return nil, err
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("ListSecrets: %w", err)
		}
		for _, s := range page.SecretList {
			secrets = append(secrets, SecretSummary{
				Name:        aws.ToString(s.Name),
				LastChanged: formatDate(s.LastChangedDate),
			})
		}
	}
	return secrets, nil
}

// ---- SSM ----

type SSMParameterSummary struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	LastModified string `json:"last_modified"`
}

func (f *ClientFactory) ListSSMParameters(ctx context.Context, client ssm.DescribeParametersAPIClient) ([]SSMParameterSummary, error) {
	f.logAPICall("ssm", "DescribeParameters")

	var params []SSMParameterSummary
	paginator := ssm.NewDescribeParametersPaginator(client, &ssm.DescribeParametersInput{})
	for paginator.HasMorePages() {
		if err := f.Wait(ctx, "ssm"); err != nil {
			return nil, err
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("DescribeParameters: %w", err)
		}
		for _, p := range page.Parameters {
			params = append(params, SSMParameterSummary{
				Name:         aws.ToString(p.Name),
				Type:         string(p.Type),
				LastModified: formatTimestamp(p.LastModifiedDate),
			})
		}
	}
	return params, nil
}

// ---- CloudTrail ----

type TrailSummary struct {
	Name         string `json:"name"`
	HomeRegion   string `json:"home_region"`
	S3Bucket     string `json:"s3_bucket"`
	MultiRegion  bool   `json:"multi_region"`
	Organization bool   `json:"organization"`
}

// CloudTrailDescribeAPI is the subset of the CloudTrail client used to list
// trails.
type CloudTrailDescribeAPI interface {
	DescribeTrails(ctx context.Context, params *cloudtrail.DescribeTrailsInput, optFns ...func(*cloudtrail.Options)) (*cloudtrail.DescribeTrailsOutput, error)
}

func (f *ClientFactory) ListTrails(ctx context.Context, client CloudTrailDescribeAPI) ([]TrailSummary, error) {
	if err := f.Wait(ctx, "cloudtrail"); err != nil {
		return nil, err
	}
	f.logAPICall("cloudtrail", "DescribeTrails")

	out, err := client.DescribeTrails(ctx, &cloudtrail.DescribeTrailsInput{})
	if err != nil {
		return nil, fmt.Errorf("DescribeTrails: %w", err)
	}

	var trails []TrailSummary
	for _, t := range out.TrailList {
		trails = append(trails, TrailSummary{
			Name:         aws.ToString(t.Name),
			HomeRegion:   aws.ToString(t.HomeRegion),
			S3Bucket:     aws.ToString(t.S3BucketName),
			MultiRegion:  aws.ToBool(t.IsMultiRegionTrail),
			Organization: aws.ToBool(t.IsOrganizationTrail),
		})
	}
	return trails, nil
}

// ---- CloudWatch Logs ----

type LogGroupSummary struct {
	Name          string `json:"name"`
	RetentionDays int32  `json:"retention_days"`
	StoredBytes   int64  `json:"stored_bytes"`
}

func (f *ClientFactory) ListLogGroups(ctx context.Context, client cloudwatchlogs.DescribeLogGroupsAPIClient) ([]LogGroupSummary, error) {
	f.logAPICall("logs", "DescribeLogGroups")

	var groups []LogGroupSummary
	paginator := cloudwatchlogs.NewDescribeLogGroupsPaginator(client, &cloudwatchlogs.DescribeLogGroupsInput{})
	for paginator.HasMorePages() {
		if err := f.Wait(ctx, "logs"); err != nil {
			return nil, err
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("DescribeLogGroups: %w", err)
		}
		for _, g := range page.LogGroups {
			groups = append(groups, LogGroupSummary{
				Name:          aws.ToString(g.LogGroupName),
				RetentionDays: aws.ToInt32(g.RetentionInDays),
				StoredBytes:   aws.ToInt64(g.StoredBytes),
			})
		}
	}
	return groups, nil
}

// ---- DynamoDB ----

func (f *ClientFactory) ListDynamoDBTables(ctx context.Context, client dynamodb.ListTablesAPIClient) ([]string, error) {
	f.logAPICall("dynamodb", "ListTables")

	var names []string
	paginator := dynamodb.NewListTablesPaginator(client, &dynamodb.ListTablesInput{})
	for paginator.HasMorePages() {
		if err := f.Wait(ctx, "dynamodb"); err != nil {
			return nil, err
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("ListTables: %w", err)
		}
		names = append(names, page.TableNames...)
	}
	return names, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

func formatTimestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
