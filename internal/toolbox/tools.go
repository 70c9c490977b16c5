package toolbox

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsx "github.com/eichemberger/aws-sidekick/internal/aws"
)

type funcTool struct {
	meta ToolMeta
	run  func(ctx context.Context, cfg aws.Config) (any, error)
}

func (t funcTool) Meta() ToolMeta { return t.meta }

func (t funcTool) Run(ctx context.Context, cfg aws.Config) (any, error) { return t.run(ctx, cfg) }

// RegisterBuiltinTools registers the read-only inventory tools.
func RegisterBuiltinTools(reg *Registry, f *awsx.ClientFactory) {
	// STS
	reg.Register(funcTool{
		meta: ToolMeta{
			Name:        "whoami",
			Description: "Show the caller identity of the account",
			Service:     "sts",
			Keywords:    []string{"whoami", "identity", "caller", "who", "am", "sts"},
		},
		run: func(ctx context.Context, cfg aws.Config) (any, error) {
			return f.CallerIdentity(ctx, f.STS(cfg), cfg.Region)
		},
	})

	// IAM
	reg.Register(funcTool{
		meta: ToolMeta{
			Name:        "iam-users",
			Description: "List IAM users",
			Service:     "iam",
			Keywords:    []string{"iam", "user", "users"},
		},
		run: func(ctx context.Context, cfg aws.Config) (any, error) {
			return f.ListIAMUsers(ctx, f.IAM(cfg))
		},
	})
	reg.Register(funcTool{
		meta: ToolMeta{
			Name:        "iam-roles",
			Description: "List IAM roles",
			Service:     "iam",
			Keywords:    []string{"iam", "role", "roles"},
		},
		run: func(ctx context.Context, cfg aws.Config) (any, error) {
			return f.ListIAMRoles(ctx, f.IAM(cfg))
		},
	})

	// S3
	reg.Register(funcTool{
		meta: ToolMeta{
			Name:        "s3-buckets",
			Description: "List S3 buckets",
			Service:     "s3",
			Keywords:    []string{"s3", "bucket", "buckets", "storage"},
		},
		run: func(ctx context.Context, cfg aws.Config) (any, error) {
			return f.ListS3Buckets(ctx, f.S3(cfg))
		},
	})

	// EC2
	reg.Register(funcTool{
		meta: ToolMeta{
			Name:        "ec2-instances",
			Description: "List EC2 instances in the account region",
			Service:     "ec2",
			Keywords:    []string{"ec2", "instance", "instances", "server", "servers", "vm", "vms"},
		},
		run: func(ctx context.Context, cfg aws.Config) (any, error) {
			return f.ListEC2Instances(ctx, f.EC2(cfg))
		},
	})

	// Lambda
	reg.Register(funcTool{
		meta: ToolMeta{
			Name:        "lambda-functions",
			Description: "List Lambda functions",
			Service:     "lambda",
			Keywords:    []string{"lambda", "lambdas", "function", "functions", "serverless"},
		},
		run: func(ctx context.Context, cfg aws.Config) (any, error) {
			return f.ListLambdaFunctions(ctx, f.Lambda(cfg))
		},
	})

	// KMS
	reg.Register(funcTool{
		meta: ToolMeta{
			Name:        "kms-keys",
			Description: "List KMS keys",
			Service:     "kms",
			Keywords:    []string{"kms", "key", "keys", "encryption"},
		},
		run: func(ctx context.Context, cfg aws.Config) (any, error) {
			return f.ListKMSKeys(ctx, f.KMS(cfg))
		},
	})

	// Secrets Manager
	reg.Register(funcTool{
		meta: ToolMeta{
			Name:        "secrets",
			Description: "List Secrets Manager secret names (values are never read)",
			Service:     "secretsmanager",
			Keywords:    []string{"secret", "secrets", "secretsmanager"},
		},
		run: func(ctx context.Context, cfg aws.Config) (any, error) {
			return f.ListSecrets(ctx, f.SecretsManager(cfg))
		},
	})

	// SSM
	reg.Register(funcTool{
		meta: ToolMeta{
			Name:        "ssm-parameters",
			Description: "List SSM parameter names (values are never read)",
			Service:     "ssm",
			Keywords:    []string{"ssm", "parameter", "parameters", "param", "params"},
		},
		run: func(ctx context.Context, cfg aws.Config) (any, error) {
			return f.ListSSMParameters(ctx, f.SSM(cfg))
		},
	})

	// CloudTrail
	reg.Register(funcTool{
		meta: ToolMeta{
			Name:        "cloudtrail-trails",
			Description: "List CloudTrail trails",
			Service:     "cloudtrail",
			Keywords:    []string{"cloudtrail", "trail", "trails", "audit"},
		},
		run: func(ctx context.Context, cfg aws.Config) (any, error) {
			return f.ListTrails(ctx, f.CloudTrail(cfg))
		},
	})

	// CloudWatch Logs
	reg.Register(funcTool{
		meta: ToolMeta{
			Name:        "log-groups",
			Description: "List CloudWatch log groups",
			Service:     "logs",
			Keywords:    []string{"cloudwatch", "log", "logs", "group", "groups"},
		},
		run: func(ctx context.Context, cfg aws.Config) (any, error) {
			return f.ListLogGroups(ctx, f.CloudWatchLogs(cfg))
		},
	})

	// DynamoDB
	reg.Register(funcTool{
		meta: ToolMeta{
			Name:        "dynamodb-tables",
			Description: "List DynamoDB tables",
			Service:     "dynamodb",
			Keywords:    []string{"dynamodb", "dynamo", "table", "tables"},
		},
		run: func(ctx context.Context, cfg aws.Config) (any, error) {
			return f.ListDynamoDBTables(ctx, f.DynamoDB(cfg))
		},
	})
}
