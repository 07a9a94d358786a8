// Package awsx builds the AWS clients the rewrite job uses and holds the
// small preflight lookups that run before any copy is sent.
package awsx

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"

	"github.com/keithlinneman/linnemanlabs-docs/internal/xerrors"
)

// Options selects region, credentials and retry policy for LoadConfig.
type Options struct {
	Region string

	// AccessKeyID and SecretAccessKey pin static credentials. When both are
	// empty the SDK default chain is used.
	AccessKeyID     string
	SecretAccessKey string

	// MaxAttempts is passed to the SDK retryer, 1 disables retries
	MaxAttempts int

	// Endpoint overrides the S3 endpoint and switches to path-style addressing
	Endpoint string
}

// LoadConfig resolves an aws.Config and adds otel spans to every SDK call.
// The SDK's own buildable HTTP client is kept so shared-config settings
// such as ca_bundle still apply to it.
func LoadConfig(ctx context.Context, o Options) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if o.Region != "" {
		opts = append(opts, config.WithRegion(o.Region))
	}
	if o.AccessKeyID != "" || o.SecretAccessKey != "" {
		if o.AccessKeyID == "" || o.SecretAccessKey == "" {
			return aws.Config{}, xerrors.New("awsx: access key id and secret access key must be set together")
		}
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.AccessKeyID, o.SecretAccessKey, ""),
		))
	}
	if o.MaxAttempts > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(o.MaxAttempts))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, xerrors.Wrap(err, "load aws config")
	}
	otelaws.AppendMiddlewares(&cfg.APIOptions)
	return cfg, nil
}

// NewS3 returns an S3 client for cfg, honouring o.Endpoint.
func NewS3(cfg aws.Config, o Options) *s3.Client {
	return s3.NewFromConfig(cfg, func(so *s3.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
			so.UsePathStyle = true
		}
	})
}

// ParameterGetter is the subset of the SSM API ResolveTarget needs.
type ParameterGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ResolveTarget reads the deploy target (s3://bucket/prefix) from an SSM parameter.
func ResolveTarget(ctx context.Context, c ParameterGetter, name string) (string, error) {
	if name == "" {
		return "", xerrors.New("awsx: ssm parameter name is required")
	}
	out, err := c.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", name)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", name)
	}
	v := strings.TrimSpace(*out.Parameter.Value)
	if v == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", name)
	}
	return v, nil
}

// KeyDescriber is the subset of the KMS API CheckKMSKey needs.
type KeyDescriber interface {
	DescribeKey(ctx context.Context, in *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
}

// CheckKMSKey fails unless keyID names an enabled symmetric encryption key.
// It runs before the copies so a bad key fails once instead of per object.
func CheckKMSKey(ctx context.Context, c KeyDescriber, keyID string) error {
	out, err := c.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(keyID)})
	if err != nil {
		return xerrors.Wrapf(err, "kms describe key %s", keyID)
	}
	md := out.KeyMetadata
	if md == nil {
		return xerrors.Newf("kms key %s: no metadata", keyID)
	}
	if !md.Enabled || md.KeyState != kmstypes.KeyStateEnabled {
		return xerrors.Newf("kms key %s is not enabled (state %s)", keyID, md.KeyState)
	}
	if md.KeyUsage != kmstypes.KeyUsageTypeEncryptDecrypt {
		return xerrors.Newf("kms key %s has usage %s, want %s", keyID, md.KeyUsage, kmstypes.KeyUsageTypeEncryptDecrypt)
	}
	return nil
}
