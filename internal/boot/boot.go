// Package boot builds the AWS clients the adder job needs from its
// configuration: SDK config (profile, region) and the S3 gateway.
package boot

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/fpang/s3-adder/internal/config"
	"github.com/fpang/s3-adder/internal/logging"
	"github.com/fpang/s3-adder/internal/s3util"
)

// LoadAWSConfig loads the SDK config using the default credential chain,
// narrowed to cfg.Profile and cfg.Region when they are set.
func LoadAWSConfig(ctx context.Context, cfg config.JobConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	logging.Ctx(ctx).Debug().Str("region", awsCfg.Region).Str("profile", cfg.Profile).Msg("AWS config loaded")
	return awsCfg, nil
}

// NewS3Client returns an S3 client with the SDK retryer disabled; retries are
// owned by s3util.RetryPolicy.
func NewS3Client(awsCfg aws.Config) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.Retryer = aws.NopRetryer{}
	})
}

// InitS3Gateway is the jobs.GatewayFactory used in production.
func InitS3Gateway(ctx context.Context, cfg config.JobConfig) (s3util.Gateway, error) {
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s3util.NewS3Gateway(NewS3Client(awsCfg), cfg.Bucket, s3util.DefaultRetryPolicy), nil
}
