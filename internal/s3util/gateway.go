// Package s3util is the adder job's storage gateway: it fetches and stores
// whole objects by key in a single bucket.
//
// Every failure is classified into the job taxonomy (not found, access
// denied, transient) before it leaves the package. Transient failures are
// retried under a RetryPolicy; everything else is returned on the first
// attempt.
package s3util

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Gateway reads and writes objects in one bucket.
type Gateway interface {
	// Fetch returns the full contents of key.
	Fetch(ctx context.Context, key string) (Object, error)
	// Store writes data to key, replacing any existing object.
	Store(ctx context.Context, key string, data []byte) error
}

// Object is a fetched object.
type Object struct {
	Data     []byte
	Attempts int // storage calls made, including the successful one
}

// ObjectAPI is the subset of *s3.Client used by S3Gateway.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Gateway is the Gateway backed by Amazon S3.
type S3Gateway struct {
	client ObjectAPI
	bucket string
	retry  RetryPolicy
}

var _ Gateway = (*S3Gateway)(nil)

// NewS3Gateway returns a gateway for bucket. The client should have the SDK's
// own retryer disabled so that policy is the only retry layer.
func NewS3Gateway(client ObjectAPI, bucket string, policy RetryPolicy) *S3Gateway {
	return &S3Gateway{client: client, bucket: bucket, retry: policy}
}
