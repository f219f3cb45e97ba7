package s3util

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/fpang/s3-adder/internal/logging"
)

// outputContentType is set on every stored object.
const outputContentType = "text/plain; charset=utf-8"

// Store uploads data to key as a plain-text object.
func (g *S3Gateway) Store(ctx context.Context, key string, data []byte) error {
	logger := logging.Ctx(ctx)
	logger.Debug().Str("bucket", g.bucket).Str("key", key).Int("bytes", len(data)).Msg("Uploading to S3")
	start := time.Now()

	attempts, err := g.retry.Do(ctx, "store", key, func() error {
		// A fresh reader per attempt; a failed attempt may have consumed the last one.
		_, err := g.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        &g.bucket,
			Key:           &key,
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			ContentType:   aws.String(outputContentType),
		})
		if err != nil {
			return fmt.Errorf("S3 PutObject: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Info().
		Str("bucket", g.bucket).
		Str("key", key).
		Int("bytes", len(data)).
		Int("attempts", attempts).
		Dur("elapsed", time.Since(start)).
		Msg("Uploaded to S3")
	return nil
}
