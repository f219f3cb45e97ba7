package s3util

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/fpang/s3-adder/internal/jobutil"
	"github.com/fpang/s3-adder/internal/logging"
)

// maxObjectSize bounds how much of an input object is read into memory.
const maxObjectSize int64 = 256 * 1024 * 1024 // 256 MB

// Fetch downloads key and returns its decoded contents. Objects stored with a
// gzip or zstd Content-Encoding, or carrying their magic number, are
// decompressed.
func (g *S3Gateway) Fetch(ctx context.Context, key string) (Object, error) {
	logger := logging.Ctx(ctx)
	logger.Debug().Str("bucket", g.bucket).Str("key", key).Msg("Downloading from S3")
	start := time.Now()

	var (
		data     []byte
		encoding string
	)
	attempts, err := g.retry.Do(ctx, "fetch", key, func() error {
		result, err := g.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: &g.bucket,
			Key:    &key,
		})
		if err != nil {
			return fmt.Errorf("S3 GetObject: %w", err)
		}
		defer result.Body.Close()

		if result.ContentLength != nil && *result.ContentLength > maxObjectSize {
			return &jobutil.Error{
				Kind: jobutil.KindInternal,
				Err:  fmt.Errorf("object is %d bytes, limit is %d", *result.ContentLength, maxObjectSize),
			}
		}
		body, err := io.ReadAll(io.LimitReader(result.Body, maxObjectSize+1))
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		if int64(len(body)) > maxObjectSize {
			return &jobutil.Error{
				Kind: jobutil.KindInternal,
				Err:  fmt.Errorf("object exceeds %d bytes", maxObjectSize),
			}
		}
		data = body
		encoding = aws.ToString(result.ContentEncoding)
		return nil
	})
	if err != nil {
		return Object{}, err
	}

	decoded, err := Decode(encoding, data)
	if err != nil {
		return Object{}, &jobutil.Error{Kind: jobutil.KindParse, Op: "fetch", Key: key, Attempts: attempts, Err: err}
	}

	logger.Info().
		Str("bucket", g.bucket).
		Str("key", key).
		Int("bytes", len(data)).
		Int("decodedBytes", len(decoded)).
		Int("attempts", attempts).
		Dur("elapsed", time.Since(start)).
		Msg("Downloaded from S3")
	return Object{Data: decoded, Attempts: attempts}, nil
}
