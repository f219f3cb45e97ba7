package s3util

import (
	"context"
	"errors"
	"net/http"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/fpang/s3-adder/internal/jobutil"
)

// S3 error codes by failure kind.
var (
	notFoundCodes = map[string]bool{
		"NoSuchKey":    true,
		"NoSuchBucket": true,
		"NotFound":     true,
	}
	authCodes = map[string]bool{
		"AccessDenied":          true,
		"AllAccessDisabled":     true,
		"Forbidden":             true,
		"InvalidAccessKeyId":    true,
		"SignatureDoesNotMatch": true,
		"ExpiredToken":          true,
		"InvalidToken":          true,
		"AccountProblem":        true,
	}
	transientCodes = map[string]bool{
		"InternalError":      true,
		"ServiceUnavailable": true,
		"SlowDown":           true,
		"RequestTimeout":     true,
		"Throttling":         true,
	}
)

// classifyError maps an SDK or transport error to a job failure kind.
// Errors that carry no S3 error code or HTTP status (connection resets,
// DNS failures, truncated bodies) are treated as transient.
//
// Note that S3 answers GetObject on a missing key with 403 AccessDenied when
// the caller lacks s3:ListBucket; that case surfaces as KindAuth.
func classifyError(err error) jobutil.Kind {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return jobutil.KindTransient
	}

	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &noSuchBucket) || errors.As(err, &notFound) {
		return jobutil.KindNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case notFoundCodes[code]:
			return jobutil.KindNotFound
		case authCodes[code]:
			return jobutil.KindAuth
		case transientCodes[code]:
			return jobutil.KindTransient
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return classifyStatus(respErr.HTTPStatusCode())
	}

	if apiErr != nil {
		if apiErr.ErrorFault() == smithy.FaultServer {
			return jobutil.KindTransient
		}
		return jobutil.KindInternal
	}
	return jobutil.KindTransient
}

func classifyStatus(status int) jobutil.Kind {
	switch {
	case status == http.StatusNotFound:
		return jobutil.KindNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return jobutil.KindAuth
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return jobutil.KindTransient
	default:
		return jobutil.KindInternal
	}
}
