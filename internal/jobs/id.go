package jobs

import (
	"os"

	"github.com/google/uuid"
)

// batchJobIDEnv is set by AWS Batch on every job container.
const batchJobIDEnv = "AWS_BATCH_JOB_ID"

// GenerateID creates a new run ID with the given prefix, e.g. "sum-".
func GenerateID(prefix string) string {
	return prefix + uuid.NewString()
}

// BatchJobID returns the scheduler's job ID, or "" outside AWS Batch.
func BatchJobID() string {
	return os.Getenv(batchJobIDEnv)
}
