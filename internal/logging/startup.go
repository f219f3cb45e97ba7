package logging

import (
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StartupLogger collects job and build identity plus non-sensitive settings, then
// emits a single structured zerolog event summarising how the container was
// started. This makes it easy to tie a failed run in the scheduler back to
// the exact binary and configuration from the logs alone.
type StartupLogger struct {
	name         string
	runID        string
	commitHash   string
	buildTime    string
	initDuration time.Duration

	config map[string]string
}

// NewStartupLogger creates a StartupLogger for the given job name.
func NewStartupLogger(name string) *StartupLogger {
	return &StartupLogger{
		name:   name,
		config: make(map[string]string),
	}
}

// RunID sets the ID correlating every log line of this run.
func (s *StartupLogger) RunID(id string) *StartupLogger {
	s.runID = id
	return s
}

// CommitHash sets the git commit hash baked into the binary at build time.
func (s *StartupLogger) CommitHash(hash string) *StartupLogger {
	s.commitHash = hash
	return s
}

// BuildTime sets the UTC build timestamp baked into the binary at build time.
func (s *StartupLogger) BuildTime(t string) *StartupLogger {
	s.buildTime = t
	return s
}

// Config registers a non-sensitive configuration key-value pair.
// Empty values are skipped.
func (s *StartupLogger) Config(key, value string) *StartupLogger {
	if value != "" {
		s.config[key] = value
	}
	return s
}

// InitDuration records how long startup took.
func (s *StartupLogger) InitDuration(d time.Duration) *StartupLogger {
	s.initDuration = d
	return s
}

// Log emits a single structured INFO log event with all collected information.
func (s *StartupLogger) Log() {
	evt := log.Info()

	// Identity, including the AWS Batch variables when running under Batch.
	jobDict := zerolog.Dict().
		Str("name", s.name).
		Str("batchJobId", os.Getenv("AWS_BATCH_JOB_ID")).
		Str("batchJobAttempt", os.Getenv("AWS_BATCH_JOB_ATTEMPT")).
		Str("jobQueue", os.Getenv("AWS_BATCH_JQ_NAME")).
		Str("computeEnvironment", os.Getenv("AWS_BATCH_CE_NAME")).
		Str("goVersion", runtime.Version()).
		Str("arch", runtime.GOARCH)

	if s.runID != "" {
		jobDict = jobDict.Str("runId", s.runID)
	}
	if s.commitHash != "" {
		jobDict = jobDict.Str("commitHash", s.commitHash)
	}
	if s.buildTime != "" {
		jobDict = jobDict.Str("buildTime", s.buildTime)
	}
	evt = evt.Dict("job", jobDict)

	if len(s.config) > 0 {
		evt = evt.Dict("config", dictFromMap(s.config))
	}
	if s.initDuration > 0 {
		evt = evt.Dur("initDuration", s.initDuration)
	}

	evt.Msg("Job container started")
}

// dictFromMap converts a map[string]string into a zerolog.Event (Dict).
func dictFromMap(m map[string]string) *zerolog.Event {
	d := zerolog.Dict()
	for k, v := range m {
		d = d.Str(k, v)
	}
	return d
}
