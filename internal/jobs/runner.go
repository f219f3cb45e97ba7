// Package jobs sequences one adder job: fetch the addends, sum them, store
// the result.
//
// The runner walks INIT → CONFIGURED → FETCHED → AGGREGATED → STORED and
// stops at the first failure. It logs one line per transition and writes the
// output object at most once, as its last step.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/s3-adder/internal/adder"
	"github.com/fpang/s3-adder/internal/config"
	"github.com/fpang/s3-adder/internal/jobutil"
	"github.com/fpang/s3-adder/internal/s3util"
)

// Policy is the fixed token policy of the job.
const Policy = adder.Strict

// Stage is a state of the job.
type Stage string

const (
	StageInit       Stage = "INIT"
	StageConfigured Stage = "CONFIGURED"
	StageFetched    Stage = "FETCHED"
	StageAggregated Stage = "AGGREGATED"
	StageStored     Stage = "STORED"
	StageFailed     Stage = "FAILED"
)

// Aggregator reduces a payload to its sum.
type Aggregator interface {
	Summarize(ctx context.Context, data []byte) (adder.Result, error)
}

// GatewayFactory builds the storage gateway once the configuration is known.
type GatewayFactory func(ctx context.Context, cfg config.JobConfig) (s3util.Gateway, error)

// Report describes how far a run got and what it produced.
type Report struct {
	RunID      string
	Config     config.JobConfig
	Stage      Stage // last stage reached; StageFailed on error
	FailedAt   Stage // the stage that was being entered when the run failed
	Result     adder.Result
	InputBytes int
	// FetchAttempts counts input reads, including the one that succeeded or
	// gave up.
	FetchAttempts int
	Elapsed       time.Duration
}

// Runner executes one job.
type Runner struct {
	lookup     config.LookupFunc
	newGateway GatewayFactory
	agg        Aggregator
	runID      string
	logger     zerolog.Logger
}

// NewRunner returns a runner that resolves its configuration through lookup.
// A nil agg uses an adder with Policy.
func NewRunner(lookup config.LookupFunc, newGateway GatewayFactory, agg Aggregator, runID string) *Runner {
	if agg == nil {
		agg = adder.New(Policy)
	}
	return &Runner{
		lookup:     lookup,
		newGateway: newGateway,
		agg:        agg,
		runID:      runID,
		logger:     log.With().Str("runId", runID).Logger(),
	}
}

// Run performs the job. A non-nil error is a *jobutil.Error whose kind
// determines the process exit status. The runner's logger, tagged with the
// run ID, is attached to ctx for the gateway and aggregator.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	ctx = r.logger.WithContext(ctx)
	rep := Report{RunID: r.runID, Stage: StageInit}
	finish := func(err error) (Report, error) {
		rep.Elapsed = time.Since(start)
		if err != nil {
			rep.Stage = StageFailed
		}
		return rep, err
	}

	var gateway s3util.Gateway
	cfg, err := config.Load(r.lookup)
	if err == nil {
		gateway, err = r.newGateway(ctx, cfg)
		err = asConfigError(err)
	}
	if err != nil {
		r.transition(&rep, StageConfigured, err).Err(err).Msg("Stage transition")
		return finish(err)
	}
	rep.Config = cfg
	r.transition(&rep, StageConfigured, nil).
		Str("bucket", cfg.Bucket).
		Str("inputKey", cfg.InputKey()).
		Str("outputKey", cfg.OutputKey()).
		Str("profile", cfg.Profile).
		Str("region", cfg.Region).
		Msg("Stage transition")

	inputKey := cfg.InputKey()
	obj, err := gateway.Fetch(ctx, inputKey)
	if err != nil {
		var jobErr *jobutil.Error
		if errors.As(err, &jobErr) {
			rep.FetchAttempts = jobErr.Attempts
		}
		r.transition(&rep, StageFetched, err).Str("key", inputKey).Err(err).Msg("Stage transition")
		return finish(err)
	}
	rep.InputBytes = len(obj.Data)
	rep.FetchAttempts = obj.Attempts
	r.transition(&rep, StageFetched, nil).
		Str("key", inputKey).
		Int("bytes", len(obj.Data)).
		Int("attempts", obj.Attempts).
		Msg("Stage transition")

	result, err := r.agg.Summarize(ctx, obj.Data)
	if err != nil {
		r.transition(&rep, StageAggregated, err).Err(err).Msg("Stage transition")
		return finish(err)
	}
	rep.Result = result
	r.transition(&rep, StageAggregated, nil).
		Int("addends", result.Count).
		Int("skipped", result.Skipped).
		Str("sum", result.String()).
		Msg("Stage transition")

	outputKey := cfg.OutputKey()
	if err := gateway.Store(ctx, outputKey, result.Bytes()); err != nil {
		err = asStoreError(outputKey, err)
		r.transition(&rep, StageStored, err).Str("key", outputKey).Err(err).Msg("Stage transition")
		return finish(err)
	}
	r.transition(&rep, StageStored, nil).Str("key", outputKey).Msg("Stage transition")

	return finish(nil)
}

// transition records entering next (or failing to) and returns the log event
// for the caller to decorate.
func (r *Runner) transition(rep *Report, next Stage, err error) *zerolog.Event {
	if err != nil {
		rep.FailedAt = next
		return r.logger.Error().
			Str("stage", string(next)).
			Str("outcome", "failed").
			Str("kind", jobutil.KindOf(err).String())
	}
	rep.Stage = next
	return r.logger.Info().
		Str("stage", string(next)).
		Str("outcome", "ok")
}

// asConfigError classifies a failure to set up storage clients as a
// configuration problem.
func asConfigError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*jobutil.Error); ok {
		return err
	}
	return &jobutil.Error{Kind: jobutil.KindConfig, Op: "config", Err: err}
}

// asStoreError reports any failure of the final write as KindStore while
// keeping the classified cause in the chain.
func asStoreError(key string, err error) error {
	attempts := 0
	if jobErr, ok := err.(*jobutil.Error); ok {
		if jobErr.Kind == jobutil.KindStore {
			return err
		}
		attempts = jobErr.Attempts
	}
	return &jobutil.Error{
		Kind:     jobutil.KindStore,
		Op:       "store",
		Key:      key,
		Attempts: attempts,
		Err:      err,
	}
}
