// Package main is the s3-adder batch job.
//
// One invocation reads {INPUT_PREFIX}addends.txt from BUCKET_NAME, sums the
// whitespace-separated numbers in it, and writes the decimal result to
// {OUTPUT_PREFIX}sum.txt. The exit status tells the scheduler how the run
// ended:
//
//	0  success
//	1  unclassified internal error
//	2  configuration error
//	3  input object not found
//	4  access denied reading input
//	5  input contains a token that is not a number
//	6  output could not be written
//	7  storage unavailable after retries
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/s3-adder/internal/boot"
	"github.com/fpang/s3-adder/internal/config"
	"github.com/fpang/s3-adder/internal/jobs"
	"github.com/fpang/s3-adder/internal/jobutil"
	"github.com/fpang/s3-adder/internal/logging"
	"github.com/fpang/s3-adder/internal/metrics"
)

const jobName = "s3-adder"

// CLI flags
var (
	consoleFlag  bool
	logLevelFlag string
)

// exitCode is set by runMain and returned to the scheduler.
var exitCode = jobutil.ExitOK

// rootCmd runs the job.
var rootCmd = &cobra.Command{
	Use:   jobName,
	Short: "Sum the numbers in an S3 object and write the result back to S3",
	Long: `s3-adder downloads {INPUT_PREFIX}addends.txt from the bucket named by
BUCKET_NAME, adds up every whitespace-separated number it contains, and
uploads the exact decimal sum to {OUTPUT_PREFIX}sum.txt.

Environment:
  BUCKET_NAME    target bucket (required)
  INPUT_PREFIX   input key prefix (default "input/")
  OUTPUT_PREFIX  output key prefix (default "output/")
  AWS_PROFILE    shared-config profile for credentials (optional)
  AWS_REGION     region (optional)
  LOG_LEVEL      debug, info, warn, error (default info)
  LOG_FORMAT     json or console (default json)

Examples:
  BUCKET_NAME=my-bucket s3-adder
  BUCKET_NAME=my-bucket AWS_PROFILE=dev s3-adder --console --log-level debug`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run:           runMain,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build identity",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (built %s)\n", jobName, commitHash, buildTime)
	},
}

func init() {
	rootCmd.Flags().BoolVar(&consoleFlag, "console", false, "Human-readable log output instead of JSON")
	rootCmd.Flags().StringVar(&logLevelFlag, "log-level", "", "Log level (overrides LOG_LEVEL)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(jobutil.ExitInternal)
	}
	os.Exit(exitCode)
}

// runMain is the main execution logic called by Cobra.
func runMain(cmd *cobra.Command, args []string) {
	initStart := time.Now()

	level := logLevelFlag
	if level == "" {
		level = os.Getenv(logging.EnvLogLevel)
	}
	logging.Init(level, consoleFlag || logging.IsConsoleFormat(os.Getenv(logging.EnvLogFormat)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	runID := jobs.GenerateID("sum-")
	logging.NewStartupLogger(jobName).
		RunID(runID).
		CommitHash(commitHash).
		BuildTime(buildTime).
		Config("policy", jobs.Policy.String()).
		Config("bucket", os.Getenv(config.EnvBucketName)).
		Config("inputPrefix", os.Getenv(config.EnvInputPrefix)).
		Config("outputPrefix", os.Getenv(config.EnvOutputPrefix)).
		Config("profile", os.Getenv(config.EnvProfile)).
		Config("region", os.Getenv(config.EnvRegion)).
		InitDuration(time.Since(initStart)).
		Log()

	rep, err := jobs.NewRunner(os.LookupEnv, boot.InitS3Gateway, nil, runID).Run(ctx)
	buildMetrics(rep, err).Flush()

	if err != nil {
		jobutil.LogFailure(runID, err)
		exitCode = jobutil.ExitCode(err)
		return
	}
	log.Info().
		Str("runId", runID).
		Str("bucket", rep.Config.Bucket).
		Str("outputKey", rep.Config.OutputKey()).
		Str("sum", rep.Result.String()).
		Int("addends", rep.Result.Count).
		Dur("elapsed", rep.Elapsed).
		Msg("Job complete")
}

// buildMetrics assembles the job's EMF document from the run report.
func buildMetrics(rep jobs.Report, err error) *metrics.Recorder {
	outcome := "Success"
	if err != nil {
		outcome = jobutil.KindOf(err).String()
	}
	rec := metrics.New(metrics.Namespace).
		Dimension("Outcome", outcome).
		Duration("JobDurationMs", rep.Elapsed).
		Metric("InputBytes", float64(rep.InputBytes), metrics.UnitBytes).
		Metric("Addends", float64(rep.Result.Count), metrics.UnitCount).
		Metric("SkippedTokens", float64(rep.Result.Skipped), metrics.UnitCount).
		Metric("FetchAttempts", float64(rep.FetchAttempts), metrics.UnitCount).
		Property("runId", rep.RunID)
	if err != nil {
		rec.Count("JobFailures")
	}
	if batchID := jobs.BatchJobID(); batchID != "" {
		rec.Property("batchJobId", batchID)
	}
	if rep.FailedAt != "" {
		rec.Property("failedStage", string(rep.FailedAt))
	}
	return rec
}
