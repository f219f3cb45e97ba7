package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/s3-adder/internal/adder"
	"github.com/fpang/s3-adder/internal/config"
	"github.com/fpang/s3-adder/internal/jobutil"
	"github.com/fpang/s3-adder/internal/s3util"
)

const (
	inputKey  = "input/addends.txt"
	outputKey = "output/sum.txt"
)

func testEnv(env map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

var defaultEnv = testEnv(map[string]string{config.EnvBucketName: "test-bucket"})

func memoryFactory(g s3util.Gateway) GatewayFactory {
	return func(context.Context, config.JobConfig) (s3util.Gateway, error) {
		return g, nil
	}
}

func runWithInput(t *testing.T, input string) (*s3util.MemoryGateway, Report, error) {
	t.Helper()
	g := s3util.NewMemoryGateway()
	g.Put(inputKey, []byte(input))
	rep, err := NewRunner(defaultEnv, memoryFactory(g), nil, "sum-test").Run(context.Background())
	return g, rep, err
}

func TestRun_Scenarios(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"newlines", "1\n2\n3", "6"},
		{"spaces", "10 20 30", "60"},
		{"empty input", "", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, rep, err := runWithInput(t, tt.input)
			require.NoError(t, err)
			assert.Equal(t, jobutil.ExitOK, jobutil.ExitCode(err))
			assert.Equal(t, StageStored, rep.Stage)

			out, ok := g.Object(outputKey)
			require.True(t, ok)
			assert.Equal(t, tt.want, string(out))
		})
	}
}

func TestRun_StrictParseErrorWritesNothing(t *testing.T) {
	g, rep, err := runWithInput(t, "1 two 3")
	require.Error(t, err)
	assert.Equal(t, jobutil.ExitParse, jobutil.ExitCode(err))
	assert.Equal(t, StageFailed, rep.Stage)
	assert.Equal(t, StageAggregated, rep.FailedAt)

	_, ok := g.Object(outputKey)
	assert.False(t, ok)
	_, stores := g.Calls()
	assert.Zero(t, stores)
}

func TestRun_MissingInputKeepsPriorOutput(t *testing.T) {
	g := s3util.NewMemoryGateway()
	g.Put(outputKey, []byte("41"))

	rep, err := NewRunner(defaultEnv, memoryFactory(g), nil, "sum-test").Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, jobutil.ExitNotFound, jobutil.ExitCode(err))
	assert.Equal(t, StageFetched, rep.FailedAt)

	out, _ := g.Object(outputKey)
	assert.Equal(t, "41", string(out))
	_, stores := g.Calls()
	assert.Zero(t, stores)
}

func TestRun_ConfigErrorBeforeAnyIO(t *testing.T) {
	called := false
	factory := func(context.Context, config.JobConfig) (s3util.Gateway, error) {
		called = true
		return s3util.NewMemoryGateway(), nil
	}

	rep, err := NewRunner(testEnv(nil), factory, nil, "sum-test").Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, jobutil.ExitConfig, jobutil.ExitCode(err))
	assert.Equal(t, StageConfigured, rep.FailedAt)
	assert.False(t, called)
}

func TestRun_GatewaySetupFailureIsConfigError(t *testing.T) {
	factory := func(context.Context, config.JobConfig) (s3util.Gateway, error) {
		return nil, errors.New("failed to get shared config profile, nope")
	}

	_, err := NewRunner(defaultEnv, factory, nil, "sum-test").Run(context.Background())
	assert.Equal(t, jobutil.ExitConfig, jobutil.ExitCode(err))
}

func TestRun_StoreFailureIsStoreError(t *testing.T) {
	g := s3util.NewMemoryGateway()
	g.Put(inputKey, []byte("1 2"))
	g.FailNext(outputKey, &jobutil.Error{Kind: jobutil.KindAuth, Op: "store", Key: outputKey, Attempts: 1})

	rep, err := NewRunner(defaultEnv, memoryFactory(g), nil, "sum-test").Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, jobutil.ExitStore, jobutil.ExitCode(err))
	assert.Equal(t, StageStored, rep.FailedAt)

	// The classified cause stays in the chain.
	var cause *jobutil.Error
	require.ErrorAs(t, errors.Unwrap(err), &cause)
	assert.Equal(t, jobutil.KindAuth, cause.Kind)
}

func TestRun_CustomAggregator(t *testing.T) {
	g := s3util.NewMemoryGateway()
	g.Put(inputKey, []byte("1 x 2"))

	_, err := NewRunner(defaultEnv, memoryFactory(g), adder.New(adder.Lenient), "sum-test").Run(context.Background())
	require.NoError(t, err)
	out, _ := g.Object(outputKey)
	assert.Equal(t, "3", string(out))
}

func TestRun_Idempotent(t *testing.T) {
	g := s3util.NewMemoryGateway()
	g.Put(inputKey, []byte("0.25\n-7\n1e2\n"))
	runner := NewRunner(defaultEnv, memoryFactory(g), nil, "sum-test")

	_, err := runner.Run(context.Background())
	require.NoError(t, err)
	first, _ := g.Object(outputKey)

	_, err = runner.Run(context.Background())
	require.NoError(t, err)
	second, _ := g.Object(outputKey)

	assert.Equal(t, "93.25", string(first))
	assert.Equal(t, first, second)
}

// flakyObjectAPI fails the first failures GetObject calls with
// ServiceUnavailable, then serves input.
type flakyObjectAPI struct {
	input    []byte
	failures int
	gets     int
	stored   map[string][]byte
}

func (f *flakyObjectAPI) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.gets++
	if f.gets <= f.failures {
		return nil, &smithy.GenericAPIError{Code: "ServiceUnavailable", Fault: smithy.FaultServer}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.input))}, nil
}

func (f *flakyObjectAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.stored[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func TestRun_TransientFetchThenSuccessMatchesCleanRun(t *testing.T) {
	policy := s3util.RetryPolicy{MaxAttempts: 4}
	run := func(failures int) (*flakyObjectAPI, error) {
		api := &flakyObjectAPI{input: []byte("5\n6\n7"), failures: failures, stored: map[string][]byte{}}
		factory := func(_ context.Context, cfg config.JobConfig) (s3util.Gateway, error) {
			return s3util.NewS3Gateway(api, cfg.Bucket, policy), nil
		}
		_, err := NewRunner(defaultEnv, factory, nil, "sum-test").Run(context.Background())
		return api, err
	}

	clean, err := run(0)
	require.NoError(t, err)
	flaky, err := run(2)
	require.NoError(t, err)

	assert.Equal(t, 3, flaky.gets)
	assert.Equal(t, "18", string(clean.stored[outputKey]))
	assert.Equal(t, clean.stored[outputKey], flaky.stored[outputKey])
}

func TestRun_TransientFetchExhausted(t *testing.T) {
	api := &flakyObjectAPI{input: []byte("1"), failures: 100, stored: map[string][]byte{}}
	factory := func(_ context.Context, cfg config.JobConfig) (s3util.Gateway, error) {
		return s3util.NewS3Gateway(api, cfg.Bucket, s3util.RetryPolicy{MaxAttempts: 3}), nil
	}

	rep, err := NewRunner(defaultEnv, factory, nil, "sum-test").Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, jobutil.ExitTransient, jobutil.ExitCode(err))
	assert.Equal(t, 3, api.gets)
	assert.Equal(t, 3, rep.FetchAttempts)
	assert.Empty(t, api.stored)
}

func TestRun_ReportsFetchAttempts(t *testing.T) {
	api := &flakyObjectAPI{input: []byte("1 2"), failures: 1, stored: map[string][]byte{}}
	factory := func(_ context.Context, cfg config.JobConfig) (s3util.Gateway, error) {
		return s3util.NewS3Gateway(api, cfg.Bucket, s3util.RetryPolicy{MaxAttempts: 4}), nil
	}

	rep, err := NewRunner(defaultEnv, factory, nil, "sum-test").Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.FetchAttempts)
	assert.Equal(t, 3, rep.InputBytes)
}

func TestRun_EveryLogLineCarriesRunID(t *testing.T) {
	var buf bytes.Buffer
	orig := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = orig }()
	origLevel := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	defer zerolog.SetGlobalLevel(origLevel)

	api := &flakyObjectAPI{input: []byte("1 2"), failures: 1, stored: map[string][]byte{}}
	factory := func(_ context.Context, cfg config.JobConfig) (s3util.Gateway, error) {
		return s3util.NewS3Gateway(api, cfg.Bucket, s3util.RetryPolicy{MaxAttempts: 4}), nil
	}
	_, err := NewRunner(defaultEnv, factory, nil, "sum-logged").Run(context.Background())
	require.NoError(t, err)

	var sawRetry bool
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	for _, line := range lines {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(line, &entry), string(line))
		assert.Equal(t, "sum-logged", entry["runId"], string(line))
		if entry["message"] == "Transient storage error, will retry" {
			sawRetry = true
		}
	}
	assert.True(t, sawRetry, "expected a retry warning in:\n%s", buf.String())
}
