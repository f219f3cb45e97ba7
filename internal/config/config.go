// Package config resolves the adder job's runtime parameters.
//
// Load is the only place that looks at environment variables. It receives a
// lookup function rather than reading the process environment itself, so
// tests build a JobConfig from a plain map.
package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fpang/s3-adder/internal/jobutil"
)

// Environment variable names.
const (
	EnvBucketName   = "BUCKET_NAME"
	EnvInputPrefix  = "INPUT_PREFIX"
	EnvOutputPrefix = "OUTPUT_PREFIX"
	EnvProfile      = "AWS_PROFILE"
	EnvRegion       = "AWS_REGION"
)

// Defaults for the optional prefixes.
const (
	DefaultInputPrefix  = "input/"
	DefaultOutputPrefix = "output/"
)

// Object names appended to the prefixes.
const (
	InputObjectName  = "addends.txt"
	OutputObjectName = "sum.txt"
)

// bucketNamePattern is the S3 general-purpose bucket naming rule.
var bucketNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

// LookupFunc returns the value of an environment variable and whether it is set.
// os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// JobConfig is the immutable configuration of one job run.
type JobConfig struct {
	Bucket       string
	InputPrefix  string
	OutputPrefix string
	Profile      string // empty means the SDK default credential chain
	Region       string // empty means the SDK default region resolution
}

// InputKey is the object key the addends are read from.
func (c JobConfig) InputKey() string {
	return c.InputPrefix + InputObjectName
}

// OutputKey is the object key the sum is written to.
func (c JobConfig) OutputKey() string {
	return c.OutputPrefix + OutputObjectName
}

// Load builds a JobConfig from lookup. Every problem found is reported in a
// single KindConfig error instead of stopping at the first.
func Load(lookup LookupFunc) (JobConfig, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	cfg := JobConfig{
		Bucket:       get(EnvBucketName),
		InputPrefix:  orDefault(get(EnvInputPrefix), DefaultInputPrefix),
		OutputPrefix: orDefault(get(EnvOutputPrefix), DefaultOutputPrefix),
		Profile:      get(EnvProfile),
		Region:       get(EnvRegion),
	}

	if problems := cfg.validate(); len(problems) > 0 {
		return JobConfig{}, &jobutil.Error{
			Kind:     jobutil.KindConfig,
			Op:       "config",
			Problems: problems,
		}
	}
	return cfg, nil
}

func (c JobConfig) validate() []string {
	var problems []string
	switch {
	case c.Bucket == "":
		problems = append(problems, EnvBucketName+" is required")
	case !bucketNamePattern.MatchString(c.Bucket) || strings.Contains(c.Bucket, ".."):
		problems = append(problems, fmt.Sprintf("%s %q is not a valid bucket name", EnvBucketName, c.Bucket))
	}
	if strings.Contains(c.InputPrefix, "..") {
		problems = append(problems, fmt.Sprintf("%s %q must not contain '..'", EnvInputPrefix, c.InputPrefix))
	}
	if strings.Contains(c.OutputPrefix, "..") {
		problems = append(problems, fmt.Sprintf("%s %q must not contain '..'", EnvOutputPrefix, c.OutputPrefix))
	}
	return problems
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
