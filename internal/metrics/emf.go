// Package metrics emits CloudWatch Embedded Metric Format (EMF) documents.
// An EMF document is one JSON line on stdout; the CloudWatch Logs agent of
// the batch compute environment extracts the metrics from the job's log
// stream, so recording a metric costs no API call.
//
// See: https://docs.aws.amazon.com/AmazonCloudWatch/latest/monitoring/CloudWatch_Embedded_Metric_Format_Specification.html
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"
)

// Namespace is the CloudWatch namespace for the adder job.
const Namespace = "S3Adder"

// Standard CloudWatch metric units.
const (
	UnitMilliseconds = "Milliseconds"
	UnitCount        = "Count"
	UnitBytes        = "Bytes"
)

// batchQueueEnv names the AWS Batch job queue; set on every Batch container.
const batchQueueEnv = "AWS_BATCH_JQ_NAME"

type metricDef struct {
	Name string `json:"Name"`
	Unit string `json:"Unit"`
}

// emfDirective is the _aws metadata block required by EMF.
type emfDirective struct {
	Timestamp         int64      `json:"Timestamp"`
	CloudWatchMetrics []cwMetric `json:"CloudWatchMetrics"`
}

type cwMetric struct {
	Namespace  string      `json:"Namespace"`
	Dimensions [][]string  `json:"Dimensions"`
	Metrics    []metricDef `json:"Metrics"`
}

// Recorder accumulates dimensions, metrics, and properties for a single EMF flush.
// It is not safe for concurrent use; the job records once, at exit.
type Recorder struct {
	namespace  string
	dimensions map[string]string
	metrics    map[string]metricDef
	values     map[string]float64
	properties map[string]interface{}
	now        func() time.Time
}

// New creates a Recorder for namespace. When running under AWS Batch the job
// queue is added as the JobQueue dimension.
func New(namespace string) *Recorder {
	r := &Recorder{
		namespace:  namespace,
		dimensions: make(map[string]string),
		metrics:    make(map[string]metricDef),
		values:     make(map[string]float64),
		properties: make(map[string]interface{}),
		now:        time.Now,
	}
	if queue := os.Getenv(batchQueueEnv); queue != "" {
		r.dimensions["JobQueue"] = queue
	}
	return r
}

// Dimension adds a dimension key-value pair.
func (r *Recorder) Dimension(key, value string) *Recorder {
	r.dimensions[key] = value
	return r
}

// Metric records a named metric value with a CloudWatch unit.
func (r *Recorder) Metric(name string, value float64, unit string) *Recorder {
	r.metrics[name] = metricDef{Name: name, Unit: unit}
	r.values[name] = value
	return r
}

// Count records a count metric with value 1.
func (r *Recorder) Count(name string) *Recorder {
	return r.Metric(name, 1, UnitCount)
}

// Duration records d as a millisecond metric.
func (r *Recorder) Duration(name string, d time.Duration) *Recorder {
	return r.Metric(name, float64(d.Milliseconds()), UnitMilliseconds)
}

// Property adds a non-metric field. Properties are searchable in Logs
// Insights but create no CloudWatch metric.
func (r *Recorder) Property(key string, value interface{}) *Recorder {
	r.properties[key] = value
	return r
}

// Flush writes the EMF document to stdout.
func (r *Recorder) Flush() {
	r.FlushTo(os.Stdout)
}

// FlushTo writes the EMF document to w as a single line. Nothing is written
// when no metric was recorded.
func (r *Recorder) FlushTo(w io.Writer) {
	if len(r.metrics) == 0 {
		return
	}

	doc := make(map[string]interface{}, len(r.dimensions)+len(r.values)+len(r.properties)+1)

	// Properties first so that dimensions and metrics win on a name clash.
	for k, v := range r.properties {
		doc[k] = v
	}

	dimKeys := make([]string, 0, len(r.dimensions))
	for k, v := range r.dimensions {
		dimKeys = append(dimKeys, k)
		doc[k] = v
	}
	sort.Strings(dimKeys)

	metricDefs := make([]metricDef, 0, len(r.metrics))
	for name, m := range r.metrics {
		metricDefs = append(metricDefs, m)
		doc[name] = r.values[name]
	}
	sort.Slice(metricDefs, func(i, j int) bool { return metricDefs[i].Name < metricDefs[j].Name })

	doc["_aws"] = emfDirective{
		Timestamp: r.now().UnixMilli(),
		CloudWatchMetrics: []cwMetric{{
			Namespace:  r.namespace,
			Dimensions: [][]string{dimKeys},
			Metrics:    metricDefs,
		}},
	}

	data, err := json.Marshal(doc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "emf: failed to marshal metrics: %v\n", err)
		return
	}
	fmt.Fprintln(w, string(data))
}
