// Package config provides YAML configuration parsing and eager validation
// for the load test runner.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a load test.
//
// Example YAML:
//
//	name: "storefront ramp"
//	baseUrl: "https://shop.example.com"
//	startVUs: 0
//	stages:
//	  - duration: 10s
//	    target: 5
//	  - duration: 30s
//	    target: 50
//	  - duration: 60s
//	    target: 5
//	thresholds:
//	  iteration_duration:
//	    - "p(95) < 2000"
//	  iteration_failed:
//	    - threshold: "rate < 0.1"
//	      abortOnFail: true
//	requests:
//	  - name: homepage
//	    method: GET
//	    url: "{{baseUrl}}/"
//	    checks:
//	      - name: "homepage is 200"
//	        type: status
//	        condition: eq
//	        value: "200"
type Config struct {
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Variables are available to every request via {{name}} substitution.
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Stages defines the ramp. VUs+Duration instead request constant
	// concurrency; the two forms are mutually exclusive.
	Stages   []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`
	StartVUs int           `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`
	VUs      int           `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration Duration      `json:"duration,omitempty" yaml:"duration,omitempty"`

	// ThinkTime is the pause between iterations. A single value pins it;
	// min/max draws it uniformly.
	ThinkTime ThinkTimeConfig `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`

	// IterationTimeout bounds one whole iteration (default 30s).
	IterationTimeout Duration `json:"iterationTimeout,omitempty" yaml:"iterationTimeout,omitempty"`

	// AbortCheckInterval is the safety tick for abort-enabled thresholds
	// (default 5s).
	AbortCheckInterval Duration `json:"abortCheckInterval,omitempty" yaml:"abortCheckInterval,omitempty"`

	// TrendCap bounds retained trend samples per shard; zero keeps all.
	TrendCap int `json:"trendCap,omitempty" yaml:"trendCap,omitempty"`

	// Thresholds maps metric names to predicate expressions.
	Thresholds map[string][]ThresholdExpr `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Requests is the HTTP journey each virtual user iterates.
	Requests []RequestConfig `json:"requests" yaml:"requests"`

	// HTTP tunes the shared transport.
	HTTP HTTPConfig `json:"http,omitempty" yaml:"http,omitempty"`
}

// StageConfig is one ramp segment.
type StageConfig struct {
	Duration Duration `json:"duration" yaml:"duration"`
	Target   int      `json:"target" yaml:"target"`
}

// ThinkTimeConfig is a fixed or bounded random pause.
type ThinkTimeConfig struct {
	Min Duration `json:"min,omitempty" yaml:"min,omitempty"`
	Max Duration `json:"max,omitempty" yaml:"max,omitempty"`
}

// ThresholdExpr is either a bare expression string or an object with an
// abortOnFail flag:
//
//   - "p(95) < 2000"
//   - threshold: "rate < 0.1"
//     abortOnFail: true
type ThresholdExpr struct {
	Expression  string `json:"threshold" yaml:"threshold"`
	AbortOnFail bool   `json:"abortOnFail,omitempty" yaml:"abortOnFail,omitempty"`
}

// UnmarshalYAML accepts both the scalar and the object form.
func (t *ThresholdExpr) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		t.Expression = value.Value
		return nil
	}
	type raw ThresholdExpr
	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}
	*t = ThresholdExpr(r)
	return nil
}

// RequestConfig is one HTTP request in the iteration journey.
type RequestConfig struct {
	Name    string            `json:"name,omitempty" yaml:"name,omitempty"`
	Method  string            `json:"method" yaml:"method"`
	URL     string            `json:"url" yaml:"url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    string            `json:"body,omitempty" yaml:"body,omitempty"`

	// ThinkTime pauses after this request, inside the iteration.
	ThinkTime Duration `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`

	Checks  []CheckConfig   `json:"checks,omitempty" yaml:"checks,omitempty"`
	Extract []ExtractConfig `json:"extract,omitempty" yaml:"extract,omitempty"`
}

// CheckConfig is an inline assertion on a response.
type CheckConfig struct {
	// Name doubles as the rate metric the outcome is recorded on.
	Name string `json:"name" yaml:"name"`

	// Type: "status", "body_contains", "jsonpath", "schema".
	Type string `json:"type" yaml:"type"`

	// Path is the gjson path for jsonpath checks.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Condition: "eq", "ne", "lt", "lte", "gt", "gte", "contains".
	// Defaults to "eq".
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// Value is the expected value, compared as string or number
	// depending on the check type.
	Value string `json:"value,omitempty" yaml:"value,omitempty"`

	// Schema is an inline JSON schema for schema checks.
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// ExtractConfig pulls a value out of a response into the VU's variables.
type ExtractConfig struct {
	Name string `json:"name" yaml:"name"`

	// Source: "body" (gjson path), "header", "status".
	Source string `json:"source" yaml:"source"`
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
}

// HTTPConfig tunes the shared HTTP client.
type HTTPConfig struct {
	Timeout             Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxIdleConnsPerHost int      `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`
	MaxConnsPerHost     int      `json:"maxConnsPerHost,omitempty" yaml:"maxConnsPerHost,omitempty"`
	DisableKeepAlives   bool     `json:"disableKeepAlives,omitempty" yaml:"disableKeepAlives,omitempty"`
	InsecureSkipVerify  bool     `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
}

// Duration is a time.Duration that unmarshals from strings like "30s".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String returns the duration in time.Duration notation.
func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" || s == "null" {
		*d = 0
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	if s == "" {
		*d = 0
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}
