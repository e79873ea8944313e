package httpscen

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"github.com/stampede-load/stampede/internal/loadtest"
	"github.com/stampede-load/stampede/internal/loadtest/config"
	"github.com/stampede-load/stampede/internal/loadtest/engine"
	"github.com/stampede-load/stampede/internal/loadtest/metrics"
)

// Built-in HTTP metric names.
const (
	MetricHTTPReqs        = "http_reqs"
	MetricHTTPReqDuration = "http_req_duration"
	MetricHTTPReqFailed   = "http_req_failed"
)

// maxBodyBytes caps how much of a response body is read for checks and
// extracts.
const maxBodyBytes = 10 << 20

// Scenario executes a configured request journey. It implements
// loadtest.Scenario and is shared by all virtual users.
type Scenario struct {
	requests  []compiledRequest
	baseURL   string
	variables map[string]string
	client    *http.Client
	clock     loadtest.Clock
	stats     *RequestStats

	metricsOnce sync.Once
	reqs        *metrics.Counter
	duration    *metrics.Trend
	failed      *metrics.Rate
	metricsErr  error
}

type compiledRequest struct {
	cfg    config.RequestConfig
	checks []compiledCheck
}

type compiledCheck struct {
	cfg    config.CheckConfig
	schema *jsonschema.Schema
}

// FromConfig builds a Scenario from a validated Config. Inline JSON
// schemas are compiled eagerly so malformed schemas fail before any
// load is generated.
func FromConfig(cfg *config.Config, client *http.Client) (*Scenario, error) {
	if client == nil {
		client = NewClient(cfg.HTTP)
	}

	s := &Scenario{
		baseURL:   cfg.BaseURL,
		variables: cfg.Variables,
		client:    client,
		clock:     loadtest.SystemClock(),
		stats:     NewRequestStats(),
	}

	for i, req := range cfg.Requests {
		cr := compiledRequest{cfg: req}
		for _, check := range req.Checks {
			cc := compiledCheck{cfg: check}
			if check.Type == "schema" {
				schema, err := compileSchema(check.Schema)
				if err != nil {
					return nil, fmt.Errorf("requests[%d] check %q: %w", i, check.Name, err)
				}
				cc.schema = schema
			}
			cr.checks = append(cr.checks, cc)
		}
		s.requests = append(s.requests, cr)
	}

	return s, nil
}

func compileSchema(schemaStr string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(schemaStr)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return schema, nil
}

// Stats returns the per-request latency histograms.
func (s *Scenario) Stats() *RequestStats { return s.stats }

// SetClock replaces the clock used for per-request think time. Call it
// before the scenario runs; tests use it to drive pauses deterministically.
func (s *Scenario) SetClock(clock loadtest.Clock) { s.clock = clock }

// MetricSpecs returns the metric declarations a run using this scenario
// needs, so thresholds on HTTP metrics and check names validate up
// front.
func MetricSpecs(cfg *config.Config) []engine.MetricSpec {
	specs := []engine.MetricSpec{
		{Name: MetricHTTPReqs, Kind: metrics.KindCounter},
		{Name: MetricHTTPReqDuration, Kind: metrics.KindTrend},
		{Name: MetricHTTPReqFailed, Kind: metrics.KindRate},
	}
	for _, req := range cfg.Requests {
		for _, check := range req.Checks {
			specs = append(specs, engine.MetricSpec{Name: check.Name, Kind: metrics.KindRate})
		}
	}
	return specs
}

// Run executes one iteration of the journey.
func (s *Scenario) Run(ctx context.Context, st *loadtest.State) error {
	if err := s.bindMetrics(st.Registry()); err != nil {
		return err
	}

	for i := range s.requests {
		if err := s.runRequest(ctx, st, &s.requests[i]); err != nil {
			return err
		}

		if think := s.requests[i].cfg.ThinkTime.Std(); think > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.clock.After(think):
			}
		}
	}
	return nil
}

func (s *Scenario) bindMetrics(reg *metrics.Registry) error {
	s.metricsOnce.Do(func() {
		if s.reqs, s.metricsErr = reg.Counter(MetricHTTPReqs); s.metricsErr != nil {
			return
		}
		if s.duration, s.metricsErr = reg.Trend(MetricHTTPReqDuration); s.metricsErr != nil {
			return
		}
		s.failed, s.metricsErr = reg.Rate(MetricHTTPReqFailed)
	})
	return s.metricsErr
}

func (s *Scenario) runRequest(ctx context.Context, st *loadtest.State, cr *compiledRequest) error {
	vars := s.resolveVars(st)
	url := config.ResolveVariables(cr.cfg.URL, s.baseURL, vars)
	body := config.ResolveVariables(cr.cfg.Body, s.baseURL, vars)

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(cr.cfg.Method), url, reader)
	if err != nil {
		return fmt.Errorf("request %q: %w", cr.cfg.Name, err)
	}
	for key, value := range cr.cfg.Headers {
		req.Header.Set(key, config.ResolveVariables(value, s.baseURL, vars))
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	elapsed := time.Since(start)

	s.reqs.Inc()
	s.duration.Observe(float64(elapsed) / float64(time.Millisecond))
	s.stats.Record(cr.cfg.Name, elapsed.Microseconds())

	if err != nil {
		s.failed.Observe(true)
		return fmt.Errorf("request %q: %w", cr.cfg.Name, err)
	}
	defer resp.Body.Close()

	s.failed.Observe(resp.StatusCode >= 400)

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("request %q: reading body: %w", cr.cfg.Name, err)
	}

	for i := range cr.checks {
		check := &cr.checks[i]
		st.Check(check.cfg.Name, evaluateCheck(check, resp, string(respBody)))
	}

	for _, ex := range cr.cfg.Extract {
		if value, ok := extract(&ex, resp, string(respBody)); ok {
			st.Data[ex.Name] = value
		}
	}

	return nil
}

// resolveVars merges configured variables with values extracted during
// this VU's earlier requests. Extracted values win.
func (s *Scenario) resolveVars(st *loadtest.State) map[string]string {
	vars := make(map[string]string, len(s.variables)+len(st.Data))
	for k, v := range s.variables {
		vars[k] = v
	}
	for k, v := range st.Data {
		if str, ok := v.(string); ok {
			vars[k] = str
		}
	}
	return vars
}

func evaluateCheck(check *compiledCheck, resp *http.Response, body string) bool {
	switch check.cfg.Type {
	case "status":
		return compare(strconv.Itoa(resp.StatusCode), check.cfg.Condition, check.cfg.Value)
	case "body_contains":
		return strings.Contains(body, check.cfg.Value)
	case "jsonpath":
		result := gjson.Get(body, check.cfg.Path)
		if !result.Exists() {
			return false
		}
		return compare(result.String(), check.cfg.Condition, check.cfg.Value)
	case "schema":
		var data interface{}
		if err := json.Unmarshal([]byte(body), &data); err != nil {
			return false
		}
		return check.schema.Validate(data) == nil
	}
	return false
}

// compare applies a condition to actual and expected values. Ordered
// conditions require both sides to parse as numbers.
func compare(actual, condition, expected string) bool {
	switch condition {
	case "eq", "":
		if an, ae, ok := parseNumbers(actual, expected); ok {
			return an == ae
		}
		return actual == expected
	case "ne":
		if an, ae, ok := parseNumbers(actual, expected); ok {
			return an != ae
		}
		return actual != expected
	case "contains":
		return strings.Contains(actual, expected)
	case "lt", "lte", "gt", "gte":
		an, ae, ok := parseNumbers(actual, expected)
		if !ok {
			return false
		}
		switch condition {
		case "lt":
			return an < ae
		case "lte":
			return an <= ae
		case "gt":
			return an > ae
		default:
			return an >= ae
		}
	}
	return false
}

func parseNumbers(a, b string) (float64, float64, bool) {
	an, err := strconv.ParseFloat(a, 64)
	if err != nil {
		return 0, 0, false
	}
	bn, err := strconv.ParseFloat(b, 64)
	if err != nil {
		return 0, 0, false
	}
	return an, bn, true
}

func extract(ex *config.ExtractConfig, resp *http.Response, body string) (string, bool) {
	switch ex.Source {
	case "body":
		result := gjson.Get(body, ex.Path)
		if !result.Exists() {
			return "", false
		}
		return result.String(), true
	case "header":
		value := resp.Header.Get(ex.Path)
		return value, value != ""
	case "status":
		return strconv.Itoa(resp.StatusCode), true
	}
	return "", false
}
