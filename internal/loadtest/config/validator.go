package config

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/stampede-load/stampede/internal/loadtest/threshold"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

var validCheckTypes = map[string]bool{
	"status":        true,
	"body_contains": true,
	"jsonpath":      true,
	"schema":        true,
}

var validConditions = map[string]bool{
	"eq":       true,
	"ne":       true,
	"lt":       true,
	"lte":      true,
	"gt":       true,
	"gte":      true,
	"contains": true,
}

var validExtractSources = map[string]bool{
	"body":   true,
	"header": true,
	"status": true,
}

// Validate checks the entire configuration.
//
// Returns nil if valid, or a ValidationErrors containing all problems found.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	validateLoadShape(c, errs)
	validateThinkTime(&c.ThinkTime, errs)

	if c.BaseURL != "" {
		if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs.Add("baseUrl", fmt.Sprintf("invalid URL: %s", c.BaseURL))
		}
	}

	if c.TrendCap < 0 {
		errs.Add("trendCap", "must not be negative")
	}

	for metric, exprs := range c.Thresholds {
		for i, expr := range exprs {
			field := fmt.Sprintf("thresholds.%s[%d]", metric, i)
			if expr.Expression == "" {
				errs.Add(field, "threshold expression is required")
				continue
			}
			if _, err := threshold.Parse(metric, expr.Expression, expr.AbortOnFail); err != nil {
				errs.Add(field, err.Error())
			}
		}
	}

	if len(c.Requests) == 0 {
		errs.Add("requests", "at least one request is required")
	}
	for i := range c.Requests {
		validateRequest(fmt.Sprintf("requests[%d]", i), &c.Requests[i], errs)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateLoadShape(c *Config, errs *ValidationErrors) {
	hasStages := len(c.Stages) > 0
	hasConstant := c.VUs > 0 || c.Duration > 0

	if !hasStages && !hasConstant {
		errs.Add("stages", "either stages or vus+duration must be set")
		return
	}
	if hasStages && hasConstant {
		errs.Add("stages", "stages and vus+duration are mutually exclusive")
		return
	}

	if hasStages {
		if c.StartVUs < 0 {
			errs.Add("startVUs", "must not be negative")
		}
		for i, stage := range c.Stages {
			prefix := fmt.Sprintf("stages[%d]", i)
			if stage.Duration < 0 {
				errs.Add(prefix+".duration", "must not be negative")
			}
			if stage.Target < 0 {
				errs.Add(prefix+".target", "must not be negative")
			}
		}
		return
	}

	if c.VUs <= 0 {
		errs.Add("vus", "must be greater than 0")
	}
	if c.Duration <= 0 {
		errs.Add("duration", "must be greater than 0")
	}
}

func validateThinkTime(t *ThinkTimeConfig, errs *ValidationErrors) {
	if t.Min < 0 {
		errs.Add("thinkTime.min", "must not be negative")
	}
	if t.Max < t.Min {
		errs.Add("thinkTime.max", "must not be less than min")
	}
}

func validateRequest(prefix string, req *RequestConfig, errs *ValidationErrors) {
	if req.URL == "" {
		errs.Add(prefix+".url", "url is required")
	}

	switch strings.ToUpper(req.Method) {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodHead, http.MethodOptions:
	default:
		errs.Add(prefix+".method", fmt.Sprintf("unsupported method: %s", req.Method))
	}

	if req.ThinkTime < 0 {
		errs.Add(prefix+".thinkTime", "must not be negative")
	}

	for i := range req.Checks {
		validateCheck(fmt.Sprintf("%s.checks[%d]", prefix, i), &req.Checks[i], errs)
	}
	for i := range req.Extract {
		validateExtract(fmt.Sprintf("%s.extract[%d]", prefix, i), &req.Extract[i], errs)
	}
}

func validateCheck(prefix string, check *CheckConfig, errs *ValidationErrors) {
	if check.Name == "" {
		errs.Add(prefix+".name", "check name is required")
	}
	if !validCheckTypes[check.Type] {
		errs.Add(prefix+".type", fmt.Sprintf("unknown check type: %s", check.Type))
		return
	}
	if !validConditions[check.Condition] {
		errs.Add(prefix+".condition", fmt.Sprintf("unknown condition: %s", check.Condition))
	}

	switch check.Type {
	case "jsonpath":
		if check.Path == "" {
			errs.Add(prefix+".path", "path is required for jsonpath checks")
		}
	case "schema":
		if check.Schema == "" {
			errs.Add(prefix+".schema", "schema is required for schema checks")
		}
	default:
		if check.Value == "" {
			errs.Add(prefix+".value", "value is required")
		}
	}
}

func validateExtract(prefix string, extract *ExtractConfig, errs *ValidationErrors) {
	if extract.Name == "" {
		errs.Add(prefix+".name", "extract name is required")
	}
	if !validExtractSources[extract.Source] {
		errs.Add(prefix+".source", fmt.Sprintf("unknown extract source: %s", extract.Source))
		return
	}
	if extract.Source != "status" && extract.Path == "" {
		errs.Add(prefix+".path", "path is required")
	}
}
