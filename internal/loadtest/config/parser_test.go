package config_test

import (
	"testing"
	"time"

	"github.com/stampede-load/stampede/internal/loadtest/config"
)

const sampleYAML = `
name: "storefront ramp"
baseUrl: "https://shop.example.com"
startVUs: 0
stages:
  - duration: 10s
    target: 5
  - duration: 30s
    target: 50
  - duration: 60s
    target: 5
thinkTime:
  min: 100ms
  max: 500ms
thresholds:
  iteration_duration:
    - "p(95) < 2000"
  iteration_failed:
    - threshold: "rate < 0.1"
      abortOnFail: true
requests:
  - name: homepage
    method: GET
    url: "{{baseUrl}}/"
    checks:
      - name: "homepage is 200"
        type: status
        condition: eq
        value: "200"
  - name: search
    method: POST
    url: "{{baseUrl}}/search"
    body: '{"q":"widgets"}'
    extract:
      - name: firstId
        source: body
        path: "results.0.id"
`

func TestParse_FullYAML(t *testing.T) {
	cfg, err := config.Parse([]byte(sampleYAML), "test.yaml")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Name != "storefront ramp" {
		t.Errorf("Name = %q, want %q", cfg.Name, "storefront ramp")
	}
	if len(cfg.Stages) != 3 {
		t.Fatalf("len(Stages) = %d, want 3", len(cfg.Stages))
	}
	if cfg.Stages[1].Duration.Std() != 30*time.Second {
		t.Errorf("Stages[1].Duration = %v, want 30s", cfg.Stages[1].Duration.Std())
	}
	if cfg.Stages[1].Target != 50 {
		t.Errorf("Stages[1].Target = %d, want 50", cfg.Stages[1].Target)
	}
	if cfg.ThinkTime.Min.Std() != 100*time.Millisecond {
		t.Errorf("ThinkTime.Min = %v, want 100ms", cfg.ThinkTime.Min.Std())
	}
}

func TestParse_ThresholdForms(t *testing.T) {
	cfg, err := config.Parse([]byte(sampleYAML), "test.yaml")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	durExprs := cfg.Thresholds["iteration_duration"]
	if len(durExprs) != 1 {
		t.Fatalf("len(thresholds[iteration_duration]) = %d, want 1", len(durExprs))
	}
	if durExprs[0].Expression != "p(95) < 2000" {
		t.Errorf("Expression = %q, want %q", durExprs[0].Expression, "p(95) < 2000")
	}
	if durExprs[0].AbortOnFail {
		t.Error("scalar threshold should not abort on fail")
	}

	failExprs := cfg.Thresholds["iteration_failed"]
	if len(failExprs) != 1 {
		t.Fatalf("len(thresholds[iteration_failed]) = %d, want 1", len(failExprs))
	}
	if failExprs[0].Expression != "rate < 0.1" {
		t.Errorf("Expression = %q, want %q", failExprs[0].Expression, "rate < 0.1")
	}
	if !failExprs[0].AbortOnFail {
		t.Error("object threshold with abortOnFail: true should abort on fail")
	}
}

func TestParse_JSON(t *testing.T) {
	data := []byte(`{"name":"api","vus":5,"duration":"30s","requests":[{"method":"GET","url":"https://api.example.com/health"}]}`)

	cfg, err := config.Parse(data, "test.json")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.VUs != 5 {
		t.Errorf("VUs = %d, want 5", cfg.VUs)
	}
	if cfg.Duration.Std() != 30*time.Second {
		t.Errorf("Duration = %v, want 30s", cfg.Duration.Std())
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	if _, err := config.Parse([]byte("requests: [}"), "bad.yaml"); err == nil {
		t.Error("Parse() with invalid YAML should return error")
	}
}

func TestParse_InvalidDuration(t *testing.T) {
	if _, err := config.Parse([]byte("duration: banana"), "bad.yaml"); err == nil {
		t.Error("Parse() with invalid duration should return error")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &config.Config{
		Requests: []config.RequestConfig{
			{URL: "https://api.example.com/users"},
			{Name: "health", Method: "HEAD", URL: "https://api.example.com/health"},
		},
	}

	config.ApplyDefaults(cfg)

	if cfg.IterationTimeout.Std() != 30*time.Second {
		t.Errorf("IterationTimeout = %v, want 30s", cfg.IterationTimeout.Std())
	}
	if cfg.AbortCheckInterval.Std() != 5*time.Second {
		t.Errorf("AbortCheckInterval = %v, want 5s", cfg.AbortCheckInterval.Std())
	}
	if cfg.Requests[0].Method != "GET" {
		t.Errorf("Requests[0].Method = %q, want GET", cfg.Requests[0].Method)
	}
	if cfg.Requests[0].Name != "request_0" {
		t.Errorf("Requests[0].Name = %q, want request_0", cfg.Requests[0].Name)
	}
	if cfg.Requests[1].Method != "HEAD" {
		t.Errorf("Requests[1].Method = %q, want HEAD (unchanged)", cfg.Requests[1].Method)
	}
}

func TestApplyDefaults_ThinkTimeMaxFollowsMin(t *testing.T) {
	cfg := &config.Config{
		ThinkTime: config.ThinkTimeConfig{Min: config.Duration(200 * time.Millisecond)},
		Requests:  []config.RequestConfig{{URL: "https://example.com"}},
	}

	config.ApplyDefaults(cfg)

	if cfg.ThinkTime.Max != cfg.ThinkTime.Min {
		t.Errorf("ThinkTime.Max = %v, want %v", cfg.ThinkTime.Max, cfg.ThinkTime.Min)
	}
}

func TestResolveVariables(t *testing.T) {
	vars := map[string]string{"userId": "42"}

	got := config.ResolveVariables("{{baseUrl}}/users/{{userId}}", "https://api.example.com", vars)
	want := "https://api.example.com/users/42"
	if got != want {
		t.Errorf("ResolveVariables() = %q, want %q", got, want)
	}

	got = config.ResolveVariables("{{unknown}}", "", nil)
	if got != "{{unknown}}" {
		t.Errorf("unresolved placeholder = %q, want left as-is", got)
	}
}

func TestMergeVariables(t *testing.T) {
	merged := config.MergeVariables(
		map[string]string{"a": "1", "b": "2"},
		map[string]string{"b": "3"},
	)

	if merged["a"] != "1" || merged["b"] != "3" {
		t.Errorf("MergeVariables() = %v, want a=1 b=3", merged)
	}
}
