package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a test configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
//
// Defaults are applied; the result is not validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, path)
	if err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

// Parse parses raw configuration data.
//
// The format is determined by the file extension in path, or defaults to
// YAML if the path is empty or has an unknown extension.
func Parse(data []byte, path string) (*Config, error) {
	var cfg Config

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	return &cfg, nil
}

// ApplyDefaults fills in default values on a parsed Config.
func ApplyDefaults(cfg *Config) {
	if cfg.Name == "" {
		cfg.Name = "load test"
	}
	if cfg.IterationTimeout == 0 {
		cfg.IterationTimeout = Duration(30 * time.Second)
	}
	if cfg.AbortCheckInterval == 0 {
		cfg.AbortCheckInterval = Duration(5 * time.Second)
	}
	if cfg.ThinkTime.Max == 0 {
		cfg.ThinkTime.Max = cfg.ThinkTime.Min
	}

	if cfg.HTTP.Timeout == 0 {
		cfg.HTTP.Timeout = Duration(30 * time.Second)
	}
	if cfg.HTTP.MaxIdleConnsPerHost == 0 {
		cfg.HTTP.MaxIdleConnsPerHost = 100
	}

	for i := range cfg.Requests {
		req := &cfg.Requests[i]
		if req.Method == "" {
			req.Method = "GET"
		}
		if req.Name == "" {
			req.Name = fmt.Sprintf("request_%d", i)
		}
		for j := range req.Checks {
			if req.Checks[j].Condition == "" {
				req.Checks[j].Condition = "eq"
			}
		}
		for j := range req.Extract {
			if req.Extract[j].Source == "" {
				req.Extract[j].Source = "body"
			}
		}
	}
}

// ResolveVariables replaces {{name}} placeholders in a string.
//
// Values are looked up in vars; {{baseUrl}} and {{baseURL}} resolve to
// baseURL. Unresolved placeholders are left as-is.
func ResolveVariables(input, baseURL string, vars map[string]string) string {
	result := input
	for key, value := range vars {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}
	if baseURL != "" {
		result = strings.ReplaceAll(result, "{{baseUrl}}", baseURL)
		result = strings.ReplaceAll(result, "{{baseURL}}", baseURL)
	}
	return result
}

// MergeVariables merges variable maps in order. Later maps override
// earlier ones.
func MergeVariables(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}
