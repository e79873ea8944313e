// Package httpscen runs configured HTTP request journeys as load test
// scenarios. Each iteration walks the request list, records latency
// metrics, evaluates response checks, and carries extracted values
// forward into later requests.
package httpscen

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/stampede-load/stampede/internal/loadtest/config"
)

// NewClient builds an HTTP client from config, shared across all
// virtual users.
func NewClient(cfg config.HTTPConfig) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   cfg.DisableKeepAlives,
	}

	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout.Std(),
	}
}
