package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.BaseURL = "http://localhost:8080"
	return cfg
}

func TestValidateDefaultsWithBaseURL(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateReportsConfigurationError(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing base url", func(c *Config) { c.BaseURL = "" }, "base_url is required"},
		{"relative base url", func(c *Config) { c.BaseURL = "localhost" }, "absolute URL"},
		{"zero floor rate", func(c *Config) { c.Ramp.FloorRate = 0 }, "floor_rate must be > 0"},
		{"negative floor rate", func(c *Config) { c.Ramp.FloorRate = -5 }, "floor_rate must be > 0"},
		{"multiplier not growing", func(c *Config) { c.Ramp.Multiplier = 1 }, "multiplier must be > 1"},
		{"max concurrency below floor", func(c *Config) { c.Ramp.MaxConcurrency = 1; c.Ramp.FloorConcurrency = 4 }, "max_concurrency"},
		{"cap below floor", func(c *Config) { c.Ramp.MaxRateCap = 5 }, "max_rate_cap must be >= floor_rate"},
		{"no stages", func(c *Config) { c.Ramp.MaxStages = 0 }, "max_stages"},
		{"budget shorter than a stage", func(c *Config) { c.Ramp.TimeBudget = time.Second }, "at least one stage"},
		{"soft above hard", func(c *Config) { c.Thresholds.SoftErrorRate = 0.6 }, "soft_error_rate must not exceed"},
		{"hard above one", func(c *Config) { c.Thresholds.HardErrorRate = 1.5 }, "hard_error_rate must be between"},
		{"soft latency above hard", func(c *Config) { c.Thresholds.SoftLatency = time.Minute }, "soft_latency must not exceed"},
		{"ratio above one", func(c *Config) { c.Thresholds.MinThroughputRatio = 1.2 }, "min_throughput_ratio"},
		{"unknown arrival", func(c *Config) { c.Arrival.Model = "bursty" }, "arrival model"},
		{"bearer without token", func(c *Config) { c.Auth.Type = AuthTypeBearer }, "token is required"},
		{"unknown auth", func(c *Config) { c.Auth.Type = "oauth2" }, "unsupported type"},
		{"feeder without type", func(c *Config) { c.Feeder.Path = "data.csv" }, "feeder: type is required"},
		{"body and body file", func(c *Config) { c.Body = "x"; c.BodyFile = "y" }, "mutually exclusive"},
		{"unknown output", func(c *Config) { c.Output.Format = "html" }, "output: format"},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, "timeout must be > 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *ConfigurationError, got %v", err)
			}
			found := false
			for _, issue := range cfgErr.Issues() {
				if strings.Contains(issue, tt.want) {
					found = true
				}
			}
			if !found {
				t.Fatalf("issues %v do not mention %q", cfgErr.Issues(), tt.want)
			}
		})
	}
}

func TestValidateCollectsAllIssues(t *testing.T) {
	cfg := validConfig()
	cfg.BaseURL = ""
	cfg.Ramp.FloorRate = 0
	cfg.Ramp.StageDuration = 0

	err := cfg.Validate()
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigurationError, got %v", err)
	}
	if got := len(cfgErr.Issues()); got != 3 {
		t.Fatalf("expected 3 issues, got %d: %v", got, cfgErr.Issues())
	}
	if !strings.HasPrefix(err.Error(), "invalid configuration: ") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestAsString(t *testing.T) {
	tests := []struct {
		input interface{}
		want  string
	}{
		{"hello", "hello"},
		{123, "123"},
		{true, "true"},
		{nil, ""},
		{[]byte("bytes"), "bytes"},
	}

	for _, tt := range tests {
		got, err := asString(tt.input)
		if err != nil {
			t.Errorf("asString(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asString(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestAsFloat64(t *testing.T) {
	tests := []struct {
		input interface{}
		want  float64
	}{
		{1.5, 1.5},
		{"2.25", 2.25},
		{7, 7},
		{int64(9), 9},
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asFloat64(tt.input)
		if err != nil {
			t.Errorf("asFloat64(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asFloat64(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestAsDuration(t *testing.T) {
	tests := []struct {
		input interface{}
		want  time.Duration
	}{
		{time.Second, time.Second},
		{"1m", time.Minute},
		{10, 10 * time.Second},
		{0.5, 500 * time.Millisecond},
		{nil, 0},
	}

	for _, tt := range tests {
		got, err := asDuration(tt.input)
		if err != nil {
			t.Errorf("asDuration(%v) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("asDuration(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestApplyConfigSettingsNestedSections(t *testing.T) {
	cfg := Defaults()
	settings := map[string]interface{}{
		"base_url": "http://example.com",
		"ramp": map[string]interface{}{
			"Floor-Rate": "12.5",
			"multiplier": 3,
		},
		"thresholds": map[interface{}]interface{}{
			"soft_error_rate": 0.1,
		},
		"tracing": map[string]interface{}{
			"endpoint": "localhost:4317",
		},
	}

	if err := applyConfigSettings(&cfg, settings); err != nil {
		t.Fatalf("applyConfigSettings() error = %v", err)
	}
	if cfg.Ramp.FloorRate != 12.5 || cfg.Ramp.Multiplier != 3 {
		t.Errorf("Ramp = %+v", cfg.Ramp)
	}
	if cfg.Ramp.MaxStages != 10 {
		t.Errorf("MaxStages = %d, want default kept", cfg.Ramp.MaxStages)
	}
	if cfg.Thresholds.SoftErrorRate != 0.1 {
		t.Errorf("SoftErrorRate = %v", cfg.Thresholds.SoftErrorRate)
	}
	if cfg.Tracing.Endpoint != "localhost:4317" || cfg.Tracing.SampleRate != 1 {
		t.Errorf("Tracing = %+v, want endpoint set and default sample rate kept", cfg.Tracing)
	}
}

func TestApplyConfigSettingsTypeErrors(t *testing.T) {
	cfg := Defaults()
	err := applyConfigSettings(&cfg, map[string]interface{}{
		"ramp": map[string]interface{}{"floor_rate": []int{1}},
	})
	if err == nil || !strings.Contains(err.Error(), "ramp: floor_rate") {
		t.Fatalf("expected ramp.floor_rate error, got %v", err)
	}
}
