package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

type Config struct {
	BaseURL         string            `mapstructure:"base_url"`
	Method          string            `mapstructure:"method"`
	Path            string            `mapstructure:"path"`
	Headers         map[string]string `mapstructure:"headers"`
	Body            string            `mapstructure:"body"`
	BodyFile        string            `mapstructure:"body_file"`
	Timeout         time.Duration     `mapstructure:"timeout"`
	HealthPath      string            `mapstructure:"health_path"`
	ErrorDetailPath string            `mapstructure:"error_detail_path"`
	TargetRate      float64           `mapstructure:"target_rate"`
	MetricsAddr     string            `mapstructure:"metrics_addr"`
	ConfigFile      string            `mapstructure:"-"`
	Ramp            RampConfig        `mapstructure:"ramp"`
	Arrival         ArrivalConfig     `mapstructure:"arrival"`
	Thresholds      ThresholdConfig   `mapstructure:"thresholds"`
	Auth            AuthConfig        `mapstructure:"auth"`
	Feeder          FeederConfig      `mapstructure:"feeder"`
	Tracing         TracingConfig     `mapstructure:"tracing"`
	Log             LogConfig         `mapstructure:"log"`
	Output          OutputConfig      `mapstructure:"output"`
}

// RampConfig controls how stages are generated and bounded.
type RampConfig struct {
	FloorRate        float64       `mapstructure:"floor_rate"`
	FloorConcurrency int           `mapstructure:"floor_concurrency"`
	MaxConcurrency   int           `mapstructure:"max_concurrency"`
	Multiplier       float64       `mapstructure:"multiplier"`
	MaxIncrement     float64       `mapstructure:"max_increment"`
	MaxRateCap       float64       `mapstructure:"max_rate_cap"`
	StageDuration    time.Duration `mapstructure:"stage_duration"`
	DrainTimeout     time.Duration `mapstructure:"drain_timeout"`
	MaxStages        int           `mapstructure:"max_stages"`
	TimeBudget       time.Duration `mapstructure:"time_budget"` // planned stage time; drains not counted
	ConfirmDegraded  bool          `mapstructure:"confirm_degraded"`
}

type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

type ArrivalConfig struct {
	Model ArrivalModel `mapstructure:"model"`
	Seed  int64        `mapstructure:"seed"`
}

// ThresholdConfig holds the soft and hard ceilings used to classify stages.
type ThresholdConfig struct {
	SoftErrorRate          float64       `mapstructure:"soft_error_rate"`
	HardErrorRate          float64       `mapstructure:"hard_error_rate"`
	SoftLatency            time.Duration `mapstructure:"soft_latency"`
	HardLatency            time.Duration `mapstructure:"hard_latency"`
	MinThroughputRatio     float64       `mapstructure:"min_throughput_ratio"`
	MaxConsecutiveTimeouts int           `mapstructure:"max_consecutive_timeouts"`
}

type AuthType string

const (
	AuthTypeBearer AuthType = "bearer"
	AuthTypeBasic  AuthType = "basic"
	AuthTypeAPIKey AuthType = "api_key"
)

// AuthConfig carries credentials that are passed through to every request.
type AuthConfig struct {
	Type       AuthType `mapstructure:"type"`
	Token      string   `mapstructure:"token"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	HeaderName string   `mapstructure:"header_name"`
	APIKey     string   `mapstructure:"api_key"`
}

type FeederConfig struct {
	Path string `mapstructure:"path"`
	Type string `mapstructure:"type"` // "csv" or "json"
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" or "http"
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Propagate   bool    `mapstructure:"propagate"`
}

// Enabled reports whether spans should be exported or propagated.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" || t.Propagate
}

// ShouldPropagate reports whether W3C trace headers are injected into requests.
func (t TracingConfig) ShouldPropagate() bool {
	return t.Propagate
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
	OutputFormatYAML OutputFormat = "yaml"
)

type OutputConfig struct {
	Format OutputFormat `mapstructure:"format"`
	File   string       `mapstructure:"file"`
}

// ConfigurationError aggregates every problem found while validating a Config.
// It is fatal: no stage runs when it is returned.
type ConfigurationError struct {
	issues []string
}

// NewConfigurationError returns a ConfigurationError carrying issues. Packages
// that validate their own options use it so callers see a single error type.
func NewConfigurationError(issues ...string) *ConfigurationError {
	return &ConfigurationError{issues: append([]string(nil), issues...)}
}

func (e *ConfigurationError) Error() string {
	if len(e.issues) == 0 {
		return "invalid configuration"
	}
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.issues, "; "))
}

func (e *ConfigurationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	base := strings.TrimSpace(c.BaseURL)
	if base == "" {
		issues = append(issues, "base_url is required (use --help for usage information)")
	} else if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
		issues = append(issues, fmt.Sprintf("base_url %q must be an absolute URL", base))
	}

	if c.Ramp.FloorRate > 1000 || c.Ramp.MaxRateCap > 1000 {
		fmt.Fprintln(os.Stderr, "WARNING: High request rates configured. Ensure you have authorization to test the target system.")
	}

	if c.Timeout <= 0 {
		issues = append(issues, "timeout must be > 0")
	}
	if c.TargetRate < 0 {
		issues = append(issues, "target_rate must be >= 0")
	}
	if strings.TrimSpace(c.Body) != "" && strings.TrimSpace(c.BodyFile) != "" {
		issues = append(issues, "body and body_file are mutually exclusive")
	}

	issues = append(issues, validateRamp(c.Ramp)...)
	issues = append(issues, validateThresholds(c.Thresholds)...)
	issues = append(issues, validateArrivalConfig(c.Arrival)...)
	issues = append(issues, validateAuthConfig(c.Auth)...)
	issues = append(issues, validateFeederConfig(c.Feeder)...)
	issues = append(issues, validateOutputConfig(c.Output)...)

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, "tracing: sample_rate must be between 0 and 1")
	}

	if len(issues) > 0 {
		return &ConfigurationError{issues: issues}
	}
	return nil
}

func validateRamp(r RampConfig) []string {
	var issues []string
	if r.FloorRate <= 0 {
		issues = append(issues, "ramp: floor_rate must be > 0")
	}
	if r.FloorConcurrency < 1 {
		issues = append(issues, "ramp: floor_concurrency must be >= 1")
	}
	if r.MaxConcurrency < r.FloorConcurrency {
		issues = append(issues, "ramp: max_concurrency must be >= floor_concurrency")
	}
	if r.Multiplier <= 1 {
		issues = append(issues, "ramp: multiplier must be > 1")
	}
	if r.MaxIncrement < 0 {
		issues = append(issues, "ramp: max_increment must be >= 0")
	}
	if r.MaxRateCap < 0 {
		issues = append(issues, "ramp: max_rate_cap must be >= 0")
	} else if r.MaxRateCap > 0 && r.MaxRateCap < r.FloorRate {
		issues = append(issues, "ramp: max_rate_cap must be >= floor_rate")
	}
	if r.StageDuration <= 0 {
		issues = append(issues, "ramp: stage_duration must be > 0")
	}
	if r.DrainTimeout < 0 {
		issues = append(issues, "ramp: drain_timeout must be >= 0")
	}
	if r.MaxStages < 1 {
		issues = append(issues, "ramp: max_stages must be >= 1")
	}
	if r.TimeBudget < 0 {
		issues = append(issues, "ramp: time_budget must be >= 0")
	} else if r.TimeBudget > 0 && r.TimeBudget < r.StageDuration {
		issues = append(issues, "ramp: time_budget must allow at least one stage")
	}
	return issues
}

func validateThresholds(t ThresholdConfig) []string {
	var issues []string
	if t.SoftErrorRate < 0 || t.SoftErrorRate > 1 {
		issues = append(issues, "thresholds: soft_error_rate must be between 0 and 1")
	}
	if t.HardErrorRate < 0 || t.HardErrorRate > 1 {
		issues = append(issues, "thresholds: hard_error_rate must be between 0 and 1")
	}
	if t.SoftErrorRate > t.HardErrorRate {
		issues = append(issues, "thresholds: soft_error_rate must not exceed hard_error_rate")
	}
	if t.SoftLatency < 0 || t.HardLatency < 0 {
		issues = append(issues, "thresholds: latency ceilings must be >= 0")
	}
	if t.SoftLatency > 0 && t.HardLatency > 0 && t.SoftLatency > t.HardLatency {
		issues = append(issues, "thresholds: soft_latency must not exceed hard_latency")
	}
	if t.MinThroughputRatio < 0 || t.MinThroughputRatio > 1 {
		issues = append(issues, "thresholds: min_throughput_ratio must be between 0 and 1")
	}
	if t.MaxConsecutiveTimeouts < 0 {
		issues = append(issues, "thresholds: max_consecutive_timeouts must be >= 0")
	}
	return issues
}

func validateArrivalConfig(arr ArrivalConfig) []string {
	model := arr.Model
	if model == "" {
		model = ArrivalModelUniform
	}
	switch model {
	case ArrivalModelUniform, ArrivalModelPoisson:
		return nil
	default:
		return []string{fmt.Sprintf("arrival model %q is not supported", model)}
	}
}

func validateAuthConfig(auth AuthConfig) []string {
	var issues []string
	switch auth.Type {
	case "":
		return nil
	case AuthTypeBearer:
		if strings.TrimSpace(auth.Token) == "" {
			issues = append(issues, "auth: token is required for bearer")
		}
	case AuthTypeBasic:
		if strings.TrimSpace(auth.Username) == "" {
			issues = append(issues, "auth: username is required for basic")
		}
	case AuthTypeAPIKey:
		if strings.TrimSpace(auth.HeaderName) == "" {
			issues = append(issues, "auth: header_name is required for api_key")
		}
		if strings.TrimSpace(auth.APIKey) == "" {
			issues = append(issues, "auth: api_key is required for api_key")
		}
	default:
		issues = append(issues, fmt.Sprintf("auth: unsupported type %q", auth.Type))
	}
	return issues
}

func validateFeederConfig(feeder FeederConfig) []string {
	var issues []string
	if strings.TrimSpace(feeder.Path) == "" {
		return nil
	}

	if strings.TrimSpace(feeder.Type) == "" {
		issues = append(issues, "feeder: type is required when path is specified")
	} else if feeder.Type != "csv" && feeder.Type != "json" {
		issues = append(issues, fmt.Sprintf("feeder: type must be 'csv' or 'json', got %q", feeder.Type))
	}

	return issues
}

func validateOutputConfig(out OutputConfig) []string {
	switch out.Format {
	case "", OutputFormatText, OutputFormatJSON, OutputFormatYAML:
		return nil
	default:
		return []string{fmt.Sprintf("output: format must be 'text', 'json' or 'yaml', got %q", out.Format)}
	}
}
