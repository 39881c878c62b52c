package config

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. BREAKPOINT_RAMP_FLOOR_RATE.
const EnvPrefix = "BREAKPOINT"

// envKeys lists the settings that may be overridden from the environment.
var envKeys = []string{
	"base_url",
	"method",
	"path",
	"timeout",
	"health_path",
	"target_rate",
	"metrics_addr",
	"ramp.floor_rate",
	"ramp.floor_concurrency",
	"ramp.max_concurrency",
	"ramp.multiplier",
	"ramp.max_increment",
	"ramp.max_rate_cap",
	"ramp.stage_duration",
	"ramp.drain_timeout",
	"ramp.max_stages",
	"ramp.time_budget",
	"thresholds.soft_error_rate",
	"thresholds.hard_error_rate",
	"thresholds.soft_latency",
	"thresholds.hard_latency",
	"auth.token",
	"auth.username",
	"auth.password",
	"auth.api_key",
	"log.level",
	"log.format",
	"tracing.endpoint",
}

// Loader handles loading configuration from files, the environment and
// command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Defaults returns the configuration used before any file, environment or
// flag value is applied.
func Defaults() Config {
	return Config{
		Method:     http.MethodGet,
		Path:       "/",
		Headers:    map[string]string{},
		Timeout:    30 * time.Second,
		HealthPath: "/",
		Ramp: RampConfig{
			FloorRate:        10,
			FloorConcurrency: 10,
			MaxConcurrency:   100,
			Multiplier:       1.5,
			StageDuration:    30 * time.Second,
			DrainTimeout:     5 * time.Second,
			MaxStages:        10,
		},
		Arrival: ArrivalConfig{Model: ArrivalModelUniform},
		Thresholds: ThresholdConfig{
			SoftErrorRate:      0.05,
			HardErrorRate:      0.50,
			SoftLatency:        2 * time.Second,
			HardLatency:        10 * time.Second,
			MinThroughputRatio: 0.9,
		},
		Tracing: TracingConfig{SampleRate: 1},
		Log:     LogConfig{Level: "info", Format: "console"},
		Output:  OutputConfig{Format: OutputFormatText},
	}
}

// Load parses command-line arguments, environment overrides and configuration
// files to produce a Config. Precedence is flags, then environment, then file.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	cfgViper := viper.New()
	cfgViper.SetEnvPrefix(EnvPrefix)
	cfgViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		if err := cfgViper.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	settings := cfgViper.AllSettings()

	cfg := Defaults()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(&cfg, settings); err != nil {
		return nil, err
	}

	if err := applyFlagOverrides(&cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.Method = strings.ToUpper(strings.TrimSpace(cfg.Method))
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.BodyFile = strings.TrimSpace(cfg.BodyFile)
	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}

	return &cfg, nil
}

// applyConfigSettings applies settings from a config file (and bound
// environment variables) to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "baseurl", "base_url", "base-url"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("base_url: %w", err)
		}
		if strings.TrimSpace(val) != "" {
			cfg.BaseURL = strings.TrimSpace(val)
		}
	}

	if raw, ok := lookupSetting(settings, "method"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("method: %w", err)
		}
		if val != "" {
			cfg.Method = val
		}
	}

	if raw, ok := lookupSetting(settings, "path"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("path: %w", err)
		}
		if val != "" {
			cfg.Path = val
		}
	}

	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return fmt.Errorf("headers: %w", err)
		}
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for k, v := range hdrs {
			cfg.Headers[http.CanonicalHeaderKey(k)] = v
		}
	}

	if raw, ok := lookupSetting(settings, "body"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("body: %w", err)
		}
		cfg.Body = val
	}

	if raw, ok := lookupSetting(settings, "bodyfile", "body_file", "body-file"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("body_file: %w", err)
		}
		cfg.BodyFile = val
	}

	if raw, ok := lookupSetting(settings, "timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		if dur != 0 {
			cfg.Timeout = dur
		}
	}

	if raw, ok := lookupSetting(settings, "healthpath", "health_path", "health-path"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("health_path: %w", err)
		}
		cfg.HealthPath = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "errordetailpath", "error_detail_path", "error-detail-path"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("error_detail_path: %w", err)
		}
		cfg.ErrorDetailPath = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "targetrate", "target_rate", "target-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("target_rate: %w", err)
		}
		cfg.TargetRate = val
	}

	if raw, ok := lookupSetting(settings, "metricsaddr", "metrics_addr", "metrics-addr"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("metrics_addr: %w", err)
		}
		cfg.MetricsAddr = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "ramp"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("ramp: %w", err)
		}
		if err := applyRampSettings(&cfg.Ramp, entry); err != nil {
			return fmt.Errorf("ramp: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "arrival"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("arrival: %w", err)
		}
		if err := applyArrivalSettings(&cfg.Arrival, entry); err != nil {
			return fmt.Errorf("arrival: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		if err := applyThresholdSettings(&cfg.Thresholds, entry); err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "auth"); ok {
		auth, err := parseAuth(raw)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		cfg.Auth = auth
	}

	if raw, ok := lookupSetting(settings, "feeder"); ok {
		feeder, err := parseFeeder(raw)
		if err != nil {
			return fmt.Errorf("feeder: %w", err)
		}
		cfg.Feeder = feeder
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		tracing, err := parseTracing(raw, cfg.Tracing)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		cfg.Tracing = tracing
	}

	if raw, ok := lookupSetting(settings, "log"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("log: %w", err)
		}
		if raw, ok := lookupSetting(entry, "level"); ok {
			val, err := asString(raw)
			if err != nil {
				return fmt.Errorf("log.level: %w", err)
			}
			if val != "" {
				cfg.Log.Level = strings.ToLower(strings.TrimSpace(val))
			}
		}
		if raw, ok := lookupSetting(entry, "format"); ok {
			val, err := asString(raw)
			if err != nil {
				return fmt.Errorf("log.format: %w", err)
			}
			if val != "" {
				cfg.Log.Format = strings.ToLower(strings.TrimSpace(val))
			}
		}
	}

	if raw, ok := lookupSetting(settings, "output"); ok {
		entry, err := toStringKeyMap(raw)
		if err != nil {
			return fmt.Errorf("output: %w", err)
		}
		if raw, ok := lookupSetting(entry, "format"); ok {
			val, err := asString(raw)
			if err != nil {
				return fmt.Errorf("output.format: %w", err)
			}
			if val != "" {
				cfg.Output.Format = OutputFormat(strings.ToLower(strings.TrimSpace(val)))
			}
		}
		if raw, ok := lookupSetting(entry, "file"); ok {
			val, err := asString(raw)
			if err != nil {
				return fmt.Errorf("output.file: %w", err)
			}
			cfg.Output.File = strings.TrimSpace(val)
		}
	}

	return nil
}

func applyRampSettings(ramp *RampConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "floorrate", "floor_rate", "floor-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("floor_rate: %w", err)
		}
		ramp.FloorRate = val
	}
	if raw, ok := lookupSetting(settings, "floorconcurrency", "floor_concurrency", "floor-concurrency"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("floor_concurrency: %w", err)
		}
		ramp.FloorConcurrency = val
	}
	if raw, ok := lookupSetting(settings, "maxconcurrency", "max_concurrency", "max-concurrency"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("max_concurrency: %w", err)
		}
		ramp.MaxConcurrency = val
	}
	if raw, ok := lookupSetting(settings, "multiplier"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("multiplier: %w", err)
		}
		ramp.Multiplier = val
	}
	if raw, ok := lookupSetting(settings, "maxincrement", "max_increment", "max-increment"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("max_increment: %w", err)
		}
		ramp.MaxIncrement = val
	}
	if raw, ok := lookupSetting(settings, "maxratecap", "max_rate_cap", "max-rate-cap"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("max_rate_cap: %w", err)
		}
		ramp.MaxRateCap = val
	}
	if raw, ok := lookupSetting(settings, "stageduration", "stage_duration", "stage-duration"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("stage_duration: %w", err)
		}
		ramp.StageDuration = dur
	}
	if raw, ok := lookupSetting(settings, "draintimeout", "drain_timeout", "drain-timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("drain_timeout: %w", err)
		}
		ramp.DrainTimeout = dur
	}
	if raw, ok := lookupSetting(settings, "maxstages", "max_stages", "max-stages"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("max_stages: %w", err)
		}
		ramp.MaxStages = val
	}
	if raw, ok := lookupSetting(settings, "timebudget", "time_budget", "time-budget"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("time_budget: %w", err)
		}
		ramp.TimeBudget = dur
	}
	if raw, ok := lookupSetting(settings, "confirmdegraded", "confirm_degraded", "confirm-degraded"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("confirm_degraded: %w", err)
		}
		ramp.ConfirmDegraded = val
	}
	return nil
}

func applyArrivalSettings(arrival *ArrivalConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "model"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("model: %w", err)
		}
		if val != "" {
			arrival.Model = ArrivalModel(strings.ToLower(strings.TrimSpace(val)))
		}
	}
	if raw, ok := lookupSetting(settings, "seed"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		arrival.Seed = int64(val)
	}
	return nil
}

func applyThresholdSettings(t *ThresholdConfig, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "softerrorrate", "soft_error_rate", "soft-error-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("soft_error_rate: %w", err)
		}
		t.SoftErrorRate = val
	}
	if raw, ok := lookupSetting(settings, "harderrorrate", "hard_error_rate", "hard-error-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("hard_error_rate: %w", err)
		}
		t.HardErrorRate = val
	}
	if raw, ok := lookupSetting(settings, "softlatency", "soft_latency", "soft-latency"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("soft_latency: %w", err)
		}
		t.SoftLatency = dur
	}
	if raw, ok := lookupSetting(settings, "hardlatency", "hard_latency", "hard-latency"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("hard_latency: %w", err)
		}
		t.HardLatency = dur
	}
	if raw, ok := lookupSetting(settings, "minthroughputratio", "min_throughput_ratio", "min-throughput-ratio"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("min_throughput_ratio: %w", err)
		}
		t.MinThroughputRatio = val
	}
	if raw, ok := lookupSetting(settings, "maxconsecutivetimeouts", "max_consecutive_timeouts", "max-consecutive-timeouts"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("max_consecutive_timeouts: %w", err)
		}
		t.MaxConsecutiveTimeouts = val
	}
	return nil
}

func parseAuth(value interface{}) (AuthConfig, error) {
	var auth AuthConfig
	if value == nil {
		return auth, nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return auth, err
	}
	if raw, ok := lookupSetting(settings, "type"); ok {
		val, err := asString(raw)
		if err != nil {
			return auth, fmt.Errorf("type: %w", err)
		}
		auth.Type = AuthType(strings.ToLower(strings.TrimSpace(val)))
	}
	if raw, ok := lookupSetting(settings, "token"); ok {
		val, err := asString(raw)
		if err != nil {
			return auth, fmt.Errorf("token: %w", err)
		}
		auth.Token = val
	}
	if raw, ok := lookupSetting(settings, "username"); ok {
		val, err := asString(raw)
		if err != nil {
			return auth, fmt.Errorf("username: %w", err)
		}
		auth.Username = val
	}
	if raw, ok := lookupSetting(settings, "password"); ok {
		val, err := asString(raw)
		if err != nil {
			return auth, fmt.Errorf("password: %w", err)
		}
		auth.Password = val
	}
	if raw, ok := lookupSetting(settings, "headername", "header_name", "header-name"); ok {
		val, err := asString(raw)
		if err != nil {
			return auth, fmt.Errorf("header_name: %w", err)
		}
		auth.HeaderName = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "apikey", "api_key", "api-key"); ok {
		val, err := asString(raw)
		if err != nil {
			return auth, fmt.Errorf("api_key: %w", err)
		}
		auth.APIKey = val
	}
	return auth, nil
}

func parseFeeder(value interface{}) (FeederConfig, error) {
	var feeder FeederConfig
	if value == nil {
		return feeder, nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return feeder, err
	}
	if raw, ok := lookupSetting(settings, "path"); ok {
		val, err := asString(raw)
		if err != nil {
			return feeder, fmt.Errorf("path: %w", err)
		}
		feeder.Path = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "type"); ok {
		val, err := asString(raw)
		if err != nil {
			return feeder, fmt.Errorf("type: %w", err)
		}
		feeder.Type = strings.ToLower(strings.TrimSpace(val))
	}
	return feeder, nil
}

func parseTracing(value interface{}, base TracingConfig) (TracingConfig, error) {
	tracing := base
	if value == nil {
		return tracing, nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return tracing, err
	}
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return tracing, fmt.Errorf("endpoint: %w", err)
		}
		tracing.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return tracing, fmt.Errorf("protocol: %w", err)
		}
		tracing.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return tracing, fmt.Errorf("insecure: %w", err)
		}
		tracing.Insecure = val
	}
	if raw, ok := lookupSetting(settings, "servicename", "service_name", "service-name"); ok {
		val, err := asString(raw)
		if err != nil {
			return tracing, fmt.Errorf("service_name: %w", err)
		}
		tracing.ServiceName = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "samplerate", "sample_rate", "sample-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return tracing, fmt.Errorf("sample_rate: %w", err)
		}
		tracing.SampleRate = val
	}
	if raw, ok := lookupSetting(settings, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return tracing, fmt.Errorf("propagate: %w", err)
		}
		tracing.Propagate = val
	}
	return tracing, nil
}
