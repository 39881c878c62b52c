package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "breakpoint",
		Short:         "Ramp load against an HTTP service until it degrades",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	defaults := Defaults()

	// Request template
	flags.String("base-url", "", "Base URL of the target service")
	flags.String("method", defaults.Method, "HTTP method to use")
	flags.String("path", defaults.Path, "Request path template, joined to the base URL")
	flags.StringSlice("header", nil, "Additional request header in key=value form")
	flags.String("body", "", "Inline request body payload")
	flags.String("body-file", "", "Path to file containing the request body")
	flags.Duration("timeout", defaults.Timeout, "Per-request deadline")
	flags.String("health-path", defaults.HealthPath, "Path probed before the run starts (empty disables the check)")
	flags.String("error-detail-path", "", "gjson path extracted from JSON error bodies (e.g. error.message)")

	// Ramp
	flags.Float64("target-rate", 0, "Expected production rate in req/s; the verdict reports whether it is met")
	flags.Float64("floor-rate", defaults.Ramp.FloorRate, "Request rate of the first stage (req/s)")
	flags.Int("floor-concurrency", defaults.Ramp.FloorConcurrency, "Concurrency limit of the first stage")
	flags.Int("max-concurrency", defaults.Ramp.MaxConcurrency, "Upper bound on any stage's concurrency limit")
	flags.Float64("multiplier", defaults.Ramp.Multiplier, "Rate multiplier applied between stages")
	flags.Float64("max-increment", 0, "Largest absolute rate increase between stages (0 means uncapped)")
	flags.Float64("max-rate", 0, "Hard cap on any stage's rate (0 means uncapped)")
	flags.Duration("stage-duration", defaults.Ramp.StageDuration, "How long each stage issues requests")
	flags.Duration("drain-timeout", defaults.Ramp.DrainTimeout, "Max time to wait for in-flight requests at a stage boundary")
	flags.Int("max-stages", defaults.Ramp.MaxStages, "Maximum number of stages")
	flags.Duration("time-budget", 0, "Budget for the summed stage durations; drains may overrun it (0 means unlimited)")
	flags.Bool("confirm-degraded", false, "Repeat a degraded stage once at the same rate before deciding")
	flags.String("arrival-model", string(ArrivalModelUniform), "Arrival model used to pace requests (uniform or poisson)")

	// Thresholds
	flags.Float64("soft-error-rate", defaults.Thresholds.SoftErrorRate, "Error rate above which a stage is degraded")
	flags.Float64("hard-error-rate", defaults.Thresholds.HardErrorRate, "Error rate above which a stage has failed")
	flags.Duration("soft-latency", defaults.Thresholds.SoftLatency, "P95 latency above which a stage is degraded (0 disables)")
	flags.Duration("hard-latency", defaults.Thresholds.HardLatency, "P99 latency above which a stage has failed (0 disables)")
	flags.Float64("min-throughput-ratio", defaults.Thresholds.MinThroughputRatio, "Achieved/target throughput ratio below which a stage is degraded")
	flags.Int("max-consecutive-timeouts", 0, "Consecutive timeouts that fail a stage (0 disables)")

	// Credentials
	flags.String("auth-type", "", "Credential type: bearer, basic or api_key")
	flags.String("auth-token", "", "Bearer token")
	flags.String("auth-username", "", "Basic auth username")
	flags.String("auth-password", "", "Basic auth password")
	flags.String("auth-header", "", "Header name carrying the API key")
	flags.String("auth-api-key", "", "API key value")

	// Feeder
	flags.String("feeder-path", "", "Path to CSV or JSON file containing data for per-request injection")
	flags.String("feeder-type", "", "Type of feeder file: 'csv' or 'json'")

	// Output and observability
	flags.String("output-format", string(OutputFormatText), "Report format: text, json or yaml")
	flags.String("output-file", "", "Write the report to this file instead of stdout")
	flags.String("log-level", defaults.Log.Level, "Log level: debug, info, warn or error")
	flags.String("log-format", defaults.Log.Format, "Log format: console or json")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	flags.String("tracing-endpoint", "", "OTLP endpoint for request and stage spans")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Float64("tracing-sample-rate", defaults.Tracing.SampleRate, "Trace sampling ratio between 0 and 1")
	flags.Bool("tracing-propagate", false, "Inject W3C trace context into requests")

	flags.String("config", "", "Path to configuration file (JSON or YAML)")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\n%s\n\nFlags:\n", cmd.UseLine(), cmd.Short)
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file and environment.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	for name, dst := range map[string]*string{
		"base-url":          &cfg.BaseURL,
		"method":            &cfg.Method,
		"path":              &cfg.Path,
		"health-path":       &cfg.HealthPath,
		"error-detail-path": &cfg.ErrorDetailPath,
		"auth-token":        &cfg.Auth.Token,
		"auth-username":     &cfg.Auth.Username,
		"auth-password":     &cfg.Auth.Password,
		"auth-header":       &cfg.Auth.HeaderName,
		"auth-api-key":      &cfg.Auth.APIKey,
		"feeder-path":       &cfg.Feeder.Path,
		"feeder-type":       &cfg.Feeder.Type,
		"output-file":       &cfg.Output.File,
		"log-level":         &cfg.Log.Level,
		"log-format":        &cfg.Log.Format,
		"metrics-addr":      &cfg.MetricsAddr,
		"tracing-endpoint":  &cfg.Tracing.Endpoint,
		"tracing-protocol":  &cfg.Tracing.Protocol,
	} {
		if !fs.Changed(name) {
			continue
		}
		val, err := fs.GetString(name)
		if err != nil {
			return err
		}
		*dst = strings.TrimSpace(val)
	}

	if fs.Changed("body") {
		val, err := fs.GetString("body")
		if err != nil {
			return err
		}
		cfg.Body = val
		cfg.BodyFile = ""
	}
	if fs.Changed("body-file") {
		val, err := fs.GetString("body-file")
		if err != nil {
			return err
		}
		cfg.BodyFile = val
		cfg.Body = ""
	}
	if fs.Changed("header") {
		values, err := fs.GetStringSlice("header")
		if err != nil {
			return err
		}
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for _, raw := range values {
			key, value, ok := strings.Cut(raw, "=")
			key = strings.TrimSpace(key)
			if !ok || key == "" {
				return fmt.Errorf("header %q must be in key=value form", raw)
			}
			cfg.Headers[http.CanonicalHeaderKey(key)] = strings.TrimSpace(value)
		}
	}

	for name, dst := range map[string]*float64{
		"target-rate":          &cfg.TargetRate,
		"floor-rate":           &cfg.Ramp.FloorRate,
		"multiplier":           &cfg.Ramp.Multiplier,
		"max-increment":        &cfg.Ramp.MaxIncrement,
		"max-rate":             &cfg.Ramp.MaxRateCap,
		"soft-error-rate":      &cfg.Thresholds.SoftErrorRate,
		"hard-error-rate":      &cfg.Thresholds.HardErrorRate,
		"min-throughput-ratio": &cfg.Thresholds.MinThroughputRatio,
		"tracing-sample-rate":  &cfg.Tracing.SampleRate,
	} {
		if !fs.Changed(name) {
			continue
		}
		val, err := fs.GetFloat64(name)
		if err != nil {
			return err
		}
		*dst = val
	}

	for name, dst := range map[string]*int{
		"floor-concurrency":        &cfg.Ramp.FloorConcurrency,
		"max-concurrency":          &cfg.Ramp.MaxConcurrency,
		"max-stages":               &cfg.Ramp.MaxStages,
		"max-consecutive-timeouts": &cfg.Thresholds.MaxConsecutiveTimeouts,
	} {
		if !fs.Changed(name) {
			continue
		}
		val, err := fs.GetInt(name)
		if err != nil {
			return err
		}
		*dst = val
	}

	if fs.Changed("timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Timeout = val
	}
	if fs.Changed("stage-duration") {
		val, err := fs.GetDuration("stage-duration")
		if err != nil {
			return err
		}
		cfg.Ramp.StageDuration = val
	}
	if fs.Changed("drain-timeout") {
		val, err := fs.GetDuration("drain-timeout")
		if err != nil {
			return err
		}
		cfg.Ramp.DrainTimeout = val
	}
	if fs.Changed("time-budget") {
		val, err := fs.GetDuration("time-budget")
		if err != nil {
			return err
		}
		cfg.Ramp.TimeBudget = val
	}
	if fs.Changed("soft-latency") {
		val, err := fs.GetDuration("soft-latency")
		if err != nil {
			return err
		}
		cfg.Thresholds.SoftLatency = val
	}
	if fs.Changed("hard-latency") {
		val, err := fs.GetDuration("hard-latency")
		if err != nil {
			return err
		}
		cfg.Thresholds.HardLatency = val
	}

	if fs.Changed("confirm-degraded") {
		val, err := fs.GetBool("confirm-degraded")
		if err != nil {
			return err
		}
		cfg.Ramp.ConfirmDegraded = val
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = val
	}
	if fs.Changed("tracing-propagate") {
		val, err := fs.GetBool("tracing-propagate")
		if err != nil {
			return err
		}
		cfg.Tracing.Propagate = val
	}

	if fs.Changed("arrival-model") {
		val, err := fs.GetString("arrival-model")
		if err != nil {
			return err
		}
		cfg.Arrival.Model = ArrivalModel(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("auth-type") {
		val, err := fs.GetString("auth-type")
		if err != nil {
			return err
		}
		cfg.Auth.Type = AuthType(strings.ToLower(strings.TrimSpace(val)))
	}
	if fs.Changed("output-format") {
		val, err := fs.GetString("output-format")
		if err != nil {
			return err
		}
		cfg.Output.Format = OutputFormat(strings.ToLower(strings.TrimSpace(val)))
	}

	return nil
}
