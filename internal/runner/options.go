package runner

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torosent/breakpoint/internal/config"
	"github.com/torosent/breakpoint/internal/decider"
	"github.com/torosent/breakpoint/internal/invoker"
)

// StageExecutor runs a single stage to completion and returns its sealed result.
type StageExecutor interface {
	Execute(ctx context.Context, stage LoadStage) (StageResult, error)
}

// Observer receives progress notifications. Observers must not block and
// never influence the ramp.
type Observer interface {
	StageStarted(stage LoadStage)
	OutcomeRecorded(stage LoadStage, out invoker.Outcome)
	StageCompleted(rec StageRecord)
}

// Options configure the Runner.
type Options struct {
	Policy  RampPolicy
	Invoker invoker.Invoker
	Decider *decider.Decider

	MaxStages int // 0 means unlimited

	// TimeBudget caps the summed planned stage durations; 0 means no budget.
	// A stage starts only if its window still fits. Drain time is not
	// counted, so the run may overrun the budget by up to one DrainTimeout
	// per stage. hardDeadline bounds that overrun.
	TimeBudget      time.Duration
	DrainTimeout    time.Duration // wait for in-flight calls after each stage window
	ConfirmDegraded bool

	ArrivalModel   config.ArrivalModel
	Seed           int64
	LimiterFactory func(rps float64) *rate.Limiter // optional injection for tests
	PoissonSampler func() float64                  // optional injection for tests

	// Executor replaces the built-in stage executor; Invoker is then unused.
	Executor  StageExecutor
	Observers []Observer
	Logger    *zap.Logger
	Tracer    trace.Tracer
}

// OptionsFromConfig fills the ramp and pacing fields from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Policy:          PolicyFromConfig(cfg.Ramp),
		Decider:         decider.New(decider.FromConfig(cfg.Thresholds)).WithTargetRate(cfg.TargetRate),
		MaxStages:       cfg.Ramp.MaxStages,
		TimeBudget:      cfg.Ramp.TimeBudget,
		DrainTimeout:    cfg.Ramp.DrainTimeout,
		ConfirmDegraded: cfg.Ramp.ConfirmDegraded,
		ArrivalModel:    cfg.Arrival.Model,
		Seed:            cfg.Arrival.Seed,
	}
}

// validate reports every invalid option at once as a
// *config.ConfigurationError.
func (o *Options) validate() error {
	var issues []string
	if err := o.Policy.Validate(); err != nil {
		var cfgErr *config.ConfigurationError
		if !errors.As(err, &cfgErr) {
			return err
		}
		issues = append(issues, cfgErr.Issues()...)
	}
	if o.Invoker == nil && o.Executor == nil {
		issues = append(issues, "an invoker or stage executor is required")
	}
	if o.MaxStages < 0 {
		issues = append(issues, "max stages must be >= 0")
	}
	if o.TimeBudget < 0 {
		issues = append(issues, "time budget must be >= 0")
	}
	if o.DrainTimeout < 0 {
		issues = append(issues, "drain timeout must be >= 0")
	}
	if len(issues) > 0 {
		return config.NewConfigurationError(issues...)
	}
	return nil
}

func (o *Options) normalize() {
	if o.Decider == nil {
		o.Decider = decider.New(decider.DefaultThresholds())
	}
	if o.ArrivalModel == "" {
		o.ArrivalModel = config.ArrivalModelUniform
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = defaultLimiter
	}
	if o.PoissonSampler == nil {
		seeded := rand.New(rand.NewSource(o.Seed))
		o.PoissonSampler = seeded.ExpFloat64
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("breakpoint")
	}
}

// hardDeadline bounds the whole run. It allows every stage that fits in the
// budget to use its full drain timeout, plus one more drain as slack.
func (o *Options) hardDeadline() time.Duration {
	if o.TimeBudget <= 0 {
		return 0
	}
	stages := int64(o.TimeBudget / o.Policy.StageDuration)
	slack := time.Duration(stages+1) * o.DrainTimeout
	if slack < time.Second {
		slack = time.Second
	}
	return o.TimeBudget + slack
}
