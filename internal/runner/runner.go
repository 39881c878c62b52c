package runner

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/breakpoint/internal/decider"
	"github.com/torosent/breakpoint/internal/metrics"
)

// Reasons a run stops ramping.
const (
	StopStageFailed          = "stage failed"
	StopDegradationConfirmed = "degradation confirmed"
	StopMaxStages            = "max stages reached"
	StopTimeBudget           = "time budget exhausted"
	StopRateCap              = "max rate cap reached"
	StopCanceled             = "run canceled"
)

// StageRecord pairs a stage result with its assessment.
type StageRecord struct {
	StageResult
	Assessment decider.Assessment
}

// Result captures the executed stages and the verdict drawn from them.
type Result struct {
	Stages     []StageRecord
	Verdict    decider.Verdict
	StopReason string
	Elapsed    time.Duration
}

// Runner drives the ramp: it executes stages in order, classifies each one
// and decides whether to escalate, confirm or stop.
type Runner struct {
	opt      Options
	executor StageExecutor
}

func New(opt Options) (*Runner, error) {
	if err := opt.validate(); err != nil {
		return nil, err
	}
	opt.normalize()
	executor := opt.Executor
	if executor == nil {
		executor = &stageExecutor{opt: opt}
	}
	return &Runner{opt: opt, executor: executor}, nil
}

// Run executes stages until a stop condition is met. The returned error is
// non-nil only when the run had to be aborted; the Result then holds the
// stages that completed.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	log := r.opt.Logger

	runCtx := ctx
	deadlineHit := func() bool { return false }
	if d := r.opt.hardDeadline(); d > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
		deadlineHit = func() bool {
			return ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded)
		}
	}

	var (
		records    []StageRecord
		planned    time.Duration
		confirming bool
		stopReason string
	)
	stage := r.opt.Policy.First()

	for stopReason == "" {
		switch {
		case ctx.Err() != nil:
			stopReason = StopCanceled
			continue
		case runCtx.Err() != nil:
			stopReason = StopTimeBudget
			continue
		case r.opt.MaxStages > 0 && len(records) >= r.opt.MaxStages:
			stopReason = StopMaxStages
			continue
		case r.opt.TimeBudget > 0 && planned+stage.Duration > r.opt.TimeBudget:
			stopReason = StopTimeBudget
			continue
		}

		for _, o := range r.opt.Observers {
			o.StageStarted(stage)
		}
		log.Info("stage started",
			zap.Int("stage", stage.Index),
			zap.Float64("target_rate", stage.TargetRate),
			zap.Int("concurrency_limit", stage.ConcurrencyLimit),
			zap.Duration("duration", stage.Duration),
		)

		res, err := r.executor.Execute(runCtx, stage)
		if err != nil {
			log.Error("stage aborted", zap.Int("stage", stage.Index), zap.Error(err))
			return r.result(records, StopStageFailed, start), err
		}
		planned += stage.Duration

		rec := StageRecord{StageResult: res, Assessment: r.opt.Decider.Classify(res.Stats)}
		records = append(records, rec)
		for _, o := range r.opt.Observers {
			o.StageCompleted(rec)
		}
		log.Info("stage completed",
			zap.Int("stage", stage.Index),
			zap.String("classification", string(rec.Assessment.Classification)),
			zap.String("reason", rec.Assessment.Reason),
			zap.Int64("total", res.Stats.TotalRequests),
			zap.Float64("error_rate", res.Stats.ErrorRate),
			zap.Duration("p95", res.Stats.LatencyP95),
			zap.Float64("throughput", res.Stats.ThroughputAchieved),
			zap.Int64("orphaned", res.Orphaned),
			zap.Bool("interrupted", res.Interrupted),
		)

		if res.Interrupted {
			if deadlineHit() {
				stopReason = StopTimeBudget
			} else {
				stopReason = StopCanceled
			}
			continue
		}

		switch rec.Assessment.Classification {
		case decider.Failed:
			stopReason = StopStageFailed
		case decider.Degraded:
			switch {
			case confirming:
				stopReason = StopDegradationConfirmed
			case r.opt.ConfirmDegraded:
				confirming = true
				stage = r.opt.Policy.Repeat(stage)
			case r.opt.Policy.AtCap(stage):
				stopReason = StopRateCap
			default:
				stage = r.opt.Policy.Next(stage)
			}
		default:
			confirming = false
			if r.opt.Policy.AtCap(stage) {
				stopReason = StopRateCap
			} else {
				stage = r.opt.Policy.Next(stage)
			}
		}
	}

	log.Info("run stopped", zap.String("reason", stopReason), zap.Int("stages", len(records)))
	return r.result(records, stopReason, start), nil
}

// result draws the verdict from every stage that ran to completion.
func (r *Runner) result(records []StageRecord, stopReason string, start time.Time) Result {
	stats := make([]metrics.StageStats, 0, len(records))
	for _, rec := range records {
		if !rec.Interrupted {
			stats = append(stats, rec.Stats)
		}
	}
	return Result{
		Stages:     records,
		Verdict:    r.opt.Decider.Decide(stats, stopReason),
		StopReason: stopReason,
		Elapsed:    time.Since(start),
	}
}
