package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/breakpoint/internal/invoker"
	"github.com/torosent/breakpoint/internal/metrics"
	"github.com/torosent/breakpoint/internal/placeholders"
	"github.com/torosent/breakpoint/internal/tracing"
)

// StageResult is the sealed outcome of one stage.
type StageResult struct {
	Stage LoadStage
	Stats metrics.StageStats
	// Planned is the number of calls the stage rate and duration call for;
	// Issued is how many were admitted before the window closed.
	Planned int64
	Issued  int64
	// Orphaned counts outcomes that completed after the stage was sealed.
	Orphaned     int64
	PeakInFlight int64
	// Interrupted is set when the run was canceled while the stage ran.
	Interrupted bool
}

// envelope carries either an outcome or a seal request to the stage consumer.
type envelope struct {
	outcome invoker.Outcome
	seal    chan<- sealReply
}

type sealReply struct {
	stats metrics.StageStats
	err   error
}

// stageExecutor runs stages against a real Invoker.
type stageExecutor struct {
	opt Options
}

func (e *stageExecutor) notifyOutcome(stage LoadStage, out invoker.Outcome) {
	for _, o := range e.opt.Observers {
		o.OutcomeRecorded(stage, out)
	}
}

// Execute issues calls at the stage rate for the stage duration, waits up to
// the drain timeout for in-flight calls, seals the aggregator and then
// cancels whatever is still running. Outcomes that arrive after the seal are
// counted as orphans.
func (e *stageExecutor) Execute(ctx context.Context, stage LoadStage) (StageResult, error) {
	res := StageResult{Stage: stage, Planned: plannedArrivals(stage)}
	start := time.Now()

	ctx, span := tracing.StartStageSpan(ctx, e.opt.Tracer, stage.Index, stage.TargetRate, stage.ConcurrencyLimit)
	agg := metrics.NewAggregator(metrics.AggregatorConfig{
		StageIndex: stage.Index,
		TargetRate: stage.TargetRate,
		Window:     stage.Duration,
		Start:      start,
	})

	outcomes := make(chan envelope, stage.ConcurrencyLimit)
	consumerDone := make(chan struct{})
	var (
		orphaned  int64
		recordErr error
	)
	go func() {
		defer close(consumerDone)
		sealed := false
		for env := range outcomes {
			if env.seal != nil {
				stats, err := agg.Seal()
				sealed = true
				env.seal <- sealReply{stats: stats, err: err}
				continue
			}
			if sealed {
				orphaned++
				continue
			}
			if err := agg.Record(env.outcome); err != nil {
				if recordErr == nil {
					recordErr = err
				}
				continue
			}
			e.notifyOutcome(stage, env.outcome)
		}
	}()

	// Calls run under their own context so they survive the end of the
	// window and are only cut off once the stage is sealed or the run stops.
	callCtx, cancelCalls := context.WithCancel(placeholders.WithStage(ctx, stage.Index))
	defer cancelCalls()

	windowCtx, cancelWindow := context.WithTimeout(ctx, stage.Duration)
	defer cancelWindow()

	g := newGate(stage.ConcurrencyLimit)
	arrival := newArrivalController(e.opt, stage.TargetRate)
	var inFlight errgroup.Group

	for res.Issued < res.Planned {
		if err := arrival.Wait(windowCtx); err != nil {
			break
		}
		if err := g.Acquire(windowCtx); err != nil {
			break
		}
		res.Issued++
		inFlight.Go(func() error {
			out := e.opt.Invoker.Invoke(callCtx)
			g.Release()
			outcomes <- envelope{outcome: out}
			return nil
		})
	}
	<-windowCtx.Done()

	drained := make(chan struct{})
	go func() {
		_ = inFlight.Wait()
		close(drained)
	}()

	if ctx.Err() != nil {
		res.Interrupted = true
		cancelCalls()
	}
	drainTimer := time.NewTimer(e.opt.DrainTimeout)
	select {
	case <-drained:
	case <-drainTimer.C:
	case <-ctx.Done():
		res.Interrupted = true
		cancelCalls()
		select {
		case <-drained:
		case <-drainTimer.C:
		}
	}
	drainTimer.Stop()

	reply := make(chan sealReply, 1)
	outcomes <- envelope{seal: reply}
	sealed := <-reply

	cancelCalls()
	<-drained
	close(outcomes)
	<-consumerDone

	res.Stats = sealed.stats
	res.Stats.ThroughputExempt = throughputExempt(e.opt.ArrivalModel, res.Planned)
	res.Orphaned = orphaned
	res.PeakInFlight = g.Peak()

	err := sealed.err
	if recordErr != nil {
		err = recordErr
	}
	tracing.EndSpan(span, err,
		attribute.Int64("breakpoint.stage.issued", res.Issued),
		attribute.Int64("breakpoint.stage.orphaned", res.Orphaned),
		attribute.Bool("breakpoint.stage.interrupted", res.Interrupted),
	)
	if err != nil {
		var sealedErr *metrics.StageAlreadySealedError
		if errors.As(err, &sealedErr) {
			return res, err
		}
		return res, fmt.Errorf("aggregate stage %d: %w", stage.Index, err)
	}

	e.opt.Logger.Debug("stage executed",
		zap.Int("stage", stage.Index),
		zap.Int64("planned", res.Planned),
		zap.Int64("issued", res.Issued),
		zap.Int64("orphaned", res.Orphaned),
		zap.Int64("peak_in_flight", res.PeakInFlight),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}
