// Package report assembles the stages and verdict of a run into a single
// serializable record.
package report

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/torosent/breakpoint/internal/decider"
	"github.com/torosent/breakpoint/internal/metrics"
	"github.com/torosent/breakpoint/internal/runner"
)

// Target identifies the service under test.
type Target struct {
	Method string `json:"method" yaml:"method"`
	URL    string `json:"url" yaml:"url"`
}

// StageReport is one executed stage.
type StageReport struct {
	Stage        runner.LoadStage   `json:"stage" yaml:"stage"`
	DurationMs   float64            `json:"duration_ms" yaml:"duration_ms"`
	Stats        metrics.StageStats `json:"stats" yaml:"stats"`
	Assessment   decider.Assessment `json:"assessment" yaml:"assessment"`
	Planned      int64              `json:"planned" yaml:"planned"`
	Issued       int64              `json:"issued" yaml:"issued"`
	Orphaned     int64              `json:"orphaned" yaml:"orphaned"`
	PeakInFlight int64              `json:"peak_in_flight" yaml:"peak_in_flight"`
	Interrupted  bool               `json:"interrupted,omitempty" yaml:"interrupted,omitempty"`
}

// RunReport is the complete result of one run.
type RunReport struct {
	RunID      string          `json:"run_id" yaml:"run_id"`
	StartedAt  time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time       `json:"finished_at" yaml:"finished_at"`
	Target     Target          `json:"target" yaml:"target"`
	Stages     []StageReport   `json:"stages" yaml:"stages"`
	Verdict    decider.Verdict `json:"verdict" yaml:"verdict"`
}

// Builder collects the pieces of a RunReport. It fills in nothing on its own.
type Builder struct {
	runID      string
	startedAt  time.Time
	finishedAt time.Time
	target     Target
	stages     []StageReport
	verdict    *decider.Verdict
}

func NewBuilder(runID string, target Target) *Builder {
	return &Builder{runID: runID, target: target}
}

// SetTimes records when the run started and finished.
func (b *Builder) SetTimes(started, finished time.Time) *Builder {
	b.startedAt = started
	b.finishedAt = finished
	return b
}

// AddStage appends the next executed stage.
func (b *Builder) AddStage(rec runner.StageRecord) *Builder {
	rec.Stats.StatusCodes = maps.Clone(rec.Stats.StatusCodes)
	rec.Stats.Errors = maps.Clone(rec.Stats.Errors)
	b.stages = append(b.stages, StageReport{
		Stage:        rec.Stage,
		DurationMs:   float64(rec.Stage.Duration) / float64(time.Millisecond),
		Stats:        rec.Stats,
		Assessment:   rec.Assessment,
		Planned:      rec.Planned,
		Issued:       rec.Issued,
		Orphaned:     rec.Orphaned,
		PeakInFlight: rec.PeakInFlight,
		Interrupted:  rec.Interrupted,
	})
	return b
}

func (b *Builder) SetVerdict(v decider.Verdict) *Builder {
	v = cloneVerdict(v)
	b.verdict = &v
	return b
}

// FromResult adds every stage and the verdict of a runner result.
func (b *Builder) FromResult(res runner.Result) *Builder {
	for _, rec := range res.Stages {
		b.AddStage(rec)
	}
	return b.SetVerdict(res.Verdict)
}

// Build returns the report. Stage indices must run 0, 1, 2, ... and a
// verdict must be set. The report shares no maps or pointers with the
// builder or the records it was given.
func (b *Builder) Build() (RunReport, error) {
	if b.verdict == nil {
		return RunReport{}, errors.New("report: verdict is not set")
	}
	for i, s := range b.stages {
		if s.Stage.Index != i {
			return RunReport{}, fmt.Errorf("report: stage at position %d has index %d", i, s.Stage.Index)
		}
	}
	stages := make([]StageReport, len(b.stages))
	for i, s := range b.stages {
		s.Stats.StatusCodes = maps.Clone(s.Stats.StatusCodes)
		s.Stats.Errors = maps.Clone(s.Stats.Errors)
		stages[i] = s
	}
	return RunReport{
		RunID:      b.runID,
		StartedAt:  b.startedAt,
		FinishedAt: b.finishedAt,
		Target:     b.target,
		Stages:     stages,
		Verdict:    cloneVerdict(*b.verdict),
	}, nil
}

func cloneVerdict(v decider.Verdict) decider.Verdict {
	v.FirstDegradedStage = clonePtr(v.FirstDegradedStage)
	v.FirstFailedStage = clonePtr(v.FirstFailedStage)
	v.TargetMet = clonePtr(v.TargetMet)
	return v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
