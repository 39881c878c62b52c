// Package decider classifies sealed stage statistics against error-rate,
// latency and throughput ceilings, and derives the run's breaking-point
// verdict from the sequence of classifications.
package decider

import (
	"math"
	"time"

	"github.com/torosent/breakpoint/internal/config"
	"github.com/torosent/breakpoint/internal/metrics"
)

// Classification is the health of one stage.
type Classification string

const (
	Sustainable Classification = "sustainable"
	Degraded    Classification = "degraded"
	Failed      Classification = "failed"
)

const (
	ReasonHardErrorRate       = "error_rate exceeded hard ceiling"
	ReasonHardLatency         = "p99 latency exceeded hard ceiling"
	ReasonConsecutiveTimeouts = "consecutive timeouts exceeded limit"
	ReasonSoftErrorRate       = "error_rate exceeded soft ceiling"
	ReasonSoftLatency         = "p95 latency exceeded soft ceiling"
	ReasonLowThroughput       = "throughput below target ratio"
)

const epsilon = 1e-9

// Thresholds are the ceilings a stage is held to. A zero latency ceiling,
// throughput ratio or timeout limit disables that check.
type Thresholds struct {
	SoftErrorRate          float64
	HardErrorRate          float64
	SoftLatencyP95         time.Duration
	HardLatencyP99         time.Duration
	MinThroughputRatio     float64
	MaxConsecutiveTimeouts int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		SoftErrorRate:      0.05,
		HardErrorRate:      0.50,
		SoftLatencyP95:     2 * time.Second,
		HardLatencyP99:     10 * time.Second,
		MinThroughputRatio: 0.9,
	}
}

// FromConfig converts validated configuration into Thresholds.
func FromConfig(cfg config.ThresholdConfig) Thresholds {
	return Thresholds{
		SoftErrorRate:          cfg.SoftErrorRate,
		HardErrorRate:          cfg.HardErrorRate,
		SoftLatencyP95:         cfg.SoftLatency,
		HardLatencyP99:         cfg.HardLatency,
		MinThroughputRatio:     cfg.MinThroughputRatio,
		MaxConsecutiveTimeouts: cfg.MaxConsecutiveTimeouts,
	}
}

// Assessment is the classification of one stage.
type Assessment struct {
	StageIndex     int            `json:"stage_index" yaml:"stage_index"`
	TargetRate     float64        `json:"target_rate" yaml:"target_rate"`
	Classification Classification `json:"classification" yaml:"classification"`
	Reason         string         `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Verdict summarizes where the target stopped being sustainable.
type Verdict struct {
	SustainableRate    float64 `json:"sustainable_rate" yaml:"sustainable_rate"`
	FirstDegradedStage *int    `json:"first_degraded_stage" yaml:"first_degraded_stage"`
	FirstFailedStage   *int    `json:"first_failed_stage" yaml:"first_failed_stage"`
	Reason             string  `json:"reason" yaml:"reason"`
	StopReason         string  `json:"stop_reason" yaml:"stop_reason"`

	// Set only when a target rate is configured.
	TargetRate          float64 `json:"target_rate,omitempty" yaml:"target_rate,omitempty"`
	TargetMet           *bool   `json:"target_met,omitempty" yaml:"target_met,omitempty"`
	SafetyMarginPercent float64 `json:"safety_margin_percent,omitempty" yaml:"safety_margin_percent,omitempty"`
}

// rule is one ceiling check. Rules are evaluated in order and the first that
// trips decides the classification and reason.
type rule struct {
	class  Classification
	reason string
	trips  func(t Thresholds, s metrics.StageStats) bool
}

var rules = []rule{
	{Failed, ReasonHardErrorRate, func(t Thresholds, s metrics.StageStats) bool {
		return exceeds(s.ErrorRate, t.HardErrorRate)
	}},
	{Failed, ReasonHardLatency, func(t Thresholds, s metrics.StageStats) bool {
		return t.HardLatencyP99 > 0 && s.LatencyP99 > t.HardLatencyP99
	}},
	{Failed, ReasonConsecutiveTimeouts, func(t Thresholds, s metrics.StageStats) bool {
		return t.MaxConsecutiveTimeouts > 0 && s.MaxConsecutiveTimeouts > t.MaxConsecutiveTimeouts
	}},
	{Degraded, ReasonSoftErrorRate, func(t Thresholds, s metrics.StageStats) bool {
		return exceeds(s.ErrorRate, t.SoftErrorRate)
	}},
	{Degraded, ReasonSoftLatency, func(t Thresholds, s metrics.StageStats) bool {
		return t.SoftLatencyP95 > 0 && s.LatencyP95 > t.SoftLatencyP95
	}},
	{Degraded, ReasonLowThroughput, func(t Thresholds, s metrics.StageStats) bool {
		if t.MinThroughputRatio <= 0 || s.TargetRate <= 0 || s.ThroughputExempt {
			return false
		}
		return exceeds(t.MinThroughputRatio*s.TargetRate, s.ThroughputAchieved)
	}},
}

// exceeds reports actual > limit, treating values within epsilon as equal.
func exceeds(actual, limit float64) bool {
	return actual > limit && math.Abs(actual-limit) >= epsilon
}

// Decider applies a fixed set of Thresholds.
type Decider struct {
	thresholds Thresholds
	targetRate float64
}

func New(t Thresholds) *Decider {
	return &Decider{thresholds: t}
}

// WithTargetRate returns a copy of d whose verdicts report whether rate is
// sustainable. A rate of zero leaves the target fields unset.
func (d *Decider) WithTargetRate(rate float64) *Decider {
	cp := *d
	cp.targetRate = rate
	return &cp
}

// Thresholds returns the ceilings in use.
func (d *Decider) Thresholds() Thresholds { return d.thresholds }

// Classify assesses one sealed stage.
func (d *Decider) Classify(stats metrics.StageStats) Assessment {
	a := Assessment{
		StageIndex:     stats.StageIndex,
		TargetRate:     stats.TargetRate,
		Classification: Sustainable,
	}
	for _, r := range rules {
		if r.trips(d.thresholds, stats) {
			a.Classification = r.class
			a.Reason = r.reason
			break
		}
	}
	return a
}

// Decide derives the verdict from stages in execution order. It has no side
// effects; the same input always yields the same verdict.
func (d *Decider) Decide(stages []metrics.StageStats, stopReason string) Verdict {
	v := Verdict{StopReason: stopReason}
	for _, s := range stages {
		a := d.Classify(s)
		switch a.Classification {
		case Sustainable:
			v.SustainableRate = s.TargetRate
		case Degraded:
			if v.FirstDegradedStage == nil {
				v.FirstDegradedStage = intPtr(s.StageIndex)
			}
		case Failed:
			if v.FirstFailedStage == nil {
				v.FirstFailedStage = intPtr(s.StageIndex)
			}
		}
		if a.Classification != Sustainable && v.Reason == "" {
			v.Reason = a.Reason
		}
	}
	if v.Reason == "" {
		v.Reason = stopReason
	}

	if target := d.targetRate; target > 0 {
		met := v.SustainableRate >= target
		v.TargetRate = target
		v.TargetMet = &met
		v.SafetyMarginPercent = (v.SustainableRate - target) / target * 100
	}
	return v
}

func intPtr(v int) *int { return &v }
