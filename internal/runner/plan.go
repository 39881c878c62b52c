package runner

import (
	"fmt"
	"math"
	"time"

	"github.com/torosent/breakpoint/internal/config"
)

// LoadStage is one fixed-rate step of the ramp.
type LoadStage struct {
	Index            int           `json:"index" yaml:"index"`
	TargetRate       float64       `json:"target_rate" yaml:"target_rate"`
	ConcurrencyLimit int           `json:"concurrency_limit" yaml:"concurrency_limit"`
	Duration         time.Duration `json:"-" yaml:"-"`
}

// RampPolicy derives successive stages from a floor rate.
type RampPolicy struct {
	FloorRate        float64
	FloorConcurrency int
	// MaxConcurrency caps the concurrency limit; 0 leaves it uncapped.
	MaxConcurrency int
	Multiplier     float64
	// MaxIncrement caps the absolute rate step; 0 leaves it uncapped.
	MaxIncrement float64
	// MaxRateCap caps the target rate; 0 leaves it uncapped.
	MaxRateCap    float64
	StageDuration time.Duration
}

// PolicyFromConfig converts validated ramp configuration into a RampPolicy.
func PolicyFromConfig(cfg config.RampConfig) RampPolicy {
	return RampPolicy{
		FloorRate:        cfg.FloorRate,
		FloorConcurrency: cfg.FloorConcurrency,
		MaxConcurrency:   cfg.MaxConcurrency,
		Multiplier:       cfg.Multiplier,
		MaxIncrement:     cfg.MaxIncrement,
		MaxRateCap:       cfg.MaxRateCap,
		StageDuration:    cfg.StageDuration,
	}
}

func (p RampPolicy) Validate() error {
	var issues []string
	if p.FloorRate <= 0 {
		issues = append(issues, "floor rate must be > 0")
	}
	if p.FloorConcurrency <= 0 {
		issues = append(issues, "floor concurrency must be > 0")
	}
	if p.MaxConcurrency < 0 {
		issues = append(issues, "max concurrency must be >= 0")
	}
	if p.Multiplier <= 1 {
		issues = append(issues, "multiplier must be > 1")
	}
	if p.MaxIncrement < 0 {
		issues = append(issues, "max increment must be >= 0")
	}
	if p.MaxRateCap < 0 || (p.MaxRateCap > 0 && p.MaxRateCap < p.FloorRate) {
		issues = append(issues, "max rate cap must be 0 or >= floor rate")
	}
	if p.StageDuration <= 0 {
		issues = append(issues, "stage duration must be > 0")
	}
	if len(issues) > 0 {
		for i, issue := range issues {
			issues[i] = "ramp policy: " + issue
		}
		return config.NewConfigurationError(issues...)
	}
	return nil
}

// First returns stage 0 at the floor rate and concurrency.
func (p RampPolicy) First() LoadStage {
	return LoadStage{
		Index:            0,
		TargetRate:       p.FloorRate,
		ConcurrencyLimit: p.concurrencyFor(p.FloorRate),
		Duration:         p.StageDuration,
	}
}

// Next escalates prev: the rate is multiplied and floored, limited by the
// increment and rate caps, and always grows by at least one request per
// second unless the rate cap is already reached.
func (p RampPolicy) Next(prev LoadStage) LoadStage {
	next := math.Floor(prev.TargetRate * p.Multiplier)
	if p.MaxIncrement > 0 && next > prev.TargetRate+p.MaxIncrement {
		next = prev.TargetRate + p.MaxIncrement
	}
	if next < prev.TargetRate+1 {
		next = prev.TargetRate + 1
	}
	if p.MaxRateCap > 0 && next > p.MaxRateCap {
		next = p.MaxRateCap
	}
	return LoadStage{
		Index:            prev.Index + 1,
		TargetRate:       next,
		ConcurrencyLimit: p.concurrencyFor(next),
		Duration:         p.StageDuration,
	}
}

// Repeat returns a confirmation stage at the same rate and concurrency as prev.
func (p RampPolicy) Repeat(prev LoadStage) LoadStage {
	next := prev
	next.Index = prev.Index + 1
	return next
}

// AtCap reports whether stage already runs at the rate cap.
func (p RampPolicy) AtCap(stage LoadStage) bool {
	return p.MaxRateCap > 0 && stage.TargetRate >= p.MaxRateCap
}

func (p RampPolicy) concurrencyFor(rate float64) int {
	c := int(math.Ceil(float64(p.FloorConcurrency) * rate / p.FloorRate))
	if p.MaxConcurrency > 0 && c > p.MaxConcurrency {
		c = p.MaxConcurrency
	}
	if c < 1 {
		c = 1
	}
	return c
}

// plannedArrivals is the number of calls a stage is expected to issue.
func plannedArrivals(stage LoadStage) int64 {
	n := int64(math.Round(stage.TargetRate * stage.Duration.Seconds()))
	if n < 1 {
		n = 1
	}
	return n
}

func (s LoadStage) String() string {
	return fmt.Sprintf("stage %d (%.4g req/s, concurrency %d, %s)", s.Index, s.TargetRate, s.ConcurrencyLimit, s.Duration)
}
