package metrics

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/torosent/breakpoint/internal/invoker"
)

const (
	lowestTrackableMicros  = 1
	highestTrackableMicros = 60_000_000
	significantFigures     = 3

	// maxErrorKinds bounds the distinct error details kept per stage.
	maxErrorKinds = 64
	otherErrors   = "other"
)

// AggregatorConfig identifies the stage an Aggregator summarizes.
type AggregatorConfig struct {
	StageIndex int
	TargetRate float64
	// Window is the planned stage duration. Throughput is never computed
	// over a shorter interval.
	Window time.Duration
	// Start is the stage start; zero means time.Now().
	Start time.Time
}

// StageStats is the sealed summary of one stage.
type StageStats struct {
	StageIndex             int            `json:"stage_index" yaml:"stage_index"`
	TargetRate             float64        `json:"target_rate" yaml:"target_rate"`
	TotalRequests          int64          `json:"total_requests" yaml:"total_requests"`
	SuccessCount           int64          `json:"success_count" yaml:"success_count"`
	ErrorCount             int64          `json:"error_count" yaml:"error_count"`
	HTTPErrors             int64          `json:"http_errors" yaml:"http_errors"`
	NetworkErrors          int64          `json:"network_errors" yaml:"network_errors"`
	Timeouts               int64          `json:"timeouts" yaml:"timeouts"`
	MaxConsecutiveTimeouts int            `json:"max_consecutive_timeouts" yaml:"max_consecutive_timeouts"`
	ErrorRate              float64        `json:"error_rate" yaml:"error_rate"`
	ThroughputAchieved     float64        `json:"throughput_achieved" yaml:"throughput_achieved"`
	StatusCodes            map[string]int `json:"status_codes,omitempty" yaml:"status_codes,omitempty"`
	Errors                 map[string]int `json:"errors,omitempty" yaml:"errors,omitempty"`

	// ThroughputExempt marks a stage whose arrivals are too few to pace
	// reliably. The throughput ceiling is not applied to it.
	ThroughputExempt bool `json:"throughput_exempt,omitempty" yaml:"throughput_exempt,omitempty"`

	Elapsed     time.Duration `json:"-" yaml:"-"`
	MinLatency  time.Duration `json:"-" yaml:"-"`
	MaxLatency  time.Duration `json:"-" yaml:"-"`
	MeanLatency time.Duration `json:"-" yaml:"-"`
	LatencyP50  time.Duration `json:"-" yaml:"-"`
	LatencyP95  time.Duration `json:"-" yaml:"-"`
	LatencyP99  time.Duration `json:"-" yaml:"-"`

	// Millisecond mirrors of the latency fields for serialized reports.
	ElapsedMs     float64 `json:"elapsed_ms" yaml:"elapsed_ms"`
	MinLatencyMs  float64 `json:"min_latency_ms" yaml:"min_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms" yaml:"max_latency_ms"`
	MeanLatencyMs float64 `json:"mean_latency_ms" yaml:"mean_latency_ms"`
	P50LatencyMs  float64 `json:"p50_latency_ms" yaml:"p50_latency_ms"`
	P95LatencyMs  float64 `json:"p95_latency_ms" yaml:"p95_latency_ms"`
	P99LatencyMs  float64 `json:"p99_latency_ms" yaml:"p99_latency_ms"`
}

// StageAlreadySealedError is returned by Record once the stage is sealed.
type StageAlreadySealedError struct {
	StageIndex int
}

func (e *StageAlreadySealedError) Error() string {
	return fmt.Sprintf("stage %d is already sealed", e.StageIndex)
}

// Aggregator accumulates the outcomes of one stage. It is safe for
// concurrent use, though the runner feeds it from a single goroutine.
type Aggregator struct {
	cfg AggregatorConfig

	mu             sync.Mutex
	hist           *hdrhistogram.Histogram
	successes      int64
	httpErrors     int64
	networkErrors  int64
	timeouts       int64
	timeoutRun     int
	maxTimeoutRun  int
	minLatency     time.Duration
	maxLatency     time.Duration
	sumLatency     time.Duration
	lastCompletion time.Time
	statusCodes    map[string]int
	errors         map[string]int

	sealed bool
	stats  StageStats
}

func NewAggregator(cfg AggregatorConfig) *Aggregator {
	if cfg.Start.IsZero() {
		cfg.Start = time.Now()
	}
	return &Aggregator{
		cfg:         cfg,
		hist:        hdrhistogram.New(lowestTrackableMicros, highestTrackableMicros, significantFigures),
		statusCodes: make(map[string]int),
		errors:      make(map[string]int),
	}
}

// Record adds one outcome to the stage.
func (a *Aggregator) Record(out invoker.Outcome) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sealed {
		return &StageAlreadySealedError{StageIndex: a.cfg.StageIndex}
	}

	latency := out.Latency
	if latency < 0 {
		latency = 0
	}
	us := latency.Microseconds()
	if us < lowestTrackableMicros {
		us = lowestTrackableMicros
	}
	if us > highestTrackableMicros {
		us = highestTrackableMicros
	}
	_ = a.hist.RecordValue(us)

	total := a.total()
	if total == 0 || latency < a.minLatency {
		a.minLatency = latency
	}
	if latency > a.maxLatency {
		a.maxLatency = latency
	}
	a.sumLatency += latency

	if !out.IssuedAt.IsZero() {
		if done := out.IssuedAt.Add(latency); done.After(a.lastCompletion) {
			a.lastCompletion = done
		}
	}

	if out.StatusCode > 0 {
		a.statusCodes[strconv.Itoa(out.StatusCode)]++
	}

	switch out.Status {
	case invoker.StatusSuccess:
		a.successes++
	case invoker.StatusHTTPError:
		a.httpErrors++
	case invoker.StatusTimeout:
		a.timeouts++
	default:
		a.networkErrors++
	}

	if out.Status == invoker.StatusTimeout {
		a.timeoutRun++
		if a.timeoutRun > a.maxTimeoutRun {
			a.maxTimeoutRun = a.timeoutRun
		}
	} else {
		a.timeoutRun = 0
	}

	if out.Status != invoker.StatusSuccess {
		a.recordError(errorKey(out))
	}
	return nil
}

func (a *Aggregator) total() int64 {
	return a.successes + a.httpErrors + a.networkErrors + a.timeouts
}

func (a *Aggregator) recordError(key string) {
	if _, ok := a.errors[key]; !ok && len(a.errors) >= maxErrorKinds {
		key = otherErrors
	}
	a.errors[key]++
}

func errorKey(out invoker.Outcome) string {
	switch out.Status {
	case invoker.StatusHTTPError:
		if out.StatusCode > 0 {
			return "HTTP " + strconv.Itoa(out.StatusCode)
		}
		return string(out.Status)
	case invoker.StatusTimeout:
		return string(out.Status)
	}
	if out.ErrorDetail != "" {
		return out.ErrorDetail
	}
	return string(out.Status)
}

// Seal freezes the stage and returns its statistics. Later calls return the
// same statistics.
func (a *Aggregator) Seal() (StageStats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sealed {
		return a.stats, nil
	}
	a.sealed = true
	a.stats = a.compute(time.Now())
	return a.stats, nil
}

// Sealed reports whether Seal has been called.
func (a *Aggregator) Sealed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sealed
}

func (a *Aggregator) compute(sealedAt time.Time) StageStats {
	total := a.total()
	errs := total - a.successes
	stats := StageStats{
		StageIndex:             a.cfg.StageIndex,
		TargetRate:             a.cfg.TargetRate,
		TotalRequests:          total,
		SuccessCount:           a.successes,
		ErrorCount:             errs,
		HTTPErrors:             a.httpErrors,
		NetworkErrors:          a.networkErrors,
		Timeouts:               a.timeouts,
		MaxConsecutiveTimeouts: a.maxTimeoutRun,
		MinLatency:             a.minLatency,
		MaxLatency:             a.maxLatency,
	}

	if total > 0 {
		stats.ErrorRate = float64(errs) / float64(total)
		stats.MeanLatency = time.Duration(int64(a.sumLatency) / total)
		stats.LatencyP50 = time.Duration(a.hist.ValueAtQuantile(50)) * time.Microsecond
		stats.LatencyP95 = time.Duration(a.hist.ValueAtQuantile(95)) * time.Microsecond
		stats.LatencyP99 = time.Duration(a.hist.ValueAtQuantile(99)) * time.Microsecond
	}

	elapsed := a.cfg.Window
	if !a.lastCompletion.IsZero() {
		if observed := a.lastCompletion.Sub(a.cfg.Start); observed > elapsed {
			elapsed = observed
		}
	} else if elapsed <= 0 {
		elapsed = sealedAt.Sub(a.cfg.Start)
	}
	stats.Elapsed = elapsed
	if elapsed > 0 {
		stats.ThroughputAchieved = float64(a.successes) / elapsed.Seconds()
	}

	if len(a.statusCodes) > 0 {
		stats.StatusCodes = make(map[string]int, len(a.statusCodes))
		for k, v := range a.statusCodes {
			stats.StatusCodes[k] = v
		}
	}
	if len(a.errors) > 0 {
		stats.Errors = make(map[string]int, len(a.errors))
		for k, v := range a.errors {
			stats.Errors[k] = v
		}
	}

	stats.ElapsedMs = durationMs(stats.Elapsed)
	stats.MinLatencyMs = durationMs(stats.MinLatency)
	stats.MaxLatencyMs = durationMs(stats.MaxLatency)
	stats.MeanLatencyMs = durationMs(stats.MeanLatency)
	stats.P50LatencyMs = durationMs(stats.LatencyP50)
	stats.P95LatencyMs = durationMs(stats.LatencyP95)
	stats.P99LatencyMs = durationMs(stats.LatencyP99)
	return stats
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
