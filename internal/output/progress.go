package output

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/torosent/breakpoint/internal/invoker"
	"github.com/torosent/breakpoint/internal/runner"
)

// ProgressReporter prints a live line for the running stage and a summary
// line when each stage completes. It implements runner.Observer.
type ProgressReporter struct {
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	active   int32

	mu         sync.Mutex
	writer     io.Writer
	stage      runner.LoadStage
	stageStart time.Time

	total    atomic.Int64
	failures atomic.Int64
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
	}
}

func (p *ProgressReporter) StageStarted(stage runner.LoadStage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage = stage
	p.stageStart = time.Now()
	p.total.Store(0)
	p.failures.Store(0)
}

func (p *ProgressReporter) OutcomeRecorded(_ runner.LoadStage, out invoker.Outcome) {
	p.total.Add(1)
	if !out.Success() {
		p.failures.Add(1)
	}
}

func (p *ProgressReporter) StageCompleted(rec runner.StageRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := string(rec.Assessment.Classification)
	if rec.Interrupted {
		result = "interrupted"
	}
	line := fmt.Sprintf("\rStage %d @ %.1f req/s: %d requests | errors %.1f%% | P95 %.1fms | %s",
		rec.Stage.Index, rec.Stage.TargetRate, rec.Stats.TotalRequests,
		rec.Stats.ErrorRate*100, rec.Stats.P95LatencyMs, result)
	if rec.Assessment.Reason != "" {
		line += " (" + rec.Assessment.Reason + ")"
	}
	fmt.Fprintln(p.writer, line)
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			p.mu.Lock()
			if !p.stageStart.IsZero() {
				elapsed := time.Since(p.stageStart)
				total := p.total.Load()
				rps := 0.0
				if elapsed > 0 {
					rps = float64(total) / elapsed.Seconds()
				}
				fmt.Fprintf(p.writer, "\rStage %d @ %.1f req/s | Requests: %d | Failures: %d | RPS: %.1f",
					p.stage.Index, p.stage.TargetRate, total, p.failures.Load(), rps)
			}
			p.mu.Unlock()
		case <-p.done:
			return
		}
	}
}
