package report_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/torosent/breakpoint/internal/decider"
	"github.com/torosent/breakpoint/internal/metrics"
	"github.com/torosent/breakpoint/internal/report"
	"github.com/torosent/breakpoint/internal/runner"
)

func record(index int, rate float64) runner.StageRecord {
	return runner.StageRecord{
		StageResult: runner.StageResult{
			Stage: runner.LoadStage{Index: index, TargetRate: rate, ConcurrencyLimit: int(rate), Duration: 2 * time.Second},
			Stats: metrics.StageStats{
				StageIndex:    index,
				TargetRate:    rate,
				TotalRequests: 40,
				SuccessCount:  40,
				LatencyP95:    30 * time.Millisecond,
				P95LatencyMs:  30,
			},
			Planned: 40,
			Issued:  40,
		},
		Assessment: decider.Assessment{StageIndex: index, TargetRate: rate, Classification: decider.Sustainable},
	}
}

func TestBuildRequiresVerdict(t *testing.T) {
	_, err := report.NewBuilder("run", report.Target{}).AddStage(record(0, 10)).Build()
	if err == nil {
		t.Fatal("Build() without verdict succeeded")
	}
}

func TestBuildRejectsNonContiguousStages(t *testing.T) {
	tests := []struct {
		name    string
		indices []int
	}{
		{"gap", []int{0, 2}},
		{"not starting at zero", []int{1, 2}},
		{"duplicate", []int{0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := report.NewBuilder("run", report.Target{}).SetVerdict(decider.Verdict{})
			for _, i := range tt.indices {
				b.AddStage(record(i, 10))
			}
			if _, err := b.Build(); err == nil {
				t.Fatal("Build() accepted non-contiguous stages")
			}
		})
	}
}

func TestBuildFromResult(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	res := runner.Result{
		Stages:     []runner.StageRecord{record(0, 10), record(1, 15)},
		Verdict:    decider.Verdict{SustainableRate: 15, Reason: "max stages reached", StopReason: "max stages reached"},
		StopReason: "max stages reached",
	}
	rpt, err := report.NewBuilder("01HZX", report.Target{Method: "GET", URL: "http://svc/health"}).
		SetTimes(started, started.Add(4*time.Second)).
		FromResult(res).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	want := report.RunReport{
		RunID:      "01HZX",
		StartedAt:  started,
		FinishedAt: started.Add(4 * time.Second),
		Target:     report.Target{Method: "GET", URL: "http://svc/health"},
		Verdict:    res.Verdict,
	}
	for _, rec := range res.Stages {
		want.Stages = append(want.Stages, report.StageReport{
			Stage:        rec.Stage,
			DurationMs:   2000,
			Stats:        rec.Stats,
			Assessment:   rec.Assessment,
			Planned:      40,
			Issued:       40,
			PeakInFlight: 0,
		})
	}
	if diff := cmp.Diff(want, rpt); diff != "" {
		t.Errorf("Build() mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildReturnsIndependentCopies(t *testing.T) {
	b := report.NewBuilder("run", report.Target{}).AddStage(record(0, 10)).SetVerdict(decider.Verdict{})
	first, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	b.AddStage(record(1, 15))
	if len(first.Stages) != 1 {
		t.Fatalf("earlier report changed after AddStage: %d stages", len(first.Stages))
	}
}

func TestBuildDoesNotShareMapsOrPointers(t *testing.T) {
	rec := record(0, 10)
	rec.Stats.StatusCodes = map[string]int{"200": 38, "503": 2}
	rec.Stats.Errors = map[string]int{"HTTP 503": 2}
	degraded, failed, met := 0, 1, true
	b := report.NewBuilder("run", report.Target{}).AddStage(rec).SetVerdict(decider.Verdict{
		FirstDegradedStage: &degraded,
		FirstFailedStage:   &failed,
		TargetMet:          &met,
	})
	rpt, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	rec.Stats.StatusCodes["200"] = 0
	rec.Stats.Errors["timeout"] = 7
	degraded, failed, met = 5, 6, false
	rpt.Stages[0].Stats.StatusCodes["503"] = 99
	*rpt.Verdict.FirstDegradedStage = 9

	if got := rpt.Stages[0].Stats.StatusCodes["200"]; got != 38 {
		t.Errorf("StatusCodes[200] = %d, want 38", got)
	}
	if _, ok := rpt.Stages[0].Stats.Errors["timeout"]; ok {
		t.Error("Errors picked up a key added to the source record")
	}
	if *rpt.Verdict.FirstFailedStage != 1 || !*rpt.Verdict.TargetMet {
		t.Errorf("verdict pointers followed the source: failed=%d met=%v", *rpt.Verdict.FirstFailedStage, *rpt.Verdict.TargetMet)
	}

	again, err := b.Build()
	if err != nil {
		t.Fatalf("second Build() error = %v", err)
	}
	if got := again.Stages[0].Stats.StatusCodes["503"]; got != 2 {
		t.Errorf("second report StatusCodes[503] = %d, want 2", got)
	}
	if got := *again.Verdict.FirstDegradedStage; got != 0 {
		t.Errorf("second report FirstDegradedStage = %d, want 0", got)
	}
}

func TestReportSerialization(t *testing.T) {
	degraded := 1
	rpt, err := report.NewBuilder("run", report.Target{Method: "POST", URL: "http://svc/orders"}).
		AddStage(record(0, 10)).
		SetVerdict(decider.Verdict{SustainableRate: 10, FirstDegradedStage: &degraded, Reason: decider.ReasonSoftLatency}).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	data, err := json.Marshal(rpt)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	for _, key := range []string{`"run_id":"run"`, `"sustainable_rate":10`, `"first_degraded_stage":1`, `"p95_latency_ms":30`, `"duration_ms":2000`, `"classification":"sustainable"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("JSON missing %s: %s", key, data)
		}
	}
	if strings.Contains(string(data), "LatencyP95") {
		t.Errorf("JSON leaked raw duration fields: %s", data)
	}

	out, err := yaml.Marshal(rpt)
	if err != nil {
		t.Fatalf("yaml.Marshal() error = %v", err)
	}
	for _, key := range []string{"run_id: run", "sustainable_rate: 10", "target_rate: 10", "method: POST"} {
		if !strings.Contains(string(out), key) {
			t.Errorf("YAML missing %q:\n%s", key, out)
		}
	}
}
