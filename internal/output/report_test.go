package output

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/breakpoint/internal/config"
	"github.com/torosent/breakpoint/internal/decider"
	"github.com/torosent/breakpoint/internal/metrics"
	"github.com/torosent/breakpoint/internal/report"
	"github.com/torosent/breakpoint/internal/runner"
)

func sampleReport() report.RunReport {
	degraded := 1
	met := true
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return report.RunReport{
		RunID:      "01HZX",
		StartedAt:  started,
		FinishedAt: started.Add(20 * time.Second),
		Target:     report.Target{Method: "GET", URL: "http://svc.local/orders"},
		Stages: []report.StageReport{
			{
				Stage: runner.LoadStage{Index: 0, TargetRate: 10, ConcurrencyLimit: 2},
				Stats: metrics.StageStats{
					TotalRequests: 100, SuccessCount: 100, ThroughputAchieved: 10,
					P50LatencyMs: 12, P95LatencyMs: 30, P99LatencyMs: 45,
					StatusCodes: map[string]int{"200": 100},
				},
				Assessment: decider.Assessment{Classification: decider.Sustainable},
			},
			{
				Stage: runner.LoadStage{Index: 1, TargetRate: 15, ConcurrencyLimit: 3},
				Stats: metrics.StageStats{
					StageIndex: 1, TotalRequests: 150, SuccessCount: 138, ErrorCount: 12,
					ErrorRate: 0.08, ThroughputAchieved: 13.8,
					StatusCodes: map[string]int{"200": 138, "503": 12},
					Errors:      map[string]int{"HTTP 503": 12},
				},
				Assessment: decider.Assessment{StageIndex: 1, Classification: decider.Degraded, Reason: decider.ReasonSoftErrorRate},
				Orphaned:   2,
			},
		},
		Verdict: decider.Verdict{
			SustainableRate:     10,
			FirstDegradedStage:  &degraded,
			Reason:              decider.ReasonSoftErrorRate,
			StopReason:          "degradation confirmed",
			TargetRate:          8,
			TargetMet:           &met,
			SafetyMarginPercent: 25,
		},
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, sampleReport())
	out := buf.String()

	for _, want := range []string{
		"Breaking Point Results",
		"GET http://svc.local/orders",
		"Duration:          20s",
		"Stages:            2",
		"degraded",
		"reason: " + decider.ReasonSoftErrorRate,
		"orphaned: 2",
		"Status Codes:",
		"HTTP 503",
		"Sustainable Rate:  10.00 req/s",
		"First Degraded:    stage 1",
		"Stopped:           degradation confirmed",
		"met: YES, margin +25.0%",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in report:\n%s", want, out)
		}
	}
	if strings.Contains(out, "First Failed") {
		t.Error("unexpected first failed stage line")
	}
	if strings.Index(out, "200") > strings.Index(out, "503") {
		t.Error("status codes should be ordered by count")
	}
}

func TestPrintReportEmptyRun(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, report.RunReport{Verdict: decider.Verdict{Reason: "run canceled", StopReason: "run canceled"}})
	out := buf.String()
	if !strings.Contains(out, "Sustainable Rate:  0.00 req/s") {
		t.Errorf("expected zero sustainable rate, got:\n%s", out)
	}
	if strings.Contains(out, "Stage  Rate") {
		t.Error("stage table printed for an empty run")
	}
}

func TestPrintJSONReport(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintJSONReport(&buf, sampleReport()); err != nil {
		t.Fatalf("PrintJSONReport() error = %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	verdict, ok := decoded["verdict"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing verdict: %v", decoded)
	}
	if verdict["sustainable_rate"] != float64(10) {
		t.Errorf("sustainable_rate = %v", verdict["sustainable_rate"])
	}
	if stages, _ := decoded["stages"].([]interface{}); len(stages) != 2 {
		t.Errorf("stages = %d, want 2", len(stages))
	}
}

func TestPrintYAMLReport(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintYAMLReport(&buf, sampleReport()); err != nil {
		t.Fatalf("PrintYAMLReport() error = %v", err)
	}
	var decoded struct {
		RunID   string `yaml:"run_id"`
		Verdict struct {
			StopReason string `yaml:"stop_reason"`
		} `yaml:"verdict"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid YAML: %v", err)
	}
	if decoded.RunID != "01HZX" || decoded.Verdict.StopReason != "degradation confirmed" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteUnsupportedFormat(t *testing.T) {
	if err := Write(&bytes.Buffer{}, config.OutputFormat("html"), sampleReport()); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWriteReportFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "run.json")
	if err := WriteReportFile(path, config.OutputFormatJSON, sampleReport()); err != nil {
		t.Fatalf("WriteReportFile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !json.Valid(data) {
		t.Errorf("report file is not valid JSON: %s", data)
	}
	if _, err := os.Stat(path + ".lock"); err != nil {
		t.Errorf("expected lock file: %v", err)
	}
}
