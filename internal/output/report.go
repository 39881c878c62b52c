package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/torosent/breakpoint/internal/config"
	"github.com/torosent/breakpoint/internal/metrics"
	"github.com/torosent/breakpoint/internal/report"
)

// PrintReport writes a human-readable summary of a run.
func PrintReport(w io.Writer, rpt report.RunReport) {
	fmt.Fprintln(w, "\n--- Breaking Point Results ---")
	fmt.Fprintf(w, "Run ID:            %s\n", rpt.RunID)
	fmt.Fprintf(w, "Target:            %s %s\n", rpt.Target.Method, rpt.Target.URL)
	if !rpt.StartedAt.IsZero() && !rpt.FinishedAt.IsZero() {
		fmt.Fprintf(w, "Duration:          %s\n", rpt.FinishedAt.Sub(rpt.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintf(w, "Stages:            %d\n", len(rpt.Stages))

	if len(rpt.Stages) > 0 {
		fmt.Fprintln(w, "\nStage  Rate      Conc   Total    Errors   P50(ms)   P95(ms)   P99(ms)   Thru/s    Result")
		for _, s := range rpt.Stages {
			result := string(s.Assessment.Classification)
			if s.Interrupted {
				result = "interrupted"
			}
			fmt.Fprintf(w, "%-6d %-9.1f %-6d %-8d %-8s %-9.2f %-9.2f %-9.2f %-9.1f %s\n",
				s.Stage.Index,
				s.Stage.TargetRate,
				s.Stage.ConcurrencyLimit,
				s.Stats.TotalRequests,
				fmt.Sprintf("%.1f%%", s.Stats.ErrorRate*100),
				s.Stats.P50LatencyMs,
				s.Stats.P95LatencyMs,
				s.Stats.P99LatencyMs,
				s.Stats.ThroughputAchieved,
				result,
			)
			if s.Assessment.Reason != "" {
				fmt.Fprintf(w, "       reason: %s\n", s.Assessment.Reason)
			}
			if s.Orphaned > 0 {
				fmt.Fprintf(w, "       orphaned: %d\n", s.Orphaned)
			}
		}
	}

	statuses := map[string]int{}
	errs := map[string]int{}
	for _, s := range rpt.Stages {
		for k, v := range s.Stats.StatusCodes {
			statuses[k] += v
		}
		for k, v := range s.Stats.Errors {
			errs[k] += v
		}
	}
	writeBuckets(w, "Status Codes", metrics.FlattenCounts(statuses))
	writeBuckets(w, "Errors", metrics.FlattenCounts(errs))

	v := rpt.Verdict
	fmt.Fprintln(w, "\nVerdict:")
	fmt.Fprintf(w, "  Sustainable Rate:  %.2f req/s\n", v.SustainableRate)
	if v.FirstDegradedStage != nil {
		fmt.Fprintf(w, "  First Degraded:    stage %d\n", *v.FirstDegradedStage)
	}
	if v.FirstFailedStage != nil {
		fmt.Fprintf(w, "  First Failed:      stage %d\n", *v.FirstFailedStage)
	}
	fmt.Fprintf(w, "  Reason:            %s\n", v.Reason)
	fmt.Fprintf(w, "  Stopped:           %s\n", v.StopReason)
	if v.TargetMet != nil {
		met := "NO"
		if *v.TargetMet {
			met = "YES"
		}
		fmt.Fprintf(w, "  Target Rate:       %.2f req/s (met: %s, margin %+.1f%%)\n", v.TargetRate, met, v.SafetyMarginPercent)
	}
	fmt.Fprintln(w, "------------------------------")
}

func writeBuckets(w io.Writer, title string, rows []metrics.Bucket) {
	if len(rows) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, row := range rows {
		fmt.Fprintf(w, "  %-40s %d\n", row.Key, row.Count)
	}
}

// PrintJSONReport writes the report as indented JSON.
func PrintJSONReport(w io.Writer, rpt report.RunReport) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rpt)
}

// PrintYAMLReport writes the report as YAML.
func PrintYAMLReport(w io.Writer, rpt report.RunReport) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(rpt); err != nil {
		return err
	}
	return encoder.Close()
}

// Write renders rpt in the given format. An empty format means text.
func Write(w io.Writer, format config.OutputFormat, rpt report.RunReport) error {
	switch format {
	case "", config.OutputFormatText:
		PrintReport(w, rpt)
		return nil
	case config.OutputFormatJSON:
		return PrintJSONReport(w, rpt)
	case config.OutputFormatYAML:
		return PrintYAMLReport(w, rpt)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// WriteReportFile writes rpt to path while holding an advisory lock on
// path+".lock".
func WriteReportFile(path string, format config.OutputFormat, rpt report.RunReport) (err error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock report file: %w", err)
	}
	defer func() {
		if uerr := lock.Unlock(); uerr != nil && err == nil {
			err = fmt.Errorf("unlock report file: %w", uerr)
		}
	}()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	if err := Write(f, format, rpt); err != nil {
		f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	return f.Close()
}
