// Package metrics summarizes the outcomes of one load stage.
//
// Each stage owns an [Aggregator]. Outcomes are recorded while the stage
// runs and [Aggregator.Seal] freezes them into a [StageStats]:
//
//	agg := metrics.NewAggregator(metrics.AggregatorConfig{
//		StageIndex: 2,
//		TargetRate: 22,
//		Window:     30 * time.Second,
//	})
//	_ = agg.Record(outcome)
//	stats, _ := agg.Seal()
//
// Latency percentiles come from an HdrHistogram tracking 1µs to 60s with
// three significant figures, so memory stays bounded however many requests a
// stage issues. Recording into a sealed aggregator fails with
// [*StageAlreadySealedError].
package metrics
