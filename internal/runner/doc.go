// Package runner drives a breaking-point search against a target service.
//
// A [Runner] executes a sequence of [LoadStage] values produced by a
// [RampPolicy]. Each stage paces calls at its target rate for its duration
// and admits at most ConcurrencyLimit of them at once; arrivals beyond the
// limit wait for a slot instead of being dropped.
//
//	r, err := runner.New(runner.Options{
//		Policy:  runner.PolicyFromConfig(cfg.Ramp),
//		Invoker: inv,
//		Decider: decider.New(decider.DefaultThresholds()),
//	})
//	if err != nil {
//		return err
//	}
//	result, err := r.Run(ctx)
//
// # Stage lifecycle
//
// Outcomes flow over a single channel into the stage's metrics.Aggregator.
// When the window closes the runner waits up to the drain timeout for
// in-flight calls, seals the aggregator through the same channel, and then
// cancels the stragglers. Anything completing after the seal is counted as
// orphaned and never reaches another stage. Invokers must honor context
// cancellation.
//
// # Ramp
//
// Sustainable stages escalate the rate. A degraded stage either escalates
// or, with ConfirmDegraded, is repeated once at the same rate. A failed
// stage stops the run, as do the stage limit, the time budget, the rate cap
// and cancellation.
//
// # Arrival Models
//
// Calls are spaced uniformly by a rate.Limiter, or by exponential
// inter-arrival times when the Poisson model is selected.
package runner
