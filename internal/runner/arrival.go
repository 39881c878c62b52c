package runner

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/torosent/breakpoint/internal/config"
)

type arrivalController interface {
	Wait(ctx context.Context) error
}

// newArrivalController paces one stage at rps using the configured model.
func newArrivalController(opt Options, rps float64) arrivalController {
	switch opt.ArrivalModel {
	case config.ArrivalModelPoisson:
		ctrl := &poissonArrival{sample: opt.PoissonSampler}
		ctrl.SetRate(rps)
		return ctrl
	default:
		return &uniformArrival{limiter: opt.LimiterFactory(rps)}
	}
}

// uniformArrival delegates pacing to a rate.Limiter (uniform spacing).
type uniformArrival struct {
	limiter *rate.Limiter
}

func (u *uniformArrival) Wait(ctx context.Context) error {
	if u == nil || u.limiter == nil {
		return nil
	}
	return u.limiter.Wait(ctx)
}

// defaultLimiter spaces arrivals evenly with a burst of one so a stage never
// front-loads its calls.
func defaultLimiter(rps float64) *rate.Limiter {
	if rps <= 0 || math.IsInf(rps, 1) {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// minPoissonArrivals is the smallest planned stage whose Poisson arrivals
// reliably fill the window. Smaller stages regularly issue well under their
// target by chance and are exempt from the throughput ceiling.
const minPoissonArrivals = 100

// throughputExempt reports whether a stage with planned arrivals is too small
// for the configured model to be held to the throughput ceiling.
func throughputExempt(model config.ArrivalModel, planned int64) bool {
	return model == config.ArrivalModelPoisson && planned < minPoissonArrivals
}

// poissonArrival samples exponential inter-arrival times to approximate a Poisson process.
type poissonArrival struct {
	mu     sync.Mutex
	rate   float64
	sample func() float64
}

func (p *poissonArrival) Wait(ctx context.Context) error {
	delay := p.nextDelay()
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *poissonArrival) SetRate(rps float64) {
	if p == nil {
		return
	}
	if rps < 0 {
		rps = 0
	}
	p.mu.Lock()
	p.rate = rps
	p.mu.Unlock()
}

func (p *poissonArrival) nextDelay() time.Duration {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rate <= 0 || p.sample == nil {
		return 0
	}

	value := p.sample()
	delay := float64(time.Second) * value / p.rate
	if delay > math.MaxInt64 {
		delay = math.MaxInt64
	}
	return time.Duration(delay)
}
