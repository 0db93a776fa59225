// Package backoff computes retry delays for failed jobs. By default a
// retryable failure re-enters the queue immediately; a worker configured
// with a Strategy re-enters it as a delayed job instead, due after the
// strategy's delay for that attempt. Strategies are stateless and safe
// for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before retry attempt n (1-indexed; attempt
// 1 is the first retry after the initial failure).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant returns the same delay for every attempt.
type Constant struct {
	Interval time.Duration
}

func (c Constant) Delay(int) time.Duration { return c.Interval }

// Linear grows the delay by Step per attempt, capped at Max (zero Max
// means uncapped).
type Linear struct {
	Step time.Duration
	Max  time.Duration
}

func (l Linear) Delay(attempt int) time.Duration {
	return capped(l.Step*time.Duration(attempt), l.Max)
}

// Exponential doubles the delay each attempt starting from Initial,
// capped at Max.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

func (e Exponential) Delay(attempt int) time.Duration {
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	return capped(d, e.Max)
}

// FullJitter picks a uniform random delay in [0, exponential(attempt)].
// Spreads out retry storms when many jobs fail together.
type FullJitter struct {
	Initial time.Duration
	Max     time.Duration
}

func (f FullJitter) Delay(attempt int) time.Duration {
	base := Exponential{Initial: f.Initial, Max: f.Max}.Delay(attempt)
	return time.Duration(rand.Float64() * float64(base)) //nolint:gosec // jitter wants non-crypto rand
}

// Default returns a general-purpose strategy to pass to
// worker.WithBackoff: full jitter, 1s initial, 1m cap. Workers do not
// apply it on their own.
func Default() Strategy {
	return FullJitter{Initial: time.Second, Max: time.Minute}
}

func capped(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	return d
}
