// Package detect runs the detection loop: it polls the frame source,
// classifies frames at a bounded rate, debounces sustained falls into
// discrete events, and hands accepted events to storage and alerting.
package detect

import (
	"sync"
	"time"
)

// Result is one classification verdict.
type Result struct {
	Fall       bool
	Confidence float64
}

// Classifier is the model contract. Detect may be called every frame;
// implementations report Loaded false when the model is missing, which
// the loop treats as fatal.
type Classifier interface {
	Loaded() bool
	Detect(frame []byte) (Result, error)
}

// RateLimited wraps a classifier with a minimum re-evaluation interval.
// Calls inside the interval return the cached verdict instead of
// running fresh inference, so the loop can poll at frame rate while the
// model runs only every few seconds.
type RateLimited struct {
	inner       Classifier
	minInterval time.Duration

	mu      sync.Mutex
	lastRun time.Time
	cached  Result

	nowFn func() time.Time
}

// NewRateLimited wraps inner with minInterval between real inferences.
func NewRateLimited(inner Classifier, minInterval time.Duration) *RateLimited {
	return &RateLimited{
		inner:       inner,
		minInterval: minInterval,
		nowFn:       time.Now,
	}
}

func (r *RateLimited) Loaded() bool { return r.inner.Loaded() }

func (r *RateLimited) Detect(frame []byte) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFn()
	if !r.lastRun.IsZero() && now.Sub(r.lastRun) < r.minInterval {
		return r.cached, nil
	}

	res, err := r.inner.Detect(frame)
	if err != nil {
		// Errors are not cached; the next call retries immediately.
		return Result{}, err
	}
	r.lastRun = now
	r.cached = res
	return res, nil
}
