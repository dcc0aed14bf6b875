// Package progress estimates completion of remote jobs that report little or
// no progress of their own.
package progress

import (
	"math"
	"time"

	"video-restore/constant"
)

const (
	DefaultCap          = 0.95
	defaultTimeConstant = 5 * time.Minute
)

// Estimator turns elapsed time and coarse status into a completion fraction.
// ok is false when progress is undefined for the state (Failed, Cancelled).
type Estimator interface {
	Estimate(tier string, elapsed time.Duration, state constant.JobState, hint *float64) (fraction float64, ok bool)
}

// TieredExponential approaches Cap as 1 - exp(-elapsed/tau), with tau picked
// per resolution tier. A runner-provided hint wins when it is ahead, but
// nothing short of completion reports more than Cap.
type TieredExponential struct {
	Cap           float64
	TimeConstants map[string]time.Duration
}

// NewTieredExponential derives each tier's time constant from its average
// duration so the estimate reaches ~86% at the average.
func NewTieredExponential(avgDurations map[string]time.Duration, maxFraction float64) *TieredExponential {
	if maxFraction <= 0 || maxFraction >= 1 {
		maxFraction = DefaultCap
	}
	tc := make(map[string]time.Duration, len(avgDurations))
	for tier, avg := range avgDurations {
		if avg > 0 {
			tc[tier] = avg / 2
		}
	}
	return &TieredExponential{Cap: maxFraction, TimeConstants: tc}
}

func (e *TieredExponential) Estimate(tier string, elapsed time.Duration, state constant.JobState, hint *float64) (float64, bool) {
	switch state {
	case constant.JobStateQueued:
		return 0, true
	case constant.JobStateCompleted:
		return 1, true
	case constant.JobStateProcessing:
	default:
		return 0, false
	}

	tau, ok := e.TimeConstants[tier]
	if !ok {
		tau = defaultTimeConstant
	}
	if elapsed < 0 {
		elapsed = 0
	}
	fraction := math.Min(1-math.Exp(-elapsed.Seconds()/tau.Seconds()), e.Cap)

	if hint != nil {
		if h := math.Min(clamp(*hint), e.Cap); h > fraction {
			fraction = h
		}
	}
	return fraction, true
}

// Merge keeps progress non-decreasing across successive observations.
func Merge(prev *float64, next float64) float64 {
	next = clamp(next)
	if prev != nil && *prev > next {
		return *prev
	}
	return next
}

// Remaining extrapolates seconds left from the fraction done so far. It is
// nil when nothing is done yet.
func Remaining(elapsed time.Duration, fraction float64) *int64 {
	if fraction <= 0 || elapsed <= 0 {
		return nil
	}
	e := elapsed.Seconds()
	remaining := int64(math.Max(e/fraction-e, 0))
	return &remaining
}

func clamp(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
