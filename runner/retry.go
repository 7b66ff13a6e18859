package runner

import "time"

// RetryStrategy decides how long to wait before re-running a failed
// delivery. Attempt 0 is the wait after the first failure.
type RetryStrategy interface {
	SleepDuration(attempt int, err error) time.Duration
}

// NoDelayStrategy retries immediately. It is the default so step handlers
// and sweeps never sleep unless configured to.
type NoDelayStrategy struct{}

func (NoDelayStrategy) SleepDuration(int, error) time.Duration { return 0 }

// ExponentialBackoffStrategy waits Base * Factor^attempt, capped at Max.
// A typical configuration for re-delivering step completions:
//
//	WithRetryStrategy(ExponentialBackoffStrategy{
//	    Base:   100 * time.Millisecond,
//	    Factor: 2,
//	    Max:    5 * time.Second,
//	})
type ExponentialBackoffStrategy struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

func (e ExponentialBackoffStrategy) SleepDuration(attempt int, _ error) time.Duration {
	delay := float64(e.Base)
	for i := 0; i < attempt; i++ {
		delay *= e.Factor
		if e.Max > 0 && time.Duration(delay) >= e.Max {
			return e.Max
		}
	}
	if e.Max > 0 && time.Duration(delay) > e.Max {
		return e.Max
	}
	return time.Duration(delay)
}
