package ingestor

import (
	"math"
	"time"
)

const (
	emptyPollsBeforeWidening = 3
	wideningFactor           = 1.5
)

type pollPolicy struct {
	base         time.Duration
	maxInterval  time.Duration
	maxBackoff   time.Duration
	failureGrace int
}

// pollState is the scheduling state of the ingest loop. It is a value: every
// transition returns the next state.
type pollState struct {
	interval            time.Duration
	consecutiveEmpty    int
	consecutiveFailures int
}

func newPollState(p pollPolicy) pollState {
	return pollState{interval: p.base}
}

// onSuccess resets failures. A page with events goes back to the base interval;
// past the third empty poll in a row the interval widens by 1.5x per poll up to maxInterval.
func (s pollState) onSuccess(p pollPolicy, events int) pollState {
	s.consecutiveFailures = 0
	if events > 0 {
		s.consecutiveEmpty = 0
		s.interval = p.base
		return s
	}

	s.consecutiveEmpty++
	if s.consecutiveEmpty <= emptyPollsBeforeWidening {
		s.interval = p.base
		return s
	}
	widened := float64(p.base) * math.Pow(wideningFactor, float64(s.consecutiveEmpty-emptyPollsBeforeWidening))
	s.interval = capDuration(time.Duration(widened), p.maxInterval)
	return s
}

// onFailure doubles the current interval while under the grace count, then backs
// off exponentially as base * 2^(failures-grace). A failure never shortens the
// interval and never sets it below 2 * base.
func (s pollState) onFailure(p pollPolicy) pollState {
	s.consecutiveFailures++
	s.consecutiveEmpty = 0

	floor := capDuration(2*p.base, p.maxBackoff)
	if s.consecutiveFailures < p.failureGrace {
		s.interval = maxDuration(capDuration(2*s.interval, p.maxBackoff), floor)
		return s
	}

	exp := s.consecutiveFailures - p.failureGrace
	if exp > 30 {
		exp = 30
	}
	backoff := capDuration(p.base*time.Duration(1<<uint(exp)), p.maxBackoff)
	s.interval = maxDuration(backoff, maxDuration(floor, capDuration(s.interval, p.maxBackoff)))
	return s
}

func capDuration(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	return d
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
