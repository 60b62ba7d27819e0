package engine

import (
	"math/rand"
	"time"

	"github.com/candle-sync/internal/provider"
	"github.com/candle-sync/pkg/config"
)

// retryPhase enumerates the fetch retry state machine:
// Idle -> Attempting -> Backoff -> Attempting -> ... -> Exhausted.
type retryPhase int

const (
	phaseIdle retryPhase = iota
	phaseAttempting
	phaseBackoff
	phaseExhausted
)

func (p retryPhase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseAttempting:
		return "attempting"
	case phaseBackoff:
		return "backoff"
	case phaseExhausted:
		return "exhausted"
	}
	return "unknown"
}

// retryState tracks one task's progress through the retry machine.
// Each transition is explicit so cancellation points and test coverage
// stay unambiguous.
type retryState struct {
	cfg     *config.SyncConfig
	phase   retryPhase
	attempt int
	delay   time.Duration
	rng     *rand.Rand
}

func newRetryState(cfg *config.SyncConfig) *retryState {
	return &retryState{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// begin transitions into Attempting and consumes one attempt from the
// budget. Valid from Idle or Backoff.
func (s *retryState) begin() {
	s.phase = phaseAttempting
	s.attempt++
}

// failure records a failed attempt. It returns the backoff delay before
// the next attempt and whether a retry is allowed; when retry is false
// the machine is Exhausted.
func (s *retryState) failure(err error) (time.Duration, bool) {
	if !provider.IsRetryable(err) || s.attempt >= s.cfg.MaxRetryAttempts {
		s.phase = phaseExhausted
		return 0, false
	}

	s.phase = phaseBackoff
	s.delay = s.nextDelay(err)
	return s.delay, true
}

// nextDelay computes the wait before the next attempt. Rate-limit
// rejections use the provider's advertised cooldown (or the configured
// default); transient failures use exponential backoff with jitter.
func (s *retryState) nextDelay(err error) time.Duration {
	if retryAfter, ok := provider.IsRateLimit(err); ok {
		if retryAfter > 0 {
			return retryAfter
		}
		return s.cfg.RateLimitCooldown
	}

	delay := s.cfg.BackoffBase
	for i := 1; i < s.attempt; i++ {
		delay *= 2
		if delay >= s.cfg.BackoffMax {
			delay = s.cfg.BackoffMax
			break
		}
	}

	// Up to 25% jitter so concurrent tasks don't retry in lockstep.
	jitter := time.Duration(s.rng.Int63n(int64(delay)/4 + 1))
	delay += jitter

	if delay > s.cfg.BackoffMax {
		delay = s.cfg.BackoffMax
	}

	return delay
}

// exhausted reports whether the attempt budget is spent.
func (s *retryState) exhausted() bool {
	return s.phase == phaseExhausted
}
