package services

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/irfndi/celebrum-pricesync/internal/providers"
)

// backoffSeed is the growth base for providers configured without a base delay.
const backoffSeed = time.Second

// DelayFor returns the pause a provider needs before its next call given the
// current failure streak. It is base_delay up to the backoff threshold, then
// grows by the backoff factor per extra failure and is capped at max_delay.
// The result never decreases as consecutiveFailures grows.
func DelayFor(profile providers.RateProfile, consecutiveFailures int) time.Duration {
	base := profile.BaseDelay
	if base < 0 {
		base = 0
	}
	maxDelay := profile.MaxDelay
	if maxDelay < base {
		maxDelay = base
	}
	if consecutiveFailures <= profile.BackoffThreshold {
		return base
	}

	factor := profile.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	seed := base
	if seed == 0 {
		seed = backoffSeed
	}

	exp := float64(consecutiveFailures - profile.BackoffThreshold)
	grown := float64(seed) * math.Pow(factor, exp)
	if math.IsInf(grown, 0) || math.IsNaN(grown) || grown >= float64(maxDelay) {
		return maxDelay
	}
	d := time.Duration(grown)
	if d < base {
		return base
	}
	return d
}

// rateLane is the shared pacing state of one provider. Every worker goes
// through the same lane so the provider's quota is respected globally.
type rateLane struct {
	mu         sync.Mutex
	profile    providers.RateProfile
	limiter    *rate.Limiter
	failures   int
	pauseUntil time.Time
}

// RateController paces calls per provider and applies adaptive backoff.
type RateController struct {
	logger *logrus.Logger
	now    func() time.Time

	mu    sync.Mutex
	lanes map[string]*rateLane
}

func NewRateController(logger *logrus.Logger) *RateController {
	if logger == nil {
		logger = logrus.New()
	}
	return &RateController{
		logger: logger,
		now:    time.Now,
		lanes:  make(map[string]*rateLane),
	}
}

// Register creates the lane for a provider. Registering twice keeps the first profile.
func (rc *RateController) Register(name string, profile providers.RateProfile) {
	rc.lane(name, profile)
}

func (rc *RateController) lane(name string, profile providers.RateProfile) *rateLane {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if l, ok := rc.lanes[name]; ok {
		return l
	}
	limit := rate.Inf
	if profile.BaseDelay > 0 {
		limit = rate.Every(profile.BaseDelay)
	}
	l := &rateLane{
		profile: profile,
		limiter: rate.NewLimiter(limit, 1),
	}
	rc.lanes[name] = l
	return l
}

func (rc *RateController) get(name string) *rateLane {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.lanes[name]
}

// Wait blocks until the provider may be called: first through any backoff
// pause, then through the base rate limiter. It returns early with the
// context's error.
func (rc *RateController) Wait(ctx context.Context, p providers.Provider) error {
	l := rc.lane(p.Name(), p.RateProfile())

	l.mu.Lock()
	pause := l.pauseUntil.Sub(rc.now())
	l.mu.Unlock()

	if pause > 0 {
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return l.limiter.Wait(ctx)
}

// Record updates the provider's failure streak from a call result.
// Throttling and upstream failures extend the streak, anything the provider
// answered resets it, cancellations and breaker rejections are ignored.
func (rc *RateController) Record(name string, err error) {
	l := rc.get(name)
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case err == nil, providers.IsNotFound(err):
		l.failures = 0
		l.pauseUntil = time.Time{}
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrBreakerOpen):
		return
	}

	l.failures++
	delay := DelayFor(l.profile, l.failures)
	if l.failures > l.profile.BackoffThreshold {
		// the limiter already enforces base_delay, only the excess is a pause
		if extra := delay - l.profile.BaseDelay; extra > 0 {
			until := rc.now().Add(extra)
			if until.After(l.pauseUntil) {
				l.pauseUntil = until
			}
		}
	}

	rc.logger.WithFields(logrus.Fields{
		"provider":             name,
		"consecutive_failures": l.failures,
		"delay":                delay.String(),
		"rate_limited":         providers.IsRateLimited(err),
	}).Debug("Provider backoff updated")
}

// ConsecutiveFailures returns the current failure streak for a provider.
func (rc *RateController) ConsecutiveFailures(name string) int {
	l := rc.get(name)
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures
}

// CurrentDelay returns DelayFor applied to the provider's current streak.
func (rc *RateController) CurrentDelay(name string) time.Duration {
	l := rc.get(name)
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return DelayFor(l.profile, l.failures)
}
