// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package collector runs the periodic checks. One goroutine per check,
// each ticking on its own schedule; the first fatal error from any check
// stops them all cooperatively.
package collector

import (
	"context"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lanpets/lanpets/pkg/collector/check"
)

// pollQuantum is how often a check's loop wakes up to poll and test its
// rate limiter. Shutdown latency is bounded by this plus the in-flight
// tick's own I/O timeouts.
const pollQuantum = 100 * time.Millisecond

// RateLimiter gates a check's Run to its interval using the monotonic
// clock. Not safe for concurrent use; each check loop owns its own.
type RateLimiter struct {
	period time.Duration
	now    func() time.Time
	last   time.Time
}

// NewRateLimiter returns a limiter that first fires immediately and then
// at most once per period.
func NewRateLimiter(period time.Duration) *RateLimiter {
	return &RateLimiter{period: period, now: time.Now}
}

// IsReady reports whether a period has elapsed since the last Ready.
func (r *RateLimiter) IsReady() bool {
	return r.last.IsZero() || r.now().Sub(r.last) > r.period
}

// Ready consumes the limiter: it reports IsReady and, when true, starts
// the next period.
func (r *RateLimiter) Ready() bool {
	if !r.IsReady() {
		return false
	}
	r.last = r.now()
	return true
}

// Runner supervises a set of checks.
type Runner struct {
	checks []check.Check

	// staggerMin/Max delay each check's start to decorrelate their ticks.
	staggerMin, staggerMax time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	errCh    chan error
}

// NewRunner returns a supervisor for the given checks.
func NewRunner(checks ...check.Check) *Runner {
	return &Runner{
		checks:     checks,
		staggerMin: time.Second,
		staggerMax: 2 * time.Second,
		stopCh:     make(chan struct{}),
		errCh:      make(chan error, len(checks)),
	}
}

// Run starts every check and blocks until a check fails fatally or the
// context is cancelled (e.g. by a signal). It then asks every check to
// stop, waits for their current ticks to finish, and returns the fatal
// error, if any.
func (r *Runner) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, c := range r.checks {
		wg.Add(1)
		go func(c check.Check) {
			defer wg.Done()
			r.runLoop(c)
		}(c)
	}

	var fatal error
	select {
	case <-ctx.Done():
		log.Info("Stopping checks")
	case fatal = <-r.errCh:
		log.WithError(fatal).Error("Check failed, stopping all checks")
	}
	r.stop()
	wg.Wait()
	for _, c := range r.checks {
		c.Stop()
	}
	return fatal
}

// stop requests cooperative shutdown; every loop sees it at its next
// quantum.
func (r *Runner) stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Runner) runLoop(c check.Check) {
	// Random startup delay so the checks do not tick in lockstep.
	stagger := r.staggerMin + time.Duration(rand.Int63n(int64(r.staggerMax-r.staggerMin)+1))
	select {
	case <-time.After(stagger):
	case <-r.stopCh:
		return
	}

	log.WithField("check", c.String()).Info("Check started")
	limiter := NewRateLimiter(c.Interval())
	for {
		select {
		case <-r.stopCh:
			log.WithField("check", c.String()).Debug("Check stopped")
			return
		default:
		}

		c.Poll()
		if limiter.Ready() {
			start := time.Now()
			if err := c.Run(); err != nil {
				log.WithField("check", c.String()).WithError(err).Error("Fatal check error")
				r.errCh <- err
				r.stop()
				return
			}
			log.WithFields(log.Fields{
				"check":   c.String(),
				"elapsed": time.Since(start),
			}).Debug("Check tick done")
		}

		select {
		case <-time.After(pollQuantum):
		case <-r.stopCh:
			return
		}
	}
}
