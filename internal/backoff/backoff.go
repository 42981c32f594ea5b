// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

// Package backoff implements the reconnection / rate-limit backoff
// state machine. In this module only the filtered stream's reconnect
// loop drives a Controller; the list/search pagers do not retry
// through it, and the webhook dispatcher handles 429 responses with
// its own header-driven wait.
package backoff

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Class classifies why an operation failed.
type Class int

const (
	// None means the previous attempt succeeded, or no attempt has run
	// yet; NextDelay reports zero for it.
	None Class = iota
	Ratelimit
	Server
	Network
)

func (c Class) String() string {
	switch c {
	case Ratelimit:
		return "ratelimit"
	case Server:
		return "server"
	case Network:
		return "network"
	default:
		return "none"
	}
}

// SleepFunc performs the actual wait for a computed delay. Tests
// inject a deterministic stand-in so Controller.Run can be driven
// without real time passing.
type SleepFunc func(ctx context.Context, d time.Duration)

func defaultSleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Controller is the backoff state machine. Its zero value is usable:
// state starts at None and Sleep defaults to real time.Sleep.
type Controller struct {
	state Class
	n     uint32

	// Sleep is injectable; nil means use real time.
	Sleep SleepFunc

	log *logrus.Entry
}

// New returns a Controller with the given log scope (may be nil).
func New(log *logrus.Entry) *Controller {
	return &Controller{log: log}
}

// Record transitions the state machine on a failure classification.
// If the current state already matches class, its attempt counter is
// incremented; otherwise the controller switches to class with a
// fresh counter of 1. Classes never accumulate into one another.
func (c *Controller) Record(class Class) {
	if class == None {
		c.Reset()
		return
	}
	if c.state == class {
		c.n++
	} else {
		c.state = class
		c.n = 1
	}
}

// Reset returns the controller to the None state, as after a
// successful operation.
func (c *Controller) Reset() {
	c.state = None
	c.n = 0
}

// NextDelay returns the duration the controller prescribes before the
// next attempt, given its current state.
func (c *Controller) NextDelay() time.Duration {
	switch c.state {
	case Ratelimit:
		// 1 << max(0, n-2) minutes, capped at 10 minutes.
		shift := c.n
		if shift < 2 {
			shift = 2
		}
		mins := uint64(1) << (shift - 2)
		if mins > 10 {
			mins = 10
		}
		return time.Duration(mins) * time.Minute
	case Server:
		// 1 << max(0, n-1) seconds, capped at 60 seconds.
		shift := c.n
		if shift < 1 {
			shift = 1
		}
		secs := uint64(1) << (shift - 1)
		if secs > 60 {
			secs = 60
		}
		return time.Duration(secs) * time.Second
	case Network:
		ms := uint64(c.n) * 250
		if ms > 32000 {
			ms = 32000
		}
		return time.Duration(ms) * time.Millisecond
	default:
		return 0
	}
}

// Op is the operation Run retries. It returns a failure Class on
// error; returning None with a non-nil error is a programming error
// and Run treats it as Network.
type Op[T any] func(ctx context.Context) (T, Class, error)

// Run loops op until it succeeds, sleeping NextDelay() between
// attempts and recording each failure's class. On success the
// controller resets to None so the *next* failure (of any run) starts
// again from the first-attempt delay of its class.
//
// Run is a free function rather than a method because Go does not
// allow a non-generic type's method to introduce its own type
// parameter.
func Run[T any](ctx context.Context, c *Controller, op Op[T]) (T, error) {
	sleep := c.Sleep
	if sleep == nil {
		sleep = defaultSleep
	}
	for {
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, err
		}
		val, class, err := op(ctx)
		if err == nil {
			c.Reset()
			return val, nil
		}
		if class == None {
			class = Network
		}
		c.Record(class)
		d := c.NextDelay()
		if c.log != nil {
			c.log.WithFields(logrus.Fields{
				"class":    class.String(),
				"attempt":  c.n,
				"delay_ms": d.Milliseconds(),
			}).Debug("backing off after failed attempt")
		}
		if d > 0 {
			sleep(ctx, d)
		}
	}
}

// State exposes the current class and attempt count for tests and
// diagnostics.
func (c *Controller) State() (Class, uint32) { return c.state, c.n }
