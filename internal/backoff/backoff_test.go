// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

package backoff_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tirr-c/tweet-broadcast/internal/backoff"
)

var _ = Describe("Controller", func() {
	It("reports zero delay in the None state", func() {
		c := backoff.New(nil)
		Expect(c.NextDelay()).To(Equal(time.Duration(0)))
	})

	Describe("Ratelimit class", func() {
		It("follows the {1,1,2,4,8,10} minute ladder capped at 10 minutes", func() {
			c := backoff.New(nil)
			expected := []time.Duration{
				// n=1 -> shift clamps to 2 -> 1<<0 = 1 min... but spec
				// states first two attempts both floor to the same
				// clamp, see NextDelay's shift clamp.
				1 * time.Minute,
				1 * time.Minute,
				2 * time.Minute,
				4 * time.Minute,
				8 * time.Minute,
				10 * time.Minute,
				10 * time.Minute,
			}
			for _, want := range expected {
				c.Record(backoff.Ratelimit)
				Expect(c.NextDelay()).To(Equal(want))
			}
		})
	})

	Describe("Server class", func() {
		It("follows the {1,2,4,...,60} second ladder capped at 60 seconds", func() {
			c := backoff.New(nil)
			expected := []time.Duration{
				1 * time.Second,
				2 * time.Second,
				4 * time.Second,
				8 * time.Second,
				16 * time.Second,
				32 * time.Second,
				60 * time.Second,
				60 * time.Second,
			}
			for _, want := range expected {
				c.Record(backoff.Server)
				Expect(c.NextDelay()).To(Equal(want))
			}
		})
	})

	Describe("Network class", func() {
		It("grows linearly by 250ms capped at 32s", func() {
			c := backoff.New(nil)
			c.Record(backoff.Network)
			Expect(c.NextDelay()).To(Equal(250 * time.Millisecond))
			for i := 0; i < 200; i++ {
				c.Record(backoff.Network)
			}
			Expect(c.NextDelay()).To(Equal(32000 * time.Millisecond))
		})
	})

	It("never accumulates across classes (invariant #1, #2)", func() {
		c := backoff.New(nil)
		c.Record(backoff.Network)
		c.Record(backoff.Network)
		netDelay := c.NextDelay()
		Expect(netDelay).To(Equal(500 * time.Millisecond))

		// Switching class starts that class's counter at 1, with no
		// memory of the Network run.
		c.Record(backoff.Server)
		Expect(c.NextDelay()).To(Equal(1 * time.Second))
	})

	It("resets to the first-attempt delay of its class after Run succeeds", func() {
		c := backoff.New(nil)
		var slept []time.Duration
		c.Sleep = func(_ context.Context, d time.Duration) {
			slept = append(slept, d)
		}

		attempt := 0
		_, err := backoff.Run(context.Background(), c, func(ctx context.Context) (int, backoff.Class, error) {
			attempt++
			if attempt <= 2 {
				return 0, backoff.Network, errors.New("boom")
			}
			return 42, backoff.None, nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(slept).To(Equal([]time.Duration{250 * time.Millisecond, 500 * time.Millisecond}))

		class, n := c.State()
		Expect(class).To(Equal(backoff.None))
		Expect(n).To(Equal(uint32(0)))

		// A fresh failure after the reset produces the first-attempt
		// delay again, not a continuation of the prior run's count.
		attempt = 0
		slept = nil
		_, err = backoff.Run(context.Background(), c, func(ctx context.Context) (int, backoff.Class, error) {
			attempt++
			if attempt == 1 {
				return 0, backoff.Network, errors.New("boom again")
			}
			return 1, backoff.None, nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(slept).To(Equal([]time.Duration{250 * time.Millisecond}))
	})

	It("starts a new class's delay ladder at its floor on the first failure", func() {
		c := backoff.New(nil)
		c.Record(backoff.Ratelimit)
		// First Ratelimit failure: n=1, shift clamps to 2, 1<<0=1 min.
		// There is no failure-free "free" attempt, but the delay
		// ladder starts at its floor rather than some accumulated
		// value from an unrelated class.
		Expect(c.NextDelay()).To(Equal(1 * time.Minute))
	})
})
