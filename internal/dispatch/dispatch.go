// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

// Package dispatch implements the webhook delivery contract of
// spec.md §4.7: one POST per {url, payload} route, rate-limit-aware
// retry, and 1s pacing between deliveries to the same destination.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tirr-c/tweet-broadcast/internal/logging"
)

const (
	defaultRetryAfter = 5 * time.Second
	pacingInterval    = 1 * time.Second
)

var log = logging.For("dispatch")

// Dispatcher delivers route payloads to destination webhooks. It is
// safe for concurrent use: each destination URL gets its own pacing
// limiter, so deliveries to different destinations never block one
// another.
type Dispatcher struct {
	http *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds a Dispatcher using client for outbound POSTs.
func New(client *http.Client) *Dispatcher {
	return &Dispatcher{http: client, limiters: make(map[string]*rate.Limiter)}
}

func (d *Dispatcher) limiterFor(url string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[url]
	if !ok {
		l = rate.NewLimiter(rate.Every(pacingInterval), 1)
		d.limiters[url] = l
	}
	return l
}

// Send delivers payload to url as a JSON POST with `wait=true`. A 429
// response is retried after the provider's advertised delay, without
// an attempt cap; any other non-2xx response is reported and the
// delivery is dropped without retry.
func (d *Dispatcher) Send(ctx context.Context, url string, payload any) error {
	if err := d.limiterFor(url).Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("dispatch: marshal payload: %w", err)
	}

	correlationID := uuid.NewString()
	entry := log.WithField("correlation_id", correlationID).WithField("url", url)

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"?wait=true", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("dispatch: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.http.Do(req)
		if err != nil {
			entry.WithError(err).Warn("webhook delivery failed")
			return err
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			wait := retryDelay(resp.Header)
			entry.WithField("wait_ms", wait.Milliseconds()).Info("webhook ratelimited, retrying")
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
			continue
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		default:
			entry.WithField("status", resp.StatusCode).Warn("webhook delivery dropped")
			return fmt.Errorf("dispatch: webhook returned status %d", resp.StatusCode)
		}
	}
}

// retryDelay prefers the float-seconds x-ratelimit-reset-after header,
// falls back to the integer-seconds retry-after header, and finally to
// a 5s default.
func retryDelay(h http.Header) time.Duration {
	if v := h.Get("x-ratelimit-reset-after"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	if v := h.Get("retry-after"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultRetryAfter
}
