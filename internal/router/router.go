// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

// Package router wraps a sandboxed JavaScript runtime exposing a
// user-defined `route` function: spec.md §4.6. The runtime (goja) is
// not thread-mobile, so every call is funneled through one dedicated
// goroutine that owns the *goja.Runtime exclusively; Router's public
// methods are safe to call from any goroutine and block until the
// owning goroutine answers.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/tirr-c/tweet-broadcast/internal/logging"
	"github.com/tirr-c/tweet-broadcast/internal/model"
	"github.com/tirr-c/tweet-broadcast/internal/score"
)

var log = logging.For("router")

const (
	// maxCallStackDepth approximates the spec's fixed maximum heap: a
	// JS sandbox without V8's memory accounting has no direct
	// byte-budget knob, so a call-stack depth limit bounds runaway
	// recursion instead.
	maxCallStackDepth = 2048

	// perCallBudget bounds a single route() invocation's wall time; a
	// script that runs long is interrupted rather than left to hang
	// the isolate-owning goroutine forever.
	perCallBudget = 250 * time.Millisecond
)

// Payload is the normalized bundle passed to the user script, matching
// spec.md §4.6's schema.
type Payload struct {
	Tweet          model.Tweet   `json:"tweet"`
	Author         model.User    `json:"author"`
	OriginalTweet  *model.Tweet  `json:"originalTweet,omitempty"`
	OriginalAuthor *model.User   `json:"originalAuthor,omitempty"`
	Media          []model.Media `json:"media"`
	Score          float64       `json:"score"`
	Tags           []string      `json:"tags"`
	Cached         bool          `json:"cached"`
}

// Route is one entry of the script's `Array<{url, payload}>` return
// value.
type Route struct {
	URL     string `json:"url"`
	Payload any    `json:"payload"`
}

// Result bundles the normalized payload the router built (for cache
// persistence) with the routes the script produced.
type Result struct {
	Payload Payload
	Routes  []Route
}

// CacheChecker is the subset of cache.Store the router needs to set
// Payload.Cached.
type CacheChecker interface {
	HasTweet(ctx context.Context, id string) (bool, error)
}

type invokeRequest struct {
	bundle *model.Response[model.Tweet, model.StreamMeta]
	cached bool
	result chan invokeResponse
}

type invokeResponse struct {
	result Result
	err    error
}

type reloadRequest struct {
	script string
	result chan error
}

// Router owns exactly one goja.Runtime, driven on its own goroutine.
type Router struct {
	requests chan invokeRequest
	reloads  chan reloadRequest
	closed   chan struct{}
}

// New compiles script and resolves its `route` global, starting the
// isolate-owning goroutine. It blocks until the initial compile
// either succeeds or fails.
func New(script string) (*Router, error) {
	r := &Router{
		requests: make(chan invokeRequest),
		reloads:  make(chan reloadRequest),
		closed:   make(chan struct{}),
	}
	ready := make(chan error, 1)
	go r.run(script, ready)
	if err := <-ready; err != nil {
		return nil, err
	}
	return r, nil
}

// Close stops the isolate-owning goroutine.
func (r *Router) Close() { close(r.requests) }

func (r *Router) run(script string, ready chan<- error) {
	defer close(r.closed)

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	vm.SetMaxCallStackSize(maxCallStackDepth)
	routeFn, err := compile(vm, script)
	ready <- err
	if err != nil {
		return
	}

	for {
		select {
		case req, ok := <-r.requests:
			if !ok {
				return
			}
			res, err := invoke(vm, routeFn, req.bundle, req.cached)
			req.result <- invokeResponse{result: res, err: err}
		case rl, ok := <-r.reloads:
			if !ok {
				return
			}
			newFn, err := compile(vm, rl.script)
			if err == nil {
				routeFn = newFn
			}
			rl.result <- err
		}
	}
}

func compile(vm *goja.Runtime, script string) (goja.Callable, error) {
	if _, err := vm.RunString(script); err != nil {
		return nil, fmt.Errorf("router: compiling script: %w", err)
	}
	fn, ok := goja.AssertFunction(vm.Get("route"))
	if !ok {
		return nil, fmt.Errorf("router: global function %q not found", "route")
	}
	return fn, nil
}

// Reload recompiles script against the live isolate, replacing the
// resolved `route` function on success. The prior function keeps
// serving calls already in flight.
func (r *Router) Reload(ctx context.Context, script string) error {
	req := reloadRequest{script: script, result: make(chan error, 1)}
	select {
	case r.reloads <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.closed:
		return fmt.Errorf("router: isolate closed")
	}
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call builds the normalized payload for bundle and invokes the
// script's route function with it. cc.HasTweet determines the
// payload's `cached` flag. A script exception is reported as an
// error; the isolate's prior state is not torn down (goja does not
// leave the VM's global state half-mutated on a thrown exception the
// way a crashed native extension might, so the isolate is reusable
// for the next call).
func (r *Router) Call(ctx context.Context, cc CacheChecker, bundle *model.Response[model.Tweet, model.StreamMeta]) (Result, error) {
	cached, err := cacheHasRealTweet(ctx, cc, &bundle.Data, &bundle.Includes)
	if err != nil {
		log.WithError(err).Warn("cache lookup failed, treating tweet as not cached")
		cached = false
	}

	req := invokeRequest{bundle: bundle, cached: cached, result: make(chan invokeResponse, 1)}
	select {
	case r.requests <- req:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-r.closed:
		return Result{}, fmt.Errorf("router: isolate closed")
	}

	select {
	case resp := <-req.result:
		return resp.result, resp.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func cacheHasRealTweet(ctx context.Context, cc CacheChecker, tweet *model.Tweet, includes *model.Includes) (bool, error) {
	real := tweet
	if srcID, ok := tweet.GetRetweetSource(); ok {
		if resolved, ok := includes.GetTweet(srcID); ok {
			real = resolved
		}
	}
	return cc.HasTweet(ctx, real.ID)
}

func buildPayload(bundle *model.Response[model.Tweet, model.StreamMeta], cached bool) (Payload, error) {
	tweet := &bundle.Data
	includes := &bundle.Includes

	var originalTweet *model.Tweet
	var originalAuthor *model.User
	real := tweet
	if srcID, isRetweet := tweet.GetRetweetSource(); isRetweet {
		resolved, ok := includes.GetTweet(srcID)
		if !ok {
			return Payload{}, fmt.Errorf("router: retweet source %s not in includes", srcID)
		}
		real = resolved
		if tweet.AuthorID == nil {
			return Payload{}, fmt.Errorf("router: tweet %s has no author_id", tweet.ID)
		}
		author, ok := includes.GetUser(*tweet.AuthorID)
		if !ok {
			return Payload{}, fmt.Errorf("router: author %s not in includes", *tweet.AuthorID)
		}
		originalTweet = tweet
		originalAuthor = author
	}

	if real.AuthorID == nil {
		return Payload{}, fmt.Errorf("router: tweet %s has no author_id", real.ID)
	}
	author, ok := includes.GetUser(*real.AuthorID)
	if !ok {
		return Payload{}, fmt.Errorf("router: author %s not in includes", *real.AuthorID)
	}
	if real.CreatedAt == nil || real.PublicMetrics == nil || author.PublicMetrics == nil {
		return Payload{}, fmt.Errorf("router: tweet %s missing metrics required to score", real.ID)
	}

	var media []model.Media
	for _, key := range real.MediaKeys() {
		if m, ok := includes.GetMedia(key); ok {
			media = append(media, *m)
		}
	}

	var tags []string
	for _, rule := range bundle.Meta.MatchingRules {
		tags = append(tags, rule.Tag)
	}

	return Payload{
		Tweet:          *real,
		Author:         *author,
		OriginalTweet:  originalTweet,
		OriginalAuthor: originalAuthor,
		Media:          media,
		Score:          score.Compute(real.PublicMetrics, author.PublicMetrics, *real.CreatedAt),
		Tags:           tags,
		Cached:         cached,
	}, nil
}

// invoke runs on the isolate-owning goroutine only.
func invoke(vm *goja.Runtime, routeFn goja.Callable, bundle *model.Response[model.Tweet, model.StreamMeta], cached bool) (Result, error) {
	payload, err := buildPayload(bundle, cached)
	if err != nil {
		return Result{}, err
	}

	timer := time.AfterFunc(perCallBudget, func() {
		vm.Interrupt("router: script exceeded its per-call time budget")
	})
	defer timer.Stop()

	arg := vm.ToValue(payload)
	ret, err := routeFn(goja.Undefined(), arg)
	if err != nil {
		return Result{}, fmt.Errorf("router: script threw: %w", err)
	}

	var routes []Route
	if err := vm.ExportTo(ret, &routes); err != nil {
		return Result{}, fmt.Errorf("router: decoding route() return value: %w", err)
	}

	return Result{Payload: payload, Routes: routes}, nil
}
