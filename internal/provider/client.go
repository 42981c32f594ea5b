// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

// Package provider implements the single authenticated client exposing
// the four operations of spec.md §4.2: bulk retrieve by ID, paged
// fetch, a long-running line stream, and error classification into the
// Backoff controller's failure classes.
package provider

import (
	"context"
	"net/http"

	"github.com/creachadair/jhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tirr-c/tweet-broadcast/internal/backoff"
	"github.com/tirr-c/tweet-broadcast/internal/model"
	"github.com/tirr-c/tweet-broadcast/types"
)

const (
	apiBaseURL     = "https://api.twitter.com"
	tweetsEndpoint = "2/tweets"
	userAgent      = "tweet-broadcast/1.0"
)

// Client is the shared, cheaply clonable authenticated HTTP client.
// It wraps a jhttp.Client for the request/response JSON endpoints
// (bulk retrieve, list, search) and a raw *http.Client for the
// persistent line stream, whose chunk-level read semantics (§4.2
// "30s per chunk") fall outside jhttp's request/reply abstraction.
type Client struct {
	jc   *jhttp.Client
	http *http.Client
}

// New builds a Client authorized with the given bearer token. Both the
// jhttp client and the raw HTTP client share the same underlying
// transport, so clones (via Client value copy) share the connection
// pool, as required by spec.md §5's resource policy.
func New(token string) *Client {
	return NewWithTransport(token, http.DefaultTransport)
}

// NewWithTransport builds a Client like New, but issues requests
// through base instead of http.DefaultTransport. Tests use this to
// substitute a cassette-replaying transport.
func NewWithTransport(token string, base http.RoundTripper) *Client {
	httpClient := &http.Client{Transport: authTransport{token: token, base: base}}

	jc := &jhttp.Client{
		BaseURL: apiBaseURL,
		Client:  httpClient,
		Authorize: func(req *http.Request) error {
			req.Header.Set("Authorization", "Bearer "+token)
			req.Header.Set("User-Agent", userAgent)
			return nil
		},
	}

	return &Client{jc: jc, http: httpClient}
}

// authTransport stamps every request (including the streaming
// connection, which never goes through jhttp.Client.Authorize) with
// the bearer credential and gzip/brotli advertisement required by
// spec.md §4.2.
type authTransport struct {
	token string
	base  http.RoundTripper
}

func (t authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Encoding", "gzip, br")
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// ClassifyError maps a transport/status error to a backoff.Class.
// Errors that are not retriable (protocol errors reported in a
// 2xx-with-errors-document envelope, or any non-network/5xx/429
// failure) are returned unclassified so the caller treats them as
// fatal for the current request.
func ClassifyError(err error) (backoff.Class, bool) {
	if err == nil {
		return backoff.None, false
	}
	var httpErr *jhttp.Error
	if as(err, &httpErr) {
		switch {
		case httpErr.Status == http.StatusTooManyRequests:
			return backoff.Ratelimit, true
		case httpErr.Status >= 500 && httpErr.Status < 600:
			return backoff.Server, true
		}
		return backoff.None, false
	}
	var re *model.ResponseError
	if as2(err, &re) {
		return backoff.None, false
	}
	if _, ok := err.(*ErrProtocol); ok {
		return backoff.None, false
	}
	// Anything else reaching this layer (connection refused, DNS
	// failure, timeout) is a network-class failure.
	return backoff.Network, true
}

// as is a tiny errors.As wrapper kept local to avoid importing
// "errors" just for this one call site's type assertion dance across
// jhttp's (unexported-internal) error wrapping.
func as(err error, target **jhttp.Error) bool {
	type unwrapper interface{ Unwrap() error }
	for e := err; e != nil; {
		if je, ok := e.(*jhttp.Error); ok {
			*target = je
			return true
		}
		u, ok := e.(unwrapper)
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}

func commonParams() jhttp.Params {
	p := jhttp.Params{}
	exp := types.AllExpansions()
	p.Set(exp.Label(), joinComma(exp.Values()))
	tf := types.AllTweetFields()
	p.Set(tf.Label(), joinComma(tf.Values()))
	uf := types.AllUserFields()
	p.Set(uf.Label(), joinComma(uf.Values()))
	mf := types.AllMediaFields()
	p.Set(mf.Label(), joinComma(mf.Values()))
	return p
}

func joinComma(vs []string) string {
	out := ""
	for i, v := range vs {
		if i > 0 {
			out += ","
		}
		out += v
	}
	return out
}

// Retrieve bulk-fetches tweets by ID (spec.md §4.2). Input is batched
// in chunks of 100 issued concurrently; the merged bundle's Data order
// follows chunk order, and Includes is unioned via Augment. An empty
// input returns the empty bundle without making a request. A single-ID
// input uses the singular lookup endpoint, which has a distinct
// response envelope (Data is a Tweet, not a []Tweet).
func (c *Client) Retrieve(ctx context.Context, ids []string) (*model.Response[[]model.Tweet, model.NoMeta], error) {
	switch len(ids) {
	case 0:
		return &model.Response[[]model.Tweet, model.NoMeta]{}, nil
	case 1:
		return c.retrieveSingle(ctx, ids[0])
	default:
		return c.retrieveBulk(ctx, ids)
	}
}

func (c *Client) retrieveSingle(ctx context.Context, id string) (*model.Response[[]model.Tweet, model.NoMeta], error) {
	params := commonParams()
	req := &jhttp.Request{
		Method: tweetsEndpoint + "/" + id,
		Params: params,
	}
	data, err := c.jc.CallRaw(ctx, req)
	if err != nil {
		return nil, err
	}
	res, err := model.DecodeResponse[model.Tweet, model.NoMeta](data)
	if err != nil {
		return nil, err
	}
	return &model.Response[[]model.Tweet, model.NoMeta]{
		Data:     []model.Tweet{res.Data},
		Includes: res.Includes,
	}, nil
}

func chunk(ids []string, size int) [][]string {
	var out [][]string
	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[i:end])
	}
	return out
}

func (c *Client) retrieveBulk(ctx context.Context, ids []string) (*model.Response[[]model.Tweet, model.NoMeta], error) {
	chunks := chunk(ids, 100)
	results := make([]*model.Response[[]model.Tweet, model.NoMeta], len(chunks))

	group, gctx := errgroup.WithContext(ctx)
	for i, idsChunk := range chunks {
		i, idsChunk := i, idsChunk
		group.Go(func() error {
			params := commonParams()
			params.Set("ids", joinComma(idsChunk))
			req := &jhttp.Request{Method: tweetsEndpoint, Params: params}
			data, err := c.jc.CallRaw(gctx, req)
			if err != nil {
				return err
			}
			res, err := model.DecodeResponse[[]model.Tweet, model.NoMeta](data)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	merged := &model.Response[[]model.Tweet, model.NoMeta]{}
	for _, res := range results {
		merged.Data = append(merged.Data, res.Data...)
		merged.Includes.Augment(res.Includes)
	}
	return merged, nil
}

// ErrProtocol wraps a decoded ResponseError so callers can distinguish
// a provider-reported protocol failure from a transport failure.
type ErrProtocol struct {
	*model.ResponseError
}

func (e *ErrProtocol) Unwrap() error { return e.ResponseError }

func wrapProtocolError(err error) error {
	var re *model.ResponseError
	if as2(err, &re) {
		return &ErrProtocol{ResponseError: re}
	}
	return err
}

func as2(err error, target **model.ResponseError) bool {
	if re, ok := err.(*model.ResponseError); ok {
		*target = re
		return true
	}
	return false
}
