// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

package provider

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tirr-c/tweet-broadcast/internal/backoff"
	"github.com/tirr-c/tweet-broadcast/internal/logging"
	"github.com/tirr-c/tweet-broadcast/internal/model"
)

const (
	streamEndpoint  = "2/tweets/search/stream"
	streamChunkWait = 30 * time.Second
)

var streamLog = logging.For("provider.stream")

var errStreamTimeout = errors.New("stream: read timeout")

// Stream is one live connection to the filtered-stream endpoint. It is
// a restartable, finite sequence: once Next reports io.EOF the
// provider has closed the connection, and the caller is expected to
// reconnect via Client.OpenStream (spec.md §4.4.1's Connecting state).
type Stream struct {
	resp   *http.Response
	reader *bufio.Reader
}

func (c *Client) streamRequestURL() string {
	params := commonParams()
	return apiBaseURL + "/" + streamEndpoint + "?" + url.Values(params).Encode()
}

func (c *Client) connectStreamOnce(ctx context.Context) (*http.Response, backoff.Class, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.streamRequestURL(), nil)
	if err != nil {
		return nil, backoff.None, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, backoff.Network, fmt.Errorf("stream: connect: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, backoff.Ratelimit, fmt.Errorf("stream: ratelimited")
	case resp.StatusCode >= 500:
		resp.Body.Close()
		return nil, backoff.Server, fmt.Errorf("stream: server error %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		resp.Body.Close()
		return nil, backoff.None, fmt.Errorf("stream: unexpected status %d", resp.StatusCode)
	default:
		return resp, backoff.None, nil
	}
}

// OpenStream connects to the filtered-stream endpoint, retrying
// through bc (sleeping per its backoff ladder) until a connection
// succeeds or ctx is cancelled. bc is reset to None on success so a
// later disconnect starts its own backoff from the first attempt.
func (c *Client) OpenStream(ctx context.Context, bc *backoff.Controller) (*Stream, error) {
	resp, err := backoff.Run(ctx, bc, func(ctx context.Context) (*http.Response, backoff.Class, error) {
		return c.connectStreamOnce(ctx)
	})
	if err != nil {
		return nil, err
	}
	streamLog.Info("connected to filtered stream")
	return &Stream{resp: resp, reader: bufio.NewReader(resp.Body)}, nil
}

// Close releases the underlying connection.
func (s *Stream) Close() error {
	return s.resp.Body.Close()
}

// Next reads and decodes the next non-empty line from the stream.
// Lines that fail to parse are logged and skipped rather than treated
// as a stream failure, matching spec.md §4.4.1/S6 (malformed lines
// never cause a disconnect). io.EOF signals a clean disconnect by the
// provider; any other error is a read failure, always network-class,
// and the caller should close the stream and reconnect.
func (s *Stream) Next(ctx context.Context) (*model.Response[model.Tweet, model.StreamMeta], error) {
	for {
		line, err := s.readLine(ctx)
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		res, err := model.DecodeResponse[model.Tweet, model.StreamMeta]([]byte(line))
		if err != nil {
			streamLog.WithError(err).WithField("line", line).Warn("skipping unparsable stream line")
			continue
		}
		return res, nil
	}
}

// readLine enforces the 30s per-chunk read timeout from spec.md §4.2
// by racing the blocking bufio read against a timer and ctx.Done. The
// underlying *http.Response.Body has no native read deadline, so the
// read itself runs in a goroutine; on timeout or cancellation the
// stream is closed, which unblocks the pending read.
func (s *Stream) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := s.reader.ReadString('\n')
		ch <- result{line, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if errors.Is(r.err, io.EOF) {
				if r.line != "" {
					return r.line, nil
				}
				return "", io.EOF
			}
			return "", fmt.Errorf("stream: read: %w", r.err)
		}
		return r.line, nil
	case <-time.After(streamChunkWait):
		s.Close()
		return "", fmt.Errorf("stream: no data for %s: %w", streamChunkWait, errStreamTimeout)
	case <-ctx.Done():
		s.Close()
		return "", ctx.Err()
	}
}

// ClassifyStreamError maps an error returned by Stream.Next (other
// than io.EOF, which the caller handles as a plain reconnect signal)
// to a backoff.Class. Every such error originates from the
// connection's read path, so it is always network-class.
func ClassifyStreamError(err error) (backoff.Class, bool) {
	if err == nil {
		return backoff.None, false
	}
	return backoff.Network, true
}
