// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

// Package remote implements the optional remote media-push client of
// spec.md §6/§9: a signed notification that a tweet's media should be
// fetched and cached out-of-process. The server side and trust model
// are out of scope; this package only implements the documented
// signing contract, without assuming what consumes it.
package remote

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tirr-c/tweet-broadcast/internal/config"
)

// signatureValidity is how long after signing a push's signature
// remains acceptable to the (unspecified) receiving server.
const signatureValidity = 30 * time.Second

// Client pushes tweet-media-fetch notifications to a configured
// remote endpoint.
type Client struct {
	http       *http.Client
	endpoint   string
	signingKey []byte
}

// New builds a Client from a loaded RemoteConfig. A nil cfg means the
// feature is disabled; callers should skip constructing a Client in
// that case.
func New(client *http.Client, cfg *config.RemoteConfig) *Client {
	return &Client{
		http:       client,
		endpoint:   cfg.Endpoint,
		signingKey: []byte(cfg.SigningKey),
	}
}

type pushBody struct {
	ID string `json:"id"`
}

// sign computes the x-expires/x-signature header pair for body as of
// now: signature = base64(HMAC-SHA256(signingKey, expiresBytes ||
// body)), where expiresBytes is the expiry epoch-millisecond value
// encoded as an 8-byte big-endian integer.
func (c *Client) sign(body []byte, now time.Time) (expires int64, signature string) {
	expires = now.Add(signatureValidity).UnixMilli()
	var expiresBytes [8]byte
	binary.BigEndian.PutUint64(expiresBytes[:], uint64(expires))

	mac := hmac.New(sha256.New, c.signingKey)
	mac.Write(expiresBytes[:])
	mac.Write(body)
	return expires, base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// PushTweet notifies the remote endpoint that tweetID's media should
// be fetched.
func (c *Client) PushTweet(ctx context.Context, tweetID string) error {
	body, err := json.Marshal(pushBody{ID: tweetID})
	if err != nil {
		return fmt.Errorf("remote: marshal push body: %w", err)
	}

	expires, signature := c.sign(body, time.Now())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-expires", fmt.Sprintf("%d", expires))
	req.Header.Set("x-signature", signature)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote: push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote: push returned status %d", resp.StatusCode)
	}
	return nil
}
