// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

package provider

import (
	"context"

	"github.com/creachadair/jhttp"

	"github.com/tirr-c/tweet-broadcast/internal/model"
)

// Page is one page of a paged fetch: the decoded tweets, their
// includes, and the endpoint-specific metadata.
type Page[Meta any] struct {
	Tweets   []model.Tweet
	Includes model.Includes
	Meta     Meta
}

// fetchPage issues a single GET against method with params and decodes
// a Page[Meta].
func fetchPage[RawMeta any](ctx context.Context, c *Client, method string, params jhttp.Params) (*Page[RawMeta], error) {
	req := &jhttp.Request{Method: method, Params: params}
	data, err := c.jc.CallRaw(ctx, req)
	if err != nil {
		return nil, err
	}
	res, err := model.DecodeResponse[[]model.Tweet, RawMeta](data)
	if err != nil {
		return nil, err
	}
	return &Page[RawMeta]{Tweets: res.Data, Includes: res.Includes, Meta: res.Meta}, nil
}
