// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

package model

import (
	"encoding/json"
	"fmt"
)

// Includes is an append-only union of tweets, users, and media
// resolvable by ID/key. Every ID referenced by a tweet (author,
// referenced tweet, media key) must be resolvable from Includes
// before a bundle leaves the augmenter.
type Includes struct {
	Tweets []Tweet `json:"tweets,omitempty"`
	Users  []User  `json:"users,omitempty"`
	Media  []Media `json:"media,omitempty"`
}

func (in *Includes) GetTweet(id string) (*Tweet, bool) {
	for i := range in.Tweets {
		if in.Tweets[i].ID == id {
			return &in.Tweets[i], true
		}
	}
	return nil, false
}

func (in *Includes) GetUser(id string) (*User, bool) {
	for i := range in.Users {
		if in.Users[i].ID == id {
			return &in.Users[i], true
		}
	}
	return nil, false
}

func (in *Includes) GetMedia(key string) (*Media, bool) {
	for i := range in.Media {
		if in.Media[i].MediaKey == key {
			return &in.Media[i], true
		}
	}
	return nil, false
}

// Augment appends another Includes' entries into this one. It does not
// deduplicate: callers that repeatedly augment with overlapping data
// rely on Get* returning the first match, and on the augmenter never
// re-fetching an ID it already resolved (see augment.Run).
func (in *Includes) Augment(other Includes) {
	in.Tweets = append(in.Tweets, other.Tweets...)
	in.Users = append(in.Users, other.Users...)
	in.Media = append(in.Media, other.Media...)
}

// Empty reports whether the includes union carries no entries.
func (in *Includes) Empty() bool {
	return len(in.Tweets) == 0 && len(in.Users) == 0 && len(in.Media) == 0
}

// Response is the `{data, includes, meta}` bundle produced by every
// provider call. Data is typically a Tweet or a []Tweet; Meta carries
// whatever pagination/stream metadata that endpoint reports.
type Response[Data any, Meta any] struct {
	Data     Data     `json:"data"`
	Includes Includes `json:"includes"`
	Meta     Meta     `json:"-"`
}

// StreamMeta carries the stream's matching-rule metadata.
type StreamMeta struct {
	MatchingRules []MatchingRule `json:"matching_rules"`
}

type MatchingRule struct {
	ID  string `json:"id"`
	Tag string `json:"tag"`
}

// ListMeta carries pagination metadata shared by the list and timeline
// endpoints.
type ListMeta struct {
	ResultCount    int     `json:"result_count"`
	PreviousToken  *string `json:"previous_token,omitempty"`
	NextToken      *string `json:"next_token,omitempty"`
}

// SearchMeta carries pagination and newest/oldest-ID metadata from the
// recent-search endpoint.
type SearchMeta struct {
	ResultCount int     `json:"result_count"`
	NewestID    *string `json:"newest_id,omitempty"`
	OldestID    *string `json:"oldest_id,omitempty"`
	NextToken   *string `json:"next_token,omitempty"`
}

// NoMeta is used where an endpoint reports no flattened meta fields
// (e.g. the bulk tweet-lookup endpoint).
type NoMeta struct{}

// TwitterError is one entry of a provider error document.
type TwitterError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Type   string `json:"type"`
}

// ResponseError is the `{errors: [...]}` envelope the provider returns
// instead of a success body. It implements error so callers can return
// it directly.
type ResponseError struct {
	Errors []TwitterError `json:"errors"`
}

func (e *ResponseError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, te := range e.Errors {
		msgs[i] = te.Detail
	}
	return fmt.Sprint(msgs)
}

// rawEnvelope lets DecodeResponse distinguish the error shape from the
// success shape without committing to either type up front: some
// provider failures arrive with a 200 status, so status code alone is
// not a reliable discriminator.
type rawEnvelope struct {
	Errors json.RawMessage `json:"errors"`
}

// DecodeResponse unmarshals a provider response body into either a
// ResponseError or a Response[Data, Meta], selecting on the presence of
// the top-level "errors" key.
func DecodeResponse[Data any, Meta any](body []byte) (*Response[Data, Meta], error) {
	var raw rawEnvelope
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if len(raw.Errors) > 0 {
		var respErr ResponseError
		if err := json.Unmarshal(body, &respErr); err != nil {
			return nil, err
		}
		return nil, &respErr
	}

	var withMeta struct {
		Data     Data     `json:"data"`
		Includes Includes `json:"includes"`
		Meta     Meta     `json:"meta"`
	}
	if err := json.Unmarshal(body, &withMeta); err != nil {
		return nil, err
	}
	return &Response[Data, Meta]{
		Data:     withMeta.Data,
		Includes: withMeta.Includes,
		Meta:     withMeta.Meta,
	}, nil
}
