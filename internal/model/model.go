// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

// Package model defines the immutable value types exchanged between the
// provider client, the augmenter, the ingest engines, the trend
// scheduler, and the router: Tweet, User, Media, and the Response
// bundle that carries them alongside their includes.
package model

import (
	"net/url"
	"strings"
	"time"
)

// CacheItem is satisfied by any value the cache store can persist under
// its own key.
type CacheItem interface {
	Key() string
}

// TweetReferenceType classifies a reference from one tweet to another.
type TweetReferenceType string

const (
	Retweeted TweetReferenceType = "retweeted"
	Quoted    TweetReferenceType = "quoted"
	RepliedTo TweetReferenceType = "replied_to"
)

// ReferencedTweet is one entry in a Tweet's reference list.
type ReferencedTweet struct {
	Type TweetReferenceType `json:"type"`
	ID   string             `json:"id"`
}

// TweetPublicMetrics carries the counters used by the trend scoring
// formula and by outbound payloads.
type TweetPublicMetrics struct {
	ReplyCount   uint64 `json:"reply_count"`
	RetweetCount uint64 `json:"retweet_count"`
	QuoteCount   uint64 `json:"quote_count"`
	LikeCount    uint64 `json:"like_count"`
}

// Attachments holds the media keys a tweet references.
type Attachments struct {
	MediaKeys []string `json:"media_keys,omitempty"`
}

// Entities holds the hashtag and URL entities extracted from tweet
// text. The system never inspects entity contents beyond the presence
// of attached media, but the raw entities are kept for the router's
// user script.
type Entities struct {
	Hashtags []Hashtag   `json:"hashtags,omitempty"`
	URLs     []URLEntity `json:"urls,omitempty"`
}

type Hashtag struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Tag   string `json:"tag"`
}

type URLEntity struct {
	Start       int    `json:"start"`
	End         int    `json:"end"`
	URL         string `json:"url"`
	DisplayURL  string `json:"display_url"`
	ExpandedURL string `json:"expanded_url"`
}

// Tweet is an immutable value once stored. Its ID is a string because
// Twitter snowflake IDs exceed the safe-integer range of many JSON
// consumers, but they remain lexicographically orderable and
// monotonically increasing with creation time, so plain string
// comparison serves as the cursor total order.
type Tweet struct {
	ID                string              `json:"id"`
	Text              string              `json:"text"`
	CreatedAt         *time.Time          `json:"created_at,omitempty"`
	AuthorID          *string             `json:"author_id,omitempty"`
	Entities          Entities            `json:"entities"`
	Attachments       Attachments         `json:"attachments"`
	PublicMetrics     *TweetPublicMetrics `json:"public_metrics,omitempty"`
	PossiblySensitive *bool               `json:"possibly_sensitive,omitempty"`
	ReferencedTweets  []ReferencedTweet   `json:"referenced_tweets,omitempty"`
}

func (t *Tweet) Key() string { return t.ID }

// UnescapedText returns the tweet body with the handful of HTML
// entities Twitter escapes in tweet text resolved back to literal
// characters, for human-facing rendering.
func (t *Tweet) UnescapedText() string {
	r := strings.NewReplacer("&lt;", "<", "&gt;", ">", "&amp;", "&")
	return r.Replace(t.Text)
}

func (t *Tweet) Metrics() *TweetPublicMetrics { return t.PublicMetrics }

func (t *Tweet) MediaKeys() []string { return t.Attachments.MediaKeys }

func (t *Tweet) PossiblySensitiveFlag() bool {
	return t.PossiblySensitive != nil && *t.PossiblySensitive
}

// GetRetweetSource returns the ID of the tweet this one retweets, if
// any.
func (t *Tweet) GetRetweetSource() (string, bool) {
	for _, ref := range t.ReferencedTweets {
		if ref.Type == Retweeted {
			return ref.ID, true
		}
	}
	return "", false
}

// UserPublicMetrics carries follower/following counts used by the
// trend scoring formula.
type UserPublicMetrics struct {
	FollowersCount uint64 `json:"followers_count"`
	FollowingCount uint64 `json:"following_count"`
	TweetCount     uint64 `json:"tweet_count"`
	ListedCount    uint64 `json:"listed_count"`
}

// User is an immutable value once stored.
type User struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Username        string             `json:"username"`
	ProfileImageURL *string            `json:"profile_image_url,omitempty"`
	PublicMetrics   *UserPublicMetrics `json:"public_metrics,omitempty"`
}

func (u *User) Key() string { return u.ID }

func (u *User) Metrics() *UserPublicMetrics { return u.PublicMetrics }

// ProfileImageURLOrig upscales the `_normal` thumbnail Twitter serves
// by default back to the full-size profile image.
func (u *User) ProfileImageURLOrig() *string {
	if u.ProfileImageURL == nil {
		return nil
	}
	orig := strings.Replace(*u.ProfileImageURL, "_normal.", ".", 1)
	return &orig
}

// MediaType classifies an attached media object.
type MediaType string

const (
	Photo        MediaType = "photo"
	Video        MediaType = "video"
	AnimatedGIF  MediaType = "animated_gif"
)

// Media is an immutable value once stored.
type Media struct {
	MediaKey        string    `json:"media_key"`
	Width           uint64    `json:"width"`
	Height          uint64    `json:"height"`
	Type            MediaType `json:"type"`
	URL             *string   `json:"url,omitempty"`
	PreviewImageURL *string   `json:"preview_image_url,omitempty"`
}

func (m *Media) Key() string { return m.MediaKey }

// URLOrig returns the canonical URL with any size parameter stripped
// and replaced with the original-size request, falling back to the
// preview image URL when the provider never supplied a direct URL
// (notably for videos and GIFs).
func (m *Media) URLOrig() *string {
	if m.URL == nil {
		return m.PreviewImageURL
	}
	u, err := url.Parse(*m.URL)
	if err != nil {
		return m.URL
	}
	q := u.Query()
	q.Set("name", "orig")
	u.RawQuery = q.Encode()
	out := u.String()
	return &out
}
