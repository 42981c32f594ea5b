// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

// Package types defines the optional-field and expansion selectors used
// to build Twitter API v2 query parameters, plus the metric-name
// constants they report.
package types

// Fields defines a set of optional response fields to request. This
// interface is satisfied by the field-selector types below.
type Fields interface {
	// Label returns the query parameter name for this field type.
	Label() string

	// Values returns the values selected for this field type.
	Values() []string
}

// Expansions represents the set of object field expansions this module
// requests: enough to resolve a tweet's author, retweet/quote/reply
// source and its author, and attached media without a follow-up call
// for the common case.
type Expansions struct {
	// Return a user object representing the Tweet's author.
	AuthorID bool

	// Return a Tweet object that this Tweet is referencing (either as a
	// Retweet, Quoted Tweet, or reply).
	ReferencedTweetID bool

	// Return a user object for the author of the referenced Tweet.
	ReferencedAuthorID bool

	// Return a media object representing the images, videos, GIFs
	// included in the Tweet.
	MediaKeys bool
}

func (Expansions) Label() string { return "expansions" }

func (e Expansions) Values() []string {
	var out []string
	if e.AuthorID {
		out = append(out, "author_id")
	}
	if e.ReferencedTweetID {
		out = append(out, "referenced_tweets.id")
	}
	if e.ReferencedAuthorID {
		out = append(out, "referenced_tweets.id.author_id")
	}
	if e.MediaKeys {
		out = append(out, "attachments.media_keys")
	}
	return out
}

// AllExpansions is the fixed expansion set every ingest engine requests;
// the system has no configuration surface for trimming it.
func AllExpansions() Expansions {
	return Expansions{AuthorID: true, ReferencedTweetID: true, ReferencedAuthorID: true, MediaKeys: true}
}

// TweetFields selects optional fields on Tweet objects.
type TweetFields struct {
	CreatedAt         bool
	Entities          bool
	PublicMetrics     bool
	PossiblySensitive bool
}

func (TweetFields) Label() string { return "tweet.fields" }

func (f TweetFields) Values() []string {
	var out []string
	if f.CreatedAt {
		out = append(out, "created_at")
	}
	if f.Entities {
		out = append(out, "entities")
	}
	if f.PublicMetrics {
		out = append(out, "public_metrics")
	}
	if f.PossiblySensitive {
		out = append(out, "possibly_sensitive")
	}
	return out
}

func AllTweetFields() TweetFields {
	return TweetFields{CreatedAt: true, Entities: true, PublicMetrics: true, PossiblySensitive: true}
}

// UserFields selects optional fields on User objects.
type UserFields struct {
	ProfileImageURL bool
	PublicMetrics   bool
}

func (UserFields) Label() string { return "user.fields" }

func (f UserFields) Values() []string {
	var out []string
	if f.ProfileImageURL {
		out = append(out, "profile_image_url")
	}
	if f.PublicMetrics {
		out = append(out, "public_metrics")
	}
	return out
}

func AllUserFields() UserFields {
	return UserFields{ProfileImageURL: true, PublicMetrics: true}
}

// MediaFields selects optional fields on Media objects.
type MediaFields struct {
	Dimensions      bool
	URL             bool
	PreviewImageURL bool
}

func (MediaFields) Label() string { return "media.fields" }

func (f MediaFields) Values() []string {
	var out []string
	if f.Dimensions {
		out = append(out, "width", "height")
	}
	if f.URL {
		out = append(out, "url")
	}
	if f.PreviewImageURL {
		out = append(out, "preview_image_url")
	}
	return out
}

func AllMediaFields() MediaFields {
	return MediaFields{Dimensions: true, URL: true, PreviewImageURL: true}
}

// Constants for the names of metrics reported in a public-metrics
// object. See https://developer.twitter.com/en/docs/twitter-api/metrics
const (
	MetricFollowersCount = "followers_count"
	MetricFollowingCount = "following_count"
	MetricLikeCount      = "like_count"
	MetricListedCount    = "listed_count"
	MetricQuoteCount     = "quote_count"
	MetricReplyCount     = "reply_count"
	MetricRetweetCount   = "retweet_count"
	MetricTweetCount     = "tweet_count"
)
