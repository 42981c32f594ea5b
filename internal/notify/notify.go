// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

// Package notify builds the Discord-webhook-shaped JSON payloads the
// List and Timeline engines send directly, bypassing the Router: a
// per-tweet embed, and the catch-up / first-initialization notices
// that replace per-tweet embeds during a subject's first tick.
package notify

import (
	"fmt"

	"github.com/tirr-c/tweet-broadcast/internal/model"
)

const (
	username     = "tweet-broadcast"
	embedColor   = 1940464
	twitterFavic = "https://abs.twimg.com/favicons/favicon.png"
)

// InitializedPayload is sent once, the first time a subject's cursor
// is ever populated, in place of the single tweet that seeded it.
func InitializedPayload(subjectID string) map[string]any {
	return map[string]any{
		"username": username,
		"content":  fmt.Sprintf("List `%s` initialized", subjectID),
	}
}

// CatchUpPayload is sent once per catch-up tick instead of one
// message per skipped tweet, when the tick's window exceeds the
// normal per-tweet threshold.
func CatchUpPayload(subjectID string, tweetCount int) map[string]any {
	plural := "s"
	if tweetCount == 1 {
		plural = ""
	}
	return map[string]any{
		"username": username,
		"content": fmt.Sprintf(
			"Skipping %d tweet%s of list `%s` during list catch-up",
			tweetCount, plural, subjectID,
		),
	}
}

// TweetPayload builds the per-tweet Discord embed for tweet, resolving
// a retweet to its retweet source the same way the router's payload
// does (spec.md §4.6's "real tweet" substitution), using entries from
// includes.
func TweetPayload(tweet *model.Tweet, includes *model.Includes) (map[string]any, error) {
	originalAuthorID := tweet.AuthorID
	if originalAuthorID == nil {
		return nil, fmt.Errorf("notify: tweet %s has no author_id", tweet.ID)
	}
	originalAuthor, ok := includes.GetUser(*originalAuthorID)
	if !ok {
		return nil, fmt.Errorf("notify: author %s not in includes", *originalAuthorID)
	}

	real := tweet
	if srcID, isRetweet := tweet.GetRetweetSource(); isRetweet {
		if resolved, ok := includes.GetTweet(srcID); ok {
			real = resolved
		}
	}
	if real.AuthorID == nil {
		return nil, fmt.Errorf("notify: tweet %s has no author_id", real.ID)
	}
	author, ok := includes.GetUser(*real.AuthorID)
	if !ok {
		return nil, fmt.Errorf("notify: author %s not in includes", *real.AuthorID)
	}

	var media []map[string]any
	if !real.PossiblySensitiveFlag() {
		for _, key := range real.MediaKeys() {
			m, ok := includes.GetMedia(key)
			if !ok {
				continue
			}
			media = append(media, map[string]any{
				"url":    m.URLOrig(),
				"width":  m.Width,
				"height": m.Height,
			})
		}
	}

	embed := map[string]any{
		"author": map[string]any{
			"name":     fmt.Sprintf("%s (@%s)", author.Name, author.Username),
			"url":      "https://twitter.com/" + author.Username,
			"icon_url": author.ProfileImageURLOrig(),
		},
		"description": real.UnescapedText(),
		"timestamp":   real.CreatedAt,
		"url":         fmt.Sprintf("https://twitter.com/%s/status/%s", author.Username, real.ID),
		"color":       embedColor,
		"footer": map[string]any{
			"text":     "Twitter",
			"icon_url": twitterFavic,
		},
	}
	if len(media) > 0 {
		embed["image"] = media[0]
	}

	embeds := []map[string]any{embed}
	if len(media) > 1 {
		for _, m := range media[1:] {
			embeds = append(embeds, map[string]any{"image": m})
		}
	}

	var content string
	if real.PossiblySensitiveFlag() {
		content += "⚠ Possibly sensitive\n"
	}
	content += fmt.Sprintf("https://twitter.com/%s/status/%s", author.Username, real.ID)

	return map[string]any{
		"username":   fmt.Sprintf("%s (@%s)", originalAuthor.Name, originalAuthor.Username),
		"avatar_url": originalAuthor.ProfileImageURLOrig(),
		"content":    content,
		"embeds":     embeds,
	}, nil
}
