// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

// Package augment implements the back-fill step every ingest engine
// runs on a freshly-fetched batch before it reaches the router or the
// trend scheduler: spec.md §4.3.
package augment

import (
	"context"

	"github.com/tirr-c/tweet-broadcast/internal/model"
)

// Retriever is the subset of provider.Client the augmenter needs,
// narrowed to an interface so tests can supply a fake without
// standing up a real HTTP client.
type Retriever interface {
	Retrieve(ctx context.Context, ids []string) (*model.Response[[]model.Tweet, model.NoMeta], error)
}

// Run back-fills includes for tweets. For each tweet it resolves the
// "real" tweet whose media the caller actually cares about — a
// retweet's own media keys are always empty, so a retweeted tweet is
// resolved to its retweet source first. If that real tweet has a
// media key absent from includes, its ID is collected into a
// missing-set; the missing-set (if non-empty) is retrieved in one
// bulk call and folded into includes.
//
// Run is idempotent: once every media key is resolvable the
// missing-set is empty and no request is made, so re-running on an
// already-augmented bundle is a no-op.
func Run(ctx context.Context, r Retriever, tweets []model.Tweet, includes *model.Includes) error {
	var missing []string
	seen := make(map[string]bool)
	for i := range tweets {
		id, ok := needsAugment(&tweets[i], includes)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return nil
	}

	resp, err := r.Retrieve(ctx, missing)
	if err != nil {
		return err
	}
	includes.Tweets = append(includes.Tweets, resp.Data...)
	includes.Augment(resp.Includes)
	return nil
}

// needsAugment reports the ID that should be retrieved to complete
// tweet's media, if any. A retweet source missing from includes
// (which should not happen given the expansions every fetch requests)
// falls back to the retweet itself rather than retrieving nothing.
func needsAugment(tweet *model.Tweet, includes *model.Includes) (string, bool) {
	real := tweet
	if srcID, ok := tweet.GetRetweetSource(); ok {
		if resolved, ok := includes.GetTweet(srcID); ok {
			real = resolved
		}
	}

	for _, key := range real.MediaKeys() {
		if _, ok := includes.GetMedia(key); !ok {
			return real.ID, true
		}
	}
	return "", false
}
