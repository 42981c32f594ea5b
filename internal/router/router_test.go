// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

package router_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tirr-c/tweet-broadcast/internal/model"
	"github.com/tirr-c/tweet-broadcast/internal/router"
)

type fakeCache struct {
	cached map[string]bool
	err    error
}

func (c *fakeCache) HasTweet(ctx context.Context, id string) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	return c.cached[id], nil
}

func bundleFor(tweet model.Tweet, author model.User) *model.Response[model.Tweet, model.StreamMeta] {
	return &model.Response[model.Tweet, model.StreamMeta]{
		Data: tweet,
		Includes: model.Includes{
			Users: []model.User{author},
		},
		Meta: model.StreamMeta{
			MatchingRules: []model.MatchingRule{{ID: "1", Tag: "keyword"}},
		},
	}
}

var _ = Describe("Router", func() {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	authorID := "author-1"

	baseTweet := func(id string) model.Tweet {
		return model.Tweet{
			ID:        id,
			Text:      "hello world",
			CreatedAt: &now,
			AuthorID:  &authorID,
			PublicMetrics: &model.TweetPublicMetrics{
				RetweetCount: 10,
				LikeCount:    20,
			},
		}
	}
	author := model.User{
		ID:            authorID,
		Name:          "Author",
		Username:      "author",
		PublicMetrics: &model.UserPublicMetrics{FollowersCount: 1000, FollowingCount: 100},
	}

	It("returns an error for a script missing the route function", func() {
		_, err := router.New("const notRoute = () => [];")
		Expect(err).To(HaveOccurred())
	})

	It("returns an error for a script with a syntax error", func() {
		_, err := router.New("function route( { return")
		Expect(err).To(HaveOccurred())
	})

	It("invokes route() and decodes an empty route list", func() {
		r, err := router.New(`function route(payload) { return []; }`)
		Expect(err).NotTo(HaveOccurred())
		defer r.Close()

		bundle := bundleFor(baseTweet("1"), author)
		res, err := r.Call(context.Background(), &fakeCache{}, bundle)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Routes).To(BeEmpty())
		Expect(res.Payload.Tweet.ID).To(Equal("1"))
		Expect(res.Payload.Author.Username).To(Equal("author"))
		Expect(res.Payload.Tags).To(Equal([]string{"keyword"}))
	})

	It("decodes multiple routes with arbitrary payloads", func() {
		script := `function route(payload) {
			return [
				{url: "https://example.com/a", payload: {text: payload.tweet.text}},
				{url: "https://example.com/b", payload: {score: payload.score}},
			];
		}`
		r, err := router.New(script)
		Expect(err).NotTo(HaveOccurred())
		defer r.Close()

		bundle := bundleFor(baseTweet("2"), author)
		res, err := r.Call(context.Background(), &fakeCache{}, bundle)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Routes).To(HaveLen(2))
		Expect(res.Routes[0].URL).To(Equal("https://example.com/a"))
		Expect(res.Routes[1].URL).To(Equal("https://example.com/b"))
	})

	It("surfaces a thrown exception without breaking the isolate", func() {
		r, err := router.New(`function route(payload) { throw new Error("boom"); }`)
		Expect(err).NotTo(HaveOccurred())
		defer r.Close()

		bundle := bundleFor(baseTweet("3"), author)
		_, err = r.Call(context.Background(), &fakeCache{}, bundle)
		Expect(err).To(HaveOccurred())

		// the isolate must still answer a subsequent call.
		Expect(r.Reload(context.Background(), `function route(payload) { return []; }`)).To(Succeed())
		res, err := r.Call(context.Background(), &fakeCache{}, bundle)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Routes).To(BeEmpty())
	})

	It("reflects cached status for the resolved real tweet", func() {
		r, err := router.New(`function route(payload) { return []; }`)
		Expect(err).NotTo(HaveOccurred())
		defer r.Close()

		source := baseTweet("source-1")
		retweet := model.Tweet{
			ID:               "rt-1",
			Text:             "RT @author: hello world",
			CreatedAt:        &now,
			AuthorID:         &authorID,
			ReferencedTweets: []model.ReferencedTweet{{Type: model.Retweeted, ID: source.ID}},
		}
		bundle := &model.Response[model.Tweet, model.StreamMeta]{
			Data: retweet,
			Includes: model.Includes{
				Tweets: []model.Tweet{source},
				Users:  []model.User{author},
			},
		}

		cc := &fakeCache{cached: map[string]bool{source.ID: true}}
		res, err := r.Call(context.Background(), cc, bundle)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Payload.Cached).To(BeTrue())
		Expect(res.Payload.Tweet.ID).To(Equal(source.ID))
		Expect(res.Payload.OriginalTweet).NotTo(BeNil())
		Expect(res.Payload.OriginalTweet.ID).To(Equal(retweet.ID))
	})

	It("propagates context cancellation without hanging", func() {
		r, err := router.New(`function route(payload) { return []; }`)
		Expect(err).NotTo(HaveOccurred())
		defer r.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		bundle := bundleFor(baseTweet("4"), author)
		_, err = r.Call(ctx, &fakeCache{}, bundle)
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
	})
})
