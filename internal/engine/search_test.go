// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

package engine_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tirr-c/tweet-broadcast/internal/cache"
	"github.com/tirr-c/tweet-broadcast/internal/config"
	"github.com/tirr-c/tweet-broadcast/internal/dispatch"
	"github.com/tirr-c/tweet-broadcast/internal/engine"
	"github.com/tirr-c/tweet-broadcast/internal/model"
	"github.com/tirr-c/tweet-broadcast/internal/provider"
)

type fakeSearchClient struct {
	pages   func(term string, maxResults int, sinceID, nextToken *string) (*provider.Page[model.SearchMeta], error)
	retrieveResp *model.Response[[]model.Tweet, model.NoMeta]
}

func (c *fakeSearchClient) FetchSearchPage(ctx context.Context, term string, maxResults int, sinceID, nextToken *string) (*provider.Page[model.SearchMeta], error) {
	return c.pages(term, maxResults, sinceID, nextToken)
}

func (c *fakeSearchClient) Retrieve(ctx context.Context, ids []string) (*model.Response[[]model.Tweet, model.NoMeta], error) {
	if c.retrieveResp != nil {
		return c.retrieveResp, nil
	}
	return &model.Response[[]model.Tweet, model.NoMeta]{}, nil
}

var _ = Describe("SearchEngine", func() {
	It("delivers non-trending matches immediately and advances the cursor", func() {
		store := cache.New(GinkgoT().TempDir())
		srv, rec := newRecordingServer()
		DeferCleanup(srv.Close)

		newest := "200"
		client := &fakeSearchClient{
			pages: func(term string, maxResults int, sinceID, nextToken *string) (*provider.Page[model.SearchMeta], error) {
				Expect(term).To(Equal("golang"))
				if sinceID != nil {
					return &provider.Page[model.SearchMeta]{}, nil
				}
				return &provider.Page[model.SearchMeta]{
					Tweets:   []model.Tweet{authoredTweet("200", now)},
					Includes: model.Includes{Users: []model.User{authorUser()}},
					Meta:     model.SearchMeta{NewestID: &newest},
				}, nil
			},
		}
		terms := map[string]config.SearchTermConfig{
			"t1": {Term: "golang", Webhooks: []string{srv.URL}, ScoreThreshold: config.DefaultScoreThreshold},
		}
		eng := engine.NewSearch(client, store, dispatch.New(srv.Client()), terms, nil, nil)

		Expect(eng.Tick(context.Background())).To(Succeed())
		Eventually(rec.count).Should(Equal(1))

		cur, err := store.LoadCursor(context.Background(), cache.SearchCursor, "t1")
		Expect(err).NotTo(HaveOccurred())
		Expect(cur.Head).NotTo(BeNil())
		Expect(*cur.Head).To(Equal("200"))
	})

	It("feeds trending terms into the scheduler instead of delivering immediately", func() {
		store := cache.New(GinkgoT().TempDir())
		srv, rec := newRecordingServer()
		DeferCleanup(srv.Close)

		newest := "300"
		client := &fakeSearchClient{
			pages: func(term string, maxResults int, sinceID, nextToken *string) (*provider.Page[model.SearchMeta], error) {
				if sinceID != nil {
					return &provider.Page[model.SearchMeta]{}, nil
				}
				return &provider.Page[model.SearchMeta]{
					Tweets:   []model.Tweet{authoredTweet("300", now)},
					Includes: model.Includes{Users: []model.User{authorUser()}},
					Meta:     model.SearchMeta{NewestID: &newest},
				}, nil
			},
		}
		terms := map[string]config.SearchTermConfig{
			"t2": {Term: "trendy", Trending: true, Webhooks: []string{srv.URL}, ScoreThreshold: 0},
		}
		eng := engine.NewSearch(client, store, dispatch.New(srv.Client()), terms, nil, nil)

		Expect(eng.Tick(context.Background())).To(Succeed())
		Consistently(rec.count).Should(Equal(0))
	})
})
