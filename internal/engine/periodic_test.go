// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

package engine_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tirr-c/tweet-broadcast/internal/augment"
	"github.com/tirr-c/tweet-broadcast/internal/cache"
	"github.com/tirr-c/tweet-broadcast/internal/dispatch"
	"github.com/tirr-c/tweet-broadcast/internal/engine"
	"github.com/tirr-c/tweet-broadcast/internal/model"
)

// recordingServer captures every POST body's presence (not content)
// so tests can assert delivery counts without decoding Discord's
// embed shape.
type recordingServer struct {
	mu    sync.Mutex
	hits  int
	bodies []string
}

func newRecordingServer() (*httptest.Server, *recordingServer) {
	rec := &recordingServer{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		rec.mu.Lock()
		rec.hits++
		rec.bodies = append(rec.bodies, string(buf))
		rec.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	return srv, rec
}

func (r *recordingServer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hits
}

type fakeRetriever struct{}

func (fakeRetriever) Retrieve(ctx context.Context, ids []string) (*model.Response[[]model.Tweet, model.NoMeta], error) {
	return &model.Response[[]model.Tweet, model.NoMeta]{}, nil
}

func authoredTweet(id string, at time.Time) model.Tweet {
	authorID := "author-1"
	return model.Tweet{
		ID:        id,
		Text:      "tweet " + id,
		CreatedAt: &at,
		AuthorID:  &authorID,
		PublicMetrics: &model.TweetPublicMetrics{
			RetweetCount: 1,
			LikeCount:    1,
		},
	}
}

func authorUser() model.User {
	return model.User{
		ID:       "author-1",
		Name:     "Author",
		Username: "author",
		PublicMetrics: &model.UserPublicMetrics{
			FollowersCount: 100,
			FollowingCount: 10,
		},
	}
}

var now = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

var _ = Describe("PeriodicEngine", func() {
	var (
		store *cache.Store
		srv   *httptest.Server
		rec   *recordingServer
	)

	BeforeEach(func() {
		store = cache.New(GinkgoT().TempDir())
		srv, rec = newRecordingServer()
		DeferCleanup(srv.Close)
	})

	It("seeds the cursor and sends the initialized notice on first contact", func() {
		pager := engine.PagerFunc(func(ctx context.Context, maxResults int, token *string) ([]model.Tweet, model.Includes, int, *string, error) {
			Expect(maxResults).To(Equal(1))
			return []model.Tweet{authoredTweet("100", now)}, model.Includes{Users: []model.User{authorUser()}}, 1, nil, nil
		})
		eng := engine.NewPeriodic(pager, store, cache.ListCursor, "list-1", dispatch.New(srv.Client()), []string{srv.URL}, fakeRetriever{})

		Expect(eng.Tick(context.Background())).To(Succeed())
		Eventually(rec.count).Should(Equal(1))

		cur, err := store.LoadCursor(context.Background(), cache.ListCursor, "list-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(cur.Head).NotTo(BeNil())
		Expect(*cur.Head).To(Equal("100"))
	})

	It("emits a single catch-up notice when more than 5 tweets are pending", func() {
		Expect(store.StoreCursor(context.Background(), cache.ListCursor, &cache.Cursor{Key: "list-1", Head: strPtr("100")})).To(Succeed())

		calls := 0
		pager := engine.PagerFunc(func(ctx context.Context, maxResults int, token *string) ([]model.Tweet, model.Includes, int, *string, error) {
			calls++
			Expect(maxResults).To(Equal(100))
			tweets := []model.Tweet{
				authoredTweet("108", now), authoredTweet("107", now), authoredTweet("106", now),
				authoredTweet("105", now), authoredTweet("104", now), authoredTweet("103", now),
				authoredTweet("102", now), authoredTweet("101", now),
			}
			return tweets, model.Includes{Users: []model.User{authorUser()}}, len(tweets), nil, nil
		})
		eng := engine.NewPeriodic(pager, store, cache.ListCursor, "list-1", dispatch.New(srv.Client()), []string{srv.URL}, fakeRetriever{})

		Expect(eng.Tick(context.Background())).To(Succeed())
		Expect(calls).To(Equal(1))
		Eventually(rec.count).Should(Equal(1))

		cur, err := store.LoadCursor(context.Background(), cache.ListCursor, "list-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(*cur.Head).To(Equal("108"))
	})

	It("delivers each tweet individually when the catch-up window is small", func() {
		Expect(store.StoreCursor(context.Background(), cache.ListCursor, &cache.Cursor{Key: "list-1", Head: strPtr("100")})).To(Succeed())

		pager := engine.PagerFunc(func(ctx context.Context, maxResults int, token *string) ([]model.Tweet, model.Includes, int, *string, error) {
			tweets := []model.Tweet{authoredTweet("102", now), authoredTweet("101", now)}
			return tweets, model.Includes{Users: []model.User{authorUser()}}, len(tweets), nil, nil
		})
		eng := engine.NewPeriodic(pager, store, cache.ListCursor, "list-1", dispatch.New(srv.Client()), []string{srv.URL}, fakeRetriever{})

		Expect(eng.Tick(context.Background())).To(Succeed())
		Eventually(rec.count).Should(Equal(2))

		cur, err := store.LoadCursor(context.Background(), cache.ListCursor, "list-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(*cur.Head).To(Equal("102"))
	})

	It("paginates while a full page of strictly newer tweets keeps arriving", func() {
		Expect(store.StoreCursor(context.Background(), cache.ListCursor, &cache.Cursor{Key: "list-1", Head: strPtr("100")})).To(Succeed())

		token1 := "page-2"
		page := 0
		pager := engine.PagerFunc(func(ctx context.Context, maxResults int, token *string) ([]model.Tweet, model.Includes, int, *string, error) {
			page++
			switch page {
			case 1:
				Expect(token).To(BeNil())
				tweets := []model.Tweet{authoredTweet("106", now), authoredTweet("105", now)}
				return tweets, model.Includes{Users: []model.User{authorUser()}}, len(tweets), &token1, nil
			case 2:
				Expect(*token).To(Equal(token1))
				tweets := []model.Tweet{authoredTweet("104", now), authoredTweet("103", now)}
				return tweets, model.Includes{Users: []model.User{authorUser()}}, len(tweets), nil, nil
			default:
				Fail("unexpected extra page fetch")
				return nil, model.Includes{}, 0, nil, nil
			}
		})
		eng := engine.NewPeriodic(pager, store, cache.ListCursor, "list-1", dispatch.New(srv.Client()), []string{srv.URL}, fakeRetriever{})

		Expect(eng.Tick(context.Background())).To(Succeed())
		Expect(page).To(Equal(2))
		Eventually(rec.count).Should(Equal(4))

		cur, err := store.LoadCursor(context.Background(), cache.ListCursor, "list-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(*cur.Head).To(Equal("106"))
	})

	It("stops paginating once a page returns tweets at or below the cursor", func() {
		Expect(store.StoreCursor(context.Background(), cache.ListCursor, &cache.Cursor{Key: "list-1", Head: strPtr("100")})).To(Succeed())

		pager := engine.PagerFunc(func(ctx context.Context, maxResults int, token *string) ([]model.Tweet, model.Includes, int, *string, error) {
			more := "page-2"
			tweets := []model.Tweet{authoredTweet("102", now), authoredTweet("100", now), authoredTweet("099", now)}
			return tweets, model.Includes{Users: []model.User{authorUser()}}, len(tweets), &more, nil
		})
		eng := engine.NewPeriodic(pager, store, cache.ListCursor, "list-1", dispatch.New(srv.Client()), []string{srv.URL}, fakeRetriever{})

		Expect(eng.Tick(context.Background())).To(Succeed())
		Eventually(rec.count).Should(Equal(1))

		cur, err := store.LoadCursor(context.Background(), cache.ListCursor, "list-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(*cur.Head).To(Equal("102"))
	})
})

func strPtr(s string) *string { return &s }
