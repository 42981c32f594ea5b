// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

package engine

import (
	"context"
	"time"

	"github.com/tirr-c/tweet-broadcast/internal/augment"
	"github.com/tirr-c/tweet-broadcast/internal/cache"
	"github.com/tirr-c/tweet-broadcast/internal/dispatch"
	"github.com/tirr-c/tweet-broadcast/internal/model"
	"github.com/tirr-c/tweet-broadcast/internal/notify"
	"github.com/tirr-c/tweet-broadcast/internal/provider"
)

// tickInterval is the List/Timeline/Search engines' shared poll
// period (spec.md §4.4.2: "Periodic (60s tick)").
const tickInterval = 60 * time.Second

// catchupThreshold is the per-tweet-delivery cutoff: a catch-up tick
// that accumulates more tweets than this is summarized with a single
// notice instead of one message per tweet.
const catchupThreshold = 5

// Pager fetches one page of a subject's tweet timeline, advanced by
// token. It takes no since-ID bound: fetchSince drops tweets at or
// below the cursor itself. ListPager and TimelinePager build one from
// a *provider.Client bound to a specific list or user.
type Pager interface {
	FetchPage(ctx context.Context, maxResults int, token *string) ([]model.Tweet, model.Includes, int, *string, error)
}

// PagerFunc adapts a function to Pager.
type PagerFunc func(ctx context.Context, maxResults int, token *string) ([]model.Tweet, model.Includes, int, *string, error)

func (f PagerFunc) FetchPage(ctx context.Context, maxResults int, token *string) ([]model.Tweet, model.Includes, int, *string, error) {
	return f(ctx, maxResults, token)
}

// ListPager adapts *provider.Client.FetchListPage to Pager for listID.
func ListPager(c *provider.Client, listID string) Pager {
	return PagerFunc(func(ctx context.Context, maxResults int, token *string) ([]model.Tweet, model.Includes, int, *string, error) {
		page, err := c.FetchListPage(ctx, listID, maxResults, token)
		if err != nil {
			return nil, model.Includes{}, 0, nil, err
		}
		return page.Tweets, page.Includes, page.Meta.ResultCount, page.Meta.NextToken, nil
	})
}

// TimelinePager adapts *provider.Client.FetchUserTimelinePage to Pager
// for userID. The underlying endpoint accepts since_id directly, but
// the shared fetchSince loop still applies its own ID-boundary filter
// so the two pager kinds behave identically from the engine's view.
func TimelinePager(c *provider.Client, userID string) Pager {
	return PagerFunc(func(ctx context.Context, maxResults int, token *string) ([]model.Tweet, model.Includes, int, *string, error) {
		page, err := c.FetchUserTimelinePage(ctx, userID, maxResults, nil, token)
		if err != nil {
			return nil, model.Includes{}, 0, nil, err
		}
		return page.Tweets, page.Includes, page.Meta.ResultCount, page.Meta.NextToken, nil
	})
}

// fetchSince accumulates tweets newer than head (head == nil means
// "unbound": fetch only the single newest tweet to seed a cursor).
// Pagination follows spec.md §4.4.2 step 4: continue while a full page
// of strictly-newer tweets was returned and a next token exists.
// Results are returned oldest-first.
func fetchSince(ctx context.Context, pager Pager, head *string, catchup bool) ([]model.Tweet, model.Includes, error) {
	if head == nil {
		tweets, includes, _, _, err := pager.FetchPage(ctx, 1, nil)
		if err != nil {
			return nil, model.Includes{}, err
		}
		return tweets, includes, nil
	}

	maxResults := catchupThreshold
	if catchup {
		maxResults = 100
	}

	var all []model.Tweet
	var includes model.Includes
	var token *string
	for {
		tweets, pageIncludes, resultCount, nextToken, err := pager.FetchPage(ctx, maxResults, token)
		if err != nil {
			return nil, model.Includes{}, err
		}
		includes.Augment(pageIncludes)

		kept := 0
		for _, t := range tweets {
			if t.ID <= *head {
				break
			}
			all = append(all, t)
			kept++
		}
		if kept != resultCount || nextToken == nil {
			break
		}
		token = nextToken
	}

	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, includes, nil
}

// PeriodicEngine runs the shared List/Timeline ingest pattern of
// spec.md §4.4.2 against one subject.
type PeriodicEngine struct {
	pager      Pager
	cache      *cache.Store
	cursorKind cache.Kind
	subjectID  string
	dispatcher *dispatch.Dispatcher
	webhooks   []string
	retriever  augment.Retriever
	firstTick  bool
}

// NewPeriodic builds a PeriodicEngine for one list or timeline
// subject. cursorKind selects the on-disk cursor bucket
// (cache.ListCursor or cache.TimelineCursor).
func NewPeriodic(pager Pager, c *cache.Store, cursorKind cache.Kind, subjectID string, d *dispatch.Dispatcher, webhooks []string, retriever augment.Retriever) *PeriodicEngine {
	return &PeriodicEngine{
		pager:      pager,
		cache:      c,
		cursorKind: cursorKind,
		subjectID:  subjectID,
		dispatcher: d,
		webhooks:   webhooks,
		retriever:  retriever,
		firstTick:  true,
	}
}

// Run ticks the engine every tickInterval until ctx is cancelled.
func (e *PeriodicEngine) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := e.Tick(ctx); err != nil {
				log.WithError(err).WithField("subject", e.subjectID).Warn("periodic tick failed")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Tick runs exactly one fetch-since/deliver cycle. The advanced cursor
// is persisted after the cycle's deliveries, and not at all if ctx is
// cancelled before then.
func (e *PeriodicEngine) Tick(ctx context.Context) (err error) {
	cur, err := e.cache.LoadCursor(ctx, e.cursorKind, e.subjectID)
	if err != nil {
		return err
	}

	catchup := e.firstTick
	e.firstTick = false
	wasUninitialized := cur.Head == nil

	tweets, includes, err := fetchSince(ctx, e.pager, cur.Head, catchup)
	if err != nil {
		return err
	}
	if len(tweets) == 0 {
		return nil
	}

	newHead := tweets[len(tweets)-1].ID
	cur.Head = &newHead
	defer func() {
		if ctx.Err() != nil {
			return
		}
		if storeErr := e.cache.StoreCursor(ctx, e.cursorKind, cur); storeErr != nil && err == nil {
			err = storeErr
		}
	}()

	if wasUninitialized {
		return e.broadcast(ctx, notify.InitializedPayload(e.subjectID))
	}
	if catchup && len(tweets) > catchupThreshold {
		return e.broadcast(ctx, notify.CatchUpPayload(e.subjectID, len(tweets)))
	}

	if err := augment.Run(ctx, e.retriever, tweets, &includes); err != nil {
		log.WithError(err).WithField("subject", e.subjectID).Warn("augment failed, delivering with partial includes")
	}
	for i := range tweets {
		payload, err := notify.TweetPayload(&tweets[i], &includes)
		if err != nil {
			log.WithError(err).WithField("subject", e.subjectID).Warn("failed to build tweet notice")
			continue
		}
		if err := e.broadcast(ctx, payload); err != nil {
			return err
		}
	}
	return nil
}

// broadcast delivers payload to every configured webhook, one after
// another, so a slow or rate-limited destination delays the ones after
// it. Successive deliveries to the same destination are paced by the
// dispatcher's per-destination limiter.
func (e *PeriodicEngine) broadcast(ctx context.Context, payload any) error {
	var firstErr error
	for _, url := range e.webhooks {
		if err := e.dispatcher.Send(ctx, url, payload); err != nil {
			log.WithError(err).WithField("url", url).Warn("webhook delivery failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
