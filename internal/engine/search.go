// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

package engine

import (
	"context"
	"time"

	"github.com/tirr-c/tweet-broadcast/internal/augment"
	"github.com/tirr-c/tweet-broadcast/internal/cache"
	"github.com/tirr-c/tweet-broadcast/internal/config"
	"github.com/tirr-c/tweet-broadcast/internal/dispatch"
	"github.com/tirr-c/tweet-broadcast/internal/media"
	"github.com/tirr-c/tweet-broadcast/internal/model"
	"github.com/tirr-c/tweet-broadcast/internal/notify"
	"github.com/tirr-c/tweet-broadcast/internal/provider"
	"github.com/tirr-c/tweet-broadcast/internal/trend"
)

// SearchClient is the subset of *provider.Client the search engine and
// its trend scheduler need, narrowed to an interface so tests can
// substitute a fake pager/retriever.
type SearchClient interface {
	FetchSearchPage(ctx context.Context, term string, maxResults int, sinceID, nextToken *string) (*provider.Page[model.SearchMeta], error)
	Retrieve(ctx context.Context, ids []string) (*model.Response[[]model.Tweet, model.NoMeta], error)
}

// trendTickInterval is the trend scheduler's own poll period,
// independent of (and much tighter than) the search pager's 60s
// sweep: the base delay is at least 4 minutes, but a re-poll scales it
// by 0.98^score, so a high-scoring entry can fall due less than a
// minute after its previous check.
const trendTickInterval = 15 * time.Second

// SearchEngine runs the per-term recent-search pager of spec.md
// §4.4.3 and, for terms configured with `trending = true`, feeds
// matching tweets into a shared trend.Scheduler instead of delivering
// them immediately.
type SearchEngine struct {
	client     SearchClient
	cache      *cache.Store
	dispatcher *dispatch.Dispatcher
	scheduler  *trend.Scheduler
	terms      map[string]config.SearchTermConfig
	saver      media.Saver
	pusher     MediaPusher
}

// NewSearch builds a SearchEngine over the given term configuration.
// saver and pusher may each be nil, independently disabling local
// media download and remote media-push notification.
func NewSearch(client SearchClient, c *cache.Store, d *dispatch.Dispatcher, terms map[string]config.SearchTermConfig, saver media.Saver, pusher MediaPusher) *SearchEngine {
	return &SearchEngine{
		client:     client,
		cache:      c,
		dispatcher: d,
		scheduler:  trend.New(),
		terms:      terms,
		saver:      saver,
		pusher:     pusher,
	}
}

// fetchMedia downloads tweetID's media locally (if a saver is
// configured) and/or notifies the remote push endpoint (if a pusher
// is configured).
func (e *SearchEngine) fetchMedia(ctx context.Context, tweetID string, ms []model.Media) {
	if len(ms) == 0 {
		return
	}
	if e.saver != nil {
		for i := range ms {
			if err := e.saver.Save(ctx, &ms[i]); err != nil {
				log.WithError(err).WithField("key", ms[i].MediaKey).Warn("failed to save media blob")
			}
		}
	}
	if e.pusher != nil {
		if err := e.pusher.PushTweet(ctx, tweetID); err != nil {
			log.WithError(err).WithField("tweet", tweetID).Warn("failed to push remote media notification")
		}
	}
}

// Run ticks the search pager every tickInterval and the trend
// scheduler every trendTickInterval until ctx is cancelled.
func (e *SearchEngine) Run(ctx context.Context) error {
	searchTicker := time.NewTicker(tickInterval)
	defer searchTicker.Stop()
	trendTicker := time.NewTicker(trendTickInterval)
	defer trendTicker.Stop()

	for {
		select {
		case <-searchTicker.C:
			if err := e.Tick(ctx); err != nil {
				log.WithError(err).Warn("search tick failed")
			}
		case <-trendTicker.C:
			if err := e.TickTrend(ctx); err != nil {
				log.WithError(err).Warn("trend tick failed")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Tick polls every configured term once.
func (e *SearchEngine) Tick(ctx context.Context) error {
	for id, term := range e.terms {
		if err := e.pollTerm(ctx, id, term); err != nil {
			log.WithError(err).WithField("term", id).Warn("search poll failed")
		}
	}
	return nil
}

func (e *SearchEngine) pollTerm(ctx context.Context, id string, term config.SearchTermConfig) error {
	cur, err := e.cache.LoadCursor(ctx, cache.SearchCursor, id)
	if err != nil {
		return err
	}
	bound := cur.Head != nil

	maxResults := 20
	if bound {
		maxResults = 100
	}

	var all []model.Tweet
	includes := model.Includes{}
	var newestID *string
	var nextToken *string
	for {
		page, err := e.client.FetchSearchPage(ctx, term.Term, maxResults, cur.Head, nextToken)
		if err != nil {
			return err
		}
		if len(page.Tweets) == 0 {
			break
		}
		all = append(all, page.Tweets...)
		includes.Augment(page.Includes)
		if newestID == nil {
			newestID = page.Meta.NewestID
		}
		nextToken = page.Meta.NextToken
		if !bound || nextToken == nil {
			break
		}
	}
	if len(all) == 0 {
		return nil
	}

	if err := augment.Run(ctx, e.client, all, &includes); err != nil {
		log.WithError(err).WithField("term", id).Warn("augment failed, delivering with partial includes")
	}

	for i := range all {
		tweet := &all[i]
		if term.Trending {
			var author *model.User
			if tweet.AuthorID != nil {
				author, _ = includes.GetUser(*tweet.AuthorID)
			}
			e.scheduler.Insert(tweet, author, id, nil, nil)
			continue
		}
		payload, err := notify.TweetPayload(tweet, &includes)
		if err != nil {
			log.WithError(err).WithField("term", id).Warn("failed to build tweet notice")
			continue
		}
		e.fetchMedia(ctx, tweet.ID, mediaFor(tweet, &includes))
		for _, url := range term.Webhooks {
			if err := e.dispatcher.Send(ctx, url, payload); err != nil {
				log.WithError(err).WithField("url", url).Warn("webhook delivery failed")
			}
		}
	}

	if newestID == nil {
		return nil
	}
	cur.Head = newestID
	return e.cache.StoreCursor(ctx, cache.SearchCursor, cur)
}

// TickTrend advances the trend scheduler and delivers any promoted
// tweets to their term's configured webhooks.
func (e *SearchEngine) TickTrend(ctx context.Context) error {
	promotions, err := e.scheduler.Tick(ctx, e.client, e.cache, e.threshold)
	if err != nil {
		return err
	}
	for _, p := range promotions {
		term, ok := e.terms[p.Entry.ConfigRef]
		if !ok {
			continue
		}
		includes := model.Includes{Users: []model.User{p.Author}, Media: p.Media}
		payload, err := notify.TweetPayload(&p.Tweet, &includes)
		if err != nil {
			log.WithError(err).WithField("term", p.Entry.ConfigRef).Warn("failed to build promoted tweet notice")
			continue
		}
		e.fetchMedia(ctx, p.Tweet.ID, p.Media)
		for _, url := range term.Webhooks {
			if err := e.dispatcher.Send(ctx, url, payload); err != nil {
				log.WithError(err).WithField("url", url).Warn("webhook delivery failed")
			}
		}
		if err := e.cache.StoreTweet(ctx, &p.Tweet); err != nil {
			log.WithError(err).Warn("failed to cache promoted tweet")
		}
		if err := e.cache.StoreUser(ctx, &p.Author); err != nil {
			log.WithError(err).Warn("failed to cache promoted tweet author")
		}
		for i := range p.Media {
			if err := e.cache.StoreMedia(ctx, &p.Media[i]); err != nil {
				log.WithError(err).Warn("failed to cache promoted tweet media")
			}
		}
	}
	return nil
}

func mediaFor(tweet *model.Tweet, includes *model.Includes) []model.Media {
	keys := tweet.MediaKeys()
	out := make([]model.Media, 0, len(keys))
	for _, key := range keys {
		if m, ok := includes.GetMedia(key); ok {
			out = append(out, *m)
		}
	}
	return out
}

func (e *SearchEngine) threshold(configRef string) float64 {
	if term, ok := e.terms[configRef]; ok {
		return term.ScoreThreshold
	}
	return config.DefaultScoreThreshold
}
