// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

// Package trend implements the single min-heap priority scheduler
// described in spec.md §4.5: candidate tweets from the search engine
// are tracked until their score crosses a configured threshold or
// they age out.
package trend

import (
	"container/heap"
	"context"
	"math"
	"time"

	"github.com/tirr-c/tweet-broadcast/internal/model"
	"github.com/tirr-c/tweet-broadcast/internal/score"
)

// Entry is one tracked candidate awaiting a future score check.
type Entry struct {
	TweetID       string
	ConfigRef     string
	CheckDueAt    time.Time
	CreatedAt     time.Time
	PreviousScore float64
	Penalty       uint32

	index int // heap.Interface bookkeeping
}

// entryHeap is the container/heap.Interface implementation ordered by
// CheckDueAt ascending.
type entryHeap []*Entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].CheckDueAt.Before(h[j].CheckDueAt) }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *entryHeap) Push(x any) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// key identifies an entry uniquely: the heap never holds more than one
// entry per (tweet_id, config_ref) pair.
type key struct {
	tweetID, configRef string
}

// Scheduler owns the heap. Per spec.md §5 it is owned by exactly one
// task/goroutine; it performs no internal locking.
type Scheduler struct {
	h       entryHeap
	entries map[key]*Entry

	// Now is injectable so tests can drive Insert's base-time and
	// Tick's due-time comparison deterministically; nil means real
	// time.Now.
	Now func() time.Time
}

// New returns an empty scheduler.
func New() *Scheduler {
	s := &Scheduler{entries: make(map[key]*Entry)}
	heap.Init(&s.h)
	return s
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Len reports the number of tracked entries.
func (s *Scheduler) Len() int { return s.h.Len() }

// Peek returns the tracked entry for (tweetID, configRef) without
// removing it from the heap, for diagnostics and tests.
func (s *Scheduler) Peek(tweetID, configRef string) (*Entry, bool) {
	e, ok := s.entries[key{tweetID: tweetID, configRef: configRef}]
	return e, ok
}

// Insert adds or re-queues a candidate tweet under configRef, per
// spec.md §4.5's delay formula. previous is the entry being re-polled
// (nil on first insert); curScore is the score just observed (nil on
// first insert, since there is nothing to score yet).
//
// Tweets that are retweets, or that lack a created-at timestamp or
// author public metrics, are silently rejected — they are never
// eligible for trend tracking.
func (s *Scheduler) Insert(tweet *model.Tweet, author *model.User, configRef string, previous *Entry, curScore *float64) {
	if _, isRetweet := tweet.GetRetweetSource(); isRetweet {
		return
	}
	if tweet.CreatedAt == nil {
		return
	}
	if author == nil || author.PublicMetrics == nil {
		return
	}

	followers := float64(author.PublicMetrics.FollowersCount)
	d := 60 / math.Pow(15, math.Min(1, followers/1000))

	var baseTime time.Time
	if curScore != nil {
		d *= math.Pow(0.98, *curScore)
		baseTime = s.now()
	} else {
		baseTime = *tweet.CreatedAt
	}

	var penalty uint32
	var recordedScore float64
	if previous != nil && curScore != nil {
		if *curScore-previous.PreviousScore < 1.0 {
			penalty = previous.Penalty * 2
			if penalty < 1 {
				penalty = 1
			}
		} else if previous.Penalty >= 2 {
			penalty = previous.Penalty - 2
		} else {
			penalty = 0
		}
		recordedScore = *curScore
	}

	d *= 1 + float64(penalty)
	dueAt := baseTime.Add(time.Duration(d * float64(time.Minute)))

	k := key{tweetID: tweet.ID, configRef: configRef}
	if existing, ok := s.entries[k]; ok {
		existing.CheckDueAt = dueAt
		existing.CreatedAt = *tweet.CreatedAt
		existing.PreviousScore = recordedScore
		existing.Penalty = penalty
		heap.Fix(&s.h, existing.index)
		return
	}

	e := &Entry{
		TweetID:       tweet.ID,
		ConfigRef:     configRef,
		CheckDueAt:    dueAt,
		CreatedAt:     *tweet.CreatedAt,
		PreviousScore: recordedScore,
		Penalty:       penalty,
	}
	s.entries[k] = e
	heap.Push(&s.h, e)
}

// dueEntries pops every entry whose CheckDueAt has passed, in
// nondecreasing CheckDueAt order.
func (s *Scheduler) dueEntries(now time.Time) []*Entry {
	var due []*Entry
	for s.h.Len() > 0 && !s.h[0].CheckDueAt.After(now) {
		e := heap.Pop(&s.h).(*Entry)
		delete(s.entries, key{tweetID: e.TweetID, configRef: e.ConfigRef})
		due = append(due, e)
	}
	return due
}

// Retriever is the subset of provider.Client the scheduler needs to
// re-check a candidate's current state.
type Retriever interface {
	Retrieve(ctx context.Context, ids []string) (*model.Response[[]model.Tweet, model.NoMeta], error)
}

// CacheChecker is the subset of cache.Store the scheduler needs to
// test cache idempotence (testable property #5): an entry whose tweet
// is already cached is dropped without re-emitting.
type CacheChecker interface {
	HasTweet(ctx context.Context, id string) (bool, error)
}

// Threshold resolves a config ref's score_threshold for promotion.
type Threshold func(configRef string) float64

// Promotion is a candidate that crossed its threshold this tick and
// is ready for the caller to persist to cache and dispatch to
// webhooks.
type Promotion struct {
	Entry  *Entry
	Tweet  model.Tweet
	Author model.User
	Media  []model.Media
	Score  float64
}

const (
	evictTinyAge   = 3 * time.Hour
	evictSmallAge  = 12 * time.Hour
	evictAnyAge    = 3 * 24 * time.Hour
	evictTinyScore = 0.01
	evictSmallScore = 2.0
)

// Tick pops every entry due by now, re-retrieves its current state,
// and for each one either drops it (already cached), promotes it
// (score ≥ threshold), evicts it (aged out per §4.5's age/score
// rules), or reinserts it with the re-poll delay formula.
func (s *Scheduler) Tick(ctx context.Context, r Retriever, cc CacheChecker, threshold Threshold) ([]Promotion, error) {
	now := s.now()
	due := s.dueEntries(now)
	if len(due) == 0 {
		return nil, nil
	}

	ids := make([]string, len(due))
	for i, e := range due {
		ids[i] = e.TweetID
	}
	resp, err := r.Retrieve(ctx, ids)
	if err != nil {
		return nil, err
	}

	var promotions []Promotion
	for _, e := range due {
		var tweet *model.Tweet
		for i := range resp.Data {
			if resp.Data[i].ID == e.TweetID {
				tweet = &resp.Data[i]
				break
			}
		}
		if tweet == nil || tweet.CreatedAt == nil || tweet.PublicMetrics == nil {
			continue
		}

		cached, err := cc.HasTweet(ctx, e.TweetID)
		if err != nil {
			return promotions, err
		}
		if cached {
			continue
		}

		var author *model.User
		if tweet.AuthorID != nil {
			author, _ = resp.Includes.GetUser(*tweet.AuthorID)
		}
		if author == nil || author.PublicMetrics == nil {
			continue
		}

		curScore := score.Compute(tweet.PublicMetrics, author.PublicMetrics, *tweet.CreatedAt)

		if curScore >= threshold(e.ConfigRef) {
			media := resolveMedia(tweet, &resp.Includes)
			promotions = append(promotions, Promotion{
				Entry:  e,
				Tweet:  *tweet,
				Author: *author,
				Media:  media,
				Score:  curScore,
			})
			continue
		}

		age := now.Sub(e.CreatedAt)
		if (curScore < evictTinyScore && age >= evictTinyAge) ||
			(curScore < evictSmallScore && age >= evictSmallAge) ||
			age >= evictAnyAge {
			continue
		}

		cs := curScore
		s.Insert(tweet, author, e.ConfigRef, e, &cs)
	}
	return promotions, nil
}

func resolveMedia(tweet *model.Tweet, includes *model.Includes) []model.Media {
	var media []model.Media
	for _, key := range tweet.MediaKeys() {
		if m, ok := includes.GetMedia(key); ok {
			media = append(media, *m)
		}
	}
	return media
}
