// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

// Package engine drives the three ingest loops of spec.md §4.4 against
// a shared provider client, cache store, and dispatcher: the filtered
// stream, the periodic list/timeline pagers, and the periodic search
// pager with its trend-scheduler hookup.
package engine

import (
	"context"
	"errors"
	"io"

	"github.com/tirr-c/tweet-broadcast/internal/augment"
	"github.com/tirr-c/tweet-broadcast/internal/backoff"
	"github.com/tirr-c/tweet-broadcast/internal/cache"
	"github.com/tirr-c/tweet-broadcast/internal/dispatch"
	"github.com/tirr-c/tweet-broadcast/internal/logging"
	"github.com/tirr-c/tweet-broadcast/internal/media"
	"github.com/tirr-c/tweet-broadcast/internal/model"
	"github.com/tirr-c/tweet-broadcast/internal/provider"
	"github.com/tirr-c/tweet-broadcast/internal/router"
)

var log = logging.For("engine")

// StreamClient is the subset of provider.Client the stream engine
// drives; narrowed to an interface so tests can substitute a fake
// connection sequence.
type StreamClient interface {
	OpenStream(ctx context.Context, bc *backoff.Controller) (StreamReader, error)
}

// StreamReader is the subset of provider.Stream the engine consumes.
type StreamReader interface {
	Next(ctx context.Context) (*model.Response[model.Tweet, model.StreamMeta], error)
	Close() error
}

// clientStreamAdapter lets *provider.Client satisfy StreamClient,
// since Go cannot implicitly narrow OpenStream's *provider.Stream
// return type to the StreamReader interface.
type clientStreamAdapter struct{ *provider.Client }

func (a clientStreamAdapter) OpenStream(ctx context.Context, bc *backoff.Controller) (StreamReader, error) {
	return a.Client.OpenStream(ctx, bc)
}

// NewStreamClient adapts a *provider.Client to StreamClient.
func NewStreamClient(c *provider.Client) StreamClient { return clientStreamAdapter{c} }

// MediaPusher notifies an out-of-process consumer that a tweet's
// media should be fetched (spec.md §6's remote media push contract).
// It is satisfied by *remote.Client.
type MediaPusher interface {
	PushTweet(ctx context.Context, tweetID string) error
}

// StreamEngine runs the Connecting/Connected/Draining state machine of
// spec.md §4.4.1.
type StreamEngine struct {
	client     StreamClient
	retriever  augment.Retriever
	router     *router.Router
	dispatcher *dispatch.Dispatcher
	cache      *cache.Store
	saver      media.Saver
	pusher     MediaPusher
	bc         *backoff.Controller
}

// NewStream builds a StreamEngine. retriever augments bundles missing
// media (typically the same *provider.Client as client); r is the
// compiled user script driving route decisions. saver and pusher may
// each be nil, independently disabling local media download and
// remote media-push notification.
func NewStream(client StreamClient, retriever augment.Retriever, r *router.Router, d *dispatch.Dispatcher, c *cache.Store, saver media.Saver, pusher MediaPusher) *StreamEngine {
	return &StreamEngine{
		client:     client,
		retriever:  retriever,
		router:     r,
		dispatcher: d,
		cache:      c,
		saver:      saver,
		pusher:     pusher,
		bc:         backoff.New(log),
	}
}

// Run drives the engine until ctx is cancelled. A read timeout or a
// clean provider-side close (io.EOF) resets the connection-class
// backoff and reconnects; it is not treated as a fatal error.
func (e *StreamEngine) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		stream, err := e.client.OpenStream(ctx, e.bc)
		if err != nil {
			return err
		}
		e.drain(ctx, stream)
		stream.Close()
		e.bc.Record(backoff.Network)
	}
}

// drain reads bundles from stream until it errors or ctx is
// cancelled.
func (e *StreamEngine) drain(ctx context.Context, stream StreamReader) {
	for {
		bundle, err := stream.Next(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.WithError(err).Debug("stream disconnected")
			}
			return
		}
		if err := e.handle(ctx, bundle); err != nil {
			log.WithError(err).Error("failed to route tweet")
		}
	}
}

func (e *StreamEngine) handle(ctx context.Context, bundle *model.Response[model.Tweet, model.StreamMeta]) error {
	if err := augment.Run(ctx, e.retriever, []model.Tweet{bundle.Data}, &bundle.Includes); err != nil {
		log.WithError(err).Warn("augment failed, routing with partial includes")
	}

	result, err := e.router.Call(ctx, e.cache, bundle)
	if err != nil {
		return err
	}
	if len(result.Routes) == 0 {
		return nil
	}

	if !result.Payload.Cached {
		if err := e.persist(ctx, result); err != nil {
			log.WithError(err).Warn("failed to persist route metadata")
		}
	}

	e.fetchMedia(ctx, result.Payload)

	for _, route := range result.Routes {
		if err := e.dispatcher.Send(ctx, route.URL, route.Payload); err != nil {
			log.WithError(err).WithField("url", route.URL).Warn("webhook delivery failed")
		}
	}
	return nil
}

// fetchMedia downloads p's attached media locally (if a saver is
// configured) and/or notifies the remote push endpoint (if a pusher
// is configured). The pushed ID is that of the tweet as it arrived on
// the stream: the retweet wrapper (p.OriginalTweet) when present,
// otherwise p.Tweet, the same ID the route decision is keyed by. Either,
// both, or neither may be configured depending on SAVE_IMAGES and
// remote.toml's no_save_images setting.
func (e *StreamEngine) fetchMedia(ctx context.Context, p router.Payload) {
	if len(p.Media) == 0 {
		return
	}
	if e.saver != nil {
		for i := range p.Media {
			if err := e.saver.Save(ctx, &p.Media[i]); err != nil {
				log.WithError(err).WithField("key", p.Media[i].MediaKey).Warn("failed to save media blob")
			}
		}
	}
	if e.pusher != nil {
		tweetID := p.Tweet.ID
		if p.OriginalTweet != nil {
			tweetID = p.OriginalTweet.ID
		}
		if err := e.pusher.PushTweet(ctx, tweetID); err != nil {
			log.WithError(err).WithField("tweet", tweetID).Warn("failed to push remote media notification")
		}
	}
}

// persist writes the route decision and the routed entities to cache
// so a later duplicate of the same tweet is recognized as cached. It
// never blocks delivery: a persistence failure is logged by the
// caller, not treated as a routing failure.
func (e *StreamEngine) persist(ctx context.Context, result router.Result) error {
	p := result.Payload
	decision := routeDecision(p)
	if err := e.cache.StoreRouteDecision(ctx, decision); err != nil {
		return err
	}
	if err := e.cache.StoreTweet(ctx, &p.Tweet); err != nil {
		return err
	}
	if err := e.cache.StoreUser(ctx, &p.Author); err != nil {
		return err
	}
	if p.OriginalTweet != nil {
		if err := e.cache.StoreTweet(ctx, p.OriginalTweet); err != nil {
			return err
		}
	}
	if p.OriginalAuthor != nil {
		if err := e.cache.StoreUser(ctx, p.OriginalAuthor); err != nil {
			return err
		}
	}
	for i := range p.Media {
		if err := e.cache.StoreMedia(ctx, &p.Media[i]); err != nil {
			return err
		}
	}
	return nil
}

// routeDecision builds the on-disk route-decision record, keyed by the
// wrapper tweet's ID when the route was a retweet.
func routeDecision(p router.Payload) *cache.RouteDecision {
	tweetID, authorID := p.Tweet.ID, p.Author.ID
	var targetTweetID, targetAuthorID *string
	if p.OriginalTweet != nil {
		realTweetID, realAuthorID := p.Tweet.ID, p.Author.ID
		targetTweetID, targetAuthorID = &realTweetID, &realAuthorID
		tweetID, authorID = p.OriginalTweet.ID, p.OriginalAuthor.ID
	}
	mediaKeys := make([]string, len(p.Media))
	for i, m := range p.Media {
		mediaKeys[i] = m.MediaKey
	}
	return &cache.RouteDecision{
		TweetID:        tweetID,
		AuthorID:       authorID,
		TargetTweetID:  targetTweetID,
		TargetAuthorID: targetAuthorID,
		MediaKeys:      mediaKeys,
		Score:          p.Score,
		Tags:           p.Tags,
	}
}
