// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

// Package supervisor runs the configured set of ingest engines side by
// side and tears them all down together on the first failure or
// signal, per spec.md §5's cancellation-safety rule: in-flight partial
// batches are abandoned rather than persisted, since every engine only
// commits a cursor after a full fetch-since cycle completes.
package supervisor

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/tirr-c/tweet-broadcast/internal/logging"
)

var log = logging.For("supervisor")

// Runnable is any engine with a blocking Run loop: it returns only
// when ctx is cancelled (in which case it returns ctx.Err(), not
// treated as a failure) or when it hits an unrecoverable error.
type Runnable interface {
	Run(ctx context.Context) error
}

// Supervisor drives a fixed set of Runnables concurrently.
type Supervisor struct {
	engines []Runnable
}

// New builds a Supervisor over engines. The slice order has no
// significance; every engine starts together.
func New(engines ...Runnable) *Supervisor {
	return &Supervisor{engines: engines}
}

// Run starts every engine and blocks until they all stop: either
// because ctx was cancelled, a SIGINT/SIGTERM/SIGQUIT was delivered,
// or one engine returned a non-cancellation error, which cancels the
// rest. A clean shutdown (cancellation-triggered) reports nil.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)
	for _, e := range s.engines {
		e := e
		group.Go(func() error {
			err := e.Run(gctx)
			if err == context.Canceled || err == context.DeadlineExceeded {
				return nil
			}
			return err
		})
	}

	err := group.Wait()
	if err != nil {
		log.WithError(err).Error("engine failed, shutting down")
		return err
	}
	log.Info("shutdown complete")
	return nil
}
