// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

// Package score computes the composite popularity estimate the trend
// scheduler and the router both consult (§GLOSSARY "Score").
package score

import (
	"math"
	"time"

	"github.com/tirr-c/tweet-broadcast/internal/model"
)

// Compute returns the score for a tweet given its author's metrics and
// the tweet's creation time. Callers are expected to have already
// rejected tweets lacking public metrics or a created-at timestamp;
// Compute itself does not special-case nil metrics.
func Compute(tweetMetrics *model.TweetPublicMetrics, userMetrics *model.UserPublicMetrics, createdAt time.Time) float64 {
	daysDiff := time.Since(createdAt).Hours() / 24

	rts := float64(tweetMetrics.RetweetCount + tweetMetrics.QuoteCount)
	rtParam := rts / 500
	rtScore := fmax0(math.Log2(rtParam)) + math.Min(rtParam*rtParam, 1)

	likeParam := float64(tweetMetrics.LikeCount) / 2000
	likeScore := fmax0(math.Log2(likeParam)) + math.Min(likeParam, 1)

	followers := float64(userMetrics.FollowersCount)
	following := float64(userMetrics.FollowingCount)

	fLogY := -math.Log10(2) + math.Log10(0.2)*1e-5*followers
	followerAdjust := 1.5 - math.Pow(10, fLogY)

	ratio := followers / following
	followRateAdjust := fmax0(1 - (4.0/9.0)*ratio*ratio)

	base := fmax0((rtScore+likeScore)/followerAdjust - followRateAdjust)
	return base * 30 * math.Pow(1.5, (10-daysDiff)/10)
}

// fmax0 mirrors Rust's f64::max(0.0) semantics: a NaN operand yields
// the other operand (here always 0) rather than propagating NaN as
// math.Max would, so a zero-following account never poisons the
// result into NaN.
func fmax0(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(v, 0)
}
