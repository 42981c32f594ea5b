// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

package provider

import (
	"context"
	"strconv"

	"github.com/tirr-c/tweet-broadcast/internal/model"
)

// FetchListPage fetches one page of a list's tweet timeline.
// maxResults and an optional paginationToken control the window; the
// returned Page's Meta exposes ResultCount/NextToken for the caller's
// pagination loop (spec.md §4.4.2).
func (c *Client) FetchListPage(ctx context.Context, listID string, maxResults int, paginationToken *string) (*Page[model.ListMeta], error) {
	params := commonParams()
	params.Set("max_results", strconv.Itoa(maxResults))
	if paginationToken != nil {
		params.Set("pagination_token", *paginationToken)
	}
	return fetchPage[model.ListMeta](ctx, c, "2/lists/"+listID+"/tweets", params)
}

// FetchSearchPage fetches one page of the recent-search endpoint for
// term, optionally bounded below by sinceID and advanced by nextToken
// (spec.md §4.4.3).
func (c *Client) FetchSearchPage(ctx context.Context, term string, maxResults int, sinceID, nextToken *string) (*Page[model.SearchMeta], error) {
	params := commonParams()
	params.Set("query", term)
	params.Set("max_results", strconv.Itoa(maxResults))
	if sinceID != nil {
		params.Set("since_id", *sinceID)
	}
	if nextToken != nil {
		params.Set("next_token", *nextToken)
	}
	return fetchPage[model.SearchMeta](ctx, c, "2/tweets/search/recent", params)
}

// FetchUserTimelinePage fetches one page of a user's tweet timeline
// (the Timeline engine variant of spec.md §4.4.2, sharing the same
// since-cursor/pagination pattern as the List engine).
func (c *Client) FetchUserTimelinePage(ctx context.Context, userID string, maxResults int, sinceID, paginationToken *string) (*Page[model.ListMeta], error) {
	params := commonParams()
	params.Set("max_results", strconv.Itoa(maxResults))
	if sinceID != nil {
		params.Set("since_id", *sinceID)
	}
	if paginationToken != nil {
		params.Set("pagination_token", *paginationToken)
	}
	return fetchPage[model.ListMeta](ctx, c, "2/users/"+userID+"/tweets", params)
}
