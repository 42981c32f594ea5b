// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

// Package cache implements the on-disk, content-addressed cache store
// described in spec.md §4.8: key/value persistence for tweets, users,
// media, routing decisions, and per-engine cursors. Writes are
// last-writer-wins; the filesystem's rename-or-write atomicity is the
// only concurrency guarantee callers get, so distinct keys are safe to
// write concurrently but a single key is not.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/tirr-c/tweet-broadcast/internal/model"
)

// Cursor is the per-engine, per-subject cursor record described in
// spec.md §3. Head == nil marks an uninitialized cursor.
type Cursor struct {
	Key  string
	Head *string
}

// Kind names an on-disk cursor sub-directory.
type Kind string

const (
	ListCursor     Kind = "lists"
	TimelineCursor Kind = "users"
	SearchCursor   Kind = "terms"
	StreamCursor   Kind = "stream_cursor"
)

// RouteDecision is the stream-routing cache record from spec.md §3:
// its presence on disk means "this tweet has already been emitted".
type RouteDecision struct {
	TweetID       string   `json:"tweetId"`
	AuthorID      string   `json:"authorId"`
	TargetTweetID *string  `json:"targetTweetId,omitempty"`
	TargetAuthorID *string `json:"targetAuthorId,omitempty"`
	MediaKeys     []string `json:"mediaKeys"`
	Score         float64  `json:"score"`
	Tags          []string `json:"tags"`
}

func (r *RouteDecision) Key() string { return r.TweetID }

// Store is the cache's capability surface. It is intentionally a set
// of narrow, entity-specific methods (rather than a single
// interface{}-keyed map) so that each entity kind keeps its own
// on-disk sub-directory and its own JSON shape, mirroring spec.md §6's
// on-disk layout.
type Store struct {
	root string
}

// New returns a Store rooted at dir. The directory is created lazily,
// on first write, matching the teacher's cache implementation which
// never requires the root to pre-exist.
func New(dir string) *Store {
	return &Store{root: dir}
}

func (s *Store) Root() string { return s.root }

var ErrNotFound = errors.New("cache: not found")

func (s *Store) entityPath(sub, key string) string {
	return filepath.Join(s.root, sub, key+".json")
}

func (s *Store) ensureDir(sub string) error {
	return os.MkdirAll(filepath.Join(s.root, sub), 0o755)
}

func loadJSON[T any](path string) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func hasFile(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func storeJSON(sub string, s *Store, key string, v any) error {
	if err := s.ensureDir(sub); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(s.entityPath(sub, key), data, 0o644)
}

// --- Tweet ---

func (s *Store) LoadTweet(_ context.Context, id string) (*model.Tweet, error) {
	return loadJSON[model.Tweet](s.entityPath("tweets", id))
}

func (s *Store) HasTweet(_ context.Context, id string) (bool, error) {
	return hasFile(s.entityPath("tweets", id))
}

func (s *Store) StoreTweet(_ context.Context, t *model.Tweet) error {
	return storeJSON("tweets", s, t.Key(), t)
}

// --- User ---

func (s *Store) LoadUser(_ context.Context, id string) (*model.User, error) {
	return loadJSON[model.User](s.entityPath("users", id))
}

func (s *Store) HasUser(_ context.Context, id string) (bool, error) {
	return hasFile(s.entityPath("users", id))
}

func (s *Store) StoreUser(_ context.Context, u *model.User) error {
	return storeJSON("users", s, u.Key(), u)
}

// --- Media ---

func (s *Store) LoadMedia(_ context.Context, key string) (*model.Media, error) {
	return loadJSON[model.Media](s.entityPath("media", key))
}

func (s *Store) HasMedia(_ context.Context, key string) (bool, error) {
	return hasFile(s.entityPath("media", key))
}

func (s *Store) StoreMedia(_ context.Context, m *model.Media) error {
	return storeJSON("media", s, m.Key(), m)
}

// --- Route decisions (stream) ---

func (s *Store) LoadRouteDecision(_ context.Context, tweetID string) (*RouteDecision, error) {
	return loadJSON[RouteDecision](s.entityPath("stream", tweetID))
}

func (s *Store) HasRouteDecision(_ context.Context, tweetID string) (bool, error) {
	return hasFile(s.entityPath("stream", tweetID))
}

func (s *Store) StoreRouteDecision(_ context.Context, r *RouteDecision) error {
	return storeJSON("stream", s, r.Key(), r)
}

// --- Cursors ---

func (s *Store) cursorPath(kind Kind, key string) string {
	return filepath.Join(s.root, string(kind), key)
}

// LoadCursor returns the cursor for key under kind. A missing file is
// not an error: it reports an uninitialized cursor (Head == nil).
func (s *Store) LoadCursor(_ context.Context, kind Kind, key string) (*Cursor, error) {
	path := s.cursorPath(kind, key)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Cursor{Key: key}, nil
		}
		return nil, err
	}
	head := string(data)
	return &Cursor{Key: key, Head: &head}, nil
}

func (s *Store) HasCursor(_ context.Context, kind Kind, key string) (bool, error) {
	return hasFile(s.cursorPath(kind, key))
}

// StoreCursor persists c. A nil Head deletes the on-disk cursor file,
// returning it to the uninitialized state.
func (s *Store) StoreCursor(_ context.Context, kind Kind, c *Cursor) error {
	if err := s.ensureDir(string(kind)); err != nil {
		return err
	}
	path := s.cursorPath(kind, c.Key)
	if c.Head == nil {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	return os.WriteFile(path, []byte(*c.Head), 0o644)
}
