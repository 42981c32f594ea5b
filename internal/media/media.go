// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

// Package media implements the optional media-blob persistence of
// spec.md §6: downloading a tweet's attached images/previews to
// `images/<key>.<ext>` under the cache root when SAVE_IMAGES is set.
package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/tirr-c/tweet-broadcast/internal/logging"
	"github.com/tirr-c/tweet-broadcast/internal/model"
)

var log = logging.For("media")

// Saver persists a tweet's media attachments out-of-band from the
// routing/delivery path. A Saver failure is always logged by the
// caller and never treated as a routing failure.
type Saver interface {
	Save(ctx context.Context, m *model.Media) error
}

// Store downloads media blobs to disk under root/images.
type Store struct {
	http *http.Client
	root string
}

// New builds a Store that writes blobs under filepath.Join(root,
// "images").
func New(client *http.Client, root string) *Store {
	return &Store{http: client, root: root}
}

// Save downloads m's original-resolution URL and writes it to
// images/<media_key>.<ext>, skipping the download if the file already
// exists or m has no resolvable URL (a bare audio/text-only entity, in
// practice never returned by the provider).
func (s *Store) Save(ctx context.Context, m *model.Media) error {
	u := m.URLOrig()
	if u == nil {
		return nil
	}
	dest := filepath.Join(s.root, "images", m.Key()+extOf(*u))
	if _, err := os.Stat(dest); err == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, *u, nil)
	if err != nil {
		return fmt.Errorf("media: build request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("media: download %s: %w", m.Key(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("media: download %s: status %d", m.Key(), resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Join(s.root, "images"), 0o755); err != nil {
		return fmt.Errorf("media: prepare images dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Join(s.root, "images"), m.Key()+".*.tmp")
	if err != nil {
		return fmt.Errorf("media: create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("media: write %s: %w", m.Key(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("media: finalize %s: %w", m.Key(), err)
	}
	log.WithField("key", m.Key()).Debug("saved media blob")
	return nil
}

func extOf(rawURL string) string {
	clean := rawURL
	if i := strings.IndexByte(clean, '?'); i >= 0 {
		clean = clean[:i]
	}
	ext := path.Ext(clean)
	if ext == "" {
		return ".bin"
	}
	return ext
}
