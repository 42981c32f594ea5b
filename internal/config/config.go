// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

// Package config loads the TOML configuration inputs described in
// spec.md §6: per-engine webhook destinations and thresholds, and the
// optional remote media-push endpoint.
package config

import (
	"os"

	"github.com/pelletier/go-toml"
)

// ListConfig is one entry of lists.toml: `lists.<id> = { webhooks }`.
type ListConfig struct {
	Webhooks []string `toml:"webhooks"`
}

// ListsConfig is the List engine's full configuration file.
type ListsConfig struct {
	Lists map[string]ListConfig `toml:"lists"`
}

// SearchTermConfig is one entry of searches.toml: `terms.<id> = {
// term, trending, score_threshold, webhooks }`.
type SearchTermConfig struct {
	Term           string   `toml:"term"`
	Trending       bool     `toml:"trending"`
	ScoreThreshold float64  `toml:"score_threshold"`
	Webhooks       []string `toml:"webhooks"`
}

// DefaultScoreThreshold is applied to any term config that omits
// score_threshold (spec.md §6: "default 15.0").
const DefaultScoreThreshold = 15.0

// SearchesConfig is the Search engine's full configuration file.
type SearchesConfig struct {
	Terms map[string]SearchTermConfig `toml:"terms"`
}

// RemoteConfig is the optional remote media-push endpoint
// configuration (spec.md §6/§9).
type RemoteConfig struct {
	Endpoint     string `toml:"endpoint"`
	SigningKey   string `toml:"signing_key"`
	NoSaveImages bool   `toml:"no_save_images"`
}

// LoadLists reads and parses a lists.toml file at path.
func LoadLists(path string) (*ListsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg ListsConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.Lists == nil {
		cfg.Lists = map[string]ListConfig{}
	}
	return &cfg, nil
}

// LoadSearches reads and parses a searches.toml file at path. Any term
// whose score_threshold is the TOML zero value (unset) is backfilled
// with DefaultScoreThreshold.
func LoadSearches(path string) (*SearchesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg SearchesConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.Terms == nil {
		cfg.Terms = map[string]SearchTermConfig{}
	}
	for id, term := range cfg.Terms {
		if term.ScoreThreshold == 0 {
			term.ScoreThreshold = DefaultScoreThreshold
			cfg.Terms[id] = term
		}
	}
	return &cfg, nil
}

// LoadRemote reads and parses an optional remote.toml file at path. A
// missing file is not an error: it reports a nil config, meaning the
// remote media push feature is disabled.
func LoadRemote(path string) (*RemoteConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var cfg RemoteConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
