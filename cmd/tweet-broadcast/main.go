// Copyright (C) 2020 Michael J. Fromberger. All Rights Reserved.

// Command tweet-broadcast runs the ingest engines of spec.md §4.4
// against a single cache directory, dispatching routed and polled
// tweets to configured webhooks.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/tirr-c/tweet-broadcast/internal/cache"
	"github.com/tirr-c/tweet-broadcast/internal/config"
	"github.com/tirr-c/tweet-broadcast/internal/dispatch"
	"github.com/tirr-c/tweet-broadcast/internal/engine"
	"github.com/tirr-c/tweet-broadcast/internal/logging"
	"github.com/tirr-c/tweet-broadcast/internal/media"
	"github.com/tirr-c/tweet-broadcast/internal/provider"
	"github.com/tirr-c/tweet-broadcast/internal/remote"
	"github.com/tirr-c/tweet-broadcast/internal/router"
	"github.com/tirr-c/tweet-broadcast/internal/supervisor"
)

var log = logging.For("main")

// env holds the environment-derived settings envconfig populates; a
// .env file in the working directory is loaded first so local
// development doesn't need the variables exported to the shell.
type env struct {
	AppToken   string `envconfig:"APP_TOKEN" required:"true"`
	SaveImages bool   `envconfig:"SAVE_IMAGES"`
	CacheDir   string `envconfig:"CACHE_ENV" default:"./.tweets"`
}

// engineFlags collects repeated --engine flags. The default set
// (applied when none are given) matches the original daemon's
// always-on pair; the Search engine requires opting in since it needs
// searches.toml to name anything to search for.
type engineFlags []string

func (e *engineFlags) String() string { return strings.Join(*e, ",") }
func (e *engineFlags) Set(v string) error {
	*e = append(*e, v)
	return nil
}

func main() {
	if err := run(); err != nil {
		color.Red("fatal: %v", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		cacheFlag  string
		engines    engineFlags
		routeFile  string
		listsFile  string
		saveImages bool
	)
	flag.StringVar(&cacheFlag, "cache", "", "cache directory (overrides CACHE_ENV)")
	flag.Var(&engines, "engine", "engine to run (filtered_stream, list, search); repeatable")
	flag.BoolVar(&saveImages, "save-images", false, "download attached media to <cache>/images (overrides SAVE_IMAGES)")
	flag.StringVar(&routeFile, "route-script", "route.js", "path to the stream router's route.js")
	flag.StringVar(&listsFile, "lists", "lists.toml", "path to the List engine's configuration")
	flag.Parse()

	if len(engines) == 0 {
		engines = engineFlags{"filtered_stream", "list"}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}
	var e env
	if err := envconfig.Process("", &e); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	if cacheFlag != "" {
		e.CacheDir = cacheFlag
	}
	if saveImages {
		e.SaveImages = true
	}

	remoteCfg, err := config.LoadRemote("remote.toml")
	if err != nil {
		return fmt.Errorf("load remote.toml: %w", err)
	}

	color.Cyan("tweet-broadcast starting (cache=%s, engines=%s)", e.CacheDir, engines.String())

	store := cache.New(e.CacheDir)
	client := provider.New(e.AppToken)
	dispatcher := dispatch.New(&http.Client{})
	saver := buildMediaSaver(e, remoteCfg)
	var pusher engine.MediaPusher
	if remoteCfg != nil {
		pusher = remote.New(&http.Client{}, remoteCfg)
		log.Info("remote media push enabled")
	}

	var runnables []supervisor.Runnable
	for _, name := range engines {
		switch name {
		case "filtered_stream":
			eng, err := buildStreamEngine(client, store, routeFile, dispatcher, saver, pusher)
			if err != nil {
				return fmt.Errorf("build filtered_stream engine: %w", err)
			}
			runnables = append(runnables, eng)
		case "list":
			listEngines, err := buildListEngines(client, store, listsFile, dispatcher)
			if err != nil {
				return fmt.Errorf("build list engines: %w", err)
			}
			runnables = append(runnables, listEngines...)
		case "search":
			searchEngine, err := buildSearchEngine(client, store, dispatcher, saver, pusher)
			if err != nil {
				return fmt.Errorf("build search engine: %w", err)
			}
			runnables = append(runnables, searchEngine)
		default:
			return fmt.Errorf("unknown engine %q", name)
		}
	}

	if len(runnables) == 0 {
		return fmt.Errorf("no engines enabled")
	}

	sup := supervisor.New(runnables...)
	if err := sup.Run(context.Background()); err != nil {
		return err
	}
	log.Info("tweet-broadcast exiting")
	return nil
}

// buildMediaSaver wires the local media.Store, gated by SAVE_IMAGES
// and by remote.toml's no_save_images flag (spec.md §6: the remote
// endpoint's own config can suppress the local copy it would
// otherwise duplicate). A nil result disables media persistence.
func buildMediaSaver(e env, remoteCfg *config.RemoteConfig) media.Saver {
	if !e.SaveImages {
		return nil
	}
	if remoteCfg != nil && remoteCfg.NoSaveImages {
		return nil
	}
	return media.New(&http.Client{}, e.CacheDir)
}

func buildStreamEngine(client *provider.Client, store *cache.Store, routeFile string, dispatcher *dispatch.Dispatcher, saver media.Saver, pusher engine.MediaPusher) (*engine.StreamEngine, error) {
	script, err := os.ReadFile(routeFile)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", routeFile, err)
	}
	r, err := router.New(string(script))
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", routeFile, err)
	}
	return engine.NewStream(engine.NewStreamClient(client), client, r, dispatcher, store, saver, pusher), nil
}

func buildListEngines(client *provider.Client, store *cache.Store, listsFile string, dispatcher *dispatch.Dispatcher) ([]supervisor.Runnable, error) {
	cfg, err := config.LoadLists(listsFile)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", listsFile, err)
	}
	var out []supervisor.Runnable
	for listID, list := range cfg.Lists {
		pager := engine.ListPager(client, listID)
		out = append(out, engine.NewPeriodic(pager, store, cache.ListCursor, listID, dispatcher, list.Webhooks, client))
	}
	return out, nil
}

func buildSearchEngine(client *provider.Client, store *cache.Store, dispatcher *dispatch.Dispatcher, saver media.Saver, pusher engine.MediaPusher) (*engine.SearchEngine, error) {
	cfg, err := config.LoadSearches("searches.toml")
	if err != nil {
		return nil, fmt.Errorf("read searches.toml: %w", err)
	}
	return engine.NewSearch(client, store, dispatcher, cfg.Terms, saver, pusher), nil
}
