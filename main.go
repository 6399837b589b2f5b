package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"tuneresolve/resolver"
	"tuneresolve/resolver/app"
	"tuneresolve/resolver/source"
)

var (
	versionName = ""
	commitSHA   = ""
	buildTime   = ""
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: tuneresolve [flags] <command> [args]

Commands:
  resolve <platform:id> [...]   resolve playable URLs for one or more tracks
  lyrics <platform:id>          fetch lyric text
  cover <url>                   cache cover art, print the local path
  history                       list recent plays
  clear-history                 drop the play log
  stats                         print cache statistics
  clear-cache                   drop cached resolutions, lyrics and covers
  version                       print build information

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("c", "config.ini", "config file")
	quality := flag.String("q", "", "quality tier override (standard|high|lossless|hires|immersive)")
	title := flag.String("title", "", "track title, used for cross-platform matching")
	artist := flag.String("artist", "", "track artist, used for cross-platform matching")
	limit := flag.Int("n", 20, "history entry limit")
	days := flag.Int("days", 0, "history age limit in days, 0 for no limit")
	byArtist := flag.String("by-artist", "", "filter history by artist")
	byAlbum := flag.String("by-album", "", "filter history by album")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	if flag.Arg(0) == "version" {
		fmt.Printf("tuneresolve %s (%s, built %s)\n", versionName, commitSHA, buildTime)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}
	defer application.Shutdown(context.Background())

	if err := run(ctx, application, *quality, *title, *artist, *limit, *days, *byArtist, *byAlbum); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
}

func run(ctx context.Context, application *app.App, quality, title, artist string, limit, days int, byArtist, byAlbum string) error {
	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "resolve":
		if len(args) == 0 {
			return fmt.Errorf("resolve needs at least one platform:id argument")
		}
		tracks := make([]resolver.TrackReference, 0, len(args))
		for _, arg := range args {
			track, err := parseTrack(arg)
			if err != nil {
				return err
			}
			track.Title = title
			track.Artist = artist
			tracks = append(tracks, track)
		}

		tier := application.DefaultQuality()
		if quality != "" {
			parsed, err := source.ParseQuality(quality)
			if err != nil {
				return err
			}
			tier = parsed
		}

		if len(tracks) == 1 {
			result, err := application.Orchestrator.Resolve(ctx, tracks[0], tier)
			if err != nil {
				return err
			}
			return printJSON(result)
		}
		outcomes, err := application.Orchestrator.ResolveAll(ctx, tracks, tier)
		if err != nil {
			return err
		}
		for _, outcome := range outcomes {
			if outcome.Err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", outcome.Track.Key(), outcome.Err)
				continue
			}
			if err := printJSON(outcome.Result); err != nil {
				return err
			}
		}
		return nil

	case "lyrics":
		if len(args) != 1 {
			return fmt.Errorf("lyrics needs exactly one platform:id argument")
		}
		track, err := parseTrack(args[0])
		if err != nil {
			return err
		}
		text, err := application.GetLyrics(ctx, track.Platform, track.NativeID)
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil

	case "cover":
		if len(args) != 1 {
			return fmt.Errorf("cover needs exactly one url argument")
		}
		fmt.Println(application.GetCoverLocal(ctx, args[0]))
		return nil

	case "history":
		var entries []resolver.HistoryEntry
		var err error
		switch {
		case byArtist != "":
			entries, err = application.QueryHistoryByArtist(ctx, byArtist, limit)
		case byAlbum != "":
			entries, err = application.QueryHistoryByAlbum(ctx, byAlbum, limit)
		default:
			entries, err = application.QueryHistory(ctx, limit, days)
		}
		if err != nil {
			return err
		}
		return printJSON(entries)

	case "clear-history":
		return application.ClearHistory(ctx)

	case "stats":
		stats, err := application.CacheStats(ctx)
		if err != nil {
			return err
		}
		return printJSON(stats)

	case "clear-cache":
		return application.ClearCache(ctx)

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// parseTrack splits a platform:id token, tolerating ids that contain colons.
func parseTrack(arg string) (resolver.TrackReference, error) {
	platform, id, ok := strings.Cut(arg, ":")
	if !ok || platform == "" || id == "" {
		return resolver.TrackReference{}, fmt.Errorf("invalid track %q, want platform:id", arg)
	}
	return resolver.TrackReference{Platform: platform, NativeID: id}, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
