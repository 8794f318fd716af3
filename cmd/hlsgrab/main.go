// The hlsgrab command lists and downloads the renditions of an adaptive
// streaming manifest, or downloads a progressive file directly.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/agleyzer/hlsgrab/internal/cluster"
	"github.com/agleyzer/hlsgrab/internal/config"
	"github.com/agleyzer/hlsgrab/internal/download"
	"github.com/agleyzer/hlsgrab/internal/fetch"
	"github.com/agleyzer/hlsgrab/internal/hlserr"
	"github.com/agleyzer/hlsgrab/internal/mux"
	"github.com/agleyzer/hlsgrab/internal/platform"
	"github.com/agleyzer/hlsgrab/internal/resolver"
	"github.com/agleyzer/hlsgrab/internal/server"
	"github.com/agleyzer/hlsgrab/internal/session"
	"github.com/agleyzer/hlsgrab/internal/variant"
	"github.com/mattn/go-colorable"
)

const (
	version = "1.0.0"
)

func main() {
	flags := config.NewFlags(flag.CommandLine)

	var (
		selectIndex = flag.Int("select", -1, "Download variant N of the listed variants instead of listing them")
		serve       = flag.Bool("serve", false, "Run the HTTP front-end instead of a single download")
		cookie      = flag.String("cookie", "", "Cookie header sent with direct file downloads")
		noProgress  = flag.Bool("no-progress", false, "Disable the segment progress bar")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "hlsgrab - adaptive stream downloader v%s\n\n", version)
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <url>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "       %s -serve [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Arguments:\n")
		fmt.Fprintf(os.Stderr, "  <url>    top-level .m3u8 manifest or direct media file URL\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEvery option can also be set as %s<NAME> or in the -config JSON file.\n", config.EnvPrefix)
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s https://video.twimg.com/amplify_video/1/pl/master.m3u8\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -select 0 -output-dir ~/videos https://video.twimg.com/amplify_video/1/pl/master.m3u8\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -serve -port 8080 -raft-bind 127.0.0.1:7000 -raft-peers 127.0.0.1:7000,127.0.0.1:7001\n", os.Args[0])
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("hlsgrab v%s\n", version)
		os.Exit(0)
	}

	cfg, err := flags.Load(os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if !*serve && flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: url is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	// Setup logger
	logLevel := slog.LevelInfo
	if cfg.Verbose {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(colorable.NewColorableStderr(), &slog.HandlerOptions{
		Level: logLevel,
	}))

	logger.Info("hlsgrab starting", "version", version, "config", cfg)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received signal", "signal", sig)
		cancel()
	}()

	a, err := newApp(cfg, mux.NewFFmpeg(cfg.FFmpegPath, logger), logger)
	if err != nil {
		logger.Error("application error", "error", err)
		os.Exit(1)
	}

	if *serve {
		err = runServer(ctx, a, cfg, logger)
	} else {
		if !*noProgress && !cfg.Verbose {
			a.fetcher.SetObserver(newProgressObserver(os.Stderr))
		}
		err = run(ctx, a, flag.Arg(0), *selectIndex, *cookie, os.Stdout)
	}

	if err != nil {
		logger.Error("application error", "kind", hlserr.Kind(err), "error", err)
		os.Exit(1)
	}
}

// app holds the wired download pipeline.
type app struct {
	fetcher   *fetch.Fetcher
	manifests *platform.ManifestSource
	files     *platform.FileSource
}

func newApp(cfg config.Config, muxer mux.Muxer, logger *slog.Logger) (*app, error) {
	fetcher := fetch.New(cfg.Fetch(), logger)
	streams := resolver.NewStreamResolver(fetcher, cfg.Resolver(), logger)
	variants := resolver.NewVariantResolver(fetcher, streams, cfg.Resolver(), logger)
	orchestrator := download.New(streams, muxer, cfg.Download(), logger)

	files, err := platform.NewFileSource(cfg.Direct(), logger)
	if err != nil {
		return nil, err
	}

	return &app{
		fetcher:   fetcher,
		manifests: platform.NewManifestSource(variants, orchestrator),
		files:     files,
	}, nil
}

// run handles one URL: lists variants, downloads the selected one, or
// downloads a direct file. Results go to out.
func run(ctx context.Context, a *app, url string, selectIndex int, cookie string, out io.Writer) error {
	kind, err := platform.Detect(url)
	if err != nil {
		return err
	}

	if kind == platform.DirectFile {
		path, err := a.files.Download(ctx, url, cookie)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, path)
		return nil
	}

	set, err := a.manifests.Variants(ctx, url)
	if err != nil {
		return err
	}

	if selectIndex < 0 {
		return printVariants(out, set)
	}

	v, err := set.At(selectIndex)
	if err != nil {
		return err
	}
	path, err := a.manifests.Download(ctx, v)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, path)
	return nil
}

func printVariants(out io.Writer, set *variant.Set) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tRESOLUTION\tAUDIO")
	for i, v := range set.Variants {
		audio := "no"
		if v.HasAudio() {
			audio = "yes"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", i, v.Resolution, audio)
	}
	return tw.Flush()
}

// runServer runs the HTTP front-end, replicating sessions when Raft is
// configured.
func runServer(ctx context.Context, a *app, cfg config.Config, logger *slog.Logger) error {
	sessions := session.NewStore(logger)
	srv := server.New(a.manifests, a.files, sessions, cfg.Port, logger)

	if cfg.Clustered() {
		manager, err := cluster.NewManager(cfg.Cluster(), sessions, logger)
		if err != nil {
			return fmt.Errorf("create cluster: %w", err)
		}
		if err := manager.Start(ctx); err != nil {
			return fmt.Errorf("start cluster: %w", err)
		}
		defer func() {
			if err := manager.Shutdown(); err != nil {
				logger.Error("cluster shutdown failed", "error", err)
			}
		}()

		sessions.SetReplicator(manager)
		srv.SetCluster(manager)
	}

	logger.Info("HTTP front-end ready",
		"requests", fmt.Sprintf("http://localhost:%d/requests", cfg.Port),
		"health", fmt.Sprintf("http://localhost:%d/health", cfg.Port),
		"clustered", cfg.Clustered(),
	)

	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
