// Package download materializes a selected variant into a single container
// file: it resolves the variant's tracks, stages them as temporary files,
// invokes the muxer and cleans up.
package download

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/agleyzer/hlsgrab/internal/fetch"
	"github.com/agleyzer/hlsgrab/internal/hlserr"
	"github.com/agleyzer/hlsgrab/internal/mux"
	"github.com/agleyzer/hlsgrab/internal/parser"
	"github.com/agleyzer/hlsgrab/internal/variant"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultContainer is the output container extension.
	DefaultContainer = "mp4"

	fallbackName = "video"
)

// TrackResolver resolves one media manifest into its byte stream.
type TrackResolver interface {
	Resolve(ctx context.Context, manifestURL string) (variant.StreamData, fetch.Report, error)
}

// Config holds the orchestrator's filesystem settings.
type Config struct {
	// WorkDir receives the temporary elementary stream files
	WorkDir string
	// OutputDir receives the final container
	OutputDir string
	// Container is the output file extension, without the dot
	Container string
}

// Orchestrator downloads selected variants.
type Orchestrator struct {
	tracks TrackResolver
	muxer  mux.Muxer
	cfg    Config
	logger *slog.Logger
}

// New creates an Orchestrator.
func New(tracks TrackResolver, muxer mux.Muxer, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	if cfg.Container == "" {
		cfg.Container = DefaultContainer
	}
	return &Orchestrator{
		tracks: tracks,
		muxer:  muxer,
		cfg:    cfg,
		logger: logger,
	}
}

// Download resolves v's tracks, muxes them and returns the container path.
//
// Track failures are returned as is; nothing is written in that case. Every
// call fetches from scratch and overwrites v.Video and v.Audio. Calls for the
// same variant are serialized; a call whose ctx ends while waiting returns
// ctx's error without fetching anything.
func (o *Orchestrator) Download(ctx context.Context, v *variant.Variant) (string, error) {
	if err := v.Acquire(ctx); err != nil {
		return "", fmt.Errorf("wait for variant %s: %w", v.Resolution, err)
	}
	defer v.Release()

	logger := o.logger.With("resolution", v.Resolution.String())
	logger.Info("downloading variant", "video", v.VideoURL, "audio", v.AudioURL)

	video, audio, err := o.resolveTracks(ctx, v)
	if err != nil {
		return "", err
	}
	v.Video = video
	v.Audio = audio

	name := videoName(v)
	output := filepath.Join(o.cfg.OutputDir, fmt.Sprintf("%s_%s.%s", name, v.Resolution, o.cfg.Container))

	req := mux.Request{Output: output}
	var staged []string
	defer func() {
		for _, path := range staged {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				logger.Warn("failed to remove temporary file", "path", path, "error", err)
			}
		}
	}()

	req.Video, err = o.stage("video", name, video.Bytes)
	if err != nil {
		return "", err
	}
	staged = append(staged, req.Video)

	if audio != nil {
		audioName := audio.SuggestedName
		if audioName == "" {
			audioName = name
		}
		req.Audio, err = o.stage("audio", audioName, audio.Bytes)
		if err != nil {
			return "", err
		}
		staged = append(staged, req.Audio)
	}

	if err := o.muxer.Mux(ctx, req); err != nil {
		return "", err
	}

	logger.Info("variant downloaded", "output", output)
	return output, nil
}

// resolveTracks resolves the video track and, when present, the audio track
// concurrently. Either failure fails the download.
func (o *Orchestrator) resolveTracks(ctx context.Context, v *variant.Variant) (*variant.StreamData, *variant.StreamData, error) {
	var video, audio *variant.StreamData

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, report, err := o.tracks.Resolve(gctx, v.VideoURL)
		if err != nil {
			return fmt.Errorf("video track: %w", err)
		}
		o.logTrack("video", data, report)
		video = &data
		return nil
	})
	if v.HasAudio() {
		g.Go(func() error {
			data, report, err := o.tracks.Resolve(gctx, v.AudioURL)
			if err != nil {
				return fmt.Errorf("audio track: %w", err)
			}
			o.logTrack("audio", data, report)
			audio = &data
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return video, audio, nil
}

func (o *Orchestrator) logTrack(kind string, data variant.StreamData, report fetch.Report) {
	o.logger.Info("track resolved",
		"track", kind,
		"name", data.SuggestedName,
		"segments", report.Total,
		"failed", report.Failed,
		"size", humanize.Bytes(uint64(len(data.Bytes))),
	)
}

// stage writes data to a uniquely named temporary file and returns its path.
func (o *Orchestrator) stage(kind, name string, data []byte) (string, error) {
	f, err := os.CreateTemp(o.cfg.WorkDir, fmt.Sprintf("%s_*_%s.%s", kind, name, o.cfg.Container))
	if err != nil {
		return "", hlserr.Wrap(hlserr.ErrIO, "create temporary "+kind+" file", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", hlserr.Wrap(hlserr.ErrIO, "write temporary "+kind+" file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", hlserr.Wrap(hlserr.ErrIO, "close temporary "+kind+" file", err)
	}
	return f.Name(), nil
}

// videoName picks the base name of the output: the video init segment name,
// else the video manifest name.
func videoName(v *variant.Variant) string {
	if v.Video != nil && v.Video.SuggestedName != "" {
		return v.Video.SuggestedName
	}
	if name := parser.SuggestedName(v.VideoURL); name != "" {
		return name
	}
	return fallbackName
}
