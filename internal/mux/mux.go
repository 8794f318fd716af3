// Package mux invokes the external muxing tool that combines elementary
// streams into one playable container without re-encoding.
package mux

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/agleyzer/hlsgrab/internal/hlserr"
	"github.com/alessio/shellescape"
)

// DefaultFFmpegPath is the ffmpeg binary looked up in PATH.
const DefaultFFmpegPath = "ffmpeg"

// maxStderr bounds how much tool output is kept in an error.
const maxStderr = 2048

// Request describes one mux invocation.
type Request struct {
	// Video is the local video elementary stream path
	Video string
	// Audio is the local audio stream path; empty means remux the video alone
	Audio string
	// Output is the container path to produce
	Output string
}

// Muxer combines local streams into a container file.
type Muxer interface {
	Mux(ctx context.Context, req Request) error
}

// FFmpeg is a Muxer backed by the ffmpeg command line tool.
type FFmpeg struct {
	path   string
	logger *slog.Logger
}

// NewFFmpeg creates an FFmpeg muxer. An empty path means DefaultFFmpegPath.
func NewFFmpeg(path string, logger *slog.Logger) *FFmpeg {
	if path == "" {
		path = DefaultFFmpegPath
	}
	return &FFmpeg{path: path, logger: logger}
}

// Args returns the ffmpeg arguments for req: stream copy, overwrite output.
func (f *FFmpeg) Args(req Request) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-i", req.Video}
	if req.Audio != "" {
		args = append(args, "-i", req.Audio)
	}
	return append(args, "-c", "copy", "-y", req.Output)
}

// Mux runs ffmpeg. Spawn failures and non-zero exits are reported as
// hlserr.ErrMux with the tail of the tool's stderr.
func (f *FFmpeg) Mux(ctx context.Context, req Request) error {
	args := f.Args(req)
	f.logger.Debug("executing mux command", "command", shellescape.QuoteCommand(append([]string{f.path}, args...)))

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.path, args...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		out := strings.TrimSpace(stderr.String())
		if len(out) > maxStderr {
			out = out[len(out)-maxStderr:]
		}
		if out != "" {
			return hlserr.Wrap(hlserr.ErrMux, fmt.Sprintf("%s: %s", f.path, out), err)
		}
		return hlserr.Wrap(hlserr.ErrMux, f.path, err)
	}

	f.logger.Info("muxed container", "output", req.Output, "audio", req.Audio != "")
	return nil
}
