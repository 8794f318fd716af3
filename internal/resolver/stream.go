// Package resolver turns manifest URLs into downloadable variants and
// reassembled byte streams.
package resolver

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/agleyzer/hlsgrab/internal/fetch"
	"github.com/agleyzer/hlsgrab/internal/parser"
	"github.com/agleyzer/hlsgrab/internal/segment"
	"github.com/agleyzer/hlsgrab/internal/variant"
)

// Options control manifest interpretation.
type Options struct {
	// HostRoot is prefixed to every manifest path. When empty, the scheme and
	// host of the manifest being parsed are used.
	HostRoot string

	// Strict validates manifests with a full HLS decoder before parsing
	Strict bool

	// Probe makes VariantResolver fetch each variant's media manifests and
	// drop variants whose manifests cannot be fetched
	Probe bool
}

// StreamResolver resolves one media manifest into a StreamData.
type StreamResolver struct {
	fetcher *fetch.Fetcher
	opts    Options
	logger  *slog.Logger
}

// NewStreamResolver creates a StreamResolver.
func NewStreamResolver(fetcher *fetch.Fetcher, opts Options, logger *slog.Logger) *StreamResolver {
	return &StreamResolver{
		fetcher: fetcher,
		opts:    opts,
		logger:  logger,
	}
}

// Segments fetches a media manifest and returns its ordered segment list and
// suggested name, without fetching any segment.
func (r *StreamResolver) Segments(ctx context.Context, manifestURL string) (segment.List, string, error) {
	text, err := r.fetcher.Text(ctx, manifestURL)
	if err != nil {
		return nil, "", err
	}

	if r.opts.Strict {
		if err := parser.ValidateMedia(text); err != nil {
			return nil, "", fmt.Errorf("media playlist %s: %w", manifestURL, err)
		}
	}

	list, name := parser.Segments(text, hostRoot(r.opts.HostRoot, manifestURL))
	return list, name, nil
}

// Resolve fetches a media manifest and all of its segments, returning the
// segments concatenated in playlist order. Segments that fail are left out of
// the stream and counted in the report; only a manifest failure is an error.
func (r *StreamResolver) Resolve(ctx context.Context, manifestURL string) (variant.StreamData, fetch.Report, error) {
	list, name, err := r.Segments(ctx, manifestURL)
	if err != nil {
		return variant.StreamData{}, fetch.Report{}, err
	}

	if len(list) == 0 {
		r.logger.Warn("media playlist has no segments", "url", manifestURL)
		return variant.StreamData{SuggestedName: name, Bytes: []byte{}}, fetch.Report{}, nil
	}

	r.logger.Debug("resolving media playlist", "url", manifestURL, "segments", len(list), "name", name)
	blobs, report := r.fetcher.FetchAll(ctx, list.URLs())
	if report.Failed > 0 {
		r.logger.Warn("stream has missing segments", "url", manifestURL, "failed", report.Failed, "total", report.Total)
	}

	return variant.StreamData{
		SuggestedName: name,
		Bytes:         bytes.Join(blobs, nil),
	}, report, nil
}

// hostRoot returns root if set, otherwise the scheme://host of manifestURL.
func hostRoot(root, manifestURL string) string {
	if root != "" {
		return root
	}
	u, err := url.Parse(manifestURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
