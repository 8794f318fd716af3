package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/agleyzer/hlsgrab/internal/fetch"
	"github.com/agleyzer/hlsgrab/internal/hlserr"
	"github.com/agleyzer/hlsgrab/internal/parser"
	"github.com/agleyzer/hlsgrab/internal/variant"
	"golang.org/x/sync/errgroup"
)

// EmptySetError is returned when a top-level manifest yields no usable variant.
// It matches hlserr.ErrEmptyVariantSet and carries the parse report.
type EmptySetError struct {
	Report variant.Report
}

func (e *EmptySetError) Error() string {
	return fmt.Sprintf("%s (%s)", hlserr.ErrEmptyVariantSet, e.Report)
}

func (e *EmptySetError) Unwrap() error {
	return hlserr.ErrEmptyVariantSet
}

// VariantResolver turns a top-level manifest into a sorted variant set.
type VariantResolver struct {
	fetcher *fetch.Fetcher
	streams *StreamResolver
	opts    Options
	logger  *slog.Logger
}

// NewVariantResolver creates a VariantResolver.
func NewVariantResolver(fetcher *fetch.Fetcher, streams *StreamResolver, opts Options, logger *slog.Logger) *VariantResolver {
	return &VariantResolver{
		fetcher: fetcher,
		streams: streams,
		opts:    opts,
		logger:  logger,
	}
}

// ResolveURL fetches a top-level manifest and resolves it.
func (r *VariantResolver) ResolveURL(ctx context.Context, manifestURL string) (*variant.Set, error) {
	r.logger.Info("fetching top-level manifest", "url", manifestURL)
	text, err := r.fetcher.Text(ctx, manifestURL)
	if err != nil {
		return nil, err
	}
	return r.resolve(ctx, text, hostRoot(r.opts.HostRoot, manifestURL))
}

// Resolve parses a top-level manifest and returns its usable variants sorted
// by resolution, largest first.
//
// With probing enabled every variant's media manifests are fetched
// concurrently and a variant with an unreachable track is dropped. Segment
// bytes are never fetched here.
func (r *VariantResolver) Resolve(ctx context.Context, manifestText string) (*variant.Set, error) {
	return r.resolve(ctx, manifestText, r.opts.HostRoot)
}

func (r *VariantResolver) resolve(ctx context.Context, text, root string) (*variant.Set, error) {
	if r.opts.Strict {
		if err := parser.ValidateMaster(text); err != nil {
			return nil, err
		}
	}

	variants, report := parser.Variants(text, root)
	if r.opts.Probe && len(variants) > 0 {
		variants = r.probe(ctx, variants, &report)
	}

	r.logger.Info("resolved top-level manifest",
		"usable", len(variants),
		"declared", report.Declared,
		"discarded", report.Discarded,
		"failed", report.Failed,
	)

	if len(variants) == 0 {
		return nil, &EmptySetError{Report: report}
	}
	return variant.NewSet(variants), nil
}

// probe fetches the media manifests of all variants concurrently and keeps
// those whose tracks all resolve, in their original order.
func (r *VariantResolver) probe(ctx context.Context, variants []*variant.Variant, report *variant.Report) []*variant.Variant {
	ok := make([]bool, len(variants))

	var g errgroup.Group
	for i, v := range variants {
		i, v := i, v
		g.Go(func() error {
			if err := r.probeVariant(ctx, v); err != nil {
				r.logger.Warn("dropping variant", "resolution", v.Resolution.String(), "url", v.VideoURL, "error", err)
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	var kept []*variant.Variant
	for i, v := range variants {
		if ok[i] {
			kept = append(kept, v)
		} else {
			report.Failed++
		}
	}
	return kept
}

func (r *VariantResolver) probeVariant(ctx context.Context, v *variant.Variant) error {
	var g errgroup.Group
	g.Go(func() error {
		_, _, err := r.streams.Segments(ctx, v.VideoURL)
		return err
	})
	if v.HasAudio() {
		g.Go(func() error {
			_, _, err := r.streams.Segments(ctx, v.AudioURL)
			return err
		})
	}
	return g.Wait()
}
