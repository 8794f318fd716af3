// Package variant defines data structures for the selectable quality levels
// of a top-level manifest.
package variant

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Resolution is a video frame size.
type Resolution struct {
	Width  int
	Height int
}

// ParseResolution parses a "WIDTHxHEIGHT" attribute value.
func ParseResolution(s string) (Resolution, error) {
	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return Resolution{}, fmt.Errorf("invalid resolution %q", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return Resolution{}, fmt.Errorf("invalid resolution width %q: %w", s, err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return Resolution{}, fmt.Errorf("invalid resolution height %q: %w", s, err)
	}
	return Resolution{Width: width, Height: height}, nil
}

// Area returns width*height, the sort key of a variant.
func (r Resolution) Area() int {
	return r.Width * r.Height
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// StreamData is the reassembled byte stream of one resolved media manifest.
type StreamData struct {
	// SuggestedName is the init segment basename without extension.
	// Empty when the manifest has no init segment.
	SuggestedName string

	// Bytes holds every segment concatenated in playlist order
	Bytes []byte
}

// Variant represents one selectable quality level.
type Variant struct {
	// Resolution is used only for ordering
	Resolution Resolution

	// VideoURL is the absolute URL of the video media manifest
	VideoURL string

	// AudioURL is the absolute URL of the audio media manifest.
	// Empty for video-only variants.
	AudioURL string

	// Video and Audio are populated by each download attempt and
	// overwritten by the next one
	Video *StreamData
	Audio *StreamData

	semOnce sync.Once
	sem     *semaphore.Weighted
}

// HasAudio reports whether the variant carries a separate audio track.
func (v *Variant) HasAudio() bool {
	return v.AudioURL != ""
}

// Acquire serializes downloads of the same variant. It waits until no other
// download holds the variant and returns ctx's error if ctx ends first.
func (v *Variant) Acquire(ctx context.Context) error {
	if err := v.downloadSem().Acquire(ctx, 1); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		v.Release()
		return err
	}
	return nil
}

// Release ends a download started with Acquire.
func (v *Variant) Release() { v.downloadSem().Release(1) }

func (v *Variant) downloadSem() *semaphore.Weighted {
	v.semOnce.Do(func() { v.sem = semaphore.NewWeighted(1) })
	return v.sem
}

// Set is the ordered result of resolving one top-level manifest.
type Set struct {
	Variants []*Variant
}

// NewSet builds a Set sorted by resolution area, largest first.
func NewSet(variants []*Variant) *Set {
	s := &Set{Variants: variants}
	s.Sort()
	return s
}

// Sort orders variants by width*height descending. Ties keep their relative order.
func (s *Set) Sort() {
	sort.SliceStable(s.Variants, func(i, j int) bool {
		return s.Variants[i].Resolution.Area() > s.Variants[j].Resolution.Area()
	})
}

// Len returns the number of variants.
func (s *Set) Len() int {
	return len(s.Variants)
}

// At returns the variant at index i.
func (s *Set) At(i int) (*Variant, error) {
	if i < 0 || i >= len(s.Variants) {
		return nil, fmt.Errorf("variant index %d out of range [0, %d)", i, len(s.Variants))
	}
	return s.Variants[i], nil
}

// Report counts what happened to the variants declared in a manifest.
type Report struct {
	// Declared is the number of variant declarations found
	Declared int
	// Discarded is the number dropped for a missing resolution or URL
	Discarded int
	// Failed is the number dropped because a track could not be resolved
	Failed int
}

func (r Report) String() string {
	return fmt.Sprintf("declared=%d discarded=%d failed=%d", r.Declared, r.Discarded, r.Failed)
}
