// Package platform selects how a discovered URL is downloaded.
//
// Some platforms deliver segmented manifests, others a single progressive
// file. The front-end inspects the discovered URL with Detect and drives the
// matching capability.
package platform

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/agleyzer/hlsgrab/internal/variant"
)

// ErrInvalidURL is returned for URLs that are not absolute http(s) URLs.
var ErrInvalidURL = errors.New("invalid url")

// Kind identifies a download capability.
type Kind int

const (
	// ManifestBased URLs point at a top-level manifest.
	ManifestBased Kind = iota
	// DirectFile URLs point at a complete media file.
	DirectFile
)

func (k Kind) String() string {
	switch k {
	case ManifestBased:
		return "manifest"
	case DirectFile:
		return "direct"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Detect classifies a discovered URL.
func Detect(rawURL string) (Kind, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	if strings.EqualFold(path.Ext(u.Path), ".m3u8") {
		return ManifestBased, nil
	}
	return DirectFile, nil
}

// Manifests lists and downloads the variants of a top-level manifest.
type Manifests interface {
	Variants(ctx context.Context, manifestURL string) (*variant.Set, error)
	Download(ctx context.Context, v *variant.Variant) (string, error)
}

// Files downloads a single progressive media file.
type Files interface {
	Download(ctx context.Context, fileURL, cookie string) (string, error)
}
