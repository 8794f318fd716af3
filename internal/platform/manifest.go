package platform

import (
	"context"

	"github.com/agleyzer/hlsgrab/internal/download"
	"github.com/agleyzer/hlsgrab/internal/resolver"
	"github.com/agleyzer/hlsgrab/internal/variant"
)

// ManifestSource is the Manifests capability backed by the resolver and
// download pipeline.
type ManifestSource struct {
	variants     *resolver.VariantResolver
	orchestrator *download.Orchestrator
}

// NewManifestSource creates a ManifestSource.
func NewManifestSource(variants *resolver.VariantResolver, orchestrator *download.Orchestrator) *ManifestSource {
	return &ManifestSource{
		variants:     variants,
		orchestrator: orchestrator,
	}
}

// Variants resolves the top-level manifest at manifestURL.
func (m *ManifestSource) Variants(ctx context.Context, manifestURL string) (*variant.Set, error) {
	return m.variants.ResolveURL(ctx, manifestURL)
}

// Download materializes one variant and returns the container path.
func (m *ManifestSource) Download(ctx context.Context, v *variant.Variant) (string, error) {
	return m.orchestrator.Download(ctx, v)
}
