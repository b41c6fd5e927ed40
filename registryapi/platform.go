package registryapi

import (
	"encoding/json"

	"github.com/containerd/platforms"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/dockreef/registry/manifestindex"
)

// resolvedPlatform is the admin surface's best-effort answer to "which
// child manifest of this index would a platform-aware puller pick" —
// read-only and diagnostic, never consulted by the /v2/* pull path (§4.5:
// manifest-list fan-out semantics are a Non-goal for the registry itself;
// this exists only for `GET /api/registry/repositories/<name>`).
type resolvedPlatform struct {
	Tag       string `json:"tag"`
	MediaType string `json:"mediaType,omitempty"`
	Platform  string `json:"platform,omitempty"`
	Digest    string `json:"digest,omitempty"`
	Matched   bool   `json:"matched"`
	Error     string `json:"error,omitempty"`
}

// resolvePlatform inspects m and, if its media type marks it as an OCI
// image index or a Docker manifest list, picks the child manifest
// matching target using containerd/platforms' strict matcher — the same
// primitive `wuxler-ruasec` uses for manifest-list selection, adapted
// here without its surrounding CLI/image-store layer (§4.5). A manifest
// that isn't an index is reported unmatched with no error: there's
// nothing to resolve, not a failure.
func resolvePlatform(m manifestindex.Manifest, target *ocispec.Platform) resolvedPlatform {
	out := resolvedPlatform{Tag: m.Tag, MediaType: m.MediaType}
	switch m.MediaType {
	case ocispec.MediaTypeImageIndex, manifestindex.DockerManifestListMediaType:
	default:
		return out
	}

	var idx ocispec.Index
	if err := json.Unmarshal(m.Bytes, &idx); err != nil {
		out.Error = "parsing manifest list: " + err.Error()
		return out
	}

	spec := platforms.DefaultSpec()
	if target != nil {
		spec = *target
	}
	out.Platform = platforms.Format(spec)
	matcher := platforms.OnlyStrict(spec)

	for _, d := range idx.Manifests {
		if d.Platform == nil {
			continue
		}
		if matcher.Match(*d.Platform) {
			out.Digest = d.Digest.String()
			out.Matched = true
			return out
		}
	}
	return out
}
