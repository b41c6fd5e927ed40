package manifestindex

import (
	"encoding/json"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// DockerManifestMediaType is the default media type assumed when a
// manifest document carries no "mediaType" field (§4.2).
const DockerManifestMediaType = "application/vnd.docker.distribution.manifest.v2+json"

// DockerManifestListMediaType identifies a Docker multi-platform manifest
// list, the pre-OCI equivalent of ocispec.MediaTypeImageIndex (§4.5).
const DockerManifestListMediaType = "application/vnd.docker.distribution.manifest.list.v2+json"

// InferMediaType extracts the "mediaType" field from manifest bytes,
// falling back to DockerManifestMediaType when absent or the bytes don't
// parse as JSON. A manifest is stored opaquely (§9: no cyclic ownership,
// manifests are never walked structurally by this package) so this is
// the only field ever pulled out of the document itself.
func InferMediaType(data []byte) string {
	var probe struct {
		MediaType string `json:"mediaType"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || probe.MediaType == "" {
		return DockerManifestMediaType
	}
	return probe.MediaType
}

// SupportedMediaTypes is the set of Content-Type values a manifest PUT
// accepts (§4.5). Multi-platform indexes are accepted and stored
// opaquely; fan-out semantics for them are a Non-goal.
var SupportedMediaTypes = map[string]bool{
	DockerManifestMediaType:      true,
	ocispec.MediaTypeImageManifest: true,
	ocispec.MediaTypeImageIndex:    true,
	DockerManifestListMediaType:    true,
}
