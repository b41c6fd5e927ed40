// Package ocimem is a trivial in-memory implementation of
// [ociregistry.Interface]. It is exercised by its own tests; the Registry
// API Facade does not use it.
package ocimem

import (
	"regexp"
	"sync"

	"github.com/opencontainers/go-digest"

	ociregistry "github.com/dockreef/registry"
)

// Registry is an in-memory [ociregistry.Interface]. The zero value is
// not usable; construct one with [New].
type Registry struct {
	*ociregistry.Funcs
	mu    sync.Mutex
	repos map[string]*repository
}

type repository struct {
	tags      map[string]ociregistry.Digest
	manifests map[ociregistry.Digest]*blobEntry
	blobs     map[ociregistry.Digest]*blobEntry
}

type blobEntry struct {
	mediaType string
	data      []byte
}

func (b *blobEntry) descriptor(dig ociregistry.Digest) ociregistry.Descriptor {
	return ociregistry.Descriptor{
		MediaType: b.mediaType,
		Size:      int64(len(b.data)),
		Digest:    dig,
	}
}

// New returns an empty in-memory registry.
func New() *Registry {
	return &Registry{repos: make(map[string]*repository)}
}

var _ ociregistry.Interface = (*Registry)(nil)

var repoNamePattern = regexp.MustCompile(`^[a-z0-9]+([._-][a-z0-9]+)*(/[a-z0-9]+([._-][a-z0-9]+)*)*$`)

func isValidRepoName(name string) bool {
	return repoNamePattern.MatchString(name)
}

// repo returns repoName's repository, creating it if it doesn't exist.
// Callers must hold r.mu.
func (r *Registry) repo(repoName string) (*repository, error) {
	if !isValidRepoName(repoName) {
		return nil, ociregistry.ErrNameInvalid
	}
	if repo, ok := r.repos[repoName]; ok {
		return repo, nil
	}
	repo := &repository{
		tags:      make(map[string]ociregistry.Digest),
		manifests: make(map[ociregistry.Digest]*blobEntry),
		blobs:     make(map[ociregistry.Digest]*blobEntry),
	}
	r.repos[repoName] = repo
	return repo, nil
}

// existingRepo returns repoName's repository without creating it.
// Callers must hold r.mu.
func (r *Registry) existingRepo(repoName string) (*repository, error) {
	repo, ok := r.repos[repoName]
	if !ok {
		return nil, ociregistry.ErrNameUnknown
	}
	return repo, nil
}

func checkDigest(data []byte, dig ociregistry.Digest) error {
	if digest.FromBytes(data) != dig {
		return ociregistry.ErrDigestInvalid
	}
	return nil
}
