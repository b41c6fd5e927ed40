package ocimem

import (
	"context"
	"sort"

	ociregistry "github.com/dockreef/registry"
)

func (r *Registry) Repositories(ctx context.Context) ociregistry.Iter[string] {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.repos))
	for name := range r.repos {
		names = append(names, name)
	}
	sort.Strings(names)
	return newSliceIter(names)
}

func (r *Registry) Tags(ctx context.Context, repoName string) ociregistry.Iter[string] {
	r.mu.Lock()
	defer r.mu.Unlock()
	repo, ok := r.repos[repoName]
	if !ok {
		return newSliceIter[string](nil)
	}
	tags := make([]string, 0, len(repo.tags))
	for tag := range repo.tags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return newSliceIter(tags)
}

// Referrers returns manifests in repoName whose Subject field names
// dig. ocimem doesn't parse manifest bytes to find Subject references
// (the real engine's manifest index doesn't track Subject either, per
// Non-goals), so this always returns an empty iterator; it exists to
// satisfy ociregistry.Lister.
func (r *Registry) Referrers(ctx context.Context, repoName string, dig ociregistry.Digest, artifactType string) ociregistry.Iter[ociregistry.Descriptor] {
	return newSliceIter[ociregistry.Descriptor](nil)
}
