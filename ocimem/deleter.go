package ocimem

import (
	"context"

	ociregistry "github.com/dockreef/registry"
)

func (r *Registry) DeleteBlob(ctx context.Context, repoName string, dig ociregistry.Digest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	repo, err := r.existingRepo(repoName)
	if err != nil {
		return err
	}
	delete(repo.blobs, dig)
	return nil
}

func (r *Registry) DeleteManifest(ctx context.Context, repoName string, dig ociregistry.Digest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	repo, err := r.existingRepo(repoName)
	if err != nil {
		return err
	}
	delete(repo.manifests, dig)
	for tag, d := range repo.tags {
		if d == dig {
			delete(repo.tags, tag)
		}
	}
	return nil
}

func (r *Registry) DeleteTag(ctx context.Context, repoName string, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	repo, err := r.existingRepo(repoName)
	if err != nil {
		return err
	}
	delete(repo.tags, name)
	return nil
}
