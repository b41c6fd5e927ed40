package ocimem

import (
	"context"

	ociregistry "github.com/dockreef/registry"
)

func (r *Registry) GetBlob(ctx context.Context, repoName string, dig ociregistry.Digest) (ociregistry.BlobReader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	repo, err := r.existingRepo(repoName)
	if err != nil {
		return nil, err
	}
	b, ok := repo.blobs[dig]
	if !ok {
		return nil, ociregistry.ErrBlobUnknown
	}
	return newBytesReader(b.data, b.descriptor(dig)), nil
}

func (r *Registry) GetManifest(ctx context.Context, repoName string, dig ociregistry.Digest) (ociregistry.BlobReader, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	repo, err := r.existingRepo(repoName)
	if err != nil {
		return nil, err
	}
	b, ok := repo.manifests[dig]
	if !ok {
		return nil, ociregistry.ErrManifestUnknown
	}
	return newBytesReader(b.data, b.descriptor(dig)), nil
}

func (r *Registry) GetTag(ctx context.Context, repoName string, tagName string) (ociregistry.BlobReader, error) {
	dig, err := r.ResolveTag(ctx, repoName, tagName)
	if err != nil {
		return nil, err
	}
	return r.GetManifest(ctx, repoName, dig.Digest)
}

func (r *Registry) ResolveBlob(ctx context.Context, repoName string, dig ociregistry.Digest) (ociregistry.Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	repo, err := r.existingRepo(repoName)
	if err != nil {
		return ociregistry.Descriptor{}, err
	}
	b, ok := repo.blobs[dig]
	if !ok {
		return ociregistry.Descriptor{}, ociregistry.ErrBlobUnknown
	}
	return b.descriptor(dig), nil
}

func (r *Registry) ResolveManifest(ctx context.Context, repoName string, dig ociregistry.Digest) (ociregistry.Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	repo, err := r.existingRepo(repoName)
	if err != nil {
		return ociregistry.Descriptor{}, err
	}
	b, ok := repo.manifests[dig]
	if !ok {
		return ociregistry.Descriptor{}, ociregistry.ErrManifestUnknown
	}
	return b.descriptor(dig), nil
}

func (r *Registry) ResolveTag(ctx context.Context, repoName string, tagName string) (ociregistry.Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	repo, err := r.existingRepo(repoName)
	if err != nil {
		return ociregistry.Descriptor{}, err
	}
	dig, ok := repo.tags[tagName]
	if !ok {
		return ociregistry.Descriptor{}, ociregistry.ErrManifestUnknown
	}
	b := repo.manifests[dig]
	return b.descriptor(dig), nil
}
