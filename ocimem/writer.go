package ocimem

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"

	ociregistry "github.com/dockreef/registry"
)

func (r *Registry) PushBlob(ctx context.Context, repoName string, desc ociregistry.Descriptor, content io.Reader) (ociregistry.Descriptor, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return ociregistry.Descriptor{}, err
	}
	if desc.Digest != "" {
		if err := checkDigest(data, desc.Digest); err != nil {
			return ociregistry.Descriptor{}, err
		}
	}
	if desc.Size != 0 && desc.Size != int64(len(data)) {
		return ociregistry.Descriptor{}, ociregistry.ErrSizeInvalid
	}
	dig := digest.FromBytes(data)

	r.mu.Lock()
	defer r.mu.Unlock()
	repo, err := r.repo(repoName)
	if err != nil {
		return ociregistry.Descriptor{}, err
	}
	repo.blobs[dig] = &blobEntry{mediaType: desc.MediaType, data: data}
	return ociregistry.Descriptor{MediaType: desc.MediaType, Digest: dig, Size: int64(len(data))}, nil
}

func (r *Registry) PushBlobChunked(ctx context.Context, repoName string, id string, chunkSize int) (ociregistry.BlobWriter, error) {
	if id != "" {
		return nil, ociregistry.ErrBlobUploadUnknown
	}
	r.mu.Lock()
	_, err := r.repo(repoName)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &blobWriter{
		id: uuid.NewString(),
		commit: func(mediaType string, data []byte, dig ociregistry.Digest) (ociregistry.Descriptor, error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			repo, err := r.repo(repoName)
			if err != nil {
				return ociregistry.Descriptor{}, err
			}
			repo.blobs[dig] = &blobEntry{mediaType: mediaType, data: data}
			return ociregistry.Descriptor{MediaType: mediaType, Digest: dig, Size: int64(len(data))}, nil
		},
	}, nil
}

func (r *Registry) MountBlob(ctx context.Context, fromRepo, toRepo string, dig ociregistry.Digest) (ociregistry.Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	from, err := r.existingRepo(fromRepo)
	if err != nil {
		return ociregistry.Descriptor{}, err
	}
	b, ok := from.blobs[dig]
	if !ok {
		return ociregistry.Descriptor{}, ociregistry.ErrBlobUnknown
	}
	to, err := r.repo(toRepo)
	if err != nil {
		return ociregistry.Descriptor{}, err
	}
	to.blobs[dig] = b
	return b.descriptor(dig), nil
}

func (r *Registry) PushManifest(ctx context.Context, repoName string, tag string, contents []byte, mediaType string) (ociregistry.Descriptor, error) {
	if mediaType == "" {
		return ociregistry.Descriptor{}, ociregistry.ErrBadMediaType
	}
	dig := digest.FromBytes(contents)

	r.mu.Lock()
	defer r.mu.Unlock()
	repo, err := r.repo(repoName)
	if err != nil {
		return ociregistry.Descriptor{}, err
	}
	repo.manifests[dig] = &blobEntry{mediaType: mediaType, data: contents}
	if tag != "" {
		repo.tags[tag] = dig
	}
	return ociregistry.Descriptor{MediaType: mediaType, Digest: dig, Size: int64(len(contents))}, nil
}
