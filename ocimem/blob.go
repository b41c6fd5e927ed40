package ocimem

import (
	"bytes"
	"sync"

	"github.com/opencontainers/go-digest"

	ociregistry "github.com/dockreef/registry"
)

// bytesReader is an ociregistry.BlobReader over an in-memory byte slice.
type bytesReader struct {
	r    bytes.Reader
	desc ociregistry.Descriptor
}

func newBytesReader(data []byte, desc ociregistry.Descriptor) ociregistry.BlobReader {
	br := &bytesReader{desc: desc}
	br.r.Reset(data)
	return br
}

func (r *bytesReader) Read(p []byte) (int, error) { return r.r.Read(p) }
func (r *bytesReader) Close() error                { return nil }
func (r *bytesReader) Descriptor() ociregistry.Descriptor {
	return r.desc
}

// blobWriter is an ociregistry.BlobWriter that buffers an upload in
// memory and hands the finished bytes to commit on Commit.
type blobWriter struct {
	id     string
	commit func(mediaType string, data []byte, dig ociregistry.Digest) (ociregistry.Descriptor, error)

	mu        sync.Mutex
	buf       []byte
	cancelled bool
}

func (b *blobWriter) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelled {
		return 0, ociregistry.ErrBlobUploadInvalid
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *blobWriter) Close() error { return nil }

func (b *blobWriter) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.buf))
}

func (b *blobWriter) ID() string { return b.id }

func (b *blobWriter) Commit(dig ociregistry.Digest) (ociregistry.Descriptor, error) {
	b.mu.Lock()
	if b.cancelled {
		b.mu.Unlock()
		return ociregistry.Descriptor{}, ociregistry.ErrBlobUploadInvalid
	}
	data := b.buf
	b.mu.Unlock()

	if digest.FromBytes(data) != dig {
		return ociregistry.Descriptor{}, ociregistry.ErrDigestInvalid
	}
	return b.commit("application/octet-stream", data, dig)
}

func (b *blobWriter) Cancel() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = true
	b.buf = nil
	return nil
}
