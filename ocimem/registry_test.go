package ocimem_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/go-quicktest/qt"
	"github.com/opencontainers/go-digest"

	ociregistry "github.com/dockreef/registry"
	"github.com/dockreef/registry/ocimem"
)

func TestPushAndGetBlob(t *testing.T) {
	ctx := context.Background()
	r := ocimem.New()

	data := []byte("hello world")
	dig := digest.FromBytes(data)
	desc, err := r.PushBlob(ctx, "myorg/myrepo", ociregistry.Descriptor{Digest: dig, Size: int64(len(data)), MediaType: "application/octet-stream"}, bytes.NewReader(data))
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(desc.Digest, dig))

	br, err := r.GetBlob(ctx, "myorg/myrepo", dig)
	qt.Assert(t, qt.IsNil(err))
	got, err := io.ReadAll(br)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(got, data))
}

func TestChunkedPushCommit(t *testing.T) {
	ctx := context.Background()
	r := ocimem.New()

	w, err := r.PushBlobChunked(ctx, "a/b", "", 0)
	qt.Assert(t, qt.IsNil(err))
	_, err = w.Write([]byte("chunk-one-"))
	qt.Assert(t, qt.IsNil(err))
	_, err = w.Write([]byte("chunk-two"))
	qt.Assert(t, qt.IsNil(err))

	data := []byte("chunk-one-chunk-two")
	dig := digest.FromBytes(data)
	desc, err := w.Commit(dig)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(desc.Digest, dig))

	has, err := r.ResolveBlob(ctx, "a/b", dig)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(has.Size, int64(len(data))))
}

func TestPushManifestAndResolveTag(t *testing.T) {
	ctx := context.Background()
	r := ocimem.New()

	data := []byte(`{"schemaVersion":2}`)
	desc, err := r.PushManifest(ctx, "org/repo", "latest", data, "application/vnd.oci.image.manifest.v1+json")
	qt.Assert(t, qt.IsNil(err))

	got, err := r.ResolveTag(ctx, "org/repo", "latest")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(got.Digest, desc.Digest))

	br, err := r.GetTag(ctx, "org/repo", "latest")
	qt.Assert(t, qt.IsNil(err))
	content, err := io.ReadAll(br)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(content, data))
}

func TestDeleteTagLeavesManifest(t *testing.T) {
	ctx := context.Background()
	r := ocimem.New()

	data := []byte(`{}`)
	desc, err := r.PushManifest(ctx, "org/repo", "v1", data, "application/vnd.oci.image.manifest.v1+json")
	qt.Assert(t, qt.IsNil(err))

	err = r.DeleteTag(ctx, "org/repo", "v1")
	qt.Assert(t, qt.IsNil(err))

	_, err = r.ResolveTag(ctx, "org/repo", "v1")
	qt.Assert(t, qt.ErrorIs(err, ociregistry.ErrManifestUnknown))

	_, err = r.ResolveManifest(ctx, "org/repo", desc.Digest)
	qt.Assert(t, qt.IsNil(err))
}

func TestRepositoriesAndTagsIteration(t *testing.T) {
	ctx := context.Background()
	r := ocimem.New()

	data := []byte(`{}`)
	_, err := r.PushManifest(ctx, "z/repo", "v1", data, "application/vnd.oci.image.manifest.v1+json")
	qt.Assert(t, qt.IsNil(err))
	_, err = r.PushManifest(ctx, "a/repo", "v1", data, "application/vnd.oci.image.manifest.v1+json")
	qt.Assert(t, qt.IsNil(err))
	_, err = r.PushManifest(ctx, "a/repo", "v2", data, "application/vnd.oci.image.manifest.v1+json")
	qt.Assert(t, qt.IsNil(err))

	repos, err := ociregistry.All(r.Repositories(ctx))
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(repos, []string{"a/repo", "z/repo"}))

	tags, err := ociregistry.All(r.Tags(ctx, "a/repo"))
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(tags, []string{"v1", "v2"}))
}

func TestUnknownRepositoryErrors(t *testing.T) {
	ctx := context.Background()
	r := ocimem.New()

	_, err := r.GetBlob(ctx, "never/pushed", digest.FromBytes([]byte("x")))
	qt.Assert(t, qt.ErrorIs(err, ociregistry.ErrNameUnknown))
}
