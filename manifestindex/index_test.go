package manifestindex_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dockreef/registry/digestutil"
	"github.com/dockreef/registry/manifestindex"

	_ "modernc.org/sqlite"
)

func newSQLIndex(t *testing.T) manifestindex.Index {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(manifestindex.Schema)
	require.NoError(t, err)
	return manifestindex.New(db)
}

func eachIndex(t *testing.T, fn func(t *testing.T, x manifestindex.Index)) {
	t.Run("sql", func(t *testing.T) { fn(t, newSQLIndex(t)) })
	t.Run("mem", func(t *testing.T) { fn(t, manifestindex.NewMem()) })
}

func TestPutGetRoundTrip(t *testing.T) {
	eachIndex(t, func(t *testing.T, x manifestindex.Index) {
		ctx := context.Background()
		data := []byte(`{"mediaType":"application/vnd.oci.image.manifest.v1+json"}`)
		dig := digestutil.FromBytes(data)

		require.NoError(t, x.Put(ctx, "dockage/mailcatcher", "latest", dig, manifestindex.InferMediaType(data), data))

		m, err := x.Get(ctx, "dockage/mailcatcher", "latest")
		require.NoError(t, err)
		require.Equal(t, data, m.Bytes)

		got, err := x.DigestFor(ctx, "dockage/mailcatcher", "latest")
		require.NoError(t, err)
		require.Equal(t, dig, got)

		m2, err := x.Get(ctx, "dockage/mailcatcher", dig.String())
		require.NoError(t, err)
		require.Equal(t, data, m2.Bytes)
	})
}

func TestPutUpsertsSingleTransaction(t *testing.T) {
	eachIndex(t, func(t *testing.T, x manifestindex.Index) {
		ctx := context.Background()
		first := []byte(`{"v":1}`)
		second := []byte(`{"v":2}`)

		require.NoError(t, x.Put(ctx, "postgres", "15", digestutil.FromBytes(first), "", first))
		require.NoError(t, x.Put(ctx, "postgres", "15", digestutil.FromBytes(second), "", second))

		m, err := x.Get(ctx, "postgres", "15")
		require.NoError(t, err)
		require.Equal(t, second, m.Bytes)
	})
}

func TestDeleteIfExists(t *testing.T) {
	eachIndex(t, func(t *testing.T, x manifestindex.Index) {
		ctx := context.Background()
		data := []byte(`{}`)
		require.NoError(t, x.Put(ctx, "r", "t", digestutil.FromBytes(data), "", data))

		deleted, err := x.Delete(ctx, "r", "t")
		require.NoError(t, err)
		require.True(t, deleted)

		deleted, err = x.Delete(ctx, "r", "t")
		require.NoError(t, err)
		require.False(t, deleted)
	})
}

func TestGhostRepositoryPrevention(t *testing.T) {
	eachIndex(t, func(t *testing.T, x manifestindex.Index) {
		ctx := context.Background()
		d1 := []byte(`{"t":1}`)
		d2 := []byte(`{"t":2}`)
		require.NoError(t, x.Put(ctx, "multi/repo", "tag1", digestutil.FromBytes(d1), "", d1))
		require.NoError(t, x.Put(ctx, "multi/repo", "tag2", digestutil.FromBytes(d2), "", d2))

		repos, err := x.ListRepositories(ctx)
		require.NoError(t, err)
		require.Contains(t, repos, "multi/repo")

		_, err = x.Delete(ctx, "multi/repo", "tag1")
		require.NoError(t, err)
		repos, err = x.ListRepositories(ctx)
		require.NoError(t, err)
		require.Contains(t, repos, "multi/repo")

		_, err = x.Delete(ctx, "multi/repo", "tag2")
		require.NoError(t, err)
		repos, err = x.ListRepositories(ctx)
		require.NoError(t, err)
		require.NotContains(t, repos, "multi/repo")
	})
}

func TestDeleteRepository(t *testing.T) {
	eachIndex(t, func(t *testing.T, x manifestindex.Index) {
		ctx := context.Background()
		d := []byte(`{}`)
		require.NoError(t, x.Put(ctx, "r", "a", digestutil.FromBytes(d), "", d))
		require.NoError(t, x.Put(ctx, "r", "b", digestutil.FromBytes(d), "", d))

		n, err := x.DeleteRepository(ctx, "r")
		require.NoError(t, err)
		require.Equal(t, 2, n)

		tags, err := x.ListTags(ctx, "r")
		require.NoError(t, err)
		require.Empty(t, tags)
	})
}

func TestInferMediaType(t *testing.T) {
	require.Equal(t, "application/vnd.oci.image.manifest.v1+json",
		manifestindex.InferMediaType([]byte(`{"mediaType":"application/vnd.oci.image.manifest.v1+json"}`)))
	require.Equal(t, manifestindex.DockerManifestMediaType, manifestindex.InferMediaType([]byte(`{}`)))
	require.Equal(t, manifestindex.DockerManifestMediaType, manifestindex.InferMediaType([]byte(`not json`)))
}
