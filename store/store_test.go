package store_test

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	reg "github.com/dockreef/registry"
	"github.com/dockreef/registry/digestutil"
	"github.com/dockreef/registry/store"

	_ "modernc.org/sqlite"
)

func newSQLStore(t *testing.T) store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(store.Schema)
	require.NoError(t, err)
	return store.New(db, afero.NewMemMapFs(), "/tmp")
}

func eachStore(t *testing.T, fn func(t *testing.T, s store.Store)) {
	t.Run("sql", func(t *testing.T) { fn(t, newSQLStore(t)) })
	t.Run("mem", func(t *testing.T) { fn(t, store.NewMem()) })
}

func TestMultiPartStitchFidelity(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		payload := strings.Repeat("A", 66) + strings.Repeat("B", 66) + strings.Repeat("C", 68)
		dig := digestutil.FromBytes([]byte(payload))

		chunks := []string{payload[:66], payload[66:132], payload[132:]}
		for i, c := range chunks {
			_, err := s.PutChunk(ctx, "sess1", i, strings.NewReader(c))
			require.NoError(t, err)
		}
		n, err := s.CountChunksForSession(ctx, "sess1")
		require.NoError(t, err)
		require.Equal(t, 3, n)

		size, err := s.Finalize(ctx, "sess1", dig)
		require.NoError(t, err)
		require.EqualValues(t, 200, size)

		n, err = s.CountChunksForSession(ctx, "sess1")
		require.NoError(t, err)
		require.Equal(t, 0, n)

		has, err := s.Has(ctx, dig)
		require.NoError(t, err)
		require.True(t, has)

		r, size, err := s.Get(ctx, dig)
		require.NoError(t, err)
		require.EqualValues(t, 200, size)
		defer r.Close()
		buf := make([]byte, 200)
		_, err = r.Read(buf)
		require.NoError(t, err)
		require.Equal(t, payload, string(buf))
	})
}

func TestFinalizeDigestMismatchPreservesChunks(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		_, err := s.PutChunk(ctx, "sess2", 0, strings.NewReader("hello"))
		require.NoError(t, err)

		bogus := digestutil.FromBytes([]byte("not hello"))
		_, err = s.Finalize(ctx, "sess2", bogus)
		require.ErrorIs(t, err, reg.ErrDigestInvalid)

		n, err := s.CountChunksForSession(ctx, "sess2")
		require.NoError(t, err)
		require.Equal(t, 1, n)
	})
}

func TestFinalizeChunkGap(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		_, err := s.PutChunk(ctx, "sess3", 0, strings.NewReader("a"))
		require.NoError(t, err)
		_, err = s.PutChunk(ctx, "sess3", 2, strings.NewReader("c"))
		require.NoError(t, err)

		dig := digestutil.FromBytes([]byte("ac"))
		_, err = s.Finalize(ctx, "sess3", dig)
		require.True(t, errors.Is(err, reg.ErrChunkGap))
	})
}

func TestFinalizeDuplicateDigestIsSuccessForLoser(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		dig := digestutil.FromBytes([]byte("same"))

		_, err := s.PutChunk(ctx, "winner", 0, strings.NewReader("same"))
		require.NoError(t, err)
		_, err = s.Finalize(ctx, "winner", dig)
		require.NoError(t, err)

		_, err = s.PutChunk(ctx, "loser", 0, strings.NewReader("same"))
		require.NoError(t, err)
		_, err = s.Finalize(ctx, "loser", dig)
		require.ErrorIs(t, err, reg.ErrDuplicateDigest)

		n, err := s.CountChunksForSession(ctx, "loser")
		require.NoError(t, err)
		require.Equal(t, 0, n)
	})
}

func TestDeleteIsIdempotent(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		dig := digestutil.FromBytes([]byte("x"))
		require.NoError(t, s.Delete(ctx, dig))
		require.NoError(t, s.Delete(ctx, dig))
	})
}

func TestAttemptRecoveryRunsOnceUntilReset(t *testing.T) {
	store.ResetRecovery()
	t.Cleanup(store.ResetRecovery)

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(store.Schema)
	require.NoError(t, err)
	s := store.New(db, afero.NewMemMapFs(), "/tmp")
	ctx := context.Background()

	require.True(t, s.AttemptRecovery(ctx), "integrity_check on a fresh database should report ok")
	require.False(t, s.AttemptRecovery(ctx), "a second attempt before ResetRecovery must be a no-op")

	store.ResetRecovery()
	require.True(t, s.AttemptRecovery(ctx), "AttemptRecovery should run again after ResetRecovery")
}
