package upload_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	reg "github.com/dockreef/registry"
	"github.com/dockreef/registry/digestutil"
	"github.com/dockreef/registry/session"
	"github.com/dockreef/registry/store"
	"github.com/dockreef/registry/upload"
)

func newMachine() *upload.Machine {
	return upload.New(store.NewMem(), session.New())
}

func TestInitiateAppendFinalize(t *testing.T) {
	ctx := context.Background()
	m := newMachine()

	res, err := m.Initiate(ctx, "")
	require.NoError(t, err)
	require.False(t, res.ShortCircuited)
	require.NotEmpty(t, res.SessionID)

	idx, err := m.NextIndex(ctx, res.SessionID)
	require.NoError(t, err)
	require.Equal(t, 0, idx)

	ar, err := m.Append(ctx, res.SessionID, 0, strings.NewReader("hello"))
	require.NoError(t, err)
	require.Equal(t, 1, ar.NextIndex)

	dig := digestutil.FromBytes([]byte("hello"))
	fr, err := m.Finalize(ctx, res.SessionID, dig)
	require.NoError(t, err)
	require.False(t, fr.AlreadyFinalized)
	require.Equal(t, dig, fr.Digest)

	has, err := m.Store.Has(ctx, dig)
	require.NoError(t, err)
	require.True(t, has)
}

func TestInitiateShortCircuitsOnAlreadyFinalizedDigest(t *testing.T) {
	ctx := context.Background()
	m := newMachine()

	dig := digestutil.FromBytes([]byte("x"))
	res, err := m.Initiate(ctx, "")
	require.NoError(t, err)
	_, err = m.Append(ctx, res.SessionID, 0, strings.NewReader("x"))
	require.NoError(t, err)
	_, err = m.Finalize(ctx, res.SessionID, dig)
	require.NoError(t, err)

	res2, err := m.Initiate(ctx, dig)
	require.NoError(t, err)
	require.True(t, res2.ShortCircuited)
	require.Empty(t, res2.SessionID)

	// Idempotence: repeated short-circuit initiations keep succeeding.
	res3, err := m.Initiate(ctx, dig)
	require.NoError(t, err)
	require.True(t, res3.ShortCircuited)
}

func TestAppendRejectsWrongIndex(t *testing.T) {
	ctx := context.Background()
	m := newMachine()

	res, err := m.Initiate(ctx, "")
	require.NoError(t, err)
	_, err = m.Append(ctx, res.SessionID, 1, strings.NewReader("x"))
	require.ErrorIs(t, err, reg.ErrBlobUploadInvalid)
}

func TestConcurrentFinalizeRaceYieldsOneWinner(t *testing.T) {
	ctx := context.Background()
	s := store.NewMem()
	tr := session.New()
	m := upload.New(s, tr)

	dig := digestutil.FromBytes([]byte("same"))

	r1, err := m.Initiate(ctx, "")
	require.NoError(t, err)
	_, err = m.Append(ctx, r1.SessionID, 0, strings.NewReader("same"))
	require.NoError(t, err)

	r2, err := m.Initiate(ctx, "")
	require.NoError(t, err)
	_, err = m.Append(ctx, r2.SessionID, 0, strings.NewReader("same"))
	require.NoError(t, err)

	fr1, err := m.Finalize(ctx, r1.SessionID, dig)
	require.NoError(t, err)
	require.False(t, fr1.AlreadyFinalized)

	fr2, err := m.Finalize(ctx, r2.SessionID, dig)
	require.NoError(t, err)
	require.True(t, fr2.AlreadyFinalized)
}

func TestFinalizeDigestMismatchPreservesSession(t *testing.T) {
	ctx := context.Background()
	m := newMachine()

	res, err := m.Initiate(ctx, "")
	require.NoError(t, err)
	_, err = m.Append(ctx, res.SessionID, 0, strings.NewReader("hello"))
	require.NoError(t, err)

	_, err = m.Finalize(ctx, res.SessionID, "sha256:deadbeef00000000000000000000000000000000000000000000000000000000")
	require.Error(t, err)

	idx, err := m.NextIndex(ctx, res.SessionID)
	require.NoError(t, err)
	require.Equal(t, 1, idx)
}
