package cleanup_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/dockreef/registry/cleanup"
	"github.com/dockreef/registry/session"
	"github.com/dockreef/registry/store"
)

func TestSweepExpiresStaleSessionsOnly(t *testing.T) {
	ctx := context.Background()
	c := clock.NewMock()
	s := store.NewMem()
	tr := session.NewWithClock(c)

	oldID := tr.Create()
	_, err := s.PutChunk(ctx, oldID, 0, strings.NewReader("stale"))
	require.NoError(t, err)

	c.Add(25 * time.Hour)

	freshID := tr.Create()
	_, err = s.PutChunk(ctx, freshID, 0, strings.NewReader("fresh"))
	require.NoError(t, err)

	sched := cleanup.NewWithClock(cleanup.Config{SessionMaxAge: 24 * time.Hour}, c, s, tr, nil)
	n, err := sched.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	count, err := s.CountChunksForSession(ctx, oldID)
	require.NoError(t, err)
	require.Equal(t, 0, count)

	count, err = s.CountChunksForSession(ctx, freshID)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	require.Equal(t, 1, tr.Len())
}

func TestSweepNoOpWhenNothingStale(t *testing.T) {
	ctx := context.Background()
	c := clock.NewMock()
	s := store.NewMem()
	tr := session.NewWithClock(c)
	tr.Create()

	sched := cleanup.NewWithClock(cleanup.Config{SessionMaxAge: 24 * time.Hour}, c, s, tr, nil)
	n, err := sched.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
