// Package store implements the Blob Store: durable, transactional,
// content-addressed storage of byte sequences keyed by digest, holding
// both chunk rows (partial uploads, digest unset) and finalized rows
// (digest set, unique).
package store

import (
	"context"
	"io"

	"github.com/opencontainers/go-digest"
)

// Chunk describes one row written by PutChunk.
type Chunk struct {
	SessionID string
	Index     int
	Size      int64
}

// ScanEntry is produced by Scan for both chunk and finalized rows.
type ScanEntry struct {
	SessionID string // empty for a finalized row
	Index     int    // only meaningful when SessionID is non-empty
	Digest    digest.Digest
	Size      int64
}

// Store is the Blob Store abstraction described in spec §4.1. A single
// call to any method is one transaction; callers never need to wrap
// multiple Store calls in an outer transaction, because every operation
// that must be atomic (finalize's stitch, the GC's phases) is expressed
// as one Store or one *sql.Tx-scoped call.
type Store interface {
	// Has reports whether a finalized row exists for digest.
	Has(ctx context.Context, dig digest.Digest) (bool, error)

	// PutChunk streams r to durable storage and records a new chunk row
	// (session, index, bytes, size, digest=unset). It does not check for
	// duplicate (session, index) pairs: two concurrent PATCHes to the
	// same location are a client protocol error that Finalize will catch
	// as a chunk gap or by stitching the wrong bytes, not something the
	// store rejects up front.
	PutChunk(ctx context.Context, sessionID string, index int, r io.Reader) (size int64, err error)

	// CountChunksForSession returns the number of chunk rows (digest
	// unset) currently owned by sessionID. This is deliberately blind to
	// finalized rows, since nextSessionLocation must keep counting from
	// zero even across a session that finalizes and a new session that
	// reuses the same id space would never happen (session ids are
	// UUIDs), but mixing finalized counts in here would double-count
	// a session that has already been finalized and re-queried.
	CountChunksForSession(ctx context.Context, sessionID string) (int, error)

	// Finalize stitches the chunk rows for sessionID (ordered by index),
	// verifies they form a dense 0..n-1 prefix, recomputes the SHA-256
	// over the concatenation, and compares it to dig. On success it
	// inserts a finalized row and deletes the session's chunk rows, all
	// within one transaction.
	//
	// Returns ErrChunkGap if the indices aren't dense or ErrDigestInvalid
	// if the computed digest doesn't match dig; in both cases the chunk
	// rows are left alone so the client can retry. Returns
	// ErrDuplicateDigest if a finalized row for dig already exists; the
	// session's chunk rows are then deleted in the same transaction.
	Finalize(ctx context.Context, sessionID string, dig digest.Digest) (size int64, err error)

	// DiscardSession deletes all chunk rows owned by sessionID, without
	// finalizing. Used by the Cleanup Scheduler, the Garbage Collector's
	// orphan-chunk sweep and the Upload State Machine's Discard.
	DiscardSession(ctx context.Context, sessionID string) error

	// Get opens a streaming read of the finalized blob with digest dig.
	Get(ctx context.Context, dig digest.Digest) (io.ReadCloser, int64, error)

	// Delete removes the finalized row for dig. Idempotent: deleting an
	// absent digest is not an error.
	Delete(ctx context.Context, dig digest.Digest) error

	// Scan iterates every row, chunk and finalized, invoking fn for each.
	// Used by GC and admin diagnostics.
	Scan(ctx context.Context, fn func(ScanEntry) error) error

	// Stats returns the number of finalized blobs and their total size,
	// without mutating anything.
	Stats(ctx context.Context) (count int, totalBytes int64, err error)
}
