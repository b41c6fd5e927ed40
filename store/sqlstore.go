package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/opencontainers/go-digest"
	"github.com/spf13/afero"

	reg "github.com/dockreef/registry"
	"github.com/dockreef/registry/hasher"
)

// SQLStore is the production Blob Store implementation, backed by a
// database/sql connection (modernc.org/sqlite in cmd/registryd, but any
// driver offering serializable/snapshot transactions, BLOB streaming and
// unique constraints works per §6).
type SQLStore struct {
	db   *sql.DB
	fs   afero.Fs
	tmpf string
}

// New returns a Store backed by db. fs is used to spool chunk bodies
// before they're copied into the database; PutChunk then reads the spooled
// body back whole into memory for the INSERT, so each chunk is held in
// memory in full while it is stored. Pass afero.NewOsFs() in production and
// afero.NewMemMapFs() in tests. tmpDir is the directory under fs used for
// spool files.
func New(db *sql.DB, fs afero.Fs, tmpDir string) *SQLStore {
	return &SQLStore{db: db, fs: fs, tmpf: tmpDir}
}

// Schema is the DDL for the blobs table (§6). Callers run this once
// against a fresh database; it's idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS blobs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL DEFAULT '',
	chunk_index INTEGER NOT NULL DEFAULT 0,
	digest      TEXT,
	bytes       BLOB NOT NULL,
	size        INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS blobs_digest_unique ON blobs(digest) WHERE digest IS NOT NULL;
CREATE INDEX IF NOT EXISTS blobs_session_idx ON blobs(session_id) WHERE digest IS NULL;
`

// recoveryAttempted gates AttemptRecovery to a single attempt per process
// lifetime, reset only by ResetRecovery (§9: corruption recovery is "a
// single attempt gated by a process-lifetime flag, reset only by an
// explicit admin hook, never retried in a loop").
var recoveryAttempted atomic.Bool

// isCorruptionSignature reports whether err looks like SQLite reporting
// on-disk corruption rather than an ordinary query failure. SQLite
// surfaces this as a plain error string ("database disk image is
// malformed", "file is not a database"); there's no typed sentinel to
// match on, so this is the same substring check the driver's own callers
// are left to do.
func isCorruptionSignature(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "malformed") || strings.Contains(msg, "not a database")
}

// classifyErr escalates a corruption-signature error to reg.ErrCorruption
// and fires the single-attempt recovery hook, leaving every other error
// untouched. Called at every point this store reports a raw database
// error to a caller.
func (s *SQLStore) classifyErr(ctx context.Context, err error) error {
	if err == nil || !isCorruptionSignature(err) {
		return err
	}
	s.AttemptRecovery(ctx)
	return reg.ErrCorruption
}

// AttemptRecovery tries to recover from a corruption error reported by
// the database, running SQLite's integrity check once per process. It
// does not retry: a second call before ResetRecovery is a no-op that
// reports false, so a corruption error on every subsequent request
// surfaces 503 directly instead of re-running an expensive check that
// already failed once.
func (s *SQLStore) AttemptRecovery(ctx context.Context) bool {
	if !recoveryAttempted.CompareAndSwap(false, true) {
		return false
	}
	var result string
	if err := s.db.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&result); err != nil {
		return false
	}
	return result == "ok"
}

// ResetRecovery clears the single-attempt gate so AttemptRecovery can run
// again. Exposed to the admin surface only: an operator calls this after
// independently remediating the underlying storage fault.
func ResetRecovery() {
	recoveryAttempted.Store(false)
}

func (s *SQLStore) Has(ctx context.Context, dig digest.Digest) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM blobs WHERE digest = ?`, dig.String()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has(%s): %w", dig, s.classifyErr(ctx, err))
	}
	return n > 0, nil
}

func (s *SQLStore) PutChunk(ctx context.Context, sessionID string, index int, r io.Reader) (int64, error) {
	f, err := afero.TempFile(s.fs, s.tmpf, "chunk-")
	if err != nil {
		return 0, fmt.Errorf("putChunk: cannot create spool file: %w", err)
	}
	defer s.fs.Remove(f.Name())
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		return 0, fmt.Errorf("putChunk: spooling body: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("putChunk: rewinding spool file: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return 0, fmt.Errorf("putChunk: reading spool file: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO blobs (session_id, chunk_index, digest, bytes, size) VALUES (?, ?, NULL, ?, ?)`,
		sessionID, index, data, size)
	if err != nil {
		return 0, fmt.Errorf("putChunk: %w", s.classifyErr(ctx, err))
	}
	return size, nil
}

func (s *SQLStore) CountChunksForSession(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM blobs WHERE session_id = ? AND digest IS NULL`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("countChunksForSession(%s): %w", sessionID, s.classifyErr(ctx, err))
	}
	return n, nil
}

func (s *SQLStore) Finalize(ctx context.Context, sessionID string, dig digest.Digest) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("finalize: begin: %w", s.classifyErr(ctx, err))
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT chunk_index, bytes FROM blobs WHERE session_id = ? AND digest IS NULL ORDER BY chunk_index`,
		sessionID)
	if err != nil {
		return 0, fmt.Errorf("finalize: %w", s.classifyErr(ctx, err))
	}
	type chunk struct {
		index int
		bytes []byte
	}
	var chunks []chunk
	for rows.Next() {
		var c chunk
		if err := rows.Scan(&c.index, &c.bytes); err != nil {
			rows.Close()
			return 0, fmt.Errorf("finalize: scan: %w", s.classifyErr(ctx, err))
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("finalize: %w", s.classifyErr(ctx, err))
	}
	rows.Close()

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].index < chunks[j].index })
	for i, c := range chunks {
		if c.index != i {
			return 0, fmt.Errorf("finalize: %w", reg.ErrChunkGap)
		}
	}

	var buf bytes.Buffer
	for _, c := range chunks {
		buf.Write(c.bytes)
	}
	sum, _, err := hasher.SHA256(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return 0, fmt.Errorf("finalize: hashing stitched content: %w", err)
	}
	got := digest.Digest(sum.String())
	if got != dig {
		return 0, fmt.Errorf("finalize: %w", reg.ErrDigestInvalid)
	}

	var existing int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM blobs WHERE digest = ?`, dig.String()).Scan(&existing); err != nil {
		return 0, fmt.Errorf("finalize: %w", s.classifyErr(ctx, err))
	}
	if existing > 0 {
		// Another session already finalized this digest first; our
		// chunks are discarded here and the caller treats this as
		// success (§4.4).
		if _, err := tx.ExecContext(ctx, `DELETE FROM blobs WHERE session_id = ? AND digest IS NULL`, sessionID); err != nil {
			return 0, fmt.Errorf("finalize: discarding losing session: %w", s.classifyErr(ctx, err))
		}
		if err := tx.Commit(); err != nil {
			return 0, fmt.Errorf("finalize: commit: %w", s.classifyErr(ctx, err))
		}
		return int64(buf.Len()), reg.ErrDuplicateDigest
	}

	size := int64(buf.Len())
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO blobs (session_id, chunk_index, digest, bytes, size) VALUES ('', 0, ?, ?, ?)`,
		dig.String(), buf.Bytes(), size); err != nil {
		return 0, fmt.Errorf("finalize: insert: %w", s.classifyErr(ctx, err))
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM blobs WHERE session_id = ? AND digest IS NULL`, sessionID); err != nil {
		return 0, fmt.Errorf("finalize: cleanup chunks: %w", s.classifyErr(ctx, err))
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("finalize: commit: %w", s.classifyErr(ctx, err))
	}
	return size, nil
}

func (s *SQLStore) DiscardSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE session_id = ? AND digest IS NULL`, sessionID)
	if err != nil {
		return fmt.Errorf("discardSession(%s): %w", sessionID, s.classifyErr(ctx, err))
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, dig digest.Digest) (io.ReadCloser, int64, error) {
	var data []byte
	var size int64
	err := s.db.QueryRowContext(ctx, `SELECT bytes, size FROM blobs WHERE digest = ?`, dig.String()).Scan(&data, &size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("get(%s): %w", dig, reg.ErrBlobUnknown)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get(%s): %w", dig, s.classifyErr(ctx, err))
	}
	return io.NopCloser(bytes.NewReader(data)), size, nil
}

func (s *SQLStore) Delete(ctx context.Context, dig digest.Digest) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE digest = ?`, dig.String())
	if err != nil {
		return fmt.Errorf("delete(%s): %w", dig, s.classifyErr(ctx, err))
	}
	return nil
}

func (s *SQLStore) Scan(ctx context.Context, fn func(ScanEntry) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, chunk_index, digest, size FROM blobs`)
	if err != nil {
		return fmt.Errorf("scan: %w", s.classifyErr(ctx, err))
	}
	defer rows.Close()
	for rows.Next() {
		var sessionID string
		var index int
		var dig sql.NullString
		var size int64
		if err := rows.Scan(&sessionID, &index, &dig, &size); err != nil {
			return fmt.Errorf("scan: %w", s.classifyErr(ctx, err))
		}
		e := ScanEntry{Size: size}
		if dig.Valid {
			e.Digest = digest.Digest(dig.String)
		} else {
			e.SessionID = sessionID
			e.Index = index
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return s.classifyErr(ctx, rows.Err())
}

func (s *SQLStore) Stats(ctx context.Context) (int, int64, error) {
	var count int
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*), coalesce(sum(size), 0) FROM blobs WHERE digest IS NOT NULL`).Scan(&count, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("stats: %w", s.classifyErr(ctx, err))
	}
	return count, total.Int64, nil
}

var _ Store = (*SQLStore)(nil)
