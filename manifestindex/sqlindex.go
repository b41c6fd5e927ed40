package manifestindex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/maypok86/otter"
	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/singleflight"

	reg "github.com/dockreef/registry"
)

// Schema is the DDL for the manifests table (§6).
const Schema = `
CREATE TABLE IF NOT EXISTS manifests (
	name      TEXT NOT NULL,
	tag       TEXT NOT NULL,
	digest    TEXT NOT NULL,
	bytes     BLOB NOT NULL,
	mediaType TEXT NOT NULL,
	UNIQUE(name, tag)
);
CREATE INDEX IF NOT EXISTS manifests_digest_idx ON manifests(name, digest);
`

// SQLIndex is the production Manifest Index implementation, backed by
// database/sql. Tag lookups are fronted by an otter read-through cache;
// the cache entry for the affected key is dropped right after the
// statement or transaction that mutates the row commits, so a cache hit
// can never outlive the data it reflects (§4.2).
type SQLIndex struct {
	db    *sql.DB
	cache otter.Cache[string, Manifest]
	group singleflight.Group
}

// New returns an Index backed by db.
func New(db *sql.DB) *SQLIndex {
	cache, err := otter.MustBuilder[string, Manifest](10_000).
		WithTTL(10 * time.Minute).
		Build()
	if err != nil {
		// otter only fails to build on invalid capacity, which New
		// never passes; a panic here would indicate a programming
		// error, not a runtime condition callers can handle.
		panic(err)
	}
	return &SQLIndex{db: db, cache: cache}
}

func cacheKey(name, tag string) string {
	return name + "\x00" + tag
}

func (x *SQLIndex) Put(ctx context.Context, name, tag string, dig digest.Digest, mediaType string, data []byte) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("manifestindex put: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM manifests WHERE name = ? AND tag = ?`, name, tag); err != nil {
		return fmt.Errorf("manifestindex put: delete existing: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO manifests (name, tag, digest, bytes, mediaType) VALUES (?, ?, ?, ?, ?)`,
		name, tag, dig.String(), data, mediaType); err != nil {
		return fmt.Errorf("manifestindex put: insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("manifestindex put: commit: %w", err)
	}
	x.cache.Delete(cacheKey(name, tag))
	return nil
}

func (x *SQLIndex) Get(ctx context.Context, name, ref string) (Manifest, error) {
	if strings.Contains(ref, ":") {
		return x.getByDigest(ctx, name, ref)
	}
	return x.getByTag(ctx, name, ref)
}

func (x *SQLIndex) getByTag(ctx context.Context, name, tag string) (Manifest, error) {
	key := cacheKey(name, tag)
	if m, ok := x.cache.Get(key); ok {
		return m, nil
	}
	v, err, _ := x.group.Do(key, func() (any, error) {
		m, err := x.queryOne(ctx, `SELECT name, tag, digest, mediaType, bytes FROM manifests WHERE name = ? AND tag = ?`, name, tag)
		if err != nil {
			return Manifest{}, err
		}
		x.cache.Set(key, m)
		return m, nil
	})
	if err != nil {
		return Manifest{}, err
	}
	return v.(Manifest), nil
}

func (x *SQLIndex) getByDigest(ctx context.Context, name, ref string) (Manifest, error) {
	return x.queryOne(ctx,
		`SELECT name, tag, digest, mediaType, bytes FROM manifests WHERE name = ? AND digest = ? LIMIT 1`, name, ref)
}

func (x *SQLIndex) queryOne(ctx context.Context, query string, args ...any) (Manifest, error) {
	var m Manifest
	var dig string
	err := x.db.QueryRowContext(ctx, query, args...).Scan(&m.Name, &m.Tag, &dig, &m.MediaType, &m.Bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return Manifest{}, fmt.Errorf("manifestindex get: %w", reg.ErrManifestUnknown)
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("manifestindex get: %w", err)
	}
	m.Digest = digest.Digest(dig)
	return m, nil
}

func (x *SQLIndex) Has(ctx context.Context, name, tag string) (bool, error) {
	var n int
	err := x.db.QueryRowContext(ctx, `SELECT count(*) FROM manifests WHERE name = ? AND tag = ?`, name, tag).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("manifestindex has: %w", err)
	}
	return n > 0, nil
}

func (x *SQLIndex) DigestFor(ctx context.Context, name, tag string) (digest.Digest, error) {
	m, err := x.getByTag(ctx, name, tag)
	if err != nil {
		return "", err
	}
	return m.Digest, nil
}

func (x *SQLIndex) Delete(ctx context.Context, name, tag string) (bool, error) {
	res, err := x.db.ExecContext(ctx, `DELETE FROM manifests WHERE name = ? AND tag = ?`, name, tag)
	if err != nil {
		return false, fmt.Errorf("manifestindex delete: %w", err)
	}
	x.cache.Delete(cacheKey(name, tag))
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("manifestindex delete: %w", err)
	}
	return n > 0, nil
}

func (x *SQLIndex) DeleteRepository(ctx context.Context, name string) (int, error) {
	tags, err := x.ListTags(ctx, name)
	if err != nil {
		return 0, err
	}
	res, err := x.db.ExecContext(ctx, `DELETE FROM manifests WHERE name = ?`, name)
	if err != nil {
		return 0, fmt.Errorf("manifestindex deleteRepository: %w", err)
	}
	for _, tag := range tags {
		x.cache.Delete(cacheKey(name, tag))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("manifestindex deleteRepository: %w", err)
	}
	return int(n), nil
}

func (x *SQLIndex) ListRepositories(ctx context.Context) ([]string, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT DISTINCT name FROM manifests ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("manifestindex listRepositories: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("manifestindex listRepositories: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (x *SQLIndex) ListTags(ctx context.Context, name string) ([]string, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT tag FROM manifests WHERE name = ? ORDER BY tag`, name)
	if err != nil {
		return nil, fmt.Errorf("manifestindex listTags: %w", err)
	}
	defer rows.Close()
	var tags []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("manifestindex listTags: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func (x *SQLIndex) AllManifests(ctx context.Context, fn func(Manifest) error) error {
	rows, err := x.db.QueryContext(ctx, `SELECT name, tag, digest, mediaType, bytes FROM manifests`)
	if err != nil {
		return fmt.Errorf("manifestindex allManifests: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m Manifest
		var dig string
		if err := rows.Scan(&m.Name, &m.Tag, &dig, &m.MediaType, &m.Bytes); err != nil {
			return fmt.Errorf("manifestindex allManifests: %w", err)
		}
		m.Digest = digest.Digest(dig)
		if err := fn(m); err != nil {
			return err
		}
	}
	return rows.Err()
}

var _ Index = (*SQLIndex)(nil)
