// Package manifestindex implements the Manifest Index: a mapping
// (repository, tag) -> (manifest bytes, manifest digest, media type),
// also queryable by (repository, digest).
package manifestindex

import (
	"context"

	"github.com/opencontainers/go-digest"
)

// Manifest is a stored manifest row.
type Manifest struct {
	Name      string
	Tag       string // the row's tag, also when looked up by digest
	Digest    digest.Digest
	MediaType string
	Bytes     []byte
}

// Index is the Manifest Index abstraction described in spec §4.2.
type Index interface {
	// Put upserts (name, tag): any existing row for the key is replaced
	// in the same transaction (§4.2). mediaType is inferred by the
	// caller from the manifest bytes (§4.2, §4.8) and persisted as-is.
	Put(ctx context.Context, name, tag string, dig digest.Digest, mediaType string, data []byte) error

	// Get looks up a manifest by tag or by digest string; ref may be
	// either. Returns ErrManifestUnknown if absent.
	Get(ctx context.Context, name, ref string) (Manifest, error)

	// Has reports whether (name, tag) exists.
	Has(ctx context.Context, name, tag string) (bool, error)

	// DigestFor returns the digest stored for (name, tag).
	DigestFor(ctx context.Context, name, tag string) (digest.Digest, error)

	// Delete removes (name, tag) if present, reporting whether it was
	// there (the atomic "delete if exists" the 202/404 decision needs).
	Delete(ctx context.Context, name, tag string) (bool, error)

	// DeleteRepository removes every row for name, returning the count
	// deleted.
	DeleteRepository(ctx context.Context, name string) (int, error)

	// ListRepositories returns the distinct repository names present
	// (§3 invariant 5: this is a derived view, not a physical table).
	ListRepositories(ctx context.Context) ([]string, error)

	// ListTags returns every tag stored under name.
	ListTags(ctx context.Context, name string) ([]string, error)

	// AllManifests iterates every stored row; used by the Garbage
	// Collector's reference-set scan (§4.6 phase 2).
	AllManifests(ctx context.Context, fn func(Manifest) error) error
}
