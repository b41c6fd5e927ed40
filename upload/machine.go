// Package upload implements the Upload State Machine: it orchestrates
// the POST-initiate -> PATCH-chunks -> PUT-finalize flow described in
// spec §4.4, stitching chunks, validating digests, and transitioning
// rows to the finalized state via the Blob Store.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/opencontainers/go-digest"

	reg "github.com/dockreef/registry"
	"github.com/dockreef/registry/session"
	"github.com/dockreef/registry/store"
)

// Machine orchestrates uploads against a Blob Store and Session Tracker.
type Machine struct {
	Store    store.Store
	Sessions *session.Tracker
}

// New returns a Machine backed by s and tr.
func New(s store.Store, tr *session.Tracker) *Machine {
	return &Machine{Store: s, Sessions: tr}
}

// InitiateResult is returned by Initiate.
type InitiateResult struct {
	// ShortCircuited is true when dig was already finalized in the Blob
	// Store and no session was created (§4.4 Initiate).
	ShortCircuited bool
	SessionID      string
}

// Initiate mints a new upload session, unless dig is non-empty and
// already finalized, in which case it short-circuits: no session is
// created (§4.4).
func (m *Machine) Initiate(ctx context.Context, dig digest.Digest) (InitiateResult, error) {
	if dig != "" {
		ok, err := m.Store.Has(ctx, dig)
		if err != nil {
			return InitiateResult{}, err
		}
		if ok {
			return InitiateResult{ShortCircuited: true}, nil
		}
	}
	id := m.Sessions.Create()
	return InitiateResult{SessionID: id}, nil
}

// NextIndex returns the chunk index a client must PATCH next for
// sessionID: nextSessionLocation is "the session id and the current
// chunk count for that session" (§4.3).
func (m *Machine) NextIndex(ctx context.Context, sessionID string) (int, error) {
	return m.Store.CountChunksForSession(ctx, sessionID)
}

// AppendResult is returned by Append.
type AppendResult struct {
	NextIndex   int
	TotalBytes  int64
	ChunkSize   int64
}

// Append appends one chunk to sessionID. index must equal the current
// CountChunksForSession(sessionID), per the Append protocol contract
// (§4.4); callers are expected to have already checked this against the
// URL path segment before calling Append, but Append re-validates it
// itself so the invariant can never be violated by a caller bug.
func (m *Machine) Append(ctx context.Context, sessionID string, index int, r io.Reader) (AppendResult, error) {
	current, err := m.Store.CountChunksForSession(ctx, sessionID)
	if err != nil {
		return AppendResult{}, err
	}
	if index != current {
		return AppendResult{}, fmt.Errorf("append: chunk index %d does not match expected %d: %w", index, current, reg.ErrBlobUploadInvalid)
	}
	size, err := m.Store.PutChunk(ctx, sessionID, index, r)
	if err != nil {
		return AppendResult{}, err
	}
	m.Sessions.Touch(sessionID)

	total, err := m.totalBytes(ctx, sessionID)
	if err != nil {
		return AppendResult{}, err
	}
	return AppendResult{NextIndex: index + 1, TotalBytes: total, ChunkSize: size}, nil
}

func (m *Machine) totalBytes(ctx context.Context, sessionID string) (int64, error) {
	var total int64
	err := m.Store.Scan(ctx, func(e store.ScanEntry) error {
		if e.SessionID == sessionID {
			total += e.Size
		}
		return nil
	})
	return total, err
}

// FinalizeResult is returned by Finalize.
type FinalizeResult struct {
	Digest digest.Digest
	Size   int64
	// AlreadyFinalized is true when a concurrent session won the race
	// for dig first; the caller still reports success (§4.4).
	AlreadyFinalized bool
}

// Finalize stitches and verifies sessionID's chunks against dig,
// promoting them to a finalized blob. The session is forgotten by the
// Tracker on any terminal outcome (success or "lost the digest race");
// on ErrChunkGap/ErrDigestInvalid the session is preserved so the client
// can retry (§4.4, §7).
func (m *Machine) Finalize(ctx context.Context, sessionID string, dig digest.Digest) (FinalizeResult, error) {
	size, err := m.Store.Finalize(ctx, sessionID, dig)
	switch {
	case err == nil:
		m.Sessions.Forget(sessionID)
		return FinalizeResult{Digest: dig, Size: size}, nil
	case errors.Is(err, reg.ErrDuplicateDigest):
		m.Sessions.Forget(sessionID)
		return FinalizeResult{Digest: dig, Size: size, AlreadyFinalized: true}, nil
	default:
		return FinalizeResult{}, err
	}
}

// Discard abandons sessionID without finalizing, deleting its chunk rows.
func (m *Machine) Discard(ctx context.Context, sessionID string) error {
	if err := m.Store.DiscardSession(ctx, sessionID); err != nil {
		return err
	}
	m.Sessions.Forget(sessionID)
	return nil
}
