// Package gc implements the Garbage Collector: a four-phase sweep that
// removes orphaned upload chunks, blobs no longer referenced by any
// manifest, and manifests that reference a blob that was never stored,
// safely under concurrent pushes (§4.6).
package gc

import (
	"context"
	"fmt"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/dockreef/registry/digestutil"
	"github.com/dockreef/registry/manifestindex"
	"github.com/dockreef/registry/session"
	"github.com/dockreef/registry/store"
)

// Result reports what one Run call removed.
type Result struct {
	BlobsRemoved     int
	BytesFreed       int64
	ManifestsRemoved int
	Duration         time.Duration
}

// Collector runs mark-and-sweep garbage collection against a Blob Store
// and Manifest Index. It never holds the two data stores' locks across
// goroutine boundaries: phase 2's reference-set scan runs fully before
// the blob and manifest deletions of phases 3 and 4 begin (§4.6
// implementation grounding).
type Collector struct {
	Store    store.Store
	Index    manifestindex.Index
	Sessions *session.Tracker

	// SessionMaxAge is how old an upload session's chunks must be before
	// phase 1 considers them orphaned. Zero disables phase 1's age check,
	// meaning every chunk row owned by a session the Tracker no longer
	// knows about is swept.
	SessionMaxAge time.Duration
}

// New returns a Collector wired to s, x and tr.
func New(s store.Store, x manifestindex.Index, tr *session.Tracker) *Collector {
	return &Collector{Store: s, Index: x, Sessions: tr, SessionMaxAge: 24 * time.Hour}
}

// Run performs one full collection pass: (1) sweep orphan chunk rows
// whose owning session is gone or stale, (2) compute the set of blob
// digests referenced by every stored manifest, (3) sweep finalized blobs
// not in that set, (4) sweep manifests that reference a digest never
// stored at all (distinguished from one phase 3 just freed this cycle).
// Each phase is a sequence of separate Store/Index calls; no transaction
// is held open across them.
func (c *Collector) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	var res Result

	if _, err := c.sweepOrphanChunks(ctx); err != nil {
		return Result{}, fmt.Errorf("gc: phase 1 (orphan chunks): %w", err)
	}

	referenced, err := c.referenceSet(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("gc: phase 2 (reference set): %w", err)
	}

	blobsRemoved, bytesFreed, deletedThisCycle, err := c.sweepOrphanBlobs(ctx, referenced)
	if err != nil {
		return Result{}, fmt.Errorf("gc: phase 3 (orphan blobs): %w", err)
	}
	res.BlobsRemoved = blobsRemoved
	res.BytesFreed = bytesFreed

	manifestsRemoved, err := c.sweepOrphanManifests(ctx, deletedThisCycle)
	if err != nil {
		return Result{}, fmt.Errorf("gc: phase 4 (orphan manifests): %w", err)
	}
	res.ManifestsRemoved = manifestsRemoved

	res.Duration = time.Since(start)
	return res, nil
}

// sweepOrphanChunks discards chunk rows owned by sessions the Session
// Tracker no longer tracks, or that have outlived SessionMaxAge. The
// Tracker is advisory (§3), so this phase is conservative: a session id
// present in the Store's Scan but absent from the Tracker is treated as
// abandoned (the process that owned it crashed or restarted).
func (c *Collector) sweepOrphanChunks(ctx context.Context) (int, error) {
	known := make(map[string]bool)
	for _, info := range c.Sessions.All() {
		known[info.ID] = true
	}

	var stale []string
	if c.SessionMaxAge > 0 {
		stale = c.Sessions.Stale(c.SessionMaxAge)
	}
	staleSet := make(map[string]bool, len(stale))
	for _, id := range stale {
		staleSet[id] = true
	}

	orphans := make(map[string]bool)
	err := c.Store.Scan(ctx, func(e store.ScanEntry) error {
		if e.SessionID == "" {
			return nil
		}
		if !known[e.SessionID] || staleSet[e.SessionID] {
			orphans[e.SessionID] = true
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for sid := range orphans {
		if err := c.Store.DiscardSession(ctx, sid); err != nil {
			return 0, err
		}
		c.Sessions.Forget(sid)
	}
	return len(orphans), nil
}

// referenceSet computes the set of blob digests referenced by every
// stored manifest, fanning the per-manifest scan out across goroutines
// via errgroup. This is a point-in-time snapshot, not a transactional
// read: a manifest committed after this scan returns can reference a
// digest the snapshot marked unreferenced. sweepOrphanBlobs treats this
// set only as a candidate list, not as ground truth, and re-checks each
// candidate against the live manifest table immediately before deleting
// it (isReferencedNow) — that re-check, not this snapshot, is what
// actually closes the TOCTOU window (§4.6 phase 3).
func (c *Collector) referenceSet(ctx context.Context) (map[string]bool, error) {
	var manifests []manifestindex.Manifest
	err := c.Index.AllManifests(ctx, func(m manifestindex.Manifest) error {
		manifests = append(manifests, m)
		return nil
	})
	if err != nil {
		return nil, err
	}

	results := make([][]string, len(manifests))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range manifests {
		i, m := i, m
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			digs := digestutil.ReferencedDigests(m.Bytes)
			out := make([]string, 0, len(digs)+1)
			out = append(out, m.Digest.String())
			for _, d := range digs {
				out = append(out, d.String())
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	set := make(map[string]bool)
	for _, d := range lo.Flatten(results) {
		set[d] = true
	}
	return set, nil
}

// sweepOrphanBlobs deletes every finalized blob whose digest is absent
// from referenced, returning how many were removed, how many bytes that
// freed, and the set of digests it deleted this cycle — phase 4 needs
// that set to distinguish "never stored" from "just freed by phase 3"
// (§4.6 ordering rule).
//
// referenced is a snapshot from phase 2 and can go stale: a manifest PUT
// that commits after that scan but before this phase runs may now
// reference a digest the snapshot marked unreferenced. To close that
// window, isReferencedNow re-checks each candidate against the live
// manifest table immediately before it's deleted, not against the
// snapshot.
func (c *Collector) sweepOrphanBlobs(ctx context.Context, referenced map[string]bool) (int, int64, map[string]bool, error) {
	var toDelete []digest.Digest
	err := c.Store.Scan(ctx, func(e store.ScanEntry) error {
		if e.SessionID != "" || e.Digest == "" {
			return nil
		}
		if !referenced[e.Digest.String()] {
			toDelete = append(toDelete, e.Digest)
		}
		return nil
	})
	if err != nil {
		return 0, 0, nil, err
	}

	var freed int64
	deleted := make(map[string]bool, len(toDelete))
	for _, d := range toDelete {
		referencedNow, err := c.isReferencedNow(ctx, d)
		if err != nil {
			return 0, 0, nil, err
		}
		if referencedNow {
			continue
		}
		if _, size, err := c.Store.Get(ctx, d); err == nil {
			freed += size
		}
		if err := c.Store.Delete(ctx, d); err != nil {
			return 0, 0, nil, err
		}
		deleted[d.String()] = true
	}
	return len(deleted), freed, deleted, nil
}

// isReferencedNow reports whether dig is referenced by any manifest
// stored right now, re-reading the manifest table instead of trusting
// phase 2's snapshot (§4.6: phase 3's predicate must be evaluated
// immediately before the delete it gates, not from a cached list).
func (c *Collector) isReferencedNow(ctx context.Context, dig digest.Digest) (bool, error) {
	found := false
	err := c.Index.AllManifests(ctx, func(m manifestindex.Manifest) error {
		if found {
			return nil
		}
		if m.Digest == dig {
			found = true
			return nil
		}
		for _, d := range digestutil.ReferencedDigests(m.Bytes) {
			if d == dig {
				found = true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// sweepOrphanManifests removes manifests that reference a digest that
// was never stored at all — distinct from a digest phase 3 just freed
// this same cycle, which is tracked via deletedThisCycle so a manifest
// whose only referrer was itself doesn't get eaten for having had its
// own blobs just (correctly) reclaimed (§4.6 phase 4, "Orphan
// manifest" in the glossary).
func (c *Collector) sweepOrphanManifests(ctx context.Context, deletedThisCycle map[string]bool) (int, error) {
	var all []manifestindex.Manifest
	err := c.Index.AllManifests(ctx, func(m manifestindex.Manifest) error {
		all = append(all, m)
		return nil
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, m := range all {
		orphaned := false
		for _, d := range digestutil.ReferencedDigests(m.Bytes) {
			if deletedThisCycle[d.String()] {
				continue
			}
			has, err := c.Store.Has(ctx, d)
			if err != nil {
				return removed, err
			}
			if !has {
				orphaned = true
				break
			}
		}
		if orphaned {
			if _, err := c.Index.Delete(ctx, m.Name, m.Tag); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// Stats reports current storage occupancy without mutating anything,
// backing the non-mutating `gc_stats` surface (§4.6, `/api/garbage-collect/stats`).
type Stats struct {
	BlobCount       int
	TotalBytes      int64
	ManifestCount   int
	RepositoryCount int
	ActiveSessions  int
}

func (c *Collector) Stats(ctx context.Context) (Stats, error) {
	count, total, err := c.Store.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	repos, err := c.Index.ListRepositories(ctx)
	if err != nil {
		return Stats{}, err
	}
	var manifestCount int
	err = c.Index.AllManifests(ctx, func(manifestindex.Manifest) error {
		manifestCount++
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		BlobCount:       count,
		TotalBytes:      total,
		ManifestCount:   manifestCount,
		RepositoryCount: len(repos),
		ActiveSessions:  c.Sessions.Len(),
	}, nil
}
