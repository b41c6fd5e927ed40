package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sort"
	"sync"

	"github.com/opencontainers/go-digest"

	reg "github.com/dockreef/registry"
)

// MemStore is an in-memory Store used by unit tests for the Upload State
// Machine, Garbage Collector and Cleanup Scheduler, so those suites don't
// pay SQLite setup cost per test. It implements the exact same contracts
// as SQLStore, including the transactional semantics of Finalize (a
// single mutex stands in for the database transaction).
type MemStore struct {
	mu     sync.Mutex
	chunks map[string]map[int][]byte // sessionID -> index -> bytes
	finals map[digest.Digest][]byte
}

// NewMem returns an empty MemStore.
func NewMem() *MemStore {
	return &MemStore{
		chunks: make(map[string]map[int][]byte),
		finals: make(map[digest.Digest][]byte),
	}
}

func (s *MemStore) Has(ctx context.Context, dig digest.Digest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.finals[dig]
	return ok, nil
}

func (s *MemStore) PutChunk(ctx context.Context, sessionID string, index int, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chunks[sessionID] == nil {
		s.chunks[sessionID] = make(map[int][]byte)
	}
	s.chunks[sessionID][index] = data
	return int64(len(data)), nil
}

func (s *MemStore) CountChunksForSession(ctx context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks[sessionID]), nil
}

func (s *MemStore) Finalize(ctx context.Context, sessionID string, dig digest.Digest) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.chunks[sessionID]
	indices := make([]int, 0, len(m))
	for i := range m {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	for i, idx := range indices {
		if idx != i {
			return 0, reg.ErrChunkGap
		}
	}

	var buf bytes.Buffer
	h := sha256.New()
	for _, idx := range indices {
		h.Write(m[idx])
		buf.Write(m[idx])
	}
	got := digest.Digest("sha256:" + hex.EncodeToString(h.Sum(nil)))
	if got != dig {
		return 0, reg.ErrDigestInvalid
	}

	if _, exists := s.finals[dig]; exists {
		delete(s.chunks, sessionID)
		return int64(buf.Len()), reg.ErrDuplicateDigest
	}
	s.finals[dig] = buf.Bytes()
	delete(s.chunks, sessionID)
	return int64(buf.Len()), nil
}

func (s *MemStore) DiscardSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, sessionID)
	return nil
}

func (s *MemStore) Get(ctx context.Context, dig digest.Digest) (io.ReadCloser, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.finals[dig]
	if !ok {
		return nil, 0, reg.ErrBlobUnknown
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (s *MemStore) Delete(ctx context.Context, dig digest.Digest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.finals, dig)
	return nil
}

func (s *MemStore) Scan(ctx context.Context, fn func(ScanEntry) error) error {
	s.mu.Lock()
	type row struct {
		e ScanEntry
	}
	var rows []row
	for sid, chunks := range s.chunks {
		for idx, data := range chunks {
			rows = append(rows, row{ScanEntry{SessionID: sid, Index: idx, Size: int64(len(data))}})
		}
	}
	for dig, data := range s.finals {
		rows = append(rows, row{ScanEntry{Digest: dig, Size: int64(len(data))}})
	}
	s.mu.Unlock()

	for _, r := range rows {
		if err := fn(r.e); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemStore) Stats(ctx context.Context) (int, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, data := range s.finals {
		total += int64(len(data))
	}
	return len(s.finals), total, nil
}

var _ Store = (*MemStore)(nil)
