package manifestindex

import (
	"context"
	"sync"

	"github.com/opencontainers/go-digest"

	reg "github.com/dockreef/registry"
)

type memKey struct{ name, tag string }

// MemIndex is an in-memory Index used by unit tests.
type MemIndex struct {
	mu   sync.Mutex
	rows map[memKey]Manifest
}

// NewMem returns an empty MemIndex.
func NewMem() *MemIndex {
	return &MemIndex{rows: make(map[memKey]Manifest)}
}

func (x *MemIndex) Put(ctx context.Context, name, tag string, dig digest.Digest, mediaType string, data []byte) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.rows[memKey{name, tag}] = Manifest{Name: name, Tag: tag, Digest: dig, MediaType: mediaType, Bytes: data}
	return nil
}

func (x *MemIndex) Get(ctx context.Context, name, ref string) (Manifest, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if m, ok := x.rows[memKey{name, ref}]; ok {
		return m, nil
	}
	for _, m := range x.rows {
		if m.Name == name && m.Digest.String() == ref {
			return m, nil
		}
	}
	return Manifest{}, reg.ErrManifestUnknown
}

func (x *MemIndex) Has(ctx context.Context, name, tag string) (bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.rows[memKey{name, tag}]
	return ok, nil
}

func (x *MemIndex) DigestFor(ctx context.Context, name, tag string) (digest.Digest, error) {
	m, err := x.Get(ctx, name, tag)
	if err != nil {
		return "", err
	}
	return m.Digest, nil
}

func (x *MemIndex) Delete(ctx context.Context, name, tag string) (bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	k := memKey{name, tag}
	if _, ok := x.rows[k]; !ok {
		return false, nil
	}
	delete(x.rows, k)
	return true, nil
}

func (x *MemIndex) DeleteRepository(ctx context.Context, name string) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	n := 0
	for k := range x.rows {
		if k.name == name {
			delete(x.rows, k)
			n++
		}
	}
	return n, nil
}

func (x *MemIndex) ListRepositories(ctx context.Context) ([]string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	seen := make(map[string]bool)
	var names []string
	for k := range x.rows {
		if !seen[k.name] {
			seen[k.name] = true
			names = append(names, k.name)
		}
	}
	return names, nil
}

func (x *MemIndex) ListTags(ctx context.Context, name string) ([]string, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	var tags []string
	for k := range x.rows {
		if k.name == name {
			tags = append(tags, k.tag)
		}
	}
	return tags, nil
}

func (x *MemIndex) AllManifests(ctx context.Context, fn func(Manifest) error) error {
	x.mu.Lock()
	rows := make([]Manifest, 0, len(x.rows))
	for _, m := range x.rows {
		rows = append(rows, m)
	}
	x.mu.Unlock()
	for _, m := range rows {
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

var _ Index = (*MemIndex)(nil)
