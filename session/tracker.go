// Package session implements the Session Tracker: it mints upload
// session identifiers and tracks per-session creation and last-activity
// time for the Cleanup Scheduler (§4.3, §4.7).
package session

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Info is the in-memory record the Cleanup Scheduler consults to decide
// whether a session is stale. Chunk rows themselves live in the Blob
// Store (§3: "Sessions own chunk rows"); the Tracker only remembers
// enough to answer "how old is this session" without touching storage.
type Info struct {
	ID           string
	CreatedAt    time.Time
	LastActivity time.Time
}

// Tracker mints session ids and records activity. It is the "in-memory
// active-sessions view" §5 allows to be eventually consistent: a process
// restart loses it, and in-flight sessions are discardable by design
// (Non-goals: resumable uploads across restarts).
type Tracker struct {
	clock clock.Clock

	mu       sync.Mutex
	sessions map[string]*Info
}

// New returns a Tracker using the real wall clock.
func New() *Tracker {
	return NewWithClock(clock.New())
}

// NewWithClock returns a Tracker driven by c, so tests can fast-forward
// time deterministically instead of sleeping.
func NewWithClock(c clock.Clock) *Tracker {
	return &Tracker{clock: c, sessions: make(map[string]*Info)}
}

// Create mints a new session id and records its birth.
func (t *Tracker) Create() string {
	id := uuid.NewString()
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[id] = &Info{ID: id, CreatedAt: now, LastActivity: now}
	return id
}

// Touch records activity on id, extending its lifetime against the
// Cleanup Scheduler's age threshold. A no-op if id is unknown (the
// Tracker is advisory, not the source of truth for session existence —
// the Blob Store's chunk rows are).
func (t *Tracker) Touch(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if info, ok := t.sessions[id]; ok {
		info.LastActivity = t.clock.Now()
	}
}

// Forget removes id, called when a session finalizes or is discarded.
func (t *Tracker) Forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, id)
}

// Stale returns the ids of every tracked session whose last activity is
// older than maxAge, as of the tracker's clock.
func (t *Tracker) Stale(maxAge time.Duration) []string {
	cutoff := t.clock.Now().Add(-maxAge)
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []string
	for id, info := range t.sessions {
		if info.LastActivity.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len reports how many sessions are currently tracked. Read by the
// Garbage Collector's Stats, which the admin/observability state and
// GC-stats endpoints report (§6).
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// All returns a snapshot of every tracked session's Info.
func (t *Tracker) All() []Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Info, 0, len(t.sessions))
	for _, info := range t.sessions {
		out = append(out, *info)
	}
	return out
}
