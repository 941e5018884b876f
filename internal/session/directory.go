// internal/session/directory.go
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/typerace/typerace/internal/models"
)

// Loader fetches a competition record from the durable store. It is invoked
// at most once per absent directory key, and its result (or failure) is
// shared by every caller racing on that key.
type Loader func(ctx context.Context) (*models.Competition, error)

// DefaultIdleAfter is how long a session with no activity and no organizer
// connection survives before the janitor evicts it.
const DefaultIdleAfter = 30 * time.Minute

// Directory is the process-wide registry of live sessions, keyed by
// competition ID. Its mutex is held only for map bookkeeping, never while a
// loader runs or a session operates, so individual sessions proceed fully in
// parallel. Construct-once semantics come from a per-entry sync.Once.
type Directory struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*directoryEntry

	store     Store
	idleAfter time.Duration
	autoEnd   bool

	ctx    context.Context
	cancel context.CancelFunc
}

type directoryEntry struct {
	once sync.Once
	sess *Session
	err  error
}

// NewDirectory creates a directory and starts its eviction janitor. autoEnd
// wires every constructed session with the round auto-end timer.
func NewDirectory(store Store, idleAfter time.Duration, autoEnd bool) *Directory {
	if idleAfter <= 0 {
		idleAfter = DefaultIdleAfter
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Directory{
		entries:   make(map[uuid.UUID]*directoryEntry),
		store:     store,
		idleAfter: idleAfter,
		autoEnd:   autoEnd,
		ctx:       ctx,
		cancel:    cancel,
	}
	go d.janitor()
	return d
}

// GetOrCreate returns the live session for competitionID, constructing it
// from the loader if absent. Concurrent callers for the same absent key
// observe exactly one loader invocation and the same Session. A failed load
// is not cached: the entry is dropped so a later call can retry.
func (d *Directory) GetOrCreate(ctx context.Context, competitionID uuid.UUID, loader Loader) (*Session, error) {
	d.mu.Lock()
	e, ok := d.entries[competitionID]
	if !ok {
		e = &directoryEntry{}
		d.entries[competitionID] = e
	}
	d.mu.Unlock()

	e.once.Do(func() {
		comp, err := loader(ctx)
		if err != nil {
			e.err = err
			return
		}
		sess := New(comp, d.store)
		sess.SetAutoEnd(d.autoEnd)
		sess.OnEmpty = func(id uuid.UUID) { d.Remove(id) }
		e.sess = sess
		log.Printf("directory: session created for competition %s (code %s)", comp.ID, comp.Code)
	})

	if e.err != nil {
		d.mu.Lock()
		if d.entries[competitionID] == e {
			delete(d.entries, competitionID)
		}
		d.mu.Unlock()
		return nil, e.err
	}
	return e.sess, nil
}

// Get returns the live session for competitionID without constructing one.
func (d *Directory) Get(competitionID uuid.UUID) (*Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[competitionID]
	if !ok || e.sess == nil {
		return nil, false
	}
	return e.sess, true
}

// Remove evicts a session. Safe to call concurrently with in-flight
// operations on that session: they complete against the detached object,
// and later lookups reload from the durable record.
func (d *Directory) Remove(competitionID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries[competitionID]; ok {
		delete(d.entries, competitionID)
		log.Printf("directory: session for competition %s evicted", competitionID)
	}
}

// Len reports the number of live sessions (loading entries included).
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Close stops the janitor. Live sessions are left to the process teardown.
func (d *Directory) Close() {
	d.cancel()
}

// janitor periodically sweeps evictable sessions: completed-and-drained
// ones, and idle ones nobody is organizing. This bounds memory growth from
// abandoned competitions.
func (d *Directory) janitor() {
	interval := d.idleAfter / 4
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case now := <-ticker.C:
			d.sweep(now)
		}
	}
}

func (d *Directory) sweep(now time.Time) {
	d.mu.Lock()
	live := make(map[uuid.UUID]*Session, len(d.entries))
	for id, e := range d.entries {
		if e.sess != nil {
			live[id] = e.sess
		}
	}
	d.mu.Unlock()

	// Evictability checks take each session's lock, so they happen outside
	// the directory lock.
	for id, sess := range live {
		if sess.Evictable(now, d.idleAfter) {
			d.Remove(id)
		}
	}
}
