// Package jobstore keeps the live status of collage jobs in memory.
//
// Entries move through create → progress updates → one terminal transition
// and are evicted once they have been finished for longer than the TTL.
// Each entry has its own lock; the index is a concurrent map so lookups of
// different jobs never contend.
package jobstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"tessera/internal/collage"
	"tessera/internal/errors"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Snapshot is a point-in-time copy of a job's status.
type Snapshot struct {
	ID         string            `json:"id"`
	Status     Status            `json:"status"`
	Percent    int               `json:"percent"`
	Stage      collage.Stage     `json:"stage"`
	Message    string            `json:"message,omitempty"`
	Done       bool              `json:"done"`
	Result     *collage.Metadata `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
	ErrorCode  errors.Code       `json:"error_code,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	FinishedAt time.Time         `json:"finished_at,omitzero"`
}

type entry struct {
	mu   sync.Mutex
	snap Snapshot
}

// Store is an in-memory job status registry.
type Store struct {
	entries *xsync.Map[string, *entry]
	ttl     time.Duration
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store that retains finished jobs for ttl. A non-positive
// ttl keeps finished jobs until the next sweep.
func New(ttl time.Duration, opts ...Option) *Store {
	s := &Store{
		entries: xsync.NewMap[string, *entry](),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a queued job. Creating an existing id is an error.
func (s *Store) Create(id string) error {
	now := s.now()
	e := &entry{snap: Snapshot{
		ID:        id,
		Status:    StatusQueued,
		Stage:     collage.StageQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}}
	if _, loaded := s.entries.LoadOrStore(id, e); loaded {
		return errors.New(errors.ErrCodeValidation, "job %s already exists", id)
	}
	return nil
}

// Get returns a snapshot of the job, or a NOT_FOUND error for unknown or
// evicted ids.
func (s *Store) Get(id string) (Snapshot, error) {
	e, ok := s.entries.Load(id)
	if !ok {
		return Snapshot{}, errors.New(errors.ErrCodeNotFound, "job %s not found", id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap, nil
}

// Start marks a queued job as running.
func (s *Store) Start(id string) bool {
	return s.mutate(id, func(snap *Snapshot) bool {
		if snap.Done {
			return false
		}
		snap.Status = StatusRunning
		return true
	})
}

// Progress applies a progress event. Events for finished jobs and events
// that would move the percentage backwards are ignored.
func (s *Store) Progress(ev collage.Progress) bool {
	return s.mutate(ev.JobID, func(snap *Snapshot) bool {
		if snap.Done || ev.Stage.Terminal() || ev.Percent < snap.Percent {
			return false
		}
		snap.Status = StatusRunning
		snap.Percent = ev.Percent
		snap.Stage = ev.Stage
		snap.Message = ev.Message
		return true
	})
}

// Complete records success. Only the first terminal transition is applied.
func (s *Store) Complete(id string, meta collage.Metadata) bool {
	return s.mutate(id, func(snap *Snapshot) bool {
		if snap.Done {
			return false
		}
		snap.Status = StatusCompleted
		snap.Percent = collage.PctCompleted
		snap.Stage = collage.StageCompleted
		snap.Message = "collage ready"
		snap.Done = true
		snap.Result = &meta
		snap.FinishedAt = s.now()
		return true
	})
}

// Fail records failure. Only the first terminal transition is applied.
func (s *Store) Fail(id string, err error) bool {
	return s.mutate(id, func(snap *Snapshot) bool {
		if snap.Done {
			return false
		}
		snap.Status = StatusFailed
		snap.Stage = collage.StageFailed
		snap.Message = errors.UserMessage(err)
		snap.Done = true
		snap.Error = errors.UserMessage(err)
		snap.ErrorCode = errors.GetCode(err)
		snap.FinishedAt = s.now()
		return true
	})
}

func (s *Store) mutate(id string, fn func(*Snapshot) bool) bool {
	e, ok := s.entries.Load(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !fn(&e.snap) {
		return false
	}
	e.snap.UpdatedAt = s.now()
	return true
}

// List returns snapshots of all live jobs, newest first.
func (s *Store) List() []Snapshot {
	var out []Snapshot
	s.entries.Range(func(_ string, e *entry) bool {
		e.mu.Lock()
		out = append(out, e.snap)
		e.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Len returns the number of tracked jobs.
func (s *Store) Len() int { return s.entries.Size() }

// Sweep evicts jobs finished for at least the TTL and returns how many were
// removed.
func (s *Store) Sweep() int {
	now := s.now()
	var expired []string
	s.entries.Range(func(id string, e *entry) bool {
		e.mu.Lock()
		if e.snap.Done && !now.Before(e.snap.FinishedAt.Add(s.ttl)) {
			expired = append(expired, id)
		}
		e.mu.Unlock()
		return true
	})
	for _, id := range expired {
		s.entries.Delete(id)
	}
	return len(expired)
}

// RunJanitor sweeps every interval until ctx is done. onEvict, if set, is
// called with the count of each non-empty sweep.
func (s *Store) RunJanitor(ctx context.Context, interval time.Duration, onEvict func(n int)) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.Sweep(); n > 0 && onEvict != nil {
				onEvict(n)
			}
		}
	}
}
