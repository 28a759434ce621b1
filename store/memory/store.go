package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/xraph/jobstore"
	"github.com/xraph/jobstore/ext"
	"github.com/xraph/jobstore/id"
	"github.com/xraph/jobstore/job"
	"github.com/xraph/jobstore/store"
)

// Ensure Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

// entry pairs a job with its insertion sequence so reservation and listing
// follow natural (insertion) order like the MongoDB backend.
type entry struct {
	job *job.Job
	seq uint64
}

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu     sync.Mutex
	jobs   map[string]*entry
	seq    uint64
	closed bool

	now        func() time.Time
	extensions *ext.Registry
	logger     *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithClock sets the time source used for deadlines and sweeps.
func WithClock(now func() time.Time) Option {
	return func(m *Store) { m.now = now }
}

// WithExtensions sets the registry that receives lifecycle and job events.
func WithExtensions(r *ext.Registry) Option {
	return func(m *Store) { m.extensions = r }
}

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Store) { m.logger = logger }
}

// New returns a new empty Store. It is usable immediately; Open only
// re-enables a closed store and emits StoreOpened.
func New(opts ...Option) *Store {
	m := &Store{
		jobs:   make(map[string]*entry),
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ──────────────────────────────────────────────────
// Lifecycle: Open / Close / Migrate / Ping
// ──────────────────────────────────────────────────

// Open marks the store usable and emits StoreOpened.
func (m *Store) Open(ctx context.Context) error {
	m.mu.Lock()
	m.closed = false
	m.mu.Unlock()

	m.logger.Debug("memory store opened")
	m.extensions.EmitStoreOpened(ctx)
	return nil
}

// Close marks the store closed and emits StoreClosed. Operations are
// serialized by the store mutex, so there is never anything in flight to
// abandon and force has no effect.
func (m *Store) Close(ctx context.Context, _ bool) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.logger.Debug("memory store closed")
	m.extensions.EmitStoreClosed(ctx, nil)
	return nil
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping reports ErrStoreClosed after Close.
func (m *Store) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return jobstore.ErrStoreClosed
	}
	return nil
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// Add persists a new job.
func (m *Store) Add(_ context.Context, j *job.Job) error {
	if j.ID == "" {
		j.ID = id.NewJobID()
	}
	if j.Status == "" {
		j.Status = job.StatusReady
	}
	if err := j.Validate(); err != nil {
		return fmt.Errorf("%w: %w", jobstore.ErrJobNotCreated, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return jobstore.ErrStoreClosed
	}
	if _, exists := m.jobs[j.ID]; exists {
		return fmt.Errorf("%w: %w", jobstore.ErrJobNotCreated, jobstore.ErrJobAlreadyExists)
	}
	m.seq++
	m.jobs[j.ID] = &entry{job: j.Clone(), seq: m.seq}
	return nil
}

// GetByID returns the job with the given id, or nil.
func (m *Store) GetByID(_ context.Context, jobID string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, jobstore.ErrStoreClosed
	}
	e, ok := m.jobs[jobID]
	if !ok {
		return nil, nil //nolint:nilnil // absence is not an error
	}
	return e.job.Clone(), nil
}

// Get returns every job matching filter in insertion order.
func (m *Store) Get(_ context.Context, filter job.Filter) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, jobstore.ErrStoreClosed
	}
	matched := m.match(filter)
	result := make([]*job.Job, len(matched))
	for i, e := range matched {
		result[i] = e.job.Clone()
	}
	return result, nil
}

// Reserve moves the oldest ready job to processing under the store mutex.
func (m *Store) Reserve(ctx context.Context, workerID string) (*job.Job, error) {
	if workerID == "" {
		return nil, jobstore.ErrInvalidWorker
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, jobstore.ErrStoreClosed
	}
	candidates := m.match(job.Filter{job.FieldStatus: job.StatusReady})
	if len(candidates) == 0 {
		m.mu.Unlock()
		return nil, nil //nolint:nilnil // no job available is not an error
	}

	j := candidates[0].job
	now := m.now()
	j.Status = job.StatusProcessing
	j.WorkerID = workerID
	if j.ExpireMs > 0 {
		j.Expires = now.Add(j.ExpireAfter())
	}
	if j.StallMs > 0 {
		j.Stalls = now.Add(j.StallAfter())
	}
	reserved := j.Clone()
	m.mu.Unlock()

	m.extensions.EmitJobReserved(ctx, reserved)
	return reserved, nil
}

// UpdateByID applies a partial update to exactly one job.
func (m *Store) UpdateByID(_ context.Context, jobID string, fields job.Fields) error {
	if _, ok := fields[job.FieldID]; ok {
		return jobstore.ErrImmutableID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return jobstore.ErrStoreClosed
	}
	e, ok := m.jobs[jobID]
	if !ok {
		return jobstore.NewWriteCountError("updateById", 0)
	}
	return m.apply(e, fields)
}

// UpdateOwned applies fields only while the job is processing under workerID.
func (m *Store) UpdateOwned(_ context.Context, jobID, workerID string, fields job.Fields) error {
	if workerID == "" {
		return jobstore.ErrInvalidWorker
	}
	if _, ok := fields[job.FieldID]; ok {
		return jobstore.ErrImmutableID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return jobstore.ErrStoreClosed
	}
	e, ok := m.owned(jobID, workerID)
	if !ok {
		return jobstore.NotOwnedError("updateOwned", jobID, workerID)
	}
	return m.apply(e, fields)
}

// apply updates a copy so a rejected field leaves the job untouched.
// Caller must hold m.mu.
func (m *Store) apply(e *entry, fields job.Fields) error {
	updated := e.job.Clone()
	if err := updated.Apply(fields); err != nil {
		return fmt.Errorf("jobstore/memory: update job: %w", err)
	}
	e.job = updated
	return nil
}

// RemoveOwned deletes the job only while it is processing under workerID.
func (m *Store) RemoveOwned(_ context.Context, jobID, workerID string) (bool, error) {
	if workerID == "" {
		return false, jobstore.ErrInvalidWorker
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, jobstore.ErrStoreClosed
	}
	if _, ok := m.owned(jobID, workerID); !ok {
		return false, jobstore.NotOwnedError("removeOwned", jobID, workerID)
	}
	delete(m.jobs, jobID)
	return true, nil
}

// owned returns the entry if it is processing under workerID.
// Caller must hold m.mu.
func (m *Store) owned(jobID, workerID string) (*entry, bool) {
	e, ok := m.jobs[jobID]
	if !ok || e.job.Status != job.StatusProcessing || e.job.WorkerID != workerID {
		return nil, false
	}
	return e, true
}

// RemoveByID deletes exactly one job.
func (m *Store) RemoveByID(_ context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, jobstore.ErrStoreClosed
	}
	if _, ok := m.jobs[jobID]; !ok {
		return false, jobstore.NewWriteCountError("removeById", 0)
	}
	delete(m.jobs, jobID)
	return true, nil
}

// Remove deletes every job matching filter.
func (m *Store) Remove(_ context.Context, filter job.Filter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, jobstore.ErrStoreClosed
	}
	matched := m.match(filter)
	for _, e := range matched {
		delete(m.jobs, e.job.ID)
	}
	return int64(len(matched)), nil
}

// RemoveByStatus deletes every job with the given status.
func (m *Store) RemoveByStatus(ctx context.Context, status job.Status) (int64, error) {
	return m.Remove(ctx, job.Filter{job.FieldStatus: status})
}

// Clear deletes every job.
func (m *Store) Clear(ctx context.Context) (int64, error) {
	return m.Remove(ctx, job.Filter{})
}

// ──────────────────────────────────────────────────
// Reclamation
// ──────────────────────────────────────────────────

// ReclaimExpired resets processing jobs whose expires deadline has passed.
func (m *Store) ReclaimExpired(ctx context.Context) (int64, error) {
	return m.reclaim(ctx, job.ReclaimExpired)
}

// ReclaimStalled resets processing jobs whose stalls deadline has passed.
func (m *Store) ReclaimStalled(ctx context.Context) (int64, error) {
	return m.reclaim(ctx, job.ReclaimStalled)
}

func (m *Store) reclaim(ctx context.Context, kind job.ReclaimKind) (int64, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, jobstore.ErrStoreClosed
	}

	now := m.now()
	var count int64
	for _, e := range m.jobs {
		j := e.job
		if j.Status != job.StatusProcessing {
			continue
		}
		switch kind {
		case job.ReclaimStalled:
			if j.Stalls.IsZero() || !j.Stalls.Before(now) {
				continue
			}
			j.Stalls = now.Add(j.StallAfter())
		default:
			if j.Expires.IsZero() || !j.Expires.Before(now) {
				continue
			}
			j.Expires = now.Add(j.ExpireAfter())
		}
		j.Status = job.StatusReady
		j.WorkerID = ""
		j.Attempts++
		count++

		m.logger.Debug("reclaimed job",
			slog.String("job_id", j.ID),
			slog.String("kind", string(kind)),
			slog.Int("attempts", j.Attempts),
		)
	}
	m.mu.Unlock()

	if count > 0 {
		m.extensions.EmitJobReclaimed(ctx, kind, count)
	}
	return count, nil
}

// match returns entries matching filter sorted by insertion order.
// Caller must hold m.mu.
func (m *Store) match(filter job.Filter) []*entry {
	result := make([]*entry, 0, len(m.jobs))
	for _, e := range m.jobs {
		if e.job.Matches(filter) {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].seq < result[k].seq
	})
	return result
}
