package worker_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/riskscan/internal/notify"
	"github.com/kiranshivaraju/riskscan/internal/store"
	"github.com/kiranshivaraju/riskscan/pkg/models"
)

// memStore is an in-memory store.Store with the same conditional-update
// semantics as the Postgres implementation.
type memStore struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*models.Job
	results  map[uuid.UUID]*models.AnalysisResult
	usage    map[uuid.UUID]int
	progress map[uuid.UUID][]int

	// beforeGetJob runs before GetJob reads, outside the lock.
	beforeGetJob func(id uuid.UUID)
	usageErr     error
	// completeErr is returned by transitions into completed.
	completeErr error
}

func newMemStore() *memStore {
	return &memStore{
		jobs:     make(map[uuid.UUID]*models.Job),
		results:  make(map[uuid.UUID]*models.AnalysisResult),
		usage:    make(map[uuid.UUID]int),
		progress: make(map[uuid.UUID][]int),
	}
}

func (s *memStore) Ping(context.Context) error { return nil }

func (s *memStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if _, ok := s.jobs[job.ID]; ok {
		return store.ErrDuplicateKey
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *memStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	if s.beforeGetJob != nil {
		s.beforeGetJob(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *memStore) GetNextPendingJob(context.Context) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.pendingLocked()
	if len(pending) == 0 {
		return nil, store.ErrNotFound
	}
	cp := *pending[0]
	return &cp, nil
}

func (s *memStore) CountPendingJobs(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingLocked()), nil
}

func (s *memStore) pendingLocked() []*models.Job {
	var out []*models.Job
	for _, j := range s.jobs {
		if j.Status == models.JobStatusPending {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}

func (s *memStore) TransitionJob(_ context.Context, id uuid.UUID, from, to string, opts ...store.JobUpdateOption) error {
	if !store.ValidTransition(from, to) {
		return store.ErrInvalidTransition
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if to == models.JobStatusCompleted && s.completeErr != nil {
		return s.completeErr
	}
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if j.Status != from {
		return store.ErrStatusConflict
	}

	u := store.ApplyOptions(opts...)
	now := time.Now()
	j.Status = to
	if to == models.JobStatusProcessing {
		j.StartedAt = &now
	} else {
		j.CompletedAt = &now
	}
	if u.Step != nil {
		j.Progress, j.CurrentStep, j.CurrentStepIndex = u.Step.Progress, u.Step.Label, u.Step.Index
		s.progress[id] = append(s.progress[id], u.Step.Progress)
	}
	if u.ErrorKind != nil {
		j.ErrorKind, j.ErrorMessage = u.ErrorKind, u.ErrorMessage
	}
	if u.ResultID != nil {
		j.ResultID = u.ResultID
	}
	j.Archived = j.Archived || u.Archived
	return nil
}

func (s *memStore) UpdateProgress(_ context.Context, id uuid.UUID, progress int, step string, stepIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status != models.JobStatusProcessing {
		return store.ErrStatusConflict
	}
	if progress > j.Progress {
		j.Progress = progress
	}
	if stepIndex >= j.CurrentStepIndex {
		j.CurrentStep, j.CurrentStepIndex = step, stepIndex
	}
	s.progress[id] = append(s.progress[id], progress)
	return nil
}

func (s *memStore) FailStaleJobs(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	kind, msg := models.JobErrorTimeout, "job abandoned in processing"
	for _, j := range s.jobs {
		if j.Status == models.JobStatusProcessing && j.StartedAt != nil && time.Since(*j.StartedAt) > olderThan {
			j.Status = models.JobStatusFailed
			j.ErrorKind, j.ErrorMessage = &kind, &msg
			n++
		}
	}
	return n, nil
}

func (s *memStore) PersistResult(_ context.Context, r *models.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.results {
		if existing.JobID == r.JobID {
			return store.ErrDuplicateKey
		}
	}
	cp := *r
	s.results[r.ID] = &cp
	return nil
}

func (s *memStore) GetAnalysisResult(_ context.Context, id uuid.UUID) (*models.AnalysisResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) IncrementUsageCounter(_ context.Context, userID uuid.UUID) error {
	if s.usageErr != nil {
		return s.usageErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[userID]++
	return nil
}

func (s *memStore) job(id uuid.UUID) models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *memStore) resultCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

func (s *memStore) progressFor(id uuid.UUID) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.progress[id]...)
}

var _ store.Store = (*memStore)(nil)

// memCache records progress snapshots and results.
type memCache struct {
	mu        sync.Mutex
	snapshots []models.ProgressSnapshot
	results   map[uuid.UUID]*models.AnalysisResult
	err       error
}

func (c *memCache) SetProgress(_ context.Context, snap models.ProgressSnapshot, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.snapshots = append(c.snapshots, snap)
	return nil
}

func (c *memCache) SetResult(_ context.Context, r *models.AnalysisResult, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if c.results == nil {
		c.results = make(map[uuid.UUID]*models.AnalysisResult)
	}
	c.results[r.ID] = r
	return nil
}

func (c *memCache) last() models.ProgressSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshots[len(c.snapshots)-1]
}

// recordingNotifier keeps every event it is sent.
type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, ev notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) all() []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Event(nil), n.events...)
}

type jobMetrics struct {
	mu       sync.Mutex
	observed []string
}

func (m *jobMetrics) ObserveJob(status, errorKind string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observed = append(m.observed, status+":"+errorKind)
}

var errBoom = errors.New("boom")
