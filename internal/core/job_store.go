package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type jobEntry struct {
	mu  sync.Mutex
	job Job
}

func (e *jobEntry) snapshot() Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job
}

// JobStore holds print jobs for the lifetime of the process. The index lock
// only guards the maps; status updates lock the individual job.
type JobStore struct {
	mu        sync.RWMutex
	jobs      map[string]*jobEntry
	byAccount map[string][]*jobEntry
	all       []*jobEntry
	newID     func() string
	now       func() time.Time
}

func NewJobStore() *JobStore {
	return &JobStore{
		jobs:      make(map[string]*jobEntry),
		byAccount: make(map[string][]*jobEntry),
		newID:     func() string { return uuid.New().String() },
		now:       time.Now,
	}
}

// Create inserts a pending job under a fresh id.
func (s *JobStore) Create(accountKey, deviceID, fileRef string) Job {
	now := s.now()
	job := Job{
		ID:         s.newID(),
		AccountKey: accountKey,
		DeviceID:   deviceID,
		FileRef:    fileRef,
		Status:     JobStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	entry := &jobEntry{job: job}

	s.mu.Lock()
	s.jobs[job.ID] = entry
	s.byAccount[accountKey] = append(s.byAccount[accountKey], entry)
	s.all = append(s.all, entry)
	s.mu.Unlock()

	// The entry is shared once indexed; hand back the local copy.
	return job
}

func (s *JobStore) entry(id string) (*jobEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[id]
	return e, ok
}

func (s *JobStore) Get(id string) (Job, error) {
	e, ok := s.entry(id)
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return e.snapshot(), nil
}

// ListByAccount returns the account's jobs in insertion order.
func (s *JobStore) ListByAccount(accountKey string) []Job {
	s.mu.RLock()
	entries := append([]*jobEntry(nil), s.byAccount[accountKey]...)
	s.mu.RUnlock()

	return snapshots(entries)
}

// List returns every job in insertion order.
func (s *JobStore) List() []Job {
	s.mu.RLock()
	entries := append([]*jobEntry(nil), s.all...)
	s.mu.RUnlock()

	return snapshots(entries)
}

func snapshots(entries []*jobEntry) []Job {
	jobs := make([]Job, 0, len(entries))
	for _, e := range entries {
		jobs = append(jobs, e.snapshot())
	}
	return jobs
}

// UpdateStatus moves a job to status. Repeating the current status is an
// accepted no-op and reports changed=false. Leaving a terminal status, or
// going back to pending, fails with ErrInvalidTransition and leaves the job
// untouched.
func (s *JobStore) UpdateStatus(id string, status JobStatus, detail string) (Job, bool, error) {
	if !status.Valid() {
		return Job{}, false, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	e, ok := s.entry(id)
	if !ok {
		return Job{}, false, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	apply, err := checkTransition(e.job.Status, status)
	if err != nil {
		return e.job, false, err
	}
	if !apply {
		return e.job, false, nil
	}

	e.job.Status = status
	if detail != "" {
		e.job.Error = detail
	}
	e.job.UpdatedAt = s.now()

	return e.job, true, nil
}

// checkTransition reports whether moving from current to next changes the
// job. Statuses only move forward: pending, printing, then a terminal one.
func checkTransition(current, next JobStatus) (bool, error) {
	if current == next {
		return false, nil
	}

	switch current {
	case JobStatusPending:
		return true, nil
	case JobStatusPrinting:
		if next == JobStatusPending {
			return false, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current, next)
		}
		return true, nil
	default:
		return false, fmt.Errorf("%w: %s is terminal, cannot move to %s", ErrInvalidTransition, current, next)
	}
}

func (s *JobStore) Stats() JobStats {
	var stats JobStats
	for _, job := range s.List() {
		stats.Total++
		switch job.Status {
		case JobStatusPending:
			stats.Pending++
		case JobStatusPrinting:
			stats.Printing++
		case JobStatusSuccess:
			stats.Success++
		case JobStatusFailed:
			stats.Failed++
		}
	}
	return stats
}
