package core

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestJobStore_CreateAndGet(t *testing.T) {
	s := NewJobStore()

	job := s.Create("acct1", "dev-1", "f1")
	if job.ID == "" || job.Status != JobStatusPending {
		t.Fatalf("created job = %+v", job)
	}
	if !job.CreatedAt.Equal(job.UpdatedAt) {
		t.Fatalf("timestamps differ on create")
	}

	got, err := s.Get(job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != job {
		t.Fatalf("got %+v, want %+v", got, job)
	}

	if _, err := s.Get("missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("want ErrJobNotFound, got %v", err)
	}
}

func TestJobStore_UniqueIDs(t *testing.T) {
	s := NewJobStore()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := s.Create("acct", "dev-1", "f").ID
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestJobStore_ListByAccountKeepsInsertionOrder(t *testing.T) {
	s := NewJobStore()
	var want []string
	for i := 0; i < 5; i++ {
		want = append(want, s.Create("a", "dev-1", fmt.Sprintf("f%d", i)).ID)
		s.Create("b", "dev-2", "other")
	}

	jobs := s.ListByAccount("a")
	if len(jobs) != len(want) {
		t.Fatalf("len = %d, want %d", len(jobs), len(want))
	}
	for i, job := range jobs {
		if job.ID != want[i] {
			t.Fatalf("position %d = %s, want %s", i, job.ID, want[i])
		}
	}

	if got := s.ListByAccount("nobody"); len(got) != 0 {
		t.Fatalf("unknown account jobs = %v", got)
	}
	if len(s.List()) != 10 {
		t.Fatalf("List len = %d", len(s.List()))
	}
}

func TestJobStore_Transitions(t *testing.T) {
	tests := []struct {
		name        string
		path        []JobStatus
		next        JobStatus
		wantErr     error
		wantChanged bool
		wantStatus  JobStatus
	}{
		{"pending to printing", nil, JobStatusPrinting, nil, true, JobStatusPrinting},
		{"pending to success", nil, JobStatusSuccess, nil, true, JobStatusSuccess},
		{"pending to failed", nil, JobStatusFailed, nil, true, JobStatusFailed},
		{"pending repeat", nil, JobStatusPending, nil, false, JobStatusPending},
		{"printing repeat", []JobStatus{JobStatusPrinting}, JobStatusPrinting, nil, false, JobStatusPrinting},
		{"printing to success", []JobStatus{JobStatusPrinting}, JobStatusSuccess, nil, true, JobStatusSuccess},
		{"printing back to pending", []JobStatus{JobStatusPrinting}, JobStatusPending, ErrInvalidTransition, false, JobStatusPrinting},
		{"success repeat", []JobStatus{JobStatusSuccess}, JobStatusSuccess, nil, false, JobStatusSuccess},
		{"success to failed", []JobStatus{JobStatusSuccess}, JobStatusFailed, ErrInvalidTransition, false, JobStatusSuccess},
		{"failed to success", []JobStatus{JobStatusFailed}, JobStatusSuccess, ErrInvalidTransition, false, JobStatusFailed},
		{"failed to printing", []JobStatus{JobStatusFailed}, JobStatusPrinting, ErrInvalidTransition, false, JobStatusFailed},
		{"unknown status", nil, JobStatus("burning"), ErrInvalidStatus, false, JobStatusPending},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewJobStore()
			job := s.Create("acct", "dev-1", "f1")
			for _, st := range tc.path {
				if _, _, err := s.UpdateStatus(job.ID, st, ""); err != nil {
					t.Fatalf("setup %s: %v", st, err)
				}
			}

			_, changed, err := s.UpdateStatus(job.ID, tc.next, "")
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if changed != tc.wantChanged {
				t.Fatalf("changed = %v, want %v", changed, tc.wantChanged)
			}

			stored, _ := s.Get(job.ID)
			if stored.Status != tc.wantStatus {
				t.Fatalf("stored status = %s, want %s", stored.Status, tc.wantStatus)
			}
		})
	}
}

func TestJobStore_UpdateStatusTimestampsAndDetail(t *testing.T) {
	s := NewJobStore()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return base }
	job := s.Create("acct", "dev-1", "f1")

	s.now = func() time.Time { return base.Add(time.Minute) }
	updated, changed, err := s.UpdateStatus(job.ID, JobStatusFailed, "paper jam")
	if err != nil || !changed {
		t.Fatalf("update = (%v, %v)", changed, err)
	}
	if !updated.UpdatedAt.Equal(base.Add(time.Minute)) || !updated.CreatedAt.Equal(base) {
		t.Fatalf("timestamps = %v / %v", updated.CreatedAt, updated.UpdatedAt)
	}
	if updated.Error != "paper jam" {
		t.Fatalf("error detail = %q", updated.Error)
	}

	s.now = func() time.Time { return base.Add(time.Hour) }
	again, changed, err := s.UpdateStatus(job.ID, JobStatusFailed, "")
	if err != nil || changed {
		t.Fatalf("duplicate = (%v, %v)", changed, err)
	}
	if !again.UpdatedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("duplicate must not touch timestamps")
	}

	if _, _, err := s.UpdateStatus("missing", JobStatusFailed, ""); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("want ErrJobNotFound, got %v", err)
	}
}

func TestJobStore_ConcurrentTerminalUpdatesPickOneWinner(t *testing.T) {
	s := NewJobStore()
	job := s.Create("acct", "dev-1", "f1")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changes int
	)
	for i := 0; i < 32; i++ {
		status := JobStatusSuccess
		if i%2 == 1 {
			status = JobStatusFailed
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, changed, err := s.UpdateStatus(job.ID, status, "")
			if err != nil && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("unexpected error: %v", err)
			}
			if changed {
				mu.Lock()
				changes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if changes != 1 {
		t.Fatalf("terminal transition applied %d times, want 1", changes)
	}
	stored, _ := s.Get(job.ID)
	if !stored.Status.Terminal() {
		t.Fatalf("status = %s", stored.Status)
	}
}

// Run with -race: a job is visible through List as soon as Create indexes it.
func TestJobStore_CreateWhileListedJobsUpdate(t *testing.T) {
	s := NewJobStore()
	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			jobs := s.List()
			if len(jobs) == 0 {
				continue
			}
			if _, _, err := s.UpdateStatus(jobs[len(jobs)-1].ID, JobStatusPrinting, "warming up"); err != nil {
				t.Errorf("update: %v", err)
				return
			}
		}
	}()

	for i := 0; i < 2000; i++ {
		job := s.Create("acct", "dev-1", fmt.Sprintf("f%d", i))
		if job.Status != JobStatusPending || job.Error != "" {
			t.Fatalf("create returned %+v", job)
		}
	}
	close(done)
	wg.Wait()

	if got := len(s.List()); got != 2000 {
		t.Fatalf("len = %d, want 2000", got)
	}
}

func TestJobStore_Stats(t *testing.T) {
	s := NewJobStore()
	a := s.Create("acct", "dev-1", "f1")
	b := s.Create("acct", "dev-1", "f2")
	s.Create("acct", "dev-1", "f3")
	_, _, _ = s.UpdateStatus(a.ID, JobStatusSuccess, "")
	_, _, _ = s.UpdateStatus(b.ID, JobStatusPrinting, "")

	stats := s.Stats()
	if stats.Total != 3 || stats.Pending != 1 || stats.Printing != 1 || stats.Success != 1 || stats.Failed != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}
