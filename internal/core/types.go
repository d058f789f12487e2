package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrJobNotFound          = errors.New("job not found")
	ErrInvalidStatus        = errors.New("invalid status")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrFileNotFound         = errors.New("file not found")
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrPrinterNotFound      = errors.New("printer not found")
)

type JobStatus string

const (
	JobStatusPending  JobStatus = "pending"
	JobStatusPrinting JobStatus = "printing"
	JobStatusSuccess  JobStatus = "success"
	JobStatusFailed   JobStatus = "failed"
)

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusPrinting, JobStatusSuccess, JobStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are accepted.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailed
}

func ParseJobStatus(s string) (JobStatus, error) {
	status := JobStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return status, nil
}

type Job struct {
	ID         string
	AccountKey string
	DeviceID   string
	FileRef    string
	Status     JobStatus
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DeviceCommand is published to a printer once per job.
type DeviceCommand struct {
	JobID     string `json:"job_id"`
	FileURL   string `json:"file_url"`
	UserID    string `json:"user_id"`
	Timestamp int64  `json:"timestamp"`
}

// StatusEvent is reported by a printer, possibly more than once.
type StatusEvent struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type JobStats struct {
	Pending  int `json:"pending"`
	Printing int `json:"printing"`
	Success  int `json:"success"`
	Failed   int `json:"failed"`
	Total    int `json:"total"`
}

type PrinterState string

const (
	PrinterUnknown PrinterState = "unknown"
	PrinterOnline  PrinterState = "online"
	PrinterOffline PrinterState = "offline"
)

type Printer struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Status     PrinterState `json:"status"`
	LastSeenAt *time.Time   `json:"last_seen_at,omitempty"`
	TotalJobs  int64        `json:"total_jobs"`
}
