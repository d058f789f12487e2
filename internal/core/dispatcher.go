package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Job lifecycle events handed to notifiers and recorders.
const (
	EventJobCreated   = "job_created"
	EventJobPrinting  = "job_printing"
	EventJobCompleted = "job_completed"
	EventJobFailed    = "job_failed"
)

// UploadStore is the read/delete view of uploaded files the dispatcher needs.
type UploadStore interface {
	Exists(fileRef string) bool
	Delete(fileRef string) error
	URLFor(fileRef, origin string) string
}

// CommandPublisher sends a command to a broker topic. It must return an
// error wrapping ErrTransportUnavailable when the broker is disconnected.
type CommandPublisher interface {
	Publish(ctx context.Context, topic string, v any) error
}

type JobNotifier interface {
	NotifyJob(event string, job Job)
}

type JobRecorder interface {
	RecordJobEvent(ctx context.Context, event string, job Job)
}

type JobObserver interface {
	ObserveJobCreated(status string)
	ObserveJobTransition(status string)
	ObservePublishFailure(reason string)
}

type DispatcherConfig struct {
	MinDeviceIDLength int
	// CommandTopic maps a device id to the topic its commands go to.
	CommandTopic func(deviceID string) string
}

type CreateJobRequest struct {
	AccountKey string
	DeviceID   string
	FileRef    string
	// Origin is the externally visible base address printers fetch files from.
	Origin string
}

type Dispatcher struct {
	jobs      *JobStore
	publisher CommandPublisher
	uploads   UploadStore
	printers  *PrinterManager
	notifier  JobNotifier
	recorder  JobRecorder
	observer  JobObserver
	config    DispatcherConfig
	logger    logrus.FieldLogger
	now       func() time.Time
}

type DispatcherOption func(*Dispatcher)

func WithPrinters(pm *PrinterManager) DispatcherOption {
	return func(d *Dispatcher) { d.printers = pm }
}

func WithNotifier(n JobNotifier) DispatcherOption {
	return func(d *Dispatcher) { d.notifier = n }
}

func WithJobRecorder(r JobRecorder) DispatcherOption {
	return func(d *Dispatcher) { d.recorder = r }
}

func WithJobObserver(o JobObserver) DispatcherOption {
	return func(d *Dispatcher) { d.observer = o }
}

func NewDispatcher(jobs *JobStore, publisher CommandPublisher, uploads UploadStore, cfg DispatcherConfig, logger logrus.FieldLogger, opts ...DispatcherOption) *Dispatcher {
	if cfg.MinDeviceIDLength < 1 {
		cfg.MinDeviceIDLength = 3
	}
	if cfg.CommandTopic == nil {
		cfg.CommandTopic = func(deviceID string) string {
			return "printer/" + deviceID + "/commands"
		}
	}
	if logger == nil {
		logger = logrus.New()
	}

	d := &Dispatcher{
		jobs:      jobs,
		publisher: publisher,
		uploads:   uploads,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Jobs() *JobStore {
	return d.jobs
}

// CreateJob validates the request, stores a pending job and publishes its
// command. If the broker is disconnected the job is failed at once, its file
// is released, and it is returned with status failed. Validation failures
// leave no trace.
func (d *Dispatcher) CreateJob(ctx context.Context, req CreateJobRequest) (Job, error) {
	if err := d.validate(req); err != nil {
		return Job{}, err
	}

	if !d.uploads.Exists(req.FileRef) {
		return Job{}, fmt.Errorf("%w: %s", ErrFileNotFound, req.FileRef)
	}

	job := d.jobs.Create(req.AccountKey, req.DeviceID, req.FileRef)
	log := d.logger.WithFields(logrus.Fields{
		"job_id":    job.ID,
		"device_id": job.DeviceID,
		"account":   job.AccountKey,
	})

	if d.printers != nil {
		d.printers.IncrementJobCount(job.DeviceID)
	}

	cmd := DeviceCommand{
		JobID:     job.ID,
		FileURL:   d.uploads.URLFor(job.FileRef, req.Origin),
		UserID:    job.AccountKey,
		Timestamp: d.now().UnixMilli(),
	}

	err := d.publisher.Publish(ctx, d.config.CommandTopic(job.DeviceID), cmd)
	switch {
	case err == nil:
		log.Info("print job dispatched")
	case errors.Is(err, ErrTransportUnavailable):
		d.observePublishFailure("transport_unavailable")
		failed, changed, uerr := d.jobs.UpdateStatus(job.ID, JobStatusFailed, "printer transport unavailable")
		if uerr != nil {
			return job, fmt.Errorf("fail job %s: %w", job.ID, uerr)
		}
		log.WithError(err).Warn("broker disconnected, job failed")
		if changed {
			d.release(log, failed)
		}
		d.observeCreated(failed)
		d.emit(ctx, EventJobFailed, failed)
		return failed, nil
	default:
		d.observePublishFailure("publish_error")
		log.WithError(err).Error("publish print command failed, job left pending")
	}

	d.observeCreated(job)
	d.emit(ctx, EventJobCreated, job)
	return job, nil
}

func (d *Dispatcher) validate(req CreateJobRequest) error {
	if strings.TrimSpace(req.AccountKey) == "" {
		return fmt.Errorf("%w: account is required", ErrInvalidRequest)
	}
	if req.FileRef == "" {
		return fmt.Errorf("%w: file id is required", ErrInvalidRequest)
	}
	if len(req.DeviceID) < d.config.MinDeviceIDLength {
		return fmt.Errorf("%w: printer id must be at least %d characters", ErrInvalidRequest, d.config.MinDeviceIDLength)
	}
	// Device ids are spliced into topic names.
	if strings.ContainsAny(req.DeviceID, "/+#. \t\r\n") {
		return fmt.Errorf("%w: printer id contains reserved characters", ErrInvalidRequest)
	}
	return nil
}

// ApplyStatus records a status reported by a printer. Repeated delivery of
// the current status is a no-op. The uploaded file is released once, when
// the job first reaches a terminal status.
func (d *Dispatcher) ApplyStatus(ctx context.Context, ev StatusEvent) (Job, error) {
	log := d.logger.WithFields(logrus.Fields{"job_id": ev.JobID, "status": ev.Status})

	if _, err := d.jobs.Get(ev.JobID); err != nil {
		log.Warn("status for unknown job ignored")
		return Job{}, err
	}

	status, err := ParseJobStatus(ev.Status)
	if err != nil {
		log.Warn("status event with unknown status rejected")
		return Job{}, err
	}

	job, changed, err := d.jobs.UpdateStatus(ev.JobID, status, ev.Error)
	if err != nil {
		log.WithField("current", job.Status).Warn("status event rejected")
		return job, err
	}

	if d.printers != nil {
		d.printers.MarkSeen(job.DeviceID)
	}

	if !changed {
		log.Debug("duplicate status event")
		return job, nil
	}

	if d.observer != nil {
		d.observer.ObserveJobTransition(string(job.Status))
	}

	switch job.Status {
	case JobStatusPrinting:
		d.emit(ctx, EventJobPrinting, job)
	case JobStatusSuccess:
		d.release(log, job)
		d.emit(ctx, EventJobCompleted, job)
	case JobStatusFailed:
		d.release(log, job)
		d.emit(ctx, EventJobFailed, job)
	}

	log.Info("job status updated")
	return job, nil
}

// HandleStatusEvent is the bus subscription callback. Errors are scoped to
// one job and are only logged.
func (d *Dispatcher) HandleStatusEvent(ctx context.Context, ev StatusEvent) {
	if _, err := d.ApplyStatus(ctx, ev); err != nil {
		d.logger.WithError(err).WithField("job_id", ev.JobID).Debug("status event not applied")
	}
}

func (d *Dispatcher) release(log logrus.FieldLogger, job Job) {
	if err := d.uploads.Delete(job.FileRef); err != nil {
		log.WithError(err).WithField("file", job.FileRef).Warn("failed to release uploaded file")
	}
}

func (d *Dispatcher) emit(ctx context.Context, event string, job Job) {
	if d.notifier != nil {
		d.notifier.NotifyJob(event, job)
	}
	if d.recorder != nil {
		d.recorder.RecordJobEvent(ctx, event, job)
	}
}

func (d *Dispatcher) observeCreated(job Job) {
	if d.observer != nil {
		d.observer.ObserveJobCreated(string(job.Status))
	}
}

func (d *Dispatcher) observePublishFailure(reason string) {
	if d.observer != nil {
		d.observer.ObservePublishFailure(reason)
	}
}
