package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/orrn/printdesk/internal/config"
	"github.com/orrn/printdesk/internal/core"
)

// EventTest is only sent on demand by an administrator.
const EventTest = "test"

var ErrUnknownTarget = errors.New("unknown webhook target")

type WebhookPayload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	Signature string      `json:"signature,omitempty"`
}

type JobEventData struct {
	JobID     string `json:"job_id"`
	Account   string `json:"account"`
	PrinterID string `json:"printer_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// TargetInfo describes a configured target without its secret.
type TargetInfo struct {
	Index  int      `json:"index"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Signed bool     `json:"signed"`
}

type webhookTask struct {
	target  config.WebhookTarget
	payload *WebhookPayload
	attempt int
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http error: %d", e.code)
}

// WebhookSender posts job lifecycle events to the configured targets from a
// small worker pool. Events are dropped when the queue is full.
type WebhookSender struct {
	targets     []config.WebhookTarget
	httpClient  *http.Client
	retryCount  int
	retryDelay  time.Duration
	workerCount int
	queue       chan *webhookTask
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	logger      logrus.FieldLogger
	now         func() time.Time
}

func NewWebhookSender(cfg config.WebhooksConfig, logger logrus.FieldLogger) *WebhookSender {
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}

	return &WebhookSender{
		targets: cfg.Targets,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retryCount:  cfg.RetryCount,
		retryDelay:  cfg.RetryDelay,
		workerCount: cfg.Workers,
		queue:       make(chan *webhookTask, cfg.QueueSize),
		stopCh:      make(chan struct{}),
		logger:      logger,
		now:         time.Now,
	}
}

func (s *WebhookSender) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *WebhookSender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// NotifyJob queues event for every target subscribed to it.
func (s *WebhookSender) NotifyJob(event string, job core.Job) {
	s.enqueue(event, &JobEventData{
		JobID:     job.ID,
		Account:   job.AccountKey,
		PrinterID: job.DeviceID,
		Status:    string(job.Status),
		Error:     job.Error,
	})
}

func (s *WebhookSender) enqueue(event string, data interface{}) {
	for _, target := range s.targets {
		if !subscribed(target, event) {
			continue
		}

		task := &webhookTask{
			target: target,
			payload: &WebhookPayload{
				Event:     event,
				Timestamp: s.now(),
				Data:      data,
			},
		}

		select {
		case s.queue <- task:
		default:
			s.logger.WithFields(logrus.Fields{"url": target.URL, "event": event}).Warn("webhook queue full, dropping event")
		}
	}
}

func (s *WebhookSender) Targets() []TargetInfo {
	out := make([]TargetInfo, 0, len(s.targets))
	for i, t := range s.targets {
		events := t.Events
		if events == nil {
			events = []string{}
		}
		out = append(out, TargetInfo{Index: i, URL: t.URL, Events: events, Signed: t.Secret != ""})
	}
	return out
}

// SendTest delivers one test event to the target at index, bypassing the
// queue and without retries.
func (s *WebhookSender) SendTest(index int) error {
	if index < 0 || index >= len(s.targets) {
		return ErrUnknownTarget
	}
	return s.sendRequest(s.targets[index], &WebhookPayload{
		Event:     EventTest,
		Timestamp: s.now(),
		Data: map[string]interface{}{
			"test":    true,
			"message": "Test webhook from printdesk",
		},
	})
}

// subscribed treats an empty event list as all events.
func subscribed(target config.WebhookTarget, event string) bool {
	if len(target.Events) == 0 {
		return true
	}
	for _, e := range target.Events {
		if e == event {
			return true
		}
	}
	return false
}

func (s *WebhookSender) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case task := <-s.queue:
			if err := s.sendWithRetry(task); err != nil {
				s.logger.WithError(err).WithFields(logrus.Fields{
					"worker":   id,
					"url":      task.target.URL,
					"event":    task.payload.Event,
					"attempts": task.attempt,
				}).Error("webhook delivery failed")
			}
		}
	}
}

func (s *WebhookSender) sendWithRetry(task *webhookTask) error {
	var lastErr error
	for task.attempt < s.retryCount {
		task.attempt++

		err := s.sendRequest(task.target, task.payload)
		if err == nil {
			return nil
		}

		lastErr = err

		if isClientError(err) {
			return err
		}

		if task.attempt < s.retryCount {
			backoff := s.retryDelay * time.Duration(1<<(task.attempt-1))
			s.logger.WithError(err).WithFields(logrus.Fields{
				"url":     task.target.URL,
				"attempt": task.attempt,
				"backoff": backoff,
			}).Warn("webhook retry scheduled")

			select {
			case <-s.stopCh:
				return fmt.Errorf("shutdown requested")
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (s *WebhookSender) sendRequest(target config.WebhookTarget, payload *WebhookPayload) error {
	payloadBytes, err := json.Marshal(payload.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	signed := *payload
	if target.Secret != "" {
		signed.Signature = signPayload(payloadBytes, target.Secret)
	}

	fullPayload, err := json.Marshal(&signed)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(fullPayload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", signed.Event)
	if signed.Signature != "" {
		req.Header.Set("X-Webhook-Signature", signed.Signature)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &statusError{code: resp.StatusCode}
	}

	return nil
}

func signPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func isClientError(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 400 && se.code < 500
	}
	return false
}
