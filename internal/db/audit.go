package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/orrn/printdesk/internal/core"
	"github.com/orrn/printdesk/internal/ledger"
)

// AuditStore appends ledger movements and job lifecycle events to the
// audit_log table. The Record* methods log write failures instead of
// returning them; they are called after the in-memory change is committed.
type AuditStore struct {
	db     *sql.DB
	logger logrus.FieldLogger
	now    func() time.Time
}

func NewAuditStore(conn *sql.DB, logger logrus.FieldLogger) *AuditStore {
	return &AuditStore{db: conn, logger: logger, now: time.Now}
}

func (s *AuditStore) CreateAuditLog(ctx context.Context, log *AuditLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = s.now()
	}
	if log.DetailsJSON == "" {
		log.DetailsJSON = "{}"
	}
	result, err := s.db.ExecContext(ctx, InsertAuditLog,
		log.Action, log.EntityType, log.EntityID, log.DetailsJSON, log.IPAddress, log.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit log id: %w", err)
	}
	log.ID = id
	return nil
}

func (s *AuditStore) RecordLedgerEntry(ctx context.Context, e ledger.Entry) {
	details, _ := json.Marshal(map[string]int64{"amount": e.Amount, "balance": e.Balance})
	s.record(ctx, &AuditLog{
		Action:      "ledger_" + string(e.Op),
		EntityType:  EntityAccount,
		EntityID:    e.Account,
		DetailsJSON: string(details),
		CreatedAt:   e.At,
	})
}

func (s *AuditStore) RecordJobEvent(ctx context.Context, event string, job core.Job) {
	details, _ := json.Marshal(map[string]string{
		"account":    job.AccountKey,
		"printer_id": job.DeviceID,
		"file_id":    job.FileRef,
		"status":     string(job.Status),
		"error":      job.Error,
	})
	s.record(ctx, &AuditLog{
		Action:      event,
		EntityType:  EntityJob,
		EntityID:    job.ID,
		DetailsJSON: string(details),
		CreatedAt:   job.UpdatedAt,
	})
}

func (s *AuditStore) record(ctx context.Context, log *AuditLog) {
	if err := s.CreateAuditLog(ctx, log); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"action":    log.Action,
			"entity_id": log.EntityID,
		}).Error("audit write failed")
	}
}

// ListAuditLogs returns matching entries, newest first.
func (s *AuditStore) ListAuditLogs(ctx context.Context, filter AuditFilter, limit, offset int) ([]*AuditLog, error) {
	var conditions []string
	var args []interface{}

	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.EntityType != "" {
		conditions = append(conditions, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.EntityID != "" {
		conditions = append(conditions, "entity_id = ?")
		args = append(args, filter.EntityID)
	}

	query := selectAuditLog
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*AuditLog
	for rows.Next() {
		log := &AuditLog{}
		if err := rows.Scan(
			&log.ID, &log.Action, &log.EntityType, &log.EntityID,
			&log.DetailsJSON, &log.IPAddress, &log.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}
