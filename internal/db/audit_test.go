package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/printdesk/internal/config"
	"github.com/orrn/printdesk/internal/core"
	"github.com/orrn/printdesk/internal/ledger"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, mock
}

func TestRecordLedgerEntry(t *testing.T) {
	conn, mock := setupMockDB(t)
	logger, _ := test.NewNullLogger()
	store := NewAuditStore(conn, logger)

	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).
		WithArgs("ledger_debit", EntityAccount, "acct1", `{"amount":30,"balance":70}`, "", at).
		WillReturnResult(sqlmock.NewResult(7, 1))

	store.RecordLedgerEntry(context.Background(), ledger.Entry{
		Account: "acct1", Op: ledger.OpDebit, Amount: 30, Balance: 70, At: at,
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordJobEvent(t *testing.T) {
	conn, mock := setupMockDB(t)
	logger, _ := test.NewNullLogger()
	store := NewAuditStore(conn, logger)

	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).
		WithArgs(core.EventJobCreated, EntityJob, "job-1", sqlmock.AnyArg(), "", at).
		WillReturnResult(sqlmock.NewResult(1, 1))

	store.RecordJobEvent(context.Background(), core.EventJobCreated, core.Job{
		ID: "job-1", AccountKey: "acct1", DeviceID: "dev-1", FileRef: "f1",
		Status: core.JobStatusPending, UpdatedAt: at,
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordLogsWriteFailures(t *testing.T) {
	conn, mock := setupMockDB(t)
	logger, hook := test.NewNullLogger()
	store := NewAuditStore(conn, logger)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).
		WillReturnError(errors.New("disk full"))

	store.RecordLedgerEntry(context.Background(), ledger.Entry{Account: "acct1", Op: ledger.OpCredit, Amount: 5, Balance: 5})

	require.NoError(t, mock.ExpectationsWereMet())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "audit write failed", hook.LastEntry().Message)
}

func TestListAuditLogs_Filters(t *testing.T) {
	conn, mock := setupMockDB(t)
	logger, _ := test.NewNullLogger()
	store := NewAuditStore(conn, logger)

	created := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "action", "entity_type", "entity_id", "details_json", "ip_address", "created_at"}).
		AddRow(2, "ledger_credit", EntityAccount, "acct1", `{"amount":10,"balance":110}`, "", created)

	mock.ExpectQuery(regexp.QuoteMeta("FROM audit_log WHERE entity_type = ? AND entity_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?")).
		WithArgs(EntityAccount, "acct1", 20, 0).
		WillReturnRows(rows)

	logs, err := store.ListAuditLogs(context.Background(), AuditFilter{EntityType: EntityAccount, EntityID: "acct1"}, 20, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "ledger_credit", logs[0].Action)
	assert.Equal(t, "acct1", logs[0].EntityID)
	assert.True(t, logs[0].CreatedAt.Equal(created))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpen_AppliesMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")

	conn, err := Open(config.DatabaseConfig{Path: path})
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	store := NewAuditStore(conn, logger)
	ctx := context.Background()

	first := &AuditLog{Action: "login", EntityType: EntityUser, EntityID: "PRN001", IPAddress: "10.0.0.1"}
	require.NoError(t, store.CreateAuditLog(ctx, first))
	assert.NotZero(t, first.ID)
	store.RecordLedgerEntry(ctx, ledger.Entry{Account: "acct1", Op: ledger.OpDebit, Amount: 1, Balance: 9, At: time.Now()})
	require.NoError(t, conn.Close())

	conn, err = Open(config.DatabaseConfig{Path: path})
	require.NoError(t, err)
	defer conn.Close()

	var versions int
	require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&versions))
	assert.Equal(t, 1, versions)

	logs, err := NewAuditStore(conn, logger).ListAuditLogs(ctx, AuditFilter{}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	logs, err = NewAuditStore(conn, logger).ListAuditLogs(ctx, AuditFilter{Action: "login"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "10.0.0.1", logs[0].IPAddress)
}
