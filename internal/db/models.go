package db

import (
	"time"
)

type AuditLog struct {
	ID          int64     `json:"id"`
	Action      string    `json:"action"`
	EntityType  string    `json:"entity_type"`
	EntityID    string    `json:"entity_id"`
	DetailsJSON string    `json:"details_json"`
	IPAddress   string    `json:"ip_address"`
	CreatedAt   time.Time `json:"created_at"`
}

type AuditFilter struct {
	Action     string
	EntityType string
	EntityID   string
}

const (
	EntityAccount = "account"
	EntityJob     = "job"
	EntityUser    = "user"
)

const (
	InsertAuditLog = `
		INSERT INTO audit_log (action, entity_type, entity_id, details_json, ip_address, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	selectAuditLog = `SELECT id, action, entity_type, entity_id, details_json, ip_address, created_at FROM audit_log`
)
