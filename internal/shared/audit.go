package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  int64
	Role     string
	Action   string
	Entity   string
	EntityID string
	Before   map[string]any
	After    map[string]any
	IP       string
	At       time.Time
}

// Execer is satisfied by both pgxpool.Pool and pgx.Tx, so audit writes can
// join an open transaction when the caller requires atomicity.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	db Execer
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(db Execer) *AuditLogger {
	return &AuditLogger{db: db}
}

// WithExecer returns a logger bound to another executor, typically a pgx.Tx.
func (l *AuditLogger) WithExecer(db Execer) *AuditLogger {
	return &AuditLogger{db: db}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	beforeJSON, err := json.Marshal(log.Before)
	if err != nil {
		return err
	}
	afterJSON, err := json.Marshal(log.After)
	if err != nil {
		return err
	}
	_, err = l.db.Exec(ctx, `INSERT INTO audit_logs (actor_id, actor_role, action, entity, entity_id, before, after, ip, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE(NULLIF($9::timestamptz, '0001-01-01'::timestamptz), NOW()))`,
		log.ActorID, log.Role, log.Action, log.Entity, log.EntityID, beforeJSON, afterJSON, log.IP, log.At)
	return err
}
