package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/loginshield/rba-gateway/internal/domain"
)

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// AuditRepository provides access to decision_audit.
type AuditRepository interface {
	// Insert creates one audit row per decision.
	Insert(ctx context.Context, db DBTX, rec *domain.DecisionRecord) error

	// RecentDenials lists denial rows newer than since, newest first.
	RecentDenials(ctx context.Context, db DBTX, since time.Time, limit int) ([]domain.DecisionRecord, error)
}
