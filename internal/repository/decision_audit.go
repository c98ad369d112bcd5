package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/loginshield/rba-gateway/internal/domain"
)

// PgAuditRepository implements AuditRepository using pgx.
type PgAuditRepository struct{}

// NewPgAuditRepository creates a new PgAuditRepository.
func NewPgAuditRepository() *PgAuditRepository {
	return &PgAuditRepository{}
}

// Insert creates one audit row per decision.
func (r *PgAuditRepository) Insert(ctx context.Context, db DBTX, rec *domain.DecisionRecord) error {
	_, err := db.Exec(ctx, `
		INSERT INTO decision_audit (id, principal, outcome, threat_score, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.Principal, string(rec.Outcome), rec.ThreatScore, rec.IPAddress, rec.CreatedAt)
	return err
}

// RecentDenials lists denial rows newer than since, newest first.
func (r *PgAuditRepository) RecentDenials(ctx context.Context, db DBTX, since time.Time, limit int) ([]domain.DecisionRecord, error) {
	rows, err := db.Query(ctx, `
		SELECT id, principal, outcome, threat_score, ip_address, created_at
		FROM decision_audit
		WHERE outcome = 'deny' AND created_at > $1
		ORDER BY created_at DESC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DecisionRecord
	for rows.Next() {
		var rec domain.DecisionRecord
		var outcome string
		if err := rows.Scan(&rec.ID, &rec.Principal, &outcome, &rec.ThreatScore, &rec.IPAddress, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Outcome = domain.Outcome(outcome)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PgAuditSink binds the audit repository to a pool for use on the decision
// path. Writes are best effort; the caller logs failures and moves on.
type PgAuditSink struct {
	pool   *pgxpool.Pool
	repo   AuditRepository
	logger *slog.Logger
}

// NewPgAuditSink creates an audit sink over the given pool.
func NewPgAuditSink(pool *pgxpool.Pool, repo AuditRepository, logger *slog.Logger) *PgAuditSink {
	return &PgAuditSink{pool: pool, repo: repo, logger: logger}
}

// RecordDecision inserts the audit row with a short timeout so a slow database
// cannot stall the decision path.
func (s *PgAuditSink) RecordDecision(ctx context.Context, rec domain.DecisionRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.repo.Insert(ctx, s.pool, &rec)
}
