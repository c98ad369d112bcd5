package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/loginshield/rba-gateway/internal/domain"
	"github.com/loginshield/rba-gateway/internal/repository"
)

// AuditHandler exposes the decision audit trail to operators.
type AuditHandler struct {
	pool *pgxpool.Pool
	repo repository.AuditRepository
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(pool *pgxpool.Pool, repo repository.AuditRepository) *AuditHandler {
	return &AuditHandler{pool: pool, repo: repo}
}

// RecentDenials handles GET /v1/audit/denials?window=1h&limit=100.
func (h *AuditHandler) RecentDenials(w http.ResponseWriter, r *http.Request) {
	window := time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			RespondError(w, domain.ErrValidation("invalid window"))
			return
		}
		window = d
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			RespondError(w, domain.ErrValidation("invalid limit"))
			return
		}
		limit = n
	}

	records, err := h.repo.RecentDenials(r.Context(), h.pool, time.Now().Add(-window), limit)
	if err != nil {
		RespondError(w, domain.ErrInternal("query audit trail", err))
		return
	}

	type denialRow struct {
		Principal   string   `json:"principal"`
		ThreatScore *float64 `json:"threatScore,omitempty"`
		IPAddress   string   `json:"ipAddress"`
		CreatedAt   string   `json:"createdAt"`
	}
	out := make([]denialRow, 0, len(records))
	for _, rec := range records {
		out = append(out, denialRow{
			Principal:   rec.Principal,
			ThreatScore: rec.ThreatScore,
			IPAddress:   rec.IPAddress,
			CreatedAt:   rec.CreatedAt.Format(time.RFC3339),
		})
	}

	RespondJSON(w, http.StatusOK, map[string]interface{}{"denials": out})
}
