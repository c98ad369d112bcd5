package handler

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/loginshield/rba-gateway/internal/auth"
	"github.com/loginshield/rba-gateway/internal/domain"
	"github.com/loginshield/rba-gateway/internal/engine"
)

// AssertionHeader carries the upstream IdP's signed principal assertion.
const AssertionHeader = "X-RBA-Assertion"

// DecisionHandler exposes the risk decision to the host authentication
// framework.
type DecisionHandler struct {
	engine   *engine.Engine
	verifier *auth.Verifier
	logger   *slog.Logger
}

// NewDecisionHandler creates a new DecisionHandler.
func NewDecisionHandler(eng *engine.Engine, verifier *auth.Verifier, logger *slog.Logger) *DecisionHandler {
	return &DecisionHandler{engine: eng, verifier: verifier, logger: logger}
}

// decisionRequest mirrors what the host framework saw on its own login
// request. Fields left empty fall back to this request's transport values.
type decisionRequest struct {
	Metrics      string `json:"metrics"`      // raw telemetry exactly as the client submitted it
	RemoteAddr   string `json:"remoteAddr"`   // peer address seen by the host framework
	ForwardedFor string `json:"forwardedFor"` // forwarding header seen by the host framework
	UserAgent    string `json:"userAgent"`
}

type decisionResponse struct {
	Outcome   domain.Outcome `json:"outcome"`
	RequestID string         `json:"requestId"`
}

// Decide handles POST /v1/decision.
func (h *DecisionHandler) Decide(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondError(w, domain.ErrValidation("invalid request body"))
		return
	}

	// The assertion is optional: an absent header is an unauthenticated
	// principal and is still processed. A present-but-invalid one means the
	// host context is broken, which is an Error, not a Deny.
	principal := ""
	if token := r.Header.Get(AssertionHeader); token != "" {
		p, err := h.verifier.Principal(token)
		if err != nil {
			h.logger.Error("principal assertion rejected", "error", err)
			RespondJSON(w, http.StatusInternalServerError, decisionResponse{
				Outcome:   domain.OutcomeError,
				RequestID: GetRequestID(r.Context()),
			})
			return
		}
		principal = p
	}

	if req.RemoteAddr == "" {
		req.RemoteAddr = peerAddr(r)
	}
	if req.ForwardedFor == "" {
		req.ForwardedFor = r.Header.Get("X-Forwarded-For")
	}
	if req.UserAgent == "" {
		req.UserAgent = r.Header.Get("User-Agent")
	}

	result := h.engine.Decide(r.Context(), domain.DecisionInput{
		Principal:    principal,
		RemoteAddr:   req.RemoteAddr,
		ForwardedFor: req.ForwardedFor,
		UserAgent:    req.UserAgent,
		MetricsRaw:   req.Metrics,
	})

	RespondJSON(w, statusFor(result.Outcome), decisionResponse{
		Outcome:   result.Outcome,
		RequestID: GetRequestID(r.Context()),
	})
}

// statusFor maps the three outcomes onto HTTP statuses. Deny and Error stay
// distinct; collapsing them for end users is the host framework's call.
func statusFor(outcome domain.Outcome) int {
	switch outcome {
	case domain.OutcomeProceed:
		return http.StatusOK
	case domain.OutcomeDeny:
		return http.StatusForbidden
	default:
		return http.StatusBadGateway
	}
}

// peerAddr strips the port from the request's transport address.
func peerAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
