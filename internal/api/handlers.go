// Package api exposes HTTP handlers for the assistance backbone.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/VerDatAs/tud-assistance-backbone/internal/auth"
	"github.com/VerDatAs/tud-assistance-backbone/internal/domain"
	"github.com/VerDatAs/tud-assistance-backbone/internal/normalizer"
	"github.com/VerDatAs/tud-assistance-backbone/internal/registry"
)

// Ingestor accepts a normalized activity event for reactive evaluation.
type Ingestor interface {
	Dispatch(ctx context.Context, event domain.ActivityEvent) error
}

// Handler coordinates HTTP requests with the registry and dispatch path.
type Handler struct {
	registry *registry.Registry
	ingestor Ingestor
}

// NewHandler builds a Handler.
func NewHandler(reg *registry.Registry, ingestor Ingestor) *Handler {
	return &Handler{registry: reg, ingestor: ingestor}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/statements", h.statements)
	mux.HandleFunc("/v1/assistance-types", h.assistanceTypes)
	mux.HandleFunc("/v1/assistance-types/", h.assistanceTypeAction)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// statements ingests a single xAPI statement over HTTP, as an alternative to
// the Kafka intake.
func (h *Handler) statements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeStatementsWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope statements:write required")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to read body")
		return
	}

	event, err := normalizer.Normalize(payload)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownVerb):
			writeError(w, http.StatusBadRequest, "unknown_verb", err.Error())
		default:
			writeError(w, http.StatusBadRequest, "malformed_statement", err.Error())
		}
		return
	}

	if err := h.ingestor.Dispatch(r.Context(), event); err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "state store unavailable, retry later")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, StatementAcceptedResponse{
		StatementID: event.ID,
		LearnerID:   event.LearnerID,
		Verb:        string(event.Verb),
	})
}

func (h *Handler) assistanceTypes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeAssistanceRead) && !claims.HasScope(auth.ScopeAssistanceAdmin) {
		writeError(w, http.StatusForbidden, "forbidden", "scope assistance:read required")
		return
	}

	descriptors := h.registry.List()
	items := make([]AssistanceTypeView, 0, len(descriptors))
	for _, d := range descriptors {
		items = append(items, toAssistanceTypeView(d))
	}
	writeJSON(w, http.StatusOK, ListAssistanceTypesResponse{Items: items})
}

// assistanceTypeAction handles POST /v1/assistance-types/{id}/enable and
// /v1/assistance-types/{id}/disable.
func (h *Handler) assistanceTypeAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeAssistanceAdmin) {
		writeError(w, http.StatusForbidden, "forbidden", "scope assistance:admin required")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/assistance-types/")
	id, action, found := strings.Cut(rest, "/")
	if !found || id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing assistance type id or action")
		return
	}

	var enabled bool
	switch action {
	case "enable":
		enabled = true
	case "disable":
		enabled = false
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown action")
		return
	}

	if err := h.registry.SetEnabled(id, enabled); err != nil {
		if errors.Is(err, domain.ErrUnknownAssistanceType) {
			writeError(w, http.StatusNotFound, "not_found", "assistance type not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, AssistanceTypeActionResponse{
		AssistanceTypeID: id,
		Enabled:          enabled,
		EffectiveAt:      time.Now().UTC(),
	})
}

// StatementAcceptedResponse acknowledges an ingested statement.
type StatementAcceptedResponse struct {
	StatementID string `json:"statement_id"`
	LearnerID   string `json:"learner_id"`
	Verb        string `json:"verb"`
}

// AssistanceTypeView exposes a registered assistance type.
type AssistanceTypeView struct {
	ID            string   `json:"id"`
	Version       string   `json:"version"`
	Category      string   `json:"category"`
	Subscriptions []string `json:"subscriptions,omitempty"`
	Schedule      string   `json:"schedule,omitempty"`
	Eligibility   string   `json:"eligibility,omitempty"`
	Enabled       bool     `json:"enabled"`
}

// ListAssistanceTypesResponse packages the registry listing.
type ListAssistanceTypesResponse struct {
	Items []AssistanceTypeView `json:"items"`
}

// AssistanceTypeActionResponse acknowledges an enable/disable request.
type AssistanceTypeActionResponse struct {
	AssistanceTypeID string    `json:"assistance_type_id"`
	Enabled          bool      `json:"enabled"`
	EffectiveAt      time.Time `json:"effective_at"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toAssistanceTypeView(d domain.AssistanceType) AssistanceTypeView {
	subs := make([]string, 0, len(d.Subscriptions))
	for _, verb := range d.Subscriptions {
		subs = append(subs, string(verb))
	}
	return AssistanceTypeView{
		ID:            d.ID,
		Version:       d.Version,
		Category:      string(d.Category),
		Subscriptions: subs,
		Schedule:      d.Schedule,
		Eligibility:   string(d.Eligibility),
		Enabled:       d.Enabled,
	}
}
