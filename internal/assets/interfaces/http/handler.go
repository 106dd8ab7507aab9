package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	assetapp "coldchain-cloud/internal/assets/application"
	assets "coldchain-cloud/internal/assets/domain"
	"coldchain-cloud/internal/audit"
	"coldchain-cloud/internal/auth"
)

// Handler serves cold cell settings and escalation configuration.
type Handler struct {
	service     *assetapp.SettingsService
	auditLogger audit.Logger
}

// NewHandler constructs a handler. auditLogger may be nil.
func NewHandler(service *assetapp.SettingsService, auditLogger audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("assets handler: nil service")
	}
	return &Handler{service: service, auditLogger: auditLogger}, nil
}

// Register mounts the routes on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/v1/cold-cells/{id}/settings", h.handleGetSettings).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/cold-cells/{id}/settings", h.handlePutSettings).Methods(http.MethodPut)
	r.HandleFunc("/api/v1/escalation-config", h.handleGetConfig).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/escalation-config", h.handlePutConfig).Methods(http.MethodPut)
}

func (h *Handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	cell, err := h.service.ColdCell(r.Context(), auth.CustomerIDFromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, cell)
}

func (h *Handler) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var settings assets.ColdCellSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	cell, err := h.service.UpdateColdCellSettings(r.Context(), auth.CustomerIDFromContext(r.Context()), mux.Vars(r)["id"], settings)
	if err != nil {
		respondError(w, err)
		return
	}
	h.logAudit(r, cell.CustomerID, "cold_cell.settings", "cold_cell", cell.ID, cell.ID, settings)
	writeJSON(w, cell)
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.service.EscalationConfig(r.Context(), auth.CustomerIDFromContext(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, cfg)
}

func (h *Handler) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	customerID := auth.CustomerIDFromContext(r.Context())
	if customerID == "" {
		http.Error(w, "customer required", http.StatusForbidden)
		return
	}
	var cfg assets.EscalationConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	saved, err := h.service.SaveEscalationConfig(r.Context(), customerID, cfg)
	if err != nil {
		respondError(w, err)
		return
	}
	h.logAudit(r, customerID, "escalation_config.update", "escalation_config", customerID, "", saved)
	writeJSON(w, saved)
}

func (h *Handler) logAudit(r *http.Request, customerID, action, resourceType, resourceID, coldCellID string, meta any) {
	if h.auditLogger == nil {
		return
	}
	payload, _ := json.Marshal(meta)
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		CustomerID:   customerID,
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		ColdCellID:   coldCellID,
		Metadata:     payload,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, assets.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, assets.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
