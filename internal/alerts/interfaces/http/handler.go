package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	alertapp "coldchain-cloud/internal/alerts/application"
	alerts "coldchain-cloud/internal/alerts/domain"
	"coldchain-cloud/internal/audit"
	"coldchain-cloud/internal/auth"
)

const timeLayout = time.RFC3339

// Handler provides alert HTTP endpoints.
type Handler struct {
	service     *alertapp.Service
	cellChecker *auth.ColdCellChecker
	auditLogger audit.Logger
}

// HandlerOption customizes the handler.
type HandlerOption func(*Handler)

// WithAuditLogger records acknowledge and resolve actions.
func WithAuditLogger(logger audit.Logger) HandlerOption {
	return func(h *Handler) {
		h.auditLogger = logger
	}
}

// NewHandler constructs a handler.
func NewHandler(service *alertapp.Service, cellChecker *auth.ColdCellChecker, opts ...HandlerOption) (*Handler, error) {
	if service == nil {
		return nil, errors.New("alerts handler: nil service")
	}
	h := &Handler{service: service, cellChecker: cellChecker}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register mounts the alert routes on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/v1/alerts", h.handleList).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/alerts/{id}", h.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/alerts/{id}/ack", h.handleAcknowledge).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/alerts/{id}/resolve", h.handleResolve).Methods(http.MethodPost)
}

type resolveRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := alerts.Filter{
		ColdCellID: query.Get("cold_cell_id"),
		Status:     alerts.Status(query.Get("status")),
		Type:       alerts.Type(query.Get("type")),
	}
	if filter.Status != "" && filter.Status != alerts.StatusActive &&
		filter.Status != alerts.StatusEscalating && filter.Status != alerts.StatusResolved {
		http.Error(w, "invalid status", http.StatusBadRequest)
		return
	}
	if filter.Type != "" && !filter.Type.Valid() {
		http.Error(w, "invalid type", http.StatusBadRequest)
		return
	}
	var err error
	if filter.From, err = parseTimeQuery(r, "from"); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if filter.To, err = parseTimeQuery(r, "to"); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.To.After(filter.From) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	customerID := auth.CustomerIDFromContext(r.Context())
	if filter.ColdCellID != "" && customerID != "" {
		if err := h.cellChecker.EnsureColdCellCustomer(r.Context(), customerID, filter.ColdCellID); err != nil {
			respondCustomerError(w, err)
			return
		}
	}

	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []alerts.Alert{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	alert, err := h.service.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (h *Handler) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	alert, err := h.service.Acknowledge(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	h.logAudit(r, alert, "alert.acknowledge", nil)
	writeJSON(w, http.StatusOK, alert)
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
	}
	alert, err := h.service.Resolve(r.Context(), mux.Vars(r)["id"], req.Reason)
	if err != nil {
		respondError(w, err)
		return
	}
	h.logAudit(r, alert, "alert.resolve", map[string]any{"reason": req.Reason})
	writeJSON(w, http.StatusOK, alert)
}

func (h *Handler) logAudit(r *http.Request, alert *alerts.Alert, action string, meta map[string]any) {
	if h.auditLogger == nil || alert == nil {
		return
	}
	var payload []byte
	if meta != nil {
		payload, _ = json.Marshal(meta)
	}
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		CustomerID:   alert.CustomerID,
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "alert",
		ResourceID:   alert.ID,
		ColdCellID:   alert.ColdCellID,
		Metadata:     payload,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, alerts.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, alerts.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, alerts.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func respondCustomerError(w http.ResponseWriter, err error) {
	if errors.Is(err, auth.ErrCustomerMismatch) || errors.Is(err, auth.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.Error(w, "customer check failed", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}
