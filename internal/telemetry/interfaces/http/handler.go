package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	assets "coldchain-cloud/internal/assets/domain"
	"coldchain-cloud/internal/auth"
	"coldchain-cloud/internal/observability/metrics"
	telemetryapp "coldchain-cloud/internal/telemetry/application"
	telemetry "coldchain-cloud/internal/telemetry/domain"
)

const (
	maxBodyBytes = 64 << 10
	timeLayout   = time.RFC3339
)

// Handler accepts logger readings and serves reading history.
type Handler struct {
	ingest      *telemetryapp.IngestService
	readings    telemetry.ReadingRepository
	cellChecker *auth.ColdCellChecker
	logger      *zap.Logger
}

// NewHandler constructs a handler.
func NewHandler(ingest *telemetryapp.IngestService, readings telemetry.ReadingRepository, cellChecker *auth.ColdCellChecker, logger *zap.Logger) (*Handler, error) {
	if ingest == nil {
		return nil, errors.New("telemetry handler: nil ingest service")
	}
	if readings == nil {
		return nil, errors.New("telemetry handler: nil reading repository")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{ingest: ingest, readings: readings, cellChecker: cellChecker, logger: logger}, nil
}

// RegisterIngest mounts the device-facing route.
func (h *Handler) RegisterIngest(r *mux.Router) {
	r.HandleFunc("/ingest/devices/{serial}/readings", h.handleSubmit).Methods(http.MethodPost)
}

// RegisterAPI mounts the user-facing routes.
func (h *Handler) RegisterAPI(r *mux.Router) {
	r.HandleFunc("/api/v1/cold-cells/{id}/readings", h.handleList).Methods(http.MethodGet)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	serial := mux.Vars(r)["serial"]

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		metrics.IncIngestError("read_body")
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	reading, err := telemetry.DecodePayload(serial, body)
	if err != nil {
		metrics.ObserveIngest("http", metrics.ResultError, time.Since(start))
		metrics.IncIngestError("decode")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.ingest.Submit(r.Context(), reading)
	if err != nil {
		metrics.ObserveIngest("http", metrics.ResultError, time.Since(start))
		switch {
		case errors.Is(err, telemetry.ErrInvalidReading):
			metrics.IncIngestError("invalid")
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, assets.ErrNotFound):
			metrics.IncIngestError("unknown_device")
			http.Error(w, "unknown device", http.StatusNotFound)
		default:
			metrics.IncIngestError("internal")
			h.logger.Error("ingest reading failed", zap.String("serial", serial), zap.Error(err))
			http.Error(w, "ingest error", http.StatusInternalServerError)
		}
		return
	}
	metrics.ObserveIngest("http", metrics.ResultSuccess, time.Since(start))

	status := http.StatusAccepted
	if result.Duplicate {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(result)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	cellID := mux.Vars(r)["id"]
	if err := h.cellChecker.EnsureColdCellCustomer(r.Context(), auth.CustomerIDFromContext(r.Context()), cellID); err != nil {
		if errors.Is(err, auth.ErrCustomerMismatch) || errors.Is(err, auth.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "customer check failed", http.StatusInternalServerError)
		return
	}
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}
	readings, err := h.readings.ListByColdCell(r.Context(), cellID, from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if readings == nil {
		readings = []telemetry.SensorReading{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(readings)
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}
