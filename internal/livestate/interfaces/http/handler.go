package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	assets "coldchain-cloud/internal/assets/domain"
	"coldchain-cloud/internal/auth"
	"coldchain-cloud/internal/livestate"
)

const (
	defaultKeepAlive = 25 * time.Second
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
)

// Handler serves the live state of cold cells.
type Handler struct {
	snapshots   *livestate.SnapshotService
	hub         *livestate.Hub
	cellChecker *auth.ColdCellChecker
	upgrader    websocket.Upgrader
	keepAlive   time.Duration
	logger      *zap.Logger
}

// Option customizes the handler.
type Option func(*Handler)

// WithKeepAlive sets the SSE comment and WebSocket ping interval.
func WithKeepAlive(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.keepAlive = d
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler constructs a handler.
func NewHandler(snapshots *livestate.SnapshotService, hub *livestate.Hub, cellChecker *auth.ColdCellChecker, opts ...Option) (*Handler, error) {
	if snapshots == nil {
		return nil, errors.New("live handler: nil snapshot service")
	}
	if hub == nil {
		return nil, errors.New("live handler: nil hub")
	}
	h := &Handler{
		snapshots:   snapshots,
		hub:         hub,
		cellChecker: cellChecker,
		keepAlive:   defaultKeepAlive,
		logger:      zap.NewNop(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Tokens are checked by the auth middleware.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register mounts the live routes on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/v1/cold-cells/{id}/live", h.handleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/cold-cells/{id}/live/stream", h.handleStream).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/cold-cells/{id}/live/ws", h.handleWebSocket).Methods(http.MethodGet)
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	cellID := mux.Vars(r)["id"]
	if err := h.cellChecker.EnsureColdCellCustomer(r.Context(), auth.CustomerIDFromContext(r.Context()), cellID); err != nil {
		if errors.Is(err, auth.ErrCustomerMismatch) || errors.Is(err, auth.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return "", false
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return "", false
	}
	return cellID, true
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	cellID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	msg, err := h.snapshots.Snapshot(r.Context(), cellID)
	if err != nil {
		respondSnapshotError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(msg)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	cellID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	// Subscribe before the snapshot so no change between the two is lost.
	sub := h.hub.Subscribe(cellID)
	defer sub.Close()

	snapshot, err := h.snapshots.Snapshot(r.Context(), cellID)
	if err != nil {
		respondSnapshotError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if err := writeEvent(w, snapshot); err != nil {
		return
	}
	flusher.Flush()

	latest := snapshot.GeneratedAt
	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	done := r.Context().Done()
	for {
		select {
		case msg := <-sub.C():
			if !advance(&latest, msg) {
				continue
			}
			if err := writeEvent(w, msg); err != nil {
				h.logger.Debug("live stream write failed", zap.String("cold_cell_id", cellID), zap.Error(err))
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-done:
			return
		}
	}
}

// advance reports whether msg is not older than the state already sent and
// records it as the latest.
func advance(latest *time.Time, msg livestate.Message) bool {
	if msg.GeneratedAt.Before(*latest) {
		return false
	}
	*latest = msg.GeneratedAt
	return true
}

func writeEvent(w http.ResponseWriter, msg livestate.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("event: " + msg.Type + "\ndata: ")); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n\n"))
	return err
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	cellID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	sub := h.hub.Subscribe(cellID)
	defer sub.Close()

	snapshot, err := h.snapshots.Snapshot(r.Context(), cellID)
	if err != nil {
		respondSnapshotError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// The reader only detects the client going away and answers pings.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(msg livestate.Message) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(msg)
	}
	if err := write(snapshot); err != nil {
		return
	}

	latest := snapshot.GeneratedAt
	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	done := r.Context().Done()
	for {
		select {
		case msg := <-sub.C():
			if !advance(&latest, msg) {
				continue
			}
			if err := write(msg); err != nil {
				h.logger.Debug("websocket write failed", zap.String("cold_cell_id", cellID), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			return
		case <-done:
			return
		}
	}
}

func respondSnapshotError(w http.ResponseWriter, err error) {
	if errors.Is(err, assets.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
