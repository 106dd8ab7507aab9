package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// fakeProvider accepts SMS/voice provider calls and email/push webhooks so a
// local stack can exercise every notification channel.
type fakeProvider struct {
	start    time.Time
	latency  time.Duration
	failRate float64
	token    string
	logger   *zap.Logger

	mu         sync.Mutex
	byChannel  map[string]int64
	byAlert    map[string]int64
	failures   int64
	totalCalls int64
	seq        int64
}

type message struct {
	Channel string `json:"channel"`
	Type    string `json:"type"`
	To      string `json:"to"`
	AlertID string `json:"alert_id"`
	Layer   int    `json:"layer"`
}

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	addr := getenvDefault("FAKE_PROVIDER_ADDR", ":18081")
	srv := newFakeProvider(
		time.Duration(getenvIntDefault("FAKE_PROVIDER_LATENCY_MS", 0))*time.Millisecond,
		getenvFloatDefault("FAKE_PROVIDER_FAIL_RATE", 0),
		getenvDefault("FAKE_PROVIDER_TOKEN", ""),
		logger,
	)
	logger.Info("fake provider listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, srv.routes()); err != nil {
		logger.Fatal("fake provider stopped", zap.Error(err))
	}
}

func newFakeProvider(latency time.Duration, failRate float64, token string, logger *zap.Logger) *fakeProvider {
	return &fakeProvider{
		start:     time.Now().UTC(),
		latency:   latency,
		failRate:  failRate,
		token:     token,
		logger:    logger,
		byChannel: make(map[string]int64),
		byAlert:   make(map[string]int64),
	}
}

func (s *fakeProvider) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/v1/messages", s.handleProvider).Methods(http.MethodPost)
	r.HandleFunc("/webhooks/{channel}", s.handleWebhook).Methods(http.MethodPost)
	return r
}

func (s *fakeProvider) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *fakeProvider) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload := map[string]any{
		"started_at": s.start.Format(time.RFC3339),
		"total":      atomic.LoadInt64(&s.totalCalls),
		"failures":   s.failures,
		"by_channel": s.byChannel,
		"by_alert":   s.byAlert,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *fakeProvider) handleProvider(w http.ResponseWriter, r *http.Request) {
	if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var msg message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil || msg.To == "" {
		http.Error(w, "invalid message", http.StatusBadRequest)
		return
	}
	s.accept(w, msg.Type, msg)
}

func (s *fakeProvider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var msg message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid message", http.StatusBadRequest)
		return
	}
	s.accept(w, mux.Vars(r)["channel"], msg)
}

func (s *fakeProvider) accept(w http.ResponseWriter, channel string, msg message) {
	if s.latency > 0 {
		time.Sleep(s.latency)
	}
	atomic.AddInt64(&s.totalCalls, 1)
	failed := s.failRate > 0 && rand.Float64() < s.failRate

	s.mu.Lock()
	if failed {
		s.failures++
	} else {
		s.byChannel[channel]++
		s.byAlert[msg.AlertID]++
	}
	s.seq++
	id := fmt.Sprintf("msg-%06d", s.seq)
	s.mu.Unlock()

	if failed {
		s.logger.Warn("simulated delivery failure", zap.String("channel", channel), zap.String("alert_id", msg.AlertID))
		http.Error(w, "simulated failure", http.StatusBadGateway)
		return
	}
	s.logger.Info("message accepted",
		zap.String("id", id),
		zap.String("channel", channel),
		zap.String("to", msg.To),
		zap.String("alert_id", msg.AlertID),
		zap.Int("layer", msg.Layer),
	)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"id": id, "status": "queued"})
}

func getenvDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value, err := strconv.Atoi(getenvDefault(key, ""))
	if err != nil {
		return fallback
	}
	return value
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value, err := strconv.ParseFloat(getenvDefault(key, ""), 64)
	if err != nil {
		return fallback
	}
	return value
}
