package main

import (
	"bufio"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	alertapp "coldchain-cloud/internal/alerts/application"
	alerthttp "coldchain-cloud/internal/alerts/interfaces/http"
	assetapp "coldchain-cloud/internal/assets/application"
	assets "coldchain-cloud/internal/assets/domain"
	assethttp "coldchain-cloud/internal/assets/interfaces/http"
	"coldchain-cloud/internal/audit"
	"coldchain-cloud/internal/auth"
	"coldchain-cloud/internal/config"
	"coldchain-cloud/internal/livestate"
	livehttp "coldchain-cloud/internal/livestate/interfaces/http"
	telemetryapp "coldchain-cloud/internal/telemetry/application"
	telemetry "coldchain-cloud/internal/telemetry/domain"
	telemetryhttp "coldchain-cloud/internal/telemetry/interfaces/http"
)

type routerDeps struct {
	cfg       config.Config
	logger    *zap.Logger
	db        *sql.DB
	cells     assets.ColdCellRepository
	readings  telemetry.ReadingRepository
	alerts    *alertapp.Service
	settings  *assetapp.SettingsService
	ingest    *telemetryapp.IngestService
	snapshots *livestate.SnapshotService
	hub       *livestate.Hub
	noAuth    bool
}

func newRouter(deps routerDeps) (http.Handler, error) {
	if deps.alerts == nil || deps.settings == nil || deps.ingest == nil {
		return nil, errors.New("router: missing service")
	}
	checker := auth.NewColdCellChecker(deps.cells)
	var auditLogger audit.Logger = audit.NewZapLogger(deps.logger.Named("audit"))
	if deps.db != nil {
		auditLogger = audit.NewRepository(deps.db)
	}
	r := mux.NewRouter()

	ingestAuth := auth.NewIngestAuthMiddleware([]byte(deps.cfg.Auth.IngestSecret), time.Duration(deps.cfg.Auth.IngestSkewSeconds)*time.Second)
	ingestRoutes := r.MatcherFunc(func(req *http.Request, _ *mux.RouteMatch) bool {
		return strings.HasPrefix(req.URL.Path, "/ingest/")
	}).Subrouter()
	ingestRoutes.Use(ingestAuth.Wrap)

	readingHandler, err := telemetryhttp.NewHandler(deps.ingest, deps.readings, checker, deps.logger.Named("ingest-http"))
	if err != nil {
		return nil, err
	}
	readingHandler.RegisterIngest(ingestRoutes)
	readingHandler.RegisterAPI(r)

	alertHandler, err := alerthttp.NewHandler(deps.alerts, checker, alerthttp.WithAuditLogger(auditLogger))
	if err != nil {
		return nil, err
	}
	alertHandler.Register(r)

	settingsHandler, err := assethttp.NewHandler(deps.settings, auditLogger)
	if err != nil {
		return nil, err
	}
	settingsHandler.Register(r)

	liveHandler, err := livehttp.NewHandler(deps.snapshots, deps.hub, checker, livehttp.WithLogger(deps.logger.Named("live-http")))
	if err != nil {
		return nil, err
	}
	liveHandler.Register(r)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if deps.db != nil {
			if err := deps.db.PingContext(req.Context()); err != nil {
				http.Error(w, "db unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	var handler http.Handler = r
	if deps.noAuth {
		deps.logger.Warn("api auth disabled: no JWT secret configured")
	} else {
		policy := auth.NewDefaultPolicy([]string{"/metrics", "/healthz"}, []string{"/ingest/"})
		handler = auth.NewMiddleware([]byte(deps.cfg.Auth.JWTSecret), policy).Wrap(handler)
	}
	return loggingMiddleware(handler, deps.logger.Named("http")), nil
}

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps server-sent events working through the wrapper.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack keeps WebSocket upgrades working through the wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack unsupported")
	}
	w.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}
