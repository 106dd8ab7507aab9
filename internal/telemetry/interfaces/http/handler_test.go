package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alertapp "coldchain-cloud/internal/alerts/application"
	alertmemory "coldchain-cloud/internal/alerts/infrastructure/memory"
	assets "coldchain-cloud/internal/assets/domain"
	assetmemory "coldchain-cloud/internal/assets/infrastructure/memory"
	"coldchain-cloud/internal/auth"
	doormemory "coldchain-cloud/internal/doors/infrastructure/memory"
	telemetryapp "coldchain-cloud/internal/telemetry/application"
	telemetry "coldchain-cloud/internal/telemetry/domain"
	telemetrymemory "coldchain-cloud/internal/telemetry/infrastructure/memory"
)

type staticClock struct{ now time.Time }

func (c staticClock) Now() time.Time { return c.now }

func newRouter(t *testing.T) *mux.Router {
	t.Helper()
	clock := staticClock{now: time.Date(2026, 5, 4, 10, 5, 0, 0, time.UTC)}
	cells := assetmemory.NewColdCellRepository(
		assets.ColdCell{ID: "cell-1", CustomerID: "customer-1", MinTemp: -25, MaxTemp: -15, DoorAlarmDelaySeconds: 60},
		assets.ColdCell{ID: "cell-9", CustomerID: "customer-2", MinTemp: 2, MaxTemp: 8},
	)
	configs := assetmemory.NewEscalationConfigRepository()
	service, err := alertapp.NewService(alertmemory.NewAlertRepository(), cells, configs, alertapp.WithClock(clock))
	require.NoError(t, err)
	readings := telemetrymemory.NewReadingRepository()
	ingest, err := telemetryapp.NewIngestService(telemetryapp.Dependencies{
		Readings:   readings,
		Devices:    assetmemory.NewDeviceRepository(assets.Device{Serial: "SN-1", ColdCellID: "cell-1"}),
		Cells:      cells,
		Configs:    configs,
		Doors:      doormemory.NewDoorStateRepository(),
		Conditions: alertmemory.NewConditionStateRepository(),
		Handler:    service,
	}, telemetryapp.WithClock(clock))
	require.NoError(t, err)
	handler, err := NewHandler(ingest, readings, auth.NewColdCellChecker(cells), nil)
	require.NoError(t, err)
	router := mux.NewRouter()
	handler.RegisterIngest(router)
	handler.RegisterAPI(router)
	return router
}

func post(router *mux.Router, serial, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/ingest/devices/"+serial+"/readings", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSubmitReading(t *testing.T) {
	router := newRouter(t)
	body := `{"temperature":-18,"door_open":false,"power_on":true,"recorded_at":"2026-05-04T10:00:00Z"}`

	rec := post(router, "SN-1", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var result telemetryapp.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "cell-1", result.ColdCellID)

	rec = post(router, "SN-1", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Duplicate)
}

func TestSubmitRejectsBadReadings(t *testing.T) {
	router := newRouter(t)
	assert.Equal(t, http.StatusBadRequest, post(router, "SN-1", `{"temperature":-18}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(router, "SN-1", `{"recorded_at":"2026-05-04T11:00:00Z"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(router, "SN-1", `nope`).Code)
	assert.Equal(t, http.StatusNotFound, post(router, "SN-404", `{"recorded_at":"2026-05-04T10:00:00Z"}`).Code)
}

func TestListReadingsScopedToCustomer(t *testing.T) {
	router := newRouter(t)
	require.Equal(t, http.StatusAccepted, post(router, "SN-1", `{"temperature":-18,"door_open":false,"power_on":true,"recorded_at":"2026-05-04T10:00:00Z"}`).Code)

	get := func(customerID, target string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req = req.WithContext(auth.WithIdentity(req.Context(), customerID, auth.RoleViewer, "viewer"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}
	target := "/api/v1/cold-cells/cell-1/readings?from=2026-05-04T00:00:00Z&to=2026-05-05T00:00:00Z"
	rec := get("customer-1", target)
	require.Equal(t, http.StatusOK, rec.Code)
	var readings []telemetry.SensorReading
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &readings))
	require.Len(t, readings, 1)

	assert.Equal(t, http.StatusNotFound, get("customer-2", target).Code)
	assert.Equal(t, http.StatusBadRequest, get("customer-1", "/api/v1/cold-cells/cell-1/readings").Code)
}
