package http

import (
	"context"
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
	alerts "coldchain-cloud/internal/alerts/domain"
	alertmemory "coldchain-cloud/internal/alerts/infrastructure/memory"
	assets "coldchain-cloud/internal/assets/domain"
	assetmemory "coldchain-cloud/internal/assets/infrastructure/memory"
	"coldchain-cloud/internal/audit"
	"coldchain-cloud/internal/auth"
)

type recordingAudit struct {
	entries []audit.Entry
}

func (r *recordingAudit) Log(_ context.Context, entry audit.Entry) error {
	r.entries = append(r.entries, entry)
	return nil
}

type staticClock struct{ now time.Time }

func (c staticClock) Now() time.Time { return c.now }

type fixture struct {
	router  *mux.Router
	service *alertapp.Service
	cell    assets.ColdCell
	now     time.Time
}

func newFixture(t *testing.T, opts ...HandlerOption) *fixture {
	t.Helper()
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	cell := assets.ColdCell{ID: "cell-1", CustomerID: "customer-1", Name: "Freezer A", MinTemp: -25, MaxTemp: -15, RequireResolutionReason: true}
	other := assets.ColdCell{ID: "cell-9", CustomerID: "customer-2", Name: "Other", MinTemp: 2, MaxTemp: 8}
	cells := assetmemory.NewColdCellRepository(cell, other)
	service, err := alertapp.NewService(alertmemory.NewAlertRepository(), cells, assetmemory.NewEscalationConfigRepository(),
		alertapp.WithClock(staticClock{now: now}))
	require.NoError(t, err)
	handler, err := NewHandler(service, auth.NewColdCellChecker(cells), opts...)
	require.NoError(t, err)
	router := mux.NewRouter()
	handler.Register(router)
	return &fixture{router: router, service: service, cell: cell, now: now}
}

func (f *fixture) raise(t *testing.T, cell assets.ColdCell, alertType alerts.Type) alerts.Alert {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.service.HandleSignals(ctx, cell, []alerts.Signal{
		{Type: alertType, Kind: alerts.SignalTrigger, At: f.now, Value: -10, Threshold: -15},
	}))
	open, err := f.service.ListOpenByColdCell(ctx, cell.ID)
	require.NoError(t, err)
	for _, alert := range open {
		if alert.Type == alertType {
			return alert
		}
	}
	t.Fatalf("alert %s not raised", alertType)
	return alerts.Alert{}
}

func (f *fixture) do(method, target, body, customerID string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req = req.WithContext(auth.WithIdentity(req.Context(), customerID, auth.RoleOperator, "op@example.com"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestListScopedToCustomer(t *testing.T) {
	f := newFixture(t)
	f.raise(t, f.cell, alerts.TypeHighTemp)
	f.raise(t, assets.ColdCell{ID: "cell-9", CustomerID: "customer-2"}, alerts.TypeDoorOpen)

	rec := f.do(http.MethodGet, "/api/v1/alerts", "", "customer-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []alerts.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "cell-1", list[0].ColdCellID)
}

func TestListValidatesQuery(t *testing.T) {
	f := newFixture(t)
	cases := []string{
		"/api/v1/alerts?status=OPEN",
		"/api/v1/alerts?type=SMOKE",
		"/api/v1/alerts?from=yesterday",
		"/api/v1/alerts?from=2026-05-04T10:00:00Z&to=2026-05-04T09:00:00Z",
		"/api/v1/alerts?limit=-1",
	}
	for _, target := range cases {
		rec := f.do(http.MethodGet, target, "", "customer-1")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestListForeignColdCellNotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/v1/alerts?cold_cell_id=cell-9", "", "customer-1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetAcknowledgeResolve(t *testing.T) {
	f := newFixture(t)
	alert := f.raise(t, f.cell, alerts.TypeHighTemp)

	rec := f.do(http.MethodGet, "/api/v1/alerts/"+alert.ID, "", "customer-1")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/alerts/"+alert.ID, "", "customer-2")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/alerts/"+alert.ID+"/ack", "", "customer-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var acked alerts.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acked))
	require.NotNil(t, acked.AcknowledgedAt)
	assert.Equal(t, "op@example.com", acked.AcknowledgedBy)

	rec = f.do(http.MethodPost, "/api/v1/alerts/"+alert.ID+"/resolve", `{"reason":""}`, "customer-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/alerts/"+alert.ID+"/resolve", `{"reason":"compressor restarted"}`, "customer-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var resolved alerts.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resolved))
	assert.Equal(t, alerts.StatusResolved, resolved.Status)
	assert.Equal(t, "compressor restarted", resolved.ResolutionReason)

	rec = f.do(http.MethodPost, "/api/v1/alerts/"+alert.ID+"/resolve", `{"reason":"again"}`, "customer-1")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/alerts/"+alert.ID+"/ack", "", "customer-1")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUnknownAlertNotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/v1/alerts/missing/ack", "", "customer-1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResolveRejectsMalformedBody(t *testing.T) {
	f := newFixture(t)
	alert := f.raise(t, f.cell, alerts.TypeHighTemp)
	rec := f.do(http.MethodPost, "/api/v1/alerts/"+alert.ID+"/resolve", `{"reason":`, "customer-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAcknowledgeAndResolveAreAudited(t *testing.T) {
	recorder := &recordingAudit{}
	f := newFixture(t, WithAuditLogger(recorder))
	alert := f.raise(t, f.cell, alerts.TypeHighTemp)

	rec := f.do(http.MethodPost, "/api/v1/alerts/"+alert.ID+"/ack", "", "customer-1")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(http.MethodPost, "/api/v1/alerts/"+alert.ID+"/resolve", `{"reason":"compressor restarted"}`, "customer-1")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(http.MethodPost, "/api/v1/alerts/"+alert.ID+"/resolve", `{"reason":"again"}`, "customer-1")
	require.Equal(t, http.StatusConflict, rec.Code)

	require.Len(t, recorder.entries, 2)
	assert.Equal(t, "alert.acknowledge", recorder.entries[0].Action)
	assert.Equal(t, "alert.resolve", recorder.entries[1].Action)
	assert.Equal(t, "cell-1", recorder.entries[1].ColdCellID)
	assert.Equal(t, "op@example.com", recorder.entries[1].Actor)
	assert.JSONEq(t, `{"reason":"compressor restarted"}`, string(recorder.entries[1].Metadata))
}
