package integration_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	alerts "coldchain-cloud/internal/alerts/domain"
	alertpostgres "coldchain-cloud/internal/alerts/infrastructure/postgres"
	assetpostgres "coldchain-cloud/internal/assets/infrastructure/postgres"
	telemetry "coldchain-cloud/internal/telemetry/domain"
	telemetrypostgres "coldchain-cloud/internal/telemetry/infrastructure/postgres"
	"coldchain-cloud/migrations"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := migrations.Apply(context.Background(), db, zap.NewNop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seed(t *testing.T, db *sql.DB, customerID, cellID, serial string) {
	t.Helper()
	ctx := context.Background()
	stmts := []struct {
		query string
		args  []any
	}{
		{`DELETE FROM alerts WHERE cold_cell_id = $1`, []any{cellID}},
		{`DELETE FROM sensor_readings WHERE cold_cell_id = $1`, []any{cellID}},
		{`DELETE FROM devices WHERE serial = $1`, []any{serial}},
		{`DELETE FROM cold_cells WHERE id = $1`, []any{cellID}},
		{`INSERT INTO customers (id, name) VALUES ($1, $1) ON CONFLICT (id) DO NOTHING`, []any{customerID}},
		{`INSERT INTO cold_cells (id, customer_id, name, min_temp, max_temp) VALUES ($1, $2, 'it freezer', -25, -15)`, []any{cellID, customerID}},
		{`INSERT INTO devices (serial, cold_cell_id) VALUES ($1, $2)`, []any{serial, cellID}},
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt.query, stmt.args...); err != nil {
			t.Fatalf("seed %q: %v", stmt.query, err)
		}
	}
}

func TestAlertLifecycle_Postgres(t *testing.T) {
	db := openDB(t)
	seed(t, db, "customer-it", "cell-it", "logger-it")
	ctx := context.Background()
	repo := alertpostgres.NewAlertRepository(db)
	triggered := time.Date(2026, time.May, 4, 9, 0, 0, 0, time.UTC)

	alert := &alerts.Alert{
		ID: "alert-it-1", CustomerID: "customer-it", ColdCellID: "cell-it",
		Type: alerts.TypeHighTemp, Status: alerts.StatusActive, Layer: alerts.Layer1,
		EntrySlot: alerts.SlotOpen, ObservedValue: -9.5, Threshold: -15,
		TriggeredAt: triggered, CreatedAt: triggered, UpdatedAt: triggered,
	}
	if err := repo.Create(ctx, alert); err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := *alert
	dup.ID = "alert-it-2"
	if err := repo.Create(ctx, &dup); !errors.Is(err, alerts.ErrConflict) {
		t.Fatalf("expected conflict for second open alert, got %v", err)
	}

	ok, err := repo.Promote(ctx, alert.ID, alerts.Layer1, alerts.Layer2, triggered.Add(15*time.Minute))
	if err != nil || !ok {
		t.Fatalf("promote: ok=%v err=%v", ok, err)
	}
	ok, err = repo.Promote(ctx, alert.ID, alerts.Layer1, alerts.Layer2, triggered.Add(16*time.Minute))
	if err != nil || ok {
		t.Fatalf("second promote must lose: ok=%v err=%v", ok, err)
	}

	ok, err = repo.Resolve(ctx, alert.ID, "door closed", "ops@example.com", triggered.Add(20*time.Minute))
	if err != nil || !ok {
		t.Fatalf("resolve: ok=%v err=%v", ok, err)
	}
	got, err := repo.Get(ctx, alert.ID)
	if err != nil || got == nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != alerts.StatusResolved || got.Layer != alerts.Layer2 {
		t.Fatalf("unexpected alert: %+v", got)
	}

	// A resolved alert frees the slot for a new one.
	if err := repo.Create(ctx, &dup); err != nil {
		t.Fatalf("create after resolve: %v", err)
	}
}

func TestReadingsAndDevices_Postgres(t *testing.T) {
	db := openDB(t)
	seed(t, db, "customer-it", "cell-it-r", "logger-it-r")
	ctx := context.Background()
	readings := telemetrypostgres.NewReadingRepository(db)
	devices := assetpostgres.NewDeviceRepository(db)
	at := time.Date(2026, time.May, 4, 9, 0, 0, 0, time.UTC)
	temp := -18.0

	reading := telemetry.SensorReading{DeviceSerial: "logger-it-r", ColdCellID: "cell-it-r", Temperature: &temp, RecordedAt: at, ReceivedAt: at}
	inserted, err := readings.Append(ctx, reading)
	if err != nil || !inserted {
		t.Fatalf("append: inserted=%v err=%v", inserted, err)
	}
	inserted, err = readings.Append(ctx, reading)
	if err != nil || inserted {
		t.Fatalf("duplicate append: inserted=%v err=%v", inserted, err)
	}

	touch, err := devices.Touch(ctx, "logger-it-r", at)
	if err != nil || !touch.Applied {
		t.Fatalf("touch: %+v err=%v", touch, err)
	}
	touch, err = devices.Touch(ctx, "logger-it-r", at.Add(-time.Minute))
	if err != nil || touch.Applied {
		t.Fatalf("stale touch applied: %+v err=%v", touch, err)
	}
	offline, err := devices.MarkOffline(ctx, "logger-it-r", at)
	if err != nil || !offline {
		t.Fatalf("mark offline: %v err=%v", offline, err)
	}
	touch, err = devices.Touch(ctx, "logger-it-r", at.Add(time.Minute))
	if err != nil || !touch.Applied || !touch.WasOffline {
		t.Fatalf("recovery touch: %+v err=%v", touch, err)
	}

	list, err := readings.ListByColdCell(ctx, "cell-it-r", at.Add(-time.Hour), at.Add(time.Hour))
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %d err=%v", len(list), err)
	}
}
