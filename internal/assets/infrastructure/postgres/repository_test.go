package postgres

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	assets "coldchain-cloud/internal/assets/domain"
)

func newMock(t *testing.T) (sqlmock.Sqlmock, DBTX) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return mock, db
}

func TestColdCellGet(t *testing.T) {
	mock, db := newMock(t)
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`(?s)SELECT id, customer_id, name.*FROM cold_cells\s+WHERE id = \$1`).
		WithArgs("cell-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "customer_id", "name", "min_temp", "max_temp", "door_alarm_delay_seconds",
			"require_resolution_reason", "created_at", "updated_at",
		}).AddRow("cell-1", "customer-1", "Freezer A", -25.0, -15.0, 120, true, now, now))

	cell, err := NewColdCellRepository(db).Get(context.Background(), "cell-1")
	require.NoError(t, err)
	require.NotNil(t, cell)
	assert.Equal(t, "Freezer A", cell.Name)
	assert.Equal(t, 2*time.Minute, cell.DoorAlarmDelay())
	assert.True(t, cell.RequireResolutionReason)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestColdCellUpdateSettingsMissing(t *testing.T) {
	mock, db := newMock(t)
	mock.ExpectExec(`UPDATE cold_cells`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := NewColdCellRepository(db).UpdateSettings(context.Background(), "nope",
		assets.ColdCellSettings{MinTemp: 2, MaxTemp: 8}, time.Now())
	assert.ErrorIs(t, err, assets.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceTouchTransitions(t *testing.T) {
	mock, db := newMock(t)
	repo := NewDeviceRepository(db)
	seen := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`(?s)WITH prev AS .*UPDATE devices AS d.*RETURNING prev.status`).
		WithArgs(seen, "SN-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("OFFLINE"))
	result, err := repo.Touch(context.Background(), "SN-1", seen)
	require.NoError(t, err)
	assert.Equal(t, assets.TouchResult{Applied: true, WasOffline: true}, result)

	// Stale reading: no row updated, device exists.
	mock.ExpectQuery(`(?s)WITH prev AS .*UPDATE devices`).
		WithArgs(seen.Add(-time.Minute), "SN-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))
	mock.ExpectQuery(`(?s)SELECT serial, cold_cell_id.*FROM devices\s+WHERE serial = \$1`).
		WithArgs("SN-1").
		WillReturnRows(sqlmock.NewRows([]string{"serial", "cold_cell_id", "status", "last_seen_at", "heartbeat_interval_seconds"}).
			AddRow("SN-1", "cell-1", "ONLINE", seen, 300))
	result, err = repo.Touch(context.Background(), "SN-1", seen.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, result.Applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceMarkOfflineGuard(t *testing.T) {
	mock, db := newMock(t)
	seen := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta(`SET status = 'OFFLINE'`)).
		WithArgs("SN-1", seen).
		WillReturnResult(sqlmock.NewResult(0, 0))
	applied, err := NewDeviceRepository(db).MarkOffline(context.Background(), "SN-1", seen)
	require.NoError(t, err)
	assert.False(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEscalationConfigRoundTripContacts(t *testing.T) {
	mock, db := newMock(t)
	repo := NewEscalationConfigRepository(db)
	primary, _ := json.Marshal(assets.Contact{Name: "Ana", Email: "ana@example.com"})
	backups, _ := json.Marshal([]assets.Contact{{Name: "Ben", Phone: "+31"}})
	updated := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`(?s)SELECT customer_id, opening_time.*FROM escalation_configs`).
		WithArgs("customer-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"customer_id", "opening_time", "closing_time", "night_start", "timezone",
			"primary_contact", "backup_contacts", "updated_at",
		}).AddRow("customer-1", "06:00", "18:00", "22:00", "Europe/Amsterdam", primary, backups, updated))
	cfg, err := repo.Get(context.Background(), "customer-1")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "Ana", cfg.PrimaryContact.Name)
	require.Len(t, cfg.BackupContacts, 1)
	assert.Equal(t, "+31", cfg.BackupContacts[0].Phone)

	mock.ExpectExec(`(?s)INSERT INTO escalation_configs.*ON CONFLICT \(customer_id\)`).
		WithArgs("customer-1", "06:00", "18:00", "22:00", "Europe/Amsterdam", primary, backups, updated).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Save(context.Background(), cfg))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEscalationConfigMissing(t *testing.T) {
	mock, db := newMock(t)
	mock.ExpectQuery(`FROM escalation_configs`).
		WithArgs("customer-x").
		WillReturnRows(sqlmock.NewRows([]string{"customer_id"}))
	cfg, err := NewEscalationConfigRepository(db).Get(context.Background(), "customer-x")
	require.NoError(t, err)
	assert.Nil(t, cfg)
}
