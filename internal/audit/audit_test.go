package audit

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepositoryLogFillsDefaults(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	meta := []byte(`{"reason":"door closed"}`)
	mock.ExpectExec(`INSERT INTO audit_logs`).
		WithArgs(sqlmock.AnyArg(), "customer-1", "ops@example.com", "operator", "alert.resolve", "alert", "alert-1", "cell-1",
			meta, DigestJSON(meta), "10.0.0.1", "curl", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewRepository(db).Log(context.Background(), Entry{
		CustomerID: "customer-1", Actor: "ops@example.com", Role: "operator",
		Action: "alert.resolve", ResourceType: "alert", ResourceID: "alert-1", ColdCellID: "cell-1",
		Metadata: meta, IP: "10.0.0.1", UserAgent: "curl",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNilRepository(t *testing.T) {
	assert.Nil(t, NewRepository(nil))
	var repo *Repository
	assert.Error(t, repo.Log(context.Background(), Entry{}))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", ClientIP(req))
	req.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", ClientIP(req))
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", ClientIP(req))
	req.Header.Set("X-Forwarded-For", "unknown, 10.0.0.1")
	assert.Equal(t, "198.51.100.7", ClientIP(req))
}

func TestDigestJSON(t *testing.T) {
	assert.Empty(t, DigestJSON(nil))
	assert.Len(t, DigestJSON([]byte(`{}`)), 64)
}
