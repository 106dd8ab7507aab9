package audit

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Entry represents an audit log entry.
type Entry struct {
	ID            string
	CustomerID    string
	Actor         string
	Role          string
	Action        string
	ResourceType  string
	ResourceID    string
	ColdCellID    string
	Metadata      json.RawMessage
	PayloadDigest string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// NewID generates a random audit id.
func NewID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return "audit-" + hex.EncodeToString(buf)
}

// DigestJSON computes a SHA256 hex digest for metadata payloads.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ZapLogger writes audit entries to a structured log, for deployments
// without a database.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger constructs a ZapLogger.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger}
}

// Log writes entry at info level.
func (l *ZapLogger) Log(_ context.Context, entry Entry) error {
	l.logger.Info("audit",
		zap.String("customer_id", entry.CustomerID),
		zap.String("actor", entry.Actor),
		zap.String("role", entry.Role),
		zap.String("action", entry.Action),
		zap.String("resource_type", entry.ResourceType),
		zap.String("resource_id", entry.ResourceID),
		zap.String("cold_cell_id", entry.ColdCellID),
		zap.ByteString("metadata", entry.Metadata),
		zap.String("ip", entry.IP),
	)
	return nil
}
