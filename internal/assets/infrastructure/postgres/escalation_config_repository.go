package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	assets "coldchain-cloud/internal/assets/domain"
)

// EscalationConfigRepository stores per-customer escalation configuration.
type EscalationConfigRepository struct {
	db DBTX
}

// NewEscalationConfigRepository constructs a repository.
func NewEscalationConfigRepository(db DBTX) *EscalationConfigRepository {
	return &EscalationConfigRepository{db: db}
}

// Get returns nil when the customer has no stored configuration.
func (r *EscalationConfigRepository) Get(ctx context.Context, customerID string) (*assets.EscalationConfig, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("escalation config repo: nil db")
	}
	var (
		cfg     assets.EscalationConfig
		primary []byte
		backups []byte
	)
	err := r.db.QueryRowContext(ctx, `
SELECT customer_id, opening_time, closing_time, night_start, timezone,
	primary_contact, backup_contacts, updated_at
FROM escalation_configs
WHERE customer_id = $1`, customerID).Scan(
		&cfg.CustomerID,
		&cfg.OpeningTime,
		&cfg.ClosingTime,
		&cfg.NightStart,
		&cfg.Timezone,
		&primary,
		&backups,
		&cfg.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(primary) > 0 {
		if err := json.Unmarshal(primary, &cfg.PrimaryContact); err != nil {
			return nil, err
		}
	}
	if len(backups) > 0 {
		if err := json.Unmarshal(backups, &cfg.BackupContacts); err != nil {
			return nil, err
		}
	}
	cfg.UpdatedAt = cfg.UpdatedAt.UTC()
	return &cfg, nil
}

// Save upserts cfg.
func (r *EscalationConfigRepository) Save(ctx context.Context, cfg *assets.EscalationConfig) error {
	if r == nil || r.db == nil {
		return errors.New("escalation config repo: nil db")
	}
	if cfg == nil {
		return errors.New("escalation config repo: nil config")
	}
	primary, err := json.Marshal(cfg.PrimaryContact)
	if err != nil {
		return err
	}
	backups := cfg.BackupContacts
	if backups == nil {
		backups = []assets.Contact{}
	}
	backupJSON, err := json.Marshal(backups)
	if err != nil {
		return err
	}
	updatedAt := cfg.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO escalation_configs (
	customer_id, opening_time, closing_time, night_start, timezone,
	primary_contact, backup_contacts, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (customer_id)
DO UPDATE SET
	opening_time = EXCLUDED.opening_time,
	closing_time = EXCLUDED.closing_time,
	night_start = EXCLUDED.night_start,
	timezone = EXCLUDED.timezone,
	primary_contact = EXCLUDED.primary_contact,
	backup_contacts = EXCLUDED.backup_contacts,
	updated_at = EXCLUDED.updated_at`,
		cfg.CustomerID,
		cfg.OpeningTime,
		cfg.ClosingTime,
		cfg.NightStart,
		cfg.Timezone,
		primary,
		backupJSON,
		updatedAt.UTC(),
	)
	return err
}
