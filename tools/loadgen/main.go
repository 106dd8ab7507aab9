package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"coldchain-cloud/internal/auth"
)

type config struct {
	dsn          string
	baseURL      string
	ingestSecret string
	customerID   string
	cellPrefix   string
	cellCount    int
	readings     int
	interval     time.Duration
	concurrency  int
	excursionPct float64
	seed         bool
}

type stats struct {
	accepted  int64
	duplicate int64
	failed    int64
}

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	if err := newCommand(logger).Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand(logger *zap.Logger) *cobra.Command {
	cfg := config{}
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Seed cold cells and replay signed sensor readings against the ingest endpoint.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfg, logger)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&cfg.dsn, "pg-dsn", envOrDefault("PG_DSN", envOrDefault("DATABASE_URL", "")), "Postgres DSN used for seeding")
	flags.StringVar(&cfg.baseURL, "base-url", envOrDefault("BASE_URL", "http://localhost:8080"), "API base URL")
	flags.StringVar(&cfg.ingestSecret, "ingest-secret", envOrDefault("INGEST_HMAC_SECRET", ""), "ingest HMAC secret")
	flags.StringVar(&cfg.customerID, "customer-id", envOrDefault("CUSTOMER_ID", "customer-perf"), "customer owning the seeded cells")
	flags.StringVar(&cfg.cellPrefix, "cell-prefix", envOrDefault("CELL_PREFIX", "cell-perf-"), "cold cell id prefix")
	flags.IntVar(&cfg.cellCount, "cell-count", envOrInt("CELL_COUNT", 10), "number of cold cells")
	flags.IntVar(&cfg.readings, "readings", envOrInt("READINGS", 60), "readings per device")
	flags.DurationVar(&cfg.interval, "interval", time.Minute, "recorded_at spacing between readings")
	flags.IntVar(&cfg.concurrency, "concurrency", envOrInt("CONCURRENCY", 8), "parallel devices")
	flags.Float64Var(&cfg.excursionPct, "excursion-pct", 0.05, "share of readings above the max temperature")
	flags.BoolVar(&cfg.seed, "seed", true, "insert customer, cells and devices before sending")
	return cmd
}

func run(ctx context.Context, cfg config, logger *zap.Logger) error {
	if cfg.cellCount <= 0 || cfg.readings <= 0 {
		return fmt.Errorf("cell-count and readings must be > 0")
	}
	if cfg.ingestSecret == "" {
		return fmt.Errorf("ingest secret is required")
	}
	cells := buildIDs(cfg.cellPrefix, cfg.cellCount)

	if cfg.seed {
		if cfg.dsn == "" {
			return fmt.Errorf("PG_DSN or DATABASE_URL is required for seeding")
		}
		db, err := sql.Open("pgx", cfg.dsn)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer db.Close()
		if err := seedCells(ctx, db, cfg.customerID, cells); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		logger.Info("seeded cold cells", zap.Int("cells", len(cells)))
	}

	client := resty.New().SetBaseURL(cfg.baseURL).SetTimeout(10 * time.Second)
	start := time.Now().UTC().Add(-time.Duration(cfg.readings) * cfg.interval)
	var st stats
	began := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.concurrency)
	for _, cellID := range cells {
		serial := deviceSerial(cellID)
		g.Go(func() error {
			rnd := rand.New(rand.NewSource(int64(len(serial)) + time.Now().UnixNano()))
			for i := 0; i < cfg.readings; i++ {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				body := readingBody(rnd, start.Add(time.Duration(i)*cfg.interval), cfg.excursionPct)
				send(gctx, client, cfg.ingestSecret, serial, body, &st, logger)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("load finished",
		zap.Int64("accepted", st.accepted),
		zap.Int64("duplicate", st.duplicate),
		zap.Int64("failed", st.failed),
		zap.Duration("elapsed", time.Since(began)),
	)
	return nil
}

func send(ctx context.Context, client *resty.Client, secret, serial string, body []byte, st *stats, logger *zap.Logger) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	resp, err := client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Ingest-Timestamp", ts).
		SetHeader("X-Ingest-Signature", auth.IngestSignature([]byte(secret), ts, body)).
		SetBody(body).
		Post("/ingest/devices/" + serial + "/readings")
	switch {
	case err != nil:
		atomic.AddInt64(&st.failed, 1)
		logger.Warn("send failed", zap.String("serial", serial), zap.Error(err))
	case resp.StatusCode() == 202:
		atomic.AddInt64(&st.accepted, 1)
	case resp.StatusCode() == 200:
		atomic.AddInt64(&st.duplicate, 1)
	default:
		atomic.AddInt64(&st.failed, 1)
		logger.Warn("send rejected", zap.String("serial", serial), zap.Int("status", resp.StatusCode()), zap.String("body", resp.String()))
	}
}

func readingBody(rnd *rand.Rand, at time.Time, excursionPct float64) []byte {
	temp := -20 + rnd.Float64()*4
	if rnd.Float64() < excursionPct {
		temp = -12 + rnd.Float64()*3
	}
	payload := map[string]any{
		"temperature": round1(temp),
		"humidity":    round1(60 + rnd.Float64()*20),
		"door_open":   rnd.Float64() < 0.02,
		"power_on":    true,
		"recorded_at": at.Format(time.RFC3339),
	}
	body, _ := json.Marshal(payload)
	return body
}

func seedCells(ctx context.Context, db *sql.DB, customerID string, cells []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO customers (id, name) VALUES ($1, $1) ON CONFLICT (id) DO NOTHING`, customerID); err != nil {
		_ = tx.Rollback()
		return err
	}
	for i, cellID := range cells {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO cold_cells (id, customer_id, name, min_temp, max_temp, door_alarm_delay_seconds)
VALUES ($1, $2, $3, -25, -15, 120)
ON CONFLICT (id) DO NOTHING`, cellID, customerID, fmt.Sprintf("Perf freezer %d", i+1)); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO devices (serial, cold_cell_id, heartbeat_interval_seconds)
VALUES ($1, $2, 300)
ON CONFLICT (serial) DO NOTHING`, deviceSerial(cellID), cellID); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func buildIDs(prefix string, count int) []string {
	list := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		list = append(list, fmt.Sprintf("%s%04d", prefix, i))
	}
	return list
}

func deviceSerial(cellID string) string {
	return "logger-" + cellID
}

func round1(v float64) float64 {
	return float64(int64(v*10)) / 10
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
