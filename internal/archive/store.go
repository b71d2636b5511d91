// Package archive persists alert records to PostgreSQL.
package archive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dj-oyu/baby-safety-monitor/internal/alerts"
	"github.com/dj-oyu/baby-safety-monitor/internal/pose"
)

// Store manages the PostgreSQL connection. A pgx.Conn is not safe for
// concurrent use, so every call holds mu.
type Store struct {
	mu   sync.Mutex
	conn *pgx.Conn
}

// Open establishes a connection to the database and ensures the schema is initialized.
func Open(ctx context.Context, dsn string) (*Store, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect archive: %w", err)
	}

	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize archive schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS alert_records (
			id TEXT PRIMARY KEY,
			alert_type TEXT NOT NULL,
			hazard TEXT NOT NULL,
			distance DOUBLE PRECISION NOT NULL,
			reach_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			hand_proximity DOUBLE PRECISION NOT NULL DEFAULT 0,
			is_reaching BOOLEAN NOT NULL DEFAULT FALSE,
			reaching_arm TEXT,
			message TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS alert_records_created_at_idx ON alert_records (created_at);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close(ctx)
}

// Insert writes records in one batch. Records already archived are skipped.
func (s *Store) Insert(ctx context.Context, records []alerts.Record) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		var arm *string
		if r.ReachingArm != nil {
			name := r.ReachingArm.String()
			arm = &name
		}
		batch.Queue(`
			INSERT INTO alert_records
				(id, alert_type, hazard, distance, reach_score, hand_proximity, is_reaching, reaching_arm, message, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO NOTHING
		`, r.ID, string(r.Type), r.Hazard, r.Distance, r.ReachScore, r.HandProximity, r.IsReaching, arm, r.Message, r.Time())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert %d alerts: %w", len(records), err)
	}
	return nil
}

// Since returns archived records created at or after since, oldest first.
// A positive limit keeps only the newest limit matches; otherwise every match
// is returned.
func (s *Store) Since(ctx context.Context, since time.Time, limit int) ([]alerts.Record, error) {
	const columns = `id, alert_type, hazard, distance, reach_score, hand_proximity, is_reaching, reaching_arm, message, created_at`

	query := `SELECT ` + columns + ` FROM alert_records WHERE created_at >= $1 ORDER BY created_at ASC`
	args := []any{since}
	if limit > 0 {
		query = `
			SELECT ` + columns + ` FROM (
				SELECT ` + columns + ` FROM alert_records
				WHERE created_at >= $1
				ORDER BY created_at DESC
				LIMIT $2
			) newest
			ORDER BY created_at ASC
		`
		args = append(args, limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []alerts.Record
	for rows.Next() {
		var (
			r         alerts.Record
			alertType string
			arm       *string
			createdAt time.Time
		)
		if err := rows.Scan(&r.ID, &alertType, &r.Hazard, &r.Distance, &r.ReachScore, &r.HandProximity,
			&r.IsReaching, &arm, &r.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		r.Type = alerts.Type(alertType)
		r.Timestamp = alerts.Epoch(createdAt)
		r.TimeStr = createdAt.Local().Format("15:04:05")
		if arm != nil {
			var a pose.Arm
			if err := a.UnmarshalText([]byte(*arm)); err != nil {
				return nil, fmt.Errorf("alert %s: %w", r.ID, err)
			}
			r.ReachingArm = &a
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
