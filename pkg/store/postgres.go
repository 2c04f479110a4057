package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/mikeboe/deep-search/pkg/database"
	"github.com/mikeboe/deep-search/pkg/research"
)

// Postgres stores runs in the research_runs and research_logs tables.
type Postgres struct {
	DB *database.PostgresDB
}

func NewPostgres(db *database.PostgresDB) *Postgres {
	return &Postgres{DB: db}
}

const runColumns = `id::text, initial_query, phase, status, checkpoint, COALESCE(answer, ''), COALESCE(error, ''), created_at, updated_at`

func (p *Postgres) Create(ctx context.Context, id, initialQuery string) (*RunRecord, error) {
	query := `
		INSERT INTO research_runs (id, initial_query, phase, status)
		VALUES ($1::uuid, $2, $3, $4)
		RETURNING ` + runColumns
	rec, err := scanRun(p.DB.Pool.QueryRow(ctx, query, id, initialQuery, research.PhaseAwaitingClarification, StatusClarifying))
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return rec, nil
}

func (p *Postgres) SaveCheckpoint(ctx context.Context, cp research.Checkpoint) error {
	cpJSON, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	query := `
		INSERT INTO research_runs (id, initial_query, phase, status, checkpoint, answer, error)
		VALUES ($1::uuid, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''))
		ON CONFLICT (id) DO UPDATE SET
			phase = EXCLUDED.phase,
			status = EXCLUDED.status,
			checkpoint = EXCLUDED.checkpoint,
			answer = EXCLUDED.answer,
			error = EXCLUDED.error,
			updated_at = NOW()
	`
	_, err = p.DB.Pool.Exec(ctx, query,
		cp.RunID, cp.State.InitialQuery, cp.Phase, StatusFor(cp.Phase), cpJSON, cp.State.Answer, cp.Error)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (p *Postgres) Fail(ctx context.Context, id string, reason string) error {
	tag, err := p.DB.Pool.Exec(ctx,
		"UPDATE research_runs SET phase = $2, status = $3, error = $4, updated_at = NOW() WHERE id = $1::uuid",
		id, research.PhaseFailed, StatusFailed, reason)
	if err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (*RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM research_runs WHERE id = $1::uuid`
	rec, err := scanRun(p.DB.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return rec, nil
}

func (p *Postgres) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + runColumns + ` FROM research_runs ORDER BY created_at DESC LIMIT $1`
	return p.listRuns(ctx, query, limit)
}

func (p *Postgres) ListByStatus(ctx context.Context, status Status) ([]RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM research_runs WHERE status = $1 ORDER BY created_at ASC`
	return p.listRuns(ctx, query, status)
}

func (p *Postgres) listRuns(ctx context.Context, query string, args ...any) ([]RunRecord, error) {
	rows, err := p.DB.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

func (p *Postgres) AppendLog(ctx context.Context, entry LogEntry) error {
	metadata := entry.Metadata
	if metadata == nil {
		metadata = json.RawMessage("{}")
	}
	query := `
		INSERT INTO research_logs (run_id, timestamp, level, message, metadata)
		VALUES ($1::uuid, $2, $3, $4, $5)
	`
	_, err := p.DB.Pool.Exec(ctx, query, entry.RunID, entry.Timestamp, entry.Level, entry.Message, []byte(metadata))
	return err
}

func (p *Postgres) Logs(ctx context.Context, runID string) ([]LogEntry, error) {
	query := `
		SELECT id, run_id::text, timestamp, level, message, metadata
		FROM research_logs
		WHERE run_id = $1::uuid
		ORDER BY id ASC
	`
	rows, err := p.DB.Pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var l LogEntry
		var metadata []byte
		if err := rows.Scan(&l.ID, &l.RunID, &l.Timestamp, &l.Level, &l.Message, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		l.Metadata = metadata
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func scanRun(row pgx.Row) (*RunRecord, error) {
	var rec RunRecord
	var cpJSON []byte
	if err := row.Scan(&rec.ID, &rec.InitialQuery, &rec.Phase, &rec.Status, &cpJSON,
		&rec.Answer, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if len(cpJSON) > 0 {
		var cp research.Checkpoint
		if err := json.Unmarshal(cpJSON, &cp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
		}
		rec.Checkpoint = &cp
	}
	return &rec, nil
}
