// Package ledger records every docshot cycle and target result in SQLite so
// that history survives restarts and can be queried by the HTTP API and MCP
// tools. The ledger is a sink: the runner feeds it like any other output.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/docshot/docshot/outcome"
)

// ErrNotFound is returned when a cycle does not exist.
var ErrNotFound = errors.New("ledger: not found")

// Ledger wraps the ledger database.
type Ledger struct {
	DB    *sql.DB
	owned bool
}

// New creates a Ledger from an already-opened database and applies the schema.
func New(db *sql.DB) (*Ledger, error) {
	if err := ApplySchema(db); err != nil {
		return nil, fmt.Errorf("ledger: apply schema: %w", err)
	}
	return &Ledger{DB: db}, nil
}

// SendResult records a target result.
func (l *Ledger) SendResult(ctx context.Context, r outcome.TargetResult) error {
	var prev, diffPath string
	var diffPixels, totalPixels int
	if r.Diff != nil {
		prev = r.Diff.PreviousPath
		diffPath = r.Diff.DiffPath
		diffPixels = r.Diff.DiffPixels
		totalPixels = r.Diff.TotalPixels
	}
	_, err := exec(ctx, l.DB,
		`INSERT OR REPLACE INTO target_results (id, cycle_id, url, identifier, status,
		snapshot_path, previous_path, diff_path, diff_pixels, total_pixels,
		error_kind, error_message, duration_ms, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CycleID, r.URL, r.Identifier, string(r.Status),
		r.SnapshotPath, prev, diffPath, diffPixels, totalPixels,
		string(r.ErrorKind), r.Error, r.Duration.Milliseconds(), r.CheckedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("ledger: insert result: %w", err)
	}
	return nil
}

// SendCycle records a completed cycle.
func (l *Ledger) SendCycle(ctx context.Context, c outcome.Cycle) error {
	s := c.Summarize()
	_, err := exec(ctx, l.DB,
		`INSERT OR REPLACE INTO cycles (id, started_at, finished_at, targets,
		baseline, unchanged, changed, failed, skipped, aborted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.StartedAt.UnixMilli(), c.FinishedAt.UnixMilli(), s.Targets,
		s.Baseline, s.Unchanged, s.Changed, s.Failed, s.Skipped, c.Aborted,
	)
	if err != nil {
		return fmt.Errorf("ledger: insert cycle: %w", err)
	}
	return nil
}

// Close closes the database if the ledger opened it.
func (l *Ledger) Close() error {
	if l.owned {
		return l.DB.Close()
	}
	return nil
}

// CycleSummary is a cycles row.
type CycleSummary struct {
	ID         string          `json:"id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Aborted    bool            `json:"aborted"`
	Summary    outcome.Summary `json:"summary"`
}

// ListCycles returns the most recent cycles, newest first.
func (l *Ledger) ListCycles(ctx context.Context, limit int) ([]CycleSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.DB.QueryContext(ctx,
		`SELECT id, started_at, finished_at, targets, baseline, unchanged,
		changed, failed, skipped, aborted
		FROM cycles ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []CycleSummary
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

// GetCycle returns a cycle with all its target results.
func (l *Ledger) GetCycle(ctx context.Context, id string) (*outcome.Cycle, error) {
	row := l.DB.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, targets, baseline, unchanged,
		changed, failed, skipped, aborted
		FROM cycles WHERE id = ?`, id)
	cs, err := scanCycle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: cycle %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	results, err := l.queryResults(ctx,
		`WHERE cycle_id = ? ORDER BY checked_at ASC, rowid ASC`, id)
	if err != nil {
		return nil, err
	}
	return &outcome.Cycle{
		ID:         cs.ID,
		StartedAt:  cs.StartedAt,
		FinishedAt: cs.FinishedAt,
		Aborted:    cs.Aborted,
		Results:    results,
	}, nil
}

// History returns the results recorded for an identifier, newest first.
func (l *Ledger) History(ctx context.Context, identifier string, limit int) ([]outcome.TargetResult, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.queryResults(ctx,
		`WHERE identifier = ? ORDER BY checked_at DESC LIMIT ?`, identifier, limit)
}

// Cleanup deletes cycles and results older than days. Zero means no cleanup.
func (l *Ledger) Cleanup(ctx context.Context, days int) error {
	if days <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour).UnixMilli()
	if _, err := exec(ctx, l.DB, `DELETE FROM target_results WHERE checked_at < ?`, cutoff); err != nil {
		return fmt.Errorf("ledger: cleanup results: %w", err)
	}
	if _, err := exec(ctx, l.DB, `DELETE FROM cycles WHERE started_at < ?`, cutoff); err != nil {
		return fmt.Errorf("ledger: cleanup cycles: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCycle(s scanner) (*CycleSummary, error) {
	var c CycleSummary
	var started, finished int64
	var aborted bool
	if err := s.Scan(&c.ID, &started, &finished, &c.Summary.Targets,
		&c.Summary.Baseline, &c.Summary.Unchanged, &c.Summary.Changed,
		&c.Summary.Failed, &c.Summary.Skipped, &aborted); err != nil {
		return nil, err
	}
	c.StartedAt = time.UnixMilli(started).UTC()
	c.FinishedAt = time.UnixMilli(finished).UTC()
	c.Aborted = aborted
	return &c, nil
}

func (l *Ledger) queryResults(ctx context.Context, where string, args ...any) ([]outcome.TargetResult, error) {
	rows, err := l.DB.QueryContext(ctx,
		`SELECT id, cycle_id, url, identifier, status, snapshot_path,
		previous_path, diff_path, diff_pixels, total_pixels,
		error_kind, error_message, duration_ms, checked_at
		FROM target_results `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []outcome.TargetResult
	for rows.Next() {
		var r outcome.TargetResult
		var status, kind, prev, diffPath string
		var diffPixels, totalPixels int
		var durMs, checked int64
		if err := rows.Scan(&r.ID, &r.CycleID, &r.URL, &r.Identifier, &status,
			&r.SnapshotPath, &prev, &diffPath, &diffPixels, &totalPixels,
			&kind, &r.Error, &durMs, &checked); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Status = outcome.Status(status)
		r.ErrorKind = outcome.ErrorKind(kind)
		r.Duration = time.Duration(durMs) * time.Millisecond
		r.CheckedAt = time.UnixMilli(checked).UTC()
		if diffPath != "" {
			r.Diff = &outcome.Diff{
				Identifier:   r.Identifier,
				URL:          r.URL,
				DiffPath:     diffPath,
				DiffPixels:   diffPixels,
				TotalPixels:  totalPixels,
				PreviousPath: prev,
				NewPath:      r.SnapshotPath,
			}
		}
		result = append(result, r)
	}
	return result, rows.Err()
}
