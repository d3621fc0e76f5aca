// Portolan - Real-time Asset Tracking and Geographic Fan-out
// Copyright 2026 Portolan Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portolan-project/portolan

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver

	"github.com/portolan-project/portolan/internal/models"
)

// HistoryStore is the persistence collaborator for asset position history.
// Ingestion appends; nothing in the broadcast path reads it. The interface is
// deliberately narrow: create/upsert/query only.
type HistoryStore interface {
	CreateSchema(ctx context.Context) error
	Append(ctx context.Context, batch []models.PositionSample) error
	RecentPositions(ctx context.Context, kind models.AssetKind, since time.Time, limit int) ([]models.PositionSample, error)
	Close() error
}

// DuckDBHistory persists position history in an embedded DuckDB file.
type DuckDBHistory struct {
	db *sql.DB
}

// OpenDuckDB opens (or creates) the history database at path. Use ":memory:"
// for tests.
func OpenDuckDB(path string) (*DuckDBHistory, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb at %s: %w", path, err)
	}
	return &DuckDBHistory{db: db}, nil
}

// CreateSchema creates the positions table if it does not exist.
func (h *DuckDBHistory) CreateSchema(ctx context.Context) error {
	_, err := h.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS positions (
			kind      VARCHAR NOT NULL,
			object_id VARCHAR NOT NULL,
			lat       DOUBLE NOT NULL,
			lon       DOUBLE NOT NULL,
			altitude  DOUBLE,
			speed     DOUBLE,
			heading   DOUBLE,
			course    DOUBLE,
			ts        TIMESTAMP NOT NULL,
			source    VARCHAR,
			quality   DOUBLE
		)`)
	if err != nil {
		return fmt.Errorf("create positions schema: %w", err)
	}
	return nil
}

// Append inserts one batch of samples inside a single transaction.
func (h *DuckDBHistory) Append(ctx context.Context, batch []models.PositionSample) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO positions (kind, object_id, lat, lon, altitude, speed, heading, course, ts, source, quality)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare history insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range batch {
		s := &batch[i]
		if _, err := stmt.ExecContext(ctx,
			string(s.Kind), s.ID, s.Lat, s.Lon,
			s.Altitude, s.Speed, s.Heading, s.Course,
			s.Timestamp, s.Source, s.Quality,
		); err != nil {
			return fmt.Errorf("insert position %s: %w", s.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history tx: %w", err)
	}
	return nil
}

// RecentPositions queries history for a kind since a timestamp, newest first.
func (h *DuckDBHistory) RecentPositions(ctx context.Context, kind models.AssetKind, since time.Time, limit int) ([]models.PositionSample, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT kind, object_id, lat, lon, altitude, speed, heading, course, ts, source, quality
		FROM positions
		WHERE kind = ? AND ts >= ?
		ORDER BY ts DESC
		LIMIT ?`, string(kind), since, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent positions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.PositionSample
	for rows.Next() {
		var s models.PositionSample
		var kindStr string
		var source sql.NullString
		if err := rows.Scan(&kindStr, &s.ID, &s.Lat, &s.Lon,
			&s.Altitude, &s.Speed, &s.Heading, &s.Course,
			&s.Timestamp, &source, &s.Quality); err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		s.Kind = models.AssetKind(kindStr)
		s.Source = source.String
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (h *DuckDBHistory) Close() error {
	return h.db.Close()
}

// NopHistory satisfies HistoryStore when persistence is disabled.
type NopHistory struct{}

func (NopHistory) CreateSchema(context.Context) error                  { return nil }
func (NopHistory) Append(context.Context, []models.PositionSample) error { return nil }
func (NopHistory) RecentPositions(context.Context, models.AssetKind, time.Time, int) ([]models.PositionSample, error) {
	return nil, nil
}
func (NopHistory) Close() error { return nil }
