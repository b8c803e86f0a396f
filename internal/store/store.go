// Package store persists merged metric batches between the ingestion and
// analysis loops.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kubemendstack/kubemend/internal/models"
	"github.com/kubemendstack/kubemend/internal/utils"
)

// Store provides batch persistence on SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database and runs migrations.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single-writer
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveBatch stores one merged batch and returns its id. The batch replaces
// nothing: history accumulates, analysis reads the newest batch.
func (s *Store) SaveBatch(samples []models.Sample) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT INTO batches (created_at) VALUES (?)`, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("insert batch: %w", err)
	}
	batchID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("batch id: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO samples (batch_id, ts, instance, container, metric, value) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, sample := range samples {
		ts := sample.Timestamp.UTC().Format(time.RFC3339)
		for metric, value := range sample.Values {
			if _, err := stmt.Exec(batchID, ts, sample.Instance, sample.Container, metric, value); err != nil {
				return 0, fmt.Errorf("insert sample: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return batchID, nil
}

// LatestBatch loads the most recently saved batch, ordered by ascending
// timestamp. Returns an empty slice when nothing has been ingested yet.
func (s *Store) LatestBatch() ([]models.Sample, error) {
	var batchID int64
	err := s.db.QueryRow(`SELECT id FROM batches ORDER BY id DESC LIMIT 1`).Scan(&batchID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest batch id: %w", err)
	}
	return s.loadBatch(batchID)
}

func (s *Store) loadBatch(batchID int64) ([]models.Sample, error) {
	rows, err := s.db.Query(
		`SELECT ts, instance, container, metric, value FROM samples WHERE batch_id = ? ORDER BY ts ASC`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("load batch: %w", err)
	}
	defer rows.Close()

	type rowKey struct {
		ts        string
		instance  string
		container string
	}
	byRow := make(map[rowKey]*models.Sample)
	order := make([]rowKey, 0)

	for rows.Next() {
		var (
			ts, instance, container, metric string
			value                           float64
		)
		if err := rows.Scan(&ts, &instance, &container, &metric, &value); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		key := rowKey{ts: ts, instance: instance, container: container}
		sample, ok := byRow[key]
		if !ok {
			parsed, err := utils.ParseRFC3339(ts)
			if err != nil {
				return nil, fmt.Errorf("parse sample timestamp: %w", err)
			}
			sample = &models.Sample{
				Timestamp: parsed,
				Instance:  instance,
				Container: container,
				Values:    make(map[string]float64),
			}
			byRow[key] = sample
			order = append(order, key)
		}
		sample.Values[metric] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}

	samples := make([]models.Sample, 0, len(order))
	for _, key := range order {
		samples = append(samples, *byRow[key])
	}
	models.SortSamples(samples)
	return samples, nil
}
