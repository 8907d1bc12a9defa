// Package history keeps sweep reports in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"stackshield-go/types"
)

// Entry is one stored sweep.
type Entry struct {
	ID     int64
	Report types.SweepReport
}

// Store implements sweep history on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the database at path; ":memory:" works for tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sweeps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tss INTEGER NOT NULL,
		policy TEXT NOT NULL,
		started_ms INTEGER NOT NULL,
		finished_ms INTEGER NOT NULL,
		passed INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		ok INTEGER NOT NULL,
		data JSON NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pair_failures (
		sweep_id INTEGER NOT NULL,
		target INTEGER NOT NULL,
		channel INTEGER NOT NULL,
		step TEXT NOT NULL,
		error TEXT NOT NULL,
		FOREIGN KEY (sweep_id) REFERENCES sweeps(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_sweeps_tss ON sweeps(tss, started_ms);
	CREATE INDEX IF NOT EXISTS idx_pair_failures_pair ON pair_failures(target, channel);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save stores rep and its failing pairs in one transaction.
func (s *Store) Save(ctx context.Context, rep types.SweepReport) (int64, error) {
	data, err := json.Marshal(rep)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal report: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO sweeps (tss, policy, started_ms, finished_ms, passed, failed, ok, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.Position, rep.Policy, rep.StartedMs, rep.FinishedMs, rep.Passed, rep.Failed, rep.OK(), data)
	if err != nil {
		return 0, fmt.Errorf("failed to insert sweep: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for _, p := range rep.Pairs {
		for _, f := range p.Failures {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO pair_failures (sweep_id, target, channel, step, error)
				VALUES (?, ?, ?, ?, ?)`, id, p.Target, p.Channel, f.Step, f.Error); err != nil {
				return 0, fmt.Errorf("failed to insert failure: %w", err)
			}
		}
	}
	return id, tx.Commit()
}

// Recent returns up to limit sweeps, newest first. tss < 0 means every position.
func (s *Store) Recent(ctx context.Context, tss, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, data FROM sweeps
		WHERE ? < 0 OR tss = ?
		ORDER BY started_ms DESC, id DESC
		LIMIT ?`, tss, tss, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sweeps: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e    Entry
			data []byte
		)
		if err := rows.Scan(&e.ID, &data); err != nil {
			return nil, fmt.Errorf("failed to scan sweep: %w", err)
		}
		if err := json.Unmarshal(data, &e.Report); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sweep: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PairStat counts failures of one (target, channel) pair.
type PairStat struct {
	Target, Channel, Failures int
}

// FailureCounts ranks pairs by how often they failed at position tss.
func (s *Store) FailureCounts(ctx context.Context, tss int) ([]PairStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.target, f.channel, COUNT(*) AS n
		FROM pair_failures f JOIN sweeps s ON s.id = f.sweep_id
		WHERE s.tss = ?
		GROUP BY f.target, f.channel
		ORDER BY n DESC, f.target, f.channel`, tss)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures: %w", err)
	}
	defer rows.Close()

	var out []PairStat
	for rows.Next() {
		var p PairStat
		if err := rows.Scan(&p.Target, &p.Channel, &p.Failures); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
