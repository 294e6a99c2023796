// Package sweeplog records the truncation diagnostics of MPS sweeps in a
// sqlite database, one row per SVD step.
package sweeplog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/gharib85/HamiltonianPy/mps"
)

const (
	tableTruncation = "truncation"
)

// An Event is one recorded SVD truncation step.
type Event struct {
	ID        int
	Site      int
	Kept      int
	Discarded float64
}

// A Logger records truncation events. It implements mps.Reporter.
type Logger struct {
	Path string

	db *sql.DB
}

var _ mps.Reporter = (*Logger)(nil)

// Open creates the database at dbPath, dropping any previous recording.
func Open(dbPath string) (*Logger, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", dbPath))
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if err := prepareDB(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "")
	}
	return &Logger{Path: dbPath, db: db}, nil
}

func (l *Logger) Close() error {
	return l.db.Close()
}

// Truncation records one SVD step.
func (l *Logger) Truncation(site, kept int, discarded float64) {
	if err := l.truncation(site, kept, discarded); err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
}

func (l *Logger) truncation(site, kept int, discarded float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`INSERT INTO %s (site, kept, discarded) VALUES (?, ?, ?)`, tableTruncation)
	if _, err := l.db.ExecContext(ctx, sqlStr, site, kept, discarded); err != nil {
		return errors.Wrap(err, fmt.Sprintf("%s %d %d %f", sqlStr, site, kept, discarded))
	}
	return nil
}

// Events returns all recorded events in insertion order.
func (l *Logger) Events() ([]Event, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`SELECT id, site, kept, discarded FROM %s ORDER BY id`, tableTruncation)
	rows, err := l.db.QueryContext(ctx, sqlStr)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Site, &e.Kept, &e.Discarded); err != nil {
			return nil, errors.Wrap(err, "")
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return events, nil
}

func prepareDB(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sqlStr := fmt.Sprintf(`DROP TABLE IF EXISTS %s`, tableTruncation)
	if _, err := db.ExecContext(ctx, sqlStr); err != nil {
		return errors.Wrap(err, "")
	}
	sqlStr = fmt.Sprintf(`CREATE TABLE %s (id INTEGER PRIMARY KEY AUTOINCREMENT, site INTEGER, kept INTEGER, discarded REAL) STRICT`, tableTruncation)
	if _, err := db.ExecContext(ctx, sqlStr); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
