package reviewserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/joelkehle/patent-review/internal/patentreview"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS reviews (
	token       TEXT PRIMARY KEY,
	mode        TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL,
	result_json TEXT NOT NULL,
	report_json TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS reviews_created_idx ON reviews (created_at);
`

// ReviewRecord is one completed review as persisted. ResultJSON holds the
// merged structured result; ReportJSON the projected report fields (empty
// for flows that do not produce a report).
type ReviewRecord struct {
	Token      string    `db:"token"`
	Mode       string    `db:"mode"`
	Title      string    `db:"title"`
	CreatedAt  time.Time `db:"created_at"`
	ResultJSON string    `db:"result_json"`
	ReportJSON string    `db:"report_json"`
}

func (r *ReviewRecord) ReportFields() (patentreview.ReportFields, error) {
	var fields patentreview.ReportFields
	if r.ReportJSON == "" {
		return fields, errors.New("review has no report")
	}
	if err := json.Unmarshal([]byte(r.ReportJSON), &fields); err != nil {
		return fields, fmt.Errorf("decode stored report: %w", err)
	}
	return fields, nil
}

// Store persists completed reviews to SQLite so reports can be fetched
// and re-rendered after the session is gone.
type Store struct {
	db *sqlx.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open review store: %w", err)
	}
	// modernc sqlite serializes writes itself; a single connection avoids
	// SQLITE_BUSY under concurrent sessions.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init review store schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Save(ctx context.Context, rec ReviewRecord) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO reviews (token, mode, title, created_at, result_json, report_json)
		VALUES (:token, :mode, :title, :created_at, :result_json, :report_json)`, rec)
	if err != nil {
		return fmt.Errorf("save review %s: %w", rec.Token, err)
	}
	return nil
}

// Get returns the stored review for token, or nil when none exists.
func (s *Store) Get(ctx context.Context, token string) (*ReviewRecord, error) {
	var rec ReviewRecord
	err := s.db.GetContext(ctx, &rec, `SELECT * FROM reviews WHERE token = ?`, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load review %s: %w", token, err)
	}
	return &rec, nil
}

// Recent returns up to limit reviews, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]ReviewRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []ReviewRecord
	err := s.db.SelectContext(ctx, &recs, `
		SELECT * FROM reviews ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	return recs, nil
}
