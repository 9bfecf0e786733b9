package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/ownerexit/ownerexit-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	business_name TEXT NOT NULL DEFAULT '',
	phone         TEXT NOT NULL DEFAULT '',
	industry      TEXT NOT NULL,
	state         TEXT NOT NULL DEFAULT '',
	inputs        TEXT NOT NULL,
	result        TEXT NOT NULL,
	price_mid     REAL NOT NULL DEFAULT 0,
	confidence    TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS sections (
	id          TEXT PRIMARY KEY,
	business_id TEXT NOT NULL,
	kind        TEXT NOT NULL,
	data        TEXT NOT NULL,
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (business_id, kind)
);

CREATE INDEX IF NOT EXISTS idx_leads_email ON leads(email);
CREATE INDEX IF NOT EXISTS idx_leads_industry ON leads(industry);
CREATE INDEX IF NOT EXISTS idx_leads_created_at ON leads(created_at);
`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateLead inserts l and sets its ID and CreatedAt.
func (s *SQLiteStore) CreateLead(ctx context.Context, l *model.Lead) error {
	if err := validateLead(l); err != nil {
		return err
	}
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	l.Email = model.NormaliseEmail(l.Email)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (id, email, name, business_name, phone, industry, state, inputs, result, price_mid, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Email, l.Name, l.BusinessName, l.Phone, l.Industry, l.State,
		string(jsonOrNull(l.Inputs)), string(jsonOrNull(l.Result)), l.PriceMid, l.Confidence, l.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert lead")
}

const sqliteLeadColumns = `id, email, name, business_name, phone, industry, state, inputs, result, price_mid, confidence, created_at`

// GetLead returns the lead with id, or a wrapped ErrNotFound.
func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteLeadColumns+` FROM leads WHERE id = ?`, id)
	l, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: lead %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead %s", id)
	}
	return l, nil
}

// ListLeads returns leads matching filter, newest first.
func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + sqliteLeadColumns + ` FROM leads WHERE 1=1`
	var args []any
	if filter.Industry != "" {
		query += ` AND industry = ?`
		args = append(args, filter.Industry)
	}
	if filter.Email != "" {
		query += ` AND email = ?`
		args = append(args, model.NormaliseEmail(filter.Email))
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, filter.limit(), max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

// UpsertSection replaces the kind section of businessID, keeping its ID.
func (s *SQLiteStore) UpsertSection(ctx context.Context, businessID string, kind model.SectionKind, data json.RawMessage) (*model.Section, error) {
	if err := validateSection(businessID, kind, data); err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	var id string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO sections (id, business_id, kind, data, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (business_id, kind) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
		 RETURNING id`,
		uuid.New().String(), businessID, string(kind), string(data), now,
	).Scan(&id)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert section %s/%s", businessID, kind)
	}
	return &model.Section{ID: id, BusinessID: businessID, Kind: kind, Data: data, UpdatedAt: now}, nil
}

// GetSection returns the kind section of businessID, or a wrapped ErrNotFound.
func (s *SQLiteStore) GetSection(ctx context.Context, businessID string, kind model.SectionKind) (*model.Section, error) {
	var sec model.Section
	var data, k string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, business_id, kind, data, updated_at FROM sections WHERE business_id = ? AND kind = ?`,
		businessID, string(kind),
	).Scan(&sec.ID, &sec.BusinessID, &k, &data, &sec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: section %s/%s", businessID, kind)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get section %s/%s", businessID, kind)
	}
	sec.Kind = model.SectionKind(k)
	sec.Data = json.RawMessage(data)
	return &sec, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var inputs, result string
	if err := row.Scan(&l.ID, &l.Email, &l.Name, &l.BusinessName, &l.Phone, &l.Industry, &l.State,
		&inputs, &result, &l.PriceMid, &l.Confidence, &l.CreatedAt); err != nil {
		return nil, err
	}
	l.Inputs = json.RawMessage(inputs)
	l.Result = json.RawMessage(result)
	return &l, nil
}
