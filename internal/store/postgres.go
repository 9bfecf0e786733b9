package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/ownerexit/ownerexit-cli/internal/db"
	"github.com/ownerexit/ownerexit-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	sqlInsertLead = `INSERT INTO leads (id, email, name, business_name, phone, industry, state, inputs, result, price_mid, confidence, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	sqlGetLead    = `SELECT id, email, name, business_name, phone, industry, state, inputs, result, price_mid, confidence, created_at FROM leads WHERE id = $1`
	sqlGetSection = `SELECT id, business_id, kind, data, updated_at FROM sections WHERE business_id = $1 AND kind = $2`
)

// sqlUpsertSection keeps one row per (business_id, kind).
var sqlUpsertSection = mustUpsertSQL(db.UpsertConfig{
	Table:        "sections",
	Columns:      []string{"id", "business_id", "kind", "data", "updated_at"},
	ConflictKeys: []string{"business_id", "kind"},
	UpdateCols:   []string{"data", "updated_at"},
	Returning:    []string{"id"},
})

func mustUpsertSQL(cfg db.UpsertConfig) string {
	q, err := db.UpsertSQL(cfg)
	if err != nil {
		panic(err)
	}
	return q
}

// preparedStatements are prepared on each new connection.
var preparedStatements = map[string]string{
	"insert_lead":    sqlInsertLead,
	"get_lead":       sqlGetLead,
	"upsert_section": sqlUpsertSection,
	"get_section":    sqlGetSection,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	email         TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	business_name TEXT NOT NULL DEFAULT '',
	phone         TEXT NOT NULL DEFAULT '',
	industry      TEXT NOT NULL,
	state         TEXT NOT NULL DEFAULT '',
	inputs        JSONB NOT NULL,
	result        JSONB NOT NULL,
	price_mid     DOUBLE PRECISION NOT NULL DEFAULT 0,
	confidence    TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sections (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	business_id TEXT NOT NULL,
	kind        TEXT NOT NULL,
	data        JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (business_id, kind)
);

CREATE INDEX IF NOT EXISTS idx_leads_email ON leads(email);
CREATE INDEX IF NOT EXISTS idx_leads_industry ON leads(industry);
CREATE INDEX IF NOT EXISTS idx_leads_created_at ON leads(created_at DESC);
`

// Ping checks the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// CreateLead inserts l and sets its ID and CreatedAt.
func (s *PostgresStore) CreateLead(ctx context.Context, l *model.Lead) error {
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

	_, err := s.pool.Exec(ctx, sqlInsertLead,
		l.ID, l.Email, l.Name, l.BusinessName, l.Phone, l.Industry, l.State,
		jsonOrNull(l.Inputs), jsonOrNull(l.Result), l.PriceMid, l.Confidence, l.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert lead")
}

// GetLead returns the lead with id, or a wrapped ErrNotFound.
func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	l, err := scanPgLead(s.pool.QueryRow(ctx, sqlGetLead, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: lead %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get lead %s", id)
	}
	return l, nil
}

// ListLeads returns leads matching filter, newest first.
func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	query := `SELECT id, email, name, business_name, phone, industry, state, inputs, result, price_mid, confidence, created_at FROM leads WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Industry != "" {
		query += fmt.Sprintf(" AND industry = $%d", argIdx)
		args = append(args, filter.Industry)
		argIdx++
	}
	if filter.Email != "" {
		query += fmt.Sprintf(" AND email = $%d", argIdx)
		args = append(args, model.NormaliseEmail(filter.Email))
		argIdx++
	}

	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.limit())
	argIdx++
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		l, err := scanPgLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, *l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

// UpsertSection replaces the kind section of businessID, keeping its ID.
func (s *PostgresStore) UpsertSection(ctx context.Context, businessID string, kind model.SectionKind, data json.RawMessage) (*model.Section, error) {
	if err := validateSection(businessID, kind, data); err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	var id string
	err := s.pool.QueryRow(ctx, sqlUpsertSection,
		uuid.New().String(), businessID, string(kind), []byte(data), now,
	).Scan(&id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert section %s/%s", businessID, kind)
	}
	return &model.Section{ID: id, BusinessID: businessID, Kind: kind, Data: data, UpdatedAt: now}, nil
}

// GetSection returns the kind section of businessID, or a wrapped ErrNotFound.
func (s *PostgresStore) GetSection(ctx context.Context, businessID string, kind model.SectionKind) (*model.Section, error) {
	var sec model.Section
	var k string
	var data []byte
	err := s.pool.QueryRow(ctx, sqlGetSection, businessID, string(kind)).
		Scan(&sec.ID, &sec.BusinessID, &k, &data, &sec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: section %s/%s", businessID, kind)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get section %s/%s", businessID, kind)
	}
	sec.Kind = model.SectionKind(k)
	sec.Data = json.RawMessage(data)
	return &sec, nil
}

func scanPgLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var inputs, result []byte
	if err := row.Scan(&l.ID, &l.Email, &l.Name, &l.BusinessName, &l.Phone, &l.Industry, &l.State,
		&inputs, &result, &l.PriceMid, &l.Confidence, &l.CreatedAt); err != nil {
		return nil, err
	}
	l.Inputs = json.RawMessage(inputs)
	l.Result = json.RawMessage(result)
	return &l, nil
}
