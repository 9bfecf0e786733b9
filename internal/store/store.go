// Package store persists captured leads and business sections.
package store

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/ownerexit/ownerexit-cli/internal/model"
)

// ErrNotFound is wrapped by lookups that match no row.
var ErrNotFound = eris.New("not found")

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

// Store is the persistence interface shared by the SQLite and Postgres backends.
type Store interface {
	// CreateLead inserts l, assigning ID and CreatedAt when empty.
	CreateLead(ctx context.Context, l *model.Lead) error
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)

	// UpsertSection replaces the document of kind for businessID, creating
	// the section on first write.
	UpsertSection(ctx context.Context, businessID string, kind model.SectionKind, data json.RawMessage) (*model.Section, error)
	GetSection(ctx context.Context, businessID string, kind model.SectionKind) (*model.Section, error)

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// LeadFilter narrows ListLeads. Zero values match everything.
type LeadFilter struct {
	Industry string
	Email    string
	Limit    int
	Offset   int
}

// DefaultListLimit caps ListLeads when no limit is given.
const DefaultListLimit = 50

func (f LeadFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

func validateSection(businessID string, kind model.SectionKind, data json.RawMessage) error {
	if strings.TrimSpace(businessID) == "" {
		return eris.New("store: business id is required")
	}
	if kind == "" {
		return eris.New("store: section kind is required")
	}
	if !json.Valid(data) {
		return eris.New("store: section data is not valid JSON")
	}
	return nil
}

func validateLead(l *model.Lead) error {
	if l == nil {
		return eris.New("store: nil lead")
	}
	if strings.TrimSpace(l.Email) == "" {
		return eris.New("store: lead email is required")
	}
	return nil
}

// jsonOrNull returns raw, or a JSON null when raw is empty.
func jsonOrNull(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
