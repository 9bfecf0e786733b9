package model

import (
	"encoding/json"
	"time"
)

// SectionKind names a section of a business record.
type SectionKind string

// Known section kinds.
const (
	SectionNormalisation SectionKind = "normalisation"
	SectionPriceGuide    SectionKind = "price_guide"
)

// ParseSectionKind returns the known kind named s.
func ParseSectionKind(s string) (SectionKind, bool) {
	switch k := SectionKind(s); k {
	case SectionNormalisation, SectionPriceGuide:
		return k, true
	default:
		return "", false
	}
}

// Section is an opaque JSON document attached to a business, one per kind.
type Section struct {
	ID         string          `json:"id"`
	BusinessID string          `json:"businessId"`
	Kind       SectionKind     `json:"kind"`
	Data       json.RawMessage `json:"data"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}
