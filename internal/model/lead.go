// Package model defines the records persisted by the store.
package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Lead is a price-guide request captured with the owner's contact details.
type Lead struct {
	ID           string          `json:"id"`
	Email        string          `json:"email"`
	Name         string          `json:"name,omitempty"`
	BusinessName string          `json:"businessName,omitempty"`
	Phone        string          `json:"phone,omitempty"`
	Industry     string          `json:"industry"`
	State        string          `json:"state,omitempty"`
	Inputs       json.RawMessage `json:"inputs"`
	Result       json.RawMessage `json:"result"`
	PriceMid     float64         `json:"priceMid"`
	Confidence   string          `json:"confidence"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// NormaliseEmail lower-cases and trims an email address for storage and lookup.
func NormaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Contact is the optional lead-capture block on a price-guide request.
type Contact struct {
	Email        string `json:"email,omitempty"`
	Name         string `json:"name,omitempty"`
	BusinessName string `json:"businessName,omitempty"`
	Phone        string `json:"phone,omitempty"`
}

// HasEmail reports whether the contact carries an address to store against.
func (c Contact) HasEmail() bool {
	return strings.TrimSpace(c.Email) != ""
}
