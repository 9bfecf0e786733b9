// Package auth identifies API callers for routes that need a signed-in user.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/ownerexit/ownerexit-cli/internal/apperr"
)

// Principal is an authenticated caller.
type Principal struct {
	Subject string
	Method  string
}

// Authenticator resolves the caller of r.
type Authenticator interface {
	Authenticate(r *http.Request) (*Principal, error)
}

type credential struct {
	token   []byte
	subject string
}

// TokenAuthenticator accepts static bearer tokens or API keys from config.
type TokenAuthenticator struct {
	creds []credential
}

// NewTokenAuthenticator builds an authenticator from a token -> subject map.
// Empty tokens are ignored.
func NewTokenAuthenticator(tokens map[string]string) *TokenAuthenticator {
	a := &TokenAuthenticator{}
	for tok, subj := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if subj == "" {
			subj = "api-key"
		}
		a.creds = append(a.creds, credential{token: []byte(tok), subject: subj})
	}
	return a
}

// Len returns the number of configured tokens.
func (a *TokenAuthenticator) Len() int { return len(a.creds) }

// Authenticate reads "Authorization: Bearer <token>" or "X-API-Key".
func (a *TokenAuthenticator) Authenticate(r *http.Request) (*Principal, error) {
	tok, method := credentialFrom(r)
	if tok == "" {
		return nil, apperr.Auth("")
	}
	// No early exit: every credential is compared.
	var match *credential
	for i := range a.creds {
		if subtle.ConstantTimeCompare(a.creds[i].token, []byte(tok)) == 1 {
			match = &a.creds[i]
		}
	}
	if match == nil {
		return nil, apperr.Auth("invalid credentials")
	}
	return &Principal{Subject: match.subject, Method: method}, nil
}

func credentialFrom(r *http.Request) (token, method string) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, rest, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(rest), "bearer"
		}
	}
	if k := strings.TrimSpace(r.Header.Get("X-API-Key")); k != "" {
		return k, "api_key"
	}
	return "", ""
}

type ctxKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// PrincipalFrom returns the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}
