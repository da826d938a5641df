// Package auth resolves bearer tokens to principals with scopes and optional
// workspace bounds.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"slices"
	"strings"
)

// Scopes understood by the work queue API.
const (
	ScopeAll       = "*"
	ScopeItemsRead = "items:ro"
	ScopeItemsRW   = "items:rw"
	ScopeEventsRO  = "events:ro"
)

// implied lists the scopes each scope also grants.
var implied = map[string][]string{
	ScopeItemsRW:   {ScopeItemsRead, ScopeEventsRO},
	ScopeItemsRead: {ScopeEventsRO},
}

var (
	ErrMissingHeader   = errors.New("missing Authorization header")
	ErrMalformedHeader = errors.New("invalid Authorization header format")
	ErrEmptyToken      = errors.New("missing API key")
)

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token      string
	Scopes     []string
	Workspaces []string
}

type Principal struct {
	Admin  bool
	scopes map[string]bool
	// Workspaces is nil for tokens valid in every workspace.
	Workspaces []string
}

// Allows reports whether p holds any of scopes. No scopes means any
// authenticated principal.
func (p Principal) Allows(scopes ...string) bool {
	if p.Admin || p.scopes[ScopeAll] || len(scopes) == 0 {
		return true
	}
	return slices.ContainsFunc(scopes, func(s string) bool { return p.scopes[s] })
}

// CanAccess reports whether p may touch workspace.
func (p Principal) CanAccess(workspace string) bool {
	return p.Workspaces == nil || slices.Contains(p.Workspaces, workspace)
}

type keyEntry struct {
	token []byte
	p     Principal
}

// Keyring authenticates presented tokens. Build it once at startup.
type Keyring struct {
	entries []keyEntry
}

// NewKeyring builds a keyring from the admin key (full access, may be empty)
// and the scoped tokens.
func NewKeyring(adminKey string, tokens []TokenConfig) *Keyring {
	k := &Keyring{}
	if adminKey != "" {
		k.entries = append(k.entries, keyEntry{token: []byte(adminKey), p: Principal{Admin: true}})
	}
	for _, t := range tokens {
		if t.Token == "" {
			continue
		}
		p := Principal{scopes: expandScopes(t.Scopes)}
		if len(t.Workspaces) > 0 {
			p.Workspaces = slices.Clone(t.Workspaces)
		}
		k.entries = append(k.entries, keyEntry{token: []byte(t.Token), p: p})
	}
	return k
}

// Authenticate returns the principal for presented. Every entry is compared
// so timing does not reveal which one matched.
func (k *Keyring) Authenticate(presented string) (Principal, bool) {
	if presented == "" {
		return Principal{}, false
	}
	var (
		found Principal
		ok    bool
	)
	for _, e := range k.entries {
		if subtle.ConstantTimeCompare(e.token, []byte(presented)) == 1 && !ok {
			found, ok = e.p, true
		}
	}
	return found, ok
}

func expandScopes(scopes []string) map[string]bool {
	out := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out[s] = true
		for _, extra := range implied[s] {
			out[extra] = true
		}
	}
	return out
}

// BearerToken extracts the token from an "Authorization: Bearer" header. The
// scheme is matched case-insensitively.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingHeader
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMalformedHeader
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
