package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Credential binds a bearer token to the settlement address it acts as.
type Credential struct {
	Token   string
	Address common.Address
	Role    string
}

// AuthConfig configures bearer token authentication for the API.
type AuthConfig struct {
	Owner   Credential
	Admin   Credential
	Traders []Credential
}

// Principal describes an authenticated actor accessing the API.
type Principal struct {
	Address common.Address
	Role    string
}

type principalContextKey struct{}

// PrincipalFromContext extracts the authenticated principal from the request context.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	if ctx == nil {
		return nil, false
	}
	principal, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || principal == nil {
		return nil, false
	}
	return principal, true
}

// Authenticator verifies bearer tokens before requests reach handlers.
type Authenticator struct {
	credentials []Credential
}

// NewAuthenticator constructs an authenticator from configuration. At least
// one credential must carry a token.
func NewAuthenticator(cfg AuthConfig) (*Authenticator, error) {
	creds := make([]Credential, 0, len(cfg.Traders)+2)
	appendCred := func(cred Credential, role string) error {
		token := strings.TrimSpace(cred.Token)
		if token == "" {
			return nil
		}
		if cred.Address == (common.Address{}) {
			return fmt.Errorf("credential for role %q missing address", role)
		}
		creds = append(creds, Credential{Token: token, Address: cred.Address, Role: role})
		return nil
	}
	if err := appendCred(cfg.Owner, RoleOwner); err != nil {
		return nil, err
	}
	if err := appendCred(cfg.Admin, RoleAdmin); err != nil {
		return nil, err
	}
	for _, trader := range cfg.Traders {
		if err := appendCred(trader, RoleTrader); err != nil {
			return nil, err
		}
	}
	if len(creds) == 0 {
		return nil, fmt.Errorf("at least one bearer credential must be configured")
	}
	return &Authenticator{credentials: creds}, nil
}

// Roles the API distinguishes.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleTrader = "trader"
)

// Middleware enforces authentication for protected endpoints.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a == nil {
			http.Error(w, "authentication unavailable", http.StatusInternalServerError)
			return
		}
		principal, ok := a.authenticate(r)
		if !ok {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), principalContextKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) authenticate(r *http.Request) (*Principal, bool) {
	if a == nil || r == nil {
		return nil, false
	}
	token := parseBearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return nil, false
	}
	provided := []byte(token)
	for _, cred := range a.credentials {
		if subtle.ConstantTimeCompare(provided, []byte(cred.Token)) == 1 {
			return &Principal{Address: cred.Address, Role: cred.Role}, true
		}
	}
	return nil, false
}

func parseBearerToken(header string) string {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(strings.TrimSpace(parts[0]), "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
