package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"github.com/logmet/logmet-go/server/internal/config"
)

// Header names carrying search API credentials.
const (
	HeaderToken   = "X-Auth-Token"
	HeaderProject = "X-Auth-Project-Id"
)

// ErrUnauthorized is returned for an unknown tenant or a wrong token.
var ErrUnauthorized = errors.New("auth: unauthorized")

// Identity is an authenticated tenant.
type Identity struct {
	TenantID    string
	SuperTenant bool
}

type credential struct {
	token       string
	superTenant bool
}

// Verifier checks tenant credentials. Tokens are resolved from the
// environment once, at construction.
type Verifier struct {
	tenants map[string]credential
}

// NewVerifier builds a Verifier for the configured tenants. Tenants whose
// token variable is unset can never log in.
func NewVerifier(tenants []config.Tenant) *Verifier {
	v := &Verifier{tenants: make(map[string]credential, len(tenants))}
	for _, t := range tenants {
		tok := t.Token()
		if tok == "" {
			slog.Warn("auth: tenant token not set, tenant disabled", "tenant_id", t.ID, "token_env", t.TokenEnv)
			continue
		}
		v.tenants[t.ID] = credential{token: tok, superTenant: t.SuperTenant}
	}
	return v
}

// Verify checks an Authentication frame. superTenant reports whether the
// client logged in with the supertenant frame kind, which only a
// supertenant may use.
func (v *Verifier) Verify(tenantID, token string, superTenant bool) (Identity, error) {
	cred, ok := v.tenants[tenantID]
	if !ok {
		return Identity{}, ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(cred.token), []byte(token)) != 1 {
		return Identity{}, ErrUnauthorized
	}
	if superTenant && !cred.superTenant {
		return Identity{}, ErrUnauthorized
	}
	return Identity{TenantID: tenantID, SuperTenant: cred.superTenant}, nil
}

type identityKey struct{}

// IdentityFrom returns the identity stored by Middleware.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Middleware rejects requests whose X-Auth-Token and X-Auth-Project-Id do
// not name a configured tenant, and stores the Identity in the request
// context otherwise.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := v.Verify(r.Header.Get(HeaderProject), r.Header.Get(HeaderToken), false)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}
