// Package auth resolves staff bearer tokens into staff identities. Tokens are
// issued out of band through the tenant registry; there is no self-service
// signup surface.
package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Babel-Snake/vinagent-backend-sub000/internal/config"
	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

var (
	ErrMissingBearer = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid token")
)

// Authenticator resolves a request to the staff member behind it.
type Authenticator interface {
	Authenticate(r *http.Request) (types.Staff, error)
}

// RegistryAuthenticator matches bearer tokens against the staff entries loaded
// from the tenant registry.
type RegistryAuthenticator struct {
	byToken map[string]types.Staff
}

func NewRegistryAuthenticator(reg config.Registry) *RegistryAuthenticator {
	a := &RegistryAuthenticator{byToken: make(map[string]types.Staff)}
	for _, s := range reg.Staff {
		if s.Token == "" {
			continue
		}
		a.byToken[s.Token] = types.Staff{
			ID:       s.ID,
			TenantID: s.TenantID,
			Name:     s.Name,
			Role:     s.Role,
		}
	}
	return a
}

func (a *RegistryAuthenticator) Authenticate(r *http.Request) (types.Staff, error) {
	bearer, err := extractBearer(r)
	if err != nil {
		return types.Staff{}, err
	}
	staff, ok := a.byToken[bearer]
	if !ok {
		return types.Staff{}, ErrInvalidToken
	}
	return staff, nil
}

func extractBearer(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", ErrMissingBearer
	}
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", ErrInvalidToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	if token == "" {
		return "", ErrInvalidToken
	}
	return token, nil
}
