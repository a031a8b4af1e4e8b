//go:generate go run go.uber.org/mock/mockgen -source=identity.go -destination=mocks/mock_identity.go -package=mocks

// Package identity resolves who a connecting client is and records whether
// users are online. Credential issuance is out of scope: tokens are minted
// elsewhere and only verified here.
package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthenticated is returned for missing, malformed, expired or
// otherwise unacceptable credentials.
var ErrUnauthenticated = errors.New("identity: unauthenticated")

// Authenticator maps an opaque bearer token to a user id.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (userID string, err error)
}

// Directory is the external user directory. The gateway only writes the
// online flag and last-seen time.
type Directory interface {
	SetOnline(ctx context.Context, userID string, online bool) error
}

// BearerToken extracts the credential from an upgrade or HTTP request: the
// Authorization header first, then the token query parameter.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
