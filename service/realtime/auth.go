package realtime

import (
	stderr "errors"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	errs "HabitLink/tools/errs"
	"HabitLink/tools/security"
)

// Authenticator validates the bearer credential presented at upgrade time
// and yields the user identity to bind. A failed authentication is terminal
// for that connection attempt; there are no retries.
type Authenticator struct {
	opts security.Options
}

func NewAuthenticator(secret []byte, ttl time.Duration) *Authenticator {
	opts := security.DefaultOptions(secret)
	opts.TTL = ttl
	return &Authenticator{opts: opts}
}

// Authenticate verifies signature and expiry and extracts the subject.
func (a *Authenticator) Authenticate(token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", errs.ErrAuthRejected.WithDetail("missing token")
	}
	claims, err := security.Verify(a.opts, token)
	if err != nil {
		if stderr.Is(err, jwtlib.ErrTokenExpired) {
			return "", errs.ErrTokenExpired.Wrap()
		}
		return "", errs.ErrAuthRejected.WithDetail(err.Error())
	}
	sub := claims.Subject()
	if sub == "" {
		return "", errs.ErrAuthRejected.WithDetail("token has no subject")
	}
	return sub, nil
}

// Mint issues a token for the given user. Dev/ops surface.
func (a *Authenticator) Mint(userID string) (token string, expireAt time.Time, err error) {
	return security.Generate(a.opts, userID, nil)
}

// BearerFromRequest extracts the credential from "Authorization: Bearer x"
// or, for browser websocket clients that cannot set headers, from the
// "token" query parameter.
func BearerFromRequest(r *http.Request) string {
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return strings.TrimSpace(authz[len("bearer "):])
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
