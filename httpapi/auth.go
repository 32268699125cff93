package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
)

// AdminSecretHeader carries the shared administrative secret.
const AdminSecretHeader = "X-Admin-Secret"

var (
	// ErrUnauthorized is returned for administrative calls without a valid
	// credential. No registry mutation occurs.
	ErrUnauthorized = errors.New("invalid administrative credential")

	// ErrNoAdminSecret is returned when no server-side secret is configured.
	// Every administrative call fails closed rather than defaulting open.
	ErrNoAdminSecret = errors.New("administrative secret not configured")
)

// authorize checks the administrative credential. The comparison is
// constant-time so the secret can't be probed byte by byte.
func (h *Handler) authorize(r *http.Request) error {
	if h.secret == "" {
		return ErrNoAdminSecret
	}
	given := r.Header.Get(AdminSecretHeader)
	if subtle.ConstantTimeCompare([]byte(given), []byte(h.secret)) != 1 {
		return ErrUnauthorized
	}
	return nil
}
