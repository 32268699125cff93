// Package identity derives stable pseudo-identities for anonymous callers
// from request metadata.
//
// This is best-effort fingerprinting, not authentication: visitors behind one
// gateway are told apart by client signature and locale, and a visitor who
// changes any attribute resolves to a new identity. The guarantees are only
// that the same attributes always resolve to the same identity and that
// distinct attribute bundles collide no more often than the hash does.
package identity

import (
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
)

// Unlimited is the sentinel identity returned for callers whose address is on
// the exemption list. It is never hashed and never has consumption recorded
// against it.
const Unlimited = "unlimited"

// DefaultAddress is assumed when no address header is present.
const DefaultAddress = "127.0.0.1"

// Metadata is the bundle of connection attributes an identity derives from.
// All fields are optional; missing values fall back to defaults.
type Metadata struct {
	ForwardedFor    string // proxy-chain header, first entry wins
	RealIP          string // reverse-proxy-supplied address
	CDNIP           string // CDN-supplied address
	ClientSignature string // user-agent-like string
	Locale          string // locale preference
}

// FromRequest extracts resolution metadata from request headers. The resolver
// consumes exactly these attributes and nothing else.
func FromRequest(r *http.Request) Metadata {
	return Metadata{
		ForwardedFor:    r.Header.Get("X-Forwarded-For"),
		RealIP:          r.Header.Get("X-Real-IP"),
		CDNIP:           r.Header.Get("CF-Connecting-IP"),
		ClientSignature: r.Header.Get("User-Agent"),
		Locale:          r.Header.Get("Accept-Language"),
	}
}

// ClientAddress extracts the best-available source address using a fixed
// precedence order: first proxy-chain entry, then the real-IP header, then
// the CDN header, defaulting to loopback.
func ClientAddress(md Metadata) string {
	if md.ForwardedFor != "" {
		first, _, _ := strings.Cut(md.ForwardedFor, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if md.RealIP != "" {
		return md.RealIP
	}
	if md.CDNIP != "" {
		return md.CDNIP
	}
	return DefaultAddress
}

// ExemptionChecker reports whether an address bypasses quota enforcement.
type ExemptionChecker interface {
	IsExempt(address string) bool
}

// Resolver derives identities, short-circuiting exempt addresses to the
// Unlimited sentinel. A nil exemptions checker resolves every caller to a
// fingerprint.
type Resolver struct {
	exemptions ExemptionChecker
}

// NewResolver creates a resolver consulting the given exemption checker.
func NewResolver(exemptions ExemptionChecker) *Resolver {
	return &Resolver{exemptions: exemptions}
}

// Resolve derives the identity for the given metadata. It never fails and has
// no side effects: the same metadata always resolves to the same identity.
func (r *Resolver) Resolve(md Metadata) string {
	address := ClientAddress(md)

	if r.exemptions != nil && r.exemptions.IsExempt(address) {
		return Unlimited
	}

	return Fingerprint(address, md.ClientSignature, md.Locale)
}

// Fingerprint encodes address, client signature and locale into a fixed-length
// opaque token. Hashing keeps the raw address and signature out of storage
// keys and yields a constant 43-byte key-safe string.
func Fingerprint(address, signature, locale string) string {
	sum := sha256.Sum256([]byte(address + "|" + signature + "|" + locale))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
