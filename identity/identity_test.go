package identity

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajiwo/callquota/utils"
)

func TestClientAddress_Precedence(t *testing.T) {
	tests := []struct {
		name string
		md   Metadata
		want string
	}{
		{
			name: "forwarded-for wins",
			md:   Metadata{ForwardedFor: "203.0.113.7", RealIP: "10.0.0.1", CDNIP: "10.0.0.2"},
			want: "203.0.113.7",
		},
		{
			name: "first forwarded-for entry",
			md:   Metadata{ForwardedFor: "203.0.113.7, 10.0.0.9, 10.0.0.8"},
			want: "203.0.113.7",
		},
		{
			name: "forwarded-for entries are trimmed",
			md:   Metadata{ForwardedFor: "  203.0.113.7 , 10.0.0.9"},
			want: "203.0.113.7",
		},
		{
			name: "real-ip fallback",
			md:   Metadata{RealIP: "10.0.0.1", CDNIP: "10.0.0.2"},
			want: "10.0.0.1",
		},
		{
			name: "cdn fallback",
			md:   Metadata{CDNIP: "10.0.0.2"},
			want: "10.0.0.2",
		},
		{
			name: "loopback default",
			md:   Metadata{},
			want: "127.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClientAddress(tt.md))
		})
	}
}

func TestFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.9")
	r.Header.Set("X-Real-IP", "10.0.0.1")
	r.Header.Set("CF-Connecting-IP", "10.0.0.2")
	r.Header.Set("User-Agent", "Mozilla/5.0")
	r.Header.Set("Accept-Language", "es-AR")

	md := FromRequest(r)
	assert.Equal(t, "203.0.113.7, 10.0.0.9", md.ForwardedFor)
	assert.Equal(t, "10.0.0.1", md.RealIP)
	assert.Equal(t, "10.0.0.2", md.CDNIP)
	assert.Equal(t, "Mozilla/5.0", md.ClientSignature)
	assert.Equal(t, "es-AR", md.Locale)
}

type staticExemptions map[string]bool

func (s staticExemptions) IsExempt(address string) bool { return s[address] }

func TestResolver_Deterministic(t *testing.T) {
	resolver := NewResolver(nil)

	md := Metadata{ForwardedFor: "203.0.113.7", ClientSignature: "Mozilla/5.0", Locale: "en-US"}
	first := resolver.Resolve(md)
	second := resolver.Resolve(md)

	assert.Equal(t, first, second, "same metadata must resolve to the same identity")
	assert.NotEqual(t, Unlimited, first)
}

func TestResolver_SignatureSeparatesSharedAddress(t *testing.T) {
	resolver := NewResolver(nil)

	a := resolver.Resolve(Metadata{ForwardedFor: "203.0.113.7", ClientSignature: "Mozilla/5.0"})
	b := resolver.Resolve(Metadata{ForwardedFor: "203.0.113.7", ClientSignature: "curl/8.0"})

	assert.NotEqual(t, a, b, "visitors behind one gateway should get distinct identities")
}

func TestResolver_ExemptShortCircuit(t *testing.T) {
	resolver := NewResolver(staticExemptions{"203.0.113.7": true})

	got := resolver.Resolve(Metadata{ForwardedFor: "203.0.113.7", ClientSignature: "Mozilla/5.0"})
	assert.Equal(t, Unlimited, got)

	got = resolver.Resolve(Metadata{ForwardedFor: "198.51.100.1", ClientSignature: "Mozilla/5.0"})
	assert.NotEqual(t, Unlimited, got)
}

func TestResolver_MissingInputs(t *testing.T) {
	resolver := NewResolver(nil)

	// No failure mode: empty metadata still resolves
	got := resolver.Resolve(Metadata{})
	require.NotEmpty(t, got)
	assert.Equal(t, resolver.Resolve(Metadata{}), got)
}

func TestFingerprint_KeySafe(t *testing.T) {
	token := Fingerprint("203.0.113.7", "Mozilla/5.0 (X11; Linux x86_64)", "en-US,en;q=0.9")

	assert.Len(t, token, 43, "fingerprint is fixed-length")
	assert.NoError(t, utils.ValidateIdentity(token), "fingerprint must be a valid storage key segment")
}

func TestFingerprint_SeparatorPreventsAmbiguity(t *testing.T) {
	a := Fingerprint("10.0.0.1", "ab", "")
	b := Fingerprint("10.0.0.1a", "b", "")
	assert.NotEqual(t, a, b)
}
