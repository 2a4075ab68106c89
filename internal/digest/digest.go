// Package digest implements the RFC 2617 MD5 digest authentication the
// registrar challenges with, covering both the legacy (no qop) and the
// qop=auth response computations.
package digest

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// Challenge is a parsed WWW-Authenticate or Proxy-Authenticate header.
type Challenge struct {
	Realm     string
	Nonce     string
	Opaque    string
	Algorithm string
	QOP       string // "auth" when the server requires qop
	Proxy     bool   // true for Proxy-Authenticate (407)
}

// ParseChallenge parses the value of a WWW-Authenticate or
// Proxy-Authenticate header. Only the Digest scheme is accepted.
func ParseChallenge(value string, proxy bool) (*Challenge, error) {
	scheme, params, found := strings.Cut(strings.TrimSpace(value), " ")
	if !found || !strings.EqualFold(scheme, "Digest") {
		return nil, fmt.Errorf("unsupported auth scheme in %q", value)
	}

	ch := &Challenge{Proxy: proxy}
	for _, part := range splitParams(params) {
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.Trim(strings.TrimSpace(val), `"`)
		switch key {
		case "realm":
			ch.Realm = val
		case "nonce":
			ch.Nonce = val
		case "opaque":
			ch.Opaque = val
		case "algorithm":
			ch.Algorithm = val
		case "qop":
			// Value may list options; pick auth if present.
			for _, q := range strings.Split(val, ",") {
				if strings.TrimSpace(q) == "auth" {
					ch.QOP = "auth"
				}
			}
		}
	}

	if ch.Realm == "" || ch.Nonce == "" {
		return nil, fmt.Errorf("challenge missing realm or nonce: %q", value)
	}
	if ch.Algorithm != "" && !strings.EqualFold(ch.Algorithm, "MD5") {
		return nil, fmt.Errorf("unsupported digest algorithm %q", ch.Algorithm)
	}
	return ch, nil
}

// splitParams splits comma-separated auth params, respecting quoted strings.
func splitParams(s string) []string {
	var parts []string
	var cur strings.Builder
	inQuote := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case r == ',' && !inQuote:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

// Response computes the digest response value for the given credentials,
// method, and digest URI. nc and cnonce are only used when the challenge
// carries qop=auth.
func (ch *Challenge) Response(username, password, method, uri, cnonce string, nc uint32) string {
	ha1 := md5hex(username + ":" + ch.Realm + ":" + password)
	ha2 := md5hex(method + ":" + uri)
	if ch.QOP == "auth" {
		return md5hex(fmt.Sprintf("%s:%s:%08x:%s:auth:%s", ha1, ch.Nonce, nc, cnonce, ha2))
	}
	return md5hex(ha1 + ":" + ch.Nonce + ":" + ha2)
}

// HeaderName returns the request header the credentials belong in:
// Proxy-Authorization for a 407 challenge, Authorization otherwise.
func (ch *Challenge) HeaderName() string {
	if ch.Proxy {
		return "Proxy-Authorization"
	}
	return "Authorization"
}

// Authorization renders the full credentials header value.
func (ch *Challenge) Authorization(username, password, method, uri, cnonce string, nc uint32) string {
	response := ch.Response(username, password, method, uri, cnonce, nc)

	var b strings.Builder
	fmt.Fprintf(&b, `Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
		username, ch.Realm, ch.Nonce, uri, response)
	if ch.QOP == "auth" {
		fmt.Fprintf(&b, `, qop=auth, nc=%08x, cnonce="%s"`, nc, cnonce)
	}
	if ch.Opaque != "" {
		fmt.Fprintf(&b, `, opaque="%s"`, ch.Opaque)
	}
	b.WriteString(`, algorithm=MD5`)
	return b.String()
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
