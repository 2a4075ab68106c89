package digest

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"testing"
)

func md5sum(s string) string {
	h := md5.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

func TestParseChallenge(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		proxy   bool
		wantErr bool
		check   func(t *testing.T, ch *Challenge)
	}{
		{
			name:   "quoted values without qop",
			header: `Digest realm="fritz.box", nonce="7EB5A2C4F9D31E08"`,
			check: func(t *testing.T, ch *Challenge) {
				if ch.Realm != "fritz.box" {
					t.Errorf("Realm = %q, want fritz.box", ch.Realm)
				}
				if ch.Nonce != "7EB5A2C4F9D31E08" {
					t.Errorf("Nonce = %q", ch.Nonce)
				}
				if ch.QOP != "" {
					t.Errorf("QOP = %q, want empty", ch.QOP)
				}
			},
		},
		{
			name:   "qop list picks auth",
			header: `Digest realm="fritz.box", nonce="abc", qop="auth,auth-int", opaque="xyz"`,
			check: func(t *testing.T, ch *Challenge) {
				if ch.QOP != "auth" {
					t.Errorf("QOP = %q, want auth", ch.QOP)
				}
				if ch.Opaque != "xyz" {
					t.Errorf("Opaque = %q, want xyz", ch.Opaque)
				}
			},
		},
		{
			name:   "proxy flag carried",
			header: `Digest realm="r", nonce="n"`,
			proxy:  true,
			check: func(t *testing.T, ch *Challenge) {
				if !ch.Proxy {
					t.Error("Proxy = false, want true")
				}
				if ch.HeaderName() != "Proxy-Authorization" {
					t.Errorf("HeaderName = %q", ch.HeaderName())
				}
			},
		},
		{
			name:    "basic scheme rejected",
			header:  `Basic realm="r"`,
			wantErr: true,
		},
		{
			name:    "missing nonce rejected",
			header:  `Digest realm="r"`,
			wantErr: true,
		},
		{
			name:    "unsupported algorithm rejected",
			header:  `Digest realm="r", nonce="n", algorithm=SHA-256`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, err := ParseChallenge(tt.header, tt.proxy)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseChallenge: %v", err)
			}
			tt.check(t, ch)
		})
	}
}

func TestResponseWithoutQOP(t *testing.T) {
	ch := &Challenge{Realm: "fritz.box", Nonce: "abc"}

	got := ch.Response("doorbell", "secret", "REGISTER", "sip:fritz.box", "", 0)

	ha1 := md5sum("doorbell:fritz.box:secret")
	ha2 := md5sum("REGISTER:sip:fritz.box")
	want := md5sum(ha1 + ":abc:" + ha2)
	if got != want {
		t.Errorf("Response = %s, want %s", got, want)
	}
}

func TestResponseWithQOP(t *testing.T) {
	ch := &Challenge{Realm: "fritz.box", Nonce: "abc", QOP: "auth"}

	got := ch.Response("doorbell", "secret", "INVITE", "sip:fritz.box", "deadbeef", 1)

	ha1 := md5sum("doorbell:fritz.box:secret")
	ha2 := md5sum("INVITE:sip:fritz.box")
	want := md5sum(ha1 + ":abc:00000001:deadbeef:auth:" + ha2)
	if got != want {
		t.Errorf("Response = %s, want %s", got, want)
	}
}

func TestAuthorizationHeader(t *testing.T) {
	ch := &Challenge{Realm: "fritz.box", Nonce: "abc", QOP: "auth", Opaque: "op"}

	hdr := ch.Authorization("doorbell", "secret", "REGISTER", "sip:fritz.box", "cafe", 1)

	for _, want := range []string{
		`username="doorbell"`,
		`realm="fritz.box"`,
		`nonce="abc"`,
		`uri="sip:fritz.box"`,
		`qop=auth`,
		`nc=00000001`,
		`cnonce="cafe"`,
		`opaque="op"`,
		`algorithm=MD5`,
	} {
		if !strings.Contains(hdr, want) {
			t.Errorf("Authorization header missing %q:\n%s", want, hdr)
		}
	}
	if !strings.HasPrefix(hdr, "Digest ") {
		t.Errorf("Authorization header should start with Digest: %s", hdr)
	}
}

func TestNonceCountFormat(t *testing.T) {
	ch := &Challenge{Realm: "r", Nonce: "n", QOP: "auth"}
	hdr := ch.Authorization("u", "p", "REGISTER", "sip:r", "c", 0x1A)
	if !strings.Contains(hdr, "nc=0000001a") {
		t.Errorf("nonce count not zero-padded 8-hex: %s", hdr)
	}
}
