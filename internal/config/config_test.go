package config

import "testing"

func TestProxyHostPort(t *testing.T) {
	tests := []struct {
		proxy string
		want  string
	}{
		{"fritz.box", "fritz.box:5060"},
		{"fritz.box:5065", "fritz.box:5065"},
		{"192.168.178.1", "192.168.178.1:5060"},
		{"192.168.178.1:5060", "192.168.178.1:5060"},
	}
	for _, tt := range tests {
		cfg := &Config{SIPProxy: tt.proxy}
		if got := cfg.ProxyHostPort(); got != tt.want {
			t.Errorf("ProxyHostPort(%q) = %q, want %q", tt.proxy, got, tt.want)
		}
	}
}

func TestIsValidAddress(t *testing.T) {
	if !isValidAddress("192.168.178.20") {
		t.Error("plain IPv4 should be valid")
	}
	if !isValidAddress("localhost") {
		t.Error("localhost should resolve")
	}
	if isValidAddress("no-such-host.invalid") {
		t.Error("unresolvable name should be invalid")
	}
}
