package sipmsg

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseRequest(t *testing.T) {
	raw := "INVITE sip:**9@fritz.box SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP 192.168.1.50:5062;branch=z9hG4bKabc123;rport\r\n" +
		"From: \"Doorbell\" <sip:doorbell@fritz.box>;tag=feed1234\r\n" +
		"To: <sip:**9@fritz.box>\r\n" +
		"Call-ID: 42@192.168.1.50\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"Content-Type: application/sdp\r\n" +
		"Content-Length: 4\r\n" +
		"\r\n" +
		"v=0\r\n"

	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !msg.Request {
		t.Fatal("expected a request")
	}
	if msg.Method != "INVITE" || msg.RequestURI != "sip:**9@fritz.box" {
		t.Errorf("start line = %s %s", msg.Method, msg.RequestURI)
	}
	if got := msg.Header("call-id"); got != "42@192.168.1.50" {
		t.Errorf("case-insensitive header lookup failed: %q", got)
	}
	if !bytes.Equal(msg.Body, []byte("v=0\r")) {
		t.Errorf("body = %q, want Content-Length-limited 4 bytes", msg.Body)
	}

	cseq, method, err := msg.CSeq()
	if err != nil {
		t.Fatalf("CSeq: %v", err)
	}
	if cseq != 1 || method != "INVITE" {
		t.Errorf("CSeq = %d %s", cseq, method)
	}
}

func TestParseResponse(t *testing.T) {
	raw := "SIP/2.0 401 Unauthorized\r\n" +
		"Via: SIP/2.0/UDP 192.168.1.50:5062;branch=z9hG4bKabc123\r\n" +
		"WWW-Authenticate: Digest realm=\"fritz.box\", nonce=\"abc\"\r\n" +
		"CSeq: 2 REGISTER\r\n" +
		"Content-Length: 0\r\n\r\n"

	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.Request {
		t.Fatal("expected a response")
	}
	if msg.StatusCode != 401 || msg.Reason != "Unauthorized" {
		t.Errorf("status = %d %q", msg.StatusCode, msg.Reason)
	}
	if len(msg.Body) != 0 {
		t.Errorf("body = %q, want empty", msg.Body)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"garbage start line", "hello world\r\n\r\n"},
		{"header without colon", "OPTIONS sip:a SIP/2.0\r\nbadheader\r\n\r\n"},
		{"negative content length", "OPTIONS sip:a SIP/2.0\r\nContent-Length: -1\r\n\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.raw)); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestBytesRoundTrip(t *testing.T) {
	msg := &Message{Request: true, Method: "REGISTER", RequestURI: "sip:fritz.box"}
	msg.AddHeader("Via", "SIP/2.0/UDP 1.2.3.4:5062;branch=z9hG4bKxyz")
	msg.AddHeader("CSeq", "1 REGISTER")
	msg.Body = []byte("hello")

	out := msg.Bytes()
	if !strings.HasPrefix(string(out), "REGISTER sip:fritz.box SIP/2.0\r\n") {
		t.Errorf("serialized start line wrong:\n%s", out)
	}
	if !strings.Contains(string(out), "Content-Length: 5\r\n") {
		t.Errorf("Content-Length not emitted:\n%s", out)
	}

	back, err := Parse(out)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if back.Method != "REGISTER" || string(back.Body) != "hello" {
		t.Errorf("round trip lost data: %s %q", back.Method, back.Body)
	}
}

func TestTagAndURIExtraction(t *testing.T) {
	tests := []struct {
		value   string
		wantTag string
		wantURI string
	}{
		{`"Doorbell" <sip:doorbell@fritz.box>;tag=feed1234`, "feed1234", "sip:doorbell@fritz.box"},
		{`<sip:**9@fritz.box>`, "", "sip:**9@fritz.box"},
		{`sip:a@b;tag=x`, "x", "sip:a@b"},
		// URI parameters must not leak into the tag
		{`<sip:a@b;transport=udp>`, "", "sip:a@b;transport=udp"},
	}
	for _, tt := range tests {
		if got := Tag(tt.value); got != tt.wantTag {
			t.Errorf("Tag(%q) = %q, want %q", tt.value, got, tt.wantTag)
		}
		if got := URI(tt.value); got != tt.wantURI {
			t.Errorf("URI(%q) = %q, want %q", tt.value, got, tt.wantURI)
		}
	}
}

func TestViaBranch(t *testing.T) {
	via := "SIP/2.0/UDP 1.2.3.4:5062;branch=z9hG4bKabc;rport"
	if got := ViaBranch(via); got != "z9hG4bKabc" {
		t.Errorf("ViaBranch = %q", got)
	}
	if got := ViaBranch("SIP/2.0/UDP 1.2.3.4"); got != "" {
		t.Errorf("ViaBranch without branch = %q, want empty", got)
	}
}

func TestNewResponseEchoesDialogHeaders(t *testing.T) {
	req, err := Parse([]byte("BYE sip:doorbell@1.2.3.4 SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP 5.6.7.8:5060;branch=z9hG4bKone\r\n" +
		"Via: SIP/2.0/UDP 9.9.9.9:5060;branch=z9hG4bKtwo\r\n" +
		"From: <sip:caller@fritz.box>;tag=r1\r\n" +
		"To: <sip:doorbell@fritz.box>;tag=l1\r\n" +
		"Call-ID: cid1\r\n" +
		"CSeq: 7 BYE\r\n\r\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	resp := NewResponse(req, 200, "")
	if resp.Reason != "OK" {
		t.Errorf("default reason = %q", resp.Reason)
	}
	if vias := resp.HeaderValues("Via"); len(vias) != 2 || !strings.Contains(vias[0], "bKone") {
		t.Errorf("Via headers not echoed in order: %v", vias)
	}
	for _, h := range []string{"From", "To", "Call-ID", "CSeq"} {
		if resp.Header(h) != req.Header(h) {
			t.Errorf("%s not echoed", h)
		}
	}
}

func TestNewBranchAndIDs(t *testing.T) {
	b1, b2 := NewBranch(), NewBranch()
	if !strings.HasPrefix(b1, BranchMagic) {
		t.Errorf("branch missing magic cookie: %s", b1)
	}
	if b1 == b2 {
		t.Error("branches must be unique")
	}
	if NewTag() == NewTag() {
		t.Error("tags must be unique")
	}
	if !strings.HasSuffix(NewCallID("host"), "@host") {
		t.Error("Call-ID not scoped to host")
	}
}
