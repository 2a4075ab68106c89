package sipmsg

import (
	"strings"
	"testing"
)

func TestBuildAudioSDP(t *testing.T) {
	body, err := BuildAudioSDP("192.168.1.50", 40000, "sendrecv")
	if err != nil {
		t.Fatalf("BuildAudioSDP: %v", err)
	}
	sdp := string(body)

	for _, want := range []string{
		"m=audio 40000 RTP/AVP 0 8 101",
		"c=IN IP4 192.168.1.50",
		"a=rtpmap:0 PCMU/8000",
		"a=rtpmap:8 PCMA/8000",
		"a=rtpmap:101 telephone-event/8000",
		"a=fmtp:101 0-15",
		"a=ptime:20",
		"a=sendrecv",
	} {
		if !strings.Contains(sdp, want) {
			t.Errorf("SDP missing %q:\n%s", want, sdp)
		}
	}
}

func TestParseMediaInfoFromOwnOffer(t *testing.T) {
	body, err := BuildAudioSDP("10.0.0.7", 40000, "recvonly")
	if err != nil {
		t.Fatalf("BuildAudioSDP: %v", err)
	}

	info, err := ParseMediaInfo(body)
	if err != nil {
		t.Fatalf("ParseMediaInfo: %v", err)
	}
	if info.Address != "10.0.0.7" || info.Port != 40000 {
		t.Errorf("endpoint = %s:%d", info.Address, info.Port)
	}
	if info.PayloadType != PayloadPCMU || info.CodecName != "PCMU" {
		t.Errorf("codec = %s pt=%d, want PCMU", info.CodecName, info.PayloadType)
	}
	if info.DTMFPayload != PayloadDTMF {
		t.Errorf("DTMF payload = %d, want %d", info.DTMFPayload, PayloadDTMF)
	}
	if info.Direction != "recvonly" {
		t.Errorf("direction = %q", info.Direction)
	}
}

func TestParseMediaInfoPBXAnswer(t *testing.T) {
	// The shape of a FRITZ!Box answer: session-level connection line,
	// A-law only, nonstandard DTMF payload.
	body := "v=0\r\n" +
		"o=fritz 1 1 IN IP4 192.168.178.1\r\n" +
		"s=call\r\n" +
		"c=IN IP4 192.168.178.1\r\n" +
		"t=0 0\r\n" +
		"m=audio 7078 RTP/AVP 8 96\r\n" +
		"a=rtpmap:8 PCMA/8000\r\n" +
		"a=rtpmap:96 telephone-event/8000\r\n" +
		"a=sendrecv\r\n"

	info, err := ParseMediaInfo([]byte(body))
	if err != nil {
		t.Fatalf("ParseMediaInfo: %v", err)
	}
	if info.PayloadType != PayloadPCMA || info.CodecName != "PCMA" {
		t.Errorf("codec = %s pt=%d, want PCMA", info.CodecName, info.PayloadType)
	}
	if info.Port != 7078 || info.Address != "192.168.178.1" {
		t.Errorf("endpoint = %s:%d", info.Address, info.Port)
	}
	if info.DTMFPayload != 96 {
		t.Errorf("DTMF payload = %d, want 96", info.DTMFPayload)
	}
}

func TestParseMediaInfoHonorsPeerCodecOrder(t *testing.T) {
	sdpFor := func(formats string) string {
		return "v=0\r\n" +
			"o=x 1 1 IN IP4 1.2.3.4\r\n" +
			"s=-\r\n" +
			"c=IN IP4 1.2.3.4\r\n" +
			"t=0 0\r\n" +
			"m=audio 5000 RTP/AVP " + formats + "\r\n"
	}

	tests := []struct {
		formats string
		wantPT  uint8
	}{
		{"0 8", PayloadPCMU},
		{"8 0", PayloadPCMA},
		{"96 8 0", PayloadPCMA}, // Unknown formats are skipped, order kept
	}
	for _, tt := range tests {
		info, err := ParseMediaInfo([]byte(sdpFor(tt.formats)))
		if err != nil {
			t.Fatalf("ParseMediaInfo(%q): %v", tt.formats, err)
		}
		if info.PayloadType != tt.wantPT {
			t.Errorf("formats %q: pt = %d, want %d", tt.formats, info.PayloadType, tt.wantPT)
		}
	}
}

func TestParseMediaInfoErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no audio line", "v=0\r\no=x 1 1 IN IP4 1.2.3.4\r\ns=-\r\nc=IN IP4 1.2.3.4\r\nt=0 0\r\nm=video 0 RTP/AVP 26\r\n"},
		{"no G711 codec", "v=0\r\no=x 1 1 IN IP4 1.2.3.4\r\ns=-\r\nc=IN IP4 1.2.3.4\r\nt=0 0\r\nm=audio 5000 RTP/AVP 96\r\n"},
		{"not SDP at all", "this is not sdp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMediaInfo([]byte(tt.body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDirectionFor(t *testing.T) {
	tests := []struct {
		mic, spk bool
		want     string
	}{
		{true, true, "sendrecv"},
		{true, false, "sendonly"},
		{false, true, "recvonly"},
		{false, false, "inactive"},
	}
	for _, tt := range tests {
		if got := DirectionFor(tt.mic, tt.spk); got != tt.want {
			t.Errorf("DirectionFor(%v, %v) = %q, want %q", tt.mic, tt.spk, got, tt.want)
		}
	}
}
