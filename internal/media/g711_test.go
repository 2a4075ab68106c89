package media

import "testing"

func TestSilenceByte(t *testing.T) {
	if got := SilenceByte(0); got != 0xFF {
		t.Errorf("PCMU silence = 0x%02X, want 0xFF", got)
	}
	if got := SilenceByte(8); got != 0xD5 {
		t.Errorf("PCMA silence = 0x%02X, want 0xD5", got)
	}
}

func TestSilenceFrame(t *testing.T) {
	frame := SilenceFrame(0)
	if len(frame) != SamplesPerFrame {
		t.Fatalf("frame length = %d, want %d", len(frame), SamplesPerFrame)
	}
	for i, b := range frame {
		if b != 0xFF {
			t.Fatalf("frame[%d] = 0x%02X, want 0xFF", i, b)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	samples := make([]int16, SamplesPerFrame)
	for i := range samples {
		samples[i] = int16((i - 80) * 100)
	}

	for _, pt := range []uint8{0, 8} {
		encoded := EncodeG711(pt, samples)
		if len(encoded) != SamplesPerFrame {
			t.Fatalf("pt %d: encoded length = %d, want %d", pt, len(encoded), SamplesPerFrame)
		}

		decoded := DecodeG711(pt, encoded)
		if len(decoded) != SamplesPerFrame {
			t.Fatalf("pt %d: decoded length = %d", pt, len(decoded))
		}

		// G.711 is lossy but close; check the error bound rather than
		// exact equality.
		for i := range samples {
			diff := int32(decoded[i]) - int32(samples[i])
			if diff < 0 {
				diff = -diff
			}
			if diff > 1024 {
				t.Fatalf("pt %d: sample %d error too large: %d vs %d", pt, i, decoded[i], samples[i])
			}
		}
	}
}

func TestDownsampleAveraging(t *testing.T) {
	in := []int16{0, 100, 200, 300, 400, 500}
	out := Downsample(in, 2)
	want := []int16{50, 250, 450}
	if len(out) != len(want) {
		t.Fatalf("length = %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestDownsampleIdentity(t *testing.T) {
	in := []int16{1, 2, 3}
	if out := Downsample(in, 1); len(out) != 3 || out[2] != 3 {
		t.Errorf("factor 1 should be identity, got %v", out)
	}
}

func TestUpsampleRepeats(t *testing.T) {
	in := []int16{10, -20}
	out := Upsample(in, 2)
	want := []int16{10, 10, -20, -20}
	if len(out) != len(want) {
		t.Fatalf("length = %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}
