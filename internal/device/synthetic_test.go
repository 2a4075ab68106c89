package device

import (
	"bytes"
	"testing"
	"time"
)

func TestPatternCameraFrameLoan(t *testing.T) {
	cam := NewPatternCamera(320, 240)

	frame, err := cam.CaptureFrame()
	if err != nil {
		t.Fatalf("CaptureFrame: %v", err)
	}
	if frame.Width != 320 || frame.Height != 240 {
		t.Errorf("frame size = %dx%d, want 320x240", frame.Width, frame.Height)
	}

	// Single-buffer driver: a second capture must fail until release
	if _, err := cam.CaptureFrame(); err != ErrFrameBusy {
		t.Errorf("second capture error = %v, want ErrFrameBusy", err)
	}

	frame.Release()
	if _, err := cam.CaptureFrame(); err != nil {
		t.Errorf("capture after release: %v", err)
	}
}

func TestPatternCameraFrameStructure(t *testing.T) {
	cam := NewPatternCamera(160, 128)
	frame, err := cam.CaptureFrame()
	if err != nil {
		t.Fatalf("CaptureFrame: %v", err)
	}
	defer frame.Release()

	data := frame.Data
	if !bytes.HasPrefix(data, []byte{0xFF, 0xD8}) {
		t.Error("frame missing SOI marker")
	}
	if !bytes.HasSuffix(data, []byte{0xFF, 0xD9}) {
		t.Error("frame missing EOI marker")
	}

	// Entropy data must never contain a stray marker prefix
	scan := data[2 : len(data)-2]
	for i := 0; i < len(scan)-1; i++ {
		if scan[i] == 0xFF && scan[i+1] != 0x00 {
			switch scan[i+1] {
			case 0xDB, 0xC0, 0xC4, 0xDA:
				// Structural markers are expected
			default:
				t.Fatalf("stray marker 0xFF%02X at offset %d", scan[i+1], i+2)
			}
		}
	}
}

func TestToneSourceProducesAudio(t *testing.T) {
	src := NewToneSource(8000, 440)
	buf := make([]int16, 160)

	n, err := src.Read(buf, 20*time.Millisecond)
	if err != nil || n != len(buf) {
		t.Fatalf("Read = %d, %v", n, err)
	}

	allZero := true
	for _, s := range buf {
		if s != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		t.Error("tone source produced silence")
	}

	if !src.Enabled() || src.Muted() {
		t.Error("new tone source should be enabled and unmuted")
	}
	src.SetMuted(true)
	if !src.Muted() {
		t.Error("SetMuted(true) not reflected")
	}
}

func TestDiscardSinkCountsSamples(t *testing.T) {
	sink := NewDiscardSink(16000)
	if sink.SampleRate() != 16000 {
		t.Errorf("SampleRate = %d", sink.SampleRate())
	}

	n, err := sink.Write(make([]int16, 320), 20*time.Millisecond)
	if err != nil || n != 320 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if sink.Written() != 320 {
		t.Errorf("Written = %d, want 320", sink.Written())
	}
}

func TestCannedAACPacing(t *testing.T) {
	enc := NewCannedAAC(16000)

	frame, err := enc.NextFrame()
	if err != nil {
		t.Fatalf("NextFrame: %v", err)
	}
	if frame == nil {
		t.Fatal("first frame should be available immediately")
	}

	// 1024 samples at 16 kHz is 64ms; an immediate second call is early
	again, err := enc.NextFrame()
	if err != nil {
		t.Fatalf("NextFrame: %v", err)
	}
	if again != nil {
		t.Error("frame produced before the encoder cadence elapsed")
	}

	time.Sleep(70 * time.Millisecond)
	late, err := enc.NextFrame()
	if err != nil {
		t.Fatalf("NextFrame: %v", err)
	}
	if late == nil {
		t.Error("no frame after the cadence interval")
	}
}
