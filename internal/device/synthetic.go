package device

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

// PatternCamera is a Camera that synthesizes a fixed-size baseline JPEG on
// every capture. The image content is a counter-seeded byte pattern, enough
// to exercise the JPEG parser and packetizer without a sensor.
type PatternCamera struct {
	width   int
	height  int
	counter uint32

	mu     sync.Mutex
	frame  []byte
	loaned bool
}

// NewPatternCamera creates a synthetic camera producing width x height
// frames with 4:2:0 chroma subsampling.
func NewPatternCamera(width, height int) *PatternCamera {
	return &PatternCamera{width: width, height: height}
}

// CaptureFrame implements Camera. Only one frame may be on loan at a time,
// mirroring a single-buffer sensor driver.
func (c *PatternCamera) CaptureFrame() (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaned {
		return nil, ErrFrameBusy
	}

	c.counter++
	c.frame = synthesizeJPEG(c.width, c.height, c.counter)
	c.loaned = true

	return &Frame{
		Data:   c.frame,
		Width:  c.width,
		Height: c.height,
		release: func() {
			c.mu.Lock()
			c.loaned = false
			c.mu.Unlock()
		},
	}, nil
}

// ErrFrameBusy is returned when the previous frame has not been released.
var ErrFrameBusy = frameBusyError{}

type frameBusyError struct{}

func (frameBusyError) Error() string { return "previous frame still on loan" }

// synthesizeJPEG builds a structurally valid baseline JPEG: SOI, DQT, SOF0
// (three components, 4:2:0 luma sampling), DHT, SOS, entropy data, EOI.
// The entropy data is pseudo-random but never contains a stray marker.
func synthesizeJPEG(width, height int, seed uint32) []byte {
	var b []byte
	b = append(b, 0xFF, 0xD8) // SOI

	// DQT: one 8-bit table
	b = append(b, 0xFF, 0xDB, 0x00, 0x43, 0x00)
	for i := 0; i < 64; i++ {
		b = append(b, byte(16+i%32))
	}

	// SOF0: precision 8, three components, Y sampled 2x2 (4:2:0)
	b = append(b, 0xFF, 0xC0, 0x00, 0x11, 0x08)
	b = append(b, byte(height>>8), byte(height), byte(width>>8), byte(width))
	b = append(b, 0x03)
	b = append(b, 0x01, 0x22, 0x00) // Y
	b = append(b, 0x02, 0x11, 0x00) // Cb
	b = append(b, 0x03, 0x11, 0x00) // Cr

	// DHT: minimal DC table (one code)
	b = append(b, 0xFF, 0xC4, 0x00, 0x14, 0x00)
	b = append(b, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00)
	b = append(b, 0x00)

	// SOS: three components
	b = append(b, 0xFF, 0xDA, 0x00, 0x0C, 0x03)
	b = append(b, 0x01, 0x00, 0x02, 0x00, 0x03, 0x00)
	b = append(b, 0x00, 0x3F, 0x00)

	// Entropy-coded data. 0xFF bytes are avoided entirely so no byte
	// stuffing is needed.
	scanLen := (width * height) / 16
	if scanLen < 256 {
		scanLen = 256
	}
	state := seed | 1
	for i := 0; i < scanLen; i++ {
		state = state*1664525 + 1013904223
		b = append(b, byte(state>>24)&0x7F)
	}

	b = append(b, 0xFF, 0xD9) // EOI
	return b
}

// ToneSource is an AudioSource producing a continuous sine tone. Used as a
// stand-in microphone.
type ToneSource struct {
	rate    int
	freq    float64
	phase   float64
	enabled bool
	muted   bool
	mu      sync.Mutex
}

// NewToneSource creates a tone generator at the given sample rate and
// frequency in Hz.
func NewToneSource(rate int, freq float64) *ToneSource {
	return &ToneSource{rate: rate, freq: freq, enabled: true}
}

// Read implements AudioSource. It never blocks; the tone is always ready.
func (t *ToneSource) Read(buf []int16, timeout time.Duration) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	step := 2 * math.Pi * t.freq / float64(t.rate)
	for i := range buf {
		buf[i] = int16(12000 * math.Sin(t.phase))
		t.phase += step
		if t.phase > 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}
	return len(buf), nil
}

func (t *ToneSource) SampleRate() int { return t.rate }

func (t *ToneSource) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *ToneSource) Muted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.muted
}

// SetMuted mutes or unmutes the source.
func (t *ToneSource) SetMuted(m bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.muted = m
}

// SetEnabled enables or disables the source.
func (t *ToneSource) SetEnabled(e bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = e
}

// DiscardSink is an AudioSink that accepts and drops all samples.
type DiscardSink struct {
	rate    int
	enabled bool
	muted   bool
	written uint64
	mu      sync.Mutex
}

// NewDiscardSink creates a sink that swallows audio at the given rate.
func NewDiscardSink(rate int) *DiscardSink {
	return &DiscardSink{rate: rate, enabled: true}
}

func (d *DiscardSink) SampleRate() int { return d.rate }

// Write implements AudioSink.
func (d *DiscardSink) Write(samples []int16, timeout time.Duration) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.written += uint64(len(samples))
	return len(samples), nil
}

func (d *DiscardSink) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

func (d *DiscardSink) Muted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.muted
}

// SetMuted mutes or unmutes the sink.
func (d *DiscardSink) SetMuted(m bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.muted = m
}

// SetEnabled enables or disables the sink.
func (d *DiscardSink) SetEnabled(e bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = e
}

// Written returns the total number of samples accepted.
func (d *DiscardSink) Written() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written
}

// CannedAAC is an AACEncoder producing fixed-size pseudo frames at the
// real AAC cadence (1024 samples per frame).
type CannedAAC struct {
	rate     int
	frameLen int
	counter  uint32
	last     time.Time
	mu       sync.Mutex
}

// NewCannedAAC creates a canned encoder at the given sample rate.
func NewCannedAAC(rate int) *CannedAAC {
	return &CannedAAC{rate: rate, frameLen: 192}
}

// NextFrame implements AACEncoder. Frames are produced no faster than the
// encoder's natural cadence; nil is returned when no frame is due.
func (c *CannedAAC) NextFrame() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	interval := time.Duration(1024) * time.Second / time.Duration(c.rate)
	now := time.Now()
	if !c.last.IsZero() && now.Sub(c.last) < interval {
		return nil, nil
	}
	c.last = now
	c.counter++

	frame := make([]byte, c.frameLen)
	binary.BigEndian.PutUint32(frame, c.counter)
	state := c.counter
	for i := 4; i < len(frame); i++ {
		state = state*22695477 + 1
		frame[i] = byte(state >> 16)
	}
	return frame, nil
}

func (c *CannedAAC) SampleRate() int { return c.rate }
