// Package device defines the hardware collaborator interfaces the engine
// drives (camera, microphone, speaker, AAC encoder) together with synthetic
// implementations so the binary and the tests run without hardware.
package device

import "time"

// Frame is a single captured JPEG image. The buffer is on loan from the
// camera driver; callers must Release it when done so the driver can
// recycle it.
type Frame struct {
	Data    []byte
	Width   int
	Height  int
	release func()
}

// Release returns the frame buffer to the camera driver. Safe to call once.
func (f *Frame) Release() {
	if f.release != nil {
		f.release()
		f.release = nil
	}
}

// Camera produces JPEG frames.
type Camera interface {
	// CaptureFrame grabs the next frame. The returned frame must be
	// released by the caller.
	CaptureFrame() (*Frame, error)
}

// AudioSource is a microphone-like PCM producer.
type AudioSource interface {
	// Read fills buf with signed 16-bit samples, blocking up to timeout.
	// Returns the number of samples written.
	Read(buf []int16, timeout time.Duration) (int, error)
	SampleRate() int
	Enabled() bool
	Muted() bool
}

// AudioSink is a speaker-like PCM consumer.
type AudioSink interface {
	// Write queues signed 16-bit samples for playback, blocking up to
	// timeout. Returns the number of samples accepted.
	Write(samples []int16, timeout time.Duration) (int, error)
	SampleRate() int
	Enabled() bool
	Muted() bool
}

// AACEncoder produces raw AAC-LC frames of 1024 samples each.
type AACEncoder interface {
	// NextFrame returns the next encoded AAC frame, or nil when no frame
	// is ready yet.
	NextFrame() ([]byte, error)
	SampleRate() int
}
