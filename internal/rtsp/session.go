package rtsp

import (
	"bufio"
	"crypto/rand"
	"fmt"
	"net"
	"time"

	"github.com/pion/rtp"

	"github.com/homekitknock/knockd/internal/media"
)

// Session limits and timing.
const (
	maxSessions      = 2
	frameInterval    = 67 * time.Millisecond // ~15 fps
	sessionTimeout   = 60 * time.Second
	handshakeTimeout = 10 * time.Second

	backoffBase   = 50 * time.Millisecond
	backoffCap    = 500 * time.Millisecond
	maxStreak     = 10
	fragmentPause = time.Millisecond // UDP pacing between JPEG fragments
)

type sessionState int

const (
	stateSetup sessionState = iota
	statePlaying
)

// track is the per-stream RTP state within a session.
type track struct {
	active      bool
	channel     int          // Interleaved channel (TCP)
	remote      *net.UDPAddr // Client endpoint (UDP)
	seq         uint16
	timestamp   uint32
	ssrc        uint32
	payloadType uint8
	clockRate   uint32
}

// Session is one connected viewer.
type Session struct {
	id    string
	state sessionState
	conn  net.Conn
	br    *bufio.Reader // Control channel reader, kept across handshake
	tcp   bool          // Interleaved transport

	video track
	audio track

	lastFrame    time.Time // Last video frame delivery
	lastActivity time.Time

	// UDP send backoff: consecutive failures stretch the pause between
	// retries, success resets it.
	streak       int
	backoffUntil time.Time
}

// newSessionID builds the 8-hex-digit session identifier: low 24 bits from
// the clock, high 8 bits random.
func newSessionID() string {
	var b [1]byte
	_, _ = rand.Read(b[:])
	id := uint32(time.Now().UnixMilli())&0x00FFFFFF | uint32(b[0])<<24
	if id == 0 {
		id = 1
	}
	return fmt.Sprintf("%08X", id)
}

func newTrack(payloadType uint8, clockRate uint32) track {
	return track{
		active:      true,
		seq:         media.GenerateSequenceStart(),
		timestamp:   media.GenerateTimestampStart(),
		ssrc:        media.GenerateSSRC(),
		payloadType: payloadType,
		clockRate:   clockRate,
	}
}

// inBackoff reports whether UDP sends are paused for this session.
func (s *Session) inBackoff(now time.Time) bool {
	return !s.tcp && now.Before(s.backoffUntil)
}

// noteSendResult updates the UDP backoff state after a send attempt.
func (s *Session) noteSendResult(err error, now time.Time) {
	if err == nil {
		s.streak = 0
		return
	}
	if s.streak < maxStreak {
		s.streak++
	}
	delay := backoffBase * time.Duration(s.streak)
	if delay > backoffCap {
		delay = backoffCap
	}
	s.backoffUntil = now.Add(delay)
}

// sendRTP transmits one RTP packet on a track, via the interleaved control
// connection or the shared UDP socket.
func (s *Session) sendRTP(udp *net.UDPConn, t *track, payload []byte, marker bool) error {
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    t.payloadType,
			SequenceNumber: t.seq,
			Timestamp:      t.timestamp,
			SSRC:           t.ssrc,
		},
		Payload: payload,
	}
	t.seq++

	raw, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("marshal RTP: %w", err)
	}

	if s.tcp {
		framed := make([]byte, 4+len(raw))
		framed[0] = '$'
		framed[1] = byte(t.channel)
		framed[2] = byte(len(raw) >> 8)
		framed[3] = byte(len(raw))
		copy(framed[4:], raw)
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_, err = s.conn.Write(framed)
		return err
	}

	_, err = udp.WriteToUDP(raw, t.remote)
	return err
}
