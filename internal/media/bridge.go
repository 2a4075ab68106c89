package media

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/pion/rtp"

	"github.com/homekitknock/knockd/internal/device"
)

// maxDrainPerTick bounds how many received packets are processed per
// 20 ms tick so a flood cannot starve the send path.
const maxDrainPerTick = 4

// Bridge runs the two-way audio path of an established call: it sends one
// G.711 frame every 20 ms and drains incoming RTP, playing audio to the
// speaker and reporting DTMF digits.
type Bridge struct {
	conn   *net.UDPConn
	remote *net.UDPAddr

	payloadType uint8
	dtmfPT      uint8
	sendAudio   bool
	recvAudio   bool

	mic device.AudioSource
	spk device.AudioSink

	onDTMF func(rune)

	seq       uint16
	timestamp uint32
	ssrc      uint32

	detector DTMFDetector
	micBuf   []int16
	recvBuf  []byte
}

// BridgeConfig carries everything a Bridge needs.
type BridgeConfig struct {
	Conn        *net.UDPConn // Local RTP socket, already bound
	Remote      *net.UDPAddr // Peer RTP endpoint from SDP
	PayloadType uint8        // Negotiated G.711 payload type
	DTMFPayload uint8        // telephone-event payload type, 0 to disable
	SendAudio   bool         // Microphone leg active
	RecvAudio   bool         // Speaker leg active
	Mic         device.AudioSource
	Speaker     device.AudioSink
	OnDTMF      func(rune)
}

// NewBridge creates a bridge with fresh random RTP identifiers.
func NewBridge(cfg BridgeConfig) *Bridge {
	return &Bridge{
		conn:        cfg.Conn,
		remote:      cfg.Remote,
		payloadType: cfg.PayloadType,
		dtmfPT:      cfg.DTMFPayload,
		sendAudio:   cfg.SendAudio,
		recvAudio:   cfg.RecvAudio,
		mic:         cfg.Mic,
		spk:         cfg.Speaker,
		onDTMF:      cfg.OnDTMF,
		seq:         GenerateSequenceStart(),
		timestamp:   GenerateTimestampStart(),
		ssrc:        GenerateSSRC(),
		recvBuf:     make([]byte, 2048),
	}
}

// Run drives the bridge until the context is cancelled. It owns the RTP
// socket's deadlines but not its lifetime.
func (b *Bridge) Run(ctx context.Context) {
	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	slog.Info("[RTP] Audio bridge started",
		"remote", b.remote.String(), "pt", b.payloadType, "dtmfPT", b.dtmfPT)

	for {
		select {
		case <-ctx.Done():
			slog.Info("[RTP] Audio bridge stopped")
			return
		case <-ticker.C:
			b.sendFrame()
			b.drainIncoming()
		}
	}
}

// sendFrame transmits one 20 ms G.711 frame. A muted or failing
// microphone produces encoded silence so the stream keeps its cadence.
func (b *Bridge) sendFrame() {
	if !b.sendAudio {
		return
	}

	payload := b.captureFrame()

	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    b.payloadType,
			SequenceNumber: b.seq,
			Timestamp:      b.timestamp,
			SSRC:           b.ssrc,
		},
		Payload: payload,
	}
	b.seq++
	b.timestamp += SamplesPerFrame

	raw, err := pkt.Marshal()
	if err != nil {
		slog.Error("[RTP] Marshal failed", "error", err)
		return
	}
	if _, err := b.conn.WriteToUDP(raw, b.remote); err != nil {
		slog.Debug("[RTP] Send failed", "error", err)
	}
}

func (b *Bridge) captureFrame() []byte {
	if b.mic == nil || !b.mic.Enabled() || b.mic.Muted() {
		return SilenceFrame(b.payloadType)
	}

	factor := b.mic.SampleRate() / SampleRate
	if factor < 1 {
		factor = 1
	}
	want := SamplesPerFrame * factor
	if cap(b.micBuf) < want {
		b.micBuf = make([]int16, want)
	}
	buf := b.micBuf[:want]

	n, err := b.mic.Read(buf, FrameDuration/2)
	if err != nil || n < want {
		return SilenceFrame(b.payloadType)
	}
	return EncodeG711(b.payloadType, Downsample(buf, factor))
}

// drainIncoming processes up to maxDrainPerTick waiting packets without
// blocking the send cadence.
func (b *Bridge) drainIncoming() {
	for i := 0; i < maxDrainPerTick; i++ {
		_ = b.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
		n, _, err := b.conn.ReadFromUDP(b.recvBuf)
		if err != nil {
			return
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(b.recvBuf[:n]); err != nil {
			slog.Debug("[RTP] Dropping malformed packet", "error", err)
			continue
		}
		b.handlePacket(&pkt)
	}
}

func (b *Bridge) handlePacket(pkt *rtp.Packet) {
	if b.dtmfPT != 0 && pkt.PayloadType == b.dtmfPT {
		if digit, ok := b.detector.Feed(pkt.Payload, time.Now()); ok {
			slog.Info("[RTP] DTMF digit", "digit", string(digit))
			if b.onDTMF != nil {
				b.onDTMF(digit)
			}
		}
		return
	}

	if !b.recvAudio || pkt.PayloadType != b.payloadType {
		return
	}
	if b.spk == nil || !b.spk.Enabled() || b.spk.Muted() {
		return
	}

	samples := DecodeG711(b.payloadType, pkt.Payload)
	// Speakers running above 8 kHz get repeated samples. Integer ratios
	// only; the hardware in scope is 8 or 16 kHz.
	factor := b.spk.SampleRate() / SampleRate
	_, _ = b.spk.Write(Upsample(samples, factor), FrameDuration)
}
