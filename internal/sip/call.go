package sip

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/homekitknock/knockd/internal/media"
	"github.com/homekitknock/knockd/internal/sipmsg"
)

// session is an established (or establishing, for inbound) call dialog.
type session struct {
	state   CallState
	inbound bool

	callID        string
	localTag      string
	remoteTag     string
	remoteURI     string
	remoteContact string
	localCseq     uint32
	remoteCseq    uint32

	// sipRemote is where in-dialog requests go: the proxy for outbound
	// calls, the recorded INVITE source for inbound ones.
	sipRemote *net.UDPAddr

	media *sipmsg.MediaInfo

	// okResponse is the serialized 200 OK, kept for INVITE retransmits
	// while waiting for the ACK.
	okResponse []byte
	okSent     time.Time

	answered     time.Time
	cancelBridge context.CancelFunc
}

// InCall reports whether a call is established.
func (c *Client) InCall() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.call != nil && c.call.state == StateActive
}

// Hangup ends the active call with a BYE, or aborts a pending ring.
func (c *Client) Hangup() {
	c.mu.Lock()
	inCall := c.call != nil && c.call.state == StateActive
	if inCall {
		c.byeLocked(ReasonLocalBye, "hangup")
	}
	c.mu.Unlock()

	if !inCall {
		c.CancelRing()
	}
}

func (c *Client) micUsable() bool {
	return c.mic != nil && c.mic.Enabled() && !c.mic.Muted()
}

func (c *Client) speakerUsable() bool {
	return c.spk != nil && c.spk.Enabled() && !c.spk.Muted()
}

// handleInboundInviteLocked auto-answers a call from the household: 100
// Trying followed immediately by 200 OK with our SDP answer. Audio starts
// once the ACK arrives.
func (c *Client) handleInboundInviteLocked(msg *sipmsg.Message, src *net.UDPAddr) {
	cseq, _, err := msg.CSeq()
	if err != nil {
		c.sendTo(sipmsg.NewResponse(msg, 400, ""), src)
		return
	}

	// Retransmission of the INVITE we already answered
	if c.call != nil && c.call.callID == msg.Header("Call-ID") && c.call.remoteCseq == cseq {
		if c.call.state == StateWaitingACK && c.call.okResponse != nil {
			c.sendRawTo(c.call.okResponse, src)
		}
		return
	}

	if c.call != nil || c.inv != nil {
		slog.Info("[SIP] Rejecting INVITE, busy", "from", msg.Header("From"))
		c.sendTo(sipmsg.NewResponse(msg, 486, ""), src)
		return
	}

	offer, err := sipmsg.ParseMediaInfo(msg.Body)
	if err != nil {
		slog.Warn("[SIP] Rejecting INVITE, bad SDP", "error", err)
		c.sendTo(sipmsg.NewResponse(msg, 400, "Bad SDP"), src)
		return
	}

	dir := sipmsg.DirectionFor(c.micUsable(), c.speakerUsable())
	answer, err := sipmsg.BuildAudioSDP(c.cfg.AdvertiseAddr, c.LocalRTPPort(), dir)
	if err != nil {
		slog.Error("[SIP] Building answer SDP failed", "error", err)
		c.sendTo(sipmsg.NewResponse(msg, 500, ""), src)
		return
	}

	s := &session{
		state:         StateWaitingACK,
		inbound:       true,
		callID:        msg.Header("Call-ID"),
		localTag:      sipmsg.NewTag(),
		remoteTag:     sipmsg.Tag(msg.Header("From")),
		remoteURI:     sipmsg.URI(msg.Header("From")),
		remoteContact: sipmsg.URI(msg.Header("Contact")),
		remoteCseq:    cseq,
		sipRemote:     src,
		media:         offer,
	}

	c.sendTo(sipmsg.NewResponse(msg, 100, ""), src)

	ok := sipmsg.NewResponse(msg, 200, "")
	ok.SetHeader("To", msg.Header("To")+";tag="+s.localTag)
	ok.AddHeader("Contact", c.contactValue())
	ok.AddHeader("Content-Type", "application/sdp")
	ok.Body = answer
	s.okResponse = ok.Bytes()
	s.okSent = time.Now()
	c.sendRawTo(s.okResponse, src)

	c.call = s
	slog.Info("[SIP] Answering inbound call", "from", s.remoteURI, "codec", offer.CodecName)
}

func (c *Client) sendRawTo(data []byte, to *net.UDPAddr) {
	if _, err := c.conn.WriteToUDP(data, to); err != nil {
		slog.Warn("[SIP] Send failed", "to", to.String(), "error", err)
	}
}

// handleAckLocked completes the inbound call setup.
func (c *Client) handleAckLocked(msg *sipmsg.Message) {
	s := c.call
	if s == nil || s.state != StateWaitingACK || s.callID != msg.Header("Call-ID") {
		return
	}
	s.okResponse = nil
	c.startBridgeLocked(s)
	slog.Info("[SIP] Inbound call established", "from", s.remoteURI)
}

func (c *Client) handleByeLocked(msg *sipmsg.Message, src *net.UDPAddr) {
	s := c.call
	if s == nil || s.callID != msg.Header("Call-ID") {
		c.sendTo(sipmsg.NewResponse(msg, 481, ""), src)
		return
	}
	c.sendTo(sipmsg.NewResponse(msg, 200, ""), src)
	c.teardownLocked(ReasonRemoteBye, "remote hangup")
}

func (c *Client) handleCancelLocked(msg *sipmsg.Message, src *net.UDPAddr) {
	s := c.call
	if s == nil || s.state != StateWaitingACK || s.callID != msg.Header("Call-ID") {
		c.sendTo(sipmsg.NewResponse(msg, 481, ""), src)
		return
	}
	c.sendTo(sipmsg.NewResponse(msg, 200, ""), src)
	c.teardownLocked(ReasonCancelled, "caller cancelled")
}

// startBridgeLocked spins up the RTP audio bridge for an answered call.
func (c *Client) startBridgeLocked(s *session) {
	if !s.state.CanTransitionTo(StateActive) {
		return
	}

	remoteIP := net.ParseIP(s.media.Address)
	if remoteIP == nil {
		if addrs, err := net.LookupIP(s.media.Address); err == nil && len(addrs) > 0 {
			remoteIP = addrs[0]
		}
	}
	if remoteIP == nil {
		slog.Error("[SIP] Unresolvable RTP address", "address", s.media.Address)
		c.byeLocked(ReasonError, "unresolvable RTP address")
		return
	}

	dtmfPT := s.media.DTMFPayload
	if dtmfPT == 0 {
		dtmfPT = sipmsg.PayloadDTMF
	}

	// Direction is from the peer's point of view: a sendonly peer only
	// sends, so our transmit leg stays off.
	dir := s.media.Direction
	sendAudio := dir != "sendonly" && dir != "inactive"
	recvAudio := dir != "recvonly" && dir != "inactive"

	bridge := media.NewBridge(media.BridgeConfig{
		Conn:        c.rtp,
		Remote:      &net.UDPAddr{IP: remoteIP, Port: s.media.Port},
		PayloadType: s.media.PayloadType,
		DTMFPayload: dtmfPT,
		SendAudio:   sendAudio,
		RecvAudio:   recvAudio,
		Mic:         c.mic,
		Speaker:     c.spk,
		OnDTMF: func(digit rune) {
			c.publish(Event{Type: EventDTMF, Digit: digit})
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelBridge = cancel
	s.state = StateActive
	s.answered = time.Now()
	go bridge.Run(ctx)

	c.publish(Event{Type: EventCallStarted})
}

// byeLocked sends the in-dialog BYE and tears the session down without
// waiting for the response.
func (c *Client) byeLocked(reason EndReason, detail string) {
	s := c.call
	if s == nil {
		return
	}

	requestURI := s.remoteContact
	if requestURI == "" {
		requestURI = s.remoteURI
	}

	s.localCseq++
	from := c.fromValue(s.localTag)
	to := sipmsg.FormatAddress("", s.remoteURI, s.remoteTag)

	bye := c.newRequest("BYE", requestURI, from, to, s.callID, s.localCseq, sipmsg.NewBranch())
	c.sendTo(bye, s.sipRemote)

	c.teardownLocked(reason, detail)
}

func (c *Client) teardownLocked(reason EndReason, detail string) {
	s := c.call
	if s == nil {
		return
	}
	if s.cancelBridge != nil {
		s.cancelBridge()
	}
	wasActive := s.state == StateActive
	s.state = StateTerminated
	c.call = nil

	slog.Info("[SIP] Call ended", "reason", reason.String(), "detail", detail)
	if wasActive || s.inbound {
		c.publish(Event{Type: EventCallEnded, Detail: reason.String() + ": " + detail})
	}
}

// tickCallLocked applies the ACK wait and the call hold limit.
func (c *Client) tickCallLocked(now time.Time) {
	s := c.call
	if s == nil {
		return
	}

	switch s.state {
	case StateWaitingACK:
		if now.Sub(s.okSent) >= ackWait {
			slog.Warn("[SIP] No ACK for answered call, giving up")
			c.teardownLocked(ReasonTimeout, "no ACK")
		}
	case StateActive:
		if now.Sub(s.answered) >= holdLimit {
			c.byeLocked(ReasonLocalBye, "hold limit reached")
		}
	}
}
