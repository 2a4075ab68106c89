package sip

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/homekitknock/knockd/internal/digest"
	"github.com/homekitknock/knockd/internal/sipmsg"
)

// invite is the outbound INVITE transaction started by a button press.
type invite struct {
	state       CallState
	target      string
	requestURI  string
	callID      string
	fromTag     string
	branch      string
	cseq        uint32
	authSent    bool // One authenticated resend after 401/407
	sdp         []byte
	started     time.Time
	cancelStart time.Time
}

// Ring starts an outbound call toward the given extension. Fails when a
// ring or call is already in progress.
func (c *Client) Ring(target string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inv != nil || c.call != nil {
		return fmt.Errorf("call already in progress")
	}

	dir := sipmsg.DirectionFor(c.micUsable(), c.speakerUsable())
	sdp, err := sipmsg.BuildAudioSDP(c.cfg.AdvertiseAddr, c.LocalRTPPort(), dir)
	if err != nil {
		return fmt.Errorf("build SDP offer: %w", err)
	}

	c.inv = &invite{
		state:      StateInviting,
		target:     target,
		requestURI: "sip:" + target + "@" + c.cfg.SIPDomain,
		callID:     sipmsg.NewCallID(c.cfg.AdvertiseAddr),
		fromTag:    sipmsg.NewTag(),
		branch:     sipmsg.NewBranch(),
		cseq:       1,
		sdp:        sdp,
		started:    time.Now(),
	}

	slog.Info("[SIP] Ringing", "target", target, "callID", c.inv.callID)
	c.sendInviteLocked(nil)
	return nil
}

// CancelRing aborts an outbound ring that has not been answered yet.
func (c *Client) CancelRing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inv == nil {
		return
	}
	switch c.inv.state {
	case StateRinging:
		c.sendCancelLocked(time.Now())
	case StateInviting:
		// No provisional yet, CANCEL would be rejected. Just abandon.
		c.endInviteLocked(ReasonCancelled, "cancelled before provisional")
	}
}

func (c *Client) sendInviteLocked(ch *digest.Challenge) {
	inv := c.inv
	from := c.fromValue(inv.fromTag)
	to := sipmsg.FormatAddress("", inv.requestURI, "")

	msg := c.newRequest("INVITE", inv.requestURI, from, to, inv.callID, inv.cseq, inv.branch)
	msg.AddHeader("Contact", c.contactValue())
	if ch != nil {
		// The PBX validates the INVITE digest against the registrar URI,
		// not the dialed target.
		digestURI := "sip:" + c.cfg.SIPDomain
		msg.AddHeader(ch.HeaderName(),
			ch.Authorization(c.cfg.SIPUser, c.cfg.SIPPassword, "INVITE", digestURI, sipmsg.NewTag(), 1))
	}
	msg.AddHeader("Content-Type", "application/sdp")
	msg.Body = inv.sdp

	c.send(msg)
}

// sendCancelLocked cancels the pending INVITE. CANCEL reuses the INVITE's
// branch and CSeq number.
func (c *Client) sendCancelLocked(now time.Time) {
	inv := c.inv
	from := c.fromValue(inv.fromTag)
	to := sipmsg.FormatAddress("", inv.requestURI, "")

	msg := c.newRequest("CANCEL", inv.requestURI, from, to, inv.callID, inv.cseq, inv.branch)
	c.send(msg)

	inv.state = StateCancelling
	inv.cancelStart = now
	slog.Info("[SIP] Ring cancelled", "target", inv.target)
}

func (c *Client) handleInviteResponseLocked(msg *sipmsg.Message) {
	inv := c.inv
	if inv == nil || msg.Header("Call-ID") != inv.callID {
		slog.Debug("[SIP] INVITE response for unknown transaction", "status", msg.StatusCode)
		return
	}

	// A UDP retransmission of an earlier response (the pre-auth 401, say)
	// must not disturb the live transaction.
	cseq, _, err := msg.CSeq()
	if err != nil || cseq != inv.cseq {
		slog.Debug("[SIP] Dropping stale INVITE response", "cseq", cseq, "current", inv.cseq)
		return
	}

	code := msg.StatusCode
	switch {
	case code == 100:
		slog.Debug("[SIP] Trying")

	case code < 200:
		if inv.state == StateInviting && inv.state.CanTransitionTo(StateRinging) {
			inv.state = StateRinging
			slog.Info("[SIP] Remote ringing", "status", code)
		}

	case code == 401 || code == 407:
		c.ackInviteLocked(msg, false)
		if inv.authSent {
			slog.Warn("[SIP] INVITE auth rejected", "status", code)
			c.endInviteLocked(ReasonRejected, msg.Reason)
			return
		}
		ch, err := parseAuthChallenge(msg)
		if err != nil {
			slog.Warn("[SIP] Bad INVITE challenge", "error", err)
			c.endInviteLocked(ReasonError, err.Error())
			return
		}
		// Authenticated retry is a new transaction: CSeq+1, fresh branch
		inv.authSent = true
		inv.cseq++
		inv.branch = sipmsg.NewBranch()
		c.sendInviteLocked(ch)

	case code < 300:
		c.handleInviteAnsweredLocked(msg)

	default:
		c.ackInviteLocked(msg, false)
		reason := ReasonRejected
		if code == 487 {
			reason = ReasonCancelled
		}
		slog.Info("[SIP] Ring ended", "status", code, "reason", msg.Reason)
		c.endInviteLocked(reason, fmt.Sprintf("%d %s", code, msg.Reason))
	}
}

// handleInviteAnsweredLocked turns a 2xx answer into an active session.
func (c *Client) handleInviteAnsweredLocked(msg *sipmsg.Message) {
	inv := c.inv
	if inv.state == StateCancelling {
		// Answer raced our CANCEL. Accept the call anyway; the peer
		// will get the BYE when the caller hangs up.
		slog.Info("[SIP] Answer raced CANCEL, taking the call")
	}

	media, err := sipmsg.ParseMediaInfo(msg.Body)
	if err != nil {
		slog.Warn("[SIP] Unusable answer SDP", "error", err)
		c.ackInviteLocked(msg, true)
		c.endInviteLocked(ReasonError, "bad answer SDP")
		return
	}

	c.ackInviteLocked(msg, true)

	s := &session{
		state:         StateWaitingACK,
		inbound:       false,
		callID:        inv.callID,
		localTag:      inv.fromTag,
		remoteTag:     sipmsg.Tag(msg.Header("To")),
		remoteURI:     sipmsg.URI(msg.Header("To")),
		remoteContact: sipmsg.URI(msg.Header("Contact")),
		localCseq:     inv.cseq,
		sipRemote:     c.proxy,
		media:         media,
	}
	c.inv = nil
	c.call = s
	c.startBridgeLocked(s)

	slog.Info("[SIP] Call answered", "codec", media.CodecName, "remote",
		fmt.Sprintf("%s:%d", media.Address, media.Port))
}

// ackInviteLocked acknowledges a final INVITE response. For non-2xx the
// ACK belongs to the original transaction and reuses the response's Via
// branch; for 2xx it is a new transaction toward the remote contact.
func (c *Client) ackInviteLocked(msg *sipmsg.Message, answered bool) {
	inv := c.inv
	requestURI := inv.requestURI
	branch := sipmsg.ViaBranch(msg.Header("Via"))
	if answered {
		branch = sipmsg.NewBranch()
		if contact := sipmsg.URI(msg.Header("Contact")); contact != "" {
			requestURI = contact
		}
	} else if branch == "" {
		branch = inv.branch
	}

	from := c.fromValue(inv.fromTag)
	ack := c.newRequest("ACK", requestURI, from, msg.Header("To"), inv.callID, inv.cseq, branch)
	c.send(ack)
}

// tickInviteLocked enforces the ring window and the CANCEL grace period,
// and emits the per-second ring tick.
func (c *Client) tickInviteLocked(now time.Time) {
	inv := c.inv
	if inv == nil {
		return
	}

	switch inv.state {
	case StateInviting, StateRinging:
		// Fires every poll while ringing; drives the caller's ring
		// animation.
		c.publish(Event{Type: EventRingTick})
		if now.Sub(inv.started) >= ringDuration {
			if inv.state == StateRinging {
				c.sendCancelLocked(now)
			} else {
				c.endInviteLocked(ReasonTimeout, "no response")
			}
		}
	case StateCancelling:
		if now.Sub(inv.cancelStart) >= cancelWait {
			c.endInviteLocked(ReasonCancelled, "cancel grace period elapsed")
		}
	}
}

func (c *Client) endInviteLocked(reason EndReason, detail string) {
	if c.inv == nil {
		return
	}
	slog.Info("[SIP] Ring finished", "target", c.inv.target, "reason", reason.String(), "detail", detail)
	c.inv = nil
	c.publish(Event{Type: EventCallEnded, Detail: reason.String() + ": " + detail})
}
