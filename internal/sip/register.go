package sip

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/homekitknock/knockd/internal/config"
	"github.com/homekitknock/knockd/internal/digest"
	"github.com/homekitknock/knockd/internal/sipmsg"
)

// registration tracks the REGISTER refresh cycle. The Call-ID and From tag
// stay fixed for the lifetime of the binding; CSeq increments per attempt.
type registration struct {
	callID      string
	fromTag     string
	cseq        uint32
	lastAttempt time.Time
	lastOK      time.Time
	authSent    bool
}

// Register sends a REGISTER immediately.
func (c *Client) Register() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reg.authSent = false
	c.sendRegisterLocked(nil)
}

// RegistrationOK reports whether the binding is fresh: the last successful
// REGISTER must be within twice the refresh interval.
func (c *Client) RegistrationOK() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.reg.lastOK.IsZero() && time.Since(c.reg.lastOK) < 2*config.RegisterInterval
}

// tickRegisterLocked refreshes the binding every register interval. The
// refresh waits while a call or ring is in progress so it cannot disturb
// the live transaction.
func (c *Client) tickRegisterLocked(now time.Time) {
	if !c.reg.lastAttempt.IsZero() && now.Sub(c.reg.lastAttempt) < config.RegisterInterval {
		return
	}
	if c.call != nil || c.inv != nil {
		return
	}
	c.reg.authSent = false
	c.sendRegisterLocked(nil)
}

func (c *Client) sendRegisterLocked(ch *digest.Challenge) {
	if c.reg.callID == "" {
		c.reg.callID = sipmsg.NewCallID(c.cfg.AdvertiseAddr)
		c.reg.fromTag = sipmsg.NewTag()
	}
	c.reg.cseq++
	c.reg.lastAttempt = time.Now()

	uri := "sip:" + c.cfg.SIPDomain
	from := c.fromValue(c.reg.fromTag)
	to := sipmsg.FormatAddress("", c.localURI(), "")

	msg := c.newRequest("REGISTER", uri, from, to, c.reg.callID, c.reg.cseq, sipmsg.NewBranch())
	msg.AddHeader("Contact", c.contactValue())
	msg.AddHeader("Expires", strconv.Itoa(config.RegisterExpires))
	if ch != nil {
		msg.AddHeader(ch.HeaderName(),
			ch.Authorization(c.cfg.SIPUser, c.cfg.SIPPassword, "REGISTER", uri, sipmsg.NewTag(), 1))
	}

	slog.Debug("[SIP] Sending REGISTER", "cseq", c.reg.cseq, "auth", ch != nil)
	c.send(msg)
}

func (c *Client) handleRegisterResponseLocked(msg *sipmsg.Message) {
	cseq, _, err := msg.CSeq()
	if err != nil || cseq != c.reg.cseq {
		slog.Debug("[SIP] Dropping stale REGISTER response", "cseq", cseq, "current", c.reg.cseq)
		return
	}

	switch {
	case msg.StatusCode >= 200 && msg.StatusCode < 300:
		c.reg.lastOK = time.Now()
		c.reg.authSent = false
		slog.Info("[SIP] Registered", "expires", config.RegisterExpires)
		c.publish(Event{Type: EventRegistered})

	case msg.StatusCode == 401 || msg.StatusCode == 407:
		if c.reg.authSent {
			slog.Warn("[SIP] Registration auth rejected", "status", msg.StatusCode)
			c.publish(Event{Type: EventRegisterFailed, Detail: msg.Reason})
			return
		}
		ch, err := parseAuthChallenge(msg)
		if err != nil {
			slog.Warn("[SIP] Bad registration challenge", "error", err)
			c.publish(Event{Type: EventRegisterFailed, Detail: err.Error()})
			return
		}
		c.reg.authSent = true
		c.sendRegisterLocked(ch)

	case msg.StatusCode >= 300:
		slog.Warn("[SIP] Registration failed", "status", msg.StatusCode, "reason", msg.Reason)
		c.publish(Event{Type: EventRegisterFailed, Detail: msg.Reason})
	}
}

// parseAuthChallenge extracts the digest challenge from a 401 or 407.
func parseAuthChallenge(msg *sipmsg.Message) (*digest.Challenge, error) {
	if msg.StatusCode == 407 {
		return digest.ParseChallenge(msg.Header("Proxy-Authenticate"), true)
	}
	return digest.ParseChallenge(msg.Header("WWW-Authenticate"), false)
}
