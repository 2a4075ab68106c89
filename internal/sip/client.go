// Package sip implements the doorbell's SIP user agent: registration with
// the home PBX, outbound ring calls toward a configured extension, inbound
// auto-answered calls, and the lifecycle around the RTP audio bridge.
// Engine activity is reported on a buffered event channel.
package sip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/homekitknock/knockd/internal/config"
	"github.com/homekitknock/knockd/internal/device"
	"github.com/homekitknock/knockd/internal/sipmsg"
)

// Engine timing constants.
const (
	ringDuration = config.DefaultRingDuration // Outbound ring window
	cancelWait   = 3 * time.Second            // Grace period after CANCEL for the 487
	ackWait      = 10 * time.Second           // Inbound: 200 OK sent, waiting for ACK
	holdLimit    = 60 * time.Second           // Answered calls are capped at one minute
	tickInterval = 100 * time.Millisecond
)

// Client is the SIP user agent. All state is guarded by mu; the read loop,
// the tick loop, and the public API all funnel through it.
type Client struct {
	cfg   *config.Config
	conn  *net.UDPConn
	rtp   *net.UDPConn
	proxy *net.UDPAddr

	mic device.AudioSource
	spk device.AudioSink

	events chan Event

	mu   sync.Mutex
	reg  registration
	inv  *invite
	call *session
}

// NewClient binds the SIP and RTP sockets and resolves the proxy. The
// client does nothing until Run is called.
func NewClient(cfg *config.Config, mic device.AudioSource, spk device.AudioSink) (*Client, error) {
	proxy, err := net.ResolveUDPAddr("udp4", cfg.ProxyHostPort())
	if err != nil {
		return nil, fmt.Errorf("resolve proxy %s: %w", cfg.ProxyHostPort(), err)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP(cfg.BindAddr), Port: cfg.SIPPort})
	if err != nil {
		return nil, fmt.Errorf("bind SIP socket: %w", err)
	}

	rtp, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP(cfg.BindAddr), Port: cfg.RTPPort})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bind RTP socket: %w", err)
	}

	return &Client{
		cfg:    cfg,
		conn:   conn,
		rtp:    rtp,
		proxy:  proxy,
		mic:    mic,
		spk:    spk,
		events: make(chan Event, eventBufferSize),
	}, nil
}

// Events returns the engine notification channel.
func (c *Client) Events() <-chan Event {
	return c.events
}

// LocalSIPPort returns the bound signaling port.
func (c *Client) LocalSIPPort() int {
	return c.conn.LocalAddr().(*net.UDPAddr).Port
}

// LocalRTPPort returns the bound audio port.
func (c *Client) LocalRTPPort() int {
	return c.rtp.LocalAddr().(*net.UDPAddr).Port
}

// Run registers with the PBX and serves the engine until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	go c.readLoop()

	slog.Info("[SIP] Engine started",
		"proxy", c.proxy.String(), "sipPort", c.LocalSIPPort(), "rtpPort", c.LocalRTPPort())

	c.Register()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return
		case <-ticker.C:
			c.tick(time.Now())
		}
	}
}

func (c *Client) shutdown() {
	c.mu.Lock()
	if c.call != nil {
		c.byeLocked(ReasonLocalBye, "shutdown")
	}
	c.mu.Unlock()
	c.conn.Close()
	c.rtp.Close()
	slog.Info("[SIP] Engine stopped")
}

// readLoop parses and dispatches incoming SIP datagrams until the socket
// is closed.
func (c *Client) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, src, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Debug("[SIP] Read error", "error", err)
			continue
		}

		msg, err := sipmsg.Parse(buf[:n])
		if err != nil {
			slog.Debug("[SIP] Dropping unparseable datagram", "error", err, "from", src.String())
			continue
		}

		c.mu.Lock()
		if msg.Request {
			c.handleRequestLocked(msg, src)
		} else {
			c.handleResponseLocked(msg)
		}
		c.mu.Unlock()
	}
}

// tick drives all time-based transitions.
func (c *Client) tick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tickRegisterLocked(now)
	c.tickInviteLocked(now)
	c.tickCallLocked(now)
}

func (c *Client) handleResponseLocked(msg *sipmsg.Message) {
	_, method, err := msg.CSeq()
	if err != nil {
		slog.Debug("[SIP] Response without usable CSeq", "status", msg.StatusCode)
		return
	}

	switch method {
	case "REGISTER":
		c.handleRegisterResponseLocked(msg)
	case "INVITE":
		c.handleInviteResponseLocked(msg)
	case "BYE", "CANCEL":
		slog.Debug("[SIP] Response", "method", method, "status", msg.StatusCode)
	default:
		slog.Debug("[SIP] Ignoring response", "method", method, "status", msg.StatusCode)
	}
}

func (c *Client) handleRequestLocked(msg *sipmsg.Message, src *net.UDPAddr) {
	switch msg.Method {
	case "OPTIONS":
		resp := sipmsg.NewResponse(msg, 200, "")
		resp.AddHeader("Allow", "INVITE, ACK, BYE, CANCEL, OPTIONS")
		c.sendTo(resp, src)
	case "INVITE":
		c.handleInboundInviteLocked(msg, src)
	case "ACK":
		c.handleAckLocked(msg)
	case "BYE":
		c.handleByeLocked(msg, src)
	case "CANCEL":
		c.handleCancelLocked(msg, src)
	default:
		slog.Debug("[SIP] Unsupported request", "method", msg.Method)
		c.sendTo(sipmsg.NewResponse(msg, 501, ""), src)
	}
}

// send transmits a message to the proxy.
func (c *Client) send(msg *sipmsg.Message) {
	c.sendTo(msg, c.proxy)
}

func (c *Client) sendTo(msg *sipmsg.Message, to *net.UDPAddr) {
	if _, err := c.conn.WriteToUDP(msg.Bytes(), to); err != nil {
		slog.Warn("[SIP] Send failed", "to", to.String(), "error", err)
	}
}

// newRequest assembles the headers every outgoing request carries.
func (c *Client) newRequest(method, requestURI, from, to, callID string, cseq uint32, branch string) *sipmsg.Message {
	msg := &sipmsg.Message{Request: true, Method: method, RequestURI: requestURI}
	msg.AddHeader("Via", sipmsg.FormatVia(c.cfg.AdvertiseAddr, c.LocalSIPPort(), branch))
	msg.AddHeader("Max-Forwards", "70")
	msg.AddHeader("From", from)
	msg.AddHeader("To", to)
	msg.AddHeader("Call-ID", callID)
	msg.AddHeader("CSeq", fmt.Sprintf("%d %s", cseq, method))
	msg.AddHeader("User-Agent", config.DefaultUserAgent)
	return msg
}

// localURI is the account URI at the registrar.
func (c *Client) localURI() string {
	return "sip:" + c.cfg.SIPUser + "@" + c.cfg.SIPDomain
}

// contactValue advertises the bound signaling endpoint.
func (c *Client) contactValue() string {
	return fmt.Sprintf("<sip:%s@%s:%d>", c.cfg.SIPUser, c.cfg.AdvertiseAddr, c.LocalSIPPort())
}

func (c *Client) fromValue(tag string) string {
	return sipmsg.FormatAddress(c.cfg.SIPDisplayName, c.localURI(), tag)
}
