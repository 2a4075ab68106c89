package rtsp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/homekitknock/knockd/internal/config"
	"github.com/homekitknock/knockd/internal/device"
)

const (
	streamPath = "/mjpeg/1"
	videoTrack = "track1"
	audioTrack = "track2"
)

// Server is the RTSP media server. It accepts control connections, runs
// the SETUP/PLAY handshake per connection, and drives all playing
// sessions from a single streaming loop that captures each camera frame
// once and fans it out.
type Server struct {
	cfg     *config.Config
	camera  device.Camera
	encoder device.AACEncoder // nil disables the audio track

	listener *net.TCPListener
	udp      *net.UDPConn

	mu       sync.Mutex
	sessions map[string]*Session
	width    int // Fixed by the first captured frame
	height   int
}

// NewServer creates the server. The audio track is offered only when an
// encoder is supplied.
func NewServer(cfg *config.Config, camera device.Camera, encoder device.AACEncoder) *Server {
	return &Server{
		cfg:      cfg,
		camera:   camera,
		encoder:  encoder,
		sessions: make(map[string]*Session),
	}
}

// Port returns the bound control port. Valid after Listen.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Listen binds the control listener and the UDP send socket.
func (s *Server) Listen() error {
	addr := &net.TCPAddr{IP: net.ParseIP(s.cfg.BindAddr), Port: s.cfg.RTSPPort}
	listener, err := net.ListenTCP("tcp4", addr)
	if err != nil {
		return fmt.Errorf("bind RTSP listener: %w", err)
	}

	udp, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP(s.cfg.BindAddr)})
	if err != nil {
		listener.Close()
		return fmt.Errorf("bind RTP send socket: %w", err)
	}

	s.listener = listener
	s.udp = udp
	return nil
}

// Run serves until ctx is cancelled. Listen must have been called.
func (s *Server) Run(ctx context.Context) {
	slog.Info("[RTSP] Server started", "port", s.Port(), "audio", s.encoder != nil)

	go s.acceptLoop()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case <-ticker.C:
			now := time.Now()
			s.sweep(now)
			s.streamVideo(now)
			s.streamAudio(now)
		}
	}
}

func (s *Server) shutdown() {
	s.listener.Close()
	s.udp.Close()

	s.mu.Lock()
	for id, sess := range s.sessions {
		sess.conn.Close()
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	slog.Info("[RTSP] Server stopped")
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Debug("[RTSP] Accept failed", "error", err)
			continue
		}
		go s.handshake(conn)
	}
}

// handshake serves control requests on a fresh connection until PLAY
// succeeds, the client tears down, or the handshake window expires. After
// a successful PLAY the connection belongs to its session and further
// requests are read by the sweep.
func (s *Server) handshake(conn net.Conn) {
	br := bufio.NewReaderSize(conn, maxRequestSize)
	deadline := time.Now().Add(handshakeTimeout)

	for {
		_ = conn.SetReadDeadline(deadline)
		req, err := ReadRequest(br)
		if err != nil {
			slog.Debug("[RTSP] Handshake ended", "client", conn.RemoteAddr().String(), "error", err)
			s.destroyByConn(conn)
			conn.Close()
			return
		}

		slog.Debug("[RTSP] Request", "method", req.Method, "uri", req.URI, "client", conn.RemoteAddr().String())

		switch req.Method {
		case "OPTIONS":
			s.reply(conn, &Response{Code: 200, CSeq: req.CSeq(), Headers: []string{
				"Public: OPTIONS, DESCRIBE, SETUP, PLAY, TEARDOWN",
			}})
		case "DESCRIBE":
			s.handleDescribe(conn, req)
		case "SETUP":
			s.handleSetup(conn, br, req)
		case "PLAY":
			if s.handlePlay(conn, req) {
				return // Connection now owned by the session
			}
		case "TEARDOWN":
			s.handleTeardown(conn, req)
			conn.Close()
			return
		default:
			s.reply(conn, &Response{Code: 501, CSeq: req.CSeq()})
		}
	}
}

func (s *Server) reply(conn net.Conn, resp *Response) {
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	if _, err := conn.Write(resp.Bytes()); err != nil {
		slog.Debug("[RTSP] Reply failed", "error", err)
	}
}

// baseURL is the advertised stream root.
func (s *Server) baseURL() string {
	port := s.cfg.RTSPPort
	if s.listener != nil {
		port = s.Port()
	}
	return fmt.Sprintf("rtsp://%s:%d%s", s.cfg.AdvertiseAddr, port, streamPath)
}

func (s *Server) handleDescribe(conn net.Conn, req *Request) {
	body, err := s.describeSDP()
	if err != nil {
		slog.Error("[RTSP] DESCRIBE failed", "error", err)
		s.reply(conn, &Response{Code: 500, CSeq: req.CSeq()})
		return
	}
	s.reply(conn, &Response{
		Code: 200,
		CSeq: req.CSeq(),
		Headers: []string{
			"Content-Type: application/sdp",
			"Content-Base: " + s.baseURL() + "/",
		},
		Body: body,
	})
}

func (s *Server) handleSetup(conn net.Conn, br *bufio.Reader, req *Request) {
	wantAudio := strings.HasSuffix(req.URI, audioTrack)
	if wantAudio && s.encoder == nil {
		s.reply(conn, &Response{Code: 404, CSeq: req.CSeq()})
		return
	}

	spec, err := parseTransport(req.Header("Transport"))
	if err != nil {
		slog.Debug("[RTSP] Unsupported transport", "error", err)
		s.reply(conn, &Response{Code: 461, CSeq: req.CSeq()})
		return
	}
	if !spec.tcp && !s.cfg.RTSPAllowUDP {
		s.reply(conn, &Response{Code: 461, CSeq: req.CSeq()})
		return
	}
	if spec.tcp && !spec.hasChannels {
		// Channel defaults are per track: video 0-1, audio 2-3, so both
		// tracks of a session never collide
		if wantAudio {
			spec.interleaved = [2]int{2, 3}
		} else {
			spec.interleaved = [2]int{0, 1}
		}
	}

	s.mu.Lock()
	sess := s.sessionForSetupLocked(conn, req)
	if sess == nil {
		if len(s.sessions) >= maxSessions {
			s.mu.Unlock()
			slog.Info("[RTSP] Session table full, rejecting SETUP")
			s.reply(conn, &Response{Code: 453, CSeq: req.CSeq()})
			return
		}
		sess = &Session{
			id:           newSessionID(),
			state:        stateSetup,
			conn:         conn,
			br:           br,
			tcp:          spec.tcp,
			lastActivity: time.Now(),
		}
		s.sessions[sess.id] = sess
	}
	if sess.tcp != spec.tcp {
		// Tracks of one session must share a transport
		s.mu.Unlock()
		s.reply(conn, &Response{Code: 461, CSeq: req.CSeq()})
		return
	}

	var t track
	if wantAudio {
		t = newTrack(aacPayloadType, uint32(s.encoder.SampleRate()))
	} else {
		t = newTrack(26, jpegClockRate)
	}

	var transport string
	if spec.tcp {
		t.channel = spec.interleaved[0]
		transport = fmt.Sprintf("RTP/AVP/TCP;unicast;interleaved=%d-%d",
			spec.interleaved[0], spec.interleaved[1])
	} else {
		host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		t.remote = &net.UDPAddr{IP: net.ParseIP(host), Port: spec.clientPorts[0]}
		serverPort := s.udp.LocalAddr().(*net.UDPAddr).Port
		transport = fmt.Sprintf("RTP/AVP;unicast;client_port=%d-%d;server_port=%d-%d",
			spec.clientPorts[0], spec.clientPorts[1], serverPort, serverPort+1)
	}

	if wantAudio {
		sess.audio = t
	} else {
		sess.video = t
	}
	sess.lastActivity = time.Now()
	id := sess.id
	s.mu.Unlock()

	s.reply(conn, &Response{
		Code: 200,
		CSeq: req.CSeq(),
		Headers: []string{
			"Transport: " + transport,
			fmt.Sprintf("Session: %s;timeout=%d", id, int(sessionTimeout.Seconds())),
		},
	})
}

// sessionForSetupLocked finds the session a SETUP belongs to: the one
// named by its Session header, or the one already created on the same
// connection.
func (s *Server) sessionForSetupLocked(conn net.Conn, req *Request) *Session {
	if id := sessionIDFrom(req); id != "" {
		if sess, ok := s.sessions[id]; ok {
			return sess
		}
	}
	for _, sess := range s.sessions {
		if sess.conn == conn && sess.state == stateSetup {
			return sess
		}
	}
	return nil
}

func sessionIDFrom(req *Request) string {
	id := req.Header("Session")
	if idx := strings.Index(id, ";"); idx >= 0 {
		id = id[:idx]
	}
	return strings.TrimSpace(id)
}

// handlePlay starts streaming. Returns true when the connection was handed
// over to the session.
func (s *Server) handlePlay(conn net.Conn, req *Request) bool {
	s.mu.Lock()
	sess, ok := s.sessions[sessionIDFrom(req)]
	if !ok || sess.conn != conn {
		s.mu.Unlock()
		s.reply(conn, &Response{Code: 454, CSeq: req.CSeq()})
		return false
	}
	sess.state = statePlaying
	sess.lastFrame = time.Time{}
	sess.lastActivity = time.Now()
	id := sess.id
	s.mu.Unlock()

	s.reply(conn, &Response{
		Code: 200,
		CSeq: req.CSeq(),
		Headers: []string{
			"Session: " + id,
			"Range: npt=0.000-",
		},
	})
	slog.Info("[RTSP] Streaming started", "session", id, "client", conn.RemoteAddr().String())
	return true
}

func (s *Server) handleTeardown(conn net.Conn, req *Request) {
	s.mu.Lock()
	id := sessionIDFrom(req)
	_, ok := s.sessions[id]
	if !ok {
		// Fall back to whatever session lives on this connection
		for sid, candidate := range s.sessions {
			if candidate.conn == conn {
				id, ok = sid, true
				break
			}
		}
	}
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	s.reply(conn, &Response{Code: 200, CSeq: req.CSeq()})
	if ok {
		slog.Info("[RTSP] Session torn down", "session", id)
	}
}

// destroyByConn removes any session attached to a dying connection.
func (s *Server) destroyByConn(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.conn == conn {
			delete(s.sessions, id)
			slog.Info("[RTSP] Session destroyed, client gone", "session", id)
		}
	}
}

// sweep polls playing sessions for in-band requests (TEARDOWN, keepalives)
// and expires idle sessions.
func (s *Server) sweep(now time.Time) {
	s.mu.Lock()
	playing := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if sess.state == statePlaying {
			playing = append(playing, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range playing {
		// A short positive deadline: long enough to pull a request that
		// already arrived, short enough not to stall the frame cadence.
		_ = sess.conn.SetReadDeadline(now.Add(time.Millisecond))
		req, err := ReadRequest(sess.br)
		if err != nil {
			if isTimeout(err) {
				if now.Sub(sess.lastActivity) > sessionTimeout {
					slog.Info("[RTSP] Session timed out", "session", sess.id)
					s.removeSession(sess)
				}
				continue
			}
			slog.Info("[RTSP] Control connection lost", "session", sess.id, "error", err)
			s.removeSession(sess)
			continue
		}

		sess.lastActivity = now
		switch req.Method {
		case "TEARDOWN":
			s.reply(sess.conn, &Response{Code: 200, CSeq: req.CSeq()})
			s.removeSession(sess)
		case "OPTIONS", "GET_PARAMETER":
			s.reply(sess.conn, &Response{Code: 200, CSeq: req.CSeq(), Headers: []string{
				"Session: " + sess.id,
			}})
		default:
			s.reply(sess.conn, &Response{Code: 501, CSeq: req.CSeq()})
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout() || errors.Is(err, os.ErrDeadlineExceeded)
}

func (s *Server) removeSession(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	sess.conn.Close()
}

// streamVideo captures one frame when any session's frame window elapsed
// and fans it out to every session that needs it.
func (s *Server) streamVideo(now time.Time) {
	s.mu.Lock()
	var due []*Session
	for _, sess := range s.sessions {
		if sess.state != statePlaying || !sess.video.active || sess.inBackoff(now) {
			continue
		}
		if sess.lastFrame.IsZero() || now.Sub(sess.lastFrame) >= frameInterval {
			due = append(due, sess)
		}
	}
	s.mu.Unlock()

	if len(due) == 0 {
		return
	}

	raw, err := s.camera.CaptureFrame()
	if err != nil {
		slog.Debug("[RTSP] Capture failed", "error", err)
		return
	}
	defer raw.Release()

	frame, err := ParseJPEG(raw.Data)
	if err != nil {
		slog.Warn("[RTSP] Dropping unstreamable frame", "error", err)
		return
	}

	s.mu.Lock()
	s.width, s.height = frame.Width, frame.Height
	s.mu.Unlock()

	payloads := PacketizeJPEG(frame)
	for _, sess := range due {
		s.deliverVideo(sess, payloads, now)
	}
}

func (s *Server) deliverVideo(sess *Session, payloads [][]byte, now time.Time) {
	// Timestamp advances with wall-clock time at 90 kHz, at least one
	// tick per frame
	if !sess.lastFrame.IsZero() {
		elapsed := now.Sub(sess.lastFrame).Milliseconds()
		if elapsed < 1 {
			elapsed = 1
		}
		sess.video.timestamp += uint32(elapsed * 90)
	}
	sess.lastFrame = now

	var sendErr error
	for i, payload := range payloads {
		marker := i == len(payloads)-1
		if err := sess.sendRTP(s.udp, &sess.video, payload, marker); err != nil {
			sendErr = err
			break
		}
		if !sess.tcp && !marker {
			time.Sleep(fragmentPause)
		}
	}
	sess.noteSendResult(sendErr, now)
	if sendErr == nil {
		sess.lastActivity = now
	} else {
		slog.Debug("[RTSP] Video send failed", "session", sess.id, "error", sendErr)
	}
}

// streamAudio forwards encoder output to sessions with an audio track.
// The encoder paces itself at one frame per 1024 samples.
func (s *Server) streamAudio(now time.Time) {
	if s.encoder == nil {
		return
	}

	s.mu.Lock()
	var due []*Session
	for _, sess := range s.sessions {
		if sess.state == statePlaying && sess.audio.active && !sess.inBackoff(now) {
			due = append(due, sess)
		}
	}
	s.mu.Unlock()

	if len(due) == 0 {
		return
	}

	frame, err := s.encoder.NextFrame()
	if err != nil {
		slog.Debug("[RTSP] AAC encode failed", "error", err)
		return
	}
	if frame == nil {
		return
	}

	payload := PacketizeAAC(frame)
	for _, sess := range due {
		sess.audio.timestamp += aacFrameSamples
		err := sess.sendRTP(s.udp, &sess.audio, payload, true)
		sess.noteSendResult(err, now)
		if err != nil {
			slog.Debug("[RTSP] Audio send failed", "session", sess.id, "error", err)
		}
	}
}
