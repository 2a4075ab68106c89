// Package rtsp implements the doorbell's RTSP media server: a control
// channel on TCP, up to two concurrent viewer sessions, and RTP streaming
// of JPEG video and AAC audio over interleaved TCP or UDP.
package rtsp

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// maxRequestSize bounds a single control request.
const maxRequestSize = 2048

// Request is a parsed RTSP control request.
type Request struct {
	Method  string
	URI     string
	Headers map[string]string // Keys lowercased
}

// Header returns a header value by name, case-insensitively.
func (r *Request) Header(name string) string {
	return r.Headers[strings.ToLower(name)]
}

// CSeq returns the request sequence number, 0 when absent.
func (r *Request) CSeq() int {
	n, _ := strconv.Atoi(r.Header("CSeq"))
	return n
}

// ReadRequest reads one RTSP request from the control channel.
func ReadRequest(br *bufio.Reader) (*Request, error) {
	var raw bytes.Buffer
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		raw.WriteString(line)
		if raw.Len() > maxRequestSize {
			return nil, fmt.Errorf("request exceeds %d bytes", maxRequestSize)
		}
		if strings.TrimRight(line, "\r\n") == "" && raw.Len() > 2 {
			break
		}
	}
	return parseRequest(raw.String())
}

func parseRequest(raw string) (*Request, error) {
	lines := strings.Split(raw, "\n")
	if len(lines) == 0 {
		return nil, fmt.Errorf("empty request")
	}

	fields := strings.Fields(strings.TrimSpace(lines[0]))
	if len(fields) < 3 || !strings.HasPrefix(fields[2], "RTSP/") {
		return nil, fmt.Errorf("malformed request line: %q", strings.TrimSpace(lines[0]))
	}

	req := &Request{
		Method:  fields[0],
		URI:     fields[1],
		Headers: make(map[string]string),
	}
	for _, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		req.Headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}
	return req, nil
}

// Response builds an RTSP response. extra headers are rendered in order.
type Response struct {
	Code    int
	Reason  string
	CSeq    int
	Headers []string // Pre-rendered "Name: value" lines
	Body    []byte
}

// Bytes serializes the response.
func (r *Response) Bytes() []byte {
	reason := r.Reason
	if reason == "" {
		reason = reasonPhrase(r.Code)
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "RTSP/1.0 %d %s\r\n", r.Code, reason)
	fmt.Fprintf(&b, "CSeq: %d\r\n", r.CSeq)
	for _, h := range r.Headers {
		b.WriteString(h)
		b.WriteString("\r\n")
	}
	if len(r.Body) > 0 {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(r.Body))
	}
	b.WriteString("\r\n")
	b.Write(r.Body)
	return b.Bytes()
}

func reasonPhrase(code int) string {
	switch code {
	case 200:
		return "OK"
	case 400:
		return "Bad Request"
	case 404:
		return "Not Found"
	case 453:
		return "Not Enough Bandwidth"
	case 454:
		return "Session Not Found"
	case 461:
		return "Unsupported Transport"
	case 500:
		return "Internal Server Error"
	case 501:
		return "Not Implemented"
	default:
		return "Unknown"
	}
}

// transportSpec is a parsed SETUP Transport header.
type transportSpec struct {
	tcp         bool
	interleaved [2]int // TCP channel pair
	clientPorts [2]int // UDP port pair
	hasChannels bool
	hasUDPPorts bool
}

// parseTransport understands the two transports the server speaks:
// RTP/AVP/TCP with interleaved channels, and RTP/AVP (UDP) with
// client_port.
func parseTransport(value string) (*transportSpec, error) {
	spec := &transportSpec{}
	parts := strings.Split(value, ";")
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty Transport header")
	}

	proto := strings.TrimSpace(parts[0])
	switch {
	case strings.EqualFold(proto, "RTP/AVP/TCP"):
		spec.tcp = true
	case strings.EqualFold(proto, "RTP/AVP") || strings.EqualFold(proto, "RTP/AVP/UDP"):
	default:
		return nil, fmt.Errorf("unsupported transport %q", proto)
	}

	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if v, ok := strings.CutPrefix(p, "interleaved="); ok {
			lo, hi, err := parsePortPair(v)
			if err != nil {
				return nil, fmt.Errorf("bad interleaved spec: %w", err)
			}
			spec.interleaved = [2]int{lo, hi}
			spec.hasChannels = true
		}
		if v, ok := strings.CutPrefix(p, "client_port="); ok {
			lo, hi, err := parsePortPair(v)
			if err != nil {
				return nil, fmt.Errorf("bad client_port spec: %w", err)
			}
			spec.clientPorts = [2]int{lo, hi}
			spec.hasUDPPorts = true
		}
	}

	if !spec.tcp && !spec.hasUDPPorts {
		return nil, fmt.Errorf("UDP transport without client_port")
	}
	return spec, nil
}

func parsePortPair(v string) (int, int, error) {
	loStr, hiStr, found := strings.Cut(v, "-")
	lo, err := strconv.Atoi(strings.TrimSpace(loStr))
	if err != nil {
		return 0, 0, err
	}
	hi := lo + 1
	if found {
		if hi, err = strconv.Atoi(strings.TrimSpace(hiStr)); err != nil {
			return 0, 0, err
		}
	}
	return lo, hi, nil
}
