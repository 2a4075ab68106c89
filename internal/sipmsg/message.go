// Package sipmsg implements the textual SIP message codec: request and
// response parsing, serialization, header access, and the SDP bodies the
// doorbell exchanges. It deliberately covers only what a single user agent
// talking to a home PBX needs.
package sipmsg

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Header is a single SIP header line. Order is preserved because Via
// ordering matters for routing.
type Header struct {
	Name  string
	Value string
}

// Message is a parsed SIP request or response.
type Message struct {
	Request    bool
	Method     string // Requests only
	RequestURI string // Requests only
	StatusCode int    // Responses only
	Reason     string // Responses only
	Headers    []Header
	Body       []byte
}

// Parse decodes a SIP datagram. Lines may be terminated by CRLF or bare LF.
func Parse(data []byte) (*Message, error) {
	headPart, body, _ := bytes.Cut(data, []byte("\r\n\r\n"))
	if body == nil {
		headPart, body, _ = bytes.Cut(data, []byte("\n\n"))
	}

	lines := splitLines(headPart)
	if len(lines) == 0 {
		return nil, fmt.Errorf("empty message")
	}

	msg := &Message{}
	if err := parseStartLine(lines[0], msg); err != nil {
		return nil, err
	}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		name, value, found := strings.Cut(line, ":")
		if !found {
			return nil, fmt.Errorf("malformed header line: %q", line)
		}
		msg.Headers = append(msg.Headers, Header{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}

	// Honor Content-Length when present; otherwise take the remainder.
	if cl := msg.Header("Content-Length"); cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("bad Content-Length: %q", cl)
		}
		if n > len(body) {
			n = len(body)
		}
		body = body[:n]
	}
	if len(body) > 0 {
		msg.Body = body
	}

	return msg, nil
}

func splitLines(data []byte) []string {
	raw := strings.Split(string(data), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		lines = append(lines, strings.TrimRight(l, "\r"))
	}
	return lines
}

func parseStartLine(line string, msg *Message) error {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 3 {
		return fmt.Errorf("malformed start line: %q", line)
	}

	if strings.HasPrefix(fields[0], "SIP/") {
		code, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("malformed status code: %q", fields[1])
		}
		msg.StatusCode = code
		msg.Reason = fields[2]
		return nil
	}

	if !strings.HasPrefix(fields[2], "SIP/") {
		return fmt.Errorf("not a SIP start line: %q", line)
	}
	msg.Request = true
	msg.Method = fields[0]
	msg.RequestURI = fields[1]
	return nil
}

// Header returns the first header with the given name, case-insensitively.
// Returns "" when absent.
func (m *Message) Header(name string) string {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// HeaderValues returns all headers with the given name in order.
func (m *Message) HeaderValues(name string) []string {
	var out []string
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			out = append(out, h.Value)
		}
	}
	return out
}

// AddHeader appends a header.
func (m *Message) AddHeader(name, value string) {
	m.Headers = append(m.Headers, Header{Name: name, Value: value})
}

// SetHeader replaces the first header with the given name, or appends it.
func (m *Message) SetHeader(name, value string) {
	for i, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			m.Headers[i].Value = value
			return
		}
	}
	m.AddHeader(name, value)
}

// Bytes serializes the message with a correct Content-Length.
func (m *Message) Bytes() []byte {
	var b bytes.Buffer
	if m.Request {
		fmt.Fprintf(&b, "%s %s SIP/2.0\r\n", m.Method, m.RequestURI)
	} else {
		fmt.Fprintf(&b, "SIP/2.0 %d %s\r\n", m.StatusCode, m.Reason)
	}
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, "Content-Length") {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	fmt.Fprintf(&b, "Content-Length: %d\r\n\r\n", len(m.Body))
	b.Write(m.Body)
	return b.Bytes()
}

// CSeq returns the sequence number and method from the CSeq header.
func (m *Message) CSeq() (uint32, string, error) {
	v := m.Header("CSeq")
	if v == "" {
		return 0, "", fmt.Errorf("no CSeq header")
	}
	numStr, method, found := strings.Cut(v, " ")
	if !found {
		return 0, "", fmt.Errorf("malformed CSeq: %q", v)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(numStr), 10, 32)
	if err != nil {
		return 0, "", fmt.Errorf("malformed CSeq number: %q", v)
	}
	return uint32(n), strings.TrimSpace(method), nil
}

// Tag extracts the tag parameter from a From or To header value.
// Returns "" when no tag is present.
func Tag(headerValue string) string {
	return headerParam(headerValue, "tag")
}

// headerParam extracts a ;name=value parameter outside the <> URI part.
func headerParam(headerValue, name string) string {
	// Skip past the enclosed URI so URI parameters are not mistaken
	// for header parameters.
	rest := headerValue
	if idx := strings.LastIndex(headerValue, ">"); idx >= 0 {
		rest = headerValue[idx+1:]
	}
	lower := strings.ToLower(rest)
	marker := ";" + name + "="
	idx := strings.Index(lower, marker)
	if idx < 0 {
		return ""
	}
	val := rest[idx+len(marker):]
	if end := strings.IndexAny(val, ";> \t"); end >= 0 {
		val = val[:end]
	}
	return val
}

// URI extracts the SIP URI from a From/To/Contact header value. Handles
// both "Name" <sip:uri>;params and bare sip:uri;params forms.
func URI(headerValue string) string {
	if start := strings.Index(headerValue, "<"); start >= 0 {
		if end := strings.Index(headerValue[start:], ">"); end > 0 {
			return headerValue[start+1 : start+end]
		}
	}
	uri := strings.TrimSpace(headerValue)
	if idx := strings.Index(uri, ";"); idx >= 0 {
		uri = uri[:idx]
	}
	return uri
}

// ViaBranch extracts the branch parameter from a Via header value.
func ViaBranch(via string) string {
	lower := strings.ToLower(via)
	idx := strings.Index(lower, "branch=")
	if idx < 0 {
		return ""
	}
	val := via[idx+len("branch="):]
	if end := strings.IndexAny(val, "; \t"); end >= 0 {
		val = val[:end]
	}
	return val
}
