package sipmsg

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// BranchMagic is the RFC 3261 magic cookie every Via branch starts with.
const BranchMagic = "z9hG4bK"

// NewBranch generates a unique Via branch parameter.
func NewBranch() string {
	return BranchMagic + randomHex(8)
}

// NewTag generates a From/To tag.
func NewTag() string {
	return randomHex(8)
}

// NewCallID generates a Call-ID scoped to the given host.
func NewCallID(host string) string {
	return uuid.New().String() + "@" + host
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is not survivable for ID generation
		panic(fmt.Sprintf("sipmsg: rand.Read: %v", err))
	}
	return hex.EncodeToString(b)
}

// FormatAddress renders a From/To/Contact value: optional display name,
// URI in angle brackets, optional tag.
func FormatAddress(display, uri, tag string) string {
	var out string
	if display != "" {
		out = fmt.Sprintf("%q ", display)
	}
	out += "<" + uri + ">"
	if tag != "" {
		out += ";tag=" + tag
	}
	return out
}

// FormatVia renders a UDP Via header value for the given local endpoint.
func FormatVia(host string, port int, branch string) string {
	return fmt.Sprintf("SIP/2.0/UDP %s:%d;branch=%s;rport", host, port, branch)
}

// NewResponse builds a response to req, copying the headers a UAS must
// echo: all Via values in order, From, To, Call-ID, and CSeq.
func NewResponse(req *Message, code int, reason string) *Message {
	if reason == "" {
		reason = ReasonPhrase(code)
	}
	resp := &Message{StatusCode: code, Reason: reason}
	for _, via := range req.HeaderValues("Via") {
		resp.AddHeader("Via", via)
	}
	resp.AddHeader("From", req.Header("From"))
	resp.AddHeader("To", req.Header("To"))
	resp.AddHeader("Call-ID", req.Header("Call-ID"))
	resp.AddHeader("CSeq", req.Header("CSeq"))
	return resp
}

// ReasonPhrase returns the standard reason phrase for common status codes.
func ReasonPhrase(code int) string {
	switch code {
	case 100:
		return "Trying"
	case 180:
		return "Ringing"
	case 183:
		return "Session Progress"
	case 200:
		return "OK"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 407:
		return "Proxy Authentication Required"
	case 408:
		return "Request Timeout"
	case 415:
		return "Unsupported Media Type"
	case 481:
		return "Call/Transaction Does Not Exist"
	case 486:
		return "Busy Here"
	case 487:
		return "Request Terminated"
	case 488:
		return "Not Acceptable Here"
	case 500:
		return "Server Internal Error"
	case 501:
		return "Not Implemented"
	case 603:
		return "Decline"
	default:
		return "Unknown"
	}
}
