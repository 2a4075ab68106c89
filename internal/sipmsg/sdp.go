package sipmsg

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pion/sdp/v3"
)

// G.711 payload types and the RFC 4733 default.
const (
	PayloadPCMU = 0
	PayloadPCMA = 8
	PayloadDTMF = 101
)

// MediaInfo is the negotiated audio description extracted from a peer SDP.
type MediaInfo struct {
	Address     string // RTP destination address
	Port        int    // RTP destination port
	PayloadType uint8  // Selected G.711 payload type (0 or 8)
	CodecName   string // "PCMU" or "PCMA"
	DTMFPayload uint8  // telephone-event payload type, 0 when not offered
	Direction   string // sendrecv/sendonly/recvonly/inactive, "" when unset
}

// BuildAudioSDP renders the doorbell's audio SDP (offer and answer share
// the same shape): G.711 µ-law and A-law plus telephone-event, 20 ms
// packet time, and the given direction attribute.
func BuildAudioSDP(ip string, port int, direction string) ([]byte, error) {
	sessID := uint64(time.Now().Unix())

	attrs := []sdp.Attribute{
		{Key: "rtpmap", Value: "0 PCMU/8000"},
		{Key: "rtpmap", Value: "8 PCMA/8000"},
		{Key: "rtpmap", Value: fmt.Sprintf("%d telephone-event/8000", PayloadDTMF)},
		{Key: "fmtp", Value: fmt.Sprintf("%d 0-15", PayloadDTMF)},
		{Key: "ptime", Value: "20"},
	}
	if direction != "" {
		attrs = append(attrs, sdp.Attribute{Key: direction})
	}

	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "doorbell",
			SessionID:      sessID,
			SessionVersion: sessID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: ip,
		},
		SessionName: "Doorbell Call",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: ip},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: port},
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{"0", "8", strconv.Itoa(PayloadDTMF)},
				},
				Attributes: attrs,
			},
		},
	}

	body, err := desc.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal SDP: %w", err)
	}
	return body, nil
}

// ParseMediaInfo extracts the audio media description from a peer SDP.
// The first G.711 codec in the format list wins, honoring the peer's
// preference order. Returns an error when no usable G.711 audio line
// exists.
func ParseMediaInfo(body []byte) (*MediaInfo, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("unmarshal SDP: %w", err)
	}

	var audio *sdp.MediaDescription
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media == "audio" {
			audio = md
			break
		}
	}
	if audio == nil {
		return nil, fmt.Errorf("no audio media in SDP")
	}

	info := &MediaInfo{Port: audio.MediaName.Port.Value}

	// Connection address: media level wins over session level.
	if audio.ConnectionInformation != nil && audio.ConnectionInformation.Address != nil {
		info.Address = audio.ConnectionInformation.Address.Address
	} else if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		info.Address = desc.ConnectionInformation.Address.Address
	}
	if info.Address == "" {
		return nil, fmt.Errorf("no connection address in SDP")
	}

	// Codec selection: the first G.711 format listed is the peer's
	// preference.
	info.CodecName = ""
	for _, f := range audio.MediaName.Formats {
		switch f {
		case "0":
			info.PayloadType = PayloadPCMU
			info.CodecName = "PCMU"
		case "8":
			info.PayloadType = PayloadPCMA
			info.CodecName = "PCMA"
		}
		if info.CodecName != "" {
			break
		}
	}
	if info.CodecName == "" {
		return nil, fmt.Errorf("no G.711 codec in SDP formats %v", audio.MediaName.Formats)
	}

	for _, attr := range audio.Attributes {
		switch attr.Key {
		case "rtpmap":
			// "<pt> telephone-event/8000"
			ptStr, codec, found := strings.Cut(attr.Value, " ")
			if !found {
				continue
			}
			if strings.HasPrefix(strings.ToLower(codec), "telephone-event/") {
				if pt, err := strconv.Atoi(ptStr); err == nil && pt > 0 && pt < 128 {
					info.DTMFPayload = uint8(pt)
				}
			}
		case "sendrecv", "sendonly", "recvonly", "inactive":
			info.Direction = attr.Key
		}
	}
	if info.Direction == "" {
		for _, attr := range desc.Attributes {
			switch attr.Key {
			case "sendrecv", "sendonly", "recvonly", "inactive":
				info.Direction = attr.Key
			}
		}
	}

	return info, nil
}

// DirectionFor computes the SDP direction attribute from the audio device
// states: a usable microphone allows sending, a usable speaker allows
// receiving.
func DirectionFor(micOK, speakerOK bool) string {
	switch {
	case micOK && speakerOK:
		return "sendrecv"
	case micOK:
		return "sendonly"
	case speakerOK:
		return "recvonly"
	default:
		return "inactive"
	}
}
