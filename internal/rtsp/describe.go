package rtsp

import (
	"fmt"
	"time"

	"github.com/pion/sdp/v3"
)

// describeSDP renders the DESCRIBE body: a video track always, an audio
// track when an encoder is present. The framesize attribute is only
// advertised once a first frame has fixed the geometry.
func (s *Server) describeSDP() ([]byte, error) {
	s.mu.Lock()
	width, height := s.width, s.height
	s.mu.Unlock()

	sessID := uint64(time.Now().Unix())
	base := s.baseURL()

	videoAttrs := []sdp.Attribute{
		{Key: "rtpmap", Value: "26 JPEG/90000"},
		{Key: "control", Value: base + "/" + videoTrack},
	}
	if width > 0 && height > 0 {
		videoAttrs = append(videoAttrs, sdp.Attribute{
			Key:   "framesize",
			Value: fmt.Sprintf("26 %d-%d", width, height),
		})
	}

	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      sessID,
			SessionVersion: sessID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: s.cfg.AdvertiseAddr,
		},
		SessionName: "Doorbell Stream",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: "0.0.0.0"},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		Attributes: []sdp.Attribute{
			{Key: "control", Value: base},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "video",
					Port:    sdp.RangedPort{Value: 0},
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{"26"},
				},
				Attributes: videoAttrs,
			},
		},
	}

	if s.encoder != nil {
		rate := s.encoder.SampleRate()
		fmtp, err := aacFMTP(rate)
		if err != nil {
			return nil, err
		}
		desc.MediaDescriptions = append(desc.MediaDescriptions, &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:   "audio",
				Port:    sdp.RangedPort{Value: 0},
				Protos:  []string{"RTP", "AVP"},
				Formats: []string{fmt.Sprintf("%d", aacPayloadType)},
			},
			Attributes: []sdp.Attribute{
				{Key: "rtpmap", Value: aacRTPMap(rate)},
				{Key: "fmtp", Value: fmtp},
				{Key: "control", Value: base + "/" + audioTrack},
			},
		})
	}

	body, err := desc.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal SDP: %w", err)
	}
	return body, nil
}
