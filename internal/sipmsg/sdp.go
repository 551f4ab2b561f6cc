package sipmsg

import (
	"bytes"
	"strconv"
	"strings"
)

// Media is one m= record plus the c= it resolved against (session-level
// unless overridden per-media) and any a=rtpmap-derived codec names.
type Media struct {
	Type       string // "audio", "video", ...
	Port       uint16
	Proto      string // "RTP/AVP", "RTP/SAVP", ...
	Formats    []string
	ConnIP     string // resolved connection address for this media
	Direction  string // sendrecv/sendonly/recvonly/inactive, default sendrecv
	Codecs     map[string]string // payload-type -> codec name, from a=rtpmap
	PreferredCodec string // first format whose name is recognized
}

// SDP is the parsed body of a SIP message with Content-Type application/sdp.
type SDP struct {
	SessionConnIP string // session-level c=
	Media         []Media
}

// staticPayloadNames maps well-known static payload types to codec names,
// used when no a=rtpmap line is present. The entries 0, 8, 9 and 18 come
// from RFC 3551 §6's static payload type assignment table; 101 is not a
// static type there but the dynamic type commonly used for
// telephone-event. This is not a pack source — the retained
// original_source codec file (src/capture/codecs/codec_g729.c) is a G.729
// decoder, not a payload-type table.
var staticPayloadNames = map[string]string{
	"0":  "PCMU",
	"8":  "PCMA",
	"9":  "G722",
	"18": "G729",
	"101": "telephone-event",
}

// knownCodecNames is consulted when picking the "preferred codec hint"
// (spec §4.3): the first format in m= whose name we recognize.
var knownCodecNames = map[string]bool{
	"PCMU": true, "PCMA": true, "G722": true, "G729": true,
	"telephone-event": true, "opus": true,
}

func parseSDP(body []byte) (*SDP, error) {
	sdp := &SDP{}
	var current *Media

	lines := bytes.Split(body, []byte("\n"))
	for _, raw := range lines {
		line := bytes.TrimSpace(raw)
		if len(line) < 2 || line[1] != '=' {
			continue
		}
		typ := line[0]
		value := string(bytes.TrimSpace(line[2:]))

		switch typ {
		case 'c':
			ip := parseConnectionLine(value)
			if current != nil {
				current.ConnIP = ip
			} else {
				sdp.SessionConnIP = ip
			}
		case 'm':
			if current != nil {
				finalizeMedia(current)
				sdp.Media = append(sdp.Media, *current)
			}
			current = parseMediaLine(value)
			current.ConnIP = sdp.SessionConnIP
		case 'a':
			if current != nil {
				applyMediaAttribute(current, value)
			}
		}
	}
	if current != nil {
		finalizeMedia(current)
		sdp.Media = append(sdp.Media, *current)
	}

	return sdp, nil
}

// parseConnectionLine parses "IN IP4 192.0.2.1" / "IN IP6 ::1".
func parseConnectionLine(value string) string {
	fields := strings.Fields(value)
	if len(fields) != 3 {
		return ""
	}
	return fields[2]
}

// parseMediaLine parses "audio 40000 RTP/AVP 0 8 101".
func parseMediaLine(value string) *Media {
	fields := strings.Fields(value)
	m := &Media{Direction: "sendrecv", Codecs: make(map[string]string)}
	if len(fields) > 0 {
		m.Type = fields[0]
	}
	if len(fields) > 1 {
		if port, err := strconv.ParseUint(fields[1], 10, 16); err == nil {
			m.Port = uint16(port)
		}
	}
	if len(fields) > 2 {
		m.Proto = fields[2]
	}
	if len(fields) > 3 {
		m.Formats = append(m.Formats, fields[3:]...)
	}
	return m
}

func applyMediaAttribute(m *Media, value string) {
	switch {
	case value == "sendrecv", value == "sendonly", value == "recvonly", value == "inactive":
		m.Direction = value
	case strings.HasPrefix(value, "rtpmap:"):
		// a=rtpmap:<pt> <name>/<clockrate>[/<params>]
		rest := strings.TrimPrefix(value, "rtpmap:")
		fields := strings.SplitN(rest, " ", 2)
		if len(fields) == 2 {
			name := fields[1]
			if slash := strings.IndexByte(name, '/'); slash != -1 {
				name = name[:slash]
			}
			m.Codecs[fields[0]] = name
		}
	}
}

func finalizeMedia(m *Media) {
	for _, pt := range m.Formats {
		name, ok := m.Codecs[pt]
		if !ok {
			name, ok = staticPayloadNames[pt]
		}
		if !ok {
			continue
		}
		if knownCodecNames[name] {
			m.PreferredCodec = name
			return
		}
	}
}
