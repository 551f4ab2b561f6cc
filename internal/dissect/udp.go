package dissect

import (
	"fmt"

	"github.com/google/gopacket/layers"

	"github.com/callscope/callscope/internal/packet"
	"github.com/callscope/callscope/internal/proto"
)

// sipPorts are the well-known SIP signalling ports consulted by the
// UDP dissector's SIP/RTP heuristic, grounded in the teacher's
// plugins/parser/sip/sip.go CanHandle port check.
var sipPorts = map[uint16]bool{5060: true, 5061: true}

// UDPDissector decodes a UDP header and picks SIP, RTP/RTCP, or HEP as the
// subdissector using the same port/magic heuristics as the teacher's
// SIPParser.CanHandle and rtp.go's looksLikeRTPorRTCP.
type UDPDissector struct{}

func NewUDPDissector() *UDPDissector { return &UDPDissector{} }

func (d *UDPDissector) ID() proto.ID { return proto.UDP }

func (d *UDPDissector) Dissect(pkt *packet.Packet, payload []byte) (proto.ID, []byte, error) {
	var udp layers.UDP
	if err := udp.DecodeFromBytes(payload, gopacketNilDecodeFeedback{}); err != nil {
		return proto.None, nil, fmt.Errorf("%w: %v", ErrDrop, err)
	}

	pkt.Set(proto.UDP, &packet.UDPData{
		SrcPort: uint16(udp.SrcPort),
		DstPort: uint16(udp.DstPort),
		Length:  udp.Length,
	})

	body := udp.LayerPayload()
	return classifyUDPPayload(uint16(udp.SrcPort), uint16(udp.DstPort), body), body, nil
}

// classifyUDPPayload implements spec §4.1's UDP.dport heuristic: SIP by
// port/magic, HEP3 by its literal magic prefix, else the RTP/RTCP
// version-bit heuristic from spec §4.4.
func classifyUDPPayload(srcPort, dstPort uint16, body []byte) proto.ID {
	if len(body) >= 4 && string(body[:4]) == "HEP3" {
		return proto.HEP
	}

	if sipPorts[srcPort] || sipPorts[dstPort] || looksLikeSIP(body) {
		return proto.SIP
	}

	if looksLikeRTPOrRTCP(body) {
		return classifyRTPRTCP(body)
	}

	return proto.None
}

func looksLikeSIP(body []byte) bool {
	if len(body) < 4 {
		return false
	}
	prefixes := []string{
		"SIP/2.0 ", "INVITE ", "REGISTER", "BYE ", "CANCEL ", "ACK ",
		"OPTIONS ", "SUBSCRI", "NOTIFY ", "PRACK ", "UPDATE ", "REFER ",
		"INFO ", "MESSAGE ", "PUBLISH ",
	}
	for _, p := range prefixes {
		if len(body) >= len(p) && string(body[:len(p)]) == p {
			return true
		}
	}
	return false
}

// looksLikeRTPOrRTCP implements the version-bit heuristic from spec §4.4:
// the top two bits of the first byte must be 2 (RTP version 2).
func looksLikeRTPOrRTCP(body []byte) bool {
	if len(body) < 12 {
		return false
	}
	return body[0]>>6 == 2
}

func classifyRTPRTCP(body []byte) proto.ID {
	pt := body[1] & 0x7f
	if (pt >= 72 && pt <= 76) || (pt >= 200 && pt <= 204) {
		return proto.RTCP
	}
	return proto.RTP
}
