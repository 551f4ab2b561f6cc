package dissect

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/callscope/callscope/internal/metrics"
	"github.com/callscope/callscope/internal/packet"
	"github.com/callscope/callscope/internal/proto"
)

// HEPv3 chunk layout constants, grounded in the teacher's
// plugins/reporter/hep/encoder.go (there used for encoding; here used to
// decode inbound frames).
const (
	hepMagic       = "HEP3"
	chunkHeaderLen = 6

	chunkIPFamily  = uint16(1)
	chunkIPProto   = uint16(2)
	chunkSrcIPv4   = uint16(3)
	chunkDstIPv4   = uint16(4)
	chunkSrcIPv6   = uint16(5)
	chunkDstIPv6   = uint16(6)
	chunkSrcPort   = uint16(7)
	chunkDstPort   = uint16(8)
	chunkTimeSec   = uint16(9)
	chunkTimeUsec  = uint16(10)
	chunkProtoType = uint16(11)
	chunkCaptureID = uint16(12)
	chunkAuthKey   = uint16(14)
	chunkPayload   = uint16(15)
	chunkCorrID    = uint16(17)
	chunkNodeName  = uint16(19)

	ipFamilyV4 = uint8(2)
	ipFamilyV6 = uint8(10)
)

// HEPDissector decodes an inbound HEP3 frame into synthetic IP+UDP metadata
// plus the inner payload, then hands the payload to the SIP dissector. An
// auth-key chunk mismatch (when a key is configured) drops the frame per
// spec §4.1/§7 — this is the only dissector allowed to consult a shared
// secret outside the TLS path.
type HEPDissector struct {
	authKey string // empty disables the check
}

// NewHEPDissector configures the expected HEP3 auth key; pass "" to accept
// any frame (or one with no auth-key chunk at all).
func NewHEPDissector(authKey string) *HEPDissector {
	return &HEPDissector{authKey: authKey}
}

func (d *HEPDissector) ID() proto.ID { return proto.HEP }

func (d *HEPDissector) Dissect(pkt *packet.Packet, payload []byte) (proto.ID, []byte, error) {
	if len(payload) < 6 || string(payload[:4]) != hepMagic {
		return proto.None, nil, fmt.Errorf("%w: bad hep magic", ErrDrop)
	}
	totalLen := binary.BigEndian.Uint16(payload[4:6])
	if int(totalLen) > len(payload) {
		return proto.None, nil, fmt.Errorf("%w: truncated hep frame", ErrDrop)
	}
	payload = payload[:totalLen]

	hd := &packet.HEPData{}
	var (
		srcIP, dstIP     net.IP
		srcPort, dstPort uint16
		ipProto          uint8
		innerPayload     []byte
		sawAuthKey       bool
		authOK           = d.authKey == ""
	)

	offset := 6
	for offset+chunkHeaderLen <= len(payload) {
		chunkType := binary.BigEndian.Uint16(payload[offset+2 : offset+4])
		chunkLen := int(binary.BigEndian.Uint16(payload[offset+4 : offset+6]))
		if chunkLen < chunkHeaderLen || offset+chunkLen > len(payload) {
			return proto.None, nil, fmt.Errorf("%w: malformed hep chunk", ErrDrop)
		}
		value := payload[offset+chunkHeaderLen : offset+chunkLen]

		switch chunkType {
		case chunkIPProto:
			if len(value) >= 1 {
				ipProto = value[0]
			}
		case chunkSrcIPv4, chunkSrcIPv6:
			srcIP = net.IP(value)
		case chunkDstIPv4, chunkDstIPv6:
			dstIP = net.IP(value)
		case chunkSrcPort:
			if len(value) >= 2 {
				srcPort = binary.BigEndian.Uint16(value)
			}
		case chunkDstPort:
			if len(value) >= 2 {
				dstPort = binary.BigEndian.Uint16(value)
			}
		case chunkTimeSec:
			if len(value) >= 4 {
				hd.TsSec = binary.BigEndian.Uint32(value)
			}
		case chunkTimeUsec:
			if len(value) >= 4 {
				hd.TsUsec = binary.BigEndian.Uint32(value)
			}
		case chunkProtoType:
			if len(value) >= 1 {
				hd.ProtoType = value[0]
			}
		case chunkCaptureID:
			if len(value) >= 4 {
				hd.CaptureID = binary.BigEndian.Uint32(value)
			}
		case chunkAuthKey:
			sawAuthKey = true
			authOK = string(value) == d.authKey
		case chunkNodeName:
			hd.NodeName = string(value)
		case chunkPayload:
			innerPayload = value
		}

		offset += chunkLen
	}

	if d.authKey != "" && !sawAuthKey {
		authOK = false
	}
	hd.AuthKeyOK = authOK
	if !authOK {
		metrics.IncHEPAuthFailure()
		return proto.None, nil, fmt.Errorf("%w: hep auth key mismatch", ErrDrop)
	}

	pkt.Set(proto.HEP, hd)
	pkt.Set(proto.IP, &packet.IPData{
		Version: ipVersionOf(srcIP),
		SrcIP:   ipString(srcIP),
		DstIP:   ipString(dstIP),
		NextHdr: ipProto,
	})
	pkt.Set(proto.UDP, &packet.UDPData{SrcPort: srcPort, DstPort: dstPort})

	if len(innerPayload) == 0 {
		return proto.None, nil, nil
	}
	if looksLikeSIP(innerPayload) {
		return proto.SIP, innerPayload, nil
	}
	if looksLikeRTPOrRTCP(innerPayload) {
		return classifyRTPRTCP(innerPayload), innerPayload, nil
	}
	return proto.None, nil, nil
}

func ipVersionOf(ip net.IP) uint8 {
	if ip == nil {
		return 4
	}
	if ip.To4() != nil {
		return 4
	}
	return 6
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
