package dissect

import (
	"fmt"

	"github.com/google/gopacket/layers"

	"github.com/callscope/callscope/internal/packet"
	"github.com/callscope/callscope/internal/proto"
)

// IPDissector decodes an IPv4 or IPv6 header and selects UDP/TCP as the
// subdissector from the next-header field, grounded in the teacher's
// internal/otus/module/capture/codec decoder (gopacket layers decode).
type IPDissector struct{}

func NewIPDissector() *IPDissector { return &IPDissector{} }

func (d *IPDissector) ID() proto.ID { return proto.IP }

func (d *IPDissector) Dissect(pkt *packet.Packet, payload []byte) (proto.ID, []byte, error) {
	if len(payload) == 0 {
		return proto.None, nil, fmt.Errorf("%w: empty ip payload", ErrDrop)
	}

	version := payload[0] >> 4
	switch version {
	case 4:
		return d.dissectV4(pkt, payload)
	case 6:
		return d.dissectV6(pkt, payload)
	default:
		return proto.None, nil, fmt.Errorf("%w: unknown ip version %d", ErrDrop, version)
	}
}

func (d *IPDissector) dissectV4(pkt *packet.Packet, payload []byte) (proto.ID, []byte, error) {
	var ip layers.IPv4
	if err := ip.DecodeFromBytes(payload, gopacketNilDecodeFeedback{}); err != nil {
		return proto.None, nil, fmt.Errorf("%w: %v", ErrDrop, err)
	}

	pkt.Set(proto.IP, &packet.IPData{
		Version:  4,
		SrcIP:    ip.SrcIP.String(),
		DstIP:    ip.DstIP.String(),
		NextHdr:  uint8(ip.Protocol),
		TTL:      ip.TTL,
		TotalLen: ip.Length,
	})

	return nextForIPProtocol(ip.Protocol), ip.LayerPayload(), nil
}

func (d *IPDissector) dissectV6(pkt *packet.Packet, payload []byte) (proto.ID, []byte, error) {
	var ip layers.IPv6
	if err := ip.DecodeFromBytes(payload, gopacketNilDecodeFeedback{}); err != nil {
		return proto.None, nil, fmt.Errorf("%w: %v", ErrDrop, err)
	}

	pkt.Set(proto.IP, &packet.IPData{
		Version:  6,
		SrcIP:    ip.SrcIP.String(),
		DstIP:    ip.DstIP.String(),
		NextHdr:  uint8(ip.NextHeader),
		TTL:      ip.HopLimit,
		TotalLen: ip.Length,
	})

	return nextForIPProtocol(ip.NextHeader), ip.LayerPayload(), nil
}

func nextForIPProtocol(p layers.IPProtocol) proto.ID {
	switch p {
	case layers.IPProtocolUDP:
		return proto.UDP
	case layers.IPProtocolTCP:
		return proto.TCP
	default:
		return proto.None
	}
}

// gopacketNilDecodeFeedback satisfies gopacket.DecodeFeedback without
// tracking truncation, matching the teacher's direct DecodeFromBytes usage.
type gopacketNilDecodeFeedback struct{}

func (gopacketNilDecodeFeedback) SetTruncated() {}
