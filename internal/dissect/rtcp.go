package dissect

import (
	"encoding/binary"
	"fmt"

	"github.com/callscope/callscope/internal/packet"
	"github.com/callscope/callscope/internal/proto"
)

// RTCPData carries the fields of the first RTCP packet in a (possibly
// compound) RTCP payload — enough to key a Stream and recognize BYE/loss
// reports, grounded in the teacher's plugins/parser/rtp/rtp.go handleRTCP.
type RTCPData struct {
	Version    uint8
	PacketType uint8
	SSRC       uint32
	Length     uint16 // in 32-bit words, per RFC 3550, excluding the header word
}

// RTCPDissector parses the common RTCP header of the first packet in a
// compound RTCP payload.
type RTCPDissector struct{}

func NewRTCPDissector() *RTCPDissector { return &RTCPDissector{} }

func (d *RTCPDissector) ID() proto.ID { return proto.RTCP }

func (d *RTCPDissector) Dissect(pkt *packet.Packet, payload []byte) (proto.ID, []byte, error) {
	if len(payload) < 8 {
		return proto.None, nil, fmt.Errorf("%w: truncated rtcp header", ErrDrop)
	}

	version := payload[0] >> 6
	if version != 2 {
		return proto.None, nil, fmt.Errorf("%w: unexpected rtcp version %d", ErrDrop, version)
	}

	pkt.Set(proto.RTCP, &RTCPData{
		Version:    version,
		PacketType: payload[1],
		Length:     binary.BigEndian.Uint16(payload[2:4]),
		SSRC:       binary.BigEndian.Uint32(payload[4:8]),
	})

	return proto.None, nil, nil
}
