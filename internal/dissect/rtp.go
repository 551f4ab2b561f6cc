package dissect

import (
	"encoding/binary"
	"fmt"

	"github.com/callscope/callscope/internal/packet"
	"github.com/callscope/callscope/internal/proto"
)

// RTPData carries the fixed RTP header fields needed for stream keying and
// jitter/loss statistics (spec §4.4), grounded in the teacher's
// plugins/parser/rtp/rtp.go handleRTP.
type RTPData struct {
	Version        uint8
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	Marker         bool
	Payload        []byte
}

// RTPDissector parses the fixed 12-byte RTP header and skips the CSRC list
// (4 bytes per CSRC count); a header extension is not parsed and stays at
// the start of Payload. Stream creation and
// statistics live in internal/storage, which is the component that owns
// the Message index needed for stream-to-message correlation.
type RTPDissector struct{}

func NewRTPDissector() *RTPDissector { return &RTPDissector{} }

func (d *RTPDissector) ID() proto.ID { return proto.RTP }

func (d *RTPDissector) Dissect(pkt *packet.Packet, payload []byte) (proto.ID, []byte, error) {
	if len(payload) < 12 {
		return proto.None, nil, fmt.Errorf("%w: truncated rtp header", ErrDrop)
	}

	version := payload[0] >> 6
	if version != 2 {
		return proto.None, nil, fmt.Errorf("%w: unexpected rtp version %d", ErrDrop, version)
	}

	cc := int(payload[0] & 0x0f)
	headerLen := 12 + 4*cc
	if len(payload) < headerLen {
		return proto.None, nil, fmt.Errorf("%w: truncated csrc list", ErrDrop)
	}

	pkt.Set(proto.RTP, &RTPData{
		Version:        version,
		Marker:         payload[1]&0x80 != 0,
		PayloadType:    payload[1] & 0x7f,
		SequenceNumber: binary.BigEndian.Uint16(payload[2:4]),
		Timestamp:      binary.BigEndian.Uint32(payload[4:8]),
		SSRC:           binary.BigEndian.Uint32(payload[8:12]),
		Payload:        payload[headerLen:],
	})

	return proto.None, nil, nil
}
