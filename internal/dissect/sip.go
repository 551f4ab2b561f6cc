package dissect

import (
	"fmt"

	"github.com/callscope/callscope/internal/packet"
	"github.com/callscope/callscope/internal/proto"
	"github.com/callscope/callscope/internal/sipmsg"
)

// SIPData wraps the parsed sipmsg.Message so later stages (storage ingest)
// can retrieve it from the Packet's protocol-data map without re-parsing.
type SIPData struct {
	Message *sipmsg.Message
}

// SIPDissector parses a complete SIP PDU (already framed by Content-Length
// on UDP, or by the reassembler on TCP/TLS/WS) via internal/sipmsg, then
// stores the parsed SDP body under proto.SDP when there is one. It ends the
// chain; no further dissector runs after it.
type SIPDissector struct{}

func NewSIPDissector() *SIPDissector { return &SIPDissector{} }

func (d *SIPDissector) ID() proto.ID { return proto.SIP }

func (d *SIPDissector) Dissect(pkt *packet.Packet, payload []byte) (proto.ID, []byte, error) {
	msg, err := sipmsg.Parse(pkt, payload)
	if err != nil {
		return proto.None, nil, fmt.Errorf("%w: %v", ErrDrop, err)
	}

	pkt.Set(proto.SIP, &SIPData{Message: msg})

	if msg.SDP != nil {
		pkt.Set(proto.SDP, msg.SDP)
	}

	return proto.None, nil, nil
}
