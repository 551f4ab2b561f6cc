package dissect

import (
	"bytes"
	"fmt"

	"github.com/gobwas/ws"

	"github.com/callscope/callscope/internal/packet"
	"github.com/callscope/callscope/internal/proto"
)

// WSDissector decodes one already-delineated WebSocket frame into its
// payload, unmasking client-to-server frames. The TCP dissector normally
// drives WS framing inline through the reassembler (internal/reassembly);
// this stage exists for the case a Packet is handed to the chain already
// positioned at a WS frame boundary (e.g. a unit test, or a future source
// that demuxes WS frames itself), using github.com/gobwas/ws the same way
// internal/reassembly does.
type WSDissector struct{}

func NewWSDissector() *WSDissector { return &WSDissector{} }

func (d *WSDissector) ID() proto.ID { return proto.WS }

func (d *WSDissector) Dissect(pkt *packet.Packet, payload []byte) (proto.ID, []byte, error) {
	r := bytes.NewReader(payload)
	header, err := ws.ReadHeader(r)
	if err != nil {
		return proto.None, nil, fmt.Errorf("%w: %v", ErrDrop, err)
	}

	body := make([]byte, header.Length)
	if _, err := r.Read(body); err != nil {
		return proto.None, nil, fmt.Errorf("%w: %v", ErrDrop, err)
	}
	if header.Masked {
		ws.Cipher(body, header.Mask, 0)
	}

	pkt.Set(proto.WS, &packet.WSData{
		Opcode: uint8(header.OpCode),
		Masked: header.Masked,
		Final:  header.Fin,
	})

	if header.OpCode != ws.OpText && header.OpCode != ws.OpBinary {
		return proto.None, nil, nil
	}
	return proto.SIP, body, nil
}
