package dissect

import (
	"fmt"

	"github.com/google/gopacket/layers"

	"github.com/callscope/callscope/internal/packet"
	"github.com/callscope/callscope/internal/proto"
	"github.com/callscope/callscope/internal/reassembly"
)

// TCPDissector decodes a TCP header, feeds its payload into the flow
// reassembler, and hands the first complete SIP PDU (if any) to the SIP
// dissector. A single segment containing more than one coalesced PDU yields
// only the first here; the remainder surfaces on the reassembler's next
// Feed call, which is acceptable since capture sources deliver one raw
// frame at a time.
type TCPDissector struct {
	reassembler *reassembly.Reassembler
	tlsPorts    map[uint16]bool
	wsPorts     map[uint16]bool
}

// NewTCPDissector wires r as the shared flow reassembler (one per process,
// shared with TLS/WS dissectors so a (src,dst) flow key is consistent
// regardless of which upper layer eventually classifies it).
func NewTCPDissector(r *reassembly.Reassembler) *TCPDissector {
	return &TCPDissector{
		reassembler: r,
		tlsPorts:    map[uint16]bool{5061: true},
		wsPorts:     map[uint16]bool{80: true, 8080: true, 5062: true},
	}
}

func (d *TCPDissector) ID() proto.ID { return proto.TCP }

func (d *TCPDissector) Dissect(pkt *packet.Packet, payload []byte) (proto.ID, []byte, error) {
	var tcp layers.TCP
	if err := tcp.DecodeFromBytes(payload, gopacketNilDecodeFeedback{}); err != nil {
		return proto.None, nil, fmt.Errorf("%w: %v", ErrDrop, err)
	}

	pkt.Set(proto.TCP, &packet.TCPData{
		SrcPort: uint16(tcp.SrcPort),
		DstPort: uint16(tcp.DstPort),
		Seq:     tcp.Seq,
		Ack:     tcp.Ack,
		SYN:     tcp.SYN,
		FIN:     tcp.FIN,
		RST:     tcp.RST,
		PSH:     tcp.PSH,
	})

	body := tcp.LayerPayload()
	if len(body) == 0 {
		return proto.None, nil, nil // pure ACK/control segment, nothing to dissect further
	}

	if d.tlsPorts[uint16(tcp.SrcPort)] || d.tlsPorts[uint16(tcp.DstPort)] {
		return proto.TLS, body, nil
	}

	isWS := d.wsPorts[uint16(tcp.SrcPort)] || d.wsPorts[uint16(tcp.DstPort)]

	ipData, _ := pkt.Get(proto.IP)
	ip, _ := ipData.(*packet.IPData)
	transport := "tcp"
	if isWS {
		transport = "ws"
	}
	key := flowKeyFromTCP(ip, &tcp, transport)

	pdus, err := d.reassembler.Feed(key, tcp.Seq, true, isWS, body)
	if err != nil {
		return proto.None, nil, fmt.Errorf("%w: %v", ErrDrop, err)
	}
	if len(pdus) == 0 {
		return proto.None, nil, nil // buffered, waiting for more segments
	}
	return proto.SIP, pdus[0], nil
}

func flowKeyFromTCP(ip *packet.IPData, tcp *layers.TCP, transport string) reassembly.FlowKey {
	key := reassembly.FlowKey{
		SrcPort:   uint16(tcp.SrcPort),
		DstPort:   uint16(tcp.DstPort),
		Transport: transport,
	}
	if ip != nil {
		key.SrcIP = ip.SrcIP
		key.DstIP = ip.DstIP
	}
	return key
}
