// Package packet assembles the output of the dissector chain: a protocol-data
// map keyed by protocol id plus the ordered list of wire frames that produced
// it.
package packet

import (
	"time"

	"github.com/callscope/callscope/internal/addr"
	"github.com/callscope/callscope/internal/frame"
	"github.com/callscope/callscope/internal/proto"
)

// IPData carries IPv4/IPv6 metadata. It holds addresses only (SrcIP/DstIP);
// the UDP/TCP dissectors record ports in UDPData/TCPData.
type IPData struct {
	Version  uint8
	SrcIP    string
	DstIP    string
	NextHdr  uint8 // IP protocol number, e.g. 6=TCP, 17=UDP
	TTL      uint8
	TotalLen uint16
}

// UDPData carries UDP port metadata.
type UDPData struct {
	SrcPort uint16
	DstPort uint16
	Length  uint16
}

// TCPData carries TCP sequence/flag metadata.
type TCPData struct {
	SrcPort uint16
	DstPort uint16
	Seq     uint32
	Ack     uint32
	SYN     bool
	FIN     bool
	RST     bool
	PSH     bool
}

// TLSData carries metadata about a (possibly decrypted) TLS record.
type TLSData struct {
	ContentType uint8
	Version     uint16
	Decrypted   bool
}

// WSData carries metadata about a decoded WebSocket frame.
type WSData struct {
	Opcode uint8
	Masked bool
	Final  bool
}

// HEPData carries the HEP3 chunk fields relevant downstream.
type HEPData struct {
	CaptureID  uint32
	ProtoType  uint8
	AuthKeyOK  bool
	NodeName   string
	TsSec      uint32
	TsUsec     uint32
	VendorID   uint16
}

// Packet is the output of the dissector chain for one logical PDU. It holds
// the frame it was created from; no dissector appends further frames, so a
// PDU reassembled from several TCP/TLS/WS segments keeps only the frame of
// the segment that completed it.
type Packet struct {
	Frames []frame.PacketFrame
	Data   map[proto.ID]any
}

// New creates an empty Packet with its first frame already attached.
func New(f frame.PacketFrame) *Packet {
	return &Packet{
		Frames: []frame.PacketFrame{f},
		Data:   make(map[proto.ID]any, 4),
	}
}

// AppendFrame records an additional wire frame. The dissector chain does
// not call it.
func (p *Packet) AppendFrame(f frame.PacketFrame) {
	p.Frames = append(p.Frames, f)
}

// Set stores the protocol-specific struct produced by a dissector.
func (p *Packet) Set(id proto.ID, data any) {
	p.Data[id] = data
}

// Get retrieves the protocol-specific struct for id, if present.
func (p *Packet) Get(id proto.ID) (any, bool) {
	v, ok := p.Data[id]
	return v, ok
}

// Has reports whether id's layer was dissected for this packet.
func (p *Packet) Has(id proto.ID) bool {
	_, ok := p.Data[id]
	return ok
}

// Timestamp is the timestamp of the first frame (capture order).
func (p *Packet) Timestamp() time.Time {
	if len(p.Frames) == 0 {
		return time.Time{}
	}
	us := p.Frames[0].TSMicros
	return time.UnixMicro(us)
}

// CapLen sums the captured length across all owned frames — used for memory
// accounting in Storage (per spec.md's "§9 open question": per-frame caplen
// is the granularity chosen here, exposed via stats()).
func (p *Packet) CapLen() uint32 {
	var total uint32
	for _, f := range p.Frames {
		total += f.CapLen
	}
	return total
}

// SrcAddress returns the best-known source address: transport port/proto
// layered on top of the IP layer's source IP.
func (p *Packet) SrcAddress() addr.Address {
	return p.address(true)
}

// DstAddress returns the best-known destination address.
func (p *Packet) DstAddress() addr.Address {
	return p.address(false)
}

func (p *Packet) address(src bool) addr.Address {
	var ip string
	if d, ok := p.Get(proto.IP); ok {
		ipd := d.(*IPData)
		if src {
			ip = ipd.SrcIP
		} else {
			ip = ipd.DstIP
		}
	}

	var port uint16
	transport := addr.TransportUnknown

	if d, ok := p.Get(proto.UDP); ok {
		udpd := d.(*UDPData)
		transport = addr.TransportUDP
		if src {
			port = udpd.SrcPort
		} else {
			port = udpd.DstPort
		}
	} else if d, ok := p.Get(proto.TCP); ok {
		tcpd := d.(*TCPData)
		transport = addr.TransportTCP
		if src {
			port = tcpd.SrcPort
		} else {
			port = tcpd.DstPort
		}
		if _, ok := p.Get(proto.TLS); ok {
			transport = addr.TransportTLS
		}
		if _, ok := p.Get(proto.WS); ok {
			if transport == addr.TransportTLS {
				transport = addr.TransportWSS
			} else {
				transport = addr.TransportWS
			}
		}
	}

	return addr.Address{IP: ip, Port: port, Transport: transport}
}

// Transport reports the transport of the packet (from whichever layer set
// it), defaulting to TransportUnknown.
func (p *Packet) Transport() addr.Transport {
	return p.SrcAddress().Transport
}
