// Package hepforward re-encodes ingested packets as outbound HEPv3 frames,
// adapted from the teacher's plugins/reporter/hep encoder/reporter pair —
// same chunk layout and flow-stable routing, driven off this repository's
// own packet/sipmsg types instead of a generic labels map.
package hepforward

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"net"
	"sync/atomic"
	"time"

	"github.com/callscope/callscope/internal/addr"
	"github.com/callscope/callscope/internal/packet"
)

const (
	hepMagic       = "HEP3"
	chunkHeaderLen = 6
	vendorHOMER    = uint16(0x0000)

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

	protoTypeSIP  = uint8(1)
	protoTypeRTP  = uint8(5)
	protoTypeRTCP = uint8(8)
)

// Options carries per-frame knobs analogous to the teacher's EncodeOptions.
type Options struct {
	CaptureID uint32
	AuthKey   string
	NodeName  string
}

// PayloadKind selects the HEP protocol-type chunk value.
type PayloadKind uint8

const (
	KindSIP PayloadKind = iota
	KindRTP
	KindRTCP
)

// Forwarder sends encoded HEP3 frames to one or more flow-stable-selected
// UDP servers, mirroring the teacher's HEPReporter.
type Forwarder struct {
	opts  Options
	conns []*net.UDPConn

	sentCount  atomic.Uint64
	errorCount atomic.Uint64
}

// Dial opens one UDP socket per server address.
func Dial(servers []string, opts Options) (*Forwarder, error) {
	f := &Forwarder{opts: opts}
	for _, s := range servers {
		raddr, err := net.ResolveUDPAddr("udp", s)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("hepforward: resolve %q: %w", s, err)
		}
		conn, err := net.DialUDP("udp", nil, raddr)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("hepforward: dial %q: %w", s, err)
		}
		f.conns = append(f.conns, conn)
	}
	return f, nil
}

// Close closes every dialed connection.
func (f *Forwarder) Close() {
	for _, c := range f.conns {
		if c != nil {
			_ = c.Close()
		}
	}
	f.conns = nil
}

// Forward encodes pkt's source/destination/raw payload as a HEP3 frame and
// sends it to a server selected by a hash of the packet's source address.
func (f *Forwarder) Forward(pkt *packet.Packet, kind PayloadKind, rawPayload []byte) error {
	if len(f.conns) == 0 {
		return fmt.Errorf("hepforward: no servers configured")
	}
	frame, err := f.encode(pkt, kind, rawPayload)
	if err != nil {
		f.errorCount.Add(1)
		return err
	}
	conn := f.selectConn(pkt.SrcAddress())
	if _, err := conn.Write(frame); err != nil {
		f.errorCount.Add(1)
		return fmt.Errorf("hepforward: send to %s: %w", conn.RemoteAddr(), err)
	}
	f.sentCount.Add(1)
	return nil
}

func (f *Forwarder) selectConn(src addr.Address) *net.UDPConn {
	h := fnv.New32a()
	h.Write([]byte(src.String()))
	return f.conns[int(h.Sum32())%len(f.conns)]
}

func (f *Forwarder) encode(pkt *packet.Packet, kind PayloadKind, rawPayload []byte) ([]byte, error) {
	src, dst := pkt.SrcAddress(), pkt.DstAddress()

	buf := make([]byte, 0, 256+len(rawPayload))
	buf = append(buf, hepMagic...)
	buf = append(buf, 0, 0)

	ip := net.ParseIP(src.IP)
	family := ipFamilyV4
	if ip != nil && ip.To4() == nil {
		family = ipFamilyV6
	}
	buf = appendUint8(buf, chunkIPFamily, family)
	buf = appendUint8(buf, chunkIPProto, ipProtoFor(src.Transport))

	if family == ipFamilyV4 {
		buf = appendBytes(buf, chunkSrcIPv4, ipv4Bytes(src.IP))
		buf = appendBytes(buf, chunkDstIPv4, ipv4Bytes(dst.IP))
	} else {
		buf = appendBytes(buf, chunkSrcIPv6, ipv6Bytes(src.IP))
		buf = appendBytes(buf, chunkDstIPv6, ipv6Bytes(dst.IP))
	}

	buf = appendUint16(buf, chunkSrcPort, src.Port)
	buf = appendUint16(buf, chunkDstPort, dst.Port)

	ts := pkt.Timestamp()
	if ts.IsZero() {
		ts = time.Unix(0, 0)
	}
	buf = appendUint32(buf, chunkTimeSec, uint32(ts.Unix()))
	buf = appendUint32(buf, chunkTimeUsec, uint32(ts.Nanosecond()/1000))

	buf = appendUint8(buf, chunkProtoType, protoTypeFor(kind))
	buf = appendUint32(buf, chunkCaptureID, f.opts.CaptureID)

	if f.opts.AuthKey != "" {
		buf = appendBytes(buf, chunkAuthKey, []byte(f.opts.AuthKey))
	}
	if len(rawPayload) > 0 {
		buf = appendBytes(buf, chunkPayload, rawPayload)
	}
	if f.opts.NodeName != "" {
		buf = appendBytes(buf, chunkNodeName, []byte(f.opts.NodeName))
	}

	if len(buf) > 0xFFFF {
		return nil, fmt.Errorf("hepforward: frame too large (%d bytes)", len(buf))
	}
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(buf)))
	return buf, nil
}

func ipProtoFor(t addr.Transport) uint8 {
	switch t {
	case addr.TransportUDP:
		return 17
	case addr.TransportTCP, addr.TransportTLS, addr.TransportWS, addr.TransportWSS:
		return 6
	default:
		return 0
	}
}

func protoTypeFor(kind PayloadKind) uint8 {
	switch kind {
	case KindRTP:
		return protoTypeRTP
	case KindRTCP:
		return protoTypeRTCP
	default:
		return protoTypeSIP
	}
}

func ipv4Bytes(s string) []byte {
	ip := net.ParseIP(s)
	if ip == nil {
		return make([]byte, 4)
	}
	return ip.To4()
}

func ipv6Bytes(s string) []byte {
	ip := net.ParseIP(s)
	if ip == nil {
		return make([]byte, 16)
	}
	return ip.To16()
}

func appendChunkHeader(buf []byte, chunkType uint16, valueLen int) []byte {
	var h [chunkHeaderLen]byte
	binary.BigEndian.PutUint16(h[0:2], vendorHOMER)
	binary.BigEndian.PutUint16(h[2:4], chunkType)
	binary.BigEndian.PutUint16(h[4:6], uint16(chunkHeaderLen+valueLen))
	return append(buf, h[:]...)
}

func appendBytes(buf []byte, chunkType uint16, value []byte) []byte {
	buf = appendChunkHeader(buf, chunkType, len(value))
	return append(buf, value...)
}

func appendUint8(buf []byte, chunkType uint16, value uint8) []byte {
	buf = appendChunkHeader(buf, chunkType, 1)
	return append(buf, value)
}

func appendUint16(buf []byte, chunkType uint16, value uint16) []byte {
	buf = appendChunkHeader(buf, chunkType, 2)
	var v [2]byte
	binary.BigEndian.PutUint16(v[:], value)
	return append(buf, v[:]...)
}

func appendUint32(buf []byte, chunkType uint16, value uint32) []byte {
	buf = appendChunkHeader(buf, chunkType, 4)
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], value)
	return append(buf, v[:]...)
}
