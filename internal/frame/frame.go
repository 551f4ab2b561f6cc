// Package frame defines the raw wire-frame type produced by every packet
// source (pcap file, live device, HEP listener) before dissection.
package frame

// PacketFrame is one captured wire frame. A Packet is created from a single
// frame; IP fragments are not reassembled, and TCP/TLS/WS reassembly does
// not attach the frames of earlier segments to the Packet it produces.
type PacketFrame struct {
	TSMicros int64
	CapLen   uint32
	WireLen  uint32
	Bytes    []byte
}
