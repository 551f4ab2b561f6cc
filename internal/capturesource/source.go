// Package capturesource implements the Source boundary from spec §1/§6:
// "read-next-raw-frame" adapters over a pcap file, a live device, and an
// HEP3 UDP listener. Grounded in the teacher's internal/source/file and
// internal/source/afpacket packages (gopacket pcap.OpenOffline/OpenLive,
// BPF compile via internal/utils.CompileBpf), generalized from Otus's
// factory-registered plugin sources to direct constructors since this
// system has exactly three source kinds, chosen once at startup rather
// than hot-swapped.
package capturesource

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/pcapgo"

	"github.com/callscope/callscope/internal/frame"
	"github.com/callscope/callscope/internal/log"
	"github.com/callscope/callscope/internal/utils"
)

// Source is the read-next-raw-frame boundary every capture task consumes.
// Only Source.Next may block (spec §5's "only the packet source may
// block"); no dissector or Storage call is permitted to.
type Source interface {
	// Next blocks until a frame is available, the source is closed, or an
	// unrecoverable SourceError occurs (io.EOF on a finite pcap file is a
	// normal, non-fatal end-of-input signal, not a SourceError).
	Next() (frame.PacketFrame, error)
	LinkType() layers.LinkType
	Close() error
}

// pcapSource wraps a gopacket pcap.Handle shared by both the file and live
// device constructors below — they differ only in how the handle opens.
type pcapSource struct {
	handle *pcap.Handle
}

// OpenFile opens an existing capture file for offline replay.
func OpenFile(path string) (Source, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, fmt.Errorf("capturesource: open pcap file %s: %w", path, err)
	}
	return &pcapSource{handle: handle}, nil
}

// LiveDeviceOpts configures a live capture.
type LiveDeviceOpts struct {
	Device       string
	SnapLen      int32
	Promiscuous  bool
	Timeout      time.Duration
	BPFFilter    string
}

// OpenLiveDevice opens a live network interface, compiling the configured
// BPF filter through internal/utils.CompileBpf and applying the resulting
// raw instructions via pcap.Handle.SetBPFInstructionFilter (spec §6's
// bpf-filter flag), grounded in the teacher's internal/utils/bpf.go
// CompileBpf helper — the teacher itself applies the same raw instructions
// to an afpacket.TPacket via SetBPF; this capture path is pcap, not
// AF_PACKET, so the pcap.Handle counterpart is used instead.
func OpenLiveDevice(opts LiveDeviceOpts) (Source, error) {
	snapLen := opts.SnapLen
	if snapLen <= 0 {
		snapLen = 65536
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = pcap.BlockForever
	}

	handle, err := pcap.OpenLive(opts.Device, snapLen, opts.Promiscuous, timeout)
	if err != nil {
		return nil, fmt.Errorf("capturesource: open live device %s: %w", opts.Device, err)
	}

	if opts.BPFFilter != "" {
		rawInsns, err := utils.CompileBpf(opts.BPFFilter, int(snapLen))
		if err != nil {
			handle.Close()
			return nil, fmt.Errorf("capturesource: compile bpf filter %q: %w", opts.BPFFilter, err)
		}
		pcapInsns := make([]pcap.BPFInstruction, len(rawInsns))
		for i, ins := range rawInsns {
			pcapInsns[i] = pcap.BPFInstruction{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
		}
		if err := handle.SetBPFInstructionFilter(pcapInsns); err != nil {
			handle.Close()
			return nil, fmt.Errorf("capturesource: apply bpf filter %q: %w", opts.BPFFilter, err)
		}
	}

	return &pcapSource{handle: handle}, nil
}

func (s *pcapSource) Next() (frame.PacketFrame, error) {
	data, ci, err := s.handle.ReadPacketData()
	if err != nil {
		if err == io.EOF {
			return frame.PacketFrame{}, io.EOF
		}
		return frame.PacketFrame{}, fmt.Errorf("capturesource: read packet: %w", err)
	}
	return frame.PacketFrame{
		TSMicros: ci.Timestamp.UnixMicro(),
		CapLen:   uint32(ci.CaptureLength),
		WireLen:  uint32(ci.Length),
		Bytes:    data,
	}, nil
}

func (s *pcapSource) LinkType() layers.LinkType { return s.handle.LinkType() }

func (s *pcapSource) Close() error {
	s.handle.Close()
	return nil
}

// OpenPcapReader wraps an already-open pcapgo.Reader (used by tests and by
// callers that received a file handle from elsewhere), as an alternative to
// pcap.OpenOffline that avoids the libpcap cgo dependency for pure-Go
// reading paths.
func OpenPcapReader(r *pcapgo.Reader) Source {
	return &pcapgoSource{r: r, linkType: r.LinkType()}
}

type pcapgoSource struct {
	r        *pcapgo.Reader
	linkType layers.LinkType
}

func (s *pcapgoSource) Next() (frame.PacketFrame, error) {
	data, ci, err := s.r.ReadPacketData()
	if err != nil {
		if err == io.EOF {
			return frame.PacketFrame{}, io.EOF
		}
		return frame.PacketFrame{}, fmt.Errorf("capturesource: read packet: %w", err)
	}
	return frame.PacketFrame{
		TSMicros: ci.Timestamp.UnixMicro(),
		CapLen:   uint32(ci.CaptureLength),
		WireLen:  uint32(ci.Length),
		Bytes:    data,
	}, nil
}

func (s *pcapgoSource) LinkType() layers.LinkType { return s.linkType }
func (s *pcapgoSource) Close() error              { return nil }

// hepListener implements Source over a HEP3 UDP socket: each inbound
// datagram becomes one PacketFrame whose bytes are the raw HEP3 frame,
// handed unmodified to the dissector chain's HEP entry point (the HEP
// dissector itself reconstructs synthetic IP+UDP metadata from chunks, per
// spec §4.1's HEP path — this Source only owns the socket read).
type hepListener struct {
	conn *net.UDPConn
}

// ListenHEP opens a UDP socket for inbound HEP3 frames (spec §6's
// "HEP listen address").
func ListenHEP(addr string) (Source, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("capturesource: resolve hep listen address %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("capturesource: listen hep %s: %w", addr, err)
	}
	log.Get().WithField("address", addr).Info("capturesource: listening for HEP3 frames")
	return &hepListener{conn: conn}, nil
}

func (h *hepListener) Next() (frame.PacketFrame, error) {
	buf := make([]byte, 65536)
	n, err := h.conn.Read(buf)
	if err != nil {
		return frame.PacketFrame{}, fmt.Errorf("capturesource: hep read: %w", err)
	}
	return frame.PacketFrame{
		TSMicros: time.Now().UnixMicro(),
		CapLen:   uint32(n),
		WireLen:  uint32(n),
		Bytes:    buf[:n],
	}, nil
}

func (h *hepListener) LinkType() layers.LinkType { return layers.LinkTypeNull }

func (h *hepListener) Close() error { return h.conn.Close() }
