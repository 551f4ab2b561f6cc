// Package engine is the composition root for the capture task from spec
// §5: it owns the Source, builds the dissector Chain, and feeds every
// successfully dissected Packet into Storage. This is the "single thread
// multiplexing capture I/O... via a polling loop" option spec §5 permits;
// the capture task observes a shutdown context between packets per the
// cancellation policy.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/gopacket/layers"

	"github.com/callscope/callscope/internal/capturesource"
	"github.com/callscope/callscope/internal/dissect"
	"github.com/callscope/callscope/internal/frame"
	"github.com/callscope/callscope/internal/hepforward"
	"github.com/callscope/callscope/internal/log"
	"github.com/callscope/callscope/internal/packet"
	"github.com/callscope/callscope/internal/proto"
	"github.com/callscope/callscope/internal/reassembly"
	"github.com/callscope/callscope/internal/storage"
)

// Options configures the engine from resolved CLI/config values.
type Options struct {
	KeyFilePath  string // PEM RSA private key file for TLS; "" disables decryption
	HEPAuthKey   string // expected HEP3 auth-key chunk value; "" accepts any
	HEPForward   string // if set, every ingested packet is also re-sent as HEP3
}

// Engine wires a Source through the dissector Chain into Storage.
type Engine struct {
	source   capturesource.Source
	chain    *dissect.Chain
	store    *storage.Storage
	entry    proto.ID
	forward  *hepforward.Forwarder
}

// New builds an Engine. entry is the dissector chain's entry point for raw
// frames from source: proto.IP for pcap file/live device sources, proto.HEP
// for a HEP3 UDP listener (spec §4.1's two ingestion paths).
func New(source capturesource.Source, entry proto.ID, store *storage.Storage, opts Options) (*Engine, error) {
	chain := dissect.NewChain()
	reassembler := reassembly.New()

	chain.Register(dissect.NewIPDissector())
	chain.Register(dissect.NewUDPDissector())
	chain.Register(dissect.NewTCPDissector(reassembler))
	chain.Register(dissect.NewWSDissector())
	chain.Register(dissect.NewSIPDissector())
	chain.Register(dissect.NewRTPDissector())
	chain.Register(dissect.NewRTCPDissector())
	chain.Register(dissect.NewHEPDissector(opts.HEPAuthKey))

	tlsDissector, err := dissect.NewTLSDissector(opts.KeyFilePath, reassembler)
	if err != nil {
		return nil, fmt.Errorf("engine: tls dissector: %w", err)
	}
	chain.Register(tlsDissector)

	var fwd *hepforward.Forwarder
	if opts.HEPForward != "" {
		fwd, err = hepforward.Dial([]string{opts.HEPForward}, hepforward.Options{AuthKey: opts.HEPAuthKey})
		if err != nil {
			return nil, fmt.Errorf("engine: hep forwarder: %w", err)
		}
	}

	return &Engine{source: source, chain: chain, store: store, entry: entry, forward: fwd}, nil
}

// LinkType reports the link type of the underlying Source, used by
// save-to-pcap output.
func (e *Engine) LinkType() layers.LinkType { return e.source.LinkType() }

// Run drains the Source until ctx is cancelled or the source is exhausted
// (pcap file EOF), dissecting and ingesting every frame. Only Source.Next
// may block, per spec §5's suspension-point rule; dissection and ingest
// never do.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		f, err := e.source.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("engine: source error: %w", err)
		}

		if err := e.ingestFrame(f); err != nil {
			log.Get().WithError(err).Debug("engine: frame dropped")
		}
	}
}

func (e *Engine) ingestFrame(f frame.PacketFrame) error {
	pkt := packet.New(f)
	enriched, err := e.chain.Dissect(e.entry, pkt, f.Bytes)
	if err != nil {
		return err
	}
	if enriched == nil {
		return nil
	}
	if !enriched.Has(proto.SIP) && !enriched.Has(proto.RTP) && !enriched.Has(proto.RTCP) {
		return nil
	}
	if err := e.store.Ingest(enriched); err != nil {
		return err
	}
	if e.forward != nil {
		e.forwardIngested(enriched, f.Bytes)
	}
	return nil
}

func (e *Engine) forwardIngested(pkt *packet.Packet, raw []byte) {
	kind, ok := forwardKind(pkt)
	if !ok {
		return
	}
	if err := e.forward.Forward(pkt, kind, raw); err != nil {
		log.Get().WithError(err).Debug("engine: hep forward failed")
	}
}

func forwardKind(pkt *packet.Packet) (hepforward.PayloadKind, bool) {
	switch {
	case pkt.Has(proto.SIP):
		return hepforward.KindSIP, true
	case pkt.Has(proto.RTP):
		return hepforward.KindRTP, true
	case pkt.Has(proto.RTCP):
		return hepforward.KindRTCP, true
	default:
		return 0, false
	}
}

// Close releases the Source and any outbound HEP forwarding sockets.
func (e *Engine) Close() error {
	if e.forward != nil {
		e.forward.Close()
	}
	return e.source.Close()
}
