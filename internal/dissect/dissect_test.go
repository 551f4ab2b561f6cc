package dissect

import (
	"errors"
	"testing"

	"github.com/callscope/callscope/internal/frame"
	"github.com/callscope/callscope/internal/packet"
	"github.com/callscope/callscope/internal/proto"
)

// stubDissector is a test double that always hands off to nextID and
// returns the remaining payload unmodified, recording how many times it
// was invoked.
type stubDissector struct {
	id      proto.ID
	next    proto.ID
	calls   int
	dropErr error
}

func (d *stubDissector) ID() proto.ID { return d.id }

func (d *stubDissector) Dissect(pkt *packet.Packet, payload []byte) (proto.ID, []byte, error) {
	d.calls++
	if d.dropErr != nil {
		return proto.None, nil, d.dropErr
	}
	pkt.Set(d.id, true)
	return d.next, payload, nil
}

func TestChainDispatchesThroughMultipleStages(t *testing.T) {
	chain := NewChain()
	ip := &stubDissector{id: proto.IP, next: proto.UDP}
	udp := &stubDissector{id: proto.UDP, next: proto.SIP}
	sip := &stubDissector{id: proto.SIP, next: proto.None}
	chain.Register(ip)
	chain.Register(udp)
	chain.Register(sip)

	pkt := packet.New(testFrame())
	out, err := chain.Dissect(proto.IP, pkt, []byte("payload"))
	if err != nil {
		t.Fatalf("Dissect: %v", err)
	}
	if !out.Has(proto.IP) || !out.Has(proto.UDP) || !out.Has(proto.SIP) {
		t.Fatal("expected every stage in the chain to have run")
	}
	if ip.calls != 1 || udp.calls != 1 || sip.calls != 1 {
		t.Fatalf("unexpected call counts: ip=%d udp=%d sip=%d", ip.calls, udp.calls, sip.calls)
	}
}

func TestChainStopsAtUnregisteredStage(t *testing.T) {
	chain := NewChain()
	ip := &stubDissector{id: proto.IP, next: proto.UDP} // UDP never registered
	chain.Register(ip)

	pkt := packet.New(testFrame())
	out, err := chain.Dissect(proto.IP, pkt, []byte("payload"))
	if err != nil {
		t.Fatalf("Dissect: %v", err)
	}
	if !out.Has(proto.IP) {
		t.Fatal("expected the registered stage to have run")
	}
}

func TestChainDropPropagatesError(t *testing.T) {
	chain := NewChain()
	ip := &stubDissector{id: proto.IP, dropErr: ErrDrop}
	chain.Register(ip)

	pkt := packet.New(testFrame())
	out, err := chain.Dissect(proto.IP, pkt, []byte("payload"))
	if !errors.Is(err, ErrDrop) {
		t.Fatalf("expected ErrDrop, got %v", err)
	}
	if out != nil {
		t.Fatal("expected a nil packet on drop")
	}
}

func testFrame() frame.PacketFrame {
	return frame.PacketFrame{TSMicros: 1, CapLen: 7, WireLen: 7, Bytes: []byte("payload")}
}
