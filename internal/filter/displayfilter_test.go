package filter

import (
	"testing"

	"github.com/callscope/callscope/internal/dissect"
	"github.com/callscope/callscope/internal/frame"
	"github.com/callscope/callscope/internal/packet"
	"github.com/callscope/callscope/internal/proto"
	"github.com/callscope/callscope/internal/sipmsg"
	"github.com/callscope/callscope/internal/storage"
)

func buildCall(t *testing.T, raw string) *storage.Call {
	t.Helper()
	s := storage.New(storage.MatchOpts{}, storage.CaptureOpts{}, storage.SortOpts{})

	pkt := packet.New(frame.PacketFrame{TSMicros: 1, CapLen: uint32(len(raw)), WireLen: uint32(len(raw)), Bytes: []byte(raw)})
	pkt.Set(proto.IP, &packet.IPData{SrcIP: "10.0.0.1", DstIP: "10.0.0.2"})
	pkt.Set(proto.UDP, &packet.UDPData{SrcPort: 5060, DstPort: 5060})

	msg, err := sipmsg.Parse(pkt, []byte(raw))
	if err != nil {
		t.Fatalf("sipmsg.Parse: %v", err)
	}
	pkt.Set(proto.SIP, &dissect.SIPData{Message: msg})

	if err := s.Ingest(pkt); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	call := s.LookupByCallID(msg.CallID())
	if call == nil {
		t.Fatal("call not created")
	}
	return call
}

const sampleInvite = "INVITE sip:bob@example.com SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP 10.0.0.1:5060\r\n" +
	"From: Alice <sip:alice@example.com>;tag=aaa\r\n" +
	"To: Bob <sip:bob@example.com>\r\n" +
	"Call-ID: dfilter-1@10.0.0.1\r\n" +
	"CSeq: 1 INVITE\r\n" +
	"Content-Length: 0\r\n\r\n"

func TestDisplayFilterSIPFromMatches(t *testing.T) {
	call := buildCall(t, sampleInvite)

	df, err := NewDisplayFilters(map[Key]string{FilterSIPFrom: "alice"})
	if err != nil {
		t.Fatalf("NewDisplayFilters: %v", err)
	}
	if !df.Matches(call) {
		t.Fatal("expected FILTER_SIPFROM to match 'alice' in From header")
	}

	df2, err := NewDisplayFilters(map[Key]string{FilterSIPFrom: "carol"})
	if err != nil {
		t.Fatalf("NewDisplayFilters: %v", err)
	}
	if df2.Matches(call) {
		t.Fatal("expected FILTER_SIPFROM not to match 'carol'")
	}
}

func TestDisplayFilterMethodUsesFirstRequest(t *testing.T) {
	call := buildCall(t, sampleInvite)

	df, err := NewDisplayFilters(map[Key]string{FilterMethod: "^INVITE$"})
	if err != nil {
		t.Fatalf("NewDisplayFilters: %v", err)
	}
	if !df.Matches(call) {
		t.Fatal("expected FILTER_METHOD to match the call's first request method")
	}
}

func TestDisplayFilterNilPassesEverything(t *testing.T) {
	call := buildCall(t, sampleInvite)
	var df *DisplayFilters
	if !df.Matches(call) {
		t.Fatal("a nil DisplayFilters must pass every call")
	}
}

func TestBuildMatchOptsCompilesExpression(t *testing.T) {
	opts, err := BuildMatchOpts("INVITE", true)
	if err != nil {
		t.Fatalf("BuildMatchOpts: %v", err)
	}
	if opts.MatchExpr == nil || !opts.InviteOnly {
		t.Fatal("match options not populated as expected")
	}
}

func TestBuildMatchOptsRejectsBadExpression(t *testing.T) {
	if _, err := BuildMatchOpts("(unclosed", false); err == nil {
		t.Fatal("expected an error for an invalid regular expression")
	}
}
