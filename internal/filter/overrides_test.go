package filter

import (
	"regexp"
	"testing"

	"github.com/callscope/callscope/internal/config"
	"github.com/callscope/callscope/internal/dissect"
	"github.com/callscope/callscope/internal/frame"
	"github.com/callscope/callscope/internal/packet"
	"github.com/callscope/callscope/internal/proto"
	"github.com/callscope/callscope/internal/sipmsg"
	"github.com/callscope/callscope/internal/storage"
)

func TestApplyOverridesRestylesBuiltin(t *testing.T) {
	r := NewRegistry()
	ApplyOverrides(r, map[string]config.AttributeOverride{
		"method": {Title: "Verb", Length: 6},
	})
	if r.byName["method"].Title != "Verb" || r.byName["method"].Length != 6 {
		t.Fatalf("method not restyled: %+v", r.byName["method"])
	}
	call := buildCall(t, sampleInvite)
	if got := r.Value("method", call); got != "INVITE" {
		t.Fatalf("restyling a built-in must not change its extracted value, got %q", got)
	}
}

func TestApplyOverridesAddsRegexAttribute(t *testing.T) {
	r := NewRegistry()
	re := regexp.MustCompile(`Call-ID: (?P<value>[^\r\n]+)`)
	ApplyOverrides(r, map[string]config.AttributeOverride{
		"myattr": {Title: "Mine", Regexp: re},
	})
	call := buildCall(t, sampleInvite)
	if got := r.Value("myattr", call); got != "dfilter-1@10.0.0.1" {
		t.Fatalf("myattr = %q", got)
	}
}

func TestApplyOverridesSkipsUnknownNonRegexName(t *testing.T) {
	r := NewRegistry()
	before := len(r.Names())
	ApplyOverrides(r, map[string]config.AttributeOverride{
		"nosuchattr": {Title: "Ghost"},
	})
	if len(r.Names()) != before {
		t.Fatalf("an override with no regexp and no matching built-in must not register a new attribute")
	}
}

func TestIpidAttributePrefersExternIPTwin(t *testing.T) {
	r := NewRegistry()
	r.SetExternIPs(map[string]string{"10.0.0.1": "203.0.113.5"})
	call := buildCall(t, sampleInvite)
	if got := r.Value("ipid", call); got != "10.0.0.1/203.0.113.5" {
		t.Fatalf("ipid = %q", got)
	}
}

func TestSortByIndexDescending(t *testing.T) {
	s := storage.New(storage.MatchOpts{}, storage.CaptureOpts{}, storage.SortOpts{})
	r := NewRegistry()

	for n := 1; n <= 3; n++ {
		ingestTestCall(t, s, n)
	}
	calls := s.Calls()

	Sort(calls, r, storage.SortOpts{Attribute: "index", Ascending: false})
	if calls[0].Index != 3 || calls[2].Index != 1 {
		t.Fatalf("descending index sort failed: %+v", indexesOf(calls))
	}

	Sort(calls, r, storage.SortOpts{Attribute: "index", Ascending: true})
	if calls[0].Index != 1 || calls[2].Index != 3 {
		t.Fatalf("ascending index sort failed: %+v", indexesOf(calls))
	}
}

func indexesOf(calls []*storage.Call) []uint32 {
	out := make([]uint32, len(calls))
	for i, c := range calls {
		out[i] = c.Index
	}
	return out
}

// ingestTestCall ingests a minimal INVITE with a distinct Call-ID into s so
// the resulting *storage.Call has a distinct, predictable Index.
func ingestTestCall(t *testing.T, s *storage.Storage, n int) {
	t.Helper()
	raw := "INVITE sip:bob@example.com SIP/2.0\r\n" +
		"From: Alice <sip:alice@example.com>;tag=aaa\r\n" +
		"To: Bob <sip:bob@example.com>\r\n" +
		"Call-ID: sort-test-" + string(rune('0'+n)) + "@10.0.0.1\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"Content-Length: 0\r\n\r\n"

	pkt := packet.New(frame.PacketFrame{TSMicros: int64(n), CapLen: uint32(len(raw)), WireLen: uint32(len(raw)), Bytes: []byte(raw)})
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
}
