package storage

import (
	"testing"

	"github.com/callscope/callscope/internal/dissect"
	"github.com/callscope/callscope/internal/frame"
	"github.com/callscope/callscope/internal/packet"
	"github.com/callscope/callscope/internal/proto"
	"github.com/callscope/callscope/internal/sipmsg"
)

// sipPacket builds a minimal SIP-bearing Packet at tsMicros, mirroring what
// the dissector chain would hand to Storage.Ingest.
func sipPacket(t *testing.T, raw string, tsMicros int64) *packet.Packet {
	t.Helper()
	pkt := packet.New(frame.PacketFrame{
		TSMicros: tsMicros,
		CapLen:   uint32(len(raw)),
		WireLen:  uint32(len(raw)),
		Bytes:    []byte(raw),
	})
	pkt.Set(proto.IP, &packet.IPData{SrcIP: "10.0.0.1", DstIP: "10.0.0.2"})
	pkt.Set(proto.UDP, &packet.UDPData{SrcPort: 5060, DstPort: 5060})

	msg, err := sipmsg.Parse(pkt, []byte(raw))
	if err != nil {
		t.Fatalf("sipmsg.Parse: %v", err)
	}
	pkt.Set(proto.SIP, &dissect.SIPData{Message: msg})
	if msg.SDP != nil {
		pkt.Set(proto.SDP, msg.SDP)
	}
	return pkt
}

const invite = "INVITE sip:bob@example.com SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP 10.0.0.1:5060\r\n" +
	"From: Alice <sip:alice@example.com>;tag=aaa\r\n" +
	"To: Bob <sip:bob@example.com>\r\n" +
	"Call-ID: call-1@10.0.0.1\r\n" +
	"CSeq: 1 INVITE\r\n" +
	"Content-Length: 0\r\n\r\n"

const ringing = "SIP/2.0 180 Ringing\r\n" +
	"Via: SIP/2.0/UDP 10.0.0.1:5060\r\n" +
	"From: Alice <sip:alice@example.com>;tag=aaa\r\n" +
	"To: Bob <sip:bob@example.com>;tag=bbb\r\n" +
	"Call-ID: call-1@10.0.0.1\r\n" +
	"CSeq: 1 INVITE\r\n" +
	"Content-Length: 0\r\n\r\n"

const okInvite = "SIP/2.0 200 OK\r\n" +
	"Via: SIP/2.0/UDP 10.0.0.1:5060\r\n" +
	"From: Alice <sip:alice@example.com>;tag=aaa\r\n" +
	"To: Bob <sip:bob@example.com>;tag=bbb\r\n" +
	"Call-ID: call-1@10.0.0.1\r\n" +
	"CSeq: 1 INVITE\r\n" +
	"Content-Length: 0\r\n\r\n"

const bye = "BYE sip:bob@example.com SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP 10.0.0.1:5060\r\n" +
	"From: Alice <sip:alice@example.com>;tag=aaa\r\n" +
	"To: Bob <sip:bob@example.com>;tag=bbb\r\n" +
	"Call-ID: call-1@10.0.0.1\r\n" +
	"CSeq: 2 BYE\r\n" +
	"Content-Length: 0\r\n\r\n"

const busy = "SIP/2.0 486 Busy Here\r\n" +
	"Via: SIP/2.0/UDP 10.0.0.1:5060\r\n" +
	"From: Alice <sip:alice@example.com>;tag=aaa\r\n" +
	"To: Bob <sip:bob@example.com>;tag=bbb\r\n" +
	"Call-ID: call-2@10.0.0.1\r\n" +
	"CSeq: 1 INVITE\r\n" +
	"Content-Length: 0\r\n\r\n"

// TestSimpleCallLifecycle covers S1: INVITE/180/200/BYE moves the call
// through CallSetup -> InCall -> Completed.
func TestSimpleCallLifecycle(t *testing.T) {
	s := New(MatchOpts{}, CaptureOpts{}, SortOpts{})

	if err := s.Ingest(sipPacket(t, invite, 1_000_000)); err != nil {
		t.Fatalf("ingest invite: %v", err)
	}
	call := s.LookupByCallID("call-1@10.0.0.1")
	if call == nil {
		t.Fatal("call not created")
	}
	if call.State != CallSetup {
		t.Fatalf("state after invite = %v, want CallSetup", call.State)
	}

	if err := s.Ingest(sipPacket(t, ringing, 1_100_000)); err != nil {
		t.Fatalf("ingest ringing: %v", err)
	}
	if call.State != CallSetup {
		t.Fatalf("state after 180 = %v, want CallSetup", call.State)
	}

	if err := s.Ingest(sipPacket(t, okInvite, 1_200_000)); err != nil {
		t.Fatalf("ingest 200: %v", err)
	}
	if call.State != InCall {
		t.Fatalf("state after 200 = %v, want InCall", call.State)
	}
	if call.CstartMsg == nil {
		t.Fatal("cstart not set")
	}

	if err := s.Ingest(sipPacket(t, bye, 5_200_000)); err != nil {
		t.Fatalf("ingest bye: %v", err)
	}
	if call.State != Completed {
		t.Fatalf("state after bye = %v, want Completed", call.State)
	}
	if call.CendMsg == nil {
		t.Fatal("cend not set")
	}
	if got, want := call.DurationMicros(), int64(5_200_000-1_200_000); got != want {
		t.Fatalf("duration = %d, want %d", got, want)
	}
}

// TestRetransmissionDetection covers S2: a byte-identical repeat of the
// same (Call-ID, CSeq, method) within a call is flagged, not treated as a
// second initial transaction.
func TestRetransmissionDetection(t *testing.T) {
	s := New(MatchOpts{}, CaptureOpts{}, SortOpts{})

	if err := s.Ingest(sipPacket(t, invite, 1_000_000)); err != nil {
		t.Fatalf("ingest invite: %v", err)
	}
	if err := s.Ingest(sipPacket(t, invite, 1_050_000)); err != nil {
		t.Fatalf("ingest retransmit: %v", err)
	}

	call := s.LookupByCallID("call-1@10.0.0.1")
	if len(call.Messages) != 2 {
		t.Fatalf("message count = %d, want 2", len(call.Messages))
	}
	if !call.Messages[1].IsRetransmission {
		t.Fatal("second identical INVITE not flagged as retransmission")
	}
	if call.Messages[1].IsInitialTransaction {
		t.Fatal("retransmission must not be the initial transaction")
	}
	if !call.Messages[0].IsInitialTransaction {
		t.Fatal("first INVITE should be the initial transaction")
	}
}

// TestBusyRejection covers S3: a 486 on the initial INVITE transaction
// moves CallSetup -> Busy, a terminal state.
func TestBusyRejection(t *testing.T) {
	s := New(MatchOpts{}, CaptureOpts{}, SortOpts{})

	if err := s.Ingest(sipPacket(t, busy, 1_000_000)); err != nil {
		t.Fatalf("ingest busy: %v", err)
	}
	call := s.LookupByCallID("call-2@10.0.0.1")
	if call == nil {
		t.Fatal("call not created")
	}
	if call.State != Busy {
		t.Fatalf("state = %v, want Busy", call.State)
	}
	if !call.State.IsTerminal() {
		t.Fatal("Busy must be terminal")
	}
}

// TestDialogCapEviction covers S6: ingesting more calls than DialogCap
// evicts the oldest by index.
func TestDialogCapEviction(t *testing.T) {
	s := New(MatchOpts{}, CaptureOpts{DialogCap: 1}, SortOpts{})

	first := "INVITE sip:bob@example.com SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.1:5060\r\n" +
		"From: Alice <sip:alice@example.com>;tag=aaa\r\n" +
		"To: Bob <sip:bob@example.com>\r\n" +
		"Call-ID: call-A@10.0.0.1\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"Content-Length: 0\r\n\r\n"
	second := "INVITE sip:bob@example.com SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.1:5060\r\n" +
		"From: Alice <sip:alice@example.com>;tag=aaa\r\n" +
		"To: Bob <sip:bob@example.com>\r\n" +
		"Call-ID: call-B@10.0.0.1\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"Content-Length: 0\r\n\r\n"

	if err := s.Ingest(sipPacket(t, first, 1_000_000)); err != nil {
		t.Fatalf("ingest first: %v", err)
	}
	if err := s.Ingest(sipPacket(t, second, 2_000_000)); err != nil {
		t.Fatalf("ingest second: %v", err)
	}

	if s.LookupByCallID("call-A@10.0.0.1") != nil {
		t.Fatal("oldest call should have been evicted")
	}
	if s.LookupByCallID("call-B@10.0.0.1") == nil {
		t.Fatal("newest call should survive the cap")
	}
	if got := s.Stats().Total; got != 1 {
		t.Fatalf("total = %d, want 1", got)
	}
}

// TestClearSoftKeepsReferencedCalls verifies clear_soft leaves calls with a
// live CallGroup reference intact while discarding everything else.
func TestClearSoftKeepsReferencedCalls(t *testing.T) {
	s := New(MatchOpts{}, CaptureOpts{}, SortOpts{})
	if err := s.Ingest(sipPacket(t, invite, 1_000_000)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	call := s.LookupByCallID("call-1@10.0.0.1")

	group := NewCallGroup()
	group.Add(call)

	s.ClearSoft()

	if s.LookupByCallID("call-1@10.0.0.1") == nil {
		t.Fatal("referenced call was cleared by clear_soft")
	}

	group.RemoveAll()
	s.ClearSoft()
	if s.LookupByCallID("call-1@10.0.0.1") != nil {
		t.Fatal("unreferenced call survived clear_soft")
	}
}

// TestRTPStreamCorrelation covers S4: an RTP packet whose (src ip, src
// port) matches an SDP m=/c= announcement binds to the announcing call
// (a message's own announced address is where it both receives and, under
// symmetric RTP, sends media from).
func TestRTPStreamCorrelation(t *testing.T) {
	s := New(MatchOpts{}, CaptureOpts{StoreRTP: true}, SortOpts{})

	inviteWithSDP := "INVITE sip:bob@example.com SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.1:5060\r\n" +
		"From: Alice <sip:alice@example.com>;tag=aaa\r\n" +
		"To: Bob <sip:bob@example.com>\r\n" +
		"Call-ID: call-rtp@10.0.0.1\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"Content-Type: application/sdp\r\n" +
		"Content-Length: 100\r\n\r\n" +
		"v=0\r\no=- 0 0 IN IP4 10.0.0.1\r\ns=-\r\nc=IN IP4 10.0.0.1\r\n" +
		"t=0 0\r\nm=audio 40000 RTP/AVP 0\r\n"

	if err := s.Ingest(sipPacket(t, inviteWithSDP, 1_000_000)); err != nil {
		t.Fatalf("ingest invite+sdp: %v", err)
	}

	rtpFrame := frame.PacketFrame{TSMicros: 1_500_000, CapLen: 20, WireLen: 20, Bytes: make([]byte, 20)}
	rtpPkt := packet.New(rtpFrame)
	rtpPkt.Set(proto.IP, &packet.IPData{SrcIP: "10.0.0.1", DstIP: "10.0.0.2"})
	rtpPkt.Set(proto.UDP, &packet.UDPData{SrcPort: 40000, DstPort: 30000})
	rtpData := &dissect.RTPData{PayloadType: 0, SequenceNumber: 1, Timestamp: 160, SSRC: 0xAABBCCDD, Payload: []byte{1, 2, 3}}
	rtpPkt.Set(proto.RTP, rtpData)

	if err := s.Ingest(rtpPkt); err != nil {
		t.Fatalf("ingest rtp: %v", err)
	}

	call := s.LookupByCallID("call-rtp@10.0.0.1")
	if call == nil {
		t.Fatal("call not created")
	}
	if len(call.Streams) != 1 {
		t.Fatalf("streams bound to call = %d, want 1", len(call.Streams))
	}
	if call.Streams[0].PacketCount != 1 {
		t.Fatalf("packet count = %d, want 1", call.Streams[0].PacketCount)
	}
}

// TestRTPStreamCorrelationPicksOfferOverAnswer covers S4 exactly: an INVITE
// and its 200 OK each advertise a different media address, and an RTP
// packet flowing from the INVITE's advertised address to the 200 OK's must
// bind stream.Msg to the INVITE, not the 200 OK, since the INVITE's
// announced address is the one that matches the stream's source.
func TestRTPStreamCorrelationPicksOfferOverAnswer(t *testing.T) {
	s := New(MatchOpts{}, CaptureOpts{}, SortOpts{})

	invite := "INVITE sip:bob@example.com SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP 192.0.2.2:5060\r\n" +
		"From: Alice <sip:alice@example.com>;tag=aaa\r\n" +
		"To: Bob <sip:bob@example.com>\r\n" +
		"Call-ID: call-s4@192.0.2.2\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"Content-Type: application/sdp\r\n" +
		"Content-Length: 100\r\n\r\n" +
		"v=0\r\no=- 0 0 IN IP4 192.0.2.2\r\ns=-\r\nc=IN IP4 192.0.2.2\r\n" +
		"t=0 0\r\nm=audio 40000 RTP/AVP 0\r\n"

	okInviteWithSDP := "SIP/2.0 200 OK\r\n" +
		"Via: SIP/2.0/UDP 192.0.2.2:5060\r\n" +
		"From: Alice <sip:alice@example.com>;tag=aaa\r\n" +
		"To: Bob <sip:bob@example.com>;tag=bbb\r\n" +
		"Call-ID: call-s4@192.0.2.2\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"Content-Type: application/sdp\r\n" +
		"Content-Length: 100\r\n\r\n" +
		"v=0\r\no=- 0 0 IN IP4 192.0.2.3\r\ns=-\r\nc=IN IP4 192.0.2.3\r\n" +
		"t=0 0\r\nm=audio 50000 RTP/AVP 0\r\n"

	if err := s.Ingest(sipPacket(t, invite, 1_000_000)); err != nil {
		t.Fatalf("ingest invite+sdp: %v", err)
	}
	if err := s.Ingest(sipPacket(t, okInviteWithSDP, 1_100_000)); err != nil {
		t.Fatalf("ingest 200+sdp: %v", err)
	}

	rtpFrame := frame.PacketFrame{TSMicros: 1_500_000, CapLen: 20, WireLen: 20, Bytes: make([]byte, 20)}
	rtpPkt := packet.New(rtpFrame)
	rtpPkt.Set(proto.IP, &packet.IPData{SrcIP: "192.0.2.2", DstIP: "192.0.2.3"})
	rtpPkt.Set(proto.UDP, &packet.UDPData{SrcPort: 40000, DstPort: 50000})
	rtpData := &dissect.RTPData{PayloadType: 0, SequenceNumber: 1, Timestamp: 160, SSRC: 0xDEADBEEF, Payload: []byte{1, 2, 3}}
	rtpPkt.Set(proto.RTP, rtpData)

	if err := s.Ingest(rtpPkt); err != nil {
		t.Fatalf("ingest rtp: %v", err)
	}

	call := s.LookupByCallID("call-s4@192.0.2.2")
	if call == nil {
		t.Fatal("call not created")
	}
	if len(call.Streams) != 1 {
		t.Fatalf("streams bound to call = %d, want 1", len(call.Streams))
	}
	if call.Streams[0].Msg == nil || call.Streams[0].Msg.Method != "INVITE" || !call.Streams[0].Msg.IsRequest() {
		t.Fatalf("stream.Msg should be the INVITE, got %+v", call.Streams[0].Msg)
	}
}

// TestInviteOnlyDropsNonInviteFirstMessage ensures InviteOnly never opens a
// new call on a non-INVITE first message.
func TestInviteOnlyDropsNonInviteFirstMessage(t *testing.T) {
	s := New(MatchOpts{InviteOnly: true}, CaptureOpts{}, SortOpts{})
	if err := s.Ingest(sipPacket(t, bye, 1_000_000)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if s.LookupByCallID("call-1@10.0.0.1") != nil {
		t.Fatal("invite-only storage opened a call on a bare BYE")
	}
}

// TestMemoryLimitEviction exercises the soft memory cap: once the running
// total reaches the configured limit, the oldest call is evicted even
// though the dialog cap is unset.
func TestMemoryLimitEviction(t *testing.T) {
	s := New(MatchOpts{}, CaptureOpts{MemoryLimit: int64(len(invite))}, SortOpts{})

	first := invite
	second := "INVITE sip:bob@example.com SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.1:5060\r\n" +
		"From: Alice <sip:alice@example.com>;tag=aaa\r\n" +
		"To: Bob <sip:bob@example.com>\r\n" +
		"Call-ID: call-mem@10.0.0.1\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"Content-Length: 0\r\n\r\n"

	if err := s.Ingest(sipPacket(t, first, 1_000_000)); err != nil {
		t.Fatalf("ingest first: %v", err)
	}
	if err := s.Ingest(sipPacket(t, second, 2_000_000)); err != nil {
		t.Fatalf("ingest second: %v", err)
	}

	if s.LookupByCallID("call-1@10.0.0.1") != nil {
		t.Fatal("oldest call should have been evicted once the memory cap was reached")
	}
}
