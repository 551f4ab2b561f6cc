package sipmsg

import "testing"

func TestParseRequestStartLine(t *testing.T) {
	raw := "INVITE sip:bob@example.com SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.1:5060\r\n" +
		"From: Alice <sip:alice@example.com>;tag=aaa\r\n" +
		"To: Bob <sip:bob@example.com>\r\n" +
		"Call-ID: abc123@10.0.0.1\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"Content-Length: 0\r\n\r\n"

	msg, err := Parse(nil, []byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !msg.IsRequest() {
		t.Fatal("expected a request")
	}
	if msg.Method != "INVITE" {
		t.Fatalf("method = %q, want INVITE", msg.Method)
	}
	if msg.RequestURI != "sip:bob@example.com" {
		t.Fatalf("request uri = %q", msg.RequestURI)
	}
	if msg.CallID() != "abc123@10.0.0.1" {
		t.Fatalf("call-id = %q", msg.CallID())
	}
	if msg.CSeqNum != 1 || msg.CSeqMethod != "INVITE" {
		t.Fatalf("cseq = %d %q", msg.CSeqNum, msg.CSeqMethod)
	}
}

func TestParseResponseStartLine(t *testing.T) {
	raw := "SIP/2.0 486 Busy Here\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.1:5060\r\n" +
		"From: Alice <sip:alice@example.com>;tag=aaa\r\n" +
		"To: Bob <sip:bob@example.com>;tag=bbb\r\n" +
		"Call-ID: abc123@10.0.0.1\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"Content-Length: 0\r\n\r\n"

	msg, err := Parse(nil, []byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.IsRequest() {
		t.Fatal("expected a response")
	}
	if msg.Status != 486 {
		t.Fatalf("status = %d, want 486", msg.Status)
	}
	if msg.Reason != "Busy Here" {
		t.Fatalf("reason = %q", msg.Reason)
	}
}

func TestParseCompactHeaderForms(t *testing.T) {
	raw := "INVITE sip:bob@example.com SIP/2.0\r\n" +
		"v: SIP/2.0/UDP 10.0.0.1:5060\r\n" +
		"f: Alice <sip:alice@example.com>;tag=aaa\r\n" +
		"t: Bob <sip:bob@example.com>\r\n" +
		"i: abc123@10.0.0.1\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"l: 0\r\n\r\n"

	msg, err := Parse(nil, []byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.CallID() != "abc123@10.0.0.1" {
		t.Fatalf("compact Call-ID (i) not expanded: %q", msg.CallID())
	}
	if msg.Headers.Get("From") != "Alice <sip:alice@example.com>;tag=aaa" {
		t.Fatalf("compact From (f) not expanded: %q", msg.Headers.Get("From"))
	}
	if msg.Headers.Get("Content-Length") != "0" {
		t.Fatalf("compact Content-Length (l) not expanded: %q", msg.Headers.Get("Content-Length"))
	}
}

func TestParseFoldedHeaderLine(t *testing.T) {
	raw := "INVITE sip:bob@example.com SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.1:5060\r\n" +
		"From: Alice\r\n <sip:alice@example.com>;tag=aaa\r\n" +
		"To: Bob <sip:bob@example.com>\r\n" +
		"Call-ID: abc123@10.0.0.1\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"Content-Length: 0\r\n\r\n"

	msg, err := Parse(nil, []byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.Headers.Get("From") != "Alice <sip:alice@example.com>;tag=aaa" {
		t.Fatalf("folded From header not joined: %q", msg.Headers.Get("From"))
	}
}

func TestParseMissingMandatoryHeaderRejected(t *testing.T) {
	raw := "INVITE sip:bob@example.com SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.1:5060\r\n" +
		"From: Alice <sip:alice@example.com>;tag=aaa\r\n" +
		"To: Bob <sip:bob@example.com>\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"Content-Length: 0\r\n\r\n"

	_, err := Parse(nil, []byte(raw))
	if err == nil {
		t.Fatal("expected an error for missing Call-ID")
	}
}

func TestParseBadStartLineRejected(t *testing.T) {
	raw := "GARBAGE\r\n\r\n"
	if _, err := Parse(nil, []byte(raw)); err == nil {
		t.Fatal("expected an error for an unparseable start line")
	}
}

func TestParseSDPBody(t *testing.T) {
	raw := "INVITE sip:bob@example.com SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.1:5060\r\n" +
		"From: Alice <sip:alice@example.com>;tag=aaa\r\n" +
		"To: Bob <sip:bob@example.com>\r\n" +
		"Call-ID: abc123@10.0.0.1\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"Content-Type: application/sdp\r\n" +
		"Content-Length: 100\r\n\r\n" +
		"v=0\r\no=- 0 0 IN IP4 10.0.0.1\r\ns=-\r\nc=IN IP4 10.0.0.1\r\n" +
		"t=0 0\r\nm=audio 40000 RTP/AVP 0 8\r\na=rtpmap:0 PCMU/8000\r\n"

	msg, err := Parse(nil, []byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.SDP == nil {
		t.Fatal("expected SDP body to be parsed")
	}
	if len(msg.SDP.Media) != 1 {
		t.Fatalf("media count = %d, want 1", len(msg.SDP.Media))
	}
	m := msg.SDP.Media[0]
	if m.Port != 40000 || m.ConnIP != "10.0.0.1" {
		t.Fatalf("media = %+v", m)
	}
	if m.PreferredCodec != "PCMU" {
		t.Fatalf("preferred codec = %q, want PCMU", m.PreferredCodec)
	}
}

func TestExtractURIAndTag(t *testing.T) {
	value := `"Alice" <sip:alice@example.com>;tag=1234`
	if got := ExtractURI(value); got != "sip:alice@example.com" {
		t.Fatalf("ExtractURI = %q", got)
	}
	if got := ExtractTag(value); got != "1234" {
		t.Fatalf("ExtractTag = %q", got)
	}
}
