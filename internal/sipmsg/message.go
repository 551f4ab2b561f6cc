// Package sipmsg implements SIP/SDP message parsing: header extraction with
// compact-form expansion and line folding, mandatory-header validation,
// retransmission detection, and SDP body parsing for stream correlation.
// Grounded in the teacher's plugins/parser/sip/sip.go parser, generalized to
// the full header/compact-form set and wired into the Call/Message model
// instead of a label map.
package sipmsg

import (
	"crypto/sha256"
	"fmt"

	"github.com/callscope/callscope/internal/packet"
)

// MethodOrStatus tags whether a Message is a request (method set, status
// zero) or a response (status set, method empty).
type MethodOrStatus struct {
	Method string
	Status int // 0 for requests
	Reason string
}

func (m MethodOrStatus) IsRequest() bool { return m.Status == 0 }

func (m MethodOrStatus) String() string {
	if m.IsRequest() {
		return m.Method
	}
	return fmt.Sprintf("%d %s", m.Status, m.Reason)
}

// Message is a parsed SIP PDU bound to the Packet it was extracted from.
type Message struct {
	Packet *packet.Packet

	RequestURI string
	MethodOrStatus
	CSeqNum    uint32
	CSeqMethod string

	Headers Headers

	SDP *SDP // nil if no body or body isn't SDP

	IsRetransmission     bool
	IsInitialTransaction bool

	// PayloadHash identifies byte-identical retransmissions: sha256 over the
	// raw PDU bytes, compared within the same Call for (CallID, CSeq,
	// Method, IsRequest, Status) equality per spec §4.2.
	PayloadHash [32]byte

	// Call is a back-pointer set by the storage layer on ingest; nil until
	// then.
	Call CallRef
}

// CallRef is the minimal interface Message needs from its owning Call,
// avoiding an import cycle between sipmsg and storage.
type CallRef interface {
	CallID() string
}

// CallID is a convenience accessor over the mandatory Call-ID header.
func (m *Message) CallID() string { return m.Headers.Get("Call-ID") }

// XCallIDs returns any X-Call-ID/X-CID header values, used for extended-flow
// grouping (spec §4.6 step 4).
func (m *Message) XCallIDs() []string {
	var out []string
	if v := m.Headers.Get("X-Call-ID"); v != "" {
		out = append(out, v)
	}
	if v := m.Headers.Get("X-CID"); v != "" {
		out = append(out, v)
	}
	return out
}

// ComputePayloadHash hashes the raw SIP PDU bytes for retransmission
// comparison.
func ComputePayloadHash(raw []byte) [32]byte {
	return sha256.Sum256(raw)
}

// SameTransaction reports whether two messages belong to the same
// (Call-ID, CSeq, method, is_request, status) transaction tuple, the basis
// for retransmission detection (spec §4.2). IsInitialTransaction (spec §9
// open question) does not use it; storage resolves that as the first
// non-retransmitted request with a given CSeq number in the Call.
func (m *Message) SameTransaction(other *Message) bool {
	return m.CallID() == other.CallID() &&
		m.CSeqNum == other.CSeqNum &&
		m.CSeqMethod == other.CSeqMethod &&
		m.IsRequest() == other.IsRequest() &&
		m.Status == other.Status
}
