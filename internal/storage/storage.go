// Package storage implements the process-wide Call/Message/Stream registry:
// ingest routing, dialog correlation, eviction, and the read-only snapshot
// API, per spec §3/§4.6-4.9. Grounded in the teacher's FlowRegistry
// (sync.Map-backed correlation) and session-cache patterns, generalized
// from label extraction to a full dialog/stream store.
package storage

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/callscope/callscope/internal/addr"
	"github.com/callscope/callscope/internal/dissect"
	"github.com/callscope/callscope/internal/log"
	"github.com/callscope/callscope/internal/metrics"
	"github.com/callscope/callscope/internal/packet"
	"github.com/callscope/callscope/internal/proto"
)

// MatchOpts is the pre-index filter applied at ingest (spec §4.9 #1).
type MatchOpts struct {
	MatchExpr  *regexp.Regexp // nil = no payload match required
	InviteOnly bool
}

// CaptureOpts controls resource policy during ingest (spec §3 Storage).
type CaptureOpts struct {
	StoreRTP     bool
	MemoryLimit  int64  // bytes; 0 = unlimited
	DialogCap    uint32 // 0 = unlimited
	RTPPayloadCap int   // max buffered RTP payloads per stream when StoreRTP
}

// SortOpts controls the derived ordering of a Snapshot.
type SortOpts struct {
	Attribute string
	Ascending bool
}

// Stats mirrors spec §3's Storage.stats.
type Stats struct {
	Total           int
	Displayed       int
	MemoryBytes     int64
	DropsByProtocol map[string]uint64
}

// Storage is the single process-wide registry described in spec §3/§4.8.
// Ingest holds an exclusive lock for the duration of one packet; readers
// take a shared lock for snapshot construction, matching the single-writer/
// multiple-reader policy from spec §5.
type Storage struct {
	mu sync.RWMutex

	callsByID    map[string]*Call
	callsByIndex []*Call
	nextIndex    uint32

	// streamIndex correlates (src,dst,ssrc) to a Stream, independent of
	// which Call it eventually binds to (an RTP packet may arrive before
	// its SDP offer is ingested).
	streamIndex map[StreamKey]*Stream

	// pendingStreamKeys maps an expected stream key (from an SDP m= line)
	// to the Message that announced it, so a later RTP/RTCP packet binds
	// immediately (spec §4.6 step 5).
	pendingStreamKeys map[StreamKey]*Message

	matchOpts   MatchOpts
	captureOpts CaptureOpts
	sortOpts    SortOpts

	version   uint64
	listeners []Listener

	memoryBytes int64
}

// New creates an empty Storage with the given options.
func New(match MatchOpts, capture CaptureOpts, sort SortOpts) *Storage {
	return &Storage{
		callsByID:         make(map[string]*Call),
		streamIndex:       make(map[StreamKey]*Stream),
		pendingStreamKeys: make(map[StreamKey]*Message),
		matchOpts:         match,
		captureOpts:       capture,
		sortOpts:          sort,
	}
}

// Subscribe registers a Listener for call lifecycle events.
func (s *Storage) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Ingest routes pkt by its top dissected protocol to SIP or RTP/RTCP
// ingest, per spec §4.8.
func (s *Storage) Ingest(pkt *packet.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if data, ok := pkt.Get(proto.SIP); ok {
		sipData, ok := data.(*dissect.SIPData)
		if !ok {
			return fmt.Errorf("storage: unexpected SIP protocol-data type")
		}
		return s.ingestSIPLocked(sipData.Message)
	}
	if data, ok := pkt.Get(proto.RTP); ok {
		rtpData := data.(*dissect.RTPData)
		s.ingestRTPLocked(pkt, rtpData)
		return nil
	}
	if data, ok := pkt.Get(proto.RTCP); ok {
		rtcpData := data.(*dissect.RTCPData)
		s.ingestRTCPLocked(pkt, rtcpData)
		return nil
	}
	return fmt.Errorf("storage: packet has no SIP/RTP/RTCP payload layer")
}

func (s *Storage) ingestSIPLocked(msg *Message) error {
	if s.matchOpts.MatchExpr != nil && !s.matchOpts.MatchExpr.Match(rawPDU(msg)) {
		return nil // pre-index match failed, silently not accepted
	}

	callID := msg.CallID()
	if callID == "" {
		return fmt.Errorf("storage: message missing call-id")
	}

	call, existed := s.callsByID[callID]
	if !existed {
		if s.matchOpts.InviteOnly && !(msg.IsRequest() && msg.Method == "INVITE") {
			return nil // invite-only: don't open a new call on a non-INVITE
		}
		s.nextIndex++
		call = newCall(callID, s.nextIndex)
		s.callsByID[callID] = call
		s.callsByIndex = append(s.callsByIndex, call)
	}

	before := call.memoryBytes
	call.appendMessage(msg)
	s.memoryBytes += call.memoryBytes - before

	if msg.SDP != nil {
		s.reserveStreamKeysLocked(call, msg)
	}

	if !existed {
		s.notifyAdded(call)
		s.enforceCapsLocked()
	} else {
		s.notifyChanged(call)
	}

	s.version++
	metrics.SetActiveCalls(len(s.callsByID))
	return nil
}

// reserveStreamKeysLocked implements spec §4.6 step 5: for each m= record,
// reserve the address this message announced as its own receive address, so
// a later RTP/RTCP packet whose *source* matches that address binds to this
// message without a linear scan. This resolves spec §9's SDP-to-stream
// correlation open question as: a message's own announced address matches
// the stream's source, not the packet's destination (symmetric RTP means
// the address an endpoint advertises for receiving is also the address it
// sends from). For S4 (INVITE announces 192.0.2.2:40000, 200 OK announces
// 192.0.2.3:50000, RTP flows src=192.0.2.2:40000 -> dst=192.0.2.3:50000),
// this binds the stream to the INVITE, since the RTP source matches what
// the INVITE announced. RTP/RTCP only ever reach this dissector chain over
// UDP (internal/dissect/udp.go's heuristic), so the reserved address's
// transport is always UDP.
func (s *Storage) reserveStreamKeysLocked(call *Call, msg *Message) {
	for _, media := range msg.SDP.Media {
		ip := media.ConnIP
		if ip == "" {
			ip = msg.SDP.SessionConnIP
		}
		if ip == "" || media.Port == 0 {
			continue
		}
		announced := addr.Address{IP: ip, Port: media.Port, Transport: addr.TransportUDP}
		key := StreamKey{Src: announced}
		s.pendingStreamKeys[key] = msg
	}
}

func (s *Storage) ingestRTPLocked(pkt *packet.Packet, rtp *dissect.RTPData) {
	s.ingestMediaLocked(pkt, rtp.SSRC, StreamRTP, func(stream *Stream) {
		stream.observeRTP(pkt, rtp)
	})
}

func (s *Storage) ingestRTCPLocked(pkt *packet.Packet, rtcp *dissect.RTCPData) {
	s.ingestMediaLocked(pkt, rtcp.SSRC, StreamRTCP, func(stream *Stream) {
		stream.PacketCount++
		ts := pkt.Timestamp().UnixMicro()
		if stream.FirstTSMicros == 0 {
			stream.FirstTSMicros = ts
		}
		stream.LastTSMicros = ts
	})
}

func (s *Storage) ingestMediaLocked(pkt *packet.Packet, ssrc uint32, typ StreamType, observe func(*Stream)) {
	key := streamKeyFromPacket(pkt, ssrc)
	stream, ok := s.streamIndex[key]
	if !ok {
		stream = newStream(typ, key, s.captureOpts.StoreRTP, s.captureOpts.RTPPayloadCap)
		s.streamIndex[key] = stream

		srcOnlyKey := StreamKey{Src: key.Src}
		if msg, ok := s.pendingStreamKeys[srcOnlyKey]; ok {
			stream.Msg = msg
			if call, ok := msg.Call.(*Call); ok {
				call.Streams = append(call.Streams, stream)
				call.Changed = true
				s.notifyChanged(call)
			}
		}
	}
	observe(stream)
}

func rawPDU(msg *Message) []byte {
	if msg.Packet == nil || len(msg.Packet.Frames) == 0 {
		return nil
	}
	return msg.Packet.Frames[len(msg.Packet.Frames)-1].Bytes
}

// LookupByCallID returns the Call for id, or nil.
func (s *Storage) LookupByCallID(id string) *Call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callsByID[id]
}

// Calls returns a stable-ordered snapshot slice of all calls by index,
// satisfying spec §8 property #5 (repeated iteration is byte-identical
// since the slice is copied under lock).
func (s *Storage) Calls() []*Call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Call, len(s.callsByIndex))
	copy(out, s.callsByIndex)
	return out
}

// FilteredCalls returns calls for which match returns true, in index order.
func (s *Storage) FilteredCalls(match func(*Call) bool) []*Call {
	all := s.Calls()
	out := all[:0:0]
	for _, c := range all {
		if match == nil || match(c) {
			out = append(out, c)
		}
	}
	return out
}

// Version returns the current snapshot version, incremented on every
// mutating ingest.
func (s *Storage) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// CallChangedSince reports whether any call has mutated since version v.
func (s *Storage) CallChangedSince(v uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version > v
}

// Stats returns the current totals.
func (s *Storage) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Total:       len(s.callsByID),
		Displayed:   len(s.callsByID),
		MemoryBytes: s.memoryBytes,
	}
}

// Clear discards everything, per spec §4.8.
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked(nil)
}

// ClearSoft discards all calls not currently referenced by any live
// CallGroup, per spec §4.8 (added; evidenced by original_source's
// ACTION_CLEAR_CALLS_SOFT menu entry and sip_calls_clear_soft() call
// site in the TUI layer, since no storage-layer source file for it is
// present in the retrieval pack).
func (s *Storage) ClearSoft() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked(func(c *Call) bool { return c.groupRefCount > 0 })
}

// clearLocked removes every call for which keep returns false (keep == nil
// removes everything).
func (s *Storage) clearLocked(keep func(*Call) bool) {
	var kept []*Call
	for _, c := range s.callsByIndex {
		if keep != nil && keep(c) {
			kept = append(kept, c)
			continue
		}
		s.evictLocked(c)
	}
	if keep == nil {
		s.callsByID = make(map[string]*Call)
		s.callsByIndex = nil
		s.streamIndex = make(map[StreamKey]*Stream)
		s.pendingStreamKeys = make(map[StreamKey]*Message)
		s.memoryBytes = 0
	} else {
		s.callsByIndex = kept
		s.callsByID = make(map[string]*Call, len(kept))
		for _, c := range kept {
			s.callsByID[c.ID] = c
		}
	}
	s.version++
}

// enforceCapsLocked applies the hard dialog cap and soft memory limit from
// spec §4.8, evicting the oldest Call by index as needed.
func (s *Storage) enforceCapsLocked() {
	for s.captureOpts.DialogCap > 0 && uint32(len(s.callsByID)) > s.captureOpts.DialogCap {
		s.evictOldestLocked("dialog_cap")
	}
	for s.captureOpts.MemoryLimit > 0 && s.memoryBytes >= s.captureOpts.MemoryLimit && len(s.callsByIndex) > 0 {
		s.evictOldestLocked("memory_limit")
	}
}

func (s *Storage) evictOldestLocked(reason string) {
	if len(s.callsByIndex) == 0 {
		return
	}
	oldest := s.callsByIndex[0]
	s.callsByIndex = s.callsByIndex[1:]
	delete(s.callsByID, oldest.ID)
	s.evictLocked(oldest)
	metrics.IncEviction(reason)
	log.Get().WithField("call_id", oldest.ID).WithField("reason", reason).Debug("storage: evicted call")
}

func (s *Storage) evictLocked(c *Call) {
	s.memoryBytes -= c.memoryBytes
	for _, notifiee := range s.listeners {
		notifiee.OnCallEvicted(c)
	}
}

func (s *Storage) notifyAdded(c *Call) {
	for _, l := range s.listeners {
		l.OnCallAdded(c)
	}
}

func (s *Storage) notifyChanged(c *Call) {
	for _, l := range s.listeners {
		l.OnCallChanged(c)
	}
}
