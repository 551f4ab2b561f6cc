package storage

import (
	"math"

	"github.com/callscope/callscope/internal/addr"
	"github.com/callscope/callscope/internal/dissect"
	"github.com/callscope/callscope/internal/frame"
	"github.com/callscope/callscope/internal/packet"
)

// StreamType distinguishes RTP media flows from RTCP control flows.
type StreamType uint8

const (
	StreamRTP StreamType = iota
	StreamRTCP
)

// activeWindowMicros is the "now - last_ts < 2 seconds" activity window
// from spec §4.4.
const activeWindowMicros = 2_000_000

// Stream is one unidirectional RTP/RTCP flow keyed by (src, dst, ssrc), per
// spec §3.
type Stream struct {
	Type       StreamType
	Src        addr.Address
	Dst        addr.Address
	SSRC       uint32
	FormatCode uint8
	FormatName string

	PacketCount   uint64
	FirstTSMicros int64
	LastTSMicros  int64

	Expected      uint64
	Lost          int64
	OutOfSequence uint64
	MaxDeltaMs    float64
	MaxJitterMs   float64
	meanJitter    float64 // RFC 3550 §6.4.1 running jitter estimate, in RTP timestamp units
	MeanJitterMs  float64

	lastSeq       uint16
	haveSeq       bool
	lastArrival   int64 // micros
	lastRTPStamp  uint32
	haveRTPStamp  bool
	clockRate     float64 // samples/sec, 8000 for audio codecs unless noted

	// Msg is the SIP message whose SDP announced this stream; nil if the
	// stream is orphan (no matching SDP offer/answer was seen).
	Msg *Message

	// Payload is a ring buffer of raw RTP payload bytes, populated only
	// when capture_opts.store_rtp is enabled (spec §3 Stream).
	Payload [][]byte

	// frames mirrors Payload's ring-buffer lifetime: the owning wire frame
	// for each retained RTP packet, needed only by the save-to-pcap
	// "single Stream" scope (spec §6), so it is kept only under the same
	// storePayload gate as Payload.
	frames []frame.PacketFrame

	storePayload bool
	payloadCap   int
}

// Frames returns the wire frames retained for this stream (empty unless
// capture_opts.store_rtp was enabled when the stream was created).
func (s *Stream) Frames() []frame.PacketFrame { return s.frames }

// StreamKey identifies a Stream for lookup/creation.
type StreamKey struct {
	Src  addr.Address
	Dst  addr.Address
	SSRC uint32
}

func newStream(typ StreamType, key StreamKey, storeRTP bool, payloadCap int) *Stream {
	return &Stream{
		Type:         typ,
		Src:          key.Src,
		Dst:          key.Dst,
		SSRC:         key.SSRC,
		clockRate:    8000,
		storePayload: storeRTP,
		payloadCap:   payloadCap,
	}
}

// observeRTP folds one RTP packet's header into the running statistics,
// per spec §4.4's jitter formula J_new = J + (|D| - J)/16.
func (s *Stream) observeRTP(pkt *packet.Packet, rtpData *dissect.RTPData) {
	tsMicros := pkt.Timestamp().UnixMicro()
	s.PacketCount++
	if s.FirstTSMicros == 0 || tsMicros < s.FirstTSMicros {
		s.FirstTSMicros = tsMicros
	}
	if tsMicros > s.LastTSMicros {
		s.LastTSMicros = tsMicros
	}

	s.FormatCode = rtpData.PayloadType

	seq := rtpData.SequenceNumber
	if s.haveSeq {
		expectedSeq := s.lastSeq + 1
		if seq != expectedSeq {
			if seqBefore(seq, expectedSeq) {
				s.OutOfSequence++
			} else {
				gap := int64(seq) - int64(expectedSeq)
				if gap < 0 {
					gap += 1 << 16
				}
				s.Lost += gap
			}
		}
	}
	s.Expected++
	s.lastSeq = seq
	s.haveSeq = true

	if s.lastArrival != 0 && s.haveRTPStamp && s.clockRate > 0 {
		arrivalDeltaRTPUnits := float64(tsMicros-s.lastArrival) * s.clockRate / 1_000_000
		rtpDelta := float64(int64(rtpData.Timestamp) - int64(s.lastRTPStamp))
		d := math.Abs(arrivalDeltaRTPUnits - rtpDelta)
		s.meanJitter += (d - s.meanJitter) / 16
		jitterMs := s.meanJitter / s.clockRate * 1000
		s.MeanJitterMs = jitterMs
		if jitterMs > s.MaxJitterMs {
			s.MaxJitterMs = jitterMs
		}
		deltaMs := math.Abs(float64(tsMicros-s.lastArrival)) / 1000
		if deltaMs > s.MaxDeltaMs {
			s.MaxDeltaMs = deltaMs
		}
	}
	s.lastArrival = tsMicros
	s.lastRTPStamp = rtpData.Timestamp
	s.haveRTPStamp = true

	if s.storePayload && len(rtpData.Payload) > 0 {
		s.Payload = append(s.Payload, rtpData.Payload)
		if s.payloadCap > 0 && len(s.Payload) > s.payloadCap {
			s.Payload = s.Payload[len(s.Payload)-s.payloadCap:]
		}
		if len(pkt.Frames) > 0 {
			s.frames = append(s.frames, pkt.Frames[len(pkt.Frames)-1])
			if s.payloadCap > 0 && len(s.frames) > s.payloadCap {
				s.frames = s.frames[len(s.frames)-s.payloadCap:]
			}
		}
	}
}

// seqBefore reports whether a comes strictly before b in RTP sequence
// space, accounting for 16-bit wraparound.
func seqBefore(a, b uint16) bool {
	return int16(a-b) < 0
}

// IsActive reports whether the stream received a packet within the last
// two seconds of nowMicros, per spec §4.4.
func (s *Stream) IsActive(nowMicros int64) bool {
	return nowMicros-s.LastTSMicros < activeWindowMicros
}

// streamKeyFromPacket derives a StreamKey from an ingested RTP/RTCP Packet.
func streamKeyFromPacket(pkt *packet.Packet, ssrc uint32) StreamKey {
	return StreamKey{Src: pkt.SrcAddress(), Dst: pkt.DstAddress(), SSRC: ssrc}
}
