// Package reassembly implements per-flow TCP/TLS/WS byte-buffer reassembly,
// extracting complete SIP PDUs framed either by Content-Length or, for WS,
// by WebSocket frame boundaries. Grounded in the teacher's session-cache
// pattern (plugins/parser/sip/sip.go's patrickmn/go-cache use) generalized
// from a Call-ID cache to a flow-key byte buffer cache.
package reassembly

import (
	"bytes"
	"fmt"
	"time"

	"github.com/gobwas/ws"
	gocache "github.com/patrickmn/go-cache"

	"github.com/callscope/callscope/internal/metrics"
)

const (
	inactivityTimeout = 60 * time.Second
	cleanupInterval   = 5 * time.Minute
	maxOutOfOrderGap  = 64 * 1024
)

// FlowKey identifies one reassembly flow per spec §4.5.
type FlowKey struct {
	SrcIP     string
	SrcPort   uint16
	DstIP     string
	DstPort   uint16
	Transport string // "tcp", "tls", "ws", "wss"
}

func (k FlowKey) String() string {
	return fmt.Sprintf("%s/%s:%d->%s:%d", k.Transport, k.SrcIP, k.SrcPort, k.DstIP, k.DstPort)
}

type flowBuffer struct {
	buf       bytes.Buffer
	nextSeq   uint32
	haveSeq   bool
	isWS      bool
	wsDecoded bytes.Buffer
}

// Reassembler accumulates bytes per FlowKey in arrival order (segments are
// not reordered or de-duplicated) and yields complete SIP PDUs as they
// become available.
type Reassembler struct {
	flows *gocache.Cache
}

// New creates a Reassembler whose flow buffers expire after 60s of
// inactivity (spec §4.5).
func New() *Reassembler {
	return &Reassembler{flows: gocache.New(inactivityTimeout, cleanupInterval)}
}

// Feed appends a segment for key and returns the first complete SIP PDU now
// extractable from the buffer (at most one); any further complete PDUs stay
// buffered and are returned by later Feed calls for the same key. seq is
// the TCP sequence number, used only when hasSeq is true (the TCP path,
// including WS over TCP; TLS passes 0 and false) to reset a flow whose
// sequence jumps by more than 64 KiB. isWS applies WebSocket framing after
// byte accumulation.
func (r *Reassembler) Feed(key FlowKey, seq uint32, hasSeq bool, isWS bool, payload []byte) ([][]byte, error) {
	raw, found := r.flows.Get(key.String())
	var fb *flowBuffer
	if found {
		fb = raw.(*flowBuffer)
	} else {
		fb = &flowBuffer{isWS: isWS}
	}

	if hasSeq && fb.haveSeq {
		gap := int64(seq) - int64(fb.nextSeq)
		if gap < 0 {
			gap = -gap
		}
		if gap > maxOutOfOrderGap {
			metrics.IncReassemblyGapEviction()
			r.flows.Delete(key.String())
			return nil, fmt.Errorf("reassembly: flow %s exceeded out-of-order gap, reset", key)
		}
	}

	fb.buf.Write(payload)
	if hasSeq {
		fb.nextSeq = seq + uint32(len(payload))
		fb.haveSeq = true
	}

	var pdus [][]byte
	if isWS {
		pdus = drainWSFrames(fb)
	} else {
		pdus = drainContentLengthFramed(&fb.buf)
	}

	r.flows.Set(key.String(), fb, gocache.DefaultExpiration)
	return pdus, nil
}

// drainContentLengthFramed extracts the first complete SIP PDU from buf,
// using the blank-line boundary plus a parsed Content-Length to know where
// it ends, per spec §4.5. Bytes after it stay in buf for the next call.
func drainContentLengthFramed(buf *bytes.Buffer) [][]byte {
	data := buf.Bytes()
	headerEnd := bytes.Index(data, []byte("\r\n\r\n"))
	sep := 4
	if headerEnd == -1 {
		headerEnd = bytes.Index(data, []byte("\n\n"))
		sep = 2
	}
	if headerEnd == -1 {
		return nil
	}

	bodyLen := contentLength(data[:headerEnd])
	total := headerEnd + sep + bodyLen
	if len(data) < total {
		return nil // wait for more bytes
	}

	pdu := make([]byte, total)
	copy(pdu, data[:total])
	buf.Next(total)
	return [][]byte{pdu}
}

func contentLength(header []byte) int {
	lines := bytes.Split(header, []byte("\n"))
	for _, line := range lines {
		line = bytes.TrimSpace(line)
		colon := bytes.IndexByte(line, ':')
		if colon == -1 {
			continue
		}
		name := bytes.ToLower(bytes.TrimSpace(line[:colon]))
		if string(name) == "content-length" || string(name) == "l" {
			var n int
			fmt.Sscanf(string(bytes.TrimSpace(line[colon+1:])), "%d", &n)
			return n
		}
	}
	return 0
}

// drainWSFrames decodes WebSocket frames (text/binary opcodes) via
// github.com/gobwas/ws, unmasking client frames, and appends their payloads
// to a secondary decoded buffer before applying the same Content-Length
// framing used for plain TCP.
func drainWSFrames(fb *flowBuffer) [][]byte {
	r := bytes.NewReader(fb.buf.Bytes())
	consumed := 0
	for {
		header, err := ws.ReadHeader(r)
		if err != nil {
			break
		}
		body := make([]byte, header.Length)
		if _, err := r.Read(body); err != nil {
			break
		}
		if header.Masked {
			ws.Cipher(body, header.Mask, 0)
		}
		if header.OpCode == ws.OpText || header.OpCode == ws.OpBinary {
			fb.wsDecoded.Write(body)
		}
		consumed = len(fb.buf.Bytes()) - r.Len()
	}
	if consumed > 0 {
		fb.buf.Next(consumed)
	}
	return drainContentLengthFramed(&fb.wsDecoded)
}
