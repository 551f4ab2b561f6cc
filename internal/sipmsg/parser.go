package sipmsg

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/callscope/callscope/internal/packet"
)

// ParseError specializes dissect errors with a reason code, per spec §4.2/§7.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "sip parse: " + e.Reason }

var (
	ErrMissingMandatoryHeader = &ParseError{Reason: "missing mandatory header"}
	ErrBadStartLine           = &ParseError{Reason: "bad start line"}
	ErrBadCSeq                = &ParseError{Reason: "bad cseq"}
)

var mandatoryHeaders = []string{"Call-ID", "CSeq", "From", "To"}

// Parse parses a complete SIP PDU (already framed by Content-Length on UDP,
// or by the reassembler on TCP/TLS/WS) into a Message. pkt is the owning
// Packet, used only to populate the back-pointer and is not re-read here.
func Parse(pkt *packet.Packet, raw []byte) (*Message, error) {
	if len(raw) < 8 {
		return nil, fmt.Errorf("%w: too short", ErrBadStartLine)
	}

	headerEnd, bodyStart := splitHeaderBody(raw)
	headerData := raw[:headerEnd]

	lineEnding := "\n"
	if bytes.Contains(headerData, []byte("\r\n")) {
		lineEnding = "\r\n"
	}
	lines := bytes.Split(headerData, []byte(lineEnding))
	if len(lines) == 0 || len(bytes.TrimSpace(lines[0])) == 0 {
		return nil, fmt.Errorf("%w: empty start line", ErrBadStartLine)
	}

	msg := &Message{Packet: pkt}

	startLine := string(bytes.TrimSpace(lines[0]))
	if err := parseStartLine(startLine, msg); err != nil {
		return nil, err
	}

	if err := parseHeaderLines(lines[1:], &msg.Headers); err != nil {
		return nil, err
	}

	if err := checkMandatoryHeaders(&msg.Headers); err != nil {
		return nil, err
	}

	if err := parseCSeq(msg.Headers.Get("CSeq"), msg); err != nil {
		return nil, err
	}

	if bodyStart < len(raw) {
		body := raw[bodyStart:]
		ctype := strings.ToLower(msg.Headers.Get("Content-Type"))
		if strings.Contains(ctype, "application/sdp") || looksLikeSDP(body) {
			if sdp, err := parseSDP(body); err == nil {
				msg.SDP = sdp
			}
		}
	}

	msg.PayloadHash = ComputePayloadHash(raw)

	return msg, nil
}

// splitHeaderBody locates the blank-line boundary between headers and body,
// accepting either CRLF or bare-LF framing (spec §4.2: "\r\n or \n line
// endings"). Returns (headerEnd, bodyStart); bodyStart == len(raw) when no
// body is present.
func splitHeaderBody(raw []byte) (headerEnd, bodyStart int) {
	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx != -1 {
		return idx, idx + 4
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx != -1 {
		return idx, idx + 2
	}
	return len(raw), len(raw)
}

func parseStartLine(line string, msg *Message) error {
	if strings.HasPrefix(line, "SIP/2.0") {
		parts := strings.SplitN(line, " ", 3)
		if len(parts) < 2 {
			return fmt.Errorf("%w: %q", ErrBadStartLine, line)
		}
		code, err := strconv.Atoi(parts[1])
		if err != nil || code < 100 || code > 699 {
			return fmt.Errorf("%w: bad status code in %q", ErrBadStartLine, line)
		}
		msg.Status = code
		if len(parts) == 3 {
			msg.Reason = parts[2]
		}
		return nil
	}

	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 3 || !strings.HasPrefix(parts[2], "SIP/2.0") {
		return fmt.Errorf("%w: %q", ErrBadStartLine, line)
	}
	msg.Method = parts[0]
	msg.RequestURI = parts[1]
	return nil
}

// parseHeaderLines parses colon-separated header lines, folding continuation
// lines (SP/HT at beginning-of-line) into the previous header's value, per
// spec §4.2.
func parseHeaderLines(lines [][]byte, h *Headers) error {
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		folded := bytes.TrimSpace(line)
		for i+1 < len(lines) && len(lines[i+1]) > 0 && (lines[i+1][0] == ' ' || lines[i+1][0] == '\t') {
			i++
			folded = append(folded, ' ')
			folded = append(folded, bytes.TrimSpace(lines[i])...)
		}

		colon := bytes.IndexByte(folded, ':')
		if colon == -1 {
			continue
		}
		name := string(bytes.TrimSpace(folded[:colon]))
		value := string(bytes.TrimSpace(folded[colon+1:]))
		if name == "" {
			continue
		}
		h.Add(name, value)
	}
	return nil
}

func checkMandatoryHeaders(h *Headers) error {
	for _, name := range mandatoryHeaders {
		if !h.Has(name) {
			return fmt.Errorf("%w: %s", ErrMissingMandatoryHeader, name)
		}
	}
	return nil
}

func parseCSeq(value string, msg *Message) error {
	fields := strings.Fields(value)
	if len(fields) != 2 {
		return fmt.Errorf("%w: %q", ErrBadCSeq, value)
	}
	n, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrBadCSeq, value)
	}
	msg.CSeqNum = uint32(n)
	msg.CSeqMethod = fields[1]
	return nil
}

// looksLikeSDP is a fallback for PDUs missing an explicit Content-Type but
// whose body is unambiguously SDP (starts with "v=0"), matching how real
// UAs occasionally omit the header on UDP.
func looksLikeSDP(body []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(body), []byte("v=0"))
}

// ExtractURI extracts the URI portion of a From/To header value, e.g.
// `"Alice" <sip:alice@example.com>;tag=1234` → `sip:alice@example.com`.
func ExtractURI(value string) string {
	if start := strings.IndexByte(value, '<'); start != -1 {
		if end := strings.IndexByte(value[start:], '>'); end != -1 {
			return value[start+1 : start+end]
		}
		return ""
	}
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return ""
	}
	uri := fields[0]
	if semi := strings.IndexByte(uri, ';'); semi != -1 {
		uri = uri[:semi]
	}
	return uri
}

// ExtractTag extracts the tag= parameter from a From/To header value, used
// by attribute extraction and dialog matching.
func ExtractTag(value string) string {
	idx := strings.Index(strings.ToLower(value), "tag=")
	if idx == -1 {
		return ""
	}
	rest := value[idx+4:]
	if semi := strings.IndexByte(rest, ';'); semi != -1 {
		rest = rest[:semi]
	}
	return strings.TrimSpace(rest)
}
