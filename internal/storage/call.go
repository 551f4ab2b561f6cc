package storage

import "strconv"

// State is a Call's position in the dialog state machine, per spec §4.6.
type State uint8

const (
	CallSetup State = iota
	InCall
	Completed
	Cancelled
	Rejected
	Busy
	Diverted
)

func (s State) String() string {
	switch s {
	case CallSetup:
		return "CallSetup"
	case InCall:
		return "InCall"
	case Completed:
		return "Completed"
	case Cancelled:
		return "Cancelled"
	case Rejected:
		return "Rejected"
	case Busy:
		return "Busy"
	case Diverted:
		return "Diverted"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether s is a sticky final state (spec §4.6: "any
// final -> any: sticky").
func (s State) IsTerminal() bool {
	switch s {
	case Completed, Cancelled, Rejected, Busy, Diverted:
		return true
	default:
		return false
	}
}

// Call is a SIP dialog (or dialog cluster when merged via X-Call-ID), per
// spec §3.
type Call struct {
	ID        string // Call-ID, primary key
	XCallIDs  map[string]bool
	Messages  []*Message
	Streams   []*Stream
	State     State
	CstartMsg *Message
	CendMsg   *Message
	Index     uint32
	Changed   bool

	// groupRefCount tracks how many live CallGroups currently contain this
	// Call, so ClearSoft() (spec §4.8) can skip referenced calls.
	groupRefCount int

	memoryBytes int64
}

// CallID implements sipmsg.CallRef.
func (c *Call) CallID() string { return c.ID }

func newCall(id string, index uint32) *Call {
	return &Call{ID: id, XCallIDs: make(map[string]bool), Index: index, State: CallSetup}
}

// appendMessage inserts msg in timestamp order (usually append-at-tail per
// spec §4.6 step 2) and advances the state machine.
func (c *Call) appendMessage(msg *Message) {
	msg.Call = c

	ts := msg.Packet.Timestamp()
	pos := len(c.Messages)
	for pos > 0 && c.Messages[pos-1].Packet.Timestamp().After(ts) {
		pos--
	}
	c.Messages = append(c.Messages, nil)
	copy(c.Messages[pos+1:], c.Messages[pos:])
	c.Messages[pos] = msg

	for _, id := range msg.XCallIDs() {
		c.XCallIDs[id] = true
	}

	c.detectRetransmission(msg)
	c.advanceState(msg)
	c.memoryBytes += int64(msg.Packet.CapLen())
	c.Changed = true
}

// detectRetransmission implements spec §4.2: a message is a retransmission
// iff a prior message in the same Call shares (is_request, method_or_status,
// cseq) and has an identical payload hash.
func (c *Call) detectRetransmission(msg *Message) {
	for _, other := range c.Messages {
		if other == msg {
			continue
		}
		if other.SameTransaction(msg) && other.PayloadHash == msg.PayloadHash {
			msg.IsRetransmission = true
			return
		}
	}
	msg.IsInitialTransaction = isInitialTransaction(c, msg)
}

// isInitialTransaction resolves spec §9's open question: "first request
// with this (Call-ID, CSeq-number), not a retransmission."
func isInitialTransaction(c *Call, msg *Message) bool {
	if !msg.IsRequest() || msg.IsRetransmission {
		return false
	}
	for _, other := range c.Messages {
		if other == msg || !other.IsRequest() {
			continue
		}
		if other.CSeqNum == msg.CSeqNum && !other.IsRetransmission {
			return false
		}
	}
	return true
}

// advanceState implements the state machine table from spec §4.6.
func (c *Call) advanceState(msg *Message) {
	if c.State.IsTerminal() {
		return // sticky
	}

	method := msg.CSeqMethod

	switch c.State {
	case CallSetup:
		if msg.IsRequest() {
			if method == "CANCEL" {
				c.State = Cancelled
				c.CendMsg = msg
			}
			return
		}
		if method != "INVITE" {
			return
		}
		switch {
		case msg.Status >= 100 && msg.Status < 200:
			// remain CallSetup
		case msg.Status >= 200 && msg.Status < 300:
			c.State = InCall
			c.CstartMsg = msg
		case msg.Status >= 300 && msg.Status < 400:
			c.State = Diverted
			c.CendMsg = msg
		case msg.Status == 486 || msg.Status == 600:
			c.State = Busy
			c.CendMsg = msg
		case msg.Status >= 400:
			c.State = Rejected
			c.CendMsg = msg
		}
	case InCall:
		if msg.IsRequest() && method == "BYE" {
			c.State = Completed
			c.CendMsg = msg
			return
		}
		if !msg.IsRequest() && method == "INVITE" && msg.Status >= 200 && msg.Status < 300 {
			// re-INVITE 2xx: remain InCall
			return
		}
	}
}

// DurationMicros returns the conversation duration (cend - cstart), or 0 if
// either boundary is unset, per the S1/S3 duration attribute.
func (c *Call) DurationMicros() int64 {
	if c.CstartMsg == nil || c.CendMsg == nil {
		return 0
	}
	return c.CendMsg.Packet.Timestamp().UnixMicro() - c.CstartMsg.Packet.Timestamp().UnixMicro()
}

// FirstRequestMethod returns the method of the Call's first request, used
// by FILTER_METHOD (spec §4.9).
func (c *Call) FirstRequestMethod() string {
	for _, m := range c.Messages {
		if m.IsRequest() {
			return m.Method
		}
	}
	return ""
}

// IndexString is a display convenience for the "index" attribute.
func (c *Call) IndexString() string { return strconv.FormatUint(uint64(c.Index), 10) }
