package storage

import "hash/fnv"

const paletteSize = 8

// CallGroup is an ad-hoc, unpersisted selection of Calls for grouped
// viewing/saving, per spec §3/§4.7.
type CallGroup struct {
	calls  []*Call
	colors map[string]uint8
	SDPOnly bool
}

// NewCallGroup creates an empty CallGroup.
func NewCallGroup() *CallGroup {
	return &CallGroup{colors: make(map[string]uint8)}
}

// Add registers c in the group (idempotent) and increments its reference
// count so Storage.clear_soft() preserves it.
func (g *CallGroup) Add(c *Call) {
	if g.Contains(c) {
		return
	}
	g.calls = append(g.calls, c)
	c.groupRefCount++
}

// Remove drops c from the group, decrementing its reference count.
func (g *CallGroup) Remove(c *Call) {
	for i, existing := range g.calls {
		if existing == c {
			g.calls = append(g.calls[:i], g.calls[i+1:]...)
			c.groupRefCount--
			return
		}
	}
}

// RemoveAll empties the group, releasing every member's reference count.
func (g *CallGroup) RemoveAll() {
	for _, c := range g.calls {
		c.groupRefCount--
	}
	g.calls = nil
}

// Contains reports whether c is a member.
func (g *CallGroup) Contains(c *Call) bool {
	for _, existing := range g.calls {
		if existing == c {
			return true
		}
	}
	return false
}

// Count returns the member count.
func (g *CallGroup) Count() int { return len(g.calls) }

// Clone returns an independent copy sharing the same Call pointers (and
// bumping their reference counts, since the clone is itself a live group).
func (g *CallGroup) Clone() *CallGroup {
	clone := NewCallGroup()
	for _, c := range g.calls {
		clone.Add(c)
	}
	clone.SDPOnly = g.SDPOnly
	return clone
}

// NextMsg returns the next Message after cursor across all member calls,
// merge-sorted by timestamp (spec §4.7).
func (g *CallGroup) NextMsg(cursor *Message) *Message {
	var best *Message
	for _, c := range g.calls {
		for _, m := range c.Messages {
			if cursor != nil && !m.Packet.Timestamp().After(cursor.Packet.Timestamp()) {
				continue
			}
			if best == nil || m.Packet.Timestamp().Before(best.Packet.Timestamp()) {
				best = m
			}
		}
	}
	return best
}

// NextStream returns the next Stream after cursor across all member calls,
// merge-sorted by first-seen timestamp.
func (g *CallGroup) NextStream(cursor *Stream) *Stream {
	var best *Stream
	for _, c := range g.calls {
		for _, s := range c.Streams {
			if cursor != nil && s.FirstTSMicros <= cursor.FirstTSMicros {
				continue
			}
			if best == nil || s.FirstTSMicros < best.FirstTSMicros {
				best = s
			}
		}
	}
	return best
}

// Color returns a stable hash of Call-ID modulo the palette size.
func (g *CallGroup) Color(c *Call) uint8 {
	h := fnv.New32a()
	h.Write([]byte(c.ID))
	return uint8(h.Sum32() % paletteSize)
}

// MsgCount sums message counts across all member calls.
func (g *CallGroup) MsgCount() int {
	n := 0
	for _, c := range g.calls {
		n += len(c.Messages)
	}
	return n
}

// Changed reports whether any member call is dirty.
func (g *CallGroup) Changed() bool {
	for _, c := range g.calls {
		if c.Changed {
			return true
		}
	}
	return false
}

// Calls returns the member list in insertion order; callers must not mutate
// the returned slice.
func (g *CallGroup) Calls() []*Call { return g.calls }
