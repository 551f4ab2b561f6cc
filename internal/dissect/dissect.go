// Package dissect implements the protocol dissection pipeline described in
// spec §4.1: a chain of Dissectors, each enriching a Packet's protocol-data
// map and handing the remaining payload to the next stage. The TCP and TLS
// stages keep per-flow state (reassembly buffers, TLS session keys).
package dissect

import (
	"errors"

	"github.com/callscope/callscope/internal/log"
	"github.com/callscope/callscope/internal/metrics"
	"github.com/callscope/callscope/internal/packet"
	"github.com/callscope/callscope/internal/proto"
)

// ErrDrop is returned by a Dissector to signal "drop this packet, no
// exception, just count it" — the functional analogue of returning None.
var ErrDrop = errors.New("dissect: drop")

// Dissector is one stage of the chain. Dissect enriches pkt's protocol-data
// map for its own ID, then either:
//   - returns (nextID, remaining, nil) to hand off to another registered
//     dissector,
//   - returns (proto.None, nil, nil) on terminal success (nothing more to
//     dissect),
//   - returns (_, _, err) — err wrapping ErrDrop — to drop the packet.
//
// Dissect must not block. It records its results in pkt's protocol-data
// map, usually under its own ID only; the HEP stage also sets the inner IP
// and UDP entries, and the SIP stage also sets the SDP entry.
type Dissector interface {
	ID() proto.ID
	Dissect(pkt *packet.Packet, payload []byte) (next proto.ID, remaining []byte, err error)
}

// Chain dispatches a payload through registered Dissectors starting at a
// given entry point, following each dissector's own choice of subdissector.
type Chain struct {
	stages map[proto.ID]Dissector
}

// NewChain creates an empty Chain.
func NewChain() *Chain {
	return &Chain{stages: make(map[proto.ID]Dissector)}
}

// Register adds d under its own ID. Re-registering the same ID replaces the
// previous dissector (used by tests to swap in fakes).
func (c *Chain) Register(d Dissector) {
	c.stages[d.ID()] = d
}

// Dissect runs the chain starting at entry, returning the fully enriched
// Packet on success. On drop it returns (nil, err) with err wrapping
// ErrDrop; the caller (a Source consumer) is expected to just continue to
// the next raw frame.
func (c *Chain) Dissect(entry proto.ID, pkt *packet.Packet, payload []byte) (*packet.Packet, error) {
	id := entry
	for id != proto.None {
		stage, ok := c.stages[id]
		if !ok {
			log.Get().WithField("protocol", id.String()).Debug("dissect: no stage registered, stopping chain")
			return pkt, nil
		}

		next, rest, err := stage.Dissect(pkt, payload)
		if err != nil {
			metrics.IncDrop(id.String())
			log.Get().WithField("protocol", id.String()).WithError(err).Debug("dissect: packet dropped")
			return nil, err
		}

		id = next
		payload = rest
	}
	return pkt, nil
}
