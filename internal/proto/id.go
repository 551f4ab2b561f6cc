// Package proto enumerates the protocol identifiers used as keys into a
// Packet's protocol-data map and as dissector chain tags.
package proto

// ID tags a layer of the dissection pipeline. It is the sum-type key the
// spec calls "protocol id" in the Packet data model.
type ID uint8

const (
	None ID = iota
	IP
	UDP
	TCP
	TLS
	WS
	HEP
	SIP
	SDP
	RTP
	RTCP
	MRCP
)

var names = map[ID]string{
	None: "NONE",
	IP:   "IP",
	UDP:  "UDP",
	TCP:  "TCP",
	TLS:  "TLS",
	WS:   "WS",
	HEP:  "HEP",
	SIP:  "SIP",
	SDP:  "SDP",
	RTP:  "RTP",
	RTCP: "RTCP",
	MRCP: "MRCP",
}

func (id ID) String() string {
	if n, ok := names[id]; ok {
		return n
	}
	return "UNKNOWN"
}
