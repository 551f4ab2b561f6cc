package storage

import "github.com/callscope/callscope/internal/sipmsg"

// Message is the storage-layer alias for a parsed SIP PDU; Call back-pointers
// are wired in at ingest time via Message.Call (sipmsg.CallRef).
type Message = sipmsg.Message
