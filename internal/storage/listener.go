package storage

// Listener lets an external consumer (TUI, exporter) react to storage
// events without Storage depending on that consumer, inverting the
// teacher-era "reach up to the UI" pattern per spec §9 design notes.
type Listener interface {
	OnCallAdded(c *Call)
	OnCallChanged(c *Call)
	OnCallEvicted(c *Call)
}

// NopListener is a Listener whose methods do nothing; embed it to implement
// only the callbacks a consumer cares about.
type NopListener struct{}

func (NopListener) OnCallAdded(*Call)   {}
func (NopListener) OnCallChanged(*Call) {}
func (NopListener) OnCallEvicted(*Call) {}
