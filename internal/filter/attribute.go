package filter

import (
	"fmt"
	"regexp"
	"time"

	"github.com/callscope/callscope/internal/sipmsg"
	"github.com/callscope/callscope/internal/storage"
)

// Attribute describes one displayable/filterable/sortable projection over a
// Call or Message, per spec §4.9, with the full built-in table sourced from
// original_source/src/storage/attribute.c (index, ipid, method, sipfrom,
// sipto, sipfromuser, siptouser, date, time, duration, msgcnt, src/dst
// host/port, state, convdur, totaldur, source, tag).
type Attribute struct {
	Name      string
	Title     string
	Length    int
	Mutable   bool // invalidated on any change to the owning Call
	extractor func(c *storage.Call) string
}

// Registry holds the active attribute table: built-ins plus any
// attribute.<name>.* overrides/additions loaded from the config file
// (spec §6).
// Registry is not safe for concurrent use from multiple goroutines without
// external synchronization; callers consult it only from the snapshot
// consumer side (spec §5: readers take a bounded critical section), never
// from the ingest path.
type Registry struct {
	byName map[string]*Attribute
	order  []string
	cache  map[cacheKey]string

	// externIPs backs the "ipid" attribute (spec §6 `externip` directive,
	// SPEC_FULL's attribute table): a NAT-twin IP lookup, empty until
	// SetExternIPs is called.
	externIPs map[string]string
	// aliases backs display-name substitution for host attributes (spec §6
	// `alias` directive). Currently consulted only by "ipid"; srchost/
	// dsthost stay raw IPs to keep them regex-filterable by address.
	aliases map[string]string
}

type cacheKey struct {
	callID string
	attr   string
}

// NewRegistry builds the default attribute table.
func NewRegistry() *Registry {
	r := &Registry{
		byName:    make(map[string]*Attribute),
		cache:     make(map[cacheKey]string),
		externIPs: make(map[string]string),
		aliases:   make(map[string]string),
	}
	for _, a := range builtinAttributes(r) {
		r.Register(a)
	}
	return r
}

// SetExternIPs installs the `externip` NAT-twin table (spec §6) consulted by
// the "ipid" attribute. Call before the registry is read concurrently.
func (r *Registry) SetExternIPs(m map[string]string) {
	if m == nil {
		m = make(map[string]string)
	}
	r.externIPs = m
}

// SetAliases installs the `alias` display-name table (spec §6).
func (r *Registry) SetAliases(m map[string]string) {
	if m == nil {
		m = make(map[string]string)
	}
	r.aliases = m
}

// Register adds or replaces an attribute definition.
func (r *Registry) Register(a *Attribute) {
	if _, exists := r.byName[a.Name]; !exists {
		r.order = append(r.order, a.Name)
	}
	r.byName[a.Name] = a
}

// RegisterRegexAttribute adds a user-defined attribute.<name>.regexp entry
// (spec §6): a named-capture regex `(?P<value>...)` evaluated over the raw
// payload of the call's first message.
func (r *Registry) RegisterRegexAttribute(name, title string, length int, pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("filter: bad regexp for attribute %s: %w", name, err)
	}
	r.Register(&Attribute{
		Name: name, Title: title, Length: length,
		extractor: func(c *storage.Call) string {
			if len(c.Messages) == 0 {
				return ""
			}
			return firstNamedCapture(re, rawBytes(c.Messages[0]))
		},
	})
	return nil
}

// Value returns attr's value for c, using the per-Call cache only when attr
// is not mutable and the Call hasn't changed since last computed.
func (r *Registry) Value(attrName string, c *storage.Call) string {
	attr, ok := r.byName[attrName]
	if !ok {
		return ""
	}
	key := cacheKey{callID: c.ID, attr: attrName}
	if !attr.Mutable && !c.Changed {
		if v, ok := r.cache[key]; ok {
			return v
		}
	}
	v := attr.extractor(c)
	r.cache[key] = v
	return v
}

// Names returns attribute names in registration order.
func (r *Registry) Names() []string { return append([]string(nil), r.order...) }

func firstNamedCapture(re *regexp.Regexp, data []byte) string {
	names := re.SubexpNames()
	m := re.FindSubmatch(data)
	if m == nil {
		return ""
	}
	for i, n := range names {
		if n == "value" && i < len(m) {
			return string(m[i])
		}
	}
	return ""
}

func builtinAttributes(r *Registry) []*Attribute {
	return []*Attribute{
		{Name: "index", Title: "Idx", Length: 5, extractor: func(c *storage.Call) string { return c.IndexString() }},
		{Name: "ipid", Title: "IP Id", Length: 20, extractor: r.ipidAttribute},
		{Name: "method", Title: "Method", Length: 10, extractor: func(c *storage.Call) string { return c.FirstRequestMethod() }},
		{Name: "sipfrom", Title: "SIP From", Length: 40, extractor: firstMessageHeader("From")},
		{Name: "sipto", Title: "SIP To", Length: 40, extractor: firstMessageHeader("To")},
		{Name: "sipfromuser", Title: "From User", Length: 20, extractor: firstMessageHeaderURI("From")},
		{Name: "siptouser", Title: "To User", Length: 20, extractor: firstMessageHeaderURI("To")},
		{Name: "date", Title: "Date", Length: 10, extractor: timeAttribute("2006-01-02")},
		{Name: "time", Title: "Time", Length: 12, extractor: timeAttribute("15:04:05.000")},
		{Name: "duration", Title: "Duration", Length: 8, Mutable: true, extractor: durationAttribute},
		{Name: "msgcnt", Title: "Msgs", Length: 5, Mutable: true, extractor: func(c *storage.Call) string { return fmt.Sprintf("%d", len(c.Messages)) }},
		{Name: "state", Title: "State", Length: 10, Mutable: true, extractor: func(c *storage.Call) string { return c.State.String() }},
		{Name: "srchost", Title: "Src Host", Length: 20, extractor: addrAttribute(true, false)},
		{Name: "srcport", Title: "Src Port", Length: 6, extractor: addrAttribute(true, true)},
		{Name: "dsthost", Title: "Dst Host", Length: 20, extractor: addrAttribute(false, false)},
		{Name: "dstport", Title: "Dst Port", Length: 6, extractor: addrAttribute(false, true)},
		{Name: "convdur", Title: "Conv Dur", Length: 8, Mutable: true, extractor: durationAttribute},
		{Name: "totaldur", Title: "Total Dur", Length: 8, Mutable: true, extractor: totalDurationAttribute},
		{Name: "source", Title: "Source", Length: 8, extractor: func(c *storage.Call) string { return "capture" }},
		{Name: "tag", Title: "Tag", Length: 20, extractor: firstMessageTag("From")},
	}
}

// ipidAttribute resolves the `externip` NAT-twin for the call's first
// message source host (spec §6's `externip <addr> <addr>` "column pairing"),
// falling back to an `alias` display name and finally the raw host when
// neither is configured.
func (r *Registry) ipidAttribute(c *storage.Call) string {
	if len(c.Messages) == 0 {
		return ""
	}
	host := c.Messages[0].Packet.SrcAddress().IP
	if twin, ok := r.externIPs[host]; ok {
		return host + "/" + twin
	}
	if name, ok := r.aliases[host]; ok {
		return name
	}
	return host
}

func firstMessageHeader(name string) func(*storage.Call) string {
	return func(c *storage.Call) string {
		if len(c.Messages) == 0 {
			return ""
		}
		return c.Messages[0].Headers.Get(name)
	}
}

func firstMessageHeaderURI(name string) func(*storage.Call) string {
	return func(c *storage.Call) string {
		if len(c.Messages) == 0 {
			return ""
		}
		return sipmsg.ExtractURI(c.Messages[0].Headers.Get(name))
	}
}

func firstMessageTag(name string) func(*storage.Call) string {
	return func(c *storage.Call) string {
		if len(c.Messages) == 0 {
			return ""
		}
		return sipmsg.ExtractTag(c.Messages[0].Headers.Get(name))
	}
}

func timeAttribute(layout string) func(*storage.Call) string {
	return func(c *storage.Call) string {
		if len(c.Messages) == 0 {
			return ""
		}
		return c.Messages[0].Packet.Timestamp().UTC().Format(layout)
	}
}

func durationAttribute(c *storage.Call) string {
	d := c.DurationMicros()
	if d == 0 {
		return ""
	}
	return time.Duration(d * int64(time.Microsecond)).String()
}

func totalDurationAttribute(c *storage.Call) string {
	if len(c.Messages) == 0 {
		return ""
	}
	first := c.Messages[0].Packet.Timestamp()
	last := c.Messages[len(c.Messages)-1].Packet.Timestamp()
	return last.Sub(first).String()
}

func addrAttribute(src, port bool) func(*storage.Call) string {
	return func(c *storage.Call) string {
		if len(c.Messages) == 0 {
			return ""
		}
		a := c.Messages[0].Packet.SrcAddress()
		if !src {
			a = c.Messages[0].Packet.DstAddress()
		}
		if port {
			return fmt.Sprintf("%d", a.Port)
		}
		return a.IP
	}
}
