package sipmsg

import "strings"

// Headers is a case-insensitive, order-preserving SIP header map. Multiple
// occurrences of the same header name (e.g. Via) are preserved in order;
// Get returns the first.
type Headers struct {
	names  []string // canonical names, in arrival order (may repeat)
	values []string
}

// compactForms maps the single-letter compact header forms to their
// canonical names: i, f, t, v cover the teacher's subset
// (plugins/parser/sip/sip.go); m, l, c, s, e, and the extended k, o, r, b,
// j, d forms are RFC 3261 §7.3.3's full compact-form table, carried here
// even though no pack source lists them.
var compactForms = map[string]string{
	"i": "Call-ID",
	"f": "From",
	"t": "To",
	"m": "Contact",
	"l": "Content-Length",
	"v": "Via",
	"c": "Content-Type",
	"s": "Subject",
	"e": "Content-Encoding",
	"k": "Supported",
	"o": "Event",
	"r": "Refer-To",
	"b": "Referred-By",
	"j": "Reject-Contact",
	"d": "Request-Disposition",
}

// canonicalName expands compact forms and title-cases the rest so that
// lookups are insensitive to wire-form casing.
func canonicalName(raw string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if full, ok := compactForms[lower]; ok {
		lower = strings.ToLower(full)
	}
	return canonicalizeHyphenated(lower)
}

func canonicalizeHyphenated(lower string) string {
	parts := strings.Split(lower, "-")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, "-")
}

// Add appends a header occurrence.
func (h *Headers) Add(name, value string) {
	name = canonicalName(name)
	h.names = append(h.names, name)
	h.values = append(h.values, value)
}

// Get returns the first value for name (compact or canonical form), or "".
func (h *Headers) Get(name string) string {
	name = canonicalName(name)
	for i, n := range h.names {
		if n == name {
			return h.values[i]
		}
	}
	return ""
}

// GetAll returns every value for name in arrival order.
func (h *Headers) GetAll(name string) []string {
	name = canonicalName(name)
	var out []string
	for i, n := range h.names {
		if n == name {
			out = append(out, h.values[i])
		}
	}
	return out
}

// Has reports whether name was present at least once.
func (h *Headers) Has(name string) bool {
	name = canonicalName(name)
	for _, n := range h.names {
		if n == name {
			return true
		}
	}
	return false
}
