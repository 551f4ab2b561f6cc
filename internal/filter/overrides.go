package filter

import (
	"sort"
	"strconv"

	"github.com/callscope/callscope/internal/config"
	"github.com/callscope/callscope/internal/storage"
)

// ApplyOverrides layers the config file's `attribute.<name>.*` directives
// (spec §6) onto r: an override with a compiled Regexp becomes a
// RegisterRegexAttribute call (user-defined extraction); an override that
// only sets title/length without a regexp just restyles an existing
// built-in of the same name (title/width, per the attribute.c table this is
// sourced from). Entries with neither a regexp nor a matching built-in are
// skipped.
func ApplyOverrides(r *Registry, overrides map[string]config.AttributeOverride) {
	for name, o := range overrides {
		if o.Regexp != nil {
			title := o.Title
			if title == "" {
				title = name
			}
			length := o.Length
			if length == 0 {
				length = 20 // spec §6 default column width when attribute.<name>.length is unset
			}
			r.Register(&Attribute{
				Name: name, Title: title, Length: length,
				extractor: func(c *storage.Call) string {
					if len(c.Messages) == 0 {
						return ""
					}
					return firstNamedCapture(o.Regexp, rawBytes(c.Messages[0]))
				},
			})
			continue
		}

		existing, ok := r.byName[name]
		if !ok {
			continue
		}
		restyled := *existing
		if o.Title != "" {
			restyled.Title = o.Title
		}
		if o.Length != 0 {
			restyled.Length = o.Length
		}
		r.Register(&restyled)
	}
}

// Sort reorders calls in place per storage.SortOpts, resolving opts.Attribute
// through r (spec §4.8: "sort in snapshots is derived, not mutating" — the
// caller owns the slice to reorder, typically a copy from Storage.Calls()).
// An empty Attribute leaves calls in their existing (index) order. Numeric
// attributes ("index", "msgcnt", "srcport", "dstport") compare numerically;
// everything else compares lexicographically.
func Sort(calls []*storage.Call, r *Registry, opts storage.SortOpts) {
	if opts.Attribute == "" {
		return
	}
	less := lessByAttribute(r, opts.Attribute)
	sort.SliceStable(calls, func(i, j int) bool {
		if opts.Ascending {
			return less(calls[i], calls[j])
		}
		return less(calls[j], calls[i])
	})
}

var numericAttributes = map[string]bool{
	"index": true, "msgcnt": true, "srcport": true, "dstport": true,
}

func lessByAttribute(r *Registry, attr string) func(a, b *storage.Call) bool {
	if numericAttributes[attr] {
		return func(a, b *storage.Call) bool {
			av, _ := strconv.ParseInt(r.Value(attr, a), 10, 64)
			bv, _ := strconv.ParseInt(r.Value(attr, b), 10, 64)
			return av < bv
		}
	}
	return func(a, b *storage.Call) bool {
		return r.Value(attr, a) < r.Value(attr, b)
	}
}
