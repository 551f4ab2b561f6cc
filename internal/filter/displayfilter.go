// Package filter implements the post-index display-filter and attribute
// engine described in spec §4.9, grounded in original_source's
// storage/attribute.c extractor table.
package filter

import (
	"regexp"

	"github.com/callscope/callscope/internal/sipmsg"
	"github.com/callscope/callscope/internal/storage"
)

// Key names one of the supported display-filter dimensions from spec §4.9.
type Key string

const (
	FilterSIPFrom     Key = "FILTER_SIPFROM"
	FilterSIPTo       Key = "FILTER_SIPTO"
	FilterSource      Key = "FILTER_SOURCE"
	FilterDestination Key = "FILTER_DESTINATION"
	FilterPayload     Key = "FILTER_PAYLOAD"
	FilterMethod      Key = "FILTER_METHOD"
	FilterCallList    Key = "FILTER_CALL_LIST"
)

// DisplayFilters holds an optional regex per Key; a Call passes iff every
// set filter matches at least one of its messages (METHOD instead matches
// the call's first request method, per spec §4.9).
type DisplayFilters struct {
	exprs map[Key]*regexp.Regexp
}

// NewDisplayFilters builds a DisplayFilters from raw regex strings, skipping
// empty patterns.
func NewDisplayFilters(patterns map[Key]string) (*DisplayFilters, error) {
	df := &DisplayFilters{exprs: make(map[Key]*regexp.Regexp)}
	for k, pattern := range patterns {
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		df.exprs[k] = re
	}
	return df, nil
}

// Matches reports whether c passes every configured filter.
func (df *DisplayFilters) Matches(c *storage.Call) bool {
	if df == nil {
		return true
	}
	for key, re := range df.exprs {
		if !matchesKey(c, key, re) {
			return false
		}
	}
	return true
}

func matchesKey(c *storage.Call, key Key, re *regexp.Regexp) bool {
	if key == FilterMethod {
		return re.MatchString(c.FirstRequestMethod())
	}
	for _, m := range c.Messages {
		if messageMatchesKey(m, key, re) {
			return true
		}
	}
	return false
}

func messageMatchesKey(m *sipmsg.Message, key Key, re *regexp.Regexp) bool {
	switch key {
	case FilterSIPFrom:
		return re.MatchString(m.Headers.Get("From"))
	case FilterSIPTo:
		return re.MatchString(m.Headers.Get("To"))
	case FilterSource:
		return re.MatchString(m.Packet.SrcAddress().String())
	case FilterDestination:
		return re.MatchString(m.Packet.DstAddress().String())
	case FilterPayload, FilterCallList:
		return re.Match(rawBytes(m))
	default:
		return true
	}
}

func rawBytes(m *sipmsg.Message) []byte {
	if m.Packet == nil || len(m.Packet.Frames) == 0 {
		return nil
	}
	return m.Packet.Frames[len(m.Packet.Frames)-1].Bytes
}
