package filter

import (
	"fmt"
	"regexp"

	"github.com/callscope/callscope/internal/storage"
)

// BuildMatchOpts compiles the pre-index match expression (spec §4.9 #1)
// into a storage.MatchOpts. An empty mexpr disables payload matching.
func BuildMatchOpts(mexpr string, inviteOnly bool) (storage.MatchOpts, error) {
	opts := storage.MatchOpts{InviteOnly: inviteOnly}
	if mexpr == "" {
		return opts, nil
	}
	re, err := regexp.Compile(mexpr)
	if err != nil {
		return opts, fmt.Errorf("filter: bad match expression: %w", err)
	}
	opts.MatchExpr = re
	return opts, nil
}
