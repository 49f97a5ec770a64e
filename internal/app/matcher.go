package app

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/torvand/bellhop/internal/domain"
)

// MatchResult is the outcome of resolving a user query against a
// server's subscription names.
type MatchResult struct {
	// Exact is set when a candidate's full lowercased name equals the
	// query; Candidates then holds that single entry.
	Exact      bool
	Candidates map[domain.SubName][]domain.MemberID
}

func (r MatchResult) None() bool      { return len(r.Candidates) == 0 }
func (r MatchResult) Ambiguous() bool { return !r.Exact && len(r.Candidates) > 1 }

// Single returns the lone candidate. Only meaningful when exactly one
// name matched.
func (r MatchResult) Single() (domain.SubName, []domain.MemberID) {
	for name, members := range r.Candidates {
		return name, members
	}
	return "", nil
}

// Names returns the candidate names sorted for stable reporting.
func (r MatchResult) Names() []domain.SubName {
	out := make([]domain.SubName, 0, len(r.Candidates))
	for name := range r.Candidates {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Match resolves query against subs. Comparison is lowercased; a
// candidate matches when its prefix of max(minMatch, len(query))
// characters equals the query. Lengths count characters, not bytes, so
// multi-byte names cannot sneak under the minimum. A full-name equality
// short-circuits and wins over any prefix matches accumulated so far,
// so an exact query is never reported as ambiguous.
func Match(subs domain.ServerSubs, query string, minMatch int) MatchResult {
	q := strings.ToLower(query)
	n := utf8.RuneCountInString(q)
	if minMatch > n {
		n = minMatch
	}
	res := MatchResult{Candidates: map[domain.SubName][]domain.MemberID{}}
	for name, members := range subs {
		lower := strings.ToLower(string(name))
		if lower == q {
			return MatchResult{
				Exact:      true,
				Candidates: map[domain.SubName][]domain.MemberID{name: members},
			}
		}
		runes := []rune(lower)
		if n > len(runes) {
			continue
		}
		if string(runes[:n]) == q {
			res.Candidates[name] = members
		}
	}
	return res
}

// MatchExact reports whether the literal name exists. Creation, removal
// and join/leave require the registry to contain the exact name.
func MatchExact(subs domain.ServerSubs, name domain.SubName) bool {
	_, ok := subs[name]
	return ok
}
