// Package search ranks connection candidates against a free-text query and
// keeps the visible result set consistent while searches overlap.
package search

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/tjfontaine/routex-demo/internal/domain"
)

const (
	// DefaultLimit is the result-count ceiling sent with every search.
	DefaultLimit = 50

	// MinQueryLength is the number of characters a query needs before a
	// search is dispatched.
	MinQueryLength = 3

	// TruncationMarker replaces the label of the last entry of a result set
	// that hit the limit.
	TruncationMarker = "..."
)

// Terms splits a query on whitespace.
func Terms(query string) []string {
	return strings.Fields(query)
}

// TooShort reports whether query is below the minimum search length.
func TooShort(query string, min int) bool {
	return utf8.RuneCountInString(query) < min
}

// Rank orders candidates by where the first query term occurs in their
// display name and marks truncation when the set is exactly limit long.
// The input slice is not modified.
func Rank(candidates []domain.ConnectionInfo, query string, limit int) []domain.ConnectionInfo {
	out := make([]domain.ConnectionInfo, len(candidates))
	copy(out, candidates)

	first := ""
	if terms := Terms(query); len(terms) > 0 {
		first = strings.ToLower(terms[0])
	}

	sort.SliceStable(out, func(i, j int) bool {
		return compare(out[i].DisplayName, out[j].DisplayName, first) < 0
	})

	if limit > 0 && len(out) == limit {
		out[len(out)-1].DisplayName = TruncationMarker
	}
	return out
}

// compare orders two display names against the lower-cased first term.
// Names containing the term sort before names that do not; among those, the
// earlier match wins. Equal match positions are ordered by the case-folded
// name, not by arrival order. Names without a match are ordered by
// case-folded name.
func compare(a, b, term string) int {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	ia, ib := strings.Index(la, term), strings.Index(lb, term)

	switch {
	case ia >= 0 && ib >= 0:
		if ia != ib {
			return ia - ib
		}
		return strings.Compare(la, lb)
	case ia >= 0:
		return -1
	case ib >= 0:
		return 1
	default:
		return strings.Compare(la, lb)
	}
}
