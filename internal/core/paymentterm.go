package core

import (
	"regexp"
	"strconv"
	"strings"
)

// offsetListPattern matches an explicit day-offset list such as
// "(30/60/90 dias)". Whitespace around the numbers and slashes is tolerated.
var offsetListPattern = regexp.MustCompile(`(?i)\(\s*(\d+(?:\s*/\s*\d+)*)\s*dias\s*\)`)

// firstIntPattern extracts the first integer anywhere in the descriptor,
// read as an installment count ("3x", "em 2 vezes").
var firstIntPattern = regexp.MustCompile(`\d+`)

// ParsePaymentTerm turns a free-text payment-term descriptor into an ordered
// list of day offsets from the emission date.
//
// This is a best-effort heuristic, not a validator: it never fails and
// always returns at least one offset. Unparseable text falls back to a
// single "due now" installment, and a parsed result is no guarantee the
// descriptor was well-formed.
//
//	"4x (30/60/90/120 dias)" -> [30 60 90 120]
//	"à vista"                -> [0]
//	"3x"                     -> [30 60 90]
//	""                       -> [0]
func ParsePaymentTerm(text string) []int {
	if m := offsetListPattern.FindStringSubmatch(text); m != nil {
		parts := strings.Split(m[1], "/")
		offsets := make([]int, 0, len(parts))
		for _, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				offsets = nil
				break
			}
			offsets = append(offsets, n)
		}
		if len(offsets) > 0 {
			return offsets
		}
	}

	norm := strings.ToLower(strings.TrimSpace(text))
	if strings.Contains(norm, "à vista") || strings.Contains(norm, "a vista") ||
		norm == "1" || norm == "1x" {
		return []int{0}
	}

	count := 1
	if m := firstIntPattern.FindString(text); m != "" {
		if n, err := strconv.Atoi(m); err == nil && n > 0 {
			count = n
		}
	}
	if count == 1 {
		return []int{0}
	}

	offsets := make([]int, count)
	for i := range offsets {
		offsets[i] = 30 * (i + 1)
	}
	return offsets
}
