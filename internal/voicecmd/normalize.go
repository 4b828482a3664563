package voicecmd

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// stopwords are dropped during normalisation.
var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {},
	"but": {}, "in": {}, "on": {}, "at": {}, "to": {},
}

// Normalize lowercases and trims text, splits it on whitespace and removes
// stopwords and tokens of one character or less. The remaining tokens are
// joined with single spaces.
func Normalize(text string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	kept := fields[:0]
	for _, tok := range fields {
		if utf8.RuneCountInString(tok) <= 1 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}

// Ratio returns the normalised indel similarity of a and b on a 0–100 scale:
// 100 × 2·LCS / (len(a)+len(b)), with lengths counted in runes. Two empty
// strings are identical and score 100.
func Ratio(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 100
	}
	lcs := matchr.LongestCommonSubsequence(a, b)
	return 100 * float64(2*lcs) / float64(total)
}
