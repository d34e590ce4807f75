package matcher

import "strings"

// Text similarity is intentionally simple: a Sørensen–Dice coefficient over
// normalized token sets. Normalization lowercases, strips punctuation, and
// splits on whitespace. The function is pure, so ranking is reproducible for
// identical input.

// normalize returns the deduplicated token set of s.
func normalize(s string) map[string]struct{} {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	out := make(map[string]struct{})
	for _, tok := range strings.Fields(b.String()) {
		out[tok] = struct{}{}
	}
	return out
}

// dice returns 2|A∩B| / (|A|+|B|) for the token sets of a and b, in [0,1].
func dice(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	return 2 * float64(inter) / float64(len(a)+len(b))
}

// similarityScore converts the dice coefficient into integer score points.
// Integer points keep ordering comparisons exact; float equality never
// participates in ranking.
func similarityScore(bankText string, candidateVendor string) int {
	return int(dice(normalize(bankText), normalize(candidateVendor))*simWeight + 0.5)
}
