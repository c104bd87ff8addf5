package cos

import (
	"unicode"
)

// NaturalLess implements numeric-aware, case-insensitive filename
// comparison, the order pages and titles sort in.
func NaturalLess(a, b string) bool {
	ar, br := []rune(a), []rune(b)
	i, j := 0, 0
	for i < len(ar) && j < len(br) {
		ca, cb := ar[i], br[j]
		if unicode.IsDigit(ca) && unicode.IsDigit(cb) {
			starti, startj := i, j
			for i < len(ar) && unicode.IsDigit(ar[i]) {
				i++
			}
			for j < len(br) && unicode.IsDigit(br[j]) {
				j++
			}
			na := trimLeadingZeros(ar[starti:i])
			nb := trimLeadingZeros(br[startj:j])
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			for k := range na {
				if na[k] != nb[k] {
					return na[k] < nb[k]
				}
			}
			continue
		}
		la, lb := unicode.ToLower(ca), unicode.ToLower(cb)
		if la != lb {
			return la < lb
		}
		i++
		j++
	}
	return len(ar)-i < len(br)-j
}

func trimLeadingZeros(r []rune) []rune {
	k := 0
	for k < len(r)-1 && r[k] == '0' {
		k++
	}
	return r[k:]
}
