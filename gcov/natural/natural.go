// This file is part of cov.
//
// cov is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// cov is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with cov.  If not, see <https://www.gnu.org/licenses/>.

// Package natural implements natural-order string comparison, so that
// reports list source files in the order a human would expect
// ("file2.c" before "file10.c") rather than plain byte order.
package natural

import (
	"sort"
	"unicode"
)

// Less reports whether a sorts before b in natural order: runs of digits
// compare by numeric value, everything else compares by rune.
func Less(a, b string) bool {
	ra, rb := []rune(a), []rune(b)
	i, j := 0, 0
	for i < len(ra) && j < len(rb) {
		ca, cb := ra[i], rb[j]

		if unicode.IsDigit(ca) && unicode.IsDigit(cb) {
			ei := i
			for ei < len(ra) && unicode.IsDigit(ra[ei]) {
				ei++
			}
			ej := j
			for ej < len(rb) && unicode.IsDigit(rb[ej]) {
				ej++
			}

			na := stripLeadingZeros(ra[i:ei])
			nb := stripLeadingZeros(rb[j:ej])
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			for k := range na {
				if na[k] != nb[k] {
					return na[k] < nb[k]
				}
			}

			i, j = ei, ej
			continue
		}

		if ca != cb {
			return ca < cb
		}
		i++
		j++
	}

	return len(ra)-i < len(rb)-j
}

func stripLeadingZeros(r []rune) []rune {
	k := 0
	for k < len(r)-1 && r[k] == '0' {
		k++
	}
	return r[k:]
}

// Strings is a stable, natural-order sortable list of strings.
type Strings []string

func (s Strings) Len() int           { return len(s) }
func (s Strings) Less(i, j int) bool { return Less(s[i], s[j]) }
func (s Strings) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// Sort sorts ss in place using natural order.
func Sort(ss []string) {
	sort.Stable(Strings(ss))
}
