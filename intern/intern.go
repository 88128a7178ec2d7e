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

// Package intern provides a small string interner used to keep filenames,
// function names and other repeated strings out of the coverage graph as
// plain strings.
package intern

// Handle identifies an interned string. The zero Handle always resolves to
// Unknown; it never needs to be looked up to know that.
type Handle uint32

// Unknown is the handle reserved for the sentinel string "<unknown>". It is
// always the first entry in a freshly constructed Interner.
const Unknown Handle = 0

const unknownString = "<unknown>"

// Interner maps strings to small integer handles and back. The zero value
// is not usable; construct one with New.
type Interner struct {
	handles map[string]Handle
	strings []string
}

// New returns an Interner with handle 0 already bound to "<unknown>".
func New() *Interner {
	in := &Interner{
		handles: make(map[string]Handle),
		strings: make([]string, 0, 64),
	}
	h := in.Intern(unknownString)
	if h != Unknown {
		panic("intern: first interned string did not receive handle 0")
	}
	return in
}

// Intern returns the handle for s, allocating a new one if s has not been
// seen before.
func (in *Interner) Intern(s string) Handle {
	if h, ok := in.handles[s]; ok {
		return h
	}
	h := Handle(len(in.strings))
	in.strings = append(in.strings, s)
	in.handles[s] = h
	return h
}

// Resolve returns the string bound to h. It panics if h was never issued by
// this Interner, since that indicates a handle leaked across interners.
func (in *Interner) Resolve(h Handle) string {
	if int(h) >= len(in.strings) {
		panic("intern: handle out of range")
	}
	return in.strings[h]
}

// Len returns the number of distinct strings interned, including the
// reserved "<unknown>" entry.
func (in *Interner) Len() int {
	return len(in.strings)
}

// Iterate calls yield once for every interned string in insertion order,
// excluding the reserved Unknown handle.
func (in *Interner) Iterate(yield func(Handle, string)) {
	for h := 1; h < len(in.strings); h++ {
		yield(Handle(h), in.strings[h])
	}
}
