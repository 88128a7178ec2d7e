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

// Package report defines the format-independent coverage report produced
// from an analyzed graph.
package report

import (
	"github.com/kennytm/cov/gcov/raw"
	"github.com/kennytm/cov/intern"
)

// Report holds per-file coverage information, keyed by interned filename.
type Report struct {
	Files map[intern.Handle]*File
}

// New returns an empty Report.
func New() *Report {
	return &Report{Files: make(map[intern.Handle]*File)}
}

// File returns the File entry for filename, creating it if necessary.
func (r *Report) File(filename intern.Handle) *File {
	f, ok := r.Files[filename]
	if !ok {
		f = &File{Lines: make(map[uint32]*Line)}
		r.Files[filename] = f
	}
	return f
}

// File is coverage information about a single source file.
type File struct {
	Lines     map[uint32]*Line
	Functions []Function
}

// Line returns the Line entry for number, creating it if necessary.
func (f *File) Line(number uint32) *Line {
	l, ok := f.Lines[number]
	if !ok {
		l = &Line{}
		f.Lines[number] = l
	}
	return l
}

// Summary aggregates this file's lines and functions into a FileSummary.
func (f *File) Summary() FileSummary {
	s := FileSummary{
		LinesCount:    len(f.Lines),
		FunctionsCount: len(f.Functions),
	}
	for _, line := range f.Lines {
		if line.Count > 0 {
			s.LinesCovered++
		}
	}
	for _, fn := range f.Functions {
		s.BranchesCount += fn.Summary.BranchesCount
		s.BranchesExecuted += fn.Summary.BranchesExecuted
		s.BranchesTaken += fn.Summary.BranchesTaken
		if fn.Summary.EntryCount > 0 {
			s.FunctionsCalled++
		}
	}
	return s
}

// Line is coverage information about a single source line.
type Line struct {
	// Count is the number of times all branches targeting the basic block
	// containing this line have been taken.
	Count    uint64
	Attr     raw.BlockAttr
	Branches []Branch
}

// Branch is coverage information about a single outgoing branch from a
// line.
type Branch struct {
	Count    uint64
	Attr     raw.ArcAttr
	Filename intern.Handle
	Line     uint32
	Column   uint32
}

// Function is coverage information about a single function definition.
type Function struct {
	Name    intern.Handle
	Line    uint32
	Column  uint32
	Summary FunctionSummary
}

// FunctionSummary is the statistical summary of a single function.
type FunctionSummary struct {
	BlocksCount      int
	BlocksExecuted   int
	EntryCount       uint64
	ExitCount        uint64
	BranchesCount    int
	BranchesExecuted int
	BranchesTaken    int
}

// FileSummary is the statistical summary of a single file.
type FileSummary struct {
	LinesCount       int
	LinesCovered     int
	BranchesCount    int
	BranchesExecuted int
	BranchesTaken    int
	FunctionsCount   int
	FunctionsCalled  int
}
