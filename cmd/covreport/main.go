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

// Command covreport merges GCNO/GCDA files into a single control-flow
// graph and prints a per-file coverage summary. It exists mainly to
// exercise the gcov/reader, gcov/graph and gcov/report packages
// end-to-end; it is not meant to replace gcov's own report formats.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/ogier/pflag"

	"github.com/kennytm/cov/gcov/graph"
	"github.com/kennytm/cov/gcov/natural"
	"github.com/kennytm/cov/gcov/reader"
	"github.com/kennytm/cov/gcov/report"
	"github.com/kennytm/cov/intern"
	"github.com/kennytm/cov/logger"
)

// stringList accumulates repeated occurrences of a flag, e.g. --gcno a.gcno
// --gcno b.gcno.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func (s *stringList) Type() string { return "string" }

func main() {
	var gcnoFiles, gcdaFiles stringList
	pflag.Var(&gcnoFiles, "gcno", "path to a .gcno file (repeatable)")
	pflag.Var(&gcdaFiles, "gcda", "path to a .gcda file (repeatable)")
	dotPath := pflag.String("dot", "", "write a graphviz dump of the merged graph to this path")
	strict := pflag.Bool("strict", false, "fail if flow propagation leaves any block or arc unresolved")
	pflag.Parse()

	if len(gcnoFiles) == 0 {
		fmt.Fprintln(os.Stderr, "covreport: at least one --gcno file is required")
		os.Exit(2)
	}

	interner := intern.New()
	log := logger.NewLogger(1000)
	g := graph.New(interner, log, graph.Options{Strict: *strict})

	for _, path := range gcnoFiles {
		if err := mergeFile(g, interner, path); err != nil {
			fail(path, err)
		}
	}
	for _, path := range gcdaFiles {
		if err := mergeFile(g, interner, path); err != nil {
			fail(path, err)
		}
	}

	if err := g.Analyze(); err != nil {
		fail("analyze", err)
	}

	if *dotPath != "" {
		f, err := os.Create(*dotPath)
		if err != nil {
			fail(*dotPath, err)
		}
		defer f.Close()
		if err := g.WriteDot(f); err != nil {
			fail(*dotPath, err)
		}
	}

	printReport(g.Report(), interner)
}

func mergeFile(g *graph.Graph, interner *intern.Interner, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rd, err := reader.New(f, interner)
	if err != nil {
		return err
	}
	parsed, err := rd.Parse()
	if err != nil {
		return err
	}
	return g.Merge(parsed, path)
}

func printReport(rep *report.Report, interner *intern.Interner) {
	names := make([]string, 0, len(rep.Files))
	handles := make(map[string]intern.Handle, len(rep.Files))
	for handle := range rep.Files {
		name := interner.Resolve(handle)
		names = append(names, name)
		handles[name] = handle
	}
	natural.Sort(names)

	for _, name := range names {
		summary := rep.Files[handles[name]].Summary()
		fmt.Printf(
			"%s: lines %d/%d, branches %d/%d, functions %d/%d\n",
			name,
			summary.LinesCovered, summary.LinesCount,
			summary.BranchesTaken, summary.BranchesCount,
			summary.FunctionsCalled, summary.FunctionsCount,
		)
	}
}

func fail(context string, err error) {
	fmt.Fprintf(os.Stderr, "covreport: %s: %s\n", context, err)
	os.Exit(1)
}
