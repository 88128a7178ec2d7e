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

// Package graph combines the raw records of one or more GCNO/GCDA files
// into a single control-flow multigraph, propagates arc counts to
// unobserved blocks and arcs, and renders the result as a report.
package graph

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/bradleyjkemp/memviz"

	"github.com/kennytm/cov/coverr"
	"github.com/kennytm/cov/gcov/raw"
	"github.com/kennytm/cov/gcov/report"
	"github.com/kennytm/cov/intern"
	"github.com/kennytm/cov/logger"
)

// Options configures a Graph's behaviour.
type Options struct {
	// Strict causes Analyze to return an InconsistentGraph error if flow
	// propagation leaves any block or arc unresolved. The original gcov
	// only ran this check in debug builds; here it is an explicit,
	// always-available opt-in rather than a build-tag-gated assertion.
	Strict bool
}

// blockInfo is the analysis state attached to a single basic block.
type blockInfo struct {
	funcIndex int
	block     int
	attr      raw.BlockAttr
	count     *uint64
	lines     []raw.Line
}

func (b *blockInfo) isEntryBlock() bool { return b.block == 0 }

// arcInfo is the analysis state attached to a single control-flow edge.
type arcInfo struct {
	funcIndex  int
	localIndex int
	attr       raw.ArcAttr
	count      *uint64
	src, dest  int
}

// functionInfo collects the nodes and "real" (non-ON_TREE) arcs belonging
// to one function.
type functionInfo struct {
	nodes     []int
	arcs      []int
	source    raw.Source
	hasSource bool
}

func (fn *functionInfo) entryBlock() int { return fn.nodes[0] }

func (fn *functionInfo) exitBlock(version raw.Version) int {
	if version.AtLeast47() {
		return fn.nodes[1]
	}
	return fn.nodes[len(fn.nodes)-1]
}

// gcdaFunctionIdentity is the lookup key used when merging a GCDA file's
// per-function arc counts against the functions already known to the
// graph.
type gcdaFunctionIdentity struct {
	fileChecksum   uint32
	ident          raw.Ident
	linenoChecksum uint32
	cfgChecksum    uint32
}

// Graph is the combined control-flow graph for every function merged into
// it, across possibly several linked GCNO objects and GCDA runs.
type Graph struct {
	opts       Options
	interner   *intern.Interner
	log        *logger.Logger
	version    raw.Version
	hasVersion bool

	functions []functionInfo
	// gcnoIndex deduplicates identical function bodies that appear
	// redundantly across multiple linked GCNO objects: the key excludes
	// the per-object Ident, which two objects may assign differently to
	// what is otherwise the same function.
	gcnoIndex map[string]int
	gcdaIndex map[gcdaFunctionIdentity]int

	nodes    []blockInfo
	edges    []arcInfo
	outEdges [][]int
	inEdges  [][]int
}

// New creates an empty Graph.
func New(interner *intern.Interner, log *logger.Logger, opts Options) *Graph {
	return &Graph{
		opts:      opts,
		interner:  interner,
		log:       log,
		gcnoIndex: make(map[string]int),
		gcdaIndex: make(map[gcdaFunctionIdentity]int),
	}
}

// Merge folds a parsed GCNO or GCDA file into the graph. sourcePath, if
// non-empty, annotates any returned error with the file it came from.
func (g *Graph) Merge(file *raw.File, sourcePath string) error {
	if !g.hasVersion {
		g.version = file.Version
		g.hasVersion = true
	} else if g.version != file.Version {
		err := coverr.Errorf(coverr.VersionMismatch, "version mismatch: graph is %s, file is %s", g.version, file.Version)
		return wrapSource(err, sourcePath)
	}

	var err error
	switch file.Type {
	case raw.Gcno:
		err = g.mergeGCNO(file)
	case raw.Gcda:
		err = g.mergeGCDA(file)
	}
	if err != nil {
		return wrapSource(err, sourcePath)
	}
	return nil
}

func wrapSource(err error, sourcePath string) error {
	if sourcePath == "" {
		return err
	}
	return coverr.AtFile(err, sourcePath)
}

type gcnoFnEntry struct {
	ident    raw.Ident
	function raw.Function
	blocks   raw.Blocks
	arcs     []raw.Arcs
	lines    []raw.Lines
}

// structuralKey computes the deduplication key of a function's body: two
// function bodies with the same lineno/cfg checksums, blocks, arcs and
// lines are the same function, regardless of what Ident each GCNO object
// happened to assign it.
func structuralKey(fn raw.Function, blocks raw.Blocks, arcs []raw.Arcs, lines []raw.Lines) string {
	return fmt.Sprintf("%+v", struct {
		Function raw.Function
		Blocks   raw.Blocks
		Arcs     []raw.Arcs
		Lines    []raw.Lines
	}{fn, blocks, arcs, lines})
}

// mergeGCNO merges a parsed GCNO file's function, block, arc and line
// records into the graph.
//
// Two passes mirror the original: first, group the flat record stream into
// one entry per function (a FUNCTION record followed by its BLOCKS, ARCS
// and LINES records); second, fold each entry into the graph by structural
// identity, since the same linked GCNO object may legitimately repeat a
// function body verbatim.
func (g *Graph) mergeGCNO(file *raw.File) error {
	checksum := file.Checksum

	var entries []gcnoFnEntry
	for index, rec := range file.Records {
		switch rec.Kind {
		case raw.RecordFunction:
			entries = append(entries, gcnoFnEntry{ident: rec.FunctionIdent, function: rec.Function})
		case raw.RecordBlocks:
			if len(entries) == 0 {
				return coverr.AtRecord(coverr.Errorf(coverr.MalformedRecord, "block record without a preceding function record"), index)
			}
			entries[len(entries)-1].blocks = rec.Blocks
		case raw.RecordArcs:
			if len(entries) == 0 {
				return coverr.AtRecord(coverr.Errorf(coverr.MalformedRecord, "arcs record without a preceding function record"), index)
			}
			last := &entries[len(entries)-1]
			last.arcs = append(last.arcs, rec.Arcs)
		case raw.RecordLines:
			if len(entries) == 0 {
				return coverr.AtRecord(coverr.Errorf(coverr.MalformedRecord, "lines record without a preceding function record"), index)
			}
			last := &entries[len(entries)-1]
			last.lines = append(last.lines, rec.Lines)
		default:
			g.log.Logf(logger.Allow, "gcno-unknown-record", "%v", rec.Kind)
		}
	}

	for _, e := range entries {
		key := structuralKey(e.function, e.blocks, e.arcs, e.lines)
		identity := gcdaFunctionIdentity{
			fileChecksum:   checksum,
			ident:          e.ident,
			linenoChecksum: e.function.LinenoChecksum,
			cfgChecksum:    e.function.CFGChecksum,
		}
		if existing, ok := g.gcnoIndex[key]; ok {
			g.gcdaIndex[identity] = existing
			continue
		}
		newIndex := g.addFunction(e.function, e.blocks, e.arcs, e.lines)
		g.gcnoIndex[key] = newIndex
		g.gcdaIndex[identity] = newIndex
	}

	return nil
}

// mergeGCDA merges a parsed GCDA file's arc counts into the graph's
// functions, which must already have been populated by a prior GCNO merge.
func (g *Graph) mergeGCDA(file *raw.File) error {
	checksum := file.Checksum
	cur := -1

	for index, rec := range file.Records {
		switch rec.Kind {
		case raw.RecordFunction:
			idx, err := g.findFunction(checksum, rec.FunctionIdent, rec.Function)
			if err != nil {
				return coverr.AtRecord(err, index)
			}
			cur = idx
		case raw.RecordArcCounts:
			if cur < 0 {
				return coverr.AtRecord(coverr.Errorf(coverr.MalformedRecord, "arc counts record without a preceding function record"), index)
			}
			if err := g.addArcCounts(cur, rec.ArcCounts); err != nil {
				return coverr.AtRecord(err, index)
			}
		case raw.RecordSummary:
			// object/program summaries describe run counts, not per-line
			// coverage; nothing to merge into the graph.
		default:
			g.log.Logf(logger.Allow, "gcda-unknown-record", "%v", rec.Kind)
		}
	}

	return nil
}

// addFunction registers a new function's blocks, arcs and lines, returning
// its function index.
func (g *Graph) addFunction(fn raw.Function, blocks raw.Blocks, arcsList []raw.Arcs, linesList []raw.Lines) int {
	newIndex := len(g.functions)
	g.log.Logf(logger.Allow, "gcno-add-function", "%v -> %d", fn.Source, newIndex)

	info := functionInfo{source: fn.Source, hasSource: fn.HasSource}
	g.addBlocks(&info, newIndex, blocks)
	for _, arcs := range arcsList {
		g.addArcs(&info, newIndex, arcs)
	}
	g.addLines(&info, linesList)

	g.functions = append(g.functions, info)
	return newIndex
}

func (g *Graph) addBlocks(fn *functionInfo, index int, blocks raw.Blocks) {
	fn.nodes = make([]int, len(blocks.Flags))
	for block, attr := range blocks.Flags {
		ni := len(g.nodes)
		g.nodes = append(g.nodes, blockInfo{funcIndex: index, block: block, attr: attr})
		g.outEdges = append(g.outEdges, nil)
		g.inEdges = append(g.inEdges, nil)
		fn.nodes[block] = ni
	}
}

func (g *Graph) addArcs(fn *functionInfo, index int, arcs raw.Arcs) {
	srcNi := fn.nodes[arcs.SrcBlock]

	for localIndex, arc := range arcs.Arcs {
		destNi := fn.nodes[arc.DestBlock]
		isRealArc := arc.Flags&raw.ArcAttrOnTree == 0

		var count *uint64
		if isRealArc {
			zero := uint64(0)
			count = &zero
		}

		ei := len(g.edges)
		g.edges = append(g.edges, arcInfo{
			funcIndex:  index,
			localIndex: localIndex,
			attr:       arc.Flags,
			count:      count,
			src:        srcNi,
			dest:       destNi,
		})
		g.outEdges[srcNi] = append(g.outEdges[srcNi], ei)
		g.inEdges[destNi] = append(g.inEdges[destNi], ei)

		if isRealArc {
			fn.arcs = append(fn.arcs, ei)
		}
	}
}

// addLines assigns each block its source lines. A block with no exact
// LINES entry of its own inherits the tail of the nearest preceding
// block's lines instead -- gcc7 sometimes emits such blocks in the middle
// of a function with no line information of their own.
func (g *Graph) addLines(fn *functionInfo, linesList []raw.Lines) {
	type donor struct {
		blockNumber int
		lines       []raw.Line
	}
	donors := make([]donor, 0, len(linesList))
	for _, l := range linesList {
		donors = append(donors, donor{blockNumber: int(l.BlockNumber), lines: l.Lines})
	}
	sort.Slice(donors, func(i, j int) bool { return donors[i].blockNumber < donors[j].blockNumber })

	for block, ni := range fn.nodes {
		idx := sort.Search(len(donors), func(i int) bool { return donors[i].blockNumber > block }) - 1
		if idx < 0 {
			continue
		}
		d := donors[idx]
		if d.blockNumber == block {
			g.nodes[ni].lines = d.lines
			continue
		}

		filename, lineNumber := intern.Unknown, uint32(0)
		hasFilename, hasLineNumber := false, false
		for i := len(d.lines) - 1; i >= 0; i-- {
			line := d.lines[i]
			if line.IsFile && !hasFilename {
				filename = line.Filename
				hasFilename = true
			} else if !line.IsFile && !hasLineNumber {
				lineNumber = line.Number
				hasLineNumber = true
			}
			if hasFilename && hasLineNumber {
				break
			}
		}
		g.nodes[ni].lines = []raw.Line{
			{Filename: filename, IsFile: true},
			{Number: lineNumber},
		}
	}
}

// findFunction looks up the function a GCDA function record refers to by
// its nominal identity (file checksum, ident, lineno/cfg checksums).
func (g *Graph) findFunction(checksum uint32, ident raw.Ident, fn raw.Function) (int, error) {
	identity := gcdaFunctionIdentity{
		fileChecksum:   checksum,
		ident:          ident,
		linenoChecksum: fn.LinenoChecksum,
		cfgChecksum:    fn.CFGChecksum,
	}
	idx, ok := g.gcdaIndex[identity]
	if !ok {
		return -1, coverr.Errorf(coverr.UnresolvedFunction, "function #%d (checksum 0x%08x) has no matching gcno function", ident, checksum)
	}
	return idx, nil
}

func (g *Graph) addArcCounts(index int, ac raw.ArcCounts) error {
	fn := &g.functions[index]
	if len(ac.Counts) != len(fn.arcs) {
		return coverr.Errorf(coverr.CountsMismatch, "gcda has %d arc counts, gcno function has %d real arcs", len(ac.Counts), len(fn.arcs))
	}
	for i, ei := range fn.arcs {
		if g.edges[ei].count == nil {
			c := ac.Counts[i]
			g.edges[ei].count = &c
		} else {
			*g.edges[ei].count += ac.Counts[i]
		}
	}
	return nil
}

// Analyze converts the raw arc counts merged so far into block (line)
// counts. Call this once every file has been merged and before Report; on
// an unanalyzed graph no block has a count, so every line reports 0.
func (g *Graph) Analyze() error {
	g.markCatchBlocks()
	g.markUnconditionalArcs()
	g.markExceptionalBlocks()
	g.propagateCounts()
	if g.opts.Strict {
		if err := g.verifyCounts(); err != nil {
			return err
		}
	}
	g.markExceptionalBlocks()
	return nil
}

// markCatchBlocks marks blocks and arcs associated with throwing and
// catching exceptions.
func (g *Graph) markCatchBlocks() {
	for src := range g.nodes {
		edges := append([]int(nil), g.outEdges[src]...)

		markThrow := false
		for _, ei := range edges {
			if g.edges[ei].attr&raw.ArcAttrFake == 0 {
				continue
			}
			dest := g.edges[ei].dest
			if g.nodes[src].isEntryBlock() {
				g.nodes[dest].attr |= raw.BlockAttrNonlocalReturn
				g.edges[ei].attr |= raw.ArcAttrNonlocalReturn
			} else {
				markThrow = true
				g.nodes[src].attr |= raw.BlockAttrCallSite
				g.edges[ei].attr |= raw.ArcAttrCallNonReturn
			}
		}

		if markThrow {
			for _, ei := range edges {
				if g.edges[ei].attr&(raw.ArcAttrFake|raw.ArcAttrFallthrough) == 0 {
					g.edges[ei].attr |= raw.ArcAttrThrow
				}
			}
		}
	}
}

// markUnconditionalArcs marks the single non-fake outgoing arc of a block
// as unconditional, since there is no branch decision to record.
func (g *Graph) markUnconditionalArcs() {
	type candidate struct {
		src, dest, edge int
		attr            raw.ArcAttr
	}
	var candidates []candidate

	for src := range g.nodes {
		var nonFake []int
		for _, ei := range g.outEdges[src] {
			if g.edges[ei].attr&raw.ArcAttrFake == 0 {
				nonFake = append(nonFake, ei)
			}
		}
		if len(nonFake) == 1 {
			ei := nonFake[0]
			candidates = append(candidates, candidate{src: src, dest: g.edges[ei].dest, edge: ei, attr: g.edges[ei].attr})
		}
	}

	for _, c := range candidates {
		g.edges[c.edge].attr |= raw.ArcAttrUnconditional
		if c.attr&raw.ArcAttrFallthrough != 0 && g.nodes[c.src].attr&raw.BlockAttrCallSite != 0 {
			g.nodes[c.dest].attr |= raw.BlockAttrCallReturn
		}
	}
}

// markExceptionalBlocks marks every block not reachable from some
// function's entry block via non-fake, non-throw arcs as exceptional.
func (g *Graph) markExceptionalBlocks() {
	var stack []int
	for i := range g.nodes {
		if g.nodes[i].isEntryBlock() {
			stack = append(stack, i)
		} else {
			g.nodes[i].attr |= raw.BlockAttrExceptional
		}
	}

	visited := make([]bool, len(g.nodes))
	for len(stack) > 0 {
		ni := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[ni] {
			continue
		}
		visited[ni] = true
		g.nodes[ni].attr &^= raw.BlockAttrExceptional

		for _, ei := range g.outEdges[ni] {
			arc := &g.edges[ei]
			if arc.attr&(raw.ArcAttrFake|raw.ArcAttrThrow) != 0 {
				continue
			}
			if !visited[arc.dest] {
				stack = append(stack, arc.dest)
			}
		}
	}
}

func (g *Graph) verifyCounts() error {
	for i := range g.nodes {
		if g.nodes[i].count == nil {
			return coverr.Errorf(coverr.InconsistentGraph, "block %d was not resolved by flow propagation", i)
		}
	}
	for i := range g.edges {
		if g.edges[i].count == nil {
			return coverr.Errorf(coverr.InconsistentGraph, "arc %d was not resolved by flow propagation", i)
		}
	}
	return nil
}

// Report walks the analyzed graph and produces a format-independent
// coverage report, one entry per source file touched by any function.
func (g *Graph) Report() *report.Report {
	r := report.New()

	for i := range g.functions {
		g.reportFunction(i, r)
	}

	for ni := range g.nodes {
		filename, lineNumber, ok := g.reportBlock(ni, r)
		if !ok {
			continue
		}
		fn := &g.functions[g.nodes[ni].funcIndex]
		exitNode := fn.exitBlock(g.version)

		line := r.File(filename).Line(lineNumber)
		for _, ei := range g.outEdges[ni] {
			arc := &g.edges[ei]
			if arc.dest == exitNode && arc.count != nil && *arc.count == 0 {
				continue
			}
			if branch := g.reportArc(ei); branch != nil {
				line.Branches = append(line.Branches, *branch)
			}
		}
	}

	return r
}

func (g *Graph) reportFunction(i int, r *report.Report) {
	fn := &g.functions[i]
	entryNode := fn.entryBlock()
	exitNode := fn.exitBlock(g.version)

	blocksExecuted := 0
	for _, ni := range fn.nodes {
		if c := g.nodes[ni].count; c != nil && *c > 0 {
			blocksExecuted++
		}
	}

	// function.arcs is deliberately not used here: for gcc7, non-fall-through
	// arcs are not instrumented, so counting only the real arcs would
	// under-report the branch total.
	var branchesCount, branchesExecuted, branchesTaken int
	for _, ni := range fn.nodes {
		for _, ei := range g.outEdges[ni] {
			arc := &g.edges[ei]
			if arc.attr&(raw.ArcAttrUnconditional|raw.ArcAttrFake) != 0 {
				continue
			}
			branchesCount++
			if c := g.nodes[ni].count; c != nil && *c > 0 {
				branchesExecuted++
			}
			if arc.count != nil && *arc.count > 0 {
				branchesTaken++
			}
		}
	}

	var entryCount uint64
	if c := g.nodes[entryNode].count; c != nil {
		entryCount = *c
	}
	var exitCount uint64
	if c := g.nodes[exitNode].count; c != nil {
		exitCount = *c
	}
	for _, ei := range g.inEdges[exitNode] {
		arc := &g.edges[ei]
		if arc.attr&raw.ArcAttrFake != 0 && arc.count != nil {
			exitCount -= *arc.count
		}
	}

	name, line, filename := intern.Unknown, uint32(0), intern.Unknown
	if fn.hasSource {
		name, line, filename = fn.source.Name, fn.source.Line, fn.source.Filename
	}

	file := r.File(filename)
	file.Functions = append(file.Functions, report.Function{
		Name: name,
		Line: line,
		Summary: report.FunctionSummary{
			BlocksCount:      len(fn.nodes),
			BlocksExecuted:   blocksExecuted,
			EntryCount:       entryCount,
			ExitCount:        exitCount,
			BranchesCount:    branchesCount,
			BranchesExecuted: branchesExecuted,
			BranchesTaken:    branchesTaken,
		},
	})
}

// reportBlock folds a block's count and attributes into every source line
// it covers, returning the last (filename, line) pair seen so the caller
// can attach outgoing branches to it.
func (g *Graph) reportBlock(ni int, r *report.Report) (intern.Handle, uint32, bool) {
	block := &g.nodes[ni]
	var blockCount uint64
	if block.count != nil {
		blockCount = *block.count
	}

	var lastFilename intern.Handle
	var lastLine uint32
	has := false

	currentFilename := intern.Unknown
	for _, ln := range block.lines {
		if ln.IsFile {
			currentFilename = ln.Filename
			continue
		}
		line := r.File(currentFilename).Line(ln.Number)
		if blockCount > line.Count {
			line.Count = blockCount
		}
		line.Attr |= block.attr
		lastFilename, lastLine, has = currentFilename, ln.Number, true
	}

	return lastFilename, lastLine, has
}

func (g *Graph) reportArc(ei int) *report.Branch {
	arc := &g.edges[ei]
	if arc.attr&raw.ArcAttrUnconditional != 0 && arc.attr&raw.ArcAttrCallNonReturn == 0 {
		return nil
	}

	dest := &g.nodes[arc.dest]
	filename, line := intern.Unknown, uint32(0)
	currentFilename := intern.Unknown
	for _, ln := range dest.lines {
		if ln.IsFile {
			currentFilename = ln.Filename
			continue
		}
		filename, line = currentFilename, ln.Number
		break
	}

	var count uint64
	if arc.count != nil {
		count = *arc.count
	}
	return &report.Branch{
		Count:    count,
		Attr:     arc.attr,
		Filename: filename,
		Line:     line,
	}
}

// WriteDot renders the whole graph as Graphviz for debugging, via memviz's
// reflection-based data structure dumper.
func (g *Graph) WriteDot(w io.Writer) error {
	memviz.Map(w, g)
	return nil
}

const maxInvalidArcs = math.MaxInt

// blockColor is the result of trying to resolve a block's count during
// flow propagation.
type blockColor int

const (
	colorWhite blockColor = iota
	colorRed
	colorGreen
)

// direction selects which side of an arc a count is being propagated
// through.
type direction int

const (
	outgoing direction = iota
	incoming
)

func (d direction) opposite() direction {
	if d == outgoing {
		return incoming
	}
	return outgoing
}

// blockStatus tallies, for one block, the total count and number of
// still-unresolved arcs on each side, so propagateCounts doesn't have to
// re-walk the arc list on every iteration.
type blockStatus struct {
	outgoingTotalCount  uint64
	outgoingInvalidArcs int
	incomingTotalCount  uint64
	incomingInvalidArcs int
}

func (bs *blockStatus) totals(dir direction) (*int, *uint64) {
	if dir == outgoing {
		return &bs.outgoingInvalidArcs, &bs.outgoingTotalCount
	}
	return &bs.incomingInvalidArcs, &bs.incomingTotalCount
}

// createBlockStatus seeds the per-block tallies: every arc with a known
// count contributes to its endpoints' total counts, every arc without one
// counts as "invalid" on both ends. Every function's entry and exit block
// are forced fully invalid on their outer side, since those counts are
// never directly recorded.
func (g *Graph) createBlockStatus() []blockStatus {
	status := make([]blockStatus, len(g.nodes))

	for i := range g.edges {
		arc := &g.edges[i]
		if arc.count != nil {
			status[arc.src].outgoingTotalCount += *arc.count
			status[arc.dest].incomingTotalCount += *arc.count
		} else {
			status[arc.src].outgoingInvalidArcs++
			status[arc.dest].incomingInvalidArcs++
		}
	}

	for i := range g.functions {
		fn := &g.functions[i]
		status[fn.entryBlock()].incomingInvalidArcs = maxInvalidArcs
		status[fn.exitBlock(g.version)].outgoingInvalidArcs = maxInvalidArcs
	}

	return status
}

// propagateCounts is gcov's own flow-balance solver: a block whose counts
// are fully known on one side (all its arcs that way are resolved) can
// have its own count computed by summing them; a block whose own count is
// known and which has exactly one remaining unresolved arc can have that
// arc's count computed by subtraction. Blocks move from "red" (nothing
// resolved) to "green" (own count resolved, propagating outward) to
// resolved as this repeats to a fixed point.
func (g *Graph) propagateCounts() {
	status := g.createBlockStatus()
	n := uint(len(g.nodes))

	oldGreen := bitset.New(n)
	green := bitset.New(n)
	red := bitset.New(n)
	for i := uint(0); i < n; i++ {
		red.Set(i)
	}

	shouldProcess := true
	for shouldProcess {
		shouldProcess = false

		forEachSet(red, func(i uint) {
			shouldProcess = true
			switch g.processRedBlock(int(i), status) {
			case colorGreen:
				green.Set(i)
			case colorWhite:
			case colorRed:
				panic("propagateCounts: a red block resolved to red")
			}
		})
		red.ClearAll()

		green, oldGreen = oldGreen, green
		forEachSet(oldGreen, func(i uint) {
			shouldProcess = true
			src := int(i)
			for _, dir := range [...]direction{outgoing, incoming} {
				dest, arcCount, ok := g.processGreenBlock(src, dir, status)
				if !ok {
					continue
				}
				switch g.processGreenBlockDest(dest, arcCount, dir, status) {
				case colorRed:
					red.Set(uint(dest))
				case colorGreen:
					green.Set(uint(dest))
				case colorWhite:
				}
			}
		})
		oldGreen.ClearAll()
	}
}

// forEachSet calls f, in ascending order, with the index of every set bit
// in b. If f sets further bits in b, those above the index being visited
// are visited too; those at or below it are not.
func forEachSet(b *bitset.BitSet, f func(uint)) {
	for i, ok := b.NextSet(0); ok; i, ok = b.NextSet(i + 1) {
		f(i)
	}
}

// processRedBlock resolves a block's own count from whichever side (its
// incoming or outgoing arcs) is fully known, if either is.
func (g *Graph) processRedBlock(ni int, bs []blockStatus) blockColor {
	status := &bs[ni]
	var total uint64
	switch {
	case status.outgoingInvalidArcs == 0:
		total = status.outgoingTotalCount
	case status.incomingInvalidArcs == 0:
		total = status.incomingTotalCount
	default:
		return colorWhite
	}
	g.nodes[ni].count = &total
	return colorGreen
}

// processGreenBlock resolves the single remaining unresolved arc on one
// side of a block whose own count is already known, by subtracting the
// known arcs' total from the block's count.
func (g *Graph) processGreenBlock(src int, dir direction, bs []blockStatus) (dest int, arcCount uint64, ok bool) {
	status := &bs[src]
	ia, tc := status.totals(dir)
	if *ia != 1 {
		return 0, 0, false
	}

	edges := g.outEdges[src]
	if dir == incoming {
		edges = g.inEdges[src]
	}

	edgeID := -1
	for _, ei := range edges {
		if g.edges[ei].count == nil {
			edgeID = ei
			break
		}
	}
	if edgeID < 0 {
		panic("processGreenBlock: expected exactly one arc without a count")
	}

	if dir == outgoing {
		dest = g.edges[edgeID].dest
	} else {
		dest = g.edges[edgeID].src
	}

	blockCount := *g.nodes[src].count
	arcCount = blockCount - *tc
	g.edges[edgeID].count = &arcCount
	*tc = blockCount
	*ia--

	return dest, arcCount, true
}

// processGreenBlockDest folds a newly-resolved arc's count into the other
// endpoint's tally, and reports whether that endpoint is now itself
// resolvable ("green"), fully determined on the opposite side ("red"), or
// neither yet ("white").
func (g *Graph) processGreenBlockDest(dest int, arcCount uint64, dir direction, bs []blockStatus) blockColor {
	status := &bs[dest]
	ia, tc := status.totals(dir.opposite())
	*tc += arcCount
	*ia--

	switch {
	case g.nodes[dest].count != nil && *ia == 1:
		return colorGreen
	case g.nodes[dest].count == nil && *ia == 0:
		return colorRed
	default:
		return colorWhite
	}
}
