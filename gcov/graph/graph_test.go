package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kennytm/cov/coverr"
	"github.com/kennytm/cov/gcov/raw"
	"github.com/kennytm/cov/intern"
	"github.com/kennytm/cov/logger"
)

func newTestGraph() (*Graph, *intern.Interner) {
	in := intern.New()
	return New(in, logger.NewLogger(100), Options{Strict: true}), in
}

// a two-block function with a single real (non-ON_TREE) arc: the simplest
// possible graph, where every count is known outright and propagation has
// nothing left to infer.
func TestMergeAndAnalyzeSingleRealArc(t *testing.T) {
	g, in := newTestGraph()
	fooC := in.Intern("foo.c")
	fooName := in.Intern("foo")

	gcno := &raw.File{
		Type:     raw.Gcno,
		Version:  raw.Version47,
		Checksum: 111,
		Records: []raw.Record{
			{
				Kind:          raw.RecordFunction,
				FunctionIdent: 1,
				Function: raw.Function{
					LinenoChecksum: 10, CFGChecksum: 20, HasCFGChecksum: true,
					Source:    raw.Source{Name: fooName, Filename: fooC, Line: 5},
					HasSource: true,
				},
			},
			{Kind: raw.RecordBlocks, Blocks: raw.Blocks{Flags: []raw.BlockAttr{0, 0}}},
			{Kind: raw.RecordArcs, Arcs: raw.Arcs{SrcBlock: 0, Arcs: []raw.Arc{{DestBlock: 1, Flags: 0}}}},
			{Kind: raw.RecordLines, Lines: raw.Lines{BlockNumber: 0, Lines: []raw.Line{
				{Filename: fooC, IsFile: true},
				{Number: 5},
			}}},
		},
	}
	require.NoError(t, g.Merge(gcno, "foo.gcno"))

	gcda := &raw.File{
		Type:     raw.Gcda,
		Version:  raw.Version47,
		Checksum: 111,
		Records: []raw.Record{
			{Kind: raw.RecordFunction, FunctionIdent: 1, Function: raw.Function{LinenoChecksum: 10, CFGChecksum: 20, HasCFGChecksum: true}},
			{Kind: raw.RecordArcCounts, ArcCounts: raw.ArcCounts{Counts: []uint64{5}}},
		},
	}
	require.NoError(t, g.Merge(gcda, "foo.gcda"))

	require.NoError(t, g.Analyze())

	require.Len(t, g.functions, 1)
	fn := &g.functions[0]
	require.Equal(t, uint64(5), *g.nodes[fn.entryBlock()].count)
	require.Equal(t, uint64(5), *g.nodes[fn.exitBlock(g.version)].count)

	rep := g.Report()
	file := rep.Files[fooC]
	require.NotNil(t, file)
	require.Len(t, file.Functions, 1)
	summary := file.Functions[0].Summary
	assert.Equal(t, 2, summary.BlocksCount)
	assert.Equal(t, 2, summary.BlocksExecuted)
	assert.Equal(t, uint64(5), summary.EntryCount)
	assert.Equal(t, uint64(5), summary.ExitCount)
	assert.Equal(t, 0, summary.BranchesCount, "the function's only arc is unconditional and shouldn't count as a branch")

	line := file.Lines[5]
	require.NotNil(t, line)
	assert.Equal(t, uint64(5), line.Count)
}

// a three-block function where one arc is an unresolved ON_TREE arc: its
// count must be inferred from flow conservation rather than read directly
// from a GCDA record.
func TestPropagateCountsInfersTreeArc(t *testing.T) {
	g, _ := newTestGraph()

	gcno := &raw.File{
		Type:     raw.Gcno,
		Version:  raw.Version47,
		Checksum: 222,
		Records: []raw.Record{
			{Kind: raw.RecordFunction, FunctionIdent: 1, Function: raw.Function{LinenoChecksum: 1, CFGChecksum: 2, HasCFGChecksum: true}},
			{Kind: raw.RecordBlocks, Blocks: raw.Blocks{Flags: []raw.BlockAttr{0, 0, 0}}},
			{Kind: raw.RecordArcs, Arcs: raw.Arcs{SrcBlock: 0, Arcs: []raw.Arc{
				{DestBlock: 2, Flags: 0},
				{DestBlock: 1, Flags: 0},
			}}},
			{Kind: raw.RecordArcs, Arcs: raw.Arcs{SrcBlock: 2, Arcs: []raw.Arc{
				{DestBlock: 1, Flags: raw.ArcAttrOnTree},
			}}},
		},
	}
	require.NoError(t, g.Merge(gcno, ""))

	gcda := &raw.File{
		Type:     raw.Gcda,
		Version:  raw.Version47,
		Checksum: 222,
		Records: []raw.Record{
			{Kind: raw.RecordFunction, FunctionIdent: 1, Function: raw.Function{LinenoChecksum: 1, CFGChecksum: 2, HasCFGChecksum: true}},
			// two real arcs were recorded, in the order they were added to
			// function.arcs: block0->block2 then block0->block1.
			{Kind: raw.RecordArcCounts, ArcCounts: raw.ArcCounts{Counts: []uint64{4, 3}}},
		},
	}
	require.NoError(t, g.Merge(gcda, ""))
	require.NoError(t, g.Analyze())

	fn := &g.functions[0]
	entry, exit, mid := fn.nodes[0], fn.nodes[1], fn.nodes[2]

	require.NotNil(t, g.nodes[entry].count)
	require.NotNil(t, g.nodes[exit].count)
	require.NotNil(t, g.nodes[mid].count)
	assert.Equal(t, uint64(7), *g.nodes[entry].count)
	assert.Equal(t, uint64(4), *g.nodes[mid].count)
	assert.Equal(t, uint64(7), *g.nodes[exit].count)

	treeArc := g.outEdges[mid][0]
	require.NotNil(t, g.edges[treeArc].count)
	assert.Equal(t, uint64(4), *g.edges[treeArc].count)
}

// the same function body appearing twice across two GCNO merges (as
// happens when a header-defined inline function is linked into more than
// one translation unit) must be recognized as one function, not two.
func TestMergeGCNODeduplicatesIdenticalFunctionBodies(t *testing.T) {
	g, _ := newTestGraph()

	makeGcno := func(checksum uint32, ident raw.Ident) *raw.File {
		return &raw.File{
			Type:     raw.Gcno,
			Version:  raw.Version47,
			Checksum: checksum,
			Records: []raw.Record{
				{Kind: raw.RecordFunction, FunctionIdent: ident, Function: raw.Function{LinenoChecksum: 9, CFGChecksum: 9, HasCFGChecksum: true}},
				{Kind: raw.RecordBlocks, Blocks: raw.Blocks{Flags: []raw.BlockAttr{0, 0}}},
				{Kind: raw.RecordArcs, Arcs: raw.Arcs{SrcBlock: 0, Arcs: []raw.Arc{{DestBlock: 1, Flags: 0}}}},
			},
		}
	}

	require.NoError(t, g.Merge(makeGcno(1, 5), ""))
	require.NoError(t, g.Merge(makeGcno(2, 9), ""))

	assert.Len(t, g.functions, 1, "identical structural identity should be deduplicated across GCNO objects")
	assert.Len(t, g.gcdaIndex, 2, "each GCNO object's own ident must still resolve a GCDA lookup")
}

func TestMergeGCDAUnresolvedFunctionIsReported(t *testing.T) {
	g, _ := newTestGraph()

	gcda := &raw.File{
		Type:     raw.Gcda,
		Version:  raw.Version47,
		Checksum: 1,
		Records: []raw.Record{
			{Kind: raw.RecordFunction, FunctionIdent: 42, Function: raw.Function{LinenoChecksum: 1, CFGChecksum: 1, HasCFGChecksum: true}},
		},
	}

	err := g.Merge(gcda, "orphan.gcda")
	require.Error(t, err)
	assert.True(t, coverr.Is(err, coverr.UnresolvedFunction))
	assert.Contains(t, err.Error(), "orphan.gcda")
}

func TestVersionMismatchIsRejected(t *testing.T) {
	g, _ := newTestGraph()
	require.NoError(t, g.Merge(&raw.File{Type: raw.Gcno, Version: raw.Version47, Checksum: 1}, ""))

	err := g.Merge(&raw.File{Type: raw.Gcno, Version: raw.Version(0x3430362a), Checksum: 2}, "")
	require.Error(t, err)
	assert.True(t, coverr.Is(err, coverr.VersionMismatch))
}
