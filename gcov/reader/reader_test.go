package reader_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kennytm/cov/coverr"
	"github.com/kennytm/cov/gcov/raw"
	"github.com/kennytm/cov/gcov/reader"
	"github.com/kennytm/cov/intern"
)

const (
	magicGcnoLE uint32 = 0x67636e6f
	magicGcnoBE uint32 = 0x6f6e6367
)

func u32le(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func u32be(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func header(version, checksum uint32) *bytes.Buffer {
	buf := new(bytes.Buffer)
	u32le(buf, magicGcnoLE)
	u32le(buf, version)
	u32le(buf, checksum)
	return buf
}

func TestNewRejectsUnknownMagic(t *testing.T) {
	buf := new(bytes.Buffer)
	u32le(buf, 0xdeadbeef)
	_, err := reader.New(buf, intern.New())
	require.Error(t, err)
	assert.True(t, coverr.Is(err, coverr.BadMagic))
}

func TestNewParsesLittleEndianHeader(t *testing.T) {
	buf := header(uint32(raw.Version47), 0x12345678)
	rd, err := reader.New(buf, intern.New())
	require.NoError(t, err)
	assert.Equal(t, raw.Gcno, rd.Type())
	assert.Equal(t, raw.Version47, rd.Version())
}

func TestNewDetectsBigEndianHeader(t *testing.T) {
	buf := new(bytes.Buffer)
	u32le(buf, magicGcnoBE)
	u32be(buf, uint32(raw.Version47))
	u32be(buf, 0x12345678)

	rd, err := reader.New(buf, intern.New())
	require.NoError(t, err)
	assert.Equal(t, raw.Gcno, rd.Type())
	assert.Equal(t, raw.Version47, rd.Version())
}

func TestNewRejectsUnsupportedVersion(t *testing.T) {
	buf := header(0xffffffff, 0)
	_, err := reader.New(buf, intern.New())
	require.Error(t, err)
	assert.True(t, coverr.Is(err, coverr.UnsupportedVersion))
}

func TestParseStopsCleanlyWhenNoRecordsFollowHeader(t *testing.T) {
	buf := header(uint32(raw.Version47), 1)
	rd, err := reader.New(buf, intern.New())
	require.NoError(t, err)

	file, err := rd.Parse()
	require.NoError(t, err)
	assert.Empty(t, file.Records)
}

func TestParseStopsCleanlyOnEOFTag(t *testing.T) {
	buf := header(uint32(raw.Version47), 1)
	u32le(buf, uint32(raw.EOFTag))
	u32le(buf, 0)

	rd, err := reader.New(buf, intern.New())
	require.NoError(t, err)

	file, err := rd.Parse()
	require.NoError(t, err)
	assert.Empty(t, file.Records)
}

// a record whose length field promises more bytes than the stream actually
// has left must stop parsing cleanly, not report a malformed record: this is
// the EOF/truncation conflation the package is documented to implement.
func TestParseToleratesMidRecordTruncation(t *testing.T) {
	buf := header(uint32(raw.Version47), 1)
	u32le(buf, uint32(raw.FunctionTag))
	u32le(buf, 6) // promises 6 words (24 bytes)...
	u32le(buf, 1) // ident
	u32le(buf, 2) // lineno_checksum
	// ...but the stream ends here, 4 words short.

	rd, err := reader.New(buf, intern.New())
	require.NoError(t, err)

	file, err := rd.Parse()
	require.NoError(t, err)
	assert.Empty(t, file.Records)
}

func TestParseFullFunctionBlocksArcsLinesRoundTrip(t *testing.T) {
	buf := header(uint32(raw.Version47), 1)

	// FUNCTION: ident, lineno_checksum, cfg_checksum, empty name, empty
	// filename, line number.
	u32le(buf, uint32(raw.FunctionTag))
	u32le(buf, 6)
	u32le(buf, 7)  // ident
	u32le(buf, 10) // lineno_checksum
	u32le(buf, 20) // cfg_checksum
	u32le(buf, 0)  // name: 0 words
	u32le(buf, 0)  // filename: 0 words
	u32le(buf, 5)  // line

	// BLOCKS: two plain blocks.
	u32le(buf, uint32(raw.BlocksTag))
	u32le(buf, 2)
	u32le(buf, 0)
	u32le(buf, 0)

	// ARCS: block 0 -> block 1, plain arc.
	u32le(buf, uint32(raw.ArcsTag))
	u32le(buf, 3)
	u32le(buf, 0) // src block
	u32le(buf, 1) // dest block
	u32le(buf, 0) // flags

	// LINES: block 0 maps to line 5, followed by the mandatory trailing
	// null-filename marker.
	u32le(buf, uint32(raw.LinesTag))
	u32le(buf, 4)
	u32le(buf, 0) // block number
	u32le(buf, 5) // line number
	u32le(buf, 0) // trailing marker: line 0...
	u32le(buf, 0) // ...then an empty filename

	u32le(buf, uint32(raw.EOFTag))
	u32le(buf, 0)

	in := intern.New()
	rd, err := reader.New(buf, in)
	require.NoError(t, err)

	file, err := rd.Parse()
	require.NoError(t, err)
	require.Len(t, file.Records, 4)

	fnRec := file.Records[0]
	require.Equal(t, raw.RecordFunction, fnRec.Kind)
	assert.Equal(t, raw.Ident(7), fnRec.FunctionIdent)
	assert.Equal(t, uint32(10), fnRec.Function.LinenoChecksum)
	assert.Equal(t, uint32(20), fnRec.Function.CFGChecksum)
	assert.True(t, fnRec.Function.HasSource)
	assert.Equal(t, uint32(5), fnRec.Function.Source.Line)

	blocksRec := file.Records[1]
	require.Equal(t, raw.RecordBlocks, blocksRec.Kind)
	assert.Len(t, blocksRec.Blocks.Flags, 2)

	arcsRec := file.Records[2]
	require.Equal(t, raw.RecordArcs, arcsRec.Kind)
	require.Len(t, arcsRec.Arcs.Arcs, 1)
	assert.Equal(t, raw.BlockIndex(1), arcsRec.Arcs.Arcs[0].DestBlock)

	linesRec := file.Records[3]
	require.Equal(t, raw.RecordLines, linesRec.Kind)
	require.Len(t, linesRec.Lines.Lines, 1, "the trailing null-filename marker must be stripped")
	assert.Equal(t, uint32(5), linesRec.Lines.Lines[0].Number)
}
