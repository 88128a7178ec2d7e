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

// Package reader parses the binary GCNO/GCDA record stream into the raw
// package's tagged-union Record type.
//
// Running out of input is not, by itself, a hard error anywhere in this
// reader: a record-length field bounds every record to an exact byte
// range, and each record's body is parsed by reading fields until that
// range is exhausted. A file that happens to truncate cleanly on a record
// or field boundary, and one that truncates mid-field, are indistinguishable
// to the underlying io.Reader and are both treated as "nothing more to
// read" rather than as MalformedRecord — matching the upstream gcov reader
// this package is ported from, which folds every flavour of short read into
// a single is-EOF test.
package reader

import (
	"encoding/binary"
	"io"
	"math/bits"
	"unicode/utf8"

	"github.com/kennytm/cov/coverr"
	"github.com/kennytm/cov/gcov/raw"
	"github.com/kennytm/cov/intern"
)

// Reader parses a single GCNO/GCDA stream.
type Reader struct {
	r         io.Reader
	cursor    int64
	typ       raw.Type
	version   raw.Version
	checksum  uint32
	bigEndian bool
	interner  *intern.Interner
}

const (
	magicGcnoLE uint32 = 0x67636e6f
	magicGcnoBE uint32 = 0x6f6e6367
	magicGcdaLE uint32 = 0x67636461
	magicGcdaBE uint32 = 0x61646367
)

// New reads and validates the 12-byte header (magic, version, stamp) and
// returns a Reader positioned at the first record.
func New(r io.Reader, interner *intern.Interner) (*Reader, error) {
	var magicBuf [4]byte
	if _, err := io.ReadFull(r, magicBuf[:]); err != nil {
		return nil, coverr.Wrap(coverr.BadMagic, err, "reading gcov magic")
	}
	magic := binary.LittleEndian.Uint32(magicBuf[:])

	var typ raw.Type
	var bigEndian bool
	switch magic {
	case magicGcnoLE:
		typ, bigEndian = raw.Gcno, false
	case magicGcnoBE:
		typ, bigEndian = raw.Gcno, true
	case magicGcdaLE:
		typ, bigEndian = raw.Gcda, false
	case magicGcdaBE:
		typ, bigEndian = raw.Gcda, true
	default:
		return nil, coverr.Errorf(coverr.BadMagic, "unknown file type, magic 0x%08x not recognized", magic)
	}

	rd := &Reader{
		r:         r,
		cursor:    4,
		typ:       typ,
		bigEndian: bigEndian,
		interner:  interner,
	}

	rawVersion, err := rd.read32()
	if err != nil {
		return nil, err
	}
	version, err := raw.NewVersion(rawVersion)
	if err != nil {
		return nil, coverr.AtCursor(err, rd.cursor-4)
	}
	rd.version = version

	checksum, err := rd.read32()
	if err != nil {
		return nil, err
	}
	rd.checksum = checksum

	return rd, nil
}

// Type returns the detected file type.
func (rd *Reader) Type() raw.Type { return rd.typ }

// Version returns the validated file version.
func (rd *Reader) Version() raw.Version { return rd.version }

// isEOF reports whether err signals "ran out of input", which every loop in
// this package treats as a clean stop rather than a failure.
func isEOF(err error) bool {
	return err == io.EOF || err == io.ErrUnexpectedEOF
}

func (rd *Reader) ioErr(err error) error {
	if err == nil {
		return nil
	}
	if isEOF(err) {
		return err
	}
	return coverr.AtCursor(coverr.Wrap(coverr.Io, err, "i/o error"), rd.cursor)
}

func (rd *Reader) read32() (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(rd.r, buf[:]); err != nil {
		return 0, rd.ioErr(err)
	}
	rd.cursor += 4
	value := binary.LittleEndian.Uint32(buf[:])
	if rd.bigEndian {
		value = bits.ReverseBytes32(value)
	}
	return value, nil
}

func (rd *Reader) read64() (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(rd.r, buf[:]); err != nil {
		return 0, rd.ioErr(err)
	}
	rd.cursor += 8
	value := binary.LittleEndian.Uint64(buf[:])
	if rd.bigEndian {
		// GCC encodes 64-bit counters as two little-endian 32-bit halves;
		// on a big-endian target it additionally byte-swaps each half, so
		// recovering the value needs both a word-swap and a byte-swap.
		value = bits.ReverseBytes64(bits.RotateLeft64(value, 32))
	}
	return value, nil
}

func (rd *Reader) readHistogramBitvector() ([8]uint32, error) {
	var decoded [8]uint32
	var buf [32]byte
	if _, err := io.ReadFull(rd.r, buf[:]); err != nil {
		return decoded, rd.ioErr(err)
	}
	rd.cursor += 32
	for i := range decoded {
		if rd.bigEndian {
			decoded[i] = binary.BigEndian.Uint32(buf[i*4:])
		} else {
			decoded[i] = binary.LittleEndian.Uint32(buf[i*4:])
		}
	}
	return decoded, nil
}

// readString reads a length-prefixed, NUL-padded string and interns it.
func (rd *Reader) readString() (intern.Handle, error) {
	words, err := rd.read32()
	if err != nil {
		return intern.Unknown, err
	}
	length := int64(words) * 4
	cursor := rd.cursor

	buf, err := io.ReadAll(io.LimitReader(rd.r, length))
	if err != nil {
		return intern.Unknown, rd.ioErr(err)
	}
	rd.cursor += int64(len(buf))

	actual := 0
	for i := len(buf) - 1; i >= 0; i-- {
		if buf[i] != 0 {
			actual = i + 1
			break
		}
	}
	buf = buf[:actual]

	if !utf8.Valid(buf) {
		return intern.Unknown, coverr.AtCursor(coverr.Errorf(coverr.Utf8, "string is not valid utf-8"), cursor)
	}
	return rd.interner.Intern(string(buf)), nil
}

func (rd *Reader) consumeToEnd(limit io.Reader) {
	_, _ = io.Copy(io.Discard, limit)
}

// subreader returns a Reader bounded to length bytes, sharing this
// Reader's endianness, type, version and interner, along with the limited
// io.Reader it reads from (so the caller can drain leftover bytes once it
// has parsed the fields it understands).
func (rd *Reader) subreader(length int64) (*Reader, *io.LimitedReader) {
	lr := &io.LimitedReader{R: rd.r, N: length}
	return &Reader{
		r:         lr,
		cursor:    rd.cursor,
		typ:       rd.typ,
		version:   rd.version,
		checksum:  rd.checksum,
		bigEndian: rd.bigEndian,
		interner:  rd.interner,
	}, lr
}

func (rd *Reader) readRecordHeader() (raw.Tag, *Reader, *io.LimitedReader, error) {
	rawTag, err := rd.read32()
	if err != nil {
		return 0, nil, nil, err
	}
	words, err := rd.read32()
	if err != nil {
		return 0, nil, nil, err
	}
	length := int64(words) * 4
	sub, lr := rd.subreader(length)
	rd.cursor += length
	return raw.Tag(rawTag), sub, lr, nil
}

// Parse reads every record in the stream and assembles a raw.File. It stops
// cleanly (without error) the moment the stream runs out of bytes, per this
// package's doc comment.
func (rd *Reader) Parse() (*raw.File, error) {
	var records []raw.Record
	for {
		tag, sub, lr, err := rd.readRecordHeader()
		if err != nil {
			if isEOF(err) {
				break
			}
			return nil, err
		}
		if tag == raw.EOFTag {
			break
		}

		rec, err := sub.parseRecord(tag)
		if err != nil {
			if isEOF(err) {
				break
			}
			return nil, err
		}
		sub.consumeToEnd(lr)
		records = append(records, rec)
	}

	return &raw.File{
		Type:     rd.typ,
		Version:  rd.version,
		Checksum: rd.checksum,
		Records:  records,
	}, nil
}

func (sub *Reader) parseRecord(tag raw.Tag) (raw.Record, error) {
	switch tag {
	case raw.FunctionTag:
		ident, fn, err := sub.parseFunction()
		if err != nil {
			return raw.Record{}, err
		}
		return raw.Record{Kind: raw.RecordFunction, FunctionIdent: ident, Function: fn}, nil
	case raw.BlocksTag:
		b, err := sub.parseBlocks()
		if err != nil {
			return raw.Record{}, err
		}
		return raw.Record{Kind: raw.RecordBlocks, Blocks: b}, nil
	case raw.ArcsTag:
		a, err := sub.parseArcs()
		if err != nil {
			return raw.Record{}, err
		}
		return raw.Record{Kind: raw.RecordArcs, Arcs: a}, nil
	case raw.LinesTag:
		l, err := sub.parseLines()
		if err != nil {
			return raw.Record{}, err
		}
		return raw.Record{Kind: raw.RecordLines, Lines: l}, nil
	case raw.ArcCountsTag:
		c, err := sub.parseArcCounts()
		if err != nil {
			return raw.Record{}, err
		}
		return raw.Record{Kind: raw.RecordArcCounts, ArcCounts: c}, nil
	case raw.ObjectSummaryTag, raw.ProgramSummaryTag:
		s, err := sub.parseSummary()
		if err != nil {
			return raw.Record{}, err
		}
		return raw.Record{Kind: raw.RecordSummary, Summary: s}, nil
	default:
		return raw.Record{}, coverr.AtCursor(coverr.Errorf(coverr.UnknownTag, "unknown record, tag 0x%08x not recognized", uint32(tag)), sub.cursor)
	}
}

func (sub *Reader) parseFunction() (raw.Ident, raw.Function, error) {
	rawIdent, err := sub.read32()
	if err != nil {
		return 0, raw.Function{}, err
	}
	linenoChecksum, err := sub.read32()
	if err != nil {
		return 0, raw.Function{}, err
	}

	var cfgChecksum uint32
	hasCFGChecksum := sub.version.AtLeast47()
	if hasCFGChecksum {
		cfgChecksum, err = sub.read32()
		if err != nil {
			return 0, raw.Function{}, err
		}
	}

	var source raw.Source
	hasSource := false
	switch {
	case sub.typ == raw.Gcno:
		source, err = sub.readSource()
		if err != nil {
			return 0, raw.Function{}, err
		}
		hasSource = true
	case !sub.version.AtLeast47():
		name, err := sub.readString()
		if err != nil {
			return 0, raw.Function{}, err
		}
		source = raw.Source{Name: name, Filename: intern.Unknown, Line: 0}
		hasSource = true
	}

	return raw.Ident(rawIdent), raw.Function{
		LinenoChecksum: linenoChecksum,
		CFGChecksum:    cfgChecksum,
		HasCFGChecksum: hasCFGChecksum,
		Source:         source,
		HasSource:      hasSource,
	}, nil
}

func (sub *Reader) readSource() (raw.Source, error) {
	name, err := sub.readString()
	if err != nil {
		return raw.Source{}, err
	}
	filename, err := sub.readString()
	if err != nil {
		return raw.Source{}, err
	}
	line, err := sub.read32()
	if err != nil {
		return raw.Source{}, err
	}
	return raw.Source{Name: name, Filename: filename, Line: line}, nil
}

func (sub *Reader) parseBlocks() (raw.Blocks, error) {
	var flags []raw.BlockAttr
	for {
		rawFlag, err := sub.read32()
		if err != nil {
			if isEOF(err) {
				break
			}
			return raw.Blocks{}, err
		}
		flag, err := raw.BlockAttrFromGCNO(rawFlag)
		if err != nil {
			return raw.Blocks{}, coverr.AtCursor(err, sub.cursor-4)
		}
		flags = append(flags, flag)
	}
	return raw.Blocks{Flags: flags}, nil
}

func (sub *Reader) parseArcs() (raw.Arcs, error) {
	srcBlock, err := sub.read32()
	if err != nil {
		return raw.Arcs{}, err
	}

	var arcs []raw.Arc
	for {
		destBlock, err := sub.read32()
		if err != nil {
			if isEOF(err) {
				break
			}
			return raw.Arcs{}, err
		}
		rawFlags, err := sub.read32()
		if err != nil {
			if isEOF(err) {
				break
			}
			return raw.Arcs{}, err
		}
		flags, err := raw.ArcAttrFromGCNO(rawFlags)
		if err != nil {
			return raw.Arcs{}, coverr.AtCursor(err, sub.cursor-4)
		}
		arcs = append(arcs, raw.Arc{DestBlock: raw.BlockIndex(destBlock), Flags: flags})
	}

	return raw.Arcs{SrcBlock: raw.BlockIndex(srcBlock), Arcs: arcs}, nil
}

func (sub *Reader) parseLines() (raw.Lines, error) {
	blockNumber, err := sub.read32()
	if err != nil {
		return raw.Lines{}, err
	}

	var lines []raw.Line
	for {
		lineNo, err := sub.read32()
		if err != nil {
			if isEOF(err) {
				break
			}
			return raw.Lines{}, err
		}
		if lineNo != 0 {
			lines = append(lines, raw.Line{Number: lineNo})
			continue
		}
		filename, err := sub.readString()
		if err != nil {
			if isEOF(err) {
				break
			}
			return raw.Lines{}, err
		}
		lines = append(lines, raw.Line{Filename: filename, IsFile: true})
	}

	// the last entry is always a trailing null-filename marker that carries
	// no information once the block's line list ends.
	if n := len(lines); n > 0 {
		lines = lines[:n-1]
	}

	return raw.Lines{BlockNumber: raw.BlockIndex(blockNumber), Lines: lines}, nil
}

func (sub *Reader) parseArcCounts() (raw.ArcCounts, error) {
	var counts []uint64
	for {
		c, err := sub.read64()
		if err != nil {
			if isEOF(err) {
				break
			}
			return raw.ArcCounts{}, err
		}
		counts = append(counts, c)
	}
	return raw.ArcCounts{Counts: counts}, nil
}

func (sub *Reader) parseSummary() (raw.Summary, error) {
	checksum, err := sub.read32()
	if err != nil {
		return raw.Summary{}, err
	}
	num, err := sub.read32()
	if err != nil {
		return raw.Summary{}, err
	}
	runs, err := sub.read32()
	if err != nil {
		return raw.Summary{}, err
	}
	sum, err := sub.read64()
	if err != nil {
		return raw.Summary{}, err
	}
	max, err := sub.read64()
	if err != nil {
		return raw.Summary{}, err
	}
	sumMax, err := sub.read64()
	if err != nil {
		return raw.Summary{}, err
	}

	var histogram *raw.Histogram
	bitvector, err := sub.readHistogramBitvector()
	if err != nil {
		if !isEOF(err) {
			return raw.Summary{}, err
		}
	} else {
		set := make([]uint32, 0, 32)
		for wordIdx, word := range bitvector {
			for bit := 0; bit < 32; bit++ {
				if word&(1<<uint(bit)) != 0 {
					set = append(set, uint32(wordIdx*32+bit))
				}
			}
		}

		buckets := make(map[uint32]raw.HistogramBucket)
		next := 0
		for {
			index := uint32(256)
			if next < len(set) {
				index = set[next]
			}
			next++

			bnum, err := sub.read32()
			if err != nil {
				if isEOF(err) {
					break
				}
				return raw.Summary{}, err
			}
			bmin, err := sub.read64()
			if err != nil {
				if isEOF(err) {
					break
				}
				return raw.Summary{}, err
			}
			bsum, err := sub.read64()
			if err != nil {
				if isEOF(err) {
					break
				}
				return raw.Summary{}, err
			}
			buckets[index] = raw.HistogramBucket{Num: bnum, Min: bmin, Sum: bsum}
		}
		histogram = &raw.Histogram{Buckets: buckets}
	}

	return raw.Summary{
		Checksum:  checksum,
		Num:       num,
		Runs:      runs,
		Sum:       sum,
		Max:       max,
		SumMax:    sumMax,
		Histogram: histogram,
	}, nil
}
