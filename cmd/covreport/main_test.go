package main

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kennytm/cov/gcov/report"
	"github.com/kennytm/cov/intern"
)

func TestStringListAccumulatesRepeatedFlags(t *testing.T) {
	var s stringList
	require.NoError(t, s.Set("a.gcno"))
	require.NoError(t, s.Set("b.gcno"))
	assert.Equal(t, stringList{"a.gcno", "b.gcno"}, s)
	assert.Equal(t, "a.gcno,b.gcno", s.String())
	assert.Equal(t, "string", s.Type())
}

func TestPrintReportOrdersFilesNaturally(t *testing.T) {
	in := intern.New()
	rep := report.New()

	for _, name := range []string{"b10.c", "a.c", "b2.c"} {
		f := rep.File(in.Intern(name))
		f.Lines = map[uint32]*report.Line{1: {Count: 1}}
	}

	r, w, err := os.Pipe()
	require.NoError(t, err)
	old := os.Stdout
	os.Stdout = w
	printReport(rep, in)
	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, err = io.Copy(&buf, r)
	require.NoError(t, err)

	out := buf.String()
	firstA := strings.Index(out, "a.c:")
	firstB2 := strings.Index(out, "b2.c:")
	firstB10 := strings.Index(out, "b10.c:")
	require.True(t, firstA >= 0 && firstB2 >= 0 && firstB10 >= 0)
	assert.True(t, firstA < firstB2 && firstB2 < firstB10, "files must be printed in natural order, not byte order")
}
