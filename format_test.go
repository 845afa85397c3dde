package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSize(t *testing.T) {
	cases := map[int64]string{
		0:             "0 B",
		1023:          "1023 B",
		1536:          "1.5 KB",
		5 << 20:       "5.0 MB",
		3 << 29:       "1.5 GB",
		1 << 40:       "1.0 TB",
		1<<40 + 1<<39: "1.5 TB",
	}

	for n, want := range cases {
		assert.Equal(t, want, formatSize(n), "formatSize(%d)", n)
	}
}

func TestFormatTime(t *testing.T) {
	thisYear := time.Date(time.Now().Year(), time.March, 15, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, "Mar 15 10:30", formatTime(thisYear))

	older := time.Date(2020, time.December, 5, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, "Dec  5  2020", formatTime(older))

	assert.Equal(t, "-", formatTime(time.Time{}))
}

func TestShortHash(t *testing.T) {
	assert.Empty(t, shortHash(""))
	assert.Equal(t, "0123456789ab", shortHash("0123456789ab"))
	assert.Equal(t, "0123456789ab…", shortHash("0123456789abcdef"))
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, printJSON(&buf, map[string]int{"uploads": 2}))
	assert.Equal(t, "{\n  \"uploads\": 2\n}\n", buf.String())
}

func TestPrintTable_AlignsColumns(t *testing.T) {
	var buf bytes.Buffer

	printTable(&buf, []string{"NAME", "SIZE"}, [][]string{
		{"zelda.srm", "32.0 KB"},
		{"a.sav", "0 B"},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)

	col := strings.Index(lines[0], "SIZE")
	assert.Equal(t, len("zelda.srm")+2, col)
	assert.Equal(t, col, strings.Index(lines[1], "32.0 KB"))
	assert.Equal(t, col, strings.Index(lines[2], "0 B"))
}
