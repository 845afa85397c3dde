package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// statusf reports progress on stderr; quiet silences it.
func statusf(quiet bool, format string, args ...any) {
	if quiet {
		return
	}

	fmt.Fprintf(os.Stderr, format, args...)
}

// byteUnits runs largest first so formatSize picks the biggest unit that
// keeps the value at or above one.
var byteUnits = []struct {
	suffix string
	size   int64
}{
	{"TB", 1 << 40},
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
}

// formatSize renders n bytes with one decimal in binary units, e.g. "1.5 MB".
func formatSize(n int64) string {
	for _, u := range byteUnits {
		if n >= u.size {
			return fmt.Sprintf("%.1f %s", float64(n)/float64(u.size), u.suffix)
		}
	}

	return fmt.Sprintf("%d B", n)
}

// formatTime shows the clock for this year's timestamps and the year for
// older ones. The zero time renders as "-".
func formatTime(t time.Time) string {
	layout := "Jan _2  2006"

	switch {
	case t.IsZero():
		return "-"
	case t.Year() == time.Now().Year():
		layout = "Jan _2 15:04"
	}

	return t.Format(layout)
}

// printTable writes headers then rows as left-aligned columns.
func printTable(w io.Writer, headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// shortHash cuts digests to a table-friendly prefix.
func shortHash(h string) string {
	const keep = 12

	if len(h) > keep {
		return h[:keep] + "…"
	}

	return h
}
