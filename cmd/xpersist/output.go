package main

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/lipgloss/v2/table"
	"github.com/dustin/go-humanize"

	"github.com/jonwraymond/xpersist/health"
	"github.com/jonwraymond/xpersist/store"
)

func newTable(headers ...string) *table.Table {
	return table.New().
		BorderBottom(false).
		BorderTop(false).
		BorderLeft(false).
		BorderRight(false).
		Border(lipgloss.HiddenBorder()).
		Headers(headers...).
		BorderHeader(false)
}

func printEntries(w io.Writer, entries []store.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no entries")
		return
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.Fingerprint.Short(),
			e.Name,
			dash(e.Version),
			e.Serializer,
			humanize.IBytes(uint64(e.StoredBytes)),
			humanize.Time(e.CreatedAt),
		})
	}
	t := newTable("FINGERPRINT", "NAME", "VERSION", "SERIALIZER", "STORED", "CREATED").Rows(rows...)
	fmt.Fprintln(w, t)
}

func printEntry(w io.Writer, e store.Entry) {
	fmt.Fprintf(w, "fingerprint  %s\n", e.Fingerprint)
	fmt.Fprintf(w, "name         %s\n", e.Name)
	fmt.Fprintf(w, "version      %s\n", dash(e.Version))
	fmt.Fprintf(w, "serializer   %s\n", e.Serializer)
	fmt.Fprintf(w, "created      %s (%s)\n", e.CreatedAt.Format("2006-01-02 15:04:05 MST"), humanize.Time(e.CreatedAt))
	fmt.Fprintf(w, "size         %s\n", humanize.IBytes(uint64(e.Size)))
	fmt.Fprintf(w, "stored       %s in %d files\n", humanize.IBytes(uint64(e.StoredBytes)), len(e.Files))
	fmt.Fprintf(w, "generation   %s\n", e.Generation)
	for _, k := range slices.Sorted(maps.Keys(e.Attrs)) {
		fmt.Fprintf(w, "attr         %s=%s\n", k, e.Attrs[k])
	}
}

func printReport(w io.Writer, r health.Report) {
	fmt.Fprintf(w, "status: %s\n", r.Status)
	rows := make([][]string, 0, len(r.Checks))
	for _, name := range slices.Sorted(maps.Keys(r.Checks)) {
		c := r.Checks[name]
		msg := c.Message
		if c.Error != "" {
			msg = c.Error
		}
		rows = append(rows, []string{name, c.Status, c.Duration, msg})
	}
	fmt.Fprintln(w, newTable("CHECK", "STATUS", "DURATION", "MESSAGE").Rows(rows...))
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
