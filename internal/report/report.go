// Package report summarizes the recorded alert history for the -report
// CLI mode.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"StockSentry/internal/state"
)

// AlertSource supplies recorded alerts, newest first.
type AlertSource interface {
	AlertsSince(cutoff time.Time) ([]state.AlertRecord, error)
}

// Summary aggregates the alert history over one window.
type Summary struct {
	Window      time.Duration
	Total       int
	BySetup     map[string]int
	ByDirection map[string]int
	BySymbol    map[string]int
	Latest      []state.AlertRecord
}

// Build aggregates all alerts recorded in the last window.
func Build(src AlertSource, window time.Duration, now time.Time) (*Summary, error) {
	records, err := src.AlertsSince(now.Add(-window))
	if err != nil {
		return nil, fmt.Errorf("load alert history: %w", err)
	}
	s := &Summary{
		Window:      window,
		Total:       len(records),
		BySetup:     make(map[string]int),
		ByDirection: make(map[string]int),
		BySymbol:    make(map[string]int),
	}
	for _, r := range records {
		s.BySetup[r.Setup]++
		s.ByDirection[string(r.Direction)]++
		s.BySymbol[r.Symbol]++
	}
	if len(records) > 10 {
		s.Latest = records[:10]
	} else {
		s.Latest = records
	}
	return s, nil
}

// Render formats the summary for terminal output.
func (s *Summary) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Alert report, last %s: %d alerts\n", s.Window, s.Total)
	if s.Total == 0 {
		return b.String()
	}
	b.WriteString("\nBy setup:\n")
	writeCounts(&b, s.BySetup)
	b.WriteString("\nBy direction:\n")
	writeCounts(&b, s.ByDirection)
	b.WriteString("\nBy symbol:\n")
	writeCounts(&b, s.BySymbol)
	b.WriteString("\nMost recent:\n")
	for _, r := range s.Latest {
		fmt.Fprintf(&b, "  %s  %-6s %-5s %-16s score=%-5.1f $%.2f\n",
			r.CreatedAt.Format("2006-01-02 15:04"), r.Symbol, r.Direction, r.Setup, r.Score, r.Price)
	}
	return b.String()
}

// writeCounts prints map entries sorted by count descending, name ascending.
func writeCounts(b *strings.Builder, counts map[string]int) {
	type entry struct {
		name  string
		count int
	}
	entries := make([]entry, 0, len(counts))
	for name, n := range counts {
		entries = append(entries, entry{name, n})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].name < entries[j].name
	})
	for _, e := range entries {
		fmt.Fprintf(b, "  %-20s %d\n", e.name, e.count)
	}
}
