// Package universe loads the symbol list the scan loop iterates.
package universe

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// Item is one scannable symbol.
type Item struct {
	Symbol string
	Name   string
}

// LoadCSV reads a universe file with a required "ticker" column and an
// optional "name" column. Duplicate tickers are dropped, order preserved.
func LoadCSV(path string) ([]Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open universe file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse universe csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("universe file %s is empty", path)
	}

	header := records[0]
	tickerCol, nameCol := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "ticker", "symbol":
			tickerCol = i
		case "name":
			nameCol = i
		}
	}
	if tickerCol < 0 {
		return nil, fmt.Errorf("universe file %s has no ticker column", path)
	}

	seen := make(map[string]bool)
	var items []Item
	for _, rec := range records[1:] {
		if tickerCol >= len(rec) {
			continue
		}
		sym := strings.ToUpper(strings.TrimSpace(rec[tickerCol]))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		item := Item{Symbol: sym}
		if nameCol >= 0 && nameCol < len(rec) {
			item.Name = strings.TrimSpace(rec[nameCol])
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("universe file %s has no symbols", path)
	}
	return items, nil
}

// FromSymbols wraps an inline symbol list from config.
func FromSymbols(symbols []string) []Item {
	seen := make(map[string]bool)
	var items []Item
	for _, s := range symbols {
		sym := strings.ToUpper(strings.TrimSpace(s))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		items = append(items, Item{Symbol: sym})
	}
	return items
}
