package universe

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "universe.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

func TestLoadCSV(t *testing.T) {
	path := writeCSV(t, "ticker,name\naapl,Apple Inc.\nMSFT,Microsoft\naapl,Dup\n")
	items, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2 (duplicate dropped)", len(items))
	}
	if items[0].Symbol != "AAPL" || items[0].Name != "Apple Inc." {
		t.Errorf("first item = %+v", items[0])
	}
	if items[1].Symbol != "MSFT" {
		t.Errorf("second item = %+v", items[1])
	}
}

func TestLoadCSVSymbolHeader(t *testing.T) {
	path := writeCSV(t, "symbol\nAAPL\n")
	items, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(items) != 1 || items[0].Symbol != "AAPL" {
		t.Errorf("items = %+v", items)
	}
}

func TestLoadCSVMissingTickerColumn(t *testing.T) {
	path := writeCSV(t, "name\nApple\n")
	if _, err := LoadCSV(path); err == nil {
		t.Error("expected error for csv without ticker column")
	}
}

func TestFromSymbols(t *testing.T) {
	items := FromSymbols([]string{"aapl", " msft ", "AAPL", ""})
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].Symbol != "AAPL" || items[1].Symbol != "MSFT" {
		t.Errorf("items = %+v", items)
	}
}
