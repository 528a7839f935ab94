// seedmap builds the initial symbol map from an exchange's official
// name/symbol reference listing (e.g. NSE EQUITY_L.csv). One-shot utility;
// the resolver grows the map from there.
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var nameSuffixes = []string{" LIMITED", " LTD", ", LTD", ", LIMITED"}

func main() {
	var (
		csvPath   = flag.String("csv", "EQUITY_L.csv", "exchange reference listing")
		outPath   = flag.String("out", "data/symbol_map.json", "symbol map to write")
		nameCol   = flag.String("name-col", "NAME OF COMPANY", "company name column header")
		symbolCol = flag.String("symbol-col", "SYMBOL", "trading symbol column header")
	)
	flag.Parse()

	entries, err := buildMap(*csvPath, *nameCol, *symbolCol)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seedmap: %v\n", err)
		os.Exit(1)
	}
	if err := writeMap(*outPath, entries); err != nil {
		fmt.Fprintf(os.Stderr, "seedmap: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %d entries to %s\n", len(entries), *outPath)
}

func buildMap(csvPath, nameCol, symbolCol string) (map[string]string, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	nameIdx, symbolIdx := -1, -1
	for i, h := range header {
		switch strings.ToUpper(strings.TrimSpace(h)) {
		case strings.ToUpper(nameCol):
			nameIdx = i
		case strings.ToUpper(symbolCol):
			symbolIdx = i
		}
	}
	if nameIdx < 0 || symbolIdx < 0 {
		return nil, fmt.Errorf("columns %q and %q not found in header %v", nameCol, symbolCol, header)
	}

	entries := map[string]string{}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if nameIdx >= len(rec) || symbolIdx >= len(rec) {
			continue
		}
		name := normalizeName(rec[nameIdx])
		symbol := strings.ToUpper(strings.TrimSpace(rec[symbolIdx]))
		if name == "" || symbol == "" {
			continue
		}
		entries[name] = symbol
	}
	return entries, nil
}

// normalizeName upper-cases, trims, and strips corporate suffixes so alert
// phrasing like "Reliance Industries" matches "RELIANCE INDUSTRIES LIMITED".
func normalizeName(raw string) string {
	name := strings.ToUpper(strings.TrimSpace(raw))
	for _, suffix := range nameSuffixes {
		if strings.HasSuffix(name, suffix) {
			name = strings.TrimSpace(strings.TrimSuffix(name, suffix))
			break
		}
	}
	return name
}

func writeMap(path string, entries map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}
