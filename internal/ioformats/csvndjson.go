package ioformats

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"sitemap-ingestor/internal/models"
)

// ReadURLs reads URLs from a CSV (expects header with "url") or NDJSON file.
// If ext cannot be determined, tries CSV first then NDJSON.
func ReadURLs(path string) ([]models.SitemapURL, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadCSV(f)
	case ".ndjson", ".jsonl":
		return ReadNDJSON(f)
	default:
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, err
		}
		if urls, err := ReadCSV(strings.NewReader(string(data))); err == nil && len(urls) > 0 {
			return urls, nil
		}
		return ReadNDJSON(strings.NewReader(string(data)))
	}
}

// ReadCSV returns the non-empty values of the "url" column.
func ReadCSV(r io.Reader) ([]models.SitemapURL, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New("empty csv")
	}
	// find "url" column
	col := -1
	for i, h := range rows[0] {
		if strings.EqualFold(strings.TrimSpace(h), "url") {
			col = i
			break
		}
	}
	if col == -1 {
		return nil, errors.New("csv must contain a 'url' header column")
	}
	var out []models.SitemapURL
	for _, row := range rows[1:] {
		if col < len(row) {
			u := strings.TrimSpace(row[col])
			if u != "" {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

// ReadNDJSON accepts one URL per line, either bare or as {"url": "..."}.
func ReadNDJSON(r io.Reader) ([]models.SitemapURL, error) {
	var out []models.SitemapURL
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "{") {
			var obj struct {
				URL string `json:"url"`
			}
			if err := json.Unmarshal([]byte(line), &obj); err == nil && obj.URL != "" {
				out = append(out, obj.URL)
				continue
			}
		}
		// fallback: treat whole line as url
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("no urls found in ndjson")
	}
	return out, nil
}

// WriteNDJSON writes any JSON-marshalable items as NDJSON to w.
func WriteNDJSON[T any](w io.Writer, items []T) error {
	enc := json.NewEncoder(w)
	for _, it := range items {
		if err := enc.Encode(it); err != nil {
			return err
		}
	}
	return nil
}
