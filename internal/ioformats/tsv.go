package ioformats

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"sitemap-ingestor/internal/models"
)

const (
	EmbeddingsFile = "embeddings.tsv"
	MetadataFile   = "metadata.tsv"
)

// WriteEmbeddingsTSV writes one tab-separated vector per entry.
func WriteEmbeddingsTSV(w io.Writer, entries []models.StoreEntry) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		for i, x := range e.Embedding {
			if i > 0 {
				_ = bw.WriteByte('\t')
			}
			_, _ = bw.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 32))
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteMetadataTSV writes a header of id, document and the first entry's metadata keys
// (sorted), then one row per entry. Keys an entry lacks are left empty.
func WriteMetadataTSV(w io.Writer, entries []models.StoreEntry) error {
	if len(entries) == 0 {
		return nil
	}
	keys := make([]string, 0, len(entries[0].Metadata))
	for k := range entries[0].Metadata {
		if k == "id" || k == "document" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(append([]string{"id", "document"}, keys...)); err != nil {
		return err
	}
	for _, e := range entries {
		row := make([]string, 0, len(keys)+2)
		row = append(row, e.ID, e.Document)
		for _, k := range keys {
			row = append(row, e.Metadata[k])
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Export writes embeddings.tsv and metadata.tsv into dir, replacing existing files.
func Export(dir string, entries []models.StoreEntry) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(dir, EmbeddingsFile), entries, WriteEmbeddingsTSV); err != nil {
		return err
	}
	return writeFile(filepath.Join(dir, MetadataFile), entries, WriteMetadataTSV)
}

func writeFile(path string, entries []models.StoreEntry, fn func(io.Writer, []models.StoreEntry) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f, entries); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
