// Package sitemap extracts page URLs from sitemaps.org 0.9 urlset documents.
package sitemap

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"

	"sitemap-ingestor/internal/models"
)

const (
	NamespaceHTTP  = "http://www.sitemaps.org/schemas/sitemap/0.9"
	NamespaceHTTPS = "https://www.sitemaps.org/schemas/sitemap/0.9"
)

var bom = []byte("\ufeff")

// ErrParse marks a malformed sitemap. Callers treat it as fatal for the run.
var ErrParse = errors.New("parse sitemap")

// Parse returns the text of every <loc> element in document order. The http namespace
// is tried first; the https variant is used only when the first yields nothing.
// maxURLs > 0 truncates the result to the first maxURLs entries.
func Parse(body []byte, maxURLs int) ([]models.SitemapURL, error) {
	locs, err := collectLocs(body)
	if err != nil {
		return nil, err
	}

	urls := locs[NamespaceHTTP]
	if len(urls) == 0 {
		urls = locs[NamespaceHTTPS]
	}
	if urls == nil {
		urls = []models.SitemapURL{}
	}
	if maxURLs > 0 && len(urls) > maxURLs {
		urls = urls[:maxURLs]
	}
	return urls, nil
}

// collectLocs walks the whole document once, so malformed XML anywhere is reported
// even when enough URLs were already seen.
func collectLocs(body []byte) (map[string][]models.SitemapURL, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = charset.NewReaderLabel
	out := map[string][]models.SitemapURL{}

	var (
		inLoc    bool
		locNS    string
		text     strings.Builder
		depth    int
		rootDone bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrParse, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 && rootDone {
				return nil, fmt.Errorf("%w: second root element <%s>", ErrParse, t.Name.Local)
			}
			depth++
			if t.Name.Local == "loc" {
				inLoc = true
				locNS = t.Name.Space
				text.Reset()
			}
		case xml.CharData:
			if depth == 0 && len(bytes.TrimSpace(bytes.TrimPrefix(t, bom))) > 0 {
				return nil, fmt.Errorf("%w: text outside the root element", ErrParse)
			}
			if inLoc {
				text.Write(t)
			}
		case xml.EndElement:
			depth--
			if depth == 0 {
				rootDone = true
			}
			if inLoc && t.Name.Local == "loc" {
				inLoc = false
				if locNS == NamespaceHTTP || locNS == NamespaceHTTPS {
					out[locNS] = append(out[locNS], strings.TrimSpace(text.String()))
				}
			}
		}
	}
	if !rootDone {
		return nil, fmt.Errorf("%w: no root element", ErrParse)
	}
	return out, nil
}
