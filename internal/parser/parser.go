package parser

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

const (
	removeSelector   = "script,style,header,footer,nav"
	contentSelector  = `article[class*="content"],main[class*="content"],div[class*="content"]`
	fallbackSelector = "h1,h2,h3,h4,h5,h6,p"
)

// Parser reduces an HTML page to the text worth embedding.
type Parser struct{}

func New() *Parser { return &Parser{} }

// Extract returns the visible text of the page's main content. Elements whose class
// contains "content" win; otherwise headings and paragraphs are used. Text nodes are
// whitespace-normalized and joined with single spaces. It returns "" rather than an
// error when nothing qualifies.
func (p *Parser) Extract(body []byte, contentType string) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(toUTF8(body, contentType)))
	if err != nil {
		return ""
	}

	doc.Find(removeSelector).Remove()

	sel := doc.Find(contentSelector)
	if sel.Length() == 0 {
		sel = doc.Find(fallbackSelector)
	}

	var parts []string
	sel.Each(func(_ int, s *goquery.Selection) {
		for _, n := range s.Nodes {
			parts = appendText(parts, n)
		}
	})
	return strings.Join(parts, " ")
}

// appendText adds every non-blank text node under n, collapsed to single spaces.
func appendText(parts []string, n *html.Node) []string {
	if n.Type == html.TextNode {
		if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
			parts = append(parts, t)
		}
		return parts
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		parts = appendText(parts, c)
	}
	return parts
}

// toUTF8 decodes body using the declared or sniffed charset.
func toUTF8(data []byte, contentType string) []byte {
	enc, _, _ := charset.DetermineEncoding(data, contentType)
	utf8data, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		// fallback: if already utf-8, continue
		if utf8.Valid(data) {
			return data
		}
		return bytes.ToValidUTF8(data, []byte("�"))
	}
	return utf8data
}
