package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const DefaultMaxNodes = 20000

// Article is the readable content of a page. Text holds paragraphs
// separated by blank lines; anchors appear as "text[n]" where n is the
// 1-based index into Links.
type Article struct {
	Title string
	Text  string
	Links []string
}

// Extractor turns article pages into readable text. The zero value uses
// DefaultMaxNodes. It holds no state and is safe for concurrent use.
type Extractor struct {
	// MaxNodes bounds the number of nodes visited in a document
	MaxNodes int
}

var defaultExtractor = &Extractor{}

// Extract runs the default extractor
func Extract(body []byte, sourceURL string) (*Article, error) {
	return defaultExtractor.Extract(body, sourceURL)
}

// Extract finds the main content of the page with go-readability after
// removing boilerplate. Relative links are resolved against the document's
// <base href>, then sourceURL. The input is never modified.
func (e *Extractor) Extract(body []byte, sourceURL string) (*Article, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &Error{Kind: KindMalformed, Err: fmt.Errorf("empty document")}
	}
	if bytes.IndexByte(body, 0) >= 0 || !utf8.Valid(body) && !looksLikeMarkup(body) {
		return nil, &Error{Kind: KindMalformed, Err: fmt.Errorf("binary content")}
	}

	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindMalformed, Err: err}
	}

	limit := e.MaxNodes
	if limit <= 0 {
		limit = DefaultMaxNodes
	}
	if n := countNodes(root, limit); n > limit {
		return nil, &Error{Kind: KindTraversalLimit, Err: fmt.Errorf("more than %d nodes", limit)}
	}

	doc := goquery.NewDocumentFromNode(root)
	base := baseURL(doc, sourceURL)

	article := &Article{Title: title(doc)}

	removeBoilerplate(doc)
	text, links, readErr := readable(doc, base)
	if text == "" {
		// Readability found nothing, fall back to the visible text of the body
		text, links = renderBody(doc, base)
	}
	if text == "" {
		return nil, &Error{Kind: KindNoContent, Err: readErr}
	}

	article.Text = text
	article.Links = links
	return article, nil
}

// readable runs go-readability over the cleaned page and renders the
// content it selects
func readable(doc *goquery.Document, base *url.URL) (string, []string, error) {
	page, err := doc.Html()
	if err != nil {
		return "", nil, err
	}

	content, err := readability.FromReader(strings.NewReader(page), base)
	if err != nil {
		return "", nil, err
	}

	var buf strings.Builder
	if err := content.RenderHTML(&buf); err != nil {
		return "", nil, err
	}

	selected, err := goquery.NewDocumentFromReader(strings.NewReader(buf.String()))
	if err != nil {
		return "", nil, err
	}
	removeBoilerplate(selected)

	text, links := renderBody(selected, base)
	return text, links, nil
}

func renderBody(doc *goquery.Document, base *url.URL) (string, []string) {
	r := newRenderer(base)
	for _, body := range doc.Find("body").Nodes {
		r.render(body)
	}
	return r.text(), r.links
}

// countNodes counts nodes depth first and stops once limit is exceeded
func countNodes(root *html.Node, limit int) int {
	count := 0
	stack := []*html.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		count++
		if count > limit {
			return count
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			stack = append(stack, c)
		}
	}
	return count
}

func title(doc *goquery.Document) string {
	if og, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		if og = collapse(og); og != "" {
			return og
		}
	}
	if t := collapse(doc.Find("head title").First().Text()); t != "" {
		return t
	}
	return collapse(doc.Find("h1").First().Text())
}

func baseURL(doc *goquery.Document, sourceURL string) *url.URL {
	source, err := url.Parse(sourceURL)
	if err != nil || !source.IsAbs() {
		source = nil
	}

	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		ref, err := url.Parse(strings.TrimSpace(href))
		if err == nil {
			if ref.IsAbs() {
				return ref
			}
			if source != nil {
				return source.ResolveReference(ref)
			}
		}
	}
	return source
}

func looksLikeMarkup(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '<'
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
