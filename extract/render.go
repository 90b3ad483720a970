package extract

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var blockTags = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true, atom.Main: true,
	atom.Blockquote: true, atom.Pre: true, atom.Ul: true, atom.Ol: true, atom.Li: true,
	atom.Dl: true, atom.Dt: true, atom.Dd: true, atom.Table: true, atom.Tr: true,
	atom.Figure: true, atom.Figcaption: true, atom.Hr: true, atom.Body: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
}

// renderer flattens a subtree into paragraphs of plain text
type renderer struct {
	base      *url.URL
	blocks    []string
	current   strings.Builder
	prefix    string
	preDepth  int
	links     []string
	linkIndex map[string]int
}

func newRenderer(base *url.URL) *renderer {
	return &renderer{
		base:      base,
		linkIndex: map[string]int{},
	}
}

func (r *renderer) render(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		r.writeText(n.Data)
		return
	case html.ElementNode:
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			r.render(c)
		}
		return
	}

	switch n.DataAtom {
	case atom.Br:
		r.current.WriteString("\n")
		return
	case atom.Img:
		if alt := collapse(attr(n, "alt")); alt != "" {
			r.writeText(" [image: " + alt + "] ")
		}
		return
	case atom.A:
		r.renderAnchor(n)
		return
	}

	block := blockTags[n.DataAtom]
	prefixed := false
	if block {
		r.flush()
		switch n.DataAtom {
		case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
			r.prefix, prefixed = "# ", true
		case atom.Li:
			r.prefix, prefixed = "- ", true
		}
	}
	if n.DataAtom == atom.Pre {
		r.preDepth++
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		r.render(c)
	}

	if block {
		r.flush()
		if prefixed {
			r.prefix = ""
		}
	}
	if n.DataAtom == atom.Pre {
		r.preDepth--
	}
}

func (r *renderer) renderAnchor(n *html.Node) {
	start := r.current.Len()
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		r.render(c)
	}
	if r.current.Len() < start {
		// A block inside the anchor flushed the paragraph
		start = 0
	}
	if strings.TrimSpace(r.current.String()[start:]) == "" {
		return
	}

	link := r.resolve(attr(n, "href"))
	if link == "" {
		return
	}
	index, ok := r.linkIndex[link]
	if !ok {
		r.links = append(r.links, link)
		index = len(r.links)
		r.linkIndex[link] = index
	}
	fmt.Fprintf(&r.current, "[%d]", index)
}

// resolve returns the absolute http(s) form of href, or "" for anything else
func (r *renderer) resolve(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if !ref.IsAbs() {
		if r.base == nil {
			return ""
		}
		ref = r.base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return ""
	}
	return ref.String()
}

func (r *renderer) writeText(text string) {
	if r.preDepth > 0 {
		r.current.WriteString(text)
		return
	}
	// Collapse runs of whitespace but keep a single separator
	fields := strings.Fields(text)
	if len(fields) == 0 {
		if text != "" {
			r.current.WriteString(" ")
		}
		return
	}
	if startsWithSpace(text) {
		r.current.WriteString(" ")
	}
	r.current.WriteString(strings.Join(fields, " "))
	if endsWithSpace(text) {
		r.current.WriteString(" ")
	}
}

func (r *renderer) flush() {
	raw := r.current.String()
	r.current.Reset()

	var text string
	if r.preDepth > 0 {
		text = strings.Trim(raw, "\n")
	} else {
		lines := strings.Split(raw, "\n")
		for i, line := range lines {
			lines[i] = collapse(line)
		}
		text = strings.TrimSpace(strings.Join(lines, "\n"))
	}

	if strings.TrimSpace(text) == "" {
		return
	}
	r.blocks = append(r.blocks, r.prefix+text)
	r.prefix = ""
}

func (r *renderer) text() string {
	r.flush()
	return strings.Join(r.blocks, "\n\n")
}

func startsWithSpace(s string) bool {
	return s != "" && strings.TrimLeft(s, " \t\n\r\f") != s
}

func endsWithSpace(s string) bool {
	return s != "" && strings.TrimRight(s, " \t\n\r\f") != s
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}
