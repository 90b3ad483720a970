package parser

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
)

// ErrStructural is returned when the document is not a usable feed at all
var ErrStructural = errors.New("feed document is not parseable")

const summaryLimit = 400

// Candidate is a normalized feed entry, not yet keyed or stored
type Candidate struct {
	Title     string
	Link      string
	GUID      string
	Published *time.Time
	Summary   string
}

// Result is a parsed feed. Skipped counts entries that were dropped
// because they could not be identified.
type Result struct {
	Title       string
	Description string
	Link        string
	Items       []Candidate
	Skipped     int
}

var strict = bluemonday.StrictPolicy()

// Parse decodes an RSS, Atom or JSON Feed document. Relative entry links
// are resolved against the feed's own link, falling back to feedURL.
func Parse(body []byte, feedURL string) (*Result, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrStructural)
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStructural, err)
	}

	base := resolveBase(feed.Link, feedURL)
	result := &Result{
		Title:       PlainText(feed.Title),
		Description: PlainText(feed.Description),
		Link:        feed.Link,
	}

	for _, entry := range feed.Items {
		if entry == nil {
			result.Skipped++
			continue
		}

		candidate := Candidate{
			Title: PlainText(entry.Title),
			GUID:  strings.TrimSpace(entry.GUID),
			Link:  resolveLink(base, entryLink(entry)),
		}

		switch {
		case entry.PublishedParsed != nil:
			published := entry.PublishedParsed.UTC()
			candidate.Published = &published
		case entry.UpdatedParsed != nil:
			updated := entry.UpdatedParsed.UTC()
			candidate.Published = &updated
		}

		summary := entry.Description
		if strings.TrimSpace(summary) == "" {
			summary = entry.Content
		}
		candidate.Summary = Truncate(PlainText(summary), summaryLimit)

		if candidate.GUID == "" && !isAbsolute(candidate.Link) {
			result.Skipped++
			continue
		}
		if candidate.Title == "" {
			candidate.Title = fallbackTitle(candidate)
		}

		result.Items = append(result.Items, candidate)
	}

	return result, nil
}

func entryLink(entry *gofeed.Item) string {
	if link := strings.TrimSpace(entry.Link); link != "" {
		return link
	}
	for _, link := range entry.Links {
		if link = strings.TrimSpace(link); link != "" {
			return link
		}
	}
	return ""
}

func fallbackTitle(candidate Candidate) string {
	if candidate.Summary != "" {
		return Truncate(candidate.Summary, 80)
	}
	if candidate.Link != "" {
		return candidate.Link
	}
	return "(untitled)"
}

func resolveBase(feedLink, feedURL string) *url.URL {
	for _, candidate := range []string{feedLink, feedURL} {
		u, err := url.Parse(strings.TrimSpace(candidate))
		if err == nil && u.IsAbs() && u.Host != "" {
			return u
		}
	}
	return nil
}

func resolveLink(base *url.URL, link string) string {
	if link == "" {
		return ""
	}
	ref, err := url.Parse(link)
	if err != nil {
		return link
	}
	if ref.IsAbs() || base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

func isAbsolute(link string) bool {
	u, err := url.Parse(link)
	return err == nil && u.IsAbs() && u.Host != ""
}

// PlainText strips markup, decodes entities and collapses whitespace
func PlainText(raw string) string {
	if raw == "" {
		return ""
	}
	text := html.UnescapeString(strict.Sanitize(raw))
	return strings.Join(strings.Fields(text), " ")
}

// Truncate shortens s to at most limit runes, ending on a word boundary when possible
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:limit-1])
	if i := strings.LastIndex(cut, " "); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:") + "…"
}
