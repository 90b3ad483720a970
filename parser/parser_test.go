package parser_test

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"nuuslees/parser"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rssDocument = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Example Blog</title>
  <link>https://blog.example.com/</link>
  <description>Posts &amp; notes</description>
  <item>
    <title>First post</title>
    <link>https://blog.example.com/posts/1</link>
    <guid>post-1</guid>
    <pubDate>Mon, 02 Jan 2023 15:04:05 +0000</pubDate>
    <description><![CDATA[<p>Hello <b>world</b> &amp; friends</p>
      <script>alert(1)</script>]]></description>
  </item>
  <item>
    <title>Relative link</title>
    <link>/posts/2</link>
  </item>
  <item>
    <title>No identity</title>
    <description>Nothing to key this entry on</description>
  </item>
</channel>
</rss>`

const atomDocument = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Example</title>
  <link href="https://atom.example.org/"/>
  <id>urn:uuid:feed</id>
  <updated>2024-03-01T10:00:00Z</updated>
  <entry>
    <title>Updated only</title>
    <link href="https://atom.example.org/entry"/>
    <id>urn:uuid:entry-1</id>
    <updated>2024-03-01T10:00:00Z</updated>
    <content type="html">&lt;p&gt;Body text&lt;/p&gt;</content>
  </entry>
</feed>`

const jsonDocument = `{
  "version": "https://jsonfeed.org/version/1.1",
  "title": "JSON Example",
  "home_page_url": "https://json.example.net/",
  "items": [
    {"id": "1", "url": "https://json.example.net/1", "title": "Json item", "content_text": "Plain", "date_published": "2024-05-06T07:08:09Z"}
  ]
}`

func TestParseRSS(t *testing.T) {
	result, err := parser.Parse([]byte(rssDocument), "https://blog.example.com/feed.xml")
	require.NoError(t, err)

	assert.Equal(t, "Example Blog", result.Title)
	assert.Equal(t, "Posts & notes", result.Description)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, result.Items, 2)

	first := result.Items[0]
	assert.Equal(t, "First post", first.Title)
	assert.Equal(t, "post-1", first.GUID)
	assert.Equal(t, "https://blog.example.com/posts/1", first.Link)
	assert.Equal(t, "Hello world & friends", first.Summary)
	require.NotNil(t, first.Published)
	assert.True(t, first.Published.Equal(time.Date(2023, 1, 2, 15, 4, 5, 0, time.UTC)))

	second := result.Items[1]
	assert.Empty(t, second.GUID)
	assert.Equal(t, "https://blog.example.com/posts/2", second.Link)
	assert.Nil(t, second.Published)
}

func TestParseAtomFallsBackToUpdated(t *testing.T) {
	result, err := parser.Parse([]byte(atomDocument), "https://atom.example.org/feed")
	require.NoError(t, err)

	require.Len(t, result.Items, 1)
	item := result.Items[0]
	assert.Equal(t, "urn:uuid:entry-1", item.GUID)
	assert.Equal(t, "Body text", item.Summary)
	require.NotNil(t, item.Published)
	assert.True(t, item.Published.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))
}

func TestParseJSONFeed(t *testing.T) {
	result, err := parser.Parse([]byte(jsonDocument), "https://json.example.net/feed.json")
	require.NoError(t, err)

	require.Len(t, result.Items, 1)
	assert.Equal(t, "1", result.Items[0].GUID)
	assert.Equal(t, "Json item", result.Items[0].Title)
}

func TestParseStructuralFailure(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", "   "},
		{"html page", "<html><body><p>not a feed</p></body></html>"},
		{"garbage", "\x00\x01\x02"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parser.Parse([]byte(tt.body), "https://example.com/feed")
			require.Error(t, err)
			assert.True(t, errors.Is(err, parser.ErrStructural))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", parser.Truncate("short", 10))

	long := strings.Repeat("word ", 200)
	truncated := parser.Truncate(long, 400)
	assert.LessOrEqual(t, utf8.RuneCountInString(truncated), 400)
	assert.True(t, strings.HasSuffix(truncated, "…"))
	assert.False(t, strings.HasSuffix(strings.TrimSuffix(truncated, "…"), " "))

	unicode := strings.Repeat("ø", 50)
	assert.Equal(t, 10, utf8.RuneCountInString(parser.Truncate(unicode, 10)))
}

func TestPlainText(t *testing.T) {
	assert.Equal(t, "a < b and c", parser.PlainText("a &lt; b <em>and</em>\n\n c"))
	assert.Empty(t, parser.PlainText(""))
}
