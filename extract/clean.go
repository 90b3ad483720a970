package extract

import (
	"github.com/PuerkitoBio/goquery"
)

// boilerplateSelectors match chrome around the article. They are only
// applied below <body> so classes on the root elements never count.
var boilerplateSelectors = []string{
	"script, style, noscript, template, head, title, meta, link",
	"nav, aside, header, footer, form, button, select, iframe, embed, object, svg, canvas",
	"[hidden], [aria-hidden='true'], [style*='display:none'], [style*='display: none']",
	"[class*='social'], [class*='share'], [class*='comment'], [class*='sidebar'], [class*='newsletter']",
	"[class*='subscribe'], [class*='cookie'], [class*='popup'], [class*='promo'], [class*='advert']",
	"[class*='sponsor'], [class*='related'], [class*='breadcrumb'], [class*='banner'], [class*='widget']",
	"[id*='social'], [id*='share'], [id*='comment'], [id*='sidebar'], [id*='cookie'], [id*='newsletter']",
}

// removeBoilerplate strips non-content elements from the document's body
func removeBoilerplate(doc *goquery.Document) {
	body := doc.Find("body")
	for _, selector := range boilerplateSelectors {
		body.Find(selector).Remove()
	}
}
