package utils

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// UGCPolicy sanitizes HTML mail bodies before they are cached or rendered.
var UGCPolicy *bluemonday.Policy

func init() {
	UGCPolicy = bluemonday.UGCPolicy()

	// Allow additional safe elements common in email content
	UGCPolicy.AllowElements("p", "br", "div", "span", "h1", "h2", "h3", "h4", "h5", "h6")
	UGCPolicy.AllowElements("strong", "em", "u", "s", "code", "pre")
	UGCPolicy.AllowElements("ul", "ol", "li")
	UGCPolicy.AllowElements("blockquote")
	UGCPolicy.AllowElements("a", "img")
	UGCPolicy.AllowElements("table", "thead", "tbody", "tr", "th", "td")

	UGCPolicy.AllowAttrs("href").OnElements("a")
	UGCPolicy.AllowAttrs("src", "alt", "title", "width", "height").OnElements("img")
	UGCPolicy.AllowAttrs("style").OnElements("span", "div", "p")

	UGCPolicy.RequireParseableURLs(true)
}

// SanitizeHTML strips unsafe markup from an HTML mail body.
func SanitizeHTML(input string) string {
	return UGCPolicy.Sanitize(input)
}

// HTMLToText extracts the visible text of an HTML fragment. Script and style
// contents are dropped entirely.
func HTMLToText(input string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(input))

	var builder strings.Builder
	skipDepth := 0

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return strings.TrimSpace(builder.String())
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			switch string(name) {
			case "script", "style":
				skipDepth++
			case "br", "p", "div", "tr", "li":
				builder.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if n := string(name); (n == "script" || n == "style") && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth == 0 {
				builder.Write(tokenizer.Text())
			}
		}
	}
}

// CreatePreview condenses text into a short single-line preview, breaking at
// a word boundary where possible.
func CreatePreview(text string) string {
	text = strings.Join(strings.Fields(text), " ")

	if len(text) > 150 {
		if idx := strings.LastIndex(text[:150], " "); idx > 0 {
			return text[:idx] + "..."
		}
		return text[:150] + "..."
	}
	return text
}
