package feed

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var tagRe = regexp.MustCompile(`<[^>]+>`)

// htmlToText converts a small HTML fragment into plain text by walking the node tree
// and concatenating text nodes with minimal whitespace normalization.
func htmlToText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	n, err := html.Parse(strings.NewReader(s))
	if err != nil || n == nil {
		return strings.Join(strings.Fields(tagRe.ReplaceAllString(s, " ")), " ")
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			t := strings.Join(strings.Fields(n.Data), " ")
			if t != "" {
				if b.Len() > 0 {
					b.WriteString(" ")
				}
				b.WriteString(t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
