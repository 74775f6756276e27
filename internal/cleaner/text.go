package cleaner

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var hiddenStyle = regexp.MustCompile(`(?i)display:\s*none|visibility:\s*hidden`)

// ExtractText returns the visible text of an HTML document with whitespace
// collapsed. Script, style and hidden elements are skipped.
func ExtractText(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		// html.Parse only fails on reader errors
		return ""
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if n.DataAtom == atom.Script || n.DataAtom == atom.Style || isHidden(n) {
				return
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return strings.Join(strings.Fields(b.String()), " ")
}

func isHidden(n *html.Node) bool {
	for _, a := range n.Attr {
		if a.Key == "style" && hiddenStyle.MatchString(a.Val) {
			return true
		}
	}
	return false
}
