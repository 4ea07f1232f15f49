// Package htmlconv turns status markup into text a screen reader can speak.
package htmlconv

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	blankRuns  = regexp.MustCompile(`\n{3,}`)
	spaceRuns  = regexp.MustCompile(`[ \t]+`)
	trailingWS = regexp.MustCompile(`[ \t]+\n`)
)

// PlainText strips the markup from a status body. Paragraphs are separated
// by a blank line and <br> becomes a newline. Entities are decoded. Link
// fragments Mastodon hides with the "invisible" class are dropped and the
// "ellipsis" class gets a trailing "…", so shortened URLs read the way they
// are displayed.
func PlainText(content string) string {
	if !strings.ContainsAny(content, "<&") {
		return strings.TrimSpace(content)
	}

	nodes, err := html.ParseFragment(strings.NewReader(content), &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
	})
	if err != nil {
		return strings.TrimSpace(content)
	}

	var b strings.Builder
	for _, n := range nodes {
		if shouldRemoveNode(n) {
			continue
		}
		removeUnwantedNodes(n)
		writeText(&b, n)
	}
	return clean(b.String())
}

func writeText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Br:
			b.WriteByte('\n')
			return
		case atom.Li:
			b.WriteString("\n- ")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}

	if n.Type != html.ElementNode {
		return
	}
	switch n.DataAtom {
	case atom.P, atom.Blockquote, atom.Pre, atom.Ul, atom.Ol,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		b.WriteString("\n\n")
	case atom.Span:
		if hasClass(n, "ellipsis") {
			b.WriteString("…")
		}
	}
}

// removeUnwantedNodes drops elements whose content is never shown.
func removeUnwantedNodes(n *html.Node) {
	child := n.FirstChild
	for child != nil {
		next := child.NextSibling
		if shouldRemoveNode(child) {
			n.RemoveChild(child)
		} else {
			removeUnwantedNodes(child)
		}
		child = next
	}
}

func shouldRemoveNode(n *html.Node) bool {
	if n.Type == html.CommentNode {
		return true
	}
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Iframe, atom.Svg:
		return true
	}
	return hasClass(n, "invisible")
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func clean(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = spaceRuns.ReplaceAllString(s, " ")
	s = trailingWS.ReplaceAllString(s, "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
