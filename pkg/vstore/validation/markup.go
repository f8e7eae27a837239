package validation

import (
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	// SupportedListElements may appear as children of <ul>.
	SupportedListElements = []string{"li"}

	// SupportedTags may appear anywhere in formatted text.
	SupportedTags = []string{"b", "i", "strong", "em", "br", "ul", "li"}
)

// ParseMarkup parses formatted text as an html fragment under a synthetic root node.
func ParseMarkup(raw string) (*html.Node, error) {
	context := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(raw), context)
	if err != nil {
		return nil, err
	}
	root := &html.Node{Type: html.DocumentNode}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return root, nil
}

// FindUnsupportedListElement walks n and reports whether some <ul> holds a child outside
// allowed. The walk stops at the first violation.
func FindUnsupportedListElement(n *html.Node, allowed []string) (stop bool) {
	if n.Type == html.ElementNode && strings.EqualFold(n.Data, "ul") {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !isSupportedListChild(c, allowed) {
				return true
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if FindUnsupportedListElement(c, allowed) {
			return true
		}
	}
	return false
}

func isSupportedListChild(n *html.Node, allowed []string) bool {
	switch n.Type {
	case html.CommentNode:
		return true
	case html.TextNode:
		return strings.TrimSpace(n.Data) == ""
	case html.ElementNode:
		return containsFold(allowed, n.Data)
	}
	return false
}

// FindUnsupportedTags returns the distinct element names under n that are not allowed,
// in document order.
func FindUnsupportedTags(n *html.Node, allowed []string) []string {
	var found []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			name := strings.ToLower(n.Data)
			if !containsFold(allowed, name) && !slices.Contains(found, name) {
				found = append(found, name)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return found
}

// PlainText projects markup onto text: <br> and the end of a list item become line breaks.
func PlainText(n *html.Node) string {
	var sb strings.Builder
	writePlainText(&sb, n)
	return strings.TrimRight(sb.String(), "\n")
}

func writePlainText(sb *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		if n.Parent != nil && n.Parent.DataAtom == atom.Ul && strings.TrimSpace(n.Data) == "" {
			return
		}
		sb.WriteString(n.Data)
		return
	case html.ElementNode:
		if n.DataAtom == atom.Br {
			sb.WriteByte('\n')
			return
		}
	}
	block := n.Type == html.ElementNode && (n.DataAtom == atom.Ul || n.DataAtom == atom.Li || n.DataAtom == atom.P)
	if block {
		breakLine(sb)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writePlainText(sb, c)
	}
	if block {
		breakLine(sb)
	}
}

func breakLine(sb *strings.Builder) {
	if s := sb.String(); s != "" && !strings.HasSuffix(s, "\n") {
		sb.WriteByte('\n')
	}
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
