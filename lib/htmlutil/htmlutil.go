package htmlutil

import (
	"bytes"
	"strings"

	"horario-backend/lib/textutil"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// separated elements render with whitespace around them, even when the markup has none.
var separated = map[atom.Atom]bool{
	atom.Td: true, atom.Th: true, atom.Tr: true,
	atom.Br: true, atom.P: true, atom.Div: true,
	atom.Li: true, atom.Table: true,
}

var skipped = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Template: true,
}

// InnerText approximates the DOM's innerText. Script and style contents are dropped and
// table cells and block elements are separated by whitespace. Unlike a browser it then
// collapses every whitespace run to one space, so the tab a browser puts between cells and
// the newline it renders for <br> both come back as " ".
func InnerText(node *html.Node) string {
	var buffer bytes.Buffer
	innerTextRecursive(node, &buffer)
	text := textutil.RemoveNonPrintable(buffer.String())
	return textutil.CollapseWhitespace(text)
}

func innerTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	switch node.Type {
	case html.TextNode:
		buffer.WriteString(node.Data)
		return
	case html.ElementNode:
		if skipped[node.DataAtom] {
			return
		}
	case html.CommentNode:
		return
	}

	sep := node.Type == html.ElementNode && separated[node.DataAtom]
	if sep {
		buffer.WriteByte(' ')
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		innerTextRecursive(child, buffer)
	}
	if sep {
		buffer.WriteByte(' ')
	}
}

// HasClass reports whether node carries class in its class attribute.
func HasClass(node *html.Node, class string) bool {
	for _, a := range node.Attr {
		if a.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(a.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}
