package htmlutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func firstElement(t *testing.T, doc *html.Node, tag string) *html.Node {
	t.Helper()
	var found *html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == tag {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if found == nil {
		t.Fatalf("no <%s> element", tag)
	}
	return found
}

func TestInnerTextCollapsesSeparators(t *testing.T) {
	doc, err := html.Parse(strings.NewReader("<table><tr><td>LIS-1001\t</td>\n\t<td>\n  Cálculo I</td></tr></table>"))
	require.NoError(t, err)
	require.Equal(t, "LIS-1001 Cálculo I", InnerText(firstElement(t, doc, "tr")))
}

func TestInnerText(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(`<table><tr class="orange big">` +
		`<td>LIS-1001</td><td>Cálculo<br>I</td><script>var x = 1;</script><!-- note --></tr></table>`))
	require.NoError(t, err)

	tr := firstElement(t, doc, "tr")
	require.Equal(t, "LIS-1001 Cálculo I", InnerText(tr))
	require.True(t, HasClass(tr, "orange"))
	require.True(t, HasClass(tr, "big"))
	require.False(t, HasClass(tr, "oran"))
}
