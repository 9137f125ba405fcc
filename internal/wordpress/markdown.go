package wordpress

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MarkdownToBlocks renders markdown to HTML and wraps each top-level
// element in block-editor comment delimiters, so the result opens in
// the editor as native blocks instead of one classic block.
func MarkdownToBlocks(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}

	nodes, err := html.ParseFragment(&buf, &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body})
	if err != nil {
		return "", fmt.Errorf("parse rendered markdown: %w", err)
	}

	var blocks []string
	for _, n := range nodes {
		if b := nodeToBlock(n); b != "" {
			blocks = append(blocks, b)
		}
	}
	return strings.Join(blocks, "\n\n"), nil
}

func nodeToBlock(n *html.Node) string {
	switch n.Type {
	case html.TextNode:
		if strings.TrimSpace(n.Data) == "" {
			return ""
		}
		return wrap("paragraph", "", "<p>"+html.EscapeString(strings.TrimSpace(n.Data))+"</p>")
	case html.ElementNode:
	default:
		return ""
	}

	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		level := int(n.Data[1] - '0')
		attrs := ""
		if level != 2 {
			attrs = fmt.Sprintf(`{"level":%d}`, level)
		}
		return wrap("heading", attrs, fmt.Sprintf(`<%s class="wp-block-heading">%s</%s>`, n.Data, innerHTML(n), n.Data))

	case atom.P:
		return wrap("paragraph", "", "<p>"+innerHTML(n)+"</p>")

	case atom.Ul, atom.Ol:
		attrs := ""
		if n.DataAtom == atom.Ol {
			attrs = `{"ordered":true}`
		}
		var items strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.DataAtom == atom.Li {
				items.WriteString(wrap("list-item", "", "<li>"+strings.TrimSpace(innerHTML(c))+"</li>"))
				items.WriteString("\n")
			}
		}
		return wrap("list", attrs, fmt.Sprintf("<%s class=\"wp-block-list\">\n%s</%s>", n.Data, items.String(), n.Data))

	case atom.Blockquote:
		var inner []string
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if b := nodeToBlock(c); b != "" {
				inner = append(inner, b)
			}
		}
		return wrap("quote", "", "<blockquote class=\"wp-block-quote\">\n"+strings.Join(inner, "\n\n")+"\n</blockquote>")

	case atom.Pre:
		return wrap("code", "", `<pre class="wp-block-code">`+innerHTML(n)+"</pre>")

	case atom.Hr:
		return wrap("separator", "", `<hr class="wp-block-separator has-alpha-channel-opacity"/>`)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return ""
	}
	return wrap("html", "", buf.String())
}

func wrap(name, attrs, markup string) string {
	open := "<!-- wp:" + name
	if attrs != "" {
		open += " " + attrs
	}
	return open + " -->\n" + markup + "\n<!-- /wp:" + name + " -->"
}

func innerHTML(n *html.Node) string {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&buf, c)
	}
	return buf.String()
}
