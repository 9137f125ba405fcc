package wordpress

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Heading is one heading in a document outline.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Outline summarizes block markup: which blocks are used, the heading
// structure, and rough size.
type Outline struct {
	Blocks     map[string]int `json:"blocks"`
	BlockCount int            `json:"block_count"`
	Headings   []Heading      `json:"headings"`
	Words      int            `json:"words"`
	Images     int            `json:"images"`
	Links      int            `json:"links"`
}

// Analyze builds an Outline from raw post content. Block names come
// from the editor's comment delimiters; headings and counts from the
// HTML between them.
func Analyze(content string) Outline {
	o := Outline{Blocks: map[string]int{}}

	z := html.NewTokenizer(strings.NewReader(content))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt != html.CommentToken {
			continue
		}
		data := strings.TrimSpace(string(z.Text()))
		if !strings.HasPrefix(data, "wp:") {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(data, "wp:"))
		if len(fields) == 0 {
			continue
		}
		name := strings.TrimSuffix(fields[0], "/")
		if !strings.Contains(name, "/") {
			name = "core/" + name
		}
		o.Blocks[name]++
		o.BlockCount++
	}

	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return o
	}
	walk(doc, &o)
	return o
}

func walk(n *html.Node, o *Outline) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
			o.Headings = append(o.Headings, Heading{
				Level: int(n.Data[1] - '0'),
				Text:  strings.Join(strings.Fields(textContent(n)), " "),
			})
		case atom.Img:
			o.Images++
		case atom.A:
			o.Links++
		case atom.Script, atom.Style:
			return
		}
	}
	if n.Type == html.TextNode {
		o.Words += len(strings.Fields(n.Data))
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, o)
	}
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}

// String renders the outline as compact prose for the model.
func (o Outline) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d blocks", o.BlockCount)

	names := slices.SortedFunc(maps.Keys(o.Blocks), func(a, c string) int {
		return cmp.Or(cmp.Compare(o.Blocks[c], o.Blocks[a]), cmp.Compare(a, c))
	})
	if len(names) > 0 {
		parts := make([]string, len(names))
		for i, n := range names {
			parts[i] = fmt.Sprintf("%s x%d", n, o.Blocks[n])
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
	}
	fmt.Fprintf(&b, ", %d words, %d images, %d links.", o.Words, o.Images, o.Links)

	if len(o.Headings) > 0 {
		b.WriteString("\nHeadings:")
		for _, h := range o.Headings {
			fmt.Fprintf(&b, "\n%sH%d %s", strings.Repeat("  ", max(h.Level-1, 0)), h.Level, h.Text)
		}
	}
	return b.String()
}

// DescribeDocument summarizes the current saved state of a page for
// injection into the conversation. documentID is the page ID.
func (c *Client) DescribeDocument(ctx context.Context, documentID string) (string, error) {
	id, err := strconv.Atoi(documentID)
	if err != nil {
		return "", fmt.Errorf("document id %q is not a page ID", documentID)
	}
	p, err := c.GetPage(ctx, id)
	if err != nil {
		return "", err
	}
	o := Analyze(p.Content.Text())
	return fmt.Sprintf("Page %d %q (status %s, slug %s, template %q): %s",
		p.ID, p.Title.Text(), p.Status, p.Slug, p.Template, o.String()), nil
}
