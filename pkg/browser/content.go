package browser

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// DefaultMaxTextLength caps ExtractText output when no limit is given.
const DefaultMaxTextLength = 100000

// TextContent is the readable text of a document plus its metadata.
type TextContent struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Text        string `json:"text"`
	Truncated   bool   `json:"truncated"`
}

// ExtractText reduces serialized HTML to its visible text. Scripts, styles and
// embedded objects are dropped and block elements become line breaks.
// maxLength <= 0 uses DefaultMaxTextLength.
func ExtractText(rawHTML string, maxLength int) (*TextContent, error) {
	if maxLength <= 0 {
		maxLength = DefaultMaxTextLength
	}

	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	w := &textWriter{max: maxLength}
	w.walk(findBody(doc))

	return &TextContent{
		Title:       findTitle(doc),
		Description: findMetaContent(doc, "description"),
		Text:        strings.TrimSpace(w.b.String()),
		Truncated:   w.truncated,
	}, nil
}

type textWriter struct {
	b         strings.Builder
	max       int
	truncated bool
	// pendingBreak collapses runs of block boundaries into one newline.
	pendingBreak bool
}

func (w *textWriter) walk(n *html.Node) {
	if n == nil || w.truncated {
		return
	}

	switch n.Type {
	case html.CommentNode:
		return
	case html.TextNode:
		w.text(n.Data)
		return
	case html.ElementNode:
		tag := strings.ToLower(n.Data)
		if skippedElements[tag] {
			return
		}
		if tag == "br" {
			w.pendingBreak = true
			return
		}
		if blockElements[tag] {
			w.pendingBreak = true
			defer func() { w.pendingBreak = true }()
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func (w *textWriter) text(raw string) {
	text := strings.Join(strings.Fields(raw), " ")
	if text == "" {
		return
	}

	if w.b.Len() > 0 {
		if w.pendingBreak {
			w.b.WriteByte('\n')
		} else {
			w.b.WriteByte(' ')
		}
	}
	w.pendingBreak = false

	remaining := w.max - w.b.Len()
	if len(text) > remaining {
		if remaining > 0 {
			w.b.WriteString(text[:remaining])
		}
		w.b.WriteString("...")
		w.truncated = true
		return
	}
	w.b.WriteString(text)
}

var skippedElements = map[string]bool{
	"head":     true,
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"iframe":   true,
	"embed":    true,
	"object":   true,
	"svg":      true,
}

var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"dd": true, "div": true, "dl": true, "dt": true, "fieldset": true,
	"figcaption": true, "figure": true, "footer": true, "form": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "hr": true, "li": true, "main": true, "nav": true,
	"ol": true, "p": true, "pre": true, "section": true, "table": true,
	"td": true, "th": true, "tr": true, "ul": true,
}

func findBody(doc *html.Node) *html.Node {
	if n := findElement(doc, "body"); n != nil {
		return n
	}
	return doc
}

func findTitle(doc *html.Node) string {
	n := findElement(doc, "title")
	if n == nil || n.FirstChild == nil || n.FirstChild.Type != html.TextNode {
		return ""
	}
	return strings.TrimSpace(n.FirstChild.Data)
}

func findMetaContent(doc *html.Node, name string) string {
	var content string
	var visit func(*html.Node) bool
	visit = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "meta" && attr(n, "name") == name {
			content = strings.TrimSpace(attr(n, "content"))
			return content != ""
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if visit(c) {
				return true
			}
		}
		return false
	}
	visit(doc)
	return content
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
