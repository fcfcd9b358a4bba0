package main

import (
	"strings"

	"github.com/mattn/go-runewidth"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// htmlToText flattens lesson HTML into plain paragraphs for the terminal.
// Block elements start new lines, list items get a bullet, and script and
// style contents are dropped.
func htmlToText(src string) string {
	if strings.TrimSpace(src) == "" {
		return ""
	}
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return strings.TrimSpace(src)
	}
	var b textBuilder
	b.walk(doc)
	return b.String()
}

type textBuilder struct {
	lines []string
	cur   strings.Builder
	pre   int
}

func (b *textBuilder) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.text(n.Data)
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Head:
			return
		case atom.Br:
			b.flush(true)
			return
		}
		if isBlock(n.DataAtom) {
			b.flush(false)
			defer b.flush(false)
		}
		switch n.DataAtom {
		case atom.Li:
			b.cur.WriteString("• ")
		case atom.Pre:
			b.pre++
			defer func() { b.pre-- }()
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.walk(c)
	}
}

func (b *textBuilder) text(s string) {
	if b.pre > 0 {
		parts := strings.Split(s, "\n")
		for i, p := range parts {
			if i > 0 {
				b.flush(true)
			}
			b.cur.WriteString(p)
		}
		return
	}
	words := strings.Fields(s)
	if len(words) == 0 {
		if s != "" && b.cur.Len() > 0 && !strings.HasSuffix(b.cur.String(), " ") {
			b.cur.WriteByte(' ')
		}
		return
	}
	if b.cur.Len() > 0 && !strings.HasSuffix(b.cur.String(), " ") && startsWithSpace(s) {
		b.cur.WriteByte(' ')
	}
	b.cur.WriteString(strings.Join(words, " "))
	if endsWithSpace(s) {
		b.cur.WriteByte(' ')
	}
}

// flush ends the current line. Empty lines are kept only when force is set.
func (b *textBuilder) flush(force bool) {
	line := strings.TrimRight(b.cur.String(), " ")
	b.cur.Reset()
	if line == "" && !force {
		return
	}
	b.lines = append(b.lines, line)
}

func (b *textBuilder) String() string {
	b.flush(false)
	return strings.Join(b.lines, "\n")
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Blockquote,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Ul, atom.Ol, atom.Li, atom.Pre, atom.Table, atom.Tr:
		return true
	}
	return false
}

func startsWithSpace(s string) bool {
	return s != "" && strings.ContainsRune(" \t\n\r", rune(s[0]))
}

func endsWithSpace(s string) bool {
	return s != "" && strings.ContainsRune(" \t\n\r", rune(s[len(s)-1]))
}

// truncateToWidth cuts s to at most width terminal cells.
func truncateToWidth(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}
