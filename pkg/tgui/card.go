package tgui

import "strings"

// Card builds a multi-line HTML reply: a bold title, then fields and free
// lines. Empty sections collapse to a single blank line.
type Card struct {
	lines []string
}

func NewCard(title string) *Card {
	c := &Card{}
	if strings.TrimSpace(title) != "" {
		c.lines = append(c.lines, B(title).String())
	}
	return c
}

// Field adds "label: value".
func (c *Card) Field(label string, value H) *Card {
	c.lines = append(c.lines, Esc(label).String()+": "+value.String())
	return c
}

func (c *Card) Line(h H) *Card {
	c.lines = append(c.lines, h.String())
	return c
}

// Section starts a new block with an optional bold heading.
func (c *Card) Section(heading string) *Card {
	if n := len(c.lines); n > 0 && c.lines[n-1] != "" {
		c.lines = append(c.lines, "")
	}
	if strings.TrimSpace(heading) != "" {
		c.lines = append(c.lines, B(heading).String())
	}
	return c
}

func (c *Card) HTML() H {
	return H(strings.TrimRight(strings.Join(c.lines, "\n"), "\n"))
}

func (c *Card) String() string { return c.HTML().String() }
