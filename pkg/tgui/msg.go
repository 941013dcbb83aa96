package tgui

import (
	"strings"
)

// Builder accumulates message lines in either Telegram HTML or plain text.
// The same calls produce both renditions, so a digest is laid out once.
type Builder struct {
	html  bool
	lines []string
}

// New creates a builder. With html=true every text argument is escaped and
// emphasis is rendered with tags; otherwise text is kept verbatim.
func New(html bool) *Builder {
	return &Builder{html: html}
}

// HTML reports the builder's mode.
func (b *Builder) HTML() bool { return b.html }

// Title adds a bold title line. Emoji is optional.
func (b *Builder) Title(emoji, title string) *Builder {
	e := strings.TrimSpace(emoji)
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	head := t
	if b.html {
		head = B(t).String()
	}
	if e != "" {
		head = e + " " + head
	}
	b.lines = append(b.lines, head)
	return b
}

// Section adds a section header. Plain text headers are framed with "==".
func (b *Builder) Section(title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	if b.html {
		b.lines = append(b.lines, B(t).String())
		return b
	}
	b.lines = append(b.lines, "== "+t+" ==")
	return b
}

// Line adds a single line, escaping in HTML mode.
func (b *Builder) Line(s string) *Builder {
	if strings.TrimSpace(s) == "" {
		b.lines = append(b.lines, "")
		return b
	}
	if b.html {
		b.lines = append(b.lines, Esc(s).String())
	} else {
		b.lines = append(b.lines, s)
	}
	return b
}

// RawLine appends a line without escaping. Only pass H-safe content in HTML mode.
func (b *Builder) RawLine(s string) *Builder {
	b.lines = append(b.lines, s)
	return b
}

// Blank inserts an empty line.
func (b *Builder) Blank() *Builder { return b.Line("") }

// Bullet adds one "• " item made of parts joined by " | ". Empty parts are dropped.
func (b *Builder) Bullet(parts ...H) *Builder {
	joined := JoinH(" | ", parts...)
	if joined == "" {
		return b
	}
	b.lines = append(b.lines, "• "+joined.String())
	return b
}

// KV adds a "key: value" row with consistent formatting.
func (b *Builder) KV(key, value string) *Builder {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" {
		return b
	}
	if b.html {
		b.lines = append(b.lines, "  "+B(key).String()+": "+Esc(value).String())
		return b
	}
	b.lines = append(b.lines, "  "+key+": "+value)
	return b
}

// Text escapes s for the builder's mode.
func (b *Builder) Text(s string) H {
	if b.html {
		return Esc(s)
	}
	return Raw(s)
}

// Bold renders s emphasized in HTML mode and verbatim otherwise.
func (b *Builder) Bold(s string) H {
	if b.html {
		return B(s)
	}
	return Raw(s)
}

// Link renders an anchor in HTML mode, or the bare URL in plain text.
func (b *Builder) Link(text, url string) H {
	url = strings.TrimSpace(url)
	if url == "" {
		return ""
	}
	if b.html {
		return Link(text, url)
	}
	return Raw(url)
}

// String joins the lines, trimming leading and trailing blank lines.
func (b *Builder) String() string {
	return strings.Trim(strings.Join(b.lines, "\n"), "\n")
}
