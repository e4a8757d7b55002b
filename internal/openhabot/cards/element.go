// Package cards turns the slot trees of HABot replies into transport-neutral
// cards made of a closed set of elements.
package cards

import (
	"encoding/json"
	"html"
	"strings"
)

// Element is one rendered unit of a card body: a TextBlock, a TextFact or a
// FactList. The set is closed; it is not meant to be implemented elsewhere.
type Element interface {
	Type() string
	// PlainText renders the element for transports without card support.
	PlainText() string
	element()
}

// TextBlock is a line of text.
type TextBlock struct {
	Text string
}

// TextFact is a labelled value with its spoken form.
type TextFact struct {
	Title  string
	Value  string
	Speech string
}

// FactList groups facts.
type FactList struct {
	Facts []TextFact
}

func (TextBlock) Type() string { return "TextBlock" }
func (TextFact) Type() string  { return "TextFact" }
func (FactList) Type() string  { return "FactList" }

func (TextBlock) element() {}
func (TextFact) element()  {}
func (FactList) element()  {}

func (b TextBlock) PlainText() string { return b.Text }

func (f TextFact) PlainText() string {
	if f.Title == "" {
		return f.Value
	}
	return f.Title + ": " + f.Value
}

func (l FactList) PlainText() string {
	lines := make([]string, 0, len(l.Facts))
	for _, f := range l.Facts {
		lines = append(lines, "- "+f.PlainText())
	}
	return strings.Join(lines, "\n")
}

func (b TextBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{b.Type(), b.Text})
}

func (f TextFact) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type   string `json:"type"`
		Title  string `json:"title"`
		Value  string `json:"value"`
		Speech string `json:"speak,omitempty"`
	}{f.Type(), f.Title, f.Value, f.Speech})
}

func (l FactList) MarshalJSON() ([]byte, error) {
	facts := l.Facts
	if facts == nil {
		facts = []TextFact{}
	}
	return json.Marshal(struct {
		Type  string     `json:"type"`
		Facts []TextFact `json:"facts"`
	}{l.Type(), facts})
}

// Card is a rendered reply: a title and an ordered body.
type Card struct {
	Title    string    `json:"title,omitempty"`
	Subtitle string    `json:"subtitle,omitempty"`
	Body     []Element `json:"body"`
}

// PlainText renders the card as lines of text.
func (c *Card) PlainText() string {
	if c == nil {
		return ""
	}
	var parts []string
	if c.Title != "" {
		parts = append(parts, c.Title)
	}
	if c.Subtitle != "" {
		parts = append(parts, c.Subtitle)
	}
	for _, e := range c.Body {
		if t := e.PlainText(); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// HTML renders the card as a small HTML fragment for chat clients that
// display formatted bodies.
func (c *Card) HTML() string {
	if c == nil {
		return ""
	}
	var sb strings.Builder
	if c.Title != "" {
		sb.WriteString("<strong>" + html.EscapeString(c.Title) + "</strong><br/>")
	}
	if c.Subtitle != "" {
		sb.WriteString("<em>" + html.EscapeString(c.Subtitle) + "</em><br/>")
	}
	for _, e := range c.Body {
		switch el := e.(type) {
		case TextBlock:
			sb.WriteString("<p>" + html.EscapeString(el.Text) + "</p>")
		case TextFact:
			sb.WriteString("<p>" + factHTML(el) + "</p>")
		case FactList:
			sb.WriteString("<ul>")
			for _, f := range el.Facts {
				sb.WriteString("<li>" + factHTML(f) + "</li>")
			}
			sb.WriteString("</ul>")
		}
	}
	return sb.String()
}

func factHTML(f TextFact) string {
	if f.Title == "" {
		return html.EscapeString(f.Value)
	}
	return "<b>" + html.EscapeString(f.Title) + "</b>: " + html.EscapeString(f.Value)
}
