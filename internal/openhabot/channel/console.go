package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Console runs a conversation over line-oriented text streams, one turn per
// input line. It backs the chat subcommand.
type Console struct {
	In       io.Reader
	Out      io.Writer
	Metadata Metadata
}

// Run reads lines until EOF or ctx is done, printing each reply.
func (c *Console) Run(ctx context.Context, h Handler) error {
	scanner := bufio.NewScanner(c.In)
	c.promptMarker()
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			c.promptMarker()
			continue
		}
		reply := h.HandleTurn(ctx, IncomingMessage{Text: line, Metadata: c.Metadata})
		if err := c.write(reply); err != nil {
			return err
		}
		c.promptMarker()
	}
	return scanner.Err()
}

func (c *Console) write(msg OutgoingMessage) error {
	var sb strings.Builder
	sb.WriteString(msg.Text)
	if msg.Card != nil {
		sb.WriteString("\n")
		sb.WriteString(msg.Card.PlainText())
	}
	if len(msg.Choices) > 0 {
		fmt.Fprintf(&sb, "\n[%s]", strings.Join(msg.Choices, " / "))
	}
	_, err := fmt.Fprintln(c.Out, sb.String())
	return err
}

func (c *Console) promptMarker() {
	fmt.Fprint(c.Out, "> ")
}
