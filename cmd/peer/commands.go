package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/serroba/livedoc/internal/collab"
	"github.com/serroba/livedoc/internal/outcome"
	"github.com/serroba/livedoc/internal/protocol"
	"github.com/serroba/livedoc/internal/replica"
	"golang.org/x/net/html"
)

type commandKind int

const (
	cmdNone commandKind = iota
	cmdAppend
	cmdClear
	cmdCursor
	cmdWho
	cmdShow
	cmdHelp
	cmdQuit
)

var errUsage = errors.New("usage")

type command struct {
	kind commandKind
	text string
	pos  protocol.Position
}

const helpText = `commands:
  <text>          append a paragraph to the document
  /clear          clear the document
  /cursor X Y     move your cursor
  /who            list participants
  /show           print the document
  /quit           leave`

func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{kind: cmdNone}, nil
	}

	if !strings.HasPrefix(line, "/") {
		return command{kind: cmdAppend, text: line}, nil
	}

	fields := strings.Fields(line)

	switch fields[0] {
	case "/clear":
		return command{kind: cmdClear}, nil
	case "/who":
		return command{kind: cmdWho}, nil
	case "/show":
		return command{kind: cmdShow}, nil
	case "/help":
		return command{kind: cmdHelp}, nil
	case "/quit", "/exit":
		return command{kind: cmdQuit}, nil
	case "/cursor":
		if len(fields) != 3 {
			return command{}, fmt.Errorf("%w: /cursor X Y", errUsage)
		}

		x, errX := strconv.ParseFloat(fields[1], 64)
		y, errY := strconv.ParseFloat(fields[2], 64)

		if errX != nil || errY != nil {
			return command{}, fmt.Errorf("%w: /cursor X Y with numeric coordinates", errUsage)
		}

		return command{kind: cmdCursor, pos: protocol.Position{X: x, Y: y}}, nil
	default:
		return command{}, fmt.Errorf("unknown command %s, try /help", fields[0])
	}
}

// appendParagraph adds text to the document as an escaped paragraph.
func appendParagraph(content, text string) string {
	return content + "<p>" + html.EscapeString(text) + "</p>"
}

// execute runs cmd against the session. It reports whether to quit.
func execute(s *collab.Session, cmd command, out io.Writer) bool {
	var (
		o   outcome.Outcome
		err error
	)

	switch cmd.kind {
	case cmdNone:
		return false
	case cmdQuit:
		s.Leave()

		return true
	case cmdHelp:
		fmt.Fprintln(out, helpText)

		return false
	case cmdWho:
		printParticipants(s, out)

		return false
	case cmdShow:
		printDocument(s, out)

		return false
	case cmdAppend:
		o, err = s.SetContent(appendParagraph(s.Content(), cmd.text))
	case cmdClear:
		o, err = s.SetContent("")
	case cmdCursor:
		o, err = s.MoveCursor(cmd.pos)
	}

	switch {
	case errors.Is(err, collab.ErrSessionClosed):
		fmt.Fprintln(out, "session is closed")

		return true
	case err != nil:
		fmt.Fprintf(out, "error: %v\n", err)
	case o.Reason == outcome.NotOpen:
		fmt.Fprintln(out, "not connected yet")
	}

	return false
}

func printParticipants(s *collab.Session, out io.Writer) {
	for i, p := range s.Participants() {
		line := fmt.Sprintf("[%s] %s %s", p.Avatar, p.DisplayName, p.Color)

		if i == 0 {
			line += " (you)"
		} else if m, ok := s.Presence().Marker(p.ID); ok {
			line += fmt.Sprintf(" at (%.0f, %.0f)", m.Position.X, m.Position.Y)
		}

		fmt.Fprintln(out, line)
	}
}

func printDocument(s *collab.Session, out io.Writer) {
	content := s.Content()

	fmt.Fprintf(out, "%s\n-- %d characters\n", content, replica.TextLength(content))
}

// describe renders an inbound update that changed what the user sees.
func describe(s *collab.Session, msg protocol.Message, o outcome.Outcome) string {
	if !o.Applied() {
		return ""
	}

	switch msg.Type {
	case protocol.MessageTypeContentUpdate, protocol.MessageTypeDocumentSnapshot:
		return fmt.Sprintf("document updated (%d characters)", s.CharacterCount())
	case protocol.MessageTypeJoin:
		p, _ := msg.Payload.(protocol.JoinPayload)

		return p.User.DisplayName + " joined"
	case protocol.MessageTypeLeave:
		return fmt.Sprintf("someone left, %d here", len(s.Participants()))
	case protocol.MessageTypePresenceSnapshot:
		return fmt.Sprintf("%d participants here", len(s.Participants()))
	default:
		return ""
	}
}
