// Package message turns chat text into plain messages and command
// invocations.
package message

import (
	"fmt"
	"strings"
	"unicode"
)

// Message is a chat message received from a user.
type Message interface {
	// Text is the text of the message.
	Text() string
	// From is the name of the user who sent the message.
	From() string
	// Command is the command invoked by the message, or nil if the message
	// does not invoke one.
	Command() *Command
}

// Plain is a message that does not invoke a command.
type Plain struct {
	text   string
	sender string
}

// NewPlain creates a plain message.
func NewPlain(text, sender string) *Plain {
	return &Plain{text: text, sender: sender}
}

func (m *Plain) Text() string      { return m.text }
func (m *Plain) From() string      { return m.sender }
func (m *Plain) Command() *Command { return nil }

// Command is a command invocation. A Command must not be modified once it is
// handed to modules.
type Command struct {
	// Prefix is the command prefix that introduced the invocation.
	Prefix string
	// Name is the name of the command without the prefix.
	Name string
	// Args is the whitespace-separated arguments following the name.
	Args []string
	// Sender is the name of the user who invoked the command.
	Sender string
	// Privileged indicates whether the sender was in the privileged set
	// when the command was received.
	Privileged bool
}

// NewCommand creates a command invocation.
func NewCommand(prefix, name string, args []string, sender string) *Command {
	return &Command{Prefix: prefix, Name: name, Args: args, Sender: sender}
}

// Text reconstructs the invocation text: the prefix and name followed by the
// arguments separated by single spaces.
func (c *Command) Text() string {
	s := c.Prefix + c.Name + " " + strings.Join(c.Args, " ")
	return strings.TrimRightFunc(s, unicode.IsSpace)
}

func (c *Command) From() string      { return c.Sender }
func (c *Command) Command() *Command { return c }

// Arg returns the i'th argument, or the empty string if there are not that
// many arguments.
func (c *Command) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// Parse interprets chat text sent by sender. If the text begins with prefix,
// the result is a *Command whose name is the first word with the prefix
// removed and whose arguments are the remaining words. Otherwise, it is a
// *Plain carrying the text verbatim. An empty prefix makes every message a
// command.
func Parse(text, sender, prefix string) Message {
	if !strings.HasPrefix(text, prefix) {
		return NewPlain(text, sender)
	}
	f := strings.Fields(text)
	if len(f) == 0 {
		return NewCommand(prefix, "", []string{}, sender)
	}
	// The prefix may contain spaces, in which case the first field can be
	// shorter than it.
	name := f[0][min(len(prefix), len(f[0])):]
	return NewCommand(prefix, name, f[1:], sender)
}

// formatString is a type to prevent misuse of format strings passed to [Format].
type formatString string

// Format constructs message text from a format string literal and formatting
// arguments.
func Format(f formatString, args ...any) string {
	return strings.TrimSpace(fmt.Sprintf(string(f), args...))
}
