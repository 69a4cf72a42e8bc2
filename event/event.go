// Package event classifies raw lines received from a chat server.
//
// The classification is intentionally shallow. A line is a keep-alive ping,
// a chat message, a server notice, or nothing the bot cares about. Full IRC
// decoding is left to the session, which only needs it during the handshake.
package event

import "strings"

// Kind is the kind of a server event.
type Kind int

const (
	// Empty is an empty line or any line the bot does not act upon.
	Empty Kind = iota
	// Ping is a keep-alive request which must be answered with a PONG.
	Ping
	// Chat is a chat message sent to a channel.
	Chat
	// Notice is a server notice, e.g. the response to a moderator list query.
	Notice
)

func (k Kind) String() string {
	switch k {
	case Empty:
		return "empty"
	case Ping:
		return "ping"
	case Chat:
		return "chat"
	case Notice:
		return "notice"
	default:
		return "unknown"
	}
}

// Event is a single classified server line. Events are values; nothing
// retains or modifies them after Parse returns.
type Event struct {
	// Kind is the kind of the event.
	Kind Kind
	// Sender is the nickname of the user who sent a Chat event.
	Sender string
	// Content is the text of a Chat or Notice event.
	Content string
	// Host is the server host named by a Ping, to be echoed in the reply.
	Host string
}

const (
	// keepalive is the literal leading portion of a keep-alive line.
	keepalive = "PING"
	// privmsg is the marker identifying chat message lines.
	privmsg = "PRIVMSG"
	// notice is the command of server notices.
	notice = "NOTICE"
	// delim separates a line's leading portion from its trailing text.
	delim = " :"
)

// Parse classifies one raw frame. It never fails; frames of any unrecognized
// shape are Empty.
func Parse(frame []byte) Event {
	line := strings.ToValidUTF8(string(frame), "�")
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return Event{}
	}
	if line[0] == '@' {
		// Trim off IRCv3 tags.
		k := strings.IndexByte(line, ' ')
		if k < 0 {
			return Event{}
		}
		line = strings.TrimLeft(line[k+1:], " ")
	}
	lead, content, _ := strings.Cut(line, delim)
	switch {
	case lead == keepalive:
		return Event{Kind: Ping, Host: content}
	case strings.Contains(lead, privmsg):
		return Event{Kind: Chat, Sender: nick(lead), Content: content}
	case command(lead) == notice:
		return Event{Kind: Notice, Content: content}
	}
	return Event{}
}

// nick extracts the text strictly between the first ':' and the following
// '!' of a line's leading portion.
func nick(lead string) string {
	i := strings.IndexByte(lead, ':')
	if i < 0 {
		return ""
	}
	lead = lead[i+1:]
	j := strings.IndexByte(lead, '!')
	if j < 0 {
		return ""
	}
	return lead[:j]
}

// command gets the command word of a line's leading portion, skipping the
// source prefix if there is one.
func command(lead string) string {
	f := strings.Fields(lead)
	if len(f) == 0 {
		return ""
	}
	if strings.HasPrefix(f[0], ":") {
		if len(f) < 2 {
			return ""
		}
		return f[1]
	}
	return f[0]
}
