package conversation

import (
	"strings"

	"threadbot/internal/responder"
)

// Event is one inbound chat message. Command is set for slash commands
// (lowercase, without the slash and any @botname suffix) and Args holds the
// rest of the line; plain text leaves both empty.
type Event struct {
	UserID  int64
	Text    string
	Command string
	Args    string
}

// ParseEvent classifies text from userID.
func ParseEvent(userID int64, text string) Event {
	text = strings.TrimSpace(text)
	ev := Event{UserID: userID, Text: text}
	if !strings.HasPrefix(text, "/") {
		return ev
	}
	cmd, rest := splitCommand(text)
	cmd = strings.TrimPrefix(cmd, "/")
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	if cmd == "" {
		return ev
	}
	ev.Command = strings.ToLower(cmd)
	ev.Args = rest
	return ev
}

func splitCommand(text string) (cmd string, rest string) {
	i := strings.IndexAny(text, " \n\t")
	if i == -1 {
		return text, ""
	}
	return text[:i], strings.TrimSpace(text[i:])
}

// OutboundMessage is one reply produced while handling an event.
type OutboundMessage struct {
	Text     string
	Keyboard *responder.Keyboard
	Document *Document
}

// Document is a file attachment; Text on the carrying message is its caption.
type Document struct {
	Filename string
	Data     []byte
}
