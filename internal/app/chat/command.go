package chat

import "strings"

type CommandKind int

const (
	// CmdSay is a plain message to the sender's meeting.
	CmdSay CommandKind = iota
	CmdDirect
	CmdReply
	CmdGlobal
	CmdHelp
	CmdWho
	CmdKick
	CmdAnnounce
	// CmdInvalid is a recognized command with missing arguments; Text holds usage.
	CmdInvalid
	// CmdUnknown is an unrecognized slash command; Name holds the word.
	CmdUnknown
)

type Command struct {
	Kind   CommandKind
	Target string
	Text   string
	Name   string
}

// Parse turns a raw chat line into one of a closed set of commands. Anything
// not starting with a slash is a plain room message.
func Parse(raw string) Command {
	line := strings.TrimSpace(raw)
	if !strings.HasPrefix(line, "/") {
		return Command{Kind: CmdSay, Text: line}
	}

	word, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(word) {
	case "/msg", "/w":
		target, text, _ := strings.Cut(rest, " ")
		text = strings.TrimSpace(text)
		if target == "" || text == "" {
			return Command{Kind: CmdInvalid, Text: "usage: /msg <name> <message>"}
		}
		return Command{Kind: CmdDirect, Target: target, Text: text}
	case "/r", "/reply":
		if rest == "" {
			return Command{Kind: CmdInvalid, Text: "usage: /r <message>"}
		}
		return Command{Kind: CmdReply, Text: rest}
	case "/global":
		if rest == "" {
			return Command{Kind: CmdInvalid, Text: "usage: /global <message>"}
		}
		return Command{Kind: CmdGlobal, Text: rest}
	case "/help":
		return Command{Kind: CmdHelp}
	case "/who", "/list":
		return Command{Kind: CmdWho}
	case "/kick":
		if rest == "" {
			return Command{Kind: CmdInvalid, Text: "usage: /kick <name>"}
		}
		return Command{Kind: CmdKick, Target: rest}
	case "/announce":
		if rest == "" {
			return Command{Kind: CmdInvalid, Text: "usage: /announce <message>"}
		}
		return Command{Kind: CmdAnnounce, Text: rest}
	}
	return Command{Kind: CmdUnknown, Name: word}
}
