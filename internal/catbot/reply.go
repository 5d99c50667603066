package catbot

import (
	"strings"
)

// Command is a mention command.
type Command int

const (
	CommandNone Command = iota
	CommandFollow
	CommandUnfollow
)

// commandWords maps accepted command text to commands. "unfolow" is the
// spelling older deployments answered to and stays accepted next to the
// corrected "unfollow".
var commandWords = map[string]Command{
	"follow":   CommandFollow,
	"unfollow": CommandUnfollow,
	"unfolow":  CommandUnfollow,
}

// ParseCommand matches text exactly against the known commands after trimming
// surrounding whitespace. Case matters.
func ParseCommand(text string) Command {
	return commandWords[strings.TrimSpace(text)]
}

// ReplyVisibility maps the visibility of an incoming status to the one used
// for the reply: "public" becomes "unlisted", everything else is kept.
func ReplyVisibility(v string) string {
	if v == "public" {
		return "unlisted"
	}
	return v
}

// Mentions builds the "@a @b" prefix of a reply: the author followed by every
// co-mentioned account, without the bot itself and without repeats.
func Mentions(author string, mentioned []string, self string) string {
	seen := make(map[string]bool, len(mentioned)+1)
	parts := make([]string, 0, len(mentioned)+1)
	for _, acct := range append([]string{author}, mentioned...) {
		acct = strings.TrimPrefix(acct, "@")
		key := strings.ToLower(acct)
		if acct == "" || seen[key] || strings.EqualFold(acct, self) {
			continue
		}
		seen[key] = true
		parts = append(parts, "@"+acct)
	}
	return strings.Join(parts, " ")
}
