package esl

import "strings"

// Outbound commands are bare text terminated by a double newline; the switch
// answers each with a command/reply frame.

// AuthCommand builds the authentication reply to an auth/request challenge.
func AuthCommand(password string) string {
	return "auth " + password + "\n\n"
}

// SubscribeCommand builds a plain-format event subscription for the given
// event kinds.
func SubscribeCommand(kinds ...string) string {
	return "event plain " + strings.Join(kinds, " ") + "\n\n"
}

// ReplyOK reports whether a command/reply frame acknowledged the command.
func ReplyOK(ev Event) bool {
	return strings.HasPrefix(ev.ReplyText(), "+OK")
}
