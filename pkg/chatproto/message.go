// Package chatproto implements the thin application-layer message grammar
// from spec.md §4.5 and §6: the chat protocol layered atop the reliable
// transport. It is deliberately not part of the transport's hard core —
// just the space-delimited text format the client and server agree on.
package chatproto

import (
	"strconv"
	"strings"
)

// Type is one of the message type tokens spec.md §6 lists.
type Type string

const (
	Join               Type = "join"
	Disconnect         Type = "disconnect"
	RequestUsersList   Type = "request_users_list"
	ResponseUsersList  Type = "response_users_list"
	SendMessage        Type = "send_message"
	ForwardMessage     Type = "forward_message"
	SendFile           Type = "send_file"
	ForwardFile        Type = "forward_file"
	ErrServerFull      Type = "err_server_full"
	ErrUsernameTaken   Type = "err_username_unavailable"
	ErrUnknownMessage  Type = "err_unknown_message"
)

// Message is a parsed application-layer message: its type token plus the
// remaining space-delimited fields.
type Message struct {
	Type   Type
	Fields []string
}

// Parse splits a reliably-delivered payload into its type token and
// fields. An empty payload parses to a Message with an empty Type and no
// fields; callers should treat that the same as an unrecognized type.
func Parse(payload string) Message {
	parts := strings.Split(payload, " ")
	if len(parts) == 0 {
		return Message{}
	}
	return Message{Type: Type(parts[0]), Fields: parts[1:]}
}

// Format renders a type token and fields back into the wire payload.
func Format(t Type, fields ...string) string {
	if len(fields) == 0 {
		return string(t)
	}
	return string(t) + " " + strings.Join(fields, " ")
}

// FormatJoin builds a "join <name>" message.
func FormatJoin(name string) string { return Format(Join, name) }

// FormatDisconnect builds a "disconnect <name>" message.
func FormatDisconnect(name string) string { return Format(Disconnect, name) }

// FormatRequestUsersList builds a "request_users_list" message.
func FormatRequestUsersList() string { return Format(RequestUsersList) }

// FormatResponseUsersList builds a "response_users_list <count> <name>..." message.
func FormatResponseUsersList(names []string) string {
	fields := make([]string, 0, len(names)+1)
	fields = append(fields, strconv.Itoa(len(names)))
	fields = append(fields, names...)
	return Format(ResponseUsersList, fields...)
}

// FormatSendMessage builds a "send_message <n> <user1>...<usern> <body>"
// message addressed to n recipients, with body possibly containing spaces.
func FormatSendMessage(recipients []string, body string) string {
	fields := make([]string, 0, len(recipients)+2)
	fields = append(fields, strconv.Itoa(len(recipients)))
	fields = append(fields, recipients...)
	fields = append(fields, body)
	return Format(SendMessage, fields...)
}

// FormatForwardMessage builds the server's "forward_message 1 <sender> <body>"
// relay of a single-recipient delivery.
func FormatForwardMessage(sender, body string) string {
	return Format(ForwardMessage, "1", sender, body)
}

// FormatSendFile builds a "send_file <n> <user1>...<usern> <filename> <content>" message.
func FormatSendFile(recipients []string, filename, content string) string {
	fields := make([]string, 0, len(recipients)+3)
	fields = append(fields, strconv.Itoa(len(recipients)))
	fields = append(fields, recipients...)
	fields = append(fields, filename, content)
	return Format(SendFile, fields...)
}

// FormatForwardFile builds the server's "forward_file 1 <sender> <filename> <content>" relay.
func FormatForwardFile(sender, filename, content string) string {
	return Format(ForwardFile, "1", sender, filename, content)
}

