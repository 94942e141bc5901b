package chat

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/Ramish25/reliable-chat/pkg/chatproto"
	"github.com/Ramish25/reliable-chat/pkg/logging"
	"github.com/Ramish25/reliable-chat/pkg/transport"
	"go.uber.org/zap"
)

const helpText = `This is a list of all possible user inputs and their formats.

	Message function format:
	msg <number_of_users> <username1> <username2> ... <message>

	Available users function format:
	list

	File Sharing function format:
	file <number_of_users> <username1> <username2> ... <file_name>

	Help function:
	help

	Quitting function:
	quit
`

// Client drives one interactive chat session: a command loop reading
// from an io.Reader and a receive loop printing/materializing whatever
// the server relays.
type Client struct {
	sock       *transport.Socket
	serverAddr string
	name       string

	connected atomic.Bool
	out       io.Writer
	writeFile func(name, content string) error
}

// NewClient wraps a bound reliable socket with chat client semantics,
// targeting serverAddr for every outbound message.
func NewClient(sock *transport.Socket, serverAddr, username string) *Client {
	c := &Client{
		sock:       sock,
		serverAddr: serverAddr,
		name:       username,
		out:        os.Stdout,
	}
	c.connected.Store(true)
	c.writeFile = c.defaultWriteFile
	return c
}

func (c *Client) defaultWriteFile(name, content string) error {
	return os.WriteFile(c.name+"_"+name, []byte(content), 0o644)
}

// Join sends the initial join announcement, mirroring the original
// client's unconditional join-on-start behavior.
func (c *Client) Join() {
	c.sock.SendTo(c.serverAddr, chatproto.FormatJoin(c.name))
}

// Connected reports whether the session is still active; false once a
// server error message or a local quit has ended it.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// ReceiveLoop processes every message the server relays until the
// session ends. Intended to run in its own goroutine, as in the original
// client's daemon receive thread.
func (c *Client) ReceiveLoop() {
	for c.Connected() {
		msg := c.sock.Recv()
		c.handleInbound(chatproto.Parse(msg.Payload))
	}
}

func (c *Client) handleInbound(msg chatproto.Message) {
	switch msg.Type {
	case chatproto.ErrServerFull:
		c.connected.Store(false)
		fmt.Fprintln(c.out, "disconnected: server full")
	case chatproto.ErrUsernameTaken:
		c.connected.Store(false)
		fmt.Fprintln(c.out, "disconnected: username not available")
	case chatproto.ErrUnknownMessage:
		c.connected.Store(false)
		fmt.Fprintln(c.out, "disconnected: server received an unknown command")
	case chatproto.ResponseUsersList:
		if len(msg.Fields) < 1 {
			return
		}
		names := append([]string(nil), msg.Fields[1:]...)
		sort.Strings(names)
		fmt.Fprintln(c.out, "list:", strings.Join(names, " "))
	case chatproto.ForwardMessage:
		if len(msg.Fields) < 2 {
			return
		}
		sender := msg.Fields[1]
		body := strings.Join(msg.Fields[2:], " ")
		fmt.Fprintf(c.out, "msg: %s: %s\n", sender, body)
	case chatproto.ForwardFile:
		if len(msg.Fields) < 3 {
			return
		}
		sender := msg.Fields[1]
		filename := msg.Fields[2]
		content := strings.Join(msg.Fields[3:], " ")
		if err := c.writeFile(filename, content); err != nil {
			logging.Warn("failed to save incoming file", zap.Error(err), zap.String("filename", filename))
			return
		}
		fmt.Fprintf(c.out, "file: %s: %s\n", sender, filename)
	}
}

// CommandLoop reads one line at a time from r and acts on it until the
// session ends or r is exhausted, mirroring the original client's
// blocking-input loop.
func (c *Client) CommandLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for c.Connected() && scanner.Scan() {
		line := scanner.Text()
		if !c.Connected() {
			break
		}
		c.handleLine(line)
	}
}

func (c *Client) handleLine(line string) {
	cmd, err := chatproto.ParseCommand(line)
	if err != nil {
		fmt.Fprintln(c.out, "incorrect userinput format")
		return
	}

	switch cmd.Kind {
	case chatproto.CmdHelp:
		fmt.Fprint(c.out, helpText)
	case chatproto.CmdList:
		c.sock.SendTo(c.serverAddr, chatproto.FormatRequestUsersList())
	case chatproto.CmdMsg:
		c.sock.SendTo(c.serverAddr, chatproto.FormatSendMessage(cmd.Recipients, cmd.Body))
	case chatproto.CmdFile:
		c.sendFile(cmd)
	case chatproto.CmdQuit:
		c.connected.Store(false)
		fmt.Fprintln(c.out, "quitting")
		c.sock.SendTo(c.serverAddr, chatproto.FormatDisconnect(c.name))
	default:
		fmt.Fprintln(c.out, "incorrect userinput format")
	}
}

func (c *Client) sendFile(cmd chatproto.Command) {
	content, err := os.ReadFile(cmd.Body)
	if err != nil {
		fmt.Fprintln(c.out, "The specified file does not exist.")
		return
	}
	c.sock.SendTo(c.serverAddr, chatproto.FormatSendFile(cmd.Recipients, cmd.Body, string(content)))
}
