// Package chat implements the small chat application that spec.md §4.5
// and §6 describe as the reliable transport's end-to-end exercise: a
// server that tracks joined users and relays messages and files between
// them, and a client that drives one interactive session against it.
package chat

import (
	"strconv"
	"strings"
	"sync"

	"github.com/Ramish25/reliable-chat/pkg/chatproto"
	"github.com/Ramish25/reliable-chat/pkg/logging"
	"github.com/Ramish25/reliable-chat/pkg/transport"
	"go.uber.org/zap"
)

// MaxClients bounds how many joined users the server tracks at once,
// grounded on the original server's util.MAX_NUM_CLIENTS.
const MaxClients = 10

type client struct {
	username string
	addr     string
}

// Server is the chat relay: it never originates conversation, only
// tracks who has joined and forwards messages and files between them.
type Server struct {
	sock *transport.Socket

	mu      sync.Mutex
	clients []client
}

// NewServer wraps an already-bound reliable socket with chat semantics.
func NewServer(sock *transport.Socket) *Server {
	return &Server{sock: sock}
}

// Run processes inbound chat protocol messages until the socket is
// closed out from under it.
func (s *Server) Run() {
	for {
		msg := s.sock.Recv()
		cmd := chatproto.Parse(msg.Payload)
		s.dispatch(cmd, msg.Addr)
	}
}

func (s *Server) dispatch(msg chatproto.Message, addr string) {
	switch msg.Type {
	case chatproto.Join:
		s.handleJoin(msg, addr)
	case chatproto.RequestUsersList:
		s.handleUsersList(addr)
	case chatproto.SendMessage:
		s.handleSendMessage(msg, addr)
	case chatproto.SendFile:
		s.handleSendFile(msg, addr)
	case chatproto.Disconnect:
		s.handleDisconnect(msg, addr)
	default:
		logging.Info("rejecting unknown command", zap.String("type", string(msg.Type)))
		s.sock.SendTo(addr, chatproto.Format(chatproto.ErrUnknownMessage))
	}
}

func (s *Server) usernameFor(addr string) string {
	for _, c := range s.clients {
		if c.addr == addr {
			return c.username
		}
	}
	return ""
}

func (s *Server) handleJoin(msg chatproto.Message, addr string) {
	if len(msg.Fields) < 1 {
		return
	}
	username := msg.Fields[0]

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.clients) >= MaxClients {
		logging.Info("rejecting join, server full", zap.String("username", username))
		s.sock.SendTo(addr, chatproto.Format(chatproto.ErrServerFull))
		return
	}
	for _, c := range s.clients {
		if c.username == username {
			logging.Info("rejecting join, username taken", zap.String("username", username))
			s.sock.SendTo(addr, chatproto.Format(chatproto.ErrUsernameTaken))
			return
		}
	}

	s.clients = append(s.clients, client{username: username, addr: addr})
	logging.Info("client joined", zap.String("username", username))
}

func (s *Server) handleDisconnect(msg chatproto.Message, addr string) {
	if len(msg.Fields) < 1 {
		return
	}
	username := msg.Fields[0]

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, c := range s.clients {
		if c.username == username && c.addr == addr {
			s.clients = append(s.clients[:i], s.clients[i+1:]...)
			logging.Info("client disconnected", zap.String("username", username))
			return
		}
	}
}

func (s *Server) handleUsersList(addr string) {
	s.mu.Lock()
	names := make([]string, len(s.clients))
	for i, c := range s.clients {
		names[i] = c.username
	}
	s.mu.Unlock()

	s.sock.SendTo(addr, chatproto.FormatResponseUsersList(names))
}

func (s *Server) handleSendMessage(msg chatproto.Message, addr string) {
	s.mu.Lock()
	username := s.usernameFor(addr)
	s.mu.Unlock()

	recipients, body, ok := splitAddressed(msg.Fields, 1)
	if !ok {
		logging.Info("disconnecting client, sent unknown command", zap.String("username", username))
		s.sock.SendTo(addr, chatproto.Format(chatproto.ErrUnknownMessage))
		return
	}

	out := chatproto.FormatForwardMessage(username, body)
	s.relay(recipients, out)
	logging.Info("relayed message", zap.String("from", username))
}

func (s *Server) handleSendFile(msg chatproto.Message, addr string) {
	s.mu.Lock()
	username := s.usernameFor(addr)
	s.mu.Unlock()

	recipients, rest, ok := splitAddressed(msg.Fields, 2)
	if !ok {
		logging.Info("disconnecting client, sent unknown command", zap.String("username", username))
		s.sock.SendTo(addr, chatproto.Format(chatproto.ErrUnknownMessage))
		return
	}

	// rest is "<filename> <content...>"; splitAddressed already joined the
	// trailing fields with single spaces so the first token is the name.
	filename, content := splitFirstField(rest)
	out := chatproto.FormatForwardFile(username, filename, content)
	s.relay(recipients, out)
	logging.Info("relayed file", zap.String("from", username), zap.String("filename", filename))
}

// relay delivers payload to each named recipient that is currently
// joined, at most once per name, mirroring the original server's
// sent_to_clients bookkeeping.
func (s *Server) relay(recipients []string, payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delivered := make(map[string]bool, len(recipients))
	for _, name := range recipients {
		if delivered[name] {
			continue
		}
		for _, c := range s.clients {
			if c.username == name {
				s.sock.SendTo(c.addr, payload)
				delivered[name] = true
				break
			}
		}
		if !delivered[name] {
			logging.Debug("relay target not online", zap.String("username", name))
		}
	}
}

// splitAddressed parses "<n> <r1>..<rn> <trailing...>" fields (n at
// fields[0]) into the recipient names and the trailing content, requiring
// at least minTrailing trailing fields.
func splitAddressed(fields []string, minTrailing int) ([]string, string, bool) {
	if len(fields) < 1 {
		return nil, "", false
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 0 {
		return nil, "", false
	}
	if len(fields) < 1+n+minTrailing {
		return nil, "", false
	}
	recipients := fields[1 : 1+n]
	trailing := fields[1+n:]
	return recipients, strings.Join(trailing, " "), true
}

func splitFirstField(s string) (first, rest string) {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}
