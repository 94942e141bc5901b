package transport

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/Ramish25/reliable-chat/pkg/logging"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Message is one reliably-delivered payload handed to the application by
// Recv, paired with the address it arrived from.
type Message struct {
	Payload string
	Addr    string
}

type msgKey struct {
	addr string
	id   MsgID
}

// Socket is the reliable multiplexer of spec.md §4.4: it owns one
// datagram socket, demultiplexes inbound datagrams by (peer, msg_id) onto
// the right Sender or Receiver, and exposes the blocking SendTo/Recv pair
// the application uses instead of talking to senders and receivers
// directly.
type Socket struct {
	cfg  Config
	conn *net.UDPConn

	mu            sync.Mutex
	senders       map[msgKey]*Sender
	receivers     map[msgKey]*Receiver
	senderDoneAt  map[msgKey]time.Time

	inbound chan Message

	timers *TimerManager
	group  *errgroup.Group
	done   chan struct{}
}

// NewSocket binds a UDP socket at localAddr ("host:port", or ":port" to
// bind all interfaces) and starts the background receive loop.
func NewSocket(cfg Config, localAddr string) (*Socket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve local address: %w", err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen: %w", err)
	}

	s := &Socket{
		cfg:          cfg,
		conn:         conn,
		senders:      make(map[msgKey]*Sender),
		receivers:    make(map[msgKey]*Receiver),
		senderDoneAt: make(map[msgKey]time.Time),
		inbound:      make(chan Message, 64),
		timers:       NewTimerManager(),
		done:         make(chan struct{}),
	}

	group := &errgroup.Group{}
	group.Go(s.receiveLoop)
	s.group = group

	// Reclamation sweep (spec.md §9): completed senders are kept around for
	// Timeout*NumRetransmissions to absorb late ACKs, then reaped. Receivers
	// are not reaped; they stay in the map until Close.
	s.timers.SchedulePeriodic("reap", cfg.Timeout, s.reap)

	return s, nil
}

// LocalAddr returns the address the socket is bound to, e.g. for telling
// a peer where to send datagrams when the bind address used ":0".
func (s *Socket) LocalAddr() string {
	return s.conn.LocalAddr().String()
}

// SendDatagram implements Transmitter for both Sender and Receiver.
func (s *Socket) SendDatagram(addr string, data []byte) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	_, err = s.conn.WriteToUDP(data, udpAddr)
	return err
}

// SendTo reliably transports payload to addr, blocking until the message
// is delivered or finally abandoned (spec.md §4.4).
func (s *Socket) SendTo(addr string, payload string) {
	key := s.newSenderKey(addr)

	sender := NewSender(s.cfg, s, addr, key.id, s.timers)

	s.mu.Lock()
	s.senders[key] = sender
	s.mu.Unlock()

	sender.SendMessage(payload)

	s.mu.Lock()
	s.senderDoneAt[key] = time.Now()
	s.mu.Unlock()
}

// Recv blocks until a complete message has been reliably received, then
// returns it along with the sender's address.
func (s *Socket) Recv() Message {
	return <-s.inbound
}

// Close shuts down the receive loop, the timer manager, and the
// underlying UDP socket, combining any errors encountered.
func (s *Socket) Close() error {
	close(s.done)
	connErr := s.conn.Close()
	s.timers.Stop()
	groupErr := s.group.Wait()
	return multierr.Combine(connErr, groupErr)
}

func (s *Socket) newSenderKey(addr string) msgKey {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		id := MsgID(50000 + rand.Intn(50000))
		key := msgKey{addr: addr, id: id}
		if _, exists := s.senders[key]; !exists {
			return key
		}
	}
}

func (s *Socket) receiveLoop() error {
	buf := make([]byte, MaxPacketBytes)
	for {
		select {
		case <-s.done:
			return nil
		default:
		}

		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			logging.Warn("receive loop read error", zap.Error(err))
			return err
		}

		role, id, body, ok := DecodeEnvelope(string(buf[:n]))
		if !ok {
			logging.Warn("dropping malformed envelope", zap.String("peer", addr.String()))
			continue
		}

		packet, ok := DecodePacket(body)
		if !ok {
			logging.Warn("dropping malformed packet", zap.String("peer", addr.String()))
			continue
		}

		key := msgKey{addr: addr.String(), id: id}

		switch role {
		case RoleReceiver:
			s.routeToSender(key, packet)
		case RoleSender:
			s.routeToReceiver(key, packet, addr.String())
		}
	}
}

func (s *Socket) routeToSender(key msgKey, p Packet) {
	s.mu.Lock()
	sender, ok := s.senders[key]
	s.mu.Unlock()

	if !ok {
		logging.Debug("no sender for envelope, dropping", zap.String("peer", key.addr), zap.Int("msgID", int(key.id)))
		return
	}
	sender.OnPacketReceived(p)
}

func (s *Socket) routeToReceiver(key msgKey, p Packet, addr string) {
	s.mu.Lock()
	receiver, ok := s.receivers[key]
	if !ok {
		receiver = NewReceiver(s, addr, key.id)
		s.receivers[key] = receiver
		s.group.Go(func() error {
			s.forwardCompleted(addr, receiver)
			return nil
		})
	}
	s.mu.Unlock()

	receiver.OnPacketReceived(p)
}

// forwardCompleted runs for the lifetime of the socket, not just one
// message: a receiver is never reaped (see reap below), so its msg_id can
// be reused by the peer for a later, unrelated transmission. Exiting after
// the first completion would leave that later message's reassembly
// unforwarded forever.
func (s *Socket) forwardCompleted(addr string, r *Receiver) {
	for {
		select {
		case payload := <-r.Completed:
			select {
			case s.inbound <- Message{Payload: payload, Addr: addr}:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

// reap drops senders whose SendTo call finished more than
// Timeout*NumRetransmissions ago. Receivers are left alone and stay in the
// map until Close. A receiver that has completed a message does not re-ack
// a retransmitted end packet: it ignores data and end packets until a new
// start arrives.
func (s *Socket) reap() {
	grace := s.cfg.Timeout * time.Duration(s.cfg.NumRetransmissions)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, doneAt := range s.senderDoneAt {
		if now.Sub(doneAt) >= grace {
			delete(s.senders, key)
			delete(s.senderDoneAt, key)
		}
	}
}
