package transport

import (
	"container/list"
	"fmt"
	"math/rand"
	"time"

	"github.com/Ramish25/reliable-chat/pkg/logging"
	"go.uber.org/zap"
)

// Transmitter is the narrow send-side interface a Sender needs from its
// owning Socket: encode the envelope and hand the datagram to the host's
// datagram socket. Kept separate from *Socket so Sender can be tested
// without a real UDP connection (see sender_test.go).
type Transmitter interface {
	SendDatagram(addr string, data []byte) error
}

type inFlightEntry struct {
	seq    int
	packet Packet
	sentAt time.Time
}

// Sender drives one outbound message through handshake, sliding-window
// data transfer, and teardown (spec.md §4.2). One Sender exists per
// outstanding (peer, msg_id) pair; its AckQueue is fed by the owning
// Socket's receive loop whenever a matching ACK datagram arrives.
type Sender struct {
	cfg    Config
	tx     Transmitter
	addr   string
	id     MsgID
	timers *TimerManager

	// AckQueue carries validated-or-not ACK packets from the receive loop
	// to SendMessage. It is allocated at construction (spec.md §9: a
	// lazily-initialized queue races against an ACK arriving before the
	// send loop starts), never lazily on first use.
	AckQueue chan Packet

	// onWindowSample, if set, is called with the number of distinct
	// in-flight sequences after every window fill. Test instrumentation
	// only (spec.md §8 scenario 5's window-discipline check); nil in
	// production.
	onWindowSample func(n int)
}

// NewSender constructs a Sender ready to receive ACKs before SendMessage
// is ever called. timers backs the per-packet retransmission timeout (see
// waitForAck), the same TimerManager.Schedule/StopTimer pairing the
// teacher's pkg/custom/reliable/utils.go drives its own message-timeout
// retries through, rather than a hand-rolled time.After loop.
func NewSender(cfg Config, tx Transmitter, addr string, id MsgID, timers *TimerManager) *Sender {
	return &Sender{
		cfg:      cfg,
		tx:       tx,
		addr:     addr,
		id:       id,
		timers:   timers,
		AckQueue: make(chan Packet, cfg.WindowSize*4+8),
	}
}

// timerKey names this sender's retransmission timer uniquely within the
// shared TimerManager, analogous to the teacher's RPCID-keyed message
// timers (pkg/custom/reliable/utils.go's TimerKeyMessageTimeoutBase+rpcID).
func (s *Sender) timerKey() TimerKey {
	return TimerKey(fmt.Sprintf("sender:%s:%d", s.addr, s.id))
}

// OnPacketReceived is called by the Socket's receive loop for every
// datagram addressed to this sender (i.e. every ACK). It must not block.
func (s *Sender) OnPacketReceived(p Packet) {
	select {
	case s.AckQueue <- p:
	default:
		// Queue saturated by a burst of stale ACKs; drop this incoming ACK
		// rather than block the receive loop. SendMessage's
		// cumulative-ACK logic tolerates missed ACKs because a later one
		// will still advance window_base past them.
		logging.Warn("sender ack queue full, dropping ack",
			zap.String("addr", s.addr), zap.Int("msgID", int(s.id)), zap.Int("seq", p.Seq))
	}
}

func (s *Sender) send(p Packet) {
	env := EncodeEnvelope(RoleSender, s.id, p.Encode())
	if err := s.tx.SendDatagram(s.addr, []byte(env)); err != nil {
		logging.Warn("sender failed to write datagram", zap.Error(err), zap.String("addr", s.addr))
	}
}

// waitForAck blocks for up to cfg.Timeout for the next packet on AckQueue,
// reporting ok=false on timeout. The timeout itself is driven by
// s.timers.Schedule under this sender's timerKey rather than an inline
// time.After, so every retry rearms the same one-shot timer the way the
// teacher's checkRetransmission reschedules TimerKeyMessageTimeoutBase+rpcID
// on every retransmit.
func (s *Sender) waitForAck() (Packet, bool) {
	timedOut := make(chan struct{}, 1)
	s.timers.Schedule(s.timerKey(), s.cfg.Timeout, func() {
		select {
		case timedOut <- struct{}{}:
		default:
		}
	})

	select {
	case p := <-s.AckQueue:
		s.timers.StopTimer(s.timerKey())
		return p, true
	case <-timedOut:
		return Packet{}, false
	}
}

// SendMessage reliably transmits payload to the sender's destination,
// blocking until it is delivered or abandoned after NumRetransmissions
// consecutive handshake/teardown timeouts (spec.md §4.2). It never
// propagates failure to the caller: an abandoned message is only
// observable as a missing delivery on the peer (spec.md §7).
func (s *Sender) SendMessage(payload string) {
	chunks := chunk(payload, s.cfg.ChunkSize)

	baseSeq := 1000 + rand.Intn(9000)

	if !s.reliablyExchange(PacketStart, baseSeq, "", baseSeq+1) {
		logging.Warn("sender abandoned message at handshake", zap.String("addr", s.addr), zap.Int("msgID", int(s.id)))
		return
	}

	finalSeq := baseSeq + len(chunks)
	nextSeq := baseSeq + 1
	windowBase := nextSeq
	inFlight := list.New()
	inFlightIndex := make(map[int]*list.Element)

	for windowBase <= finalSeq {
		for nextSeq < windowBase+s.cfg.WindowSize && nextSeq-baseSeq-1 < len(chunks) {
			data := chunks[nextSeq-baseSeq-1]
			p := MakePacket(PacketData, nextSeq, data)
			s.send(p)
			elem := inFlight.PushBack(&inFlightEntry{seq: nextSeq, packet: p, sentAt: time.Now()})
			inFlightIndex[nextSeq] = elem
			nextSeq++
		}
		if s.onWindowSample != nil {
			s.onWindowSample(len(inFlightIndex))
		}

		ack, ok := s.waitForAck()
		if !ok {
			now := time.Now()
			for e := inFlight.Front(); e != nil; e = e.Next() {
				entry := e.Value.(*inFlightEntry)
				if now.Sub(entry.sentAt) >= s.cfg.Timeout {
					s.send(entry.packet)
					entry.sentAt = now
				}
			}
			continue
		}

		if !ValidateChecksum(ack) || ack.Type != PacketAck {
			continue
		}

		for seq, elem := range inFlightIndex {
			if seq < ack.Seq {
				inFlight.Remove(elem)
				delete(inFlightIndex, seq)
			}
		}
		if ack.Seq > windowBase {
			windowBase = ack.Seq
		}
	}

	endSeq := nextSeq
	if !s.reliablyExchange(PacketEnd, endSeq, "", endSeq+1) {
		logging.Warn("sender abandoned message at teardown", zap.String("addr", s.addr), zap.Int("msgID", int(s.id)))
	}
}

// reliablyExchange sends a start or end packet up to NumRetransmissions
// times, waiting for a matching ACK after each attempt. A stray ACK whose
// sequence doesn't match re-loops without consuming an attempt (spec.md
// §9 open question); only a timeout consumes one.
func (s *Sender) reliablyExchange(t PacketType, seq int, data string, wantAckSeq int) bool {
	p := MakePacket(t, seq, data)

	attempts := 0
	s.send(p)
	for attempts < s.cfg.NumRetransmissions {
		ack, ok := s.waitForAck()
		if !ok {
			attempts++
			if attempts >= s.cfg.NumRetransmissions {
				return false
			}
			s.send(p)
			continue
		}
		if !ValidateChecksum(ack) || ack.Type != PacketAck {
			continue
		}
		if ack.Seq == wantAckSeq {
			return true
		}
		// Non-matching ACK: re-loop without charging an attempt.
	}
	return false
}

// chunk splits payload into pieces of at most size bytes, preserving the
// empty-message case as a single empty chunk list (spec.md §8: len(M)==0
// transmits start->end with no data packets).
func chunk(payload string, size int) []string {
	if len(payload) == 0 {
		return nil
	}
	var out []string
	for i := 0; i < len(payload); i += size {
		end := i + size
		if end > len(payload) {
			end = len(payload)
		}
		out = append(out, payload[i:end])
	}
	return out
}
