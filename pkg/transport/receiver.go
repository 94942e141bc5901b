package transport

import (
	"sort"
	"strings"
	"sync"

	"github.com/Ramish25/reliable-chat/pkg/logging"
	"go.uber.org/zap"
)

// Receiver reassembles one inbound message from a stream of start/data/end
// packets belonging to one (peer, msg_id) pair, emitting cumulative ACKs
// as it goes (spec.md §4.3). One Receiver is constructed per inbound
// message id the first time the Socket sees a datagram for it.
type Receiver struct {
	tx   Transmitter
	addr string
	id   MsgID

	mu                 sync.Mutex
	started            bool
	startSeq           int
	highestContiguous  int
	chunks             map[int]string

	// Completed receives the fully reassembled payload exactly once, when
	// an end packet closes out a transmission.
	Completed chan string
}

// NewReceiver constructs a Receiver with its completion channel ready,
// mirroring the sender's eager-allocation discipline from spec.md §9.
func NewReceiver(tx Transmitter, addr string, id MsgID) *Receiver {
	return &Receiver{
		tx:        tx,
		addr:      addr,
		id:        id,
		Completed: make(chan string, 1),
	}
}

func (r *Receiver) send(p Packet) {
	env := EncodeEnvelope(RoleReceiver, r.id, p.Encode())
	if err := r.tx.SendDatagram(r.addr, []byte(env)); err != nil {
		logging.Warn("receiver failed to write ack", zap.Error(err), zap.String("addr", r.addr))
	}
}

// OnPacketReceived processes one inbound packet synchronously and without
// blocking (spec.md §4.3). Bad-checksum and pre-start data/end packets are
// dropped silently, with no ACK emitted, letting the sender's retransmit
// timer recover.
func (r *Receiver) OnPacketReceived(p Packet) {
	if !ValidateChecksum(p) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch p.Type {
	case PacketStart:
		r.handleStart(p)
	case PacketData:
		r.handleData(p)
	case PacketEnd:
		r.handleEnd(p)
	}
}

// handleStart begins (or re-acknowledges) a transmission. A duplicate
// start whose sequence matches the one already in progress is just
// re-acked, not treated as a reset — resolving the spec.md §9 open
// question where resetting on every duplicate start can lose a mid-flight
// transfer. Only a start carrying a genuinely new sequence begins fresh
// reassembly.
func (r *Receiver) handleStart(p Packet) {
	if r.started && p.Seq == r.startSeq {
		r.send(MakePacket(PacketAck, p.Seq+1, ""))
		return
	}

	r.startSeq = p.Seq
	r.highestContiguous = p.Seq
	r.chunks = make(map[int]string)
	r.started = true
	r.send(MakePacket(PacketAck, p.Seq+1, ""))
}

func (r *Receiver) handleData(p Packet) {
	if !r.started {
		return
	}

	if _, ok := r.chunks[p.Seq]; !ok {
		r.chunks[p.Seq] = p.Data
	}

	for {
		if _, ok := r.chunks[r.highestContiguous+1]; !ok {
			break
		}
		r.highestContiguous++
	}

	r.send(MakePacket(PacketAck, r.highestContiguous+1, ""))
}

func (r *Receiver) handleEnd(p Packet) {
	if !r.started {
		return
	}

	seqs := make([]int, 0, len(r.chunks))
	for seq := range r.chunks {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)

	var b strings.Builder
	for _, seq := range seqs {
		b.WriteString(r.chunks[seq])
	}

	r.started = false
	select {
	case r.Completed <- b.String():
	default:
		logging.Warn("receiver completion channel full, dropping reassembled message",
			zap.String("addr", r.addr), zap.Int("msgID", int(r.id)))
	}

	r.send(MakePacket(PacketAck, p.Seq+1, ""))
}
