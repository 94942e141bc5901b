package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// Role identifies which side of a single message's transmission a
// datagram was emitted by: the sender transmitting data, or the receiver
// acknowledging it. This is distinct from whether the local process is
// acting as a chat client or chat server — a single reliable socket runs
// both sender and receiver roles concurrently, one per in-flight message.
type Role string

const (
	// RoleSender marks a datagram emitted by a message's sender side
	// (start/data/end packets).
	RoleSender Role = "s"
	// RoleReceiver marks a datagram emitted by a message's receiver side
	// (ack packets).
	RoleReceiver Role = "r"
)

// MsgID identifies one logical transmission between a sender and a
// receiver, unique per peer address for as long as the transmission (and
// its reclamation grace period) is outstanding.
type MsgID int

// EncodeEnvelope prepends the two-field role/msg-id prefix spec.md §6
// requires on every datagram: "<role>:<msg_id>:<packet>".
func EncodeEnvelope(role Role, id MsgID, packet string) string {
	return fmt.Sprintf("%s:%d:%s", role, id, packet)
}

// DecodeEnvelope splits a raw datagram into its role, message id, and
// packet body. The packet body may itself contain ':' (it never does with
// this wire format, since '|' is the packet delimiter, but the split is
// defensive about it anyway) so only the first two ':'-delimited fields
// are consumed.
func DecodeEnvelope(raw string) (role Role, id MsgID, packet string, ok bool) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 {
		return "", 0, "", false
	}

	switch Role(parts[0]) {
	case RoleSender, RoleReceiver:
	default:
		return "", 0, "", false
	}

	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, "", false
	}

	return Role(parts[0]), MsgID(n), parts[2], true
}
