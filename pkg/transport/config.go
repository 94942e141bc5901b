package transport

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the tunable constants the protocol reads instead of process-
// wide globals (spec.md §9, "Fixed global state"). A Socket is constructed
// with one Config and every Sender/Receiver it spawns inherits it.
type Config struct {
	// ChunkSize is the maximum payload bytes carried by one data packet.
	ChunkSize int
	// Timeout is how long a sender waits for an ACK before retransmitting,
	// and how often the socket's periodic sender-reaping sweep runs.
	Timeout time.Duration
	// NumRetransmissions bounds the handshake/teardown retry budget before
	// a message is abandoned.
	NumRetransmissions int
	// WindowSize bounds how many distinct data sequences may be in flight
	// at once for a single message.
	WindowSize int
}

// DefaultConfig returns the constants used by the reference chat
// application: an 800-byte chunk keeps a fully encoded data packet (type,
// seq, data, checksum, envelope) comfortably under the 1500-byte MTU
// budget from spec.md §6: data is carried verbatim, so the only overhead is
// the envelope prefix and the type, seq and checksum fields.
func DefaultConfig() Config {
	return Config{
		ChunkSize:          800,
		Timeout:            500 * time.Millisecond,
		NumRetransmissions: 5,
		WindowSize:         3,
	}
}

// WithWindowSize returns a copy of cfg with WindowSize replaced. Window
// size is a per-endpoint construction parameter (spec.md §6) distinct from
// the rest of the shared tunables, so callers vary it without building a
// whole new Config by hand.
func (cfg Config) WithWindowSize(n int) Config {
	cfg.WindowSize = n
	return cfg
}

// MaxPacketBytes is the MTU-friendly ceiling from spec.md §3: "Packet
// length on the wire <= 1500 bytes".
const MaxPacketBytes = 1500

// yamlConfig mirrors Config's fields with yaml tags and duration strings,
// the shape a --config file on disk is expected to take.
type yamlConfig struct {
	ChunkSize          int    `yaml:"chunk_size"`
	Timeout            string `yaml:"timeout"`
	NumRetransmissions int    `yaml:"num_retransmissions"`
	WindowSize         int    `yaml:"window_size"`
}

// LoadConfig reads a YAML config file, overlaying it onto base so a file
// only needs to specify what it overrides; callers pass in whatever
// defaults and flag-derived values should survive an unset field (e.g.
// DefaultConfig().WithWindowSize(flagValue)) rather than always falling
// back to DefaultConfig, which would silently undo a command-line flag.
func LoadConfig(base Config, path string) (Config, error) {
	cfg := base

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("transport: read config %s: %w", path, err)
	}

	var y yamlConfig
	if err := yaml.Unmarshal(raw, &y); err != nil {
		return Config{}, fmt.Errorf("transport: parse config %s: %w", path, err)
	}

	if y.ChunkSize > 0 {
		cfg.ChunkSize = y.ChunkSize
	}
	if y.Timeout != "" {
		d, err := time.ParseDuration(y.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("transport: invalid timeout %q: %w", y.Timeout, err)
		}
		cfg.Timeout = d
	}
	if y.NumRetransmissions > 0 {
		cfg.NumRetransmissions = y.NumRetransmissions
	}
	if y.WindowSize > 0 {
		cfg.WindowSize = y.WindowSize
	}

	return cfg, nil
}
