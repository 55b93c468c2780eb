package coap

import "time"

// COAPPort is the default UDP port used by this implementation (the
// then-tentative CoAP port at the time the wire format below was drafted).
const COAPPort = 61616

// Config carries the retransmission and retention parameters that the
// original source kept as mutable module globals. Tests that need to
// shadow them should build their own Config rather than mutate shared
// state; see the "Global configuration" design note.
type Config struct {
	// ResponseTimeout is the initial retransmission wait for a
	// confirmable message; it doubles after each retransmission.
	ResponseTimeout time.Duration

	// MaxRetransmit is the total number of transmission attempts for a
	// confirmable message sent to a unicast destination.
	MaxRetransmit int

	// MaxTxHistory is how long a completed or unacknowledged
	// transmission record is retained after its last event before being
	// evicted from the pending map.
	MaxTxHistory time.Duration

	// Port is checked by BindDiscovery: the primary socket joins the
	// discovery group itself only when it is bound to Port and Port is
	// COAPPort. A separate discovery socket always binds to COAPPort.
	Port int
}

// DefaultConfig returns the literal values from the specification:
// RESPONSE_TIMEOUT = 1s, MAX_RETRANSMIT = 5, MAX_TX_HISTORY_SEC = 10s.
func DefaultConfig() Config {
	return Config{
		ResponseTimeout: time.Second,
		MaxRetransmit:   5,
		MaxTxHistory:    10 * time.Second,
		Port:            COAPPort,
	}
}
