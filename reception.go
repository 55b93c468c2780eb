package coap

import (
	"errors"
	"time"

	"github.com/rs/xid"
)

// ErrDuplicateReply is returned by Endpoint.Respond when called a second
// time for the same ReceptionRecord (spec.md section 4.7: "Each may be
// invoked at most once per reception record; a second invocation fails").
var ErrDuplicateReply = errors.New("coap: reception record already replied to")

// ReceptionRecord is the per-arrival state for one inbound packet
// (spec.md section 3, "Reception Record"). It carries an xid rather than
// a back-pointer to its correlated TransmissionRecord, resolving the
// "pointer-cycle concern" design note: TransmissionRecord.responses holds
// the owning direction, ReceptionRecord only needs to be identifiable.
type ReceptionRecord struct {
	id            xid.ID
	message       *Message
	remote        Remote
	transactionID uint16
	arrivalTime   time.Time

	// responded tracks the response-sent kind (spec.md section 3): set by
	// the first Endpoint.Respond call for this record, before the reply
	// is packed and sent, and left set even if that send fails. Guarded
	// by the owning Endpoint's mutex, not a mutex of its own, since
	// Respond already holds that lock around every access.
	responded bool
}

func newReceptionRecord(transactionID uint16, message *Message, remote Remote) *ReceptionRecord {
	return &ReceptionRecord{
		id:            xid.New(),
		message:       message,
		remote:        remote,
		transactionID: transactionID,
		arrivalTime:   time.Now(),
	}
}

// ID is a process-unique identifier for this reception, suitable for
// correlating log lines or metrics without holding a pointer back to the
// record itself.
func (rx *ReceptionRecord) ID() string { return rx.id.String() }

// Message is the decoded packet.
func (rx *ReceptionRecord) Message() *Message { return rx.message }

// Remote is the peer the packet arrived from.
func (rx *ReceptionRecord) Remote() Remote { return rx.remote }

// TransactionID is the transaction id carried in the packet header.
func (rx *ReceptionRecord) TransactionID() uint16 { return rx.transactionID }

// ArrivalTime is when the endpoint decoded this packet.
func (rx *ReceptionRecord) ArrivalTime() time.Time { return rx.arrivalTime }

// IsRequest reports whether the message carries a request method code
// (spec.md section 6 code registry: 1-31 are requests, 0 is empty, 32+
// are responses).
func (rx *ReceptionRecord) IsRequest() bool {
	return rx.message.Code >= 1 && rx.message.Code < 32
}

// IsEmpty reports whether the message carries no code (bare ACK/RST).
func (rx *ReceptionRecord) IsEmpty() bool {
	return rx.message.Code == 0
}

// BuildAck constructs the Acknowledgement this reception should be
// answered with when it is a Confirmable request handled synchronously
// (spec.md section 4.6, "piggybacked response"). Pass a nil response to
// emit a bare, empty ACK.
func (rx *ReceptionRecord) BuildAck(response *Message) *Message {
	if response == nil {
		return &Message{Type: Acknowledgement}
	}
	ack := *response
	ack.Type = Acknowledgement
	return &ack
}

// BuildReset constructs the empty Reset this reception should be
// answered with when the receiver cannot process a Confirmable message
// (spec.md section 4.6, "On an unrecognized critical option").
func (rx *ReceptionRecord) BuildReset() *Message {
	return &Message{Type: Reset}
}

func (rx *ReceptionRecord) String() string {
	return rx.message.String() + " from " + rx.remote.String()
}
