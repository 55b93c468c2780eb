package coap

import (
	"fmt"
	"time"
)

// TransmissionRecord is the per-send state owned by an Endpoint (spec.md
// section 3, "Transmission Record"; state machine in section 4.5).
type TransmissionRecord struct {
	message       *Message
	remote        Remote
	transactionID uint16
	packed        []byte

	transmissionsLeft int
	responseTimeout   time.Duration

	transmissionTime time.Time // zero until the first transmit
	lastEventTime    time.Time
	nextEventTime    *time.Time

	responseType *CType
	response     *ReceptionRecord
	responses    []*ReceptionRecord
}

func newTransmissionRecord(transactionID uint16, message *Message, remote Remote, cfg Config) (*TransmissionRecord, error) {
	packed, err := message.Pack(transactionID)
	if err != nil {
		return nil, err
	}

	tx := &TransmissionRecord{
		message:           message,
		remote:            remote,
		transactionID:     transactionID,
		packed:            packed,
		responseTimeout:   cfg.ResponseTimeout,
		transmissionsLeft: 1,
	}
	if message.Type == Confirmable && !remote.IsMulticast() {
		tx.transmissionsLeft = cfg.MaxRetransmit
	}
	now := time.Now()
	tx.nextEventTime = &now

	if message.Type != Confirmable {
		t := message.Type
		tx.responseType = &t
	}
	return tx, nil
}

// TransactionID is the id allocated for this transmission.
func (tx *TransmissionRecord) TransactionID() uint16 { return tx.transactionID }

// Message is the source message this transmission derived from. The core
// never mutates it after pack time.
func (tx *TransmissionRecord) Message() *Message { return tx.message }

// Remote is the destination the message was sent to.
func (tx *TransmissionRecord) Remote() Remote { return tx.remote }

// Packed is the byte sequence computed once at record creation.
func (tx *TransmissionRecord) Packed() []byte { return tx.packed }

// ResponseType reports the observed response kind: NON for a
// non-confirmable send (no reply expected), ACK/RST once a correlated
// reply arrives, or (zero, false) while a confirmable send awaits one.
func (tx *TransmissionRecord) ResponseType() (CType, bool) {
	if tx.responseType == nil {
		return 0, false
	}
	return *tx.responseType, true
}

// Response is the first ReceptionRecord interpreted as a reply to this
// transmission, if any.
func (tx *TransmissionRecord) Response() (*ReceptionRecord, bool) {
	return tx.response, tx.response != nil
}

// Responses is every ReceptionRecord that pertained to this transmission,
// in arrival order.
func (tx *TransmissionRecord) Responses() []*ReceptionRecord {
	out := make([]*ReceptionRecord, len(tx.responses))
	copy(out, tx.responses)
	return out
}

// TransmissionsLeft is the number of (re-)transmissions yet to occur.
func (tx *TransmissionRecord) TransmissionsLeft() int { return tx.transmissionsLeft }

// NextEventTime is the wake-up deadline for this transmission's next
// event (retransmission or final timeout), or (zero, false) if none is
// scheduled.
func (tx *TransmissionRecord) NextEventTime() (time.Time, bool) {
	if tx.nextEventTime == nil {
		return time.Time{}, false
	}
	return *tx.nextEventTime, true
}

// LastEventTime is when the last transmission or response event for this
// record occurred.
func (tx *TransmissionRecord) LastEventTime() time.Time { return tx.lastEventTime }

// IsUnacknowledged is true iff retransmission is exhausted and no
// response has ever been observed (spec.md section 4.5).
func (tx *TransmissionRecord) IsUnacknowledged() bool {
	return tx.nextEventTime == nil && tx.responseType == nil
}

// hasBeenTransmitted reports whether this record has ever been placed on
// the wire, distinguishing a first send from a retransmission.
func (tx *TransmissionRecord) hasBeenTransmitted() bool {
	return !tx.transmissionTime.IsZero()
}

// due reports whether this record should be (re-)transmitted now.
func (tx *TransmissionRecord) due(now time.Time) bool {
	return tx.nextEventTime != nil && !tx.nextEventTime.After(now) && tx.transmissionsLeft > 0
}

// markUnacknowledged clears next-event-time once retransmissions are
// exhausted (spec.md section 4.6 step 2).
func (tx *TransmissionRecord) markUnacknowledged() {
	tx.nextEventTime = nil
}

// recordTransmission advances the state machine after the packet has
// actually been sent on the wire (spec.md section 4.5, "On each due
// transmission").
func (tx *TransmissionRecord) recordTransmission(now time.Time) {
	if tx.transmissionTime.IsZero() {
		tx.transmissionTime = now
	}
	tx.lastEventTime = now
	tx.transmissionsLeft--
	next := now.Add(tx.responseTimeout)
	tx.nextEventTime = &next
	tx.responseTimeout *= 2
}

// bindResponse correlates an incoming ACK/RST to this transmission
// (spec.md section 4.5, "When a reception record arrives...").
func (tx *TransmissionRecord) bindResponse(rx *ReceptionRecord) {
	now := time.Now()
	tx.lastEventTime = now
	tx.nextEventTime = nil
	tx.transmissionsLeft = 0
	if tx.response == nil {
		tx.response = rx
	}
	if tx.responseType == nil {
		t := rx.message.Type
		tx.responseType = &t
	}
	tx.responses = append(tx.responses, rx)
}

func (tx *TransmissionRecord) String() string {
	return fmt.Sprintf("%s[%04x]", tx.message.String(), tx.transactionID)
}
