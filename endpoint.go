package coap

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"
)

// Endpoint errors (spec.md section 4.6).
var (
	ErrEndpointClosed = errors.New("coap: endpoint closed")
	ErrNotUDPRemote   = errors.New("coap: remote is not a UDP address")
)

// Endpoint is a CoAP transaction processor bound to one primary UDP
// socket, plus any number of discovery sockets (spec.md section 4.6).
// Outgoing (re-)transmission and incoming message handling happen only
// inside Process; Send merely enqueues.
type Endpoint struct {
	cfg Config

	mu        sync.Mutex
	conn      *net.UDPConn
	connFd    int
	discovery map[int]*net.UDPConn

	nextTxID uint32
	pending  map[uint16]*TransmissionRecord

	collector *EndpointCollector
	closed    bool
}

// EndpointOption configures an Endpoint at construction time.
type EndpointOption func(*Endpoint)

// WithCollector attaches a prometheus collector that observes this
// endpoint's traffic (SPEC_FULL section 6).
func WithCollector(c *EndpointCollector) EndpointOption {
	return func(ep *Endpoint) {
		ep.collector = c
		if c != nil {
			c.attach(ep)
		}
	}
}

// NewEndpoint binds a UDP socket at laddr and returns the endpoint ready
// to Send/Process. laddr may have port 0 to let the kernel choose an
// ephemeral port.
func NewEndpoint(laddr *net.UDPAddr, cfg Config, opts ...EndpointOption) (*Endpoint, error) {
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("coap: listen: %w", err)
	}
	fd, err := fdOf(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	ep := &Endpoint{
		cfg:       cfg,
		conn:      conn,
		connFd:    fd,
		discovery: make(map[int]*net.UDPConn),
		nextTxID:  randomTransactionSeed(),
		pending:   make(map[uint16]*TransmissionRecord),
	}
	for _, o := range opts {
		o(ep)
	}
	GLog.Debug("coap: endpoint listening on %s", conn.LocalAddr())
	return ep, nil
}

func fdOf(conn *net.UDPConn) (int, error) {
	fd := netfd.GetFdFromConn(conn)
	if fd < 0 {
		return 0, fmt.Errorf("coap: could not extract file descriptor from %s", conn.LocalAddr())
	}
	return fd, nil
}

func randomTransactionSeed() uint32 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint32(time.Now().UnixNano() & 0xFFFF)
	}
	return uint32(b[0])<<8 | uint32(b[1])
}

// LocalAddr is the address the primary socket is bound to.
func (ep *Endpoint) LocalAddr() net.Addr { return ep.conn.LocalAddr() }

// registerDiscovery adds conn to the set of sockets Process multiplexes
// over, used by BindDiscovery.
func (ep *Endpoint) registerDiscovery(conn *net.UDPConn) error {
	fd, err := fdOf(conn)
	if err != nil {
		return err
	}
	ep.mu.Lock()
	ep.discovery[fd] = conn
	ep.mu.Unlock()
	return nil
}

func (ep *Endpoint) nextTransactionID() uint16 {
	id := uint16(ep.nextTxID & 0xFFFF)
	ep.nextTxID = (ep.nextTxID + 1) & 0xFFFF
	return id
}

// Send enqueues message for transmission to remote, returning the
// TransmissionRecord the endpoint will track. The packet is not placed
// on the wire until the next call to Process (spec.md section 4.5).
func (ep *Endpoint) Send(message *Message, remote Remote) (*TransmissionRecord, error) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.closed {
		return nil, ErrEndpointClosed
	}
	txID := ep.nextTransactionID()
	tx, err := newTransmissionRecord(txID, message, remote, ep.cfg)
	if err != nil {
		return nil, err
	}
	ep.pending[txID] = tx
	return tx, nil
}

// Respond transmits response from the primary socket, correlated to rx
// by its transaction id (spec.md section 4.7: ACK/RST always come from
// the endpoint's own socket, never a discovery socket).
func (ep *Endpoint) Respond(rx *ReceptionRecord, response *Message) error {
	ep.mu.Lock()
	conn := ep.conn
	closed := ep.closed
	if !closed {
		if rx.responded {
			ep.mu.Unlock()
			return ErrDuplicateReply
		}
		rx.responded = true
	}
	ep.mu.Unlock()
	if closed {
		return ErrEndpointClosed
	}
	packed, err := response.Pack(rx.TransactionID())
	if err != nil {
		return err
	}
	udpRemote, ok := rx.Remote().Addr.(*net.UDPAddr)
	if !ok {
		return ErrNotUDPRemote
	}
	_, err = conn.WriteToUDP(packed, udpRemote)
	return err
}

// Process drives the transaction state machine (spec.md section 4.6):
// it (re-)transmits due messages, evicts expired transmission records,
// and reads inbound packets,
// correlating ACK/RST ones to pending transmissions. It loops until it
// reads a packet from the primary socket and returns that packet's
// reception record; packets read from discovery sockets are answered
// with a Reset and not returned. If no such packet arrives within
// timeout (or ever, if timeout is negative) it returns (nil, nil).
func (ep *Endpoint) Process(timeout time.Duration) (*ReceptionRecord, error) {
	hasDeadline := timeout >= 0
	deadline := time.Now().Add(timeout)

	passed := false
	for {
		now := time.Now()
		if passed && hasDeadline && !deadline.After(now) {
			return nil, nil
		}

		transmitDue, nextEvent := ep.dueTransmissions(now)

		pollTimeoutMs := -1
		switch {
		case len(transmitDue) > 0:
			pollTimeoutMs = 0
		default:
			wake := nextEvent
			if hasDeadline && (wake == nil || deadline.Before(*wake)) {
				wake = &deadline
			}
			if wake != nil {
				pollTimeoutMs = msUntil(now, *wake)
			}
		}

		if len(transmitDue) > 0 {
			ep.transmit(transmitDue)
		}

		pfds := ep.pollFds()
		n, err := unix.Poll(pfds, pollTimeoutMs)
		if err != nil {
			if err == unix.EINTR {
				passed = true
				continue
			}
			return nil, fmt.Errorf("coap: poll: %w", err)
		}

		if n > 0 {
			for _, pfd := range pfds {
				if pfd.Revents&unix.POLLIN == 0 {
					continue
				}
				rx, fromDiscovery, err := ep.receiveFrom(int(pfd.Fd))
				if err != nil {
					var uc *UnrecognizedCriticalOptionError
					if errors.As(err, &uc) {
						// spec.md section 7: unrecognized critical options
						// are propagated to the caller, unlike the
						// malformed-packet cases below which are dropped.
						return nil, err
					}
					GLog.Warn("coap: recv failed: %s", err)
					continue
				}
				if rx == nil {
					continue
				}
				if fromDiscovery {
					// A discovery socket is not the endpoint's known
					// address; tell the sender to retry the unicast one
					// (spec.md section 4.6, "Discovery binding").
					if err := ep.Respond(rx, rx.BuildReset()); err != nil {
						GLog.Warn("coap: discovery reset failed: %s", err)
					}
					continue
				}
				return rx, nil
			}
		}
		passed = true
	}
}

func msUntil(now, target time.Time) int {
	if !target.After(now) {
		return 0
	}
	ms := target.Sub(now) / time.Millisecond
	if ms <= 0 {
		return 1
	}
	return int(ms)
}

// dueTransmissions partitions pending transmissions into those ready to
// (re-)send now and the earliest time the caller should next wake up,
// evicting any record whose MaxTxHistory window has elapsed (spec.md
// section 4.6, steps 1-2).
func (ep *Endpoint) dueTransmissions(now time.Time) ([]*TransmissionRecord, *time.Time) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	var due []*TransmissionRecord
	var expired []*TransmissionRecord
	var nextEvent *time.Time

	for _, tx := range ep.pending {
		evt, ok := tx.NextEventTime()
		if ok && !evt.After(now) {
			if tx.TransmissionsLeft() > 0 {
				due = append(due, tx)
			} else {
				tx.markUnacknowledged()
				evt, ok = tx.NextEventTime()
			}
		}
		if !ok {
			if now.After(tx.LastEventTime().Add(ep.cfg.MaxTxHistory)) {
				expired = append(expired, tx)
			}
			continue
		}
		if nextEvent == nil || evt.Before(*nextEvent) {
			e := evt
			nextEvent = &e
		}
	}
	for _, tx := range expired {
		delete(ep.pending, tx.TransactionID())
		if ep.collector != nil {
			ep.collector.observeExpired()
		}
	}
	return due, nextEvent
}

// transmit places each due record's packet on the wire.
//
// TODO: distinguish EAGAIN (retry next Process pass) from a genuine
// transport failure instead of logging and moving on; spec.md leaves
// this for future work (see the "Socket send failure" decision).
func (ep *Endpoint) transmit(due []*TransmissionRecord) {
	ep.mu.Lock()
	conn := ep.conn
	ep.mu.Unlock()

	now := time.Now()
	for _, tx := range due {
		udpRemote, ok := tx.Remote().Addr.(*net.UDPAddr)
		if !ok {
			GLog.Warn("coap: %s has a non-UDP remote, dropping", tx)
			continue
		}
		if _, err := conn.WriteToUDP(tx.Packed(), udpRemote); err != nil {
			GLog.Warn("coap: sendto %s failed: %s", tx.Remote(), err)
			continue
		}
		retransmit := tx.hasBeenTransmitted()
		tx.recordTransmission(now)
		if ep.collector != nil {
			if retransmit {
				ep.collector.observeRetransmit()
			} else {
				ep.collector.observeSent(tx.Message().Type)
			}
		}
	}
}

// pendingStats reports the live count of pending transmission records and
// the subset of those that are unacknowledged, for EndpointCollector.
func (ep *Endpoint) pendingStats() (pending, unacknowledged int) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	pending = len(ep.pending)
	for _, tx := range ep.pending {
		if tx.IsUnacknowledged() {
			unacknowledged++
		}
	}
	return pending, unacknowledged
}

func (ep *Endpoint) receiveFrom(fd int) (rx *ReceptionRecord, fromDiscovery bool, err error) {
	ep.mu.Lock()
	conn := ep.conn
	if fd != ep.connFd {
		c, ok := ep.discovery[fd]
		if !ok {
			ep.mu.Unlock()
			return nil, false, nil
		}
		conn, fromDiscovery = c, true
	}
	ep.mu.Unlock()

	buf := make([]byte, 8192)
	n, addr, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, fromDiscovery, err
	}

	txID, msg, err := Unpack(buf[:n])
	if err != nil {
		if ep.collector != nil {
			ep.collector.observeDecodeError()
		}
		return nil, fromDiscovery, err
	}

	remote := NewRemote(addr)
	rx = newReceptionRecord(txID, msg, remote)

	if msg.Type == Acknowledgement || msg.Type == Reset {
		ep.mu.Lock()
		tx, ok := ep.pending[txID]
		ep.mu.Unlock()
		if ok {
			tx.bindResponse(rx)
		}
	}
	if ep.collector != nil {
		ep.collector.observeReceived(msg.Type)
	}
	return rx, fromDiscovery, nil
}

func (ep *Endpoint) pollFds() []unix.PollFd {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	pfds := make([]unix.PollFd, 0, 1+len(ep.discovery))
	pfds = append(pfds, unix.PollFd{Fd: int32(ep.connFd), Events: unix.POLLIN})
	for fd := range ep.discovery {
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	return pfds
}

// Close releases the primary socket and all discovery sockets. Pending
// transmissions are discarded.
func (ep *Endpoint) Close() error {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.closed {
		return nil
	}
	ep.closed = true
	for _, c := range ep.discovery {
		c.Close()
	}
	return ep.conn.Close()
}
