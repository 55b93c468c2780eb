// Package coap implements a CoAP endpoint: message codec, option and
// link-format grammars, and the transmission/reception state machines
// that drive a poll-based client/server event loop.
package coap

// Handler dispatches a received CoAP message to application logic.
type Handler interface {
	// ServeCOAP handles rx and optionally returns a response to send
	// back through ep (piggybacked via ep.Respond, not a raw Transmit —
	// the reply must be correlated to rx's transaction id).
	ServeCOAP(ep *Endpoint, rx *ReceptionRecord) *Message
}

type funcHandler func(ep *Endpoint, rx *ReceptionRecord) *Message

func (f funcHandler) ServeCOAP(ep *Endpoint, rx *ReceptionRecord) *Message {
	return f(ep, rx)
}

// FuncHandler builds a Handler from a function.
func FuncHandler(f func(ep *Endpoint, rx *ReceptionRecord) *Message) Handler {
	return funcHandler(f)
}

// Serve runs ep.Process in a loop, dispatching every reception that
// carries a request to rh. For a confirmable request it sends back
// whatever response rh returns as a piggybacked acknowledgement (a bare
// ACK when rh returns nil); for a non-confirmable request the response
// is discarded and nothing is sent. It returns only on a
// non-nil error from Process (spec.md section 4.6 leaves loop
// termination to the caller; Serve is the minimal convenience the core
// provides, not a resource router — see the Non-goal on application
// dispatch).
func Serve(ep *Endpoint, rh Handler) error {
	for {
		rx, err := ep.Process(-1)
		if err != nil {
			return err
		}
		if rx == nil || !rx.IsRequest() {
			continue
		}
		if debugEnable {
			GLog.Debug("[coap] %s", rx)
		}

		response := rh.ServeCOAP(ep, rx)
		if rx.Message().Type != Confirmable {
			continue
		}
		if err := ep.Respond(rx, rx.BuildAck(response)); err != nil {
			GLog.Warn("[coap] ack to %s failed: %s", rx.Remote(), err)
		}
	}
}
