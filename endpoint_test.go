package coap

import (
	"errors"
	"net"
	"testing"
	"time"
)

func newLoopbackEndpoint(t *testing.T) *Endpoint {
	t.Helper()
	ep, err := NewEndpoint(&net.UDPAddr{IP: net.ParseIP("127.0.0.1")}, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ep.Close() })
	return ep
}

func TestEndpointSendProcessAckRoundTrip(t *testing.T) {
	client := newLoopbackEndpoint(t)
	server := newLoopbackEndpoint(t)

	req, err := NewMessage(Confirmable, GET, nil, WithURIPath("time"))
	if err != nil {
		t.Fatal(err)
	}
	serverAddr := NewRemote(server.LocalAddr().(*net.UDPAddr))
	tx, err := client.Send(req, serverAddr)
	if err != nil {
		t.Fatal(err)
	}

	rx, err := client.Process(200 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if rx != nil {
		t.Fatalf("client should not have received anything yet, got %v", rx)
	}

	rxOnServer, err := server.Process(200 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if rxOnServer == nil {
		t.Fatal("server did not receive the request")
	}
	if !rxOnServer.IsRequest() || rxOnServer.Message().Code != GET {
		t.Fatalf("server received %v, want a GET request", rxOnServer.Message())
	}

	resp, err := NewMessage(Acknowledgement, OK, []byte("12:00"))
	if err != nil {
		t.Fatal(err)
	}
	if err := server.Respond(rxOnServer, rxOnServer.BuildAck(resp)); err != nil {
		t.Fatal(err)
	}

	ackRx, err := client.Process(200 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if ackRx == nil {
		t.Fatal("client did not receive the ack")
	}
	if ackRx.Message().Type != Acknowledgement || ackRx.Message().Code != OK {
		t.Fatalf("client received %v, want ACK/OK", ackRx.Message())
	}

	bound, ok := tx.Response()
	if !ok || bound != ackRx {
		t.Fatal("transmission record was not correlated with the ack")
	}
	if tx.IsUnacknowledged() {
		t.Error("transmission should not be unacknowledged once an ack arrives")
	}
}

func TestEndpointProcessPropagatesUnrecognizedCriticalOption(t *testing.T) {
	client := newLoopbackEndpoint(t)
	server := newLoopbackEndpoint(t)

	req, err := NewMessage(Confirmable, GET, nil)
	if err != nil {
		t.Fatal(err)
	}
	// 11 is odd (critical, spec.md section 3) and absent from the
	// registry, so the server's decode must fail instead of dropping it.
	req.SetOption(newRawOption(OptionNumber(11), []byte("x")))

	serverAddr := NewRemote(server.LocalAddr().(*net.UDPAddr))
	if _, err := client.Send(req, serverAddr); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Process(200 * time.Millisecond); err != nil {
		t.Fatal(err)
	}

	rx, err := server.Process(200 * time.Millisecond)
	if err == nil {
		t.Fatal("expected an error decoding the unrecognized critical option")
	}
	if rx != nil {
		t.Fatalf("expected no reception record alongside the error, got %v", rx)
	}
	var uc *UnrecognizedCriticalOptionError
	if !errors.As(err, &uc) {
		t.Fatalf("expected *UnrecognizedCriticalOptionError, got %T: %s", err, err)
	}
	if uc.Number != OptionNumber(11) {
		t.Errorf("Number = %d, want 11", uc.Number)
	}
}

func TestEndpointRespondRejectsDuplicateReply(t *testing.T) {
	client := newLoopbackEndpoint(t)
	server := newLoopbackEndpoint(t)

	req, err := NewMessage(Confirmable, GET, nil, WithURIPath("time"))
	if err != nil {
		t.Fatal(err)
	}
	serverAddr := NewRemote(server.LocalAddr().(*net.UDPAddr))
	if _, err := client.Send(req, serverAddr); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Process(200 * time.Millisecond); err != nil {
		t.Fatal(err)
	}

	rxOnServer, err := server.Process(200 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if rxOnServer == nil {
		t.Fatal("server did not receive the request")
	}

	ack := rxOnServer.BuildAck(nil)
	if err := server.Respond(rxOnServer, ack); err != nil {
		t.Fatalf("first Respond failed: %s", err)
	}
	if err := server.Respond(rxOnServer, ack); !errors.Is(err, ErrDuplicateReply) {
		t.Fatalf("second Respond error = %v, want ErrDuplicateReply", err)
	}
}

func TestEndpointProcessTimesOutWithNoTraffic(t *testing.T) {
	ep := newLoopbackEndpoint(t)
	rx, err := ep.Process(20 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if rx != nil {
		t.Fatalf("expected no reception, got %v", rx)
	}
}
