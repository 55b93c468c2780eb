package coap

import (
	"net"
	"testing"
)

func TestReceptionRecordIsRequest(t *testing.T) {
	remote := NewRemote(&net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 5683})

	req, err := NewMessage(Confirmable, GET, nil)
	if err != nil {
		t.Fatal(err)
	}
	rx := newReceptionRecord(1, req, remote)
	if !rx.IsRequest() {
		t.Error("GET should be a request")
	}
	if rx.IsEmpty() {
		t.Error("GET should not be empty")
	}

	resp, err := NewMessage(Acknowledgement, OK, []byte("ok"))
	if err != nil {
		t.Fatal(err)
	}
	rx2 := newReceptionRecord(2, resp, remote)
	if rx2.IsRequest() {
		t.Error("a 2xx response should not be classified as a request")
	}

	bareAck, err := NewMessage(Acknowledgement, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	rx3 := newReceptionRecord(3, bareAck, remote)
	if !rx3.IsEmpty() {
		t.Error("a code-0 ACK should be empty")
	}
}

func TestReceptionRecordBuildAckPiggybacks(t *testing.T) {
	remote := NewRemote(&net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 5683})
	req, err := NewMessage(Confirmable, GET, nil)
	if err != nil {
		t.Fatal(err)
	}
	rx := newReceptionRecord(7, req, remote)

	bare := rx.BuildAck(nil)
	if bare.Type != Acknowledgement || bare.Code != 0 {
		t.Errorf("bare ack = %v/%v, want ACK/0", bare.Type, bare.Code)
	}

	payload, err := NewMessage(Confirmable, OK, []byte("hi"))
	if err != nil {
		t.Fatal(err)
	}
	piggy := rx.BuildAck(payload)
	if piggy.Type != Acknowledgement {
		t.Errorf("piggybacked ack type = %v, want Acknowledgement", piggy.Type)
	}
	if piggy.Code != OK || string(piggy.Payload) != "hi" {
		t.Errorf("piggybacked ack code/payload = %v/%q, want OK/%q", piggy.Code, piggy.Payload, "hi")
	}

	reset := rx.BuildReset()
	if reset.Type != Reset || reset.Code != 0 {
		t.Errorf("reset = %v/%v, want RST/0", reset.Type, reset.Code)
	}
}
