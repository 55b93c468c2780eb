package coap

import (
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestEndpointCollectorPendingAndRetransmitCounts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetransmit = 4
	cfg.ResponseTimeout = 5 * time.Millisecond

	collector := NewEndpointCollector("coap_test")
	client, err := NewEndpoint(&net.UDPAddr{IP: net.ParseIP("127.0.0.1")}, cfg, WithCollector(collector))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })

	// A remote nobody answers, so the message must be retransmitted and
	// stay pending across several Process passes.
	unused, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatal(err)
	}
	remote := NewRemote(unused.LocalAddr().(*net.UDPAddr))
	unused.Close()

	req, err := NewMessage(Confirmable, GET, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Send(req, remote); err != nil {
		t.Fatal(err)
	}

	if _, err := client.Process(20 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	pending, _ := client.pendingStats()
	if pending != 1 {
		t.Fatalf("pendingStats = %d, want 1 pending transmission", pending)
	}

	if _, err := client.Process(60 * time.Millisecond); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(collector.retransmitted); got == 0 {
		t.Error("expected at least one retransmit to have been observed")
	}
	if got := testutil.ToFloat64(collector.sent.WithLabelValues(Confirmable.String())); got != 1 {
		t.Errorf("first-send counter = %v, want 1 (retransmits must not inflate it)", got)
	}
}
