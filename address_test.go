package coap

import (
	"net"
	"testing"
)

func TestRemoteIsMulticast(t *testing.T) {
	cases := []struct {
		ip   string
		want bool
	}{
		{"224.0.0.1", true},
		{"239.255.255.250", true},
		{"192.0.2.1", false},
		{"10.0.0.1", false},
		{"ff02::1", true},
		{"2001:db8::1", false},
	}
	for _, c := range cases {
		r := NewRemote(&net.UDPAddr{IP: net.ParseIP(c.ip), Port: COAPPort})
		if got := r.IsMulticast(); got != c.want {
			t.Errorf("IsMulticast(%s) = %v, want %v", c.ip, got, c.want)
		}
	}
}

func TestNewRemoteFamilyTagging(t *testing.T) {
	v4 := NewRemote(&net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 5683})
	if v4.Family != FamilyIPv4 {
		t.Errorf("v4 Family = %v, want FamilyIPv4", v4.Family)
	}
	v6 := NewRemote(&net.UDPAddr{IP: net.ParseIP("2001:db8::1"), Port: 5683})
	if v6.Family != FamilyIPv6 {
		t.Errorf("v6 Family = %v, want FamilyIPv6", v6.Family)
	}
}
