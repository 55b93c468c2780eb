package coap

import "net"

// AddressFamily distinguishes how a Remote should be interpreted, instead
// of conflating address tuples by length as the original source did (see
// the "Address-family handling" design note).
type AddressFamily uint8

const (
	FamilyIPv4 AddressFamily = iota
	FamilyIPv6
	FamilyOther // e.g. a unix-domain address used by tests
)

// Remote identifies a message's peer address. It wraps a net.Addr
// (typically *net.UDPAddr) tagged with an explicit address family rather
// than inferring the family from tuple shape.
type Remote struct {
	Family AddressFamily
	Addr   net.Addr
}

// NewRemote classifies addr by its IP family.
func NewRemote(addr net.Addr) Remote {
	r := Remote{Addr: addr, Family: FamilyOther}
	if udp, ok := addr.(*net.UDPAddr); ok {
		if udp.IP.To4() != nil {
			r.Family = FamilyIPv4
		} else if udp.IP.To16() != nil {
			r.Family = FamilyIPv6
		}
	}
	return r
}

func (r Remote) String() string {
	if r.Addr == nil {
		return "<nil>"
	}
	return r.Addr.String()
}

// IsMulticast reports whether the remote names an IPv4 224.0.0.0/4 or
// IPv6 ff00::/8 address (spec.md section 4.6, "Multicast address
// recognition"): an IPv4 address is multicast iff its first octet's high
// nibble is 0xE; an IPv6 address is multicast iff its first octet is
// 0xFF.
func (r Remote) IsMulticast() bool {
	udp, ok := r.Addr.(*net.UDPAddr)
	if !ok || udp.IP == nil {
		return false
	}
	if v4 := udp.IP.To4(); v4 != nil {
		return (v4[0] & 0xF0) == 0xE0
	}
	v6 := udp.IP.To16()
	if v6 == nil {
		return false
	}
	return v6[0] == 0xFF
}
