package coap

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// All-hosts multicast groups CoAP service discovery listens on (spec.md
// section 4.6, "Discovery binding").
const (
	ipv4AllCoAPNodes = "224.0.0.1"
	ipv6AllCoAPNodes = "ff02::1"
)

// BindDiscovery joins the endpoint to the CoAP all-hosts multicast group
// on the network interface named ifaceName. If the endpoint's primary
// socket already listens on the default CoAP port, it is joined directly
// and requests sent to the group are delivered through Process like any
// other. Otherwise a second socket bound to the multicast group is
// created and registered as a discovery source; every packet that
// arrives there is answered with a Reset from the primary socket and is
// not returned by Process (a discovery socket cannot identify which
// endpoint address to reply from).
func (ep *Endpoint) BindDiscovery(ifaceName string) error {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return fmt.Errorf("coap: lookup interface %q: %w", ifaceName, err)
	}

	laddr, ok := ep.conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return fmt.Errorf("coap: endpoint has no UDP local address")
	}
	isV6 := laddr.IP.To4() == nil

	if laddr.Port == ep.cfg.Port && ep.cfg.Port == COAPPort {
		return joinGroup(ep.conn, iface, isV6)
	}

	mcAddr := ipv4AllCoAPNodes
	if isV6 {
		mcAddr = ipv6AllCoAPNodes
	}
	dconn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(mcAddr), Port: COAPPort})
	if err != nil {
		return fmt.Errorf("coap: listen on discovery group: %w", err)
	}
	if err := joinGroup(dconn, iface, isV6); err != nil {
		dconn.Close()
		return err
	}
	return ep.registerDiscovery(dconn)
}

func joinGroup(conn *net.UDPConn, iface *net.Interface, isV6 bool) error {
	if isV6 {
		group := &net.UDPAddr{IP: net.ParseIP(ipv6AllCoAPNodes)}
		if err := ipv6.NewPacketConn(conn).JoinGroup(iface, group); err != nil {
			return fmt.Errorf("coap: ipv6 join group on %s: %w", iface.Name, err)
		}
		return nil
	}
	group := &net.UDPAddr{IP: net.ParseIP(ipv4AllCoAPNodes)}
	if err := ipv4.NewPacketConn(conn).JoinGroup(iface, group); err != nil {
		return fmt.Errorf("coap: ipv4 join group on %s: %w", iface.Name, err)
	}
	return nil
}
