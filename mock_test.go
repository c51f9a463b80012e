package recursor

import (
	"context"
	"net"
	"os"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// fakeDialer implements proxy.ContextDialer, serving scripted dns.Msg
// exchanges for registered server addresses entirely in memory.
type fakeDialer struct {
	mu        sync.Mutex
	exchanges int
	handlers  map[string]func(*dns.Msg) *dns.Msg
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{handlers: make(map[string]func(*dns.Msg) *dns.Msg)}
}

func (d *fakeDialer) on(server string, handler func(*dns.Msg) *dns.Msg) {
	d.handlers[server] = handler
}

func (d *fakeDialer) exchangeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exchanges
}

func (d *fakeDialer) DialContext(_ context.Context, _, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	handler, ok := d.handlers[host]
	if !ok {
		return nil, &net.OpError{Op: "dial", Net: "udp", Err: net.ErrClosed}
	}
	return &fakeConn{dialer: d, handler: handler}, nil
}

// fakeConn satisfies net.PacketConn so dns.Conn takes the datagram read
// path. A handler returning nil simulates a timeout.
type fakeConn struct {
	dialer  *fakeDialer
	handler func(*dns.Msg) *dns.Msg
	pending []byte
}

func (c *fakeConn) Write(p []byte) (int, error) {
	queryMsg := new(dns.Msg)
	if err := queryMsg.Unpack(p); err != nil {
		return 0, err
	}
	c.dialer.mu.Lock()
	c.dialer.exchanges++
	c.dialer.mu.Unlock()
	if resp := c.handler(queryMsg); resp != nil {
		resp.Id = queryMsg.Id
		data, err := resp.Pack()
		if err != nil {
			return 0, err
		}
		c.pending = data
	}
	return len(p), nil
}

func (c *fakeConn) Read(p []byte) (int, error) {
	if c.pending == nil {
		return 0, os.ErrDeadlineExceeded
	}
	n := copy(p, c.pending)
	c.pending = nil
	return n, nil
}

func (c *fakeConn) ReadFrom(p []byte) (int, net.Addr, error) {
	n, err := c.Read(p)
	return n, c.RemoteAddr(), err
}

func (c *fakeConn) WriteTo(p []byte, _ net.Addr) (int, error) { return c.Write(p) }
func (c *fakeConn) Close() error                              { return nil }
func (c *fakeConn) LocalAddr() net.Addr                       { return &net.UDPAddr{} }
func (c *fakeConn) RemoteAddr() net.Addr                      { return &net.UDPAddr{} }
func (c *fakeConn) SetDeadline(time.Time) error               { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error           { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error          { return nil }

// -------- scripted response builders ---------

func replyTo(queryMsg *dns.Msg, rcode int) *dns.Msg {
	resp := new(dns.Msg)
	resp.SetReply(queryMsg)
	resp.Rcode = rcode
	return resp
}

func aRecord(name, ip string, ttl uint32) *dns.A {
	return &dns.A{
		Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
		A:   net.ParseIP(ip).To4(),
	}
}

func cnameRecord(name, target string, ttl uint32) *dns.CNAME {
	return &dns.CNAME{
		Hdr:    dns.RR_Header{Name: name, Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: ttl},
		Target: target,
	}
}

func nsRecord(zone, target string, ttl uint32) *dns.NS {
	return &dns.NS{
		Hdr: dns.RR_Header{Name: zone, Rrtype: dns.TypeNS, Class: dns.ClassINET, Ttl: ttl},
		Ns:  target,
	}
}

// delegation builds a referral response: NS records in authority, glue A
// records in additional for targets with a non-empty address.
func delegation(queryMsg *dns.Msg, zone string, targets map[string]string) *dns.Msg {
	resp := replyTo(queryMsg, dns.RcodeSuccess)
	for target, glueIP := range targets {
		resp.Ns = append(resp.Ns, nsRecord(zone, target, 172800))
		if glueIP != "" {
			resp.Extra = append(resp.Extra, aRecord(target, glueIP, 172800))
		}
	}
	return resp
}
