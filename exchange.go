package recursor

import (
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

const advertisedUDPSize = 4096 // EDNS0 receive buffer advertised upstream

// exchange performs a single UDP exchange with one nameserver: build the
// iterative query, send one datagram, wait for the reply within the
// per-exchange budget and measure the RTT. Truncated responses are returned
// as-is; there is no TCP retry.
func (q *query) exchange(server netip.Addr, qname string, qtype uint16) (resp *dns.Msg, rtt time.Duration, err error) {
	m := new(dns.Msg)
	m.SetQuestion(qname, qtype)
	m.RecursionDesired = false
	setEDNS(m)

	metricExchanges.Inc()
	var dnsConn *dns.Conn
	if dnsConn, err = q.dialDNSConn(server); err == nil {
		defer dnsConn.Close()
		if deadline := q.deadline(q.ctx); !deadline.IsZero() {
			_ = dnsConn.SetDeadline(deadline)
		}
		q.logf("sending @%s %s %q", server, dns.Type(qtype), qname)
		start := time.Now()
		if err = dnsConn.WriteMsg(m); err == nil {
			if resp, err = dnsConn.ReadMsg(); err == nil {
				rtt = time.Since(start)
				q.logf("received @%s %s %q => %s (%d+%d+%d A/N/E, %s)",
					server, dns.Type(qtype), qname,
					dns.RcodeToString[resp.Rcode],
					len(resp.Answer), len(resp.Ns), len(resp.Extra),
					rtt.Round(time.Millisecond),
				)
			}
		}
	}
	return
}

func (q *query) dialDNSConn(server netip.Addr) (dnsConn *dns.Conn, err error) {
	var rawConn net.Conn
	if rawConn, err = q.DialContext(q.ctx, "udp", q.addrPort(server).String()); err == nil {
		dnsConn = &dns.Conn{Conn: rawConn, UDPSize: advertisedUDPSize}
	} else {
		q.logf("dial failed @%s err=%v", server, err)
	}
	return
}

func setEDNS(m *dns.Msg) {
	opt := &dns.OPT{Hdr: dns.RR_Header{Name: ".", Rrtype: dns.TypeOPT}}
	opt.SetUDPSize(advertisedUDPSize)
	m.Extra = append(m.Extra, opt)
}
