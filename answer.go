package recursor

import (
	"strconv"
	"strings"

	"github.com/miekg/dns"
)

// recordTypes enumerates the record types the resolver accepts at the
// public boundary.
var recordTypes = map[string]uint16{
	"A":     dns.TypeA,
	"AAAA":  dns.TypeAAAA,
	"CNAME": dns.TypeCNAME,
	"MX":    dns.TypeMX,
	"NS":    dns.TypeNS,
}

// RecordType maps a textual record type to its wire value, or
// ErrUnsupportedType for anything outside the supported set.
func RecordType(rtype string) (qtype uint16, err error) {
	var ok bool
	if qtype, ok = recordTypes[strings.ToUpper(rtype)]; !ok {
		err = ErrUnsupportedType
	}
	return
}

// canonicalName returns name in canonical absolute form: lowercase with a
// trailing dot.
func canonicalName(name string) string {
	return dns.Fqdn(strings.ToLower(name))
}

// rdataText renders a resource record's rdata the way answers are returned:
// addresses in dotted or colon form, MX as "PRIO TARGET", name targets in
// canonical absolute form.
func rdataText(rr dns.RR) (text string, ok bool) {
	switch rr := rr.(type) {
	case *dns.A:
		text, ok = rr.A.String(), true
	case *dns.AAAA:
		text, ok = rr.AAAA.String(), true
	case *dns.CNAME:
		text, ok = canonicalName(rr.Target), true
	case *dns.NS:
		text, ok = canonicalName(rr.Ns), true
	case *dns.MX:
		text, ok = strconv.Itoa(int(rr.Preference))+" "+canonicalName(rr.Mx), true
	}
	return
}

func hasRRType(rrs []dns.RR, t uint16) bool {
	for _, rr := range rrs {
		if rr.Header().Rrtype == t {
			return true
		}
	}
	return false
}

func dedupAddrs[T comparable](addrs []T) []T {
	seen := map[T]struct{}{}
	var out []T
	for _, addr := range addrs {
		if _, ok := seen[addr]; !ok {
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}
