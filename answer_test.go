package recursor

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func TestRecordType(t *testing.T) {
	t.Parallel()
	for rtype, want := range recordTypes {
		got, err := RecordType(rtype)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	got, err := RecordType("mx")
	require.NoError(t, err)
	require.Equal(t, dns.TypeMX, got)
	_, err = RecordType("TXT")
	require.ErrorIs(t, err, ErrUnsupportedType)
	_, err = RecordType("")
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestCanonicalName(t *testing.T) {
	t.Parallel()
	require.Equal(t, "example.com.", canonicalName("Example.COM"))
	require.Equal(t, "example.com.", canonicalName("example.com."))
	require.Equal(t, ".", canonicalName(""))
}

func TestRdataText(t *testing.T) {
	t.Parallel()
	hdr := func(rrtype uint16) dns.RR_Header {
		return dns.RR_Header{Name: "example.com.", Rrtype: rrtype, Class: dns.ClassINET, Ttl: 300}
	}

	text, ok := rdataText(&dns.A{Hdr: hdr(dns.TypeA), A: net.IPv4(93, 184, 216, 34).To4()})
	require.True(t, ok)
	require.Equal(t, "93.184.216.34", text)

	text, ok = rdataText(&dns.AAAA{Hdr: hdr(dns.TypeAAAA), AAAA: net.ParseIP("2606:2800:220:1::1")})
	require.True(t, ok)
	require.Equal(t, "2606:2800:220:1::1", text)

	text, ok = rdataText(&dns.CNAME{Hdr: hdr(dns.TypeCNAME), Target: "Www.Example.NET."})
	require.True(t, ok)
	require.Equal(t, "www.example.net.", text)

	text, ok = rdataText(&dns.NS{Hdr: hdr(dns.TypeNS), Ns: "NS1.example.com."})
	require.True(t, ok)
	require.Equal(t, "ns1.example.com.", text)

	text, ok = rdataText(&dns.MX{Hdr: hdr(dns.TypeMX), Preference: 10, Mx: "Mail.Example.COM."})
	require.True(t, ok)
	require.Equal(t, "10 mail.example.com.", text)

	_, ok = rdataText(&dns.TXT{Hdr: hdr(dns.TypeTXT), Txt: []string{"x"}})
	require.False(t, ok)
}

func TestDedupAddrs(t *testing.T) {
	t.Parallel()
	require.Equal(t, []string{"a", "b", "c"}, dedupAddrs([]string{"a", "b", "a", "c", "b"}))
	require.Nil(t, dedupAddrs[string](nil))
}
