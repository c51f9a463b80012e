package recursor

import (
	"context"
	"errors"
	"io"
	"net"
	"os"

	"github.com/miekg/dns"
)

// ExtendedErrorCodeFromError maps a resolution error to a DNS Extended
// Error code (RFC 8914). The resolver's own sentinels map first, then
// well-known errors from the os, io and net packages, falling back to
// dns.ExtendedErrorCodeOther.
func ExtendedErrorCodeFromError(err error) (code uint16) {
	code = dns.ExtendedErrorCodeOther
	if err != nil {
		switch {
		case errors.Is(err, ErrNoResponse):
			return dns.ExtendedErrorCodeNoReachableAuthority
		case errors.Is(err, ErrDepthExceeded), errors.Is(err, ErrTooManyQueries):
			return dns.ExtendedErrorCodeOther
		case errors.Is(err, ErrUnsupportedType):
			return dns.ExtendedErrorCodeNotSupported
		case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
			return dns.ExtendedErrorCodeNoReachableAuthority
		case errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
			return dns.ExtendedErrorCodeNetworkError
		case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, os.ErrInvalid):
			return dns.ExtendedErrorCodeInvalidData
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			if netErr.Timeout() {
				return dns.ExtendedErrorCodeNoReachableAuthority
			}
			return dns.ExtendedErrorCodeNetworkError
		}
	}
	return
}

// attachExtendedError adds an EDE option describing err to the OPT record
// of msg, creating one if needed.
func attachExtendedError(msg *dns.Msg, err error) {
	ede := &dns.EDNS0_EDE{InfoCode: ExtendedErrorCodeFromError(err)}
	if opt := msg.IsEdns0(); opt != nil {
		opt.Option = append(opt.Option, ede)
		return
	}
	opt := &dns.OPT{Hdr: dns.RR_Header{Name: ".", Rrtype: dns.TypeOPT}}
	opt.SetUDPSize(advertisedUDPSize)
	opt.Option = append(opt.Option, ede)
	msg.Extra = append(msg.Extra, opt)
}
