package recursor

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/miekg/dns"
	"github.com/tevino/abool"
)

const DefaultListenAddr = "0.0.0.0:53"
const DefaultWorkers = 32
const serverAnswerTTL = 3600 // seconds on synthesized response records

type rawQuery struct {
	data   []byte
	client *net.UDPAddr
}

// Server is the UDP front end: one receiver goroutine feeding a fixed pool
// of workers, each handling one client query at a time through the shared
// Resolver.
type Server struct {
	Resolver *Resolver
	Addr     string
	Workers  int
	Logger   *slog.Logger
	running      *abool.AtomicBool
	conn         *net.UDPConn
	queue        chan rawQuery
	receiverDone chan struct{}
	wg           sync.WaitGroup
}

func NewServer(resolver *Resolver) *Server {
	return &Server{
		Resolver: resolver,
		Addr:     DefaultListenAddr,
		Workers:  DefaultWorkers,
		running:  abool.New(),
	}
}

// Start binds the UDP socket and launches the receiver and worker pool.
func (s *Server) Start() (err error) {
	if !s.running.SetToIf(false, true) {
		return nil
	}
	var addr *net.UDPAddr
	if addr, err = net.ResolveUDPAddr("udp", s.Addr); err == nil {
		if s.conn, err = net.ListenUDP("udp", addr); err == nil {
			workers := s.Workers
			if workers < 1 {
				workers = DefaultWorkers
			}
			s.queue = make(chan rawQuery, workers)
			s.receiverDone = make(chan struct{})
			for range workers {
				s.wg.Add(1)
				go s.worker()
			}
			go s.receive()
			s.logger().Info("listening", "addr", s.conn.LocalAddr().String(), "workers", workers)
			return nil
		}
	}
	s.running.UnSet()
	return err
}

// Stop closes the socket, drains the workers and stops the resolver's
// cache reclaim task.
func (s *Server) Stop() {
	if !s.running.SetToIf(true, false) {
		return
	}
	_ = s.conn.Close()
	<-s.receiverDone
	close(s.queue)
	s.wg.Wait()
	s.Resolver.Close()
	s.logger().Info("stopped")
}

func (s *Server) receive() {
	defer close(s.receiverDone)
	buf := make([]byte, advertisedUDPSize)
	for {
		n, client, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if s.running.IsSet() && !errors.Is(err, net.ErrClosed) {
				s.logger().Error("receive failed", "err", err)
			}
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case s.queue <- rawQuery{data: data, client: client}:
		default:
			metricQueriesDropped.Inc()
		}
	}
}

func (s *Server) worker() {
	defer s.wg.Done()
	for rq := range s.queue {
		s.handle(rq)
	}
}

func (s *Server) handle(rq rawQuery) {
	queryMsg := new(dns.Msg)
	if err := queryMsg.Unpack(rq.data); err != nil || len(queryMsg.Question) == 0 {
		s.logger().Debug("dropping unparseable query", "client", rq.client.String())
		return
	}
	metricQueriesServed.Inc()
	question := queryMsg.Question[0]
	rtype := dns.Type(question.Qtype).String()

	ctx, cancel := context.WithTimeout(context.Background(), s.Resolver.budget())
	defer cancel()
	answers, err := s.Resolver.ResolveContext(ctx, question.Name, rtype)
	response := s.buildResponse(queryMsg, answers, err)
	data, packErr := response.Pack()
	if packErr != nil {
		s.logger().Warn("pack failed", "qname", question.Name, "err", packErr)
		return
	}
	if _, err := s.conn.WriteToUDP(data, rq.client); err != nil {
		if s.running.IsSet() {
			s.logger().Warn("send failed", "client", rq.client.String(), "err", err)
		}
		return
	}
	s.logger().Debug("responded", "client", rq.client.String(),
		"qname", question.Name, "rtype", rtype, "answers", len(answers))
}

// buildResponse echoes the query ID and question and synthesizes answer
// records from the resolver's textual results. An empty answer list maps to
// NXDOMAIN; a resolver error maps to SERVFAIL with an EDE describing it,
// except ErrUnsupportedType, which is answered as NXDOMAIN.
func (s *Server) buildResponse(queryMsg *dns.Msg, answers []string, resolveErr error) (response *dns.Msg) {
	response = new(dns.Msg)
	response.SetReply(queryMsg)
	response.RecursionAvailable = true
	question := queryMsg.Question[0]

	switch {
	case resolveErr != nil && !errors.Is(resolveErr, ErrUnsupportedType):
		response.Rcode = dns.RcodeServerFailure
		attachExtendedError(response, resolveErr)
	case len(answers) == 0:
		response.Rcode = dns.RcodeNameError
	default:
		for _, text := range answers {
			if rr := synthesizeRR(question, text); rr != nil {
				response.Answer = append(response.Answer, rr)
			}
		}
	}
	return
}

// synthesizeRR turns one answer line back into a resource record of the
// question's type, or nil when the rdata does not parse.
func synthesizeRR(question dns.Question, text string) (rr dns.RR) {
	hdr := dns.RR_Header{
		Name:   question.Name,
		Rrtype: question.Qtype,
		Class:  dns.ClassINET,
		Ttl:    serverAnswerTTL,
	}
	switch question.Qtype {
	case dns.TypeA:
		if ip := net.ParseIP(text); ip != nil && ip.To4() != nil {
			rr = &dns.A{Hdr: hdr, A: ip.To4()}
		}
	case dns.TypeAAAA:
		if ip := net.ParseIP(text); ip != nil && ip.To4() == nil {
			rr = &dns.AAAA{Hdr: hdr, AAAA: ip.To16()}
		}
	case dns.TypeCNAME:
		rr = &dns.CNAME{Hdr: hdr, Target: dns.Fqdn(text)}
	case dns.TypeNS:
		rr = &dns.NS{Hdr: hdr, Ns: dns.Fqdn(text)}
	case dns.TypeMX:
		if prio, target, found := strings.Cut(text, " "); found {
			if preference, err := strconv.Atoi(prio); err == nil {
				rr = &dns.MX{Hdr: hdr, Preference: uint16(preference), Mx: dns.Fqdn(target)}
			}
		}
	}
	return
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return s.Resolver.logger()
}
