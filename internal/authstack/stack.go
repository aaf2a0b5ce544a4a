package authstack

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jroosing/resolvfuzz/internal/dnswire"
	"github.com/jroosing/resolvfuzz/internal/fuzzcase"
)

// LoopbackAddrs are the eight fixed addresses the stack binds, one
// authoritative role each: root, two `ns.` hosts, `com.`, `fuzz.`,
// `test.`, `net.`, and `victim.net.`. Every socket shares the same Tree and answers
// authoritatively for the whole namespace regardless of role — see Tree's
// doc comment for why the parent/child referral handoff is flattened.
var LoopbackAddrs = []string{
	"127.64.1.1",
	"127.96.1.1",
	"127.97.1.1",
	"127.98.1.1",
	"127.128.1.1",
	"127.192.1.1",
	"127.193.1.1",
	"127.193.2.1",
}

// classCH is the Chaos class, used by version.bind/id.server probes. It has
// no place in dnswire's ClassIN-only constant set since the base tree never
// answers anything else in it.
const classCH uint16 = 3

// maxSessionQueries bounds how many exchanges a single case's QueryLog
// retains, guarding against a resolver stuck in a query loop (DNAME
// self-expansion among others) from growing a session's memory without
// bound. The differ cares about the first handful of exchanges; beyond
// this the log is truncated, not the resolver's traffic.
const maxSessionQueries = 4096

// Exchange is one (from, to, message) datagram the stack observed, in
// arrival order; a case's Exchange log becomes the FuzzResult's
// fuzzee_queries view.
type Exchange struct {
	From    net.Addr
	To      net.Addr
	Offset  time.Duration
	Message dnswire.Message
}

// CaseSession is the mutable, per-case state a running Stack tracks: the
// script cursor and the ordered exchange log the harness reads back once
// the case finishes.
type CaseSession struct {
	mu      sync.Mutex
	index   uint32
	glue    net.IP
	cursor  *scriptCursor
	log     []Exchange
	started time.Time
}

func (s *CaseSession) record(from, to net.Addr, msg dnswire.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.log) >= maxSessionQueries {
		return
	}
	s.log = append(s.log, Exchange{From: from, To: to, Offset: time.Since(s.started), Message: msg})
}

// QueryLog returns a copy of the exchanges recorded so far.
func (s *CaseSession) QueryLog() []Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Exchange(nil), s.log...)
}

// Stack is the in-process authoritative stack: one goroutine per bound UDP
// socket, reading, resolving, and replying strictly in arrival order. A
// multi-worker pool per socket would let two datagrams on the same socket
// finish out of order, and the exchange log must reflect the order the
// resolver actually sent things in, so it's deliberately one
// read-resolve-write loop per address.
type Stack struct {
	tree   *Tree
	logger *slog.Logger

	mu        sync.Mutex
	listeners map[string]net.PacketConn
	tcp       map[string]net.Listener
	sessions  map[uint32]*CaseSession
	closing   chan struct{}
	wg        sync.WaitGroup
}

// New builds a Stack over tree. The caller starts it with Start.
func New(tree *Tree, logger *slog.Logger) *Stack {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stack{
		tree:      tree,
		logger:    logger,
		listeners: make(map[string]net.PacketConn),
		tcp:       make(map[string]net.Listener),
		sessions:  make(map[uint32]*CaseSession),
		closing:   make(chan struct{}),
	}
}

// Start binds the eight fixed loopback addresses (UDP actively, TCP
// passively) and begins serving. It does not block.
func (s *Stack) Start(ctx context.Context) error {
	for _, addr := range LoopbackAddrs {
		if err := s.bindUDP(ctx, addr); err != nil {
			return fmt.Errorf("authstack: bind udp %s: %w", addr, err)
		}
		if err := s.bindTCP(ctx, addr); err != nil {
			return fmt.Errorf("authstack: bind tcp %s: %w", addr, err)
		}
	}
	return nil
}

// Stop closes every bound listener and waits for their goroutines to exit.
func (s *Stack) Stop() {
	s.mu.Lock()
	select {
	case <-s.closing:
		s.mu.Unlock()
		return
	default:
		close(s.closing)
	}
	for _, conn := range s.listeners {
		conn.Close()
	}
	for _, ln := range s.tcp {
		ln.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// socketRecvBufferSize / socketSendBufferSize keep the kernel queueing
// datagrams while a socket's single serve loop is mid-reply. A fuzzed
// resolver's burst is one recursion's worth of queries, so 1MB is plenty.
const (
	socketRecvBufferSize = 1 << 20
	socketSendBufferSize = 1 << 20
)

func (s *Stack) bindUDP(ctx context.Context, addr string) error {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, socketRecvBufferSize)
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, socketSendBufferSize)
			})
		},
	}
	conn, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort(addr, "53"))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listeners[addr] = conn
	s.mu.Unlock()

	s.wg.Add(1)
	go s.serveUDP(ctx, conn)
	return nil
}

func (s *Stack) bindTCP(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp4", net.JoinHostPort(addr, "53"))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.tcp[addr] = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go s.serveTCP(ctx, ln)
	return nil
}

// serveUDP is the single read-resolve-write loop for one socket. It never
// fans work out to other goroutines: the next datagram on this socket isn't
// read until the previous one's reply has been written (or dropped), which
// is what makes the per-socket exchange ordering guarantee hold.
func (s *Stack) serveUDP(ctx context.Context, conn net.PacketConn) {
	defer s.wg.Done()
	defer conn.Close()

	buf := make([]byte, dnswire.MaxMessageSize)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.closing:
				return
			case <-ctx.Done():
				return
			default:
				s.logger.Warn("authstack: udp read error", "local", conn.LocalAddr(), "error", err)
				return
			}
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		s.handleDatagram(conn, from, data)
	}
}

// serveTCP answers passively: one query per connection, always truncated.
// A real authoritative would serve full TCP responses, but nothing in this
// fuzzer's scope needs that, and a resolver that only falls back to TCP on
// seeing TC=1 over UDP still gets a well-formed (if truncated) answer here.
func (s *Stack) serveTCP(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.closing:
				return
			case <-ctx.Done():
				return
			default:
				return
			}
		}
		go s.handleTCPConn(conn)
	}
}

func (s *Stack) handleTCPConn(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))

	var lenBuf [2]byte
	if _, err := readFull(conn, lenBuf[:]); err != nil {
		return
	}
	msgLen := int(lenBuf[0])<<8 | int(lenBuf[1])
	if msgLen == 0 || msgLen > dnswire.MaxMessageSize {
		return
	}
	data := make([]byte, msgLen)
	if _, err := readFull(conn, data); err != nil {
		return
	}

	req, err := dnswire.ParseMessage(data)
	if err != nil || len(req.Questions) == 0 {
		return
	}
	resp := dnswire.BuildErrorResponse(req, uint16(dnswire.RCodeNoError))
	resp.Header = resp.Header.WithFlag(dnswire.TCFlag, true).WithFlag(dnswire.AAFlag, true)
	out, err := resp.Marshal()
	if err != nil || len(out) > 0xFFFF {
		return
	}
	var out2 [2]byte
	out2[0] = byte(len(out) >> 8)
	out2[1] = byte(len(out))
	_, _ = conn.Write(append(out2[:], out...))
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// RegisterCase layers case idx's overlay onto the tree, binds its dynamic
// glue listener, and returns the session the harness uses to read back the
// exchange log once the run is done.
func (s *Stack) RegisterCase(ctx context.Context, idx uint32, responses []fuzzcase.ScriptedResponse) (*CaseSession, error) {
	glue := s.tree.RegisterCase(idx)
	addr := glue.String()

	if err := s.bindUDP(ctx, addr); err != nil {
		s.tree.ReleaseCase(idx)
		return nil, fmt.Errorf("authstack: bind case %d glue %s: %w", idx, addr, err)
	}

	sess := &CaseSession{
		index:   idx,
		glue:    glue,
		cursor:  newScriptCursor(responses),
		started: time.Now(),
	}
	s.mu.Lock()
	s.sessions[idx] = sess
	s.mu.Unlock()
	return sess, nil
}

// Session returns the live session for case idx, or ErrUnknownCase when
// that index was never registered or has already been released.
func (s *Stack) Session(idx uint32) (*CaseSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[idx]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCase, idx)
	}
	return sess, nil
}

// ReleaseCase unbinds the case's glue listener and drops its overlay and
// session state.
func (s *Stack) ReleaseCase(idx uint32) {
	s.mu.Lock()
	sess, ok := s.sessions[idx]
	var addr string
	if ok {
		addr = sess.glue.String()
	}
	delete(s.sessions, idx)
	conn, hasConn := s.listeners[addr]
	if hasConn {
		delete(s.listeners, addr)
	}
	s.mu.Unlock()

	if hasConn {
		conn.Close()
	}
	s.tree.ReleaseCase(idx)
}

// handleDatagram is the synchronous per-datagram path: resolve exactly
// one reply (or none, for drop), record the exchange, and
// write it back before the socket's loop reads the next datagram.
func (s *Stack) handleDatagram(conn net.PacketConn, from net.Addr, data []byte) {
	req, err := dnswire.ParseMessage(data)
	if err != nil {
		s.logger.Debug("authstack: unparseable datagram", "from", from, "error", err)
		return
	}

	reply, drop, sess := s.resolve(req)
	if sess != nil {
		sess.record(from, conn.LocalAddr(), req)
	}
	if drop {
		return
	}

	out, err := reply.Marshal()
	if err != nil {
		return
	}
	// EDNS-aware truncation: a reply
	// exceeding the client's advertised payload size is replaced with a
	// TC=1 stub so the resolver can retry over TCP. Scripted overlay
	// replies are exempt — a case that wants to send an oversized or
	// otherwise illegal datagram must reach the resolver verbatim.
	if sess == nil && len(out) > dnswire.ClientMaxUDPSize(req) {
		stub := dnswire.BuildErrorResponse(req, reply.Header.RCode())
		stub.Header = stub.Header.WithFlag(dnswire.TCFlag, true).WithFlag(dnswire.AAFlag, true)
		if out, err = stub.Marshal(); err != nil {
			return
		}
	}
	if _, err := conn.WriteTo(out, from); err != nil {
		s.logger.Debug("authstack: write failed", "to", from, "error", err)
	}
}

// resolve computes the reply to req. drop is true when the matched policy
// is "send nothing" (still a valid outcome, not an error). sess is non-nil
// whenever req's question falls under a registered case's `NNNN.fuzz.`
// overlay, so the caller can log the exchange against the right case.
func (s *Stack) resolve(req dnswire.Message) (reply dnswire.Message, drop bool, sess *CaseSession) {
	if len(req.Questions) == 0 {
		return dnswire.BuildErrorResponse(req, uint16(dnswire.RCodeFormErr)), false, nil
	}
	q := req.Questions[0]

	if q.Class == classCH {
		if rr, ok := chaosAnswer(q); ok {
			return s.answer(req, []dnswire.Record{rr}, nil, true), false, nil
		}
	}

	if idx, ok := s.tree.OwningCase(q.Name); ok {
		s.mu.Lock()
		sess = s.sessions[idx]
		s.mu.Unlock()
		if sess == nil {
			return dnswire.BuildErrorResponse(req, uint16(dnswire.RCodeRefused)), false, nil
		}
		sr, matched := sess.cursor.match(q)
		if !matched {
			return dnswire.BuildErrorResponse(req, uint16(dnswire.RCodeRefused)), false, sess
		}
		return sr.Response, sr.Drop, sess
	}

	result := s.tree.Lookup(q.Name, q.Type, q.Class)
	if len(result.Answers) > 0 {
		return s.answer(req, result.Answers, nil, true), false, nil
	}
	if result.NXDomain {
		resp := dnswire.BuildErrorResponse(req, uint16(dnswire.RCodeNXDomain))
		if result.HasSOA {
			resp.Authority = []dnswire.Record{result.SOA}
			resp.Header.NSCount = 1
		}
		resp.Header = resp.Header.WithFlag(dnswire.AAFlag, true)
		return resp, false, nil
	}
	// NODATA: name exists (or is an empty non-terminal) but not for this
	// type/class.
	resp := dnswire.BuildErrorResponse(req, uint16(dnswire.RCodeNoError))
	if result.HasSOA {
		resp.Authority = []dnswire.Record{result.SOA}
		resp.Header.NSCount = 1
	}
	resp.Header = resp.Header.WithFlag(dnswire.AAFlag, true)
	return resp, false, nil
}

func (s *Stack) answer(req dnswire.Message, answers, authority []dnswire.Record, aa bool) dnswire.Message {
	resp := dnswire.BuildErrorResponse(req, uint16(dnswire.RCodeNoError))
	resp.Answers = answers
	resp.Authority = authority
	resp.Header.ANCount = uint16(len(answers))
	resp.Header.NSCount = uint16(len(authority))
	resp.Header = resp.Header.WithFlag(dnswire.AAFlag, aa)
	return resp
}

// chaosAnswer handles the CH TXT version.bind/id.server/hostname.bind/
// authors.bind probes several resolvers fire at startup, so an unmatched
// REFUSED there isn't noise in every diff.
func chaosAnswer(q dnswire.Question) (dnswire.Record, bool) {
	if dnswire.RecordType(q.Type) != dnswire.TypeTXT {
		return dnswire.Record{}, false
	}
	switch q.Name.String() {
	case "version.bind", "id.server", "hostname.bind", "authors.bind":
		rr, err := dnswire.NewTXT(q.Name, 0, []byte("resolvfuzz"))
		if err != nil {
			return dnswire.Record{}, false
		}
		rr.Class = classCH
		return rr, true
	default:
		return dnswire.Record{}, false
	}
}
