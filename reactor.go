// Copyright 2026 Franklin "Snaipe" Mathieu.
//
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

//go:build linux

package varlink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"go.varlink.dev/varlink/internal/service"
)

// Reactor drives Server.Serve with a single-threaded, readiness-driven
// event loop built directly on epoll, rather than the goroutine-per-
// connection model of Server.ServeConn. One epoll instance multiplexes
// the listening socket, every accepted connection, and a self-pipe used
// to wake the loop when a handler goroutine has a reply ready; NUL-
// terminated call frames are assembled from non-blocking reads and
// queued to a per-connection pipeline, and replies are pulled from the
// handler one at a time and queued to a per-connection output buffer
// that drains as the socket becomes writable (the backpressure
// mechanism of a single-threaded reactor: a slow client grows its own
// buffer rather than stalling others).
//
// A call's MethodHandler still runs to completion off the reactor
// thread -- on a dedicated per-connection goroutine that processes its
// pipeline of calls one at a time, mirroring Server.ServeSession's own
// pipeline goroutine. This is what lets a streaming handler block
// between replies (on a ticker, a context, anything) without stalling
// the epoll loop: the loop only ever does non-blocking I/O and
// non-blocking channel receives, never a synchronous call into
// Server.Handler.
//
// Reactor-driven connections trade away one thing the goroutine path
// still offers: server-initiated calls back to the client (Call on the
// ReplyWriter). That requires a second channel per connection to
// demultiplex incoming replies from incoming calls, which the pipeline
// model here doesn't provide; a handler that needs it should be served
// through Server.ServeConn instead of Server.Serve.
// File descriptor passing (SCM_RIGHTS) over a unix-socket listener is
// supported: reads and writes go through recvmsg/sendmsg instead of
// plain read/write whenever the listener is AF_UNIX.
type Reactor struct {
	server *Server

	epfd       int
	unixSocket bool

	wakeR, wakeW int

	mu    sync.Mutex
	conns map[int]*reactorConn
}

type reactorConn struct {
	fd     int
	remote net.Addr
	rbuf   []byte
	wbuf   []byte
	rfds   []uintptr
	wfds   []uintptr
	ctx    context.Context
	cancel context.CancelCauseFunc

	// calls is the per-connection pipeline fed by the reactor loop and
	// drained in call order by runPipeline's goroutine, mirroring
	// Server.ServeSession's pipeline channel.
	calls chan Call

	// replies is where the pipeline goroutine deposits one reply at a
	// time for the reactor loop to pick up; its capacity of 1 is the
	// backpressure gate -- WriteReply blocks until the reactor has
	// taken the previous reply out of it.
	replies chan Reply
}

const reactorReadChunk = 64 * 1024

func rawListenerFd(l net.Listener) (int, error) {
	sc, ok := l.(syscall.Conn)
	if !ok {
		return -1, fmt.Errorf("reactor: listener %T does not expose a raw file descriptor", l)
	}

	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}

	var fd int
	var dupErr error
	if err := raw.Control(func(ufd uintptr) {
		fd, dupErr = unix.Dup(int(ufd))
	}); err != nil {
		return -1, err
	}
	return fd, dupErr
}

// Serve runs the epoll loop until the listener is closed or an
// unrecoverable error occurs. It implements the same contract as
// Server.Serve: returning nil on ordinary listener closure.
func (re *Reactor) Serve(l net.Listener) error {
	re.unixSocket = l.Addr().Network() == "unix"

	lfd, err := rawListenerFd(l)
	if err != nil {
		return err
	}
	defer unix.Close(lfd)

	if err := unix.SetNonblock(lfd, true); err != nil {
		return err
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	defer unix.Close(epfd)

	re.epfd = epfd
	re.conns = make(map[int]*reactorConn)

	var pipefds [2]int
	if err := unix.Pipe2(pipefds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return err
	}
	re.wakeR, re.wakeW = pipefds[0], pipefds[1]
	defer unix.Close(re.wakeR)
	defer unix.Close(re.wakeW)

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, lfd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(lfd),
	}); err != nil {
		return err
	}

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, re.wakeR, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(re.wakeR),
	}); err != nil {
		return err
	}

	events := make([]unix.EpollEvent, 64)
	for {
		n, err := unix.EpollWait(epfd, events, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			switch fd {
			case lfd:
				re.accept(lfd)
			case re.wakeR:
				re.drainWake()
			default:
				re.ready(fd, events[i].Events)
			}
		}
	}
}

func (re *Reactor) accept(lfd int) {
	s := re.server

	maxPipelineSize := s.MaxPipelineSize
	if maxPipelineSize <= 0 {
		maxPipelineSize = 128
	}

	for {
		nfd, sa, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if !errors.Is(err, unix.EAGAIN) {
				s.logger().Errorf("accept: %v", err)
			}
			return
		}

		remote := sockaddrAddr(sa)
		s.logger().Debugf("accepted connection from %v", remote)

		ctx, cancel := context.WithCancelCause(context.Background())
		c := &reactorConn{
			fd:      nfd,
			remote:  remote,
			ctx:     ctx,
			cancel:  cancel,
			calls:   make(chan Call, maxPipelineSize),
			replies: make(chan Reply, 1),
		}

		if err := unix.EpollCtl(re.epfd, unix.EPOLL_CTL_ADD, nfd, &unix.EpollEvent{
			Events: unix.EPOLLIN,
			Fd:     int32(nfd),
		}); err != nil {
			s.logger().Errorf("epoll_ctl add: %v", err)
			unix.Close(nfd)
			continue
		}

		re.mu.Lock()
		re.conns[nfd] = c
		re.mu.Unlock()

		go re.runPipeline(c)
	}
}

// runPipeline processes c's incoming calls one at a time, in order,
// exactly as Server.ServeSession's pipeline goroutine does -- just
// depositing replies into c.replies for the reactor to pick up instead
// of writing them to a Session directly. It runs until c.calls is
// closed, which closeConn does on disconnect.
func (re *Reactor) runPipeline(c *reactorConn) {
	s := re.server

	for call := range c.calls {
		w := &reactorReplyWriter{reactor: re, conn: c, ctx: c.ctx}

		if s.Handler == nil {
			w.WriteError(service.MethodNotFound(call.Method))
			continue
		}

		if verr := s.validateCall(&call); verr != nil {
			w.WriteError(verr)
			continue
		}

		s.Handler.ServeMethod(w, &call)

		if err := context.Cause(c.ctx); err != nil {
			return
		}
		if !w.hasReplied() && !call.OneWay {
			w.WriteError(service.MethodNotImplemented(call.Method))
		}
	}
}

func (re *Reactor) ready(fd int, events uint32) {
	re.mu.Lock()
	c := re.conns[fd]
	re.mu.Unlock()
	if c == nil {
		return
	}

	if events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		re.closeConn(c, ErrPeerDisconnected)
		return
	}

	if events&unix.EPOLLOUT != 0 {
		if err := re.flush(c); err != nil {
			re.closeConn(c, err)
			return
		}
	}

	if events&unix.EPOLLIN != 0 {
		if err := re.readFrames(c); err != nil {
			re.closeConn(c, err)
			return
		}
	}
}

func (re *Reactor) readFrames(c *reactorConn) error {
	s := re.server

	buf := make([]byte, reactorReadChunk)
	for {
		var (
			n   int
			err error
		)
		if re.unixSocket {
			n, err = recvmsgFds(c.fd, buf, &c.rfds)
		} else {
			n, err = unix.Read(c.fd, buf)
		}
		if n > 0 {
			c.rbuf = append(c.rbuf, buf[:n]...)
		}
		switch {
		case errors.Is(err, unix.EAGAIN):
			goto parse
		case err != nil:
			return err
		case n == 0:
			return ErrPeerDisconnected
		case n < len(buf):
			goto parse
		}
	}

parse:
	for {
		i := bytes.IndexByte(c.rbuf, 0)
		if i < 0 {
			if len(c.rbuf) > DefaultMaxFrameSize {
				return &ConnectionError{Op: "read", Err: fmt.Errorf("frame exceeds %d byte limit", DefaultMaxFrameSize)}
			}
			return nil
		}

		if len(c.calls) >= cap(c.calls) && s.PipelineOverflowErrorFunc == nil {
			// Pipeline full and there's no overflow policy: stop
			// parsing and leave the frame in rbuf. EPOLLIN is level-
			// triggered, so this connection is revisited on the next
			// poll once the pipeline goroutine drains a slot -- the
			// same "less reactive, not fatal" behaviour documented on
			// Server.MaxPipelineSize, just enforced by pausing reads
			// instead of blocking a per-connection goroutine.
			return nil
		}

		frame := c.rbuf[:i]
		c.rbuf = c.rbuf[i+1:]

		fds := c.rfds
		c.rfds = nil

		if err := re.dispatch(c, frame, fds); err != nil {
			return err
		}
	}
}

// recvmsgFds reads one non-blocking chunk from fd, appending any
// SCM_RIGHTS-passed descriptors to *fds.
func recvmsgFds(fd int, buf []byte, fds *[]uintptr) (int, error) {
	oob := make([]byte, unix.CmsgSpace(_SCM_MAX_FD*4))

	n, oobn, _, _, err := unix.Recvmsg(fd, buf, oob, 0)
	if err != nil {
		return 0, err
	}

	if oobn > 0 {
		cmsgs, perr := unix.ParseSocketControlMessage(oob[:oobn])
		if perr == nil {
			for _, cmsg := range cmsgs {
				if rights, rerr := unix.ParseUnixRights(&cmsg); rerr == nil {
					for _, r := range rights {
						*fds = append(*fds, uintptr(r))
					}
				}
			}
		}
	}

	return n, nil
}

// dispatch parses one frame into a Call and hands it to c's pipeline.
// The actual method handler runs on runPipeline's goroutine, never on
// the reactor thread: dispatch only ever does a non-blocking send (the
// caller in readFrames already checked there's room), immediately
// returning control to the epoll loop.
func (re *Reactor) dispatch(c *reactorConn, frame []byte, fds []uintptr) error {
	s := re.server

	var msg struct {
		Method     string          `json:"method"`
		OneWay     bool            `json:"oneway"`
		More       bool            `json:"more"`
		Upgrade    bool            `json:"upgrade"`
		Parameters json.RawMessage `json:"parameters"`
	}
	if err := json.Unmarshal(frame, &msg); err != nil {
		return err
	}

	call := Call{
		Method:          msg.Method,
		OneWay:          msg.OneWay,
		More:            msg.More,
		Upgrade:         msg.Upgrade,
		Parameters:      msg.Parameters,
		FileDescriptors: fds,
	}

	if len(c.calls) >= cap(c.calls) {
		oerr := s.PipelineOverflowErrorFunc(&call)
		reply, err := MakeReply(oerr, ErrorCode(oerr.ErrorCode()))
		if err != nil {
			return err
		}
		return re.writeReply(c, reply)
	}

	select {
	case c.calls <- call:
		return nil
	case <-c.ctx.Done():
		return context.Cause(c.ctx)
	}
}

func (re *Reactor) writeReply(c *reactorConn, reply Reply) error {
	if len(reply.FileDescriptors) > 0 && !re.unixSocket {
		return ErrFdPassingNotSupported
	}

	payload, err := json.Marshal(&reply)
	if err != nil {
		return err
	}

	c.wbuf = append(c.wbuf, payload...)
	c.wbuf = append(c.wbuf, 0)
	c.wfds = append(c.wfds, reply.FileDescriptors...)

	return re.flush(c)
}

func (re *Reactor) flush(c *reactorConn) error {
	for len(c.wbuf) > 0 {
		var (
			n   int
			err error
		)
		if re.unixSocket && len(c.wfds) > 0 {
			n, err = sendmsgFds(c.fd, c.wbuf, c.wfds)
			if err == nil {
				c.wfds = c.wfds[:0]
			}
		} else {
			n, err = unix.Write(c.fd, c.wbuf)
		}
		if n > 0 {
			c.wbuf = c.wbuf[n:]
		}
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return re.wantWrite(c, true)
			}
			return err
		}
	}
	return re.wantWrite(c, false)
}

// sendmsgFds writes one chunk of buf to fd, attaching fds as an
// SCM_RIGHTS control message.
func sendmsgFds(fd int, buf []byte, fds []uintptr) (int, error) {
	intfds := make([]int, len(fds))
	for i, f := range fds {
		intfds[i] = int(f)
	}
	oob := unix.UnixRights(intfds...)
	return unix.SendmsgN(fd, buf, oob, nil, 0)
}

func (re *Reactor) wantWrite(c *reactorConn, want bool) error {
	events := uint32(unix.EPOLLIN)
	if want {
		events |= unix.EPOLLOUT
	}
	return unix.EpollCtl(re.epfd, unix.EPOLL_CTL_MOD, c.fd, &unix.EpollEvent{
		Events: events,
		Fd:     int32(c.fd),
	})
}

// wake nudges the reactor loop to re-scan connections for replies
// waiting in their c.replies channel -- the self-pipe trick, since
// epoll_wait can't otherwise be woken by a plain Go channel send from
// another goroutine.
func (re *Reactor) wake() {
	unix.Write(re.wakeW, []byte{0})
}

// drainWake empties the wake pipe and pulls one ready reply off of every
// connection that has one, writing each to its connection.
func (re *Reactor) drainWake() {
	buf := make([]byte, 64)
	for {
		if _, err := unix.Read(re.wakeR, buf); err != nil {
			break
		}
	}

	re.mu.Lock()
	conns := make([]*reactorConn, 0, len(re.conns))
	for _, c := range re.conns {
		conns = append(conns, c)
	}
	re.mu.Unlock()

	for _, c := range conns {
		select {
		case reply := <-c.replies:
			if err := re.writeReply(c, reply); err != nil {
				re.closeConn(c, err)
			}
		default:
		}
	}
}

func (re *Reactor) closeConn(c *reactorConn, cause error) {
	re.mu.Lock()
	delete(re.conns, c.fd)
	re.mu.Unlock()

	c.cancel(cause)
	close(c.calls)
	unix.EpollCtl(re.epfd, unix.EPOLL_CTL_DEL, c.fd, nil)
	unix.Close(c.fd)

	re.server.logger().Debugf("closed connection from %v: %v", c.remote, cause)
}

type rawAddr string

func (a rawAddr) Network() string { return "raw" }
func (a rawAddr) String() string  { return string(a) }

func sockaddrAddr(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return rawAddr(fmt.Sprintf("%d.%d.%d.%d:%d", a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3], a.Port))
	case *unix.SockaddrInet6:
		return rawAddr(fmt.Sprintf("[%x]:%d", a.Addr, a.Port))
	case *unix.SockaddrUnix:
		return rawAddr("unix:" + a.Name)
	default:
		return rawAddr("unknown")
	}
}

// reactorReplyWriter implements ReplyWriter over a reactorConn. Every
// WriteReply blocks the calling goroutine (runPipeline's, never the
// reactor's) until the reactor has pulled the previous reply off
// conn.replies -- that single-slot channel is the backpressure that paces
// a streaming handler to at most one reply the reactor has not yet
// picked up.
type reactorReplyWriter struct {
	reactor *Reactor
	conn    *reactorConn
	ctx     context.Context
	mu      sync.Mutex
	replied bool
}

func (w *reactorReplyWriter) Context() context.Context {
	return w.ctx
}

func (w *reactorReplyWriter) WriteError(err Error) error {
	return w.WriteReply(err, ErrorCode(err.ErrorCode()))
}

func (w *reactorReplyWriter) WriteReply(parameters any, opts ...ReplyOption) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}

	reply, err := MakeReply(parameters, opts...)
	if err != nil {
		return err
	}

	w.mu.Lock()
	if w.replied {
		w.mu.Unlock()
		panic("method call has already been replied to.")
	}
	if !reply.Continues {
		w.replied = true
	}
	w.mu.Unlock()

	select {
	case w.conn.replies <- reply:
		w.reactor.wake()
		return nil
	case <-w.ctx.Done():
		return context.Cause(w.ctx)
	}
}

func (w *reactorReplyWriter) hasReplied() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.replied
}

// Call is not supported on reactor-driven connections: the pipeline
// model here has no second channel to demultiplex an unsolicited reply
// to a server-initiated call from the next queued client call. Handlers
// that need to call back into the client should be served through
// Server.ServeConn instead of Server.Serve.
func (w *reactorReplyWriter) Call(method string, params any, opts ...CallOption) (*ReplyStream, error) {
	return nil, &ConnectionError{Op: "call", Err: errors.New("server-initiated calls are not supported on reactor-driven connections")}
}
