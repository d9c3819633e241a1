// Package endpoint implements one pipelined RESP connection to a
// Redis server: batched command submission, FIFO reply draining,
// explicit batch boundaries, and reconnect.
package endpoint

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"df2redis/internal/metrics"
	"df2redis/internal/resp"
)

const (
	defaultConnectTimeout = 5 * time.Second
	writeBufSize          = 64 * 1024
	readBufSize           = 64 * 1024
)

// Conf describes how to (re)build an endpoint. A Conf value is
// immutable input; Endpoint carries the live, mutable connection
// state built from it.
type Conf struct {
	Addr           string
	DB             int
	PipeBudget     int // -1 disables auto-flush by count
	ByteBudget     int // auto-flush once this many encoded bytes are batched since the last drain; 0 disables
	AuthUser       string
	AuthPassword   string
	ConnectTimeout time.Duration
	TLSConfig      *tls.Config // nil selects plaintext

	Stats metrics.Sink
	Slots []uint16 // cluster slots this endpoint owns; empty for a standalone peer
}

// Endpoint is one full-duplex pipelined connection. It is not safe for
// concurrent use by more than one goroutine at a time; ownership is
// exclusive for the duration of a batch, as specified by the pool.
type Endpoint struct {
	conf Conf

	conn   net.Conn
	reader *bufio.Reader
	outBuf []byte

	db           int
	pipeBudget   int
	byteBudget   int
	pendingBytes int
	inflight     int

	closed atomic.Bool
	mu     sync.Mutex // taken only by Close; Batch and Send do not lock it
}

// Open establishes the connection, authenticates, and selects db if
// db >= 0. It fails with *ConnectError on socket/TLS failure and
// *AuthError when the server errors on AUTH/PING/SELECT.
func Open(ctx context.Context, conf Conf) (*Endpoint, error) {
	if conf.ConnectTimeout <= 0 {
		conf.ConnectTimeout = defaultConnectTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, conf.ConnectTimeout)
	defer cancel()

	var conn net.Conn
	var err error
	if conf.TLSConfig != nil {
		d := &tls.Dialer{Config: conf.TLSConfig}
		conn, err = d.DialContext(dialCtx, "tcp", conf.Addr)
	} else {
		d := &net.Dialer{}
		conn, err = d.DialContext(dialCtx, "tcp", conf.Addr)
	}
	if err != nil {
		return nil, &ConnectError{Addr: conf.Addr, Err: err}
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(30 * time.Second)
	}

	e := &Endpoint{
		conf:       conf,
		conn:       conn,
		reader:     bufio.NewReaderSize(conn, readBufSize),
		db:         -1,
		pipeBudget: conf.PipeBudget,
		byteBudget: conf.ByteBudget,
		outBuf:     make([]byte, 0, writeBufSize),
	}

	if conf.AuthPassword != "" {
		var reply interface{}
		if conf.AuthUser != "" {
			reply, err = e.doImmediate("AUTH", conf.AuthUser, conf.AuthPassword)
		} else {
			reply, err = e.doImmediate("AUTH", conf.AuthPassword)
		}
		if err = authFault(reply, err); err != nil {
			e.conn.Close()
			return nil, &AuthError{Addr: conf.Addr, Err: err}
		}
	} else {
		reply, err := e.doImmediate("PING")
		if err = authFault(reply, err); err != nil {
			e.conn.Close()
			return nil, &AuthError{Addr: conf.Addr, Err: err}
		}
	}

	if conf.DB >= 0 {
		reply, err := e.doImmediate("SELECT", conf.DB)
		if err = authFault(reply, err); err != nil {
			e.conn.Close()
			return nil, &AuthError{Addr: conf.Addr, Err: err}
		}
		e.db = conf.DB
	}
	return e, nil
}

// authFault reports the error from a handshake command (AUTH/PING/
// SELECT): doImmediate already turns a server error reply into err, so
// this only needs to forward it. reply is accepted for symmetry with
// call sites and to keep the check in one place if that changes.
func authFault(reply interface{}, err error) error {
	_ = reply
	return err
}

// doImmediate writes one command and reads its reply without touching
// inflight bookkeeping; used only during the handshake in Open, before
// any pipelining begins.
func (e *Endpoint) doImmediate(args ...interface{}) (interface{}, error) {
	if err := e.conn.SetWriteDeadline(time.Now().Add(defaultConnectTimeout)); err != nil {
		return nil, err
	}
	buf := resp.AppendCommand(nil, args...)
	if _, err := e.conn.Write(buf); err != nil {
		return nil, err
	}
	if err := e.conn.SetReadDeadline(time.Now().Add(defaultConnectTimeout)); err != nil {
		return nil, err
	}
	return resp.ReadReply(e.reader)
}

// Addr returns the endpoint's target address.
func (e *Endpoint) Addr() string { return e.conf.Addr }

// DB returns the database this connection believes is currently
// selected, reflecting the last SELECT accepted on it.
func (e *Endpoint) DB() int { return e.db }

// SetDB updates the cached db optimistically, ahead of the SELECT
// command actually being flushed; the worker uses this when appending
// a SELECT to a batch so subsequent KeyValue events in the same db
// don't re-emit it.
func (e *Endpoint) SetDB(db int) { e.db = db }

// Slots returns the cluster slots this endpoint owns (empty for a
// standalone peer).
func (e *Endpoint) Slots() []uint16 { return e.conf.Slots }

// Inflight returns the number of commands appended since the last
// drain.
func (e *Endpoint) Inflight() int { return e.inflight }

// PipeBudget returns the configured pipe budget (-1 = unbounded).
func (e *Endpoint) PipeBudget() int { return e.pipeBudget }

// Send executes cmd synchronously: any pending batch is drained first
// so replies never interleave with this request's reply.
func (e *Endpoint) Send(args ...interface{}) (interface{}, error) {
	if e.inflight > 0 {
		if _, err := e.Sync(); err != nil {
			return nil, err
		}
	}
	if err := e.writeOne(args...); err != nil {
		return nil, err
	}
	if err := e.flushWriter(); err != nil {
		return nil, &IoError{Addr: e.conf.Addr, Err: err}
	}
	reply, err := resp.ReadReply(e.reader)
	if err != nil {
		var respErr *resp.Error
		if errors.As(err, &respErr) {
			e.record(respErr)
			return nil, &ReplyError{Addr: e.conf.Addr, Reason: "respond", Err: respErr}
		}
		return nil, &ProtocolError{Addr: e.conf.Addr, Err: err}
	}
	e.record(nil)
	return reply, nil
}

// Batch appends cmd to the outbound buffer. If force, the writer
// flushes immediately. The endpoint auto-drains via Flush after
// appending once either budget trips: inflight reaching pipeBudget
// (when pipeBudget >= 0), or pendingBytes reaching byteBudget (when
// byteBudget > 0) — so a batch never exceeds either limit.
func (e *Endpoint) Batch(force bool, args ...interface{}) error {
	n, err := e.appendOne(args...)
	if err != nil {
		return err
	}
	e.pendingBytes += n
	e.inflight++
	if force {
		if err := e.flushWriter(); err != nil {
			return &IoError{Addr: e.conf.Addr, Err: err}
		}
		return nil
	}
	if e.pipeBudget >= 0 && e.inflight >= e.pipeBudget {
		_, err := e.Flush()
		return err
	}
	if e.byteBudget > 0 && e.pendingBytes >= e.byteBudget {
		_, err := e.Flush()
		return err
	}
	return nil
}

func (e *Endpoint) writeOne(args ...interface{}) error {
	_, err := e.appendOne(args...)
	return err
}

// appendOne encodes one command onto the outbound buffer and returns
// its encoded length, flushing first if the buffer has grown past
// writeBufSize.
func (e *Endpoint) appendOne(args ...interface{}) (int, error) {
	before := len(e.outBuf)
	e.outBuf = resp.AppendCommand(e.outBuf, args...)
	n := len(e.outBuf) - before
	if len(e.outBuf) >= writeBufSize {
		if err := e.flushWriter(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (e *Endpoint) flushWriter() error {
	if len(e.outBuf) == 0 {
		return nil
	}
	if err := e.conn.SetWriteDeadline(time.Now().Add(30 * time.Second)); err != nil {
		return err
	}
	n, err := e.conn.Write(e.outBuf)
	if n == len(e.outBuf) {
		e.outBuf = e.outBuf[:0]
	} else {
		e.outBuf = e.outBuf[n:]
	}
	return err
}

// Sync flushes, reads exactly Inflight() replies in submission order,
// returns them, and resets inflight to zero.
func (e *Endpoint) Sync() ([]interface{}, error) {
	if err := e.flushWriter(); err != nil {
		return nil, &IoError{Addr: e.conf.Addr, Err: err}
	}
	n := e.inflight
	replies := make([]interface{}, 0, n)
	for i := 0; i < n; i++ {
		reply, err := resp.ReadReply(e.reader)
		var respErr *resp.Error
		if err != nil && !errors.As(err, &respErr) {
			e.inflight = n - i
			return replies, &ProtocolError{Addr: e.conf.Addr, Err: err}
		}
		if respErr != nil {
			e.record(respErr)
			replies = append(replies, respErr)
			continue
		}
		e.record(nil)
		replies = append(replies, reply)
	}
	e.inflight = 0
	e.pendingBytes = 0
	return replies, nil
}

// Flush behaves like Sync but discards reply bodies after classifying
// each as success or error and updating metrics. It returns the
// successes/failures tally and the first ReplyError seen, if any
// (every reply is still drained regardless).
func (e *Endpoint) Flush() (result FlushResult, err error) {
	if ferr := e.flushWriter(); ferr != nil {
		return result, &IoError{Addr: e.conf.Addr, Err: ferr}
	}
	n := e.inflight
	var firstErr error
	for i := 0; i < n; i++ {
		reply, rerr := resp.ReadReply(e.reader)
		var respErr *resp.Error
		if rerr != nil && !errors.As(rerr, &respErr) {
			e.inflight = n - i
			return result, &ProtocolError{Addr: e.conf.Addr, Err: rerr}
		}
		if respErr != nil {
			result.Failures++
			e.record(respErr)
			if firstErr == nil {
				firstErr = &ReplyError{Addr: e.conf.Addr, Reason: "respond", Err: respErr}
			}
			continue
		}
		_ = reply
		result.Successes++
		e.record(nil)
	}
	e.inflight = 0
	e.pendingBytes = 0
	return result, firstErr
}

// FlushResult tallies the classified replies drained by Flush.
type FlushResult struct {
	Successes int
	Failures  int
}

// record updates the observability counters for one drained reply.
// err nil means success; non-nil (typically a *resp.Error) means the
// reply itself reported a failure.
func (e *Endpoint) record(err error) {
	if e.conf.Stats == nil {
		return
	}
	addr := e.conf.Addr
	if err != nil {
		e.conf.Stats.Inc(metrics.EndpointFailure, addr, "respond", 1)
		return
	}
	e.conf.Stats.Inc(metrics.EndpointSuccess, addr, "", 1)
}

// RecordSend notes an outbound write for the latency/throughput
// counters; callers invoke this once per Batch/Send call.
func (e *Endpoint) RecordSend() {
	if e.conf.Stats != nil {
		e.conf.Stats.Inc(metrics.EndpointSend, e.conf.Addr, "", 1)
	}
}

// Close tears down reader, writer and socket in that order, swallowing
// I/O errors (release paths are always best-effort).
func (e *Endpoint) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.flushWriter()
	return e.conn.Close()
}

// CloseQuietly tears the endpoint down, swallowing any error it
// returns; it's the single "best-effort teardown" helper used on every
// release path instead of duplicating try/ignore at each call site.
func CloseQuietly(e *Endpoint) {
	if e == nil {
		return
	}
	bestEffort(nil, "close", e.Close)
}
