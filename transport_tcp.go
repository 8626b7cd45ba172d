package rtsp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// TransportTCP opens a new connection for each transaction and reads the
// response until the server closes the connection.
type TransportTCP struct {
	addr            string
	requestTimeout  time.Duration
	maxResponseSize int

	// done is canceled by Close and interrupts a dial in progress
	done   context.Context
	cancel context.CancelFunc

	lock   sync.Mutex
	conn   net.Conn
	closed bool

	// dial replaces net.Dialer in tests
	dial func(ctx context.Context, network, address string) (net.Conn, error)
}

func newTransportTCP(cfg transportConfig) *TransportTCP {
	t := &TransportTCP{
		addr:            cfg.addr,
		requestTimeout:  cfg.requestTimeout,
		maxResponseSize: cfg.maxResponseSize,
	}

	t.done, t.cancel = context.WithCancel(context.Background())

	dialer := &net.Dialer{
		Timeout: cfg.connectTimeout,
	}
	t.dial = dialer.DialContext

	return t
}

// attach registers conn as the in-flight connection.
// Returns false if the transport is already closed.
func (t *TransportTCP) attach(conn net.Conn) bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.closed {
		return false
	}

	t.conn = conn
	return true
}

// detach closes conn unless Close already did.
func (t *TransportTCP) detach(conn net.Conn) {
	t.lock.Lock()
	owned := t.conn == conn
	if owned {
		t.conn = nil
	}
	t.lock.Unlock()

	if owned {
		conn.Close()
	}
}

func (t *TransportTCP) isClosed() bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.closed
}

func (t *TransportTCP) ioError(kind, err error) error {
	if t.isClosed() {
		return fmt.Errorf("%w: %w", ErrAborted, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrResponseTimeout, err)
	}

	return fmt.Errorf("%w: %w", kind, err)
}

// Transact sends the request on a fresh connection. The payload expectation
// does not matter here: the response is read until the server closes.
func (t *TransportTCP) Transact(ctx context.Context, request *Request, _ bool) (*Response, error) {
	if t.isClosed() {
		return nil, ErrAborted
	}

	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(t.done, cancel)
	defer stop()

	conn, err := t.dial(dialCtx, "tcp", t.addr)
	if err != nil {
		if t.isClosed() {
			return nil, fmt.Errorf("%w: %w", ErrAborted, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}

	if !t.attach(conn) {
		conn.Close()
		return nil, ErrAborted
	}
	defer t.detach(conn)

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	if _, err = conn.Write(request.Marshal()); err != nil {
		return nil, t.ioError(ErrSend, err)
	}

	// one extra byte so that an oversized response is detected
	buf := make([]byte, t.maxResponseSize+1)
	offset := 0

	for {
		_ = conn.SetReadDeadline(time.Now().Add(t.requestTimeout))

		n, err := conn.Read(buf[offset:])
		offset += n

		if err := checkResponseSize(offset, t.maxResponseSize); err != nil {
			return nil, err
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}

			return nil, t.ioError(ErrReceive, err)
		}
	}

	response, err := ParseResponse(buf[:offset])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	return response, nil
}

// Close aborts the in-flight transaction, if any, and rejects further ones.
func (t *TransportTCP) Close() error {
	t.lock.Lock()
	t.closed = true
	conn := t.conn
	t.conn = nil
	t.lock.Unlock()

	t.cancel()

	if conn != nil {
		return conn.Close()
	}

	return nil
}
