package rtsp

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// EventType is the result of servicing a datagram host.
type EventType int

const (
	EventNone EventType = iota
	EventConnect
	EventDisconnect
	EventReceive
)

// Packet is an inbound packet owned by the receiver until Destroy.
type Packet interface {
	Data() []byte
	Destroy()
}

type Event struct {
	Type   EventType
	Packet Packet
}

// Peer is the remote end of a reliable-datagram connection.
type Peer interface {
	// Send queues data as one reliable packet on the channel.
	Send(channel uint8, data []byte) error
	// Reset drops the connection without notifying the remote.
	Reset()
}

// Host is a local reliable-datagram endpoint with ENet semantics.
// Destroy may be called while Service is blocked and must make it return.
type Host interface {
	Connect(addr string, channelCount int) (Peer, error)
	// Service waits up to timeout for one event. A timeout yields EventNone.
	Service(timeout time.Duration) (Event, error)
	// Flush sends queued packets immediately.
	Flush()
	Destroy()
}

// HostFactory creates a host for the given peer and channel limits.
type HostFactory func(peerCount, channelLimit int) (Host, error)

// TransportUDP carries the handshake over the reliable channel of a
// datagram host. Header and payload always travel as separate packets.
type TransportUDP struct {
	host            Host
	peer            Peer
	requestTimeout  time.Duration
	payloadTimeout  time.Duration
	maxResponseSize int

	onceClose sync.Once
	lock      sync.Mutex
	closed    bool
}

func dialTransportUDP(ctx context.Context, cfg transportConfig) (*TransportUDP, error) {
	host, err := cfg.newHost(1, 1)
	if err != nil {
		return nil, fmt.Errorf("%w: create host: %w", ErrTransportSetup, err)
	}

	peer, err := host.Connect(cfg.addr, 1)
	if err != nil {
		host.Destroy()
		return nil, fmt.Errorf("%w: connect %s: %w", ErrTransportSetup, cfg.addr, err)
	}

	t := &TransportUDP{
		host:            host,
		peer:            peer,
		requestTimeout:  cfg.requestTimeout,
		payloadTimeout:  cfg.payloadTimeout,
		maxResponseSize: cfg.maxResponseSize,
	}

	stop := context.AfterFunc(ctx, func() { t.Close() })
	defer stop()

	event, err := host.Service(cfg.connectTimeout)
	if err != nil || event.Type != EventConnect {
		t.Close()
		if err == nil {
			err = fmt.Errorf("no connect event within %s", cfg.connectTimeout)
		}
		return nil, fmt.Errorf("%w: connect %s: %w", ErrTransportSetup, cfg.addr, err)
	}

	// send the connect acknowledgment now rather than with the first request
	host.Flush()

	return t, nil
}

func (t *TransportUDP) isClosed() bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.closed
}

func (t *TransportUDP) send(data []byte) error {
	if err := t.peer.Send(0, data); err != nil {
		if t.isClosed() {
			return fmt.Errorf("%w: %w", ErrAborted, err)
		}
		return fmt.Errorf("%w: %w", ErrSend, err)
	}

	t.host.Flush()
	return nil
}

// receive waits for one packet and appends it to buf.
func (t *TransportUDP) receive(buf []byte, timeout time.Duration) ([]byte, error) {
	event, err := t.host.Service(timeout)
	if err != nil {
		if t.isClosed() {
			return nil, fmt.Errorf("%w: %w", ErrAborted, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrResponseTimeout, err)
	}

	if event.Type != EventReceive {
		if event.Packet != nil {
			event.Packet.Destroy()
		}
		if t.isClosed() {
			return nil, ErrAborted
		}
		return nil, fmt.Errorf("%w: no reply within %s", ErrResponseTimeout, timeout)
	}

	if event.Packet == nil {
		return nil, fmt.Errorf("%w: receive event without a packet", ErrReceive)
	}

	data := event.Packet.Data()
	defer event.Packet.Destroy()

	if err := checkResponseSize(len(buf)+len(data), t.maxResponseSize); err != nil {
		return nil, err
	}

	return append(buf, data...), nil
}

func (t *TransportUDP) Transact(_ context.Context, request *Request, expectPayload bool) (*Response, error) {
	if t.isClosed() {
		return nil, ErrAborted
	}

	if err := t.send(request.MarshalHeader()); err != nil {
		return nil, err
	}

	if len(request.Payload) > 0 {
		if err := t.send(request.Payload); err != nil {
			return nil, err
		}
	}

	buf := make([]byte, 0, t.maxResponseSize)

	buf, err := t.receive(buf, t.requestTimeout)
	if err != nil {
		return nil, err
	}

	// the payload should follow the header immediately
	if expectPayload {
		buf, err = t.receive(buf, t.payloadTimeout)
		if err != nil {
			return nil, err
		}
	}

	response, err := ParseResponse(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	return response, nil
}

// Close resets the peer and destroys the host.
func (t *TransportUDP) Close() error {
	t.onceClose.Do(func() {
		t.lock.Lock()
		t.closed = true
		t.lock.Unlock()

		t.peer.Reset()
		t.host.Destroy()
	})

	return nil
}
