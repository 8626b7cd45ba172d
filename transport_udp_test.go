package rtsp

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errHostDestroyed = errors.New("host destroyed")

type fakePacket struct {
	data      []byte
	destroyed bool
}

func (p *fakePacket) Data() []byte { return p.data }
func (p *fakePacket) Destroy()     { p.destroyed = true }

type fakePeer struct {
	host *fakeHost
}

func (p *fakePeer) Send(channel uint8, data []byte) error {
	h := p.host

	h.lock.Lock()
	if h.isDestroyed {
		h.lock.Unlock()
		return errHostDestroyed
	}
	h.sent = append(h.sent, append([]byte(nil), data...))
	h.channels = append(h.channels, channel)
	onSend := h.onSend
	h.lock.Unlock()

	if onSend != nil {
		onSend(data)
	}

	return nil
}

func (p *fakePeer) Reset() {
	p.host.lock.Lock()
	p.host.reset = true
	p.host.lock.Unlock()
}

// fakeHost delivers queued events to Service and records sent packets.
type fakeHost struct {
	lock        sync.Mutex
	events      chan Event
	destroyed   chan struct{}
	onceDestroy sync.Once

	addr        string
	connectErr  error
	onSend      func(data []byte)
	sent        [][]byte
	channels    []uint8
	services    int
	flushes     int
	reset       bool
	isDestroyed bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		events:    make(chan Event, 16),
		destroyed: make(chan struct{}),
	}
}

func (h *fakeHost) Connect(addr string, channelCount int) (Peer, error) {
	if h.connectErr != nil {
		return nil, h.connectErr
	}

	h.addr = addr
	return &fakePeer{host: h}, nil
}

func (h *fakeHost) Service(timeout time.Duration) (Event, error) {
	h.lock.Lock()
	h.services += 1
	h.lock.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.destroyed:
		return Event{}, errHostDestroyed
	case event := <-h.events:
		return event, nil
	case <-timer.C:
		return Event{Type: EventNone}, nil
	}
}

func (h *fakeHost) Flush() {
	h.lock.Lock()
	h.flushes += 1
	h.lock.Unlock()
}

func (h *fakeHost) Destroy() {
	h.onceDestroy.Do(func() {
		h.lock.Lock()
		h.isDestroyed = true
		h.lock.Unlock()
		close(h.destroyed)
	})
}

func (h *fakeHost) push(data string) *fakePacket {
	packet := &fakePacket{data: []byte(data)}
	h.events <- Event{Type: EventReceive, Packet: packet}
	return packet
}

func (h *fakeHost) sentPackets() []string {
	h.lock.Lock()
	defer h.lock.Unlock()

	result := make([]string, 0, len(h.sent))
	for _, p := range h.sent {
		result = append(result, string(p))
	}
	return result
}

func (h *fakeHost) serviceCount() int {
	h.lock.Lock()
	defer h.lock.Unlock()

	return h.services
}

func (h *fakeHost) factory() HostFactory {
	return func(peerCount, channelLimit int) (Host, error) {
		if peerCount != 1 || channelLimit != 1 {
			return nil, errors.New("unexpected host limits")
		}
		return h, nil
	}
}

func testTransportConfig(h *fakeHost) transportConfig {
	return transportConfig{
		addr:            joinHostPort("10.0.0.2", DefaultPort),
		connectTimeout:  time.Second,
		requestTimeout:  time.Second,
		payloadTimeout:  100 * time.Millisecond,
		maxResponseSize: DefaultMaxResponseSize,
		newHost:         h.factory(),
	}
}

func dialTestTransportUDP(t *testing.T, h *fakeHost) *TransportUDP {
	h.events <- Event{Type: EventConnect}

	tr, err := dialTransportUDP(context.Background(), testTransportConfig(h))
	require.NoError(t, err)

	t.Cleanup(func() { tr.Close() })

	return tr
}

func TestTransportUDP_dial(t *testing.T) {
	t.Run("connect", func(t *testing.T) {
		assert := assert.New(t)

		h := newFakeHost()
		dialTestTransportUDP(t, h)

		assert.Equal("10.0.0.2:48010", h.addr)
		assert.Equal(1, h.serviceCount())
		assert.Equal(1, h.flushes)
		assert.False(h.reset)
	})

	t.Run("no connect event", func(t *testing.T) {
		assert := assert.New(t)

		h := newFakeHost()
		cfg := testTransportConfig(h)
		cfg.connectTimeout = 20 * time.Millisecond

		_, err := dialTransportUDP(context.Background(), cfg)
		assert.ErrorIs(err, ErrTransportSetup)
		assert.True(h.reset)
		assert.True(h.isDestroyed)
	})

	t.Run("disconnect instead of connect", func(t *testing.T) {
		h := newFakeHost()
		h.events <- Event{Type: EventDisconnect}

		_, err := dialTransportUDP(context.Background(), testTransportConfig(h))
		assert.ErrorIs(t, err, ErrTransportSetup)
	})

	t.Run("connect error", func(t *testing.T) {
		assert := assert.New(t)

		h := newFakeHost()
		h.connectErr = errors.New("no route")

		_, err := dialTransportUDP(context.Background(), testTransportConfig(h))
		assert.ErrorIs(err, ErrTransportSetup)
		assert.True(h.isDestroyed)
	})

	t.Run("host error", func(t *testing.T) {
		cfg := testTransportConfig(newFakeHost())
		cfg.newHost = func(int, int) (Host, error) {
			return nil, errors.New("no memory")
		}

		_, err := dialTransportUDP(context.Background(), cfg)
		assert.ErrorIs(t, err, ErrTransportSetup)
	})

	t.Run("missing factory", func(t *testing.T) {
		_, err := dialTransport(context.Background(), TransportDatagram, transportConfig{})
		assert.ErrorIs(t, err, ErrTransportSetup)
	})
}

func TestTransportUDP_Transact(t *testing.T) {
	const (
		header  = "RTSP/1.0 200 OK\r\nCSeq: 2\r\nContent-length: 9\r\n\r\n"
		payload = "v=0\r\ns=x\n"
	)

	t.Run("header and payload", func(t *testing.T) {
		require := require.New(t)

		h := newFakeHost()
		tr := dialTestTransportUDP(t, h)

		p1 := h.push(header)
		p2 := h.push(payload)

		response, err := tr.Transact(context.Background(), testRequest(), true)
		require.NoError(err)
		require.Equal(200, response.StatusCode)
		require.Equal(payload, string(response.Payload))
		require.True(p1.destroyed)
		require.True(p2.destroyed)
		require.Equal(3, h.serviceCount())
	})

	t.Run("second packet not awaited", func(t *testing.T) {
		require := require.New(t)

		h := newFakeHost()
		tr := dialTestTransportUDP(t, h)

		h.push("RTSP/1.0 200 OK\r\nCSeq: 1\r\n\r\n")
		h.push("unrelated")

		response, err := tr.Transact(context.Background(), testRequest(), false)
		require.NoError(err)
		require.Nil(response.Payload)
		require.Equal(2, h.serviceCount())
		require.Len(h.events, 1)
	})

	t.Run("request payload is a separate packet", func(t *testing.T) {
		require := require.New(t)

		h := newFakeHost()
		tr := dialTestTransportUDP(t, h)
		h.push("RTSP/1.0 200 OK\r\nCSeq: 5\r\n\r\n")

		request := &Request{
			Method: MethodAnnounce,
			Target: targetVideo,
			Options: Options{
				{Name: "CSeq", Value: "5"},
				{Name: "Content-length", Value: "9"},
			},
			Payload: []byte(payload),
		}

		_, err := tr.Transact(context.Background(), request, false)
		require.NoError(err)

		sent := h.sentPackets()
		require.Len(sent, 2)
		require.Equal(string(request.MarshalHeader()), sent[0])
		require.True(strings.HasSuffix(sent[0], "\r\n\r\n"))
		require.Equal(payload, sent[1])
		require.Equal([]uint8{0, 0}, h.channels)

		// connect ack plus one flush per packet
		require.Equal(3, h.flushes)

		// the caller's request is left intact
		require.Equal(payload, string(request.Payload))
	})

	t.Run("no request payload", func(t *testing.T) {
		h := newFakeHost()
		tr := dialTestTransportUDP(t, h)
		h.push("RTSP/1.0 200 OK\r\nCSeq: 1\r\n\r\n")

		_, err := tr.Transact(context.Background(), testRequest(), false)
		require.NoError(t, err)
		assert.Len(t, h.sentPackets(), 1)
	})

	t.Run("header timeout", func(t *testing.T) {
		h := newFakeHost()
		tr := dialTestTransportUDP(t, h)
		tr.requestTimeout = 20 * time.Millisecond

		_, err := tr.Transact(context.Background(), testRequest(), false)
		assert.ErrorIs(t, err, ErrResponseTimeout)
	})

	t.Run("payload timeout", func(t *testing.T) {
		h := newFakeHost()
		tr := dialTestTransportUDP(t, h)
		tr.payloadTimeout = 20 * time.Millisecond

		h.push(header)

		_, err := tr.Transact(context.Background(), testRequest(), true)
		assert.ErrorIs(t, err, ErrResponseTimeout)
	})

	t.Run("disconnect is not a reply", func(t *testing.T) {
		h := newFakeHost()
		tr := dialTestTransportUDP(t, h)
		h.events <- Event{Type: EventDisconnect}

		_, err := tr.Transact(context.Background(), testRequest(), false)
		assert.ErrorIs(t, err, ErrResponseTimeout)
	})

	t.Run("header too large", func(t *testing.T) {
		assert := assert.New(t)

		h := newFakeHost()
		tr := dialTestTransportUDP(t, h)
		tr.maxResponseSize = len(header) - 1

		p := h.push(header)

		_, err := tr.Transact(context.Background(), testRequest(), true)
		assert.ErrorIs(err, ErrResponseTooLarge)
		assert.True(p.destroyed)
	})

	t.Run("payload too large", func(t *testing.T) {
		h := newFakeHost()
		tr := dialTestTransportUDP(t, h)
		tr.maxResponseSize = len(header) + len(payload) - 1

		h.push(header)
		h.push(payload)

		_, err := tr.Transact(context.Background(), testRequest(), true)
		assert.ErrorIs(t, err, ErrResponseTooLarge)
	})

	t.Run("receive without packet", func(t *testing.T) {
		h := newFakeHost()
		tr := dialTestTransportUDP(t, h)
		h.events <- Event{Type: EventReceive}

		_, err := tr.Transact(context.Background(), testRequest(), false)
		assert.ErrorIs(t, err, ErrReceive)
	})

	t.Run("parse error", func(t *testing.T) {
		h := newFakeHost()
		tr := dialTestTransportUDP(t, h)
		h.push("not rtsp")

		_, err := tr.Transact(context.Background(), testRequest(), false)
		assert.ErrorIs(t, err, ErrParse)
	})
}

func TestTransportUDP_Close(t *testing.T) {
	t.Run("abort unblocks service", func(t *testing.T) {
		assert := assert.New(t)

		h := newFakeHost()
		tr := dialTestTransportUDP(t, h)
		tr.requestTimeout = 10 * time.Second

		errCh := make(chan error, 1)
		go func() {
			_, err := tr.Transact(context.Background(), testRequest(), false)
			errCh <- err
		}()

		time.Sleep(20 * time.Millisecond)
		tr.Close()

		timer := time.NewTimer(time.Second)
		defer timer.Stop()

		select {
		case err := <-errCh:
			assert.ErrorIs(err, ErrAborted)
		case <-timer.C:
			assert.Fail("timeout")
		}

		assert.True(h.reset)
		assert.True(h.isDestroyed)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		h := newFakeHost()
		tr := dialTestTransportUDP(t, h)

		assert.NoError(t, tr.Close())
		assert.NoError(t, tr.Close())

		_, err := tr.Transact(context.Background(), testRequest(), false)
		assert.ErrorIs(t, err, ErrAborted)
	})
}
