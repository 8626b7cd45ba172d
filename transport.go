package rtsp

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// DefaultPort is the handshake port for both transports.
const DefaultPort = 48010

// DefaultMaxResponseSize bounds the bytes of one response.
const DefaultMaxResponseSize = 32768

// Generation from which hosts speak the handshake over the datagram transport.
const datagramGeneration = 5

type TransportMode int

const (
	TransportStream TransportMode = iota
	TransportDatagram
)

func (m TransportMode) String() string {
	if m == TransportDatagram {
		return "datagram"
	}

	return "stream"
}

// TransportModeFor returns the transport a host of the given generation
// expects for the handshake.
func TransportModeFor(generation int) TransportMode {
	mode, _ := resolveCapabilities(generation)
	return mode
}

// resolveCapabilities maps the server generation to the transport and
// to the client version tag announced in every request.
func resolveCapabilities(generation int) (TransportMode, int) {
	mode := TransportStream
	if generation >= datagramGeneration {
		mode = TransportDatagram
	}

	switch generation {
	case 3:
		return mode, 10
	case 4:
		return mode, 11
	default:
		return mode, 12
	}
}

type Transport interface {
	// Transact sends the request and returns the parsed response.
	// expectPayload tells the datagram transport to wait for a payload packet
	// after the header.
	Transact(ctx context.Context, request *Request, expectPayload bool) (*Response, error)
	// Close tears the transport down. It is safe to call while Transact is
	// blocked, which then returns ErrAborted.
	Close() error
}

type transportConfig struct {
	addr            string
	connectTimeout  time.Duration
	requestTimeout  time.Duration
	payloadTimeout  time.Duration
	maxResponseSize int
	newHost         HostFactory
}

func dialTransport(ctx context.Context, mode TransportMode, cfg transportConfig) (Transport, error) {
	switch mode {
	case TransportDatagram:
		if cfg.newHost == nil {
			return nil, fmt.Errorf("%w: no datagram host factory", ErrTransportSetup)
		}
		t, err := dialTransportUDP(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return newTransportTCP(cfg), nil
	}
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(port))
}

// checkResponseSize reports whether n bytes fit the response bound.
func checkResponseSize(n, limit int) error {
	if n > limit {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrResponseTooLarge, n, limit)
	}

	return nil
}
