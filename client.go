package rtsp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Method Definitions
const (
	MethodAnnounce = "ANNOUNCE"
	MethodDescribe = "DESCRIBE"
	MethodOptions  = "OPTIONS"
	MethodPlay     = "PLAY"
	MethodSetup    = "SETUP"
)

const (
	targetAudio = "streamid=audio"
	targetVideo = "streamid=video"

	ifModifiedSince = "Thu, 01 Jan 1970 00:00:00 GMT"
)

// Step identifies one request of the handshake.
type Step int

const (
	StepOptions Step = iota + 1
	StepDescribe
	StepSetupAudio
	StepSetupVideo
	StepAnnounce
	StepPlayVideo
	StepPlayAudio
)

func (s Step) String() string {
	switch s {
	case StepOptions:
		return "OPTIONS"
	case StepDescribe:
		return "DESCRIBE"
	case StepSetupAudio:
		return "SETUP " + targetAudio
	case StepSetupVideo:
		return "SETUP " + targetVideo
	case StepAnnounce:
		return "ANNOUNCE " + targetVideo
	case StepPlayVideo:
		return "PLAY " + targetVideo
	case StepPlayAudio:
		return "PLAY " + targetAudio
	default:
		return "step " + strconv.Itoa(int(s))
	}
}

const (
	defaultTimeout        = 10 * time.Second
	defaultPayloadTimeout = 1 * time.Second
)

// Result is the session state negotiated by a successful handshake.
type Result struct {
	SessionID string
	Codec     Codec
}

// Client performs the RTSP handshake with a GameStream host.
// Hosts of generation 5 and later are reached over a reliable-datagram
// transport created by NewHost, older hosts over TCP.
type Client struct {
	Host               string
	Port               int
	ServerMajorVersion int
	SupportsHEVC       bool
	// Encoder produces the ANNOUNCE payload.
	Encoder SdpEncoder
	// NewHost is required for generation 5 and later.
	NewHost HostFactory

	ConnectTimeout  time.Duration
	RequestTimeout  time.Duration
	PayloadTimeout  time.Duration
	MaxResponseSize int

	Logger *slog.Logger

	lock      sync.Mutex
	transport Transport
	aborted   bool

	// dial replaces transport selection in tests
	dial func(ctx context.Context, mode TransportMode) (Transport, error)
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}

	return slog.Default()
}

func (c *Client) transportConfig() transportConfig {
	cfg := transportConfig{
		addr:            joinHostPort(c.Host, c.Port),
		connectTimeout:  c.ConnectTimeout,
		requestTimeout:  c.RequestTimeout,
		payloadTimeout:  c.PayloadTimeout,
		maxResponseSize: c.MaxResponseSize,
		newHost:         c.NewHost,
	}

	if c.Port == 0 {
		cfg.addr = joinHostPort(c.Host, DefaultPort)
	}
	if cfg.connectTimeout == 0 {
		cfg.connectTimeout = defaultTimeout
	}
	if cfg.requestTimeout == 0 {
		cfg.requestTimeout = defaultTimeout
	}
	if cfg.payloadTimeout == 0 {
		cfg.payloadTimeout = defaultPayloadTimeout
	}
	if cfg.maxResponseSize == 0 {
		cfg.maxResponseSize = DefaultMaxResponseSize
	}

	return cfg
}

func (c *Client) dialTransport(ctx context.Context, mode TransportMode) (Transport, error) {
	if c.dial != nil {
		return c.dial(ctx, mode)
	}

	return dialTransport(ctx, mode, c.transportConfig())
}

// setTransport publishes the transport for Abort.
// Returns false if the handshake was aborted meanwhile.
func (c *Client) setTransport(t Transport) bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.aborted {
		return false
	}

	c.transport = t
	return true
}

func (c *Client) releaseTransport() {
	c.lock.Lock()
	t := c.transport
	c.transport = nil
	c.lock.Unlock()

	if t != nil {
		t.Close()
	}
}

func (c *Client) isAborted() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.aborted
}

func (c *Client) clearAbort() {
	c.lock.Lock()
	c.aborted = false
	c.lock.Unlock()
}

// Abort cancels an in-progress handshake. A transaction blocked waiting
// for a reply returns immediately with ErrAborted. An Abort made while no
// handshake is running cancels the next one.
func (c *Client) Abort() {
	c.lock.Lock()
	c.aborted = true
	c.lock.Unlock()

	c.releaseTransport()
}

// Handshake runs OPTIONS, DESCRIBE, SETUP audio and video, ANNOUNCE and
// PLAY video and audio. The first failure ends the handshake with a
// *StepError. Canceling ctx aborts the handshake.
func (c *Client) Handshake(ctx context.Context) (*Result, error) {
	if c.Encoder == nil {
		return nil, fmt.Errorf("%w: no sdp encoder", ErrBuildRequest)
	}

	defer c.clearAbort()

	if c.isAborted() {
		return nil, ErrAborted
	}

	s := newSession(c.Host, c.ServerMajorVersion)

	log := c.logger().With(
		slog.String("host", c.Host),
		slog.Int("generation", c.ServerMajorVersion),
		slog.String("transport", s.mode.String()),
	)

	transport, err := c.dialTransport(ctx, s.mode)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", err, ctx.Err())
		}
		log.Warn("rtsp transport setup failed", "err", err)
		return nil, err
	}

	if !c.setTransport(transport) {
		transport.Close()
		return nil, ErrAborted
	}
	defer c.releaseTransport()

	// closing the transport fails the step in flight
	stop := context.AfterFunc(ctx, c.releaseTransport)
	defer stop()

	h := &handshake{
		client:    c,
		session:   s,
		transport: transport,
		log:       log,
	}

	if err := h.run(ctx); err != nil {
		if ctx.Err() != nil {
			var stepErr *StepError
			if errors.As(err, &stepErr) {
				stepErr.Err = fmt.Errorf("%w: %w", stepErr.Err, ctx.Err())
			}
		}
		return nil, err
	}

	return &Result{
		SessionID: s.sessionID,
		Codec:     s.codec,
	}, nil
}

type handshake struct {
	client    *Client
	session   *session
	transport Transport
	log       *slog.Logger
}

// do builds and sends one request and requires a 200 response.
func (h *handshake) do(
	ctx context.Context,
	step Step,
	method, target string,
	payload []byte,
	expectPayload bool,
	options ...Option,
) (*Response, error) {
	request, err := h.session.newRequest(method, target, options...)
	if err != nil {
		return nil, h.fail(step, err)
	}
	request.Payload = payload

	h.log.Debug("rtsp request", "step", step, "cseq", h.session.cseq-1)

	response, err := h.transport.Transact(ctx, request, expectPayload)
	if err != nil {
		return nil, h.fail(step, err)
	}

	if response.StatusCode != http.StatusOK {
		return nil, h.fail(step, &StatusError{
			StatusCode: response.StatusCode,
			Status:     response.Status,
		})
	}

	return response, nil
}

func (h *handshake) fail(step Step, err error) error {
	attrs := []any{"step", step, "err", err}
	if code, ok := StatusCode(err); ok {
		attrs = append(attrs, "status", code)
	}
	h.log.Warn("rtsp handshake step failed", attrs...)

	return &StepError{Step: step, Err: err}
}

func (h *handshake) run(ctx context.Context) error {
	s := h.session

	if _, err := h.do(ctx, StepOptions, MethodOptions, s.baseURL, nil, false); err != nil {
		return err
	}

	response, err := h.do(
		ctx, StepDescribe, MethodDescribe, s.baseURL, nil, true,
		Option{Name: "Accept", Value: SdpMimeType},
		Option{Name: "If-Modified-Since", Value: ifModifiedSince},
	)
	if err != nil {
		return err
	}
	s.codec = negotiateCodec(response.Payload, h.client.SupportsHEVC)

	if response, err = h.setup(ctx, StepSetupAudio, targetAudio); err != nil {
		return err
	}

	sessionID, err := getSession(response)
	if err != nil {
		return h.fail(StepSetupAudio, err)
	}
	s.sessionID = sessionID

	if _, err = h.setup(ctx, StepSetupVideo, targetVideo); err != nil {
		return err
	}

	if err = h.announce(ctx); err != nil {
		return err
	}

	if _, err = h.do(ctx, StepPlayVideo, MethodPlay, targetVideo, nil, false, s.sessionOption()...); err != nil {
		return err
	}

	if _, err = h.do(ctx, StepPlayAudio, MethodPlay, targetAudio, nil, false, s.sessionOption()...); err != nil {
		return err
	}

	h.log.Info(
		"rtsp handshake complete",
		"session", s.sessionID,
		"codec", s.codec,
		"requests", s.cseq-1,
	)

	return nil
}

func (h *handshake) setup(ctx context.Context, step Step, target string) (*Response, error) {
	options := append(
		h.session.sessionOption(),
		Option{Name: "Transport", Value: " "},
		Option{Name: "If-Modified-Since", Value: ifModifiedSince},
	)

	return h.do(ctx, step, MethodSetup, target, nil, false, options...)
}

func (h *handshake) announce(ctx context.Context) error {
	s := h.session

	payload, err := h.client.Encoder.EncodeSDP(h.client.Host, s.clientVersion, s.codec)
	if err != nil {
		return h.fail(StepAnnounce, fmt.Errorf("%w: encode sdp: %w", ErrBuildRequest, err))
	}

	options := append(
		s.sessionOption(),
		Option{Name: "Content-type", Value: SdpMimeType},
		Option{Name: "Content-length", Value: strconv.Itoa(len(payload))},
	)

	_, err = h.do(ctx, StepAnnounce, MethodAnnounce, targetVideo, payload, false, options...)
	return err
}
