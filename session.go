package rtsp

import (
	"strconv"
	"strings"
)

// MaxSessionIDLength bounds the session id accepted from SETUP.
const MaxSessionIDLength = 64

// session is the state threaded through one handshake.
type session struct {
	cseq          int
	sessionID     string
	codec         Codec
	clientVersion int
	baseURL       string
	mode          TransportMode
}

func newSession(host string, generation int) *session {
	mode, clientVersion := resolveCapabilities(generation)

	return &session{
		cseq:          1,
		clientVersion: clientVersion,
		baseURL:       "rtsp://" + urlSafeHost(host),
		mode:          mode,
	}
}

func urlSafeHost(host string) string {
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		return "[" + host + "]"
	}

	return host
}

// newRequest builds a request carrying CSeq and the client version,
// followed by extra options in the given order.
func (s *session) newRequest(method, target string, extra ...Option) (*Request, error) {
	cseq := s.cseq
	s.cseq += 1

	options := make(Options, 0, 2+len(extra))
	options = append(
		options,
		Option{Name: "CSeq", Value: strconv.Itoa(cseq)},
		Option{Name: "X-GS-ClientVersion", Value: strconv.Itoa(s.clientVersion)},
	)

	for _, opt := range extra {
		checked, err := NewOption(opt.Name, opt.Value)
		if err != nil {
			return nil, err
		}
		options = append(options, checked)
	}

	return &Request{
		Method:  method,
		Target:  target,
		Proto:   Proto,
		Options: options,
	}, nil
}

// sessionOption returns the Session option when a session id is known.
func (s *session) sessionOption() []Option {
	if s.sessionID == "" {
		return nil
	}

	return []Option{{Name: "Session", Value: s.sessionID}}
}

func getSession(response *Response) (string, error) {
	session, ok := response.Options.Get("Session")
	if !ok {
		return "", ErrMissingSession
	}

	session, _, _ = strings.Cut(session, ";")
	session = strings.TrimSpace(session)

	if session == "" {
		return "", ErrMissingSession
	}

	if len(session) > MaxSessionIDLength {
		return "", ErrSessionTooLong
	}

	return session, nil
}
