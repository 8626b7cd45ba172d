package rtsp

import (
	"errors"
	"fmt"
)

var (
	ErrBuildRequest     = errors.New("build request")
	ErrConnect          = errors.New("connect")
	ErrTransportSetup   = errors.New("transport setup")
	ErrSend             = errors.New("send request")
	ErrReceive          = errors.New("receive response")
	ErrResponseTimeout  = errors.New("response timeout")
	ErrResponseTooLarge = errors.New("response too large")
	ErrParse            = errors.New("parse response")
	ErrMissingSession   = errors.New("missing session")
	ErrSessionTooLong   = errors.New("session id too long")
	ErrAborted          = errors.New("handshake aborted")
)

// StatusError is a well-formed response with a status other than 200.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}

	return e.Status
}

// StepError reports which handshake step failed.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("rtsp %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// StatusCode returns the RTSP status of a handshake error when the server
// rejected a request. It returns false for transport and local failures.
func StatusCode(err error) (int, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode, true
	}

	return 0, false
}
