package rtsp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

type Response struct {
	Proto      string
	StatusCode int
	Status     string
	Options    Options
	Payload    []byte
}

func parseResponseLine(line string) (proto, status string, code int, ok bool) {
	proto, status, ok = strings.Cut(line, " ")
	if !ok {
		return
	}

	status = strings.TrimSpace(status)
	statusCode, _, _ := strings.Cut(status, " ")

	var err error
	code, err = strconv.Atoi(statusCode)
	ok = (err == nil) && (code >= 100) && (code <= 999)

	return
}

// ParseResponse parses one complete response from data.
// The payload is bounded by the Content-length option when the server sends
// one and is the rest of data otherwise.
func ParseResponse(data []byte) (response *Response, err error) {
	reader := bufio.NewReader(bytes.NewReader(data))
	tp := textproto.NewReader(reader)

	defer func() {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
	}()

	var line string
	line, err = tp.ReadLine()
	if err != nil {
		return nil, err
	}

	proto, status, code, ok := parseResponseLine(line)
	if !ok {
		return nil, fmt.Errorf("invalid response line %q", line)
	}

	options, err := readOptions(tp)
	if err != nil {
		return nil, err
	}

	response = &Response{
		Proto:      proto,
		StatusCode: code,
		Status:     status,
		Options:    options,
	}

	rest, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	contentLength, ok, err := options.contentLength()
	if err != nil {
		return nil, err
	}

	if ok {
		if contentLength > len(rest) {
			return nil, fmt.Errorf(
				"payload truncated: %d of %d bytes",
				len(rest),
				contentLength,
			)
		}
		rest = rest[:contentLength]
	}

	if len(rest) > 0 {
		response.Payload = rest
	}

	return response, nil
}

// Marshal serializes the response. Status defaults to the code and its
// reason phrase.
func (r *Response) Marshal() []byte {
	var buf bytes.Buffer

	proto := r.Proto
	if proto == "" {
		proto = Proto
	}

	status := r.Status
	if status == "" {
		status = strconv.Itoa(r.StatusCode) + " " + http.StatusText(r.StatusCode)
	}

	fmt.Fprintf(&buf, "%s %s\r\n", proto, status)
	r.Options.write(&buf)
	buf.Write(r.Payload)

	return buf.Bytes()
}
