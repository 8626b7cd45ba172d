package rtsp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"
)

// Proto is the protocol tag carried by every request.
const Proto = "RTSP/1.0"

// Option is a named attribute of a request or response, like a header field.
type Option struct {
	Name  string
	Value string
}

// NewOption returns an option after checking that it can be serialized
// without breaking the message framing.
func NewOption(name, value string) (Option, error) {
	if name == "" || strings.ContainsAny(name, ":\r\n") {
		return Option{}, fmt.Errorf("%w: invalid option name %q", ErrBuildRequest, name)
	}

	if strings.ContainsAny(value, "\r\n") {
		return Option{}, fmt.Errorf("%w: invalid value for option %s", ErrBuildRequest, name)
	}

	return Option{Name: name, Value: value}, nil
}

// Options is an ordered option list. Duplicates are allowed.
type Options []Option

// Get returns the value of the first option with exactly the given name.
func (o Options) Get(name string) (string, bool) {
	for _, opt := range o {
		if opt.Name == name {
			return opt.Value, true
		}
	}

	return "", false
}

// contentLength looks up the payload length marker.
// Servers differ in the case of this option name.
func (o Options) contentLength() (int, bool, error) {
	for _, opt := range o {
		if !strings.EqualFold(opt.Name, "Content-length") {
			continue
		}

		v := strings.TrimSpace(opt.Value)
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, true, fmt.Errorf("invalid content-length %q", v)
		}

		return n, true, nil
	}

	return 0, false, nil
}

func (o Options) write(buf *bytes.Buffer) {
	for _, opt := range o {
		buf.WriteString(opt.Name)
		buf.WriteString(": ")
		buf.WriteString(opt.Value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
}

type Request struct {
	Method  string
	Target  string
	Proto   string
	Options Options
	Payload []byte
}

// MarshalHeader serializes the request line and options, without payload.
func (r *Request) MarshalHeader() []byte {
	var buf bytes.Buffer

	proto := r.Proto
	if proto == "" {
		proto = Proto
	}

	fmt.Fprintf(&buf, "%s %s %s\r\n", r.Method, r.Target, proto)
	r.Options.write(&buf)

	return buf.Bytes()
}

// Marshal serializes the whole request, payload included.
func (r *Request) Marshal() []byte {
	return append(r.MarshalHeader(), r.Payload...)
}

func parseRequestLine(line string) (method, requestURI, proto string, ok bool) {
	method, line, ok = strings.Cut(line, " ")
	if !ok {
		return
	}

	requestURI, proto, _ = strings.Cut(line, " ")

	return
}

func parseOptionLine(line string) (Option, error) {
	name, value, ok := strings.Cut(line, ":")
	if !ok || name == "" {
		return Option{}, fmt.Errorf("malformed option line %q", line)
	}

	return Option{
		Name:  strings.TrimSpace(name),
		Value: strings.TrimSpace(value),
	}, nil
}

func readOptions(tp *textproto.Reader) (Options, error) {
	var options Options

	for {
		line, err := tp.ReadLine()
		if err != nil {
			return nil, err
		}

		if line == "" {
			return options, nil
		}

		opt, err := parseOptionLine(line)
		if err != nil {
			return nil, err
		}

		options = append(options, opt)
	}
}

// ReadRequest reads request from the client.
func ReadRequest(r *bufio.Reader) (request *Request, err error) {
	tp := textproto.NewReader(r)

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

	method, target, proto, ok := parseRequestLine(line)
	if !ok {
		return nil, fmt.Errorf("invalid request line %q", line)
	}

	options, err := readOptions(tp)
	if err != nil {
		return nil, err
	}

	request = &Request{
		Method:  method,
		Target:  target,
		Proto:   proto,
		Options: options,
	}

	contentLength, ok, err := options.contentLength()
	if err != nil {
		return nil, err
	}

	if ok && contentLength > 0 {
		request.Payload = make([]byte, contentLength)
		if _, err = io.ReadFull(r, request.Payload); err != nil {
			return nil, err
		}
	}

	return request, nil
}
