package proxy

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Parse failures that close the connection without a response.
var (
	ErrMalformedRequest = errors.New("malformed request line")
	ErrMalformedURI     = errors.New("malformed request URI")
	ErrMalformedHeader  = errors.New("malformed header line")
	ErrBadVersion       = errors.New("unsupported HTTP version")
)

// StatusError is a request failure that is reported back to the client as
// an HTTP error response instead of silently closing the connection.
type StatusError struct {
	Code   string
	Reason string
	Detail string
}

func (e *StatusError) Error() string {
	return e.Code + " " + e.Reason + ": " + e.Detail
}

// Header is one client header, name and value trimmed.
type Header struct {
	Name  string
	Value string
}

// Request is a parsed client request: the request line split into its
// components plus the client's headers in arrival order.
type Request struct {
	Method  string
	Scheme  string
	Host    string
	Port    string
	Path    string
	URI     string
	Version string
	Headers []Header
}

// ReadRequest parses one HTTP request from 'r': the request line, then
// headers until the blank line. Only absolute-form GET requests over http
// are accepted; anything else yields a StatusError (501) or one of the
// malformed-request errors.
func ReadRequest(r *bufio.Reader) (*Request, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, errors.Wrap(err, "read request line")
	}

	fields := strings.Fields(line)
	if len(fields) != 3 {
		return nil, ErrMalformedRequest
	}
	req := &Request{
		Method:  fields[0],
		URI:     fields[1],
		Version: fields[2],
	}

	if req.Method != "GET" {
		return nil, &StatusError{
			Code:   "501",
			Reason: "Not Implemented",
			Detail: "Proxy does not implement " + req.Method,
		}
	}
	if req.Version != "HTTP/1.0" && req.Version != "HTTP/1.1" {
		return nil, ErrBadVersion
	}
	if err := req.parseURI(); err != nil {
		return nil, err
	}

	for {
		line, err := readLine(r)
		if err != nil {
			return nil, errors.Wrap(err, "read header line")
		}
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, ErrMalformedHeader
		}
		req.Headers = append(req.Headers, Header{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}
	return req, nil
}

// parseURI splits the absolute-form URI into scheme, host, port and path.
// The port defaults to 80 and the path to "/".
func (r *Request) parseURI() error {
	i := strings.Index(r.URI, "://")
	if i < 0 {
		return ErrMalformedURI
	}
	r.Scheme = r.URI[:i]
	if r.Scheme != "http" {
		return &StatusError{
			Code:   "501",
			Reason: "Not Implemented",
			Detail: "Proxy does not implement " + r.Scheme,
		}
	}
	rest := r.URI[i+3:]

	hostport := rest
	r.Path = "/"
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		hostport = rest[:i]
		r.Path = rest[i:]
	}

	r.Host = hostport
	r.Port = "80"
	if i := strings.LastIndexByte(hostport, ':'); i >= 0 {
		r.Host = hostport[:i]
		r.Port = hostport[i+1:]
	}
	if r.Host == "" || r.Port == "" {
		return ErrMalformedURI
	}
	return nil
}

// CacheKey returns the bytes the cache is keyed by: the request URI with a
// trailing NUL byte appended.
func (r *Request) CacheKey() []byte {
	return append([]byte(r.URI), 0)
}

// Upstream assembles the rewritten request sent to the origin server: the
// request line downgraded to HTTP/1.0, the reserved headers, then the
// client's remaining headers in their original order. The client's own
// Connection, Proxy-Connection and User-Agent headers are dropped in favor
// of the reserved values.
func (r *Request) Upstream(userAgent string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s HTTP/1.0\r\n", r.Method, r.URI)
	b.WriteString("Connection: close\r\n")
	b.WriteString("Proxy-Connection: close\r\n")
	fmt.Fprintf(&b, "User-Agent: %s\r\n", userAgent)

	for _, h := range r.Headers {
		switch h.Name {
		case "Connection", "Proxy-Connection", "User-Agent":
			continue
		}
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

// readLine reads one CRLF- or LF-terminated line, without the terminator.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// writeError sends a minimal HTML error page in HTTP/1.0 format.
func writeError(w io.Writer, code, reason, detail string) error {
	body := fmt.Sprintf(
		"<!DOCTYPE html>\r\n"+
			"<html>\r\n"+
			"<head><title>Proxy Error</title></head>\r\n"+
			"<body bgcolor=\"ffffff\">\r\n"+
			"<h1>%s: %s</h1>\r\n"+
			"<p>%s</p>\r\n"+
			"<hr /><em>Proxy</em>\r\n"+
			"</body></html>\r\n",
		code, reason, detail)

	_, err := fmt.Fprintf(w,
		"HTTP/1.0 %s %s\r\n"+
			"Content-Type: text/html\r\n"+
			"Content-Length: %d\r\n\r\n%s",
		code, reason, len(body), body)
	return err
}
