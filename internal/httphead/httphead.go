// Package httphead parses one HTTP proxy request head from a client stream.
//
// It classifies the request as a CONNECT tunnel or a forward-proxy request,
// extracts the connection target, and for forward requests produces the
// rewritten byte sequence to replay upstream: the request line converted to
// origin-form, hop headers meant for this proxy stripped, everything else
// preserved byte-for-byte in original order.
//
// net/http.ReadRequest is deliberately not used here: it canonicalizes
// header names, loses their order, and consumes body bytes, while the
// bridge must forward the header block as the client spelled it.
package httphead

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"

	"github.com/dzvon/http2socks/internal/target"
)

// MaxHeaderBytes bounds the request head (request line, headers, and line
// terminators). Anything larger is rejected before buffering more.
const MaxHeaderBytes = 64 * 1024

var (
	ErrBadRequestLine = errors.New("httphead: malformed request line")
	ErrBadVersion     = errors.New("httphead: unsupported HTTP version")
	ErrBadTarget      = errors.New("httphead: invalid request target")
	ErrMissingHost    = errors.New("httphead: missing Host header")
	ErrTooLarge       = errors.New("httphead: request head too large")
)

// Request is one parsed proxy request head.
//
// For CONNECT requests there is nothing to replay upstream; the caller
// acknowledges the tunnel itself. For forward requests Rewrite returns the
// bytes to send upstream once connected.
type Request struct {
	Method    string
	Version   string
	Target    target.Addr
	Authority string // authority exactly as the client sent it
	IsConnect bool

	origin    string   // origin-form request target for the rewritten line
	headers   []string // raw header lines, original order, CRLF stripped
	pipelined []byte   // bytes the client sent past the header boundary
}

// Parse reads one request head from br. It consumes exactly the head plus
// whatever the client pipelined into the read buffer; those extra bytes are
// preserved on the Request.
//
// io.EOF is returned unwrapped when the client closes before sending
// anything; every other failure is one of the Err* sentinels or an I/O
// error from the underlying stream.
func Parse(br *bufio.Reader) (*Request, error) {
	var total int

	line, err := readLine(br, &total)
	if err != nil {
		return nil, err
	}

	method, rawTarget, version, ok := splitRequestLine(line)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBadRequestLine, line)
	}
	if version != "HTTP/1.1" && version != "HTTP/1.0" {
		return nil, fmt.Errorf("%w: %q", ErrBadVersion, version)
	}

	req := &Request{
		Method:    method,
		Version:   version,
		IsConnect: strings.EqualFold(method, "CONNECT"),
	}

	for {
		line, err := readLine(br, &total)
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
		req.headers = append(req.headers, line)
	}

	if n := br.Buffered(); n > 0 {
		req.pipelined = make([]byte, n)
		if _, err := io.ReadFull(br, req.pipelined); err != nil {
			return nil, err
		}
	}

	if req.IsConnect {
		// Authority-form only; a missing port is an error rather than an
		// implicit default.
		req.Authority = rawTarget
		addr, err := target.Parse(rawTarget)
		if err != nil {
			return nil, fmt.Errorf("%w: connect %q: %v", ErrBadTarget, rawTarget, err)
		}
		req.Target = addr
		return req, nil
	}

	if err := req.resolveForwardTarget(rawTarget); err != nil {
		return nil, err
	}
	return req, nil
}

// resolveForwardTarget fills Target, Authority, and the origin-form request
// target for a non-CONNECT request: absolute-form URIs carry the host in
// the request line, origin-form requests fall back to the Host header.
func (r *Request) resolveForwardTarget(rawTarget string) error {
	if rawTarget == "" {
		return fmt.Errorf("%w: empty target", ErrBadTarget)
	}

	if rawTarget[0] == '/' || rawTarget == "*" {
		host, ok := r.header("Host")
		if !ok || host == "" {
			return ErrMissingHost
		}
		addr, err := parseAuthority(host, "80")
		if err != nil {
			return fmt.Errorf("%w: Host %q: %v", ErrBadTarget, host, err)
		}
		r.Target = addr
		r.Authority = host
		r.origin = rawTarget
		return nil
	}

	u, err := url.Parse(rawTarget)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrBadTarget, rawTarget)
	}

	defaultPort := "80"
	switch strings.ToLower(u.Scheme) {
	case "http":
	case "https":
		defaultPort = "443"
	default:
		return fmt.Errorf("%w: scheme %q", ErrBadTarget, u.Scheme)
	}

	addr, err := parseAuthority(u.Host, defaultPort)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrBadTarget, rawTarget, err)
	}
	r.Target = addr
	r.Authority = u.Host
	r.origin = u.RequestURI()
	return nil
}

// Rewrite returns the bytes to replay upstream for a forward request: the
// origin-form request line, the headers in original order minus
// Proxy-Connection and Proxy-Authorization, the blank line, and any
// pipelined bytes.
func (r *Request) Rewrite() []byte {
	var b bytes.Buffer
	b.WriteString(r.Method)
	b.WriteByte(' ')
	b.WriteString(r.origin)
	b.WriteByte(' ')
	b.WriteString(r.Version)
	b.WriteString("\r\n")

	dropping := false
	for _, h := range r.headers {
		if len(h) > 0 && (h[0] == ' ' || h[0] == '\t') {
			// Continuation line; follows its header's fate.
			if !dropping {
				b.WriteString(h)
				b.WriteString("\r\n")
			}
			continue
		}
		dropping = dropHeader(h)
		if !dropping {
			b.WriteString(h)
			b.WriteString("\r\n")
		}
	}

	b.WriteString("\r\n")
	b.Write(r.pipelined)
	return b.Bytes()
}

// Pipelined returns any request bytes the client sent past the header
// boundary that were already sitting in the read buffer.
func (r *Request) Pipelined() []byte {
	return r.pipelined
}

// header returns the first header value for name, case-insensitively.
func (r *Request) header(name string) (string, bool) {
	for _, h := range r.headers {
		k, v, ok := strings.Cut(h, ":")
		if ok && strings.EqualFold(strings.TrimSpace(k), name) {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

func dropHeader(line string) bool {
	name, _, ok := strings.Cut(line, ":")
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "proxy-connection", "proxy-authorization":
		return true
	}
	return false
}

// parseAuthority parses host[:port] (IPv6 bracketed) with a default port.
func parseAuthority(authority, defaultPort string) (target.Addr, error) {
	hostport := authority
	if _, _, err := net.SplitHostPort(hostport); err != nil {
		host := strings.TrimSuffix(strings.TrimPrefix(authority, "["), "]")
		hostport = net.JoinHostPort(host, defaultPort)
	}
	return target.Parse(hostport)
}

func splitRequestLine(line string) (method, rawTarget, version string, ok bool) {
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// readLine reads one CRLF- (or bare LF-) terminated line, accumulating into
// total and failing with ErrTooLarge once the head exceeds MaxHeaderBytes.
func readLine(br *bufio.Reader, total *int) (string, error) {
	var buf []byte
	for {
		frag, err := br.ReadSlice('\n')
		buf = append(buf, frag...)
		*total += len(frag)
		if *total > MaxHeaderBytes {
			return "", ErrTooLarge
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) && len(buf) > 0 {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}

	n := len(buf)
	if n > 0 && buf[n-1] == '\n' {
		n--
	}
	if n > 0 && buf[n-1] == '\r' {
		n--
	}
	return string(buf[:n]), nil
}
