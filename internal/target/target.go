// Package target holds the tagged representation of a connection target:
// an IPv4 address, an IPv6 address, or a domain name, each with a port.
//
// It is the handoff type between the HTTP request parser, which produces
// one from a request line or Host header, and the SOCKS5 handshake, which
// encodes it into a CONNECT request's address field.
package target

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	txsocks5 "github.com/txthinking/socks5"
)

// Kind discriminates the address forms a target can take. The values map
// directly onto the SOCKS5 ATYP encodings.
type Kind int

const (
	KindIPv4 Kind = iota
	KindIPv6
	KindDomain
)

func (k Kind) String() string {
	switch k {
	case KindIPv4:
		return "ipv4"
	case KindIPv6:
		return "ipv6"
	case KindDomain:
		return "domain"
	default:
		return "unknown"
	}
}

// SOCKS5 caps a domain name at one length byte.
const maxDomainLen = 255

var (
	ErrEmptyHost     = errors.New("target: empty host")
	ErrDomainTooLong = errors.New("target: domain name exceeds 255 bytes")
)

// Addr is a connection target. Immutable once constructed.
type Addr struct {
	kind   Kind
	ip     netip.Addr
	domain string
	port   uint16
}

// New classifies host as an IP literal or a domain name and pairs it with
// port. host must be unbracketed.
func New(host string, port uint16) (Addr, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		ip = ip.Unmap()
		if ip.Is4() {
			return Addr{kind: KindIPv4, ip: ip, port: port}, nil
		}
		return Addr{kind: KindIPv6, ip: ip, port: port}, nil
	}
	if host == "" {
		return Addr{}, ErrEmptyHost
	}
	if len(host) > maxDomainLen {
		return Addr{}, ErrDomainTooLong
	}
	return Addr{kind: KindDomain, domain: host, port: port}, nil
}

// Parse splits a host:port authority (IPv6 hosts bracketed) and classifies
// the host. A missing or out-of-range port is an error.
func Parse(hostport string) (Addr, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Addr{}, fmt.Errorf("target: %w", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Addr{}, fmt.Errorf("target: invalid port %q", portStr)
	}
	return New(host, uint16(port))
}

func (a Addr) Kind() Kind   { return a.kind }
func (a Addr) Port() uint16 { return a.port }

// Host returns the unbracketed host portion.
func (a Addr) Host() string {
	if a.kind == KindDomain {
		return a.domain
	}
	return a.ip.String()
}

// String returns host:port, bracketing IPv6 hosts.
func (a Addr) String() string {
	return net.JoinHostPort(a.Host(), strconv.Itoa(int(a.port)))
}

// SOCKS5 returns the ATYP byte, address bytes, and 2-byte big-endian port
// for a SOCKS5 request. Domain addresses are returned without the length
// prefix; the socks5 request type writes it on the wire.
func (a Addr) SOCKS5() (atyp byte, addr, port []byte) {
	port = binary.BigEndian.AppendUint16(nil, a.port)
	switch a.kind {
	case KindIPv4:
		b := a.ip.As4()
		return txsocks5.ATYPIPv4, b[:], port
	case KindIPv6:
		b := a.ip.As16()
		return txsocks5.ATYPIPv6, b[:], port
	default:
		return txsocks5.ATYPDomain, []byte(a.domain), port
	}
}
