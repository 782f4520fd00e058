package socks5

import (
	"errors"
	"fmt"

	txsocks5 "github.com/txthinking/socks5"
)

// ErrNoAcceptableAuth indicates the server refused the no-authentication
// method. The bridge never negotiates credentials, so this is terminal.
var ErrNoAcceptableAuth = errors.New("socks5: server rejected no-auth method")

// ErrTransport marks an I/O, short-read, or framing failure at any
// handshake state. The underlying cause is wrapped alongside it.
var ErrTransport = errors.New("socks5: transport failure")

// ReplyError is a non-success SOCKS5 REP code returned by the server in
// response to CONNECT. Unknown codes are carried as-is.
type ReplyError byte

var (
	ErrGeneralFailure      = ReplyError(txsocks5.RepServerFailure)
	ErrRuleDenied          = ReplyError(txsocks5.RepNotAllowed)
	ErrNetworkUnreachable  = ReplyError(txsocks5.RepNetworkUnreachable)
	ErrHostUnreachable     = ReplyError(txsocks5.RepHostUnreachable)
	ErrConnectionRefused   = ReplyError(txsocks5.RepConnectionRefused)
	ErrTTLExpired          = ReplyError(txsocks5.RepTTLExpired)
	ErrCommandNotSupported = ReplyError(txsocks5.RepCommandNotSupported)
	ErrAddressNotSupported = ReplyError(txsocks5.RepAddressNotSupported)
)

func (e ReplyError) Error() string {
	switch byte(e) {
	case txsocks5.RepServerFailure:
		return "socks5: general server failure"
	case txsocks5.RepNotAllowed:
		return "socks5: connection not allowed by ruleset"
	case txsocks5.RepNetworkUnreachable:
		return "socks5: network unreachable"
	case txsocks5.RepHostUnreachable:
		return "socks5: host unreachable"
	case txsocks5.RepConnectionRefused:
		return "socks5: connection refused"
	case txsocks5.RepTTLExpired:
		return "socks5: TTL expired"
	case txsocks5.RepCommandNotSupported:
		return "socks5: command not supported"
	case txsocks5.RepAddressNotSupported:
		return "socks5: address type not supported"
	default:
		return fmt.Sprintf("socks5: connect failed, reply code 0x%02x", byte(e))
	}
}

// Rep returns the raw REP code.
func (e ReplyError) Rep() byte { return byte(e) }

func transportErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}
