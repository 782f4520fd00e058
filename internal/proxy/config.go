package proxy

import (
	"net"
	"time"

	"github.com/rs/zerolog"
)

// Config is the immutable startup configuration shared by every connection
// handler. It is passed by value at spawn time; connections never interact
// and nothing here is mutated after startup.
type Config struct {
	// SocksAddr is the SOCKS5 server handshakes are run against, or the
	// raw forwarding destination in forward mode.
	SocksAddr string

	// DialTimeout bounds the TCP connect to SocksAddr.
	DialTimeout time.Duration

	// NegotiationTimeout bounds reading the client's request head and the
	// SOCKS5 handshake. Zero disables the deadline.
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	// Dialer opens the upstream connection; nil means a direct TCP dial.
	Dialer Dialer

	Logger zerolog.Logger
}
