package proxy

import (
	"context"
	"fmt"
	"net"
)

// ListenTCP opens a TCP listener on addr whose accepted connections have
// keepAliveConfig applied. A bind failure here is the only fatal error in
// the bridge; everything after accept is confined to its own connection.
func ListenTCP(network, addr string, keepAliveConfig net.KeepAliveConfig) (net.Listener, error) {
	lc := net.ListenConfig{}

	ln, err := lc.Listen(context.Background(), network, addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", network, addr, err)
	}

	return &keepAliveListener{Listener: ln, keepAlive: keepAliveConfig}, nil
}

// keepAliveListener applies a keepalive config to accepted *net.TCPConns.
type keepAliveListener struct {
	net.Listener
	keepAlive net.KeepAliveConfig
}

func (l *keepAliveListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(l.keepAlive)
	}

	return conn, nil
}
