package proxy

import (
	"context"
	"net"
)

// ForwardServer pairs every accepted connection with a fresh TCP connection
// to the configured SOCKS address and relays raw bytes between them. No
// HTTP parsing and no SOCKS5 handshake happens; the mode is useful when the
// connecting client speaks SOCKS5 itself.
type ForwardServer struct {
	ctx context.Context
	cfg Config
}

func NewForwardServer(ctx context.Context, cfg Config) *ForwardServer {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = NewDirectDialer(cfg)
	}
	return &ForwardServer{ctx: ctx, cfg: cfg}
}

// Serve accepts connections from ln until it is closed.
func (s *ForwardServer) Serve(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(c)
	}
}

func (s *ForwardServer) handleConn(client net.Conn) {
	defer client.Close()

	log := s.cfg.Logger.With().Stringer("client", client.RemoteAddr()).Logger()

	upstream, err := s.cfg.Dialer.DialContext(s.ctx, "tcp", s.cfg.SocksAddr)
	if err != nil {
		log.Debug().Err(err).Str("socks", s.cfg.SocksAddr).Msg("forward dial failed")
		return
	}
	defer upstream.Close()

	fromClient, fromUpstream, err := Relay(s.ctx, client, upstream)
	log.Debug().
		AnErr("reason", err).
		Int64("bytes_from_client", fromClient).
		Int64("bytes_from_upstream", fromUpstream).
		Msg("forward tunnel finished")
}
