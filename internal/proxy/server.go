package proxy

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/dzvon/http2socks/internal/httphead"
	"github.com/dzvon/http2socks/internal/socks5"
)

// Responses the bridge writes to clients. Exact bytes, no extra headers.
const (
	respEstablished    = "HTTP/1.1 200 Connection Established\r\n\r\n"
	respBadRequest     = "HTTP/1.1 400 Bad Request\r\n\r\n"
	respBadGateway     = "HTTP/1.1 502 Bad Gateway\r\n\r\n"
	respGatewayTimeout = "HTTP/1.1 504 Gateway Timeout\r\n\r\n"
)

// Server accepts HTTP proxy connections and re-expresses each as a SOCKS5
// client of the configured server: CONNECT requests become opaque tunnels,
// forward requests are rewritten to origin-form and replayed upstream.
type Server struct {
	ctx context.Context
	cfg Config
}

// NewServer constructs the HTTP-mode bridge. ctx, when canceled, stops new
// upstream dials; in-flight relays are torn down through it as well.
func NewServer(ctx context.Context, cfg Config) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = NewDirectDialer(cfg)
	}
	return &Server{ctx: ctx, cfg: cfg}
}

// Serve accepts connections from ln until it is closed, handling each in
// its own goroutine. Connections share nothing but the immutable config.
func (s *Server) Serve(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(c)
	}
}

// handleConn is the per-connection supervisor: parse, handshake, respond,
// relay. Every exit path closes both streams exactly once (the client via
// defer, the upstream via defer or the relay's own teardown).
func (s *Server) handleConn(client net.Conn) {
	defer client.Close()

	log := s.cfg.Logger.With().Stringer("client", client.RemoteAddr()).Logger()
	log.Debug().Msg("connection accepted")

	if d := s.cfg.NegotiationTimeout; d > 0 {
		_ = client.SetReadDeadline(time.Now().Add(d))
	}

	req, err := httphead.Parse(bufio.NewReader(client))
	if err != nil {
		if !errors.Is(err, io.EOF) {
			_, _ = io.WriteString(client, respBadRequest)
			log.Debug().Err(err).Msg("rejected request head")
		}
		return
	}

	upstream, err := s.cfg.Dialer.DialContext(s.ctx, "tcp", s.cfg.SocksAddr)
	if err != nil {
		_, _ = io.WriteString(client, gatewayResponse(err))
		log.Debug().Err(err).Str("socks", s.cfg.SocksAddr).Msg("socks5 server unreachable")
		return
	}
	defer upstream.Close()

	if d := s.cfg.NegotiationTimeout; d > 0 {
		_ = upstream.SetDeadline(time.Now().Add(d))
	}

	if err := socks5.Connect(upstream, req.Target); err != nil {
		_, _ = io.WriteString(client, gatewayResponse(err))
		log.Debug().Err(err).Stringer("target", req.Target).Msg("socks5 handshake failed")
		return
	}

	if req.IsConnect {
		if _, err := io.WriteString(client, respEstablished); err != nil {
			return
		}
		if p := req.Pipelined(); len(p) > 0 {
			if _, err := upstream.Write(p); err != nil {
				return
			}
		}
	} else {
		if _, err := upstream.Write(req.Rewrite()); err != nil {
			return
		}
	}

	// Negotiation is over; the relay runs without deadlines.
	_ = client.SetReadDeadline(time.Time{})
	_ = upstream.SetDeadline(time.Time{})

	fromClient, fromUpstream, err := Relay(s.ctx, client, upstream)
	log.Debug().
		AnErr("reason", err).
		Stringer("target", req.Target).
		Int64("bytes_from_client", fromClient).
		Int64("bytes_from_upstream", fromUpstream).
		Msg("relay finished")
}

// gatewayResponse maps an upstream failure to the client-visible response:
// 504 when negotiation timed out, 502 for everything else.
func gatewayResponse(err error) string {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return respGatewayTimeout
	}
	return respBadGateway
}
