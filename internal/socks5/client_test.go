package socks5

import (
	"errors"
	"fmt"
	"net"
	"testing"

	txsocks5 "github.com/txthinking/socks5"
	"golang.org/x/sync/errgroup"

	"github.com/dzvon/http2socks/internal/target"
)

// serveHandshake runs the server side of one handshake on conn: accept the
// no-auth greeting, read the CONNECT request, answer with rep. It returns
// the address the client asked for.
func serveHandshake(conn net.Conn, rep byte) (string, error) {
	neg, err := txsocks5.NewNegotiationRequestFrom(conn)
	if err != nil {
		return "", err
	}
	if len(neg.Methods) != 1 || neg.Methods[0] != txsocks5.MethodNone {
		return "", fmt.Errorf("unexpected methods: %v", neg.Methods)
	}
	if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(conn); err != nil {
		return "", err
	}

	req, err := txsocks5.NewRequestFrom(conn)
	if err != nil {
		return "", err
	}
	if req.Cmd != txsocks5.CmdConnect {
		return "", fmt.Errorf("unexpected command: %d", req.Cmd)
	}

	if _, err := txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{127, 0, 0, 1}, []byte{0x30, 0x39}).WriteTo(conn); err != nil {
		return "", err
	}
	return req.Address(), nil
}

func TestConnectSuccess(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		target   string
		wantAddr string
	}{
		{name: "domain", target: "example.com:8000", wantAddr: "example.com:8000"},
		{name: "ipv4", target: "127.0.0.1:9000", wantAddr: "127.0.0.1:9000"},
		{name: "ipv6", target: "[2001:db8::1]:443", wantAddr: "[2001:db8::1]:443"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()
			defer serverConn.Close()

			var gotAddr string
			g := errgroup.Group{}
			g.Go(func() error {
				var err error
				gotAddr, err = serveHandshake(serverConn, txsocks5.RepSuccess)
				if err != nil {
					return err
				}
				// Prove the stream is a usable pipe after the handshake.
				buf := make([]byte, 4)
				if _, err := serverConn.Read(buf); err != nil {
					return err
				}
				_, err = serverConn.Write(buf)
				return err
			})

			dst, err := target.Parse(tt.target)
			if err != nil {
				t.Fatal(err)
			}

			sess := NewSession(clientConn)
			if err := sess.Connect(dst); err != nil {
				t.Fatal(err)
			}
			if sess.State() != StateConnected {
				t.Errorf("state=%s want connected", sess.State())
			}
			if sess.Reply() != txsocks5.RepSuccess {
				t.Errorf("rep=0x%02x want 0x00", sess.Reply())
			}

			if _, err := clientConn.Write([]byte("ping")); err != nil {
				t.Fatal(err)
			}
			buf := make([]byte, 4)
			if _, err := clientConn.Read(buf); err != nil {
				t.Fatal(err)
			}

			if err := g.Wait(); err != nil {
				t.Fatal(err)
			}
			if gotAddr != tt.wantAddr {
				t.Errorf("server saw %q want %q", gotAddr, tt.wantAddr)
			}
		})
	}
}

func TestConnectReplyErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rep  byte
		want error
	}{
		{name: "general failure", rep: 0x01, want: ErrGeneralFailure},
		{name: "rule denied", rep: 0x02, want: ErrRuleDenied},
		{name: "network unreachable", rep: 0x03, want: ErrNetworkUnreachable},
		{name: "host unreachable", rep: 0x04, want: ErrHostUnreachable},
		{name: "connection refused", rep: 0x05, want: ErrConnectionRefused},
		{name: "ttl expired", rep: 0x06, want: ErrTTLExpired},
		{name: "command not supported", rep: 0x07, want: ErrCommandNotSupported},
		{name: "address type not supported", rep: 0x08, want: ErrAddressNotSupported},
		{name: "unrecognized code", rep: 0x5f, want: ReplyError(0x5f)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()
			defer serverConn.Close()

			g := errgroup.Group{}
			g.Go(func() error {
				_, err := serveHandshake(serverConn, tt.rep)
				return err
			})

			dst, err := target.Parse("example.com:80")
			if err != nil {
				t.Fatal(err)
			}

			sess := NewSession(clientConn)
			err = sess.Connect(dst)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err=%v want %v", err, tt.want)
			}
			if sess.State() != StateFailed {
				t.Errorf("state=%s want failed", sess.State())
			}
			if sess.Reply() != tt.rep {
				t.Errorf("rep=0x%02x want 0x%02x", sess.Reply(), tt.rep)
			}

			if err := g.Wait(); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestConnectReplyErrorsDistinct(t *testing.T) {
	t.Parallel()

	if errors.Is(ErrRuleDenied, ErrAddressNotSupported) {
		t.Error("rule-denied and address-not-supported must stay distinguishable")
	}
	if errors.Is(ErrConnectionRefused, ErrGeneralFailure) {
		t.Error("connection-refused and general-failure must stay distinguishable")
	}
}

func TestConnectNoAcceptableAuth(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	g := errgroup.Group{}
	g.Go(func() error {
		if _, err := txsocks5.NewNegotiationRequestFrom(serverConn); err != nil {
			return err
		}
		_, err := txsocks5.NewNegotiationReply(txsocks5.MethodUsernamePassword).WriteTo(serverConn)
		return err
	})

	dst, err := target.Parse("example.com:80")
	if err != nil {
		t.Fatal(err)
	}

	sess := NewSession(clientConn)
	if err := sess.Connect(dst); !errors.Is(err, ErrNoAcceptableAuth) {
		t.Fatalf("err=%v want ErrNoAcceptableAuth", err)
	}
	if sess.State() != StateFailed {
		t.Errorf("state=%s want failed", sess.State())
	}

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestConnectTransportFailure(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	g := errgroup.Group{}
	g.Go(func() error {
		// Accept the greeting, then vanish mid-handshake.
		if _, err := txsocks5.NewNegotiationRequestFrom(serverConn); err != nil {
			return err
		}
		return serverConn.Close()
	})

	dst, err := target.Parse("example.com:80")
	if err != nil {
		t.Fatal(err)
	}

	sess := NewSession(clientConn)
	if err := sess.Connect(dst); !errors.Is(err, ErrTransport) {
		t.Fatalf("err=%v want ErrTransport", err)
	}
	if sess.State() != StateFailed {
		t.Errorf("state=%s want failed", sess.State())
	}

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestSessionRejectsOutOfOrderTransitions(t *testing.T) {
	t.Parallel()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	sess := NewSession(clientConn)
	if err := sess.readReply(); err == nil {
		t.Fatal("reading a reply from init should fail")
	}
	if sess.State() != StateFailed {
		t.Errorf("state=%s want failed", sess.State())
	}

	dst, err := target.Parse("example.com:80")
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Connect(dst); err == nil {
		t.Fatal("a failed session must not restart")
	}
}
