package socks5

import (
	"fmt"
	"io"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/dzvon/http2socks/internal/target"
)

// State identifies where a handshake Session is in the exchange.
type State int

const (
	StateInit State = iota
	StateGreetingSent
	StateMethodChosen
	StateRequestSent
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateGreetingSent:
		return "greeting-sent"
	case StateMethodChosen:
		return "method-chosen"
	case StateRequestSent:
		return "request-sent"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session is the ephemeral state of one handshake: the current state and,
// once a CONNECT reply has been read, the server's reply code. After a
// Session reaches StateConnected the connection it was driven over is a
// transparent pipe to the target and the Session can be discarded.
type Session struct {
	conn  io.ReadWriter
	state State
	rep   byte
}

func NewSession(conn io.ReadWriter) *Session {
	return &Session{conn: conn, state: StateInit}
}

func (s *Session) State() State { return s.state }

// Reply returns the REP code from the server's CONNECT reply. Valid only
// once the session has left StateRequestSent.
func (s *Session) Reply() byte { return s.rep }

// Connect runs the handshake to completion for dst. On return the session
// is in StateConnected or StateFailed; a failed session's connection is in
// an undefined protocol state and must be discarded by the caller.
func (s *Session) Connect(dst target.Addr) error {
	if err := s.sendGreeting(); err != nil {
		return err
	}
	if err := s.readMethodChoice(); err != nil {
		return err
	}
	if err := s.sendConnect(dst); err != nil {
		return err
	}
	return s.readReply()
}

// sendGreeting moves init -> greeting-sent by offering exactly one auth
// method, no-authentication.
func (s *Session) sendGreeting() error {
	if err := s.expect(StateInit); err != nil {
		return err
	}
	if _, err := txsocks5.NewNegotiationRequest([]byte{txsocks5.MethodNone}).WriteTo(s.conn); err != nil {
		return s.fail(transportErr("write greeting", err))
	}
	s.state = StateGreetingSent
	return nil
}

// readMethodChoice moves greeting-sent -> method-chosen. Anything but the
// no-auth method is terminal; the bridge has no credentials to fall back to.
func (s *Session) readMethodChoice() error {
	if err := s.expect(StateGreetingSent); err != nil {
		return err
	}
	rep, err := txsocks5.NewNegotiationReplyFrom(s.conn)
	if err != nil {
		return s.fail(transportErr("read method selection", err))
	}
	if rep.Method != txsocks5.MethodNone {
		return s.fail(ErrNoAcceptableAuth)
	}
	s.state = StateMethodChosen
	return nil
}

// sendConnect moves method-chosen -> request-sent with a CONNECT request
// for dst. The address encoding follows the target's variant directly.
func (s *Session) sendConnect(dst target.Addr) error {
	if err := s.expect(StateMethodChosen); err != nil {
		return err
	}
	atyp, addr, port := dst.SOCKS5()
	if _, err := txsocks5.NewRequest(txsocks5.CmdConnect, atyp, addr, port).WriteTo(s.conn); err != nil {
		return s.fail(transportErr("write connect request", err))
	}
	s.state = StateRequestSent
	return nil
}

// readReply moves request-sent -> connected or failed. The bound address in
// the reply is read (so the stream stays framed) and discarded; only the
// REP code matters to the bridge.
func (s *Session) readReply() error {
	if err := s.expect(StateRequestSent); err != nil {
		return err
	}
	rep, err := txsocks5.NewReplyFrom(s.conn)
	if err != nil {
		return s.fail(transportErr("read connect reply", err))
	}
	s.rep = rep.Rep
	if rep.Rep != txsocks5.RepSuccess {
		return s.fail(ReplyError(rep.Rep))
	}
	s.state = StateConnected
	return nil
}

func (s *Session) expect(want State) error {
	if s.state != want {
		return s.fail(fmt.Errorf("socks5: transition from %s, want %s", s.state, want))
	}
	return nil
}

func (s *Session) fail(err error) error {
	s.state = StateFailed
	return err
}

// Connect performs one CONNECT handshake for dst over conn. On success conn
// is a transparent duplex pipe to dst.
func Connect(conn io.ReadWriter, dst target.Addr) error {
	return NewSession(conn).Connect(dst)
}
