// Package socks5 drives the client side of a SOCKS5 CONNECT handshake
// (RFC 1928 subset) over an already-dialed connection.
//
// It wraps the wire types in github.com/txthinking/socks5 with an explicit
// handshake state machine and an error taxonomy that keeps every server
// reply code distinguishable. Only the no-authentication method and the
// CONNECT command are spoken; there is no retry logic, one handshake
// attempt per connection.
package socks5
