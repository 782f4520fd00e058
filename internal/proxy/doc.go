// Package proxy implements the listener-side of the bridge.
//
// It contains the per-connection supervisor that turns HTTP proxy requests
// into SOCKS5 CONNECTs, the raw forward-mode tunnel, and the shared
// connection plumbing: keepalive listeners, the upstream dialer, and the
// bidirectional relay.
package proxy
