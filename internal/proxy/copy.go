package proxy

import (
	"context"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

// closeWriter is the half-close side of a duplex stream. *net.TCPConn and
// *tls.Conn both satisfy it.
type closeWriter interface {
	CloseWrite() error
}

// Relay copies bytes between left and right in both directions until both
// have reached end-of-stream.
//
// A clean EOF in one direction half-closes its destination and lets the
// other direction keep draining. An I/O error or a context cancellation
// closes both connections so the sibling copy unblocks; a relay never
// hangs on a dead peer. Both connections are closed by the time Relay
// returns.
//
// Payload bytes are not buffered or transformed; order and content are
// preserved exactly.
func Relay(ctx context.Context, left, right net.Conn) (leftToRight, rightToLeft int64, err error) {
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = left.Close()
			_ = right.Close()
		})
	}
	defer closeBoth()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeBoth()
		case <-done:
		}
	}()

	g := errgroup.Group{}
	g.Go(func() error {
		n, cerr := copyHalf(right, left)
		leftToRight = n
		if cerr != nil {
			closeBoth()
		}
		return cerr
	})
	g.Go(func() error {
		n, cerr := copyHalf(left, right)
		rightToLeft = n
		if cerr != nil {
			closeBoth()
		}
		return cerr
	})

	err = g.Wait()
	return leftToRight, rightToLeft, err
}

// copyHalf drains src into dst. On clean EOF the destination's write side
// is shut down so the peer observes end-of-stream while its own sends keep
// flowing.
func copyHalf(dst, src net.Conn) (int64, error) {
	n, err := io.Copy(dst, src)
	if err == nil {
		if cw, ok := dst.(closeWriter); ok {
			_ = cw.CloseWrite()
		}
	}
	return n, err
}
