// Command http2socks bridges HTTP proxy clients onto a SOCKS5 proxy: it
// listens for HTTP CONNECT tunnels and plain forward-proxy requests and
// re-expresses each as a SOCKS5 CONNECT, relaying bytes transparently. In
// forward mode it skips all protocol handling and tunnels raw TCP to the
// SOCKS address instead.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/dzvon/http2socks/internal/proxy"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		listen  = pflag.StringP("listen", "l", "127.0.0.1:8080", "Address the bridge listens on")
		socks   = pflag.StringP("socks", "s", "127.0.0.1:1080", "SOCKS5 server address requests are bridged to")
		forward = pflag.BoolP("forward", "f", false, "Forward raw TCP to the SOCKS address instead of speaking HTTP")

		dialTimeout        = pflag.Duration("dial-timeout", 10*time.Second, "Timeout for the TCP connect to the SOCKS5 server")
		negotiationTimeout = pflag.Duration("negotiation-timeout", 10*time.Second, "Timeout for reading the request head and the SOCKS5 handshake")
		tcpKeepAlive       = pflag.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
		verbose            = pflag.BoolP("verbose", "v", false, "Enable per-connection debug logging")
	)

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	ka, err := parseTCPKeepAlive(*tcpKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	cfg := proxy.Config{
		SocksAddr:          *socks,
		DialTimeout:        *dialTimeout,
		NegotiationTimeout: *negotiationTimeout,
		KeepAlive:          ka,
		Logger:             logger,
	}

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := proxy.ListenTCP("tcp", *listen, ka)
	if err != nil {
		return err
	}
	context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})

	if *forward {
		srv := proxy.NewForwardServer(ctx, cfg)
		g.Go(func() error {
			return serveUntilClosed(srv.Serve, ln, "forward")
		})
		logger.Info().Str("listen", *listen).Str("socks", *socks).Msg("tcp forward mode: relaying raw traffic to the SOCKS address")
	} else {
		srv := proxy.NewServer(ctx, cfg)
		g.Go(func() error {
			return serveUntilClosed(srv.Serve, ln, "http proxy")
		})
		logger.Info().Str("listen", *listen).Str("socks", *socks).Msg("http proxy mode: bridging requests to SOCKS5")
	}

	err = g.Wait()
	logger.Info().Msg("shutting down")
	return err
}

// serveUntilClosed runs an accept loop and treats the listener being closed
// on shutdown as a clean exit.
func serveUntilClosed(serve func(net.Listener) error, ln net.Listener, name string) error {
	if err := serve(ln); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%s serve: %w", name, err)
	}
	return nil
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveSeconds(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveSeconds(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepIdle,
		Interval: keepIntvl,
		Count:    keepCnt,
	}, nil
}

func parsePositiveSeconds(s string) (time.Duration, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return time.Duration(n) * time.Second, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}
