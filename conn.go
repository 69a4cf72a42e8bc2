package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// contextDialer is typically either *net.Dialer or *tls.Dialer.
type contextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

type connectConfig struct {
	transport string
	addr      string // format accepted by DialContext
	url       string // websocket URL
	retries   []time.Duration
}

func connectConfigFrom(cfg ServerCfg) connectConfig {
	return connectConfig{
		transport: cfg.Transport,
		addr:      cfg.Addr,
		url:       cfg.URL,
		retries:   fsecondsList(cfg.Retries),
	}
}

// dial connects to the chat server. Failed attempts are retried after each
// wait in the configured list, after which dial gives up.
func dial(ctx context.Context, config connectConfig) (net.Conn, error) {
	slog.InfoContext(ctx, "connecting", slog.String("transport", config.transport), slog.String("addr", config.addr))
	conn, err := dialOnce(ctx, config)
	if err == nil {
		return conn, nil
	}
	slog.WarnContext(ctx, "connection error", slog.Any("err", err))
	for _, wait := range config.retries {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		conn, err = dialOnce(ctx, config)
		if err == nil {
			return conn, nil
		}
		slog.WarnContext(ctx, "connection error", slog.Any("err", err), slog.Duration("after", wait))
	}
	return nil, fmt.Errorf("couldn't connect to chat server: %w", err)
}

func dialOnce(ctx context.Context, config connectConfig) (net.Conn, error) {
	var d contextDialer
	switch config.transport {
	case "tcp":
		d = new(net.Dialer)
	case "tls", "":
		d = new(tls.Dialer)
	case "websocket":
		c, _, err := websocket.Dial(ctx, config.url, nil)
		if err != nil {
			return nil, err
		}
		// The connection must outlive the dial context.
		return websocket.NetConn(context.WithoutCancel(ctx), c, websocket.MessageText), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", config.transport)
	}
	return d.DialContext(ctx, "tcp", config.addr)
}

// conn is a line-oriented connection to the chat server.
type conn struct {
	nc      net.Conn
	r       *bufio.Reader
	timeout time.Duration

	wmu sync.Mutex
}

func newConn(nc net.Conn, timeout time.Duration) *conn {
	return &conn{
		nc:      nc,
		r:       bufio.NewReaderSize(nc, 8192+512+2),
		timeout: timeout,
	}
}

// WriteLine sends one line followed by CR LF.
func (c *conn) WriteLine(ctx context.Context, line string) error {
	if strings.HasPrefix(line, "PASS ") {
		slog.DebugContext(ctx, "send", slog.String("line", "PASS <redacted>"))
	} else {
		slog.DebugContext(ctx, "send", slog.String("line", line))
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.timeout > 0 {
		c.nc.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	_, err := io.WriteString(c.nc, line+"\r\n")
	return err
}

// ReadLine reads one line including its terminator. If the deadline is zero,
// the connection's timeout applies instead.
func (c *conn) ReadLine(deadline time.Time) ([]byte, error) {
	if deadline.IsZero() && c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	c.nc.SetReadDeadline(deadline)
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		// A partial line at EOF is still delivered.
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return line, nil
		}
		return nil, err
	}
	slog.Debug("recv", slog.String("line", strings.TrimRight(string(line), "\r\n")))
	return line, nil
}

// Close closes the connection.
func (c *conn) Close() error {
	return c.nc.Close()
}
