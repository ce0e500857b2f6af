// Package transport provides the plain-TCP byte pipe that the Session
// Protocol layer runs over. It owns dialing, listening, and per-call
// deadlines; it knows nothing about framing, encryption, or handshakes.
package transport

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/cryptcat-go/cryptcat/internal/cryptcaterr"
)

// defaultCallDeadline bounds every individual Read/Write on a Conn.
const defaultCallDeadline = 30 * time.Second

// dialRetries is how many passes in total Connect makes over the full
// resolved address set before giving up.
const dialRetries = 3

// dialRetryBackoff is the pause between retry passes over the resolved set.
const dialRetryBackoff = time.Second

// perAddressTimeout bounds a single happy-eyeballs dial attempt before
// Connect moves on to the next resolved address.
const perAddressTimeout = 5 * time.Second

// Conn is a bidirectional, deadline-bearing byte stream between two
// cryptcat endpoints. It carries no framing of its own.
type Conn interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	SetDeadline(t time.Time) error
}

// Listener accepts incoming Conns.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Close() error
}

// conn wraps a *net.TCPConn, applying a fixed call deadline to every
// Read/Write so a dead peer cannot block the caller indefinitely.
type conn struct {
	*net.TCPConn
}

func (c *conn) Read(p []byte) (int, error) {
	if err := c.TCPConn.SetDeadline(time.Now().Add(defaultCallDeadline)); err != nil {
		return 0, cryptcaterr.New(cryptcaterr.Io, err)
	}
	n, err := c.TCPConn.Read(p)
	if err != nil {
		return n, classifyIOError(err)
	}
	return n, nil
}

func (c *conn) Write(p []byte) (int, error) {
	if err := c.TCPConn.SetDeadline(time.Now().Add(defaultCallDeadline)); err != nil {
		return 0, cryptcaterr.New(cryptcaterr.Io, err)
	}
	written := 0
	for written < len(p) {
		n, err := c.TCPConn.Write(p[written:])
		written += n
		if err != nil {
			return written, classifyIOError(err)
		}
	}
	return written, nil
}

func (c *conn) Close() error {
	if err := c.TCPConn.Close(); err != nil {
		return cryptcaterr.New(cryptcaterr.Io, err)
	}
	return nil
}

func classifyIOError(err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return cryptcaterr.New(cryptcaterr.Timeout, err)
	}
	return cryptcaterr.New(cryptcaterr.TransportClosed, err)
}

// Connect resolves host, dials each resolved address in order
// (happy-eyeballs style, a short per-address timeout before moving to the
// next), and tries the whole resolved set up to dialRetries times in
// total, with a fixed back-off between passes, when no address connects.
func Connect(ctx context.Context, host string, port int) (Conn, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, cryptcaterr.New(cryptcaterr.Io, err)
	}
	if len(addrs) == 0 {
		return nil, cryptcaterr.Wrap(cryptcaterr.Io, "no addresses resolved for host")
	}

	var lastErr error
	dialer := &net.Dialer{Timeout: perAddressTimeout}

	for attempt := 0; attempt < dialRetries; attempt++ {
		for _, ip := range addrs {
			if ctx.Err() != nil {
				return nil, cryptcaterr.New(cryptcaterr.Cancelled, ctx.Err())
			}

			dialCtx, cancel := context.WithTimeout(ctx, perAddressTimeout)
			raw, err := dialer.DialContext(dialCtx, "tcp", net.JoinHostPort(ip.IP.String(), strconv.Itoa(port)))
			cancel()
			if err != nil {
				lastErr = err
				continue
			}

			tcpConn, ok := raw.(*net.TCPConn)
			if !ok {
				raw.Close()
				lastErr = cryptcaterr.Wrap(cryptcaterr.Io, "dialed connection is not TCP")
				continue
			}
			if err := tcpConn.SetKeepAlive(true); err != nil {
				tcpConn.Close()
				lastErr = err
				continue
			}
			return &conn{TCPConn: tcpConn}, nil
		}

		if attempt < dialRetries-1 {
			select {
			case <-time.After(dialRetryBackoff):
			case <-ctx.Done():
				return nil, cryptcaterr.New(cryptcaterr.Cancelled, ctx.Err())
			}
		}
	}

	return nil, cryptcaterr.New(cryptcaterr.Io, lastErr)
}

// listener wraps a *net.TCPListener.
type listener struct {
	ln *net.TCPListener
}

// Listen opens a TCP listener on port across all local addresses, with
// SO_REUSEADDR always set and SO_REUSEPORT set where the platform
// supports it.
func Listen(port int) (Listener, error) {
	lc := net.ListenConfig{Control: controlReuseAddrPort}

	raw, err := lc.Listen(context.Background(), "tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return nil, cryptcaterr.New(cryptcaterr.Io, err)
	}
	tcpLn, ok := raw.(*net.TCPListener)
	if !ok {
		raw.Close()
		return nil, cryptcaterr.Wrap(cryptcaterr.Io, "listener is not TCP")
	}
	return &listener{ln: tcpLn}, nil
}

func (l *listener) Accept(ctx context.Context) (Conn, error) {
	type result struct {
		c   *net.TCPConn
		err error
	}
	ch := make(chan result, 1)

	go func() {
		raw, err := l.ln.Accept()
		if err != nil {
			ch <- result{nil, err}
			return
		}
		tcpConn, ok := raw.(*net.TCPConn)
		if !ok {
			raw.Close()
			ch <- result{nil, cryptcaterr.Wrap(cryptcaterr.Io, "accepted connection is not TCP")}
			return
		}
		ch <- result{tcpConn, nil}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, cryptcaterr.New(cryptcaterr.Io, r.err)
		}
		if err := r.c.SetKeepAlive(true); err != nil {
			r.c.Close()
			return nil, cryptcaterr.New(cryptcaterr.Io, err)
		}
		return &conn{TCPConn: r.c}, nil
	case <-ctx.Done():
		return nil, cryptcaterr.New(cryptcaterr.Cancelled, ctx.Err())
	}
}

func (l *listener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *listener) Close() error {
	if err := l.ln.Close(); err != nil {
		return cryptcaterr.New(cryptcaterr.Io, err)
	}
	return nil
}

