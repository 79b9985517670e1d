// Package client orchestrates a full SSH-2 session: dialing, the
// key-exchange handshake, user authentication, and driving an
// interactive shell channel against a raw terminal.
package client

import (
	"context"
	"crypto/rand"
	"errors"
	"net"
	"sync"
	"time"

	"log/slog"

	"github.com/coinstash/tssh/internal/auth"
	"github.com/coinstash/tssh/internal/kex"
	"github.com/coinstash/tssh/internal/logging"
	"github.com/coinstash/tssh/internal/metrics"
	"github.com/coinstash/tssh/internal/packet"
	"github.com/coinstash/tssh/internal/session"
	"github.com/coinstash/tssh/internal/sshcore"
)

// Options configures a Client's dial, handshake, and shell behavior.
type Options struct {
	// ConnectTimeout bounds the initial TCP dial.
	ConnectTimeout time.Duration
	// HandshakeTimeout bounds version exchange through NEWKEYS.
	HandshakeTimeout time.Duration
	// ClientVersion overrides kex.ClientVersion when non-empty.
	ClientVersion string
	// TerminalType is sent with the pty-req (e.g. "xterm-256color").
	TerminalType string
	// Logger receives structured diagnostics; nil discards them.
	Logger *slog.Logger
	// Metrics receives handshake/auth/channel counters; nil disables
	// instrumentation entirely.
	Metrics *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 15 * time.Second
	}
	if o.HandshakeTimeout == 0 {
		o.HandshakeTimeout = 15 * time.Second
	}
	if o.ClientVersion == "" {
		o.ClientVersion = kex.ClientVersion
	}
	if o.TerminalType == "" {
		o.TerminalType = "xterm-256color"
	}
	if o.Logger == nil {
		o.Logger = logging.NopLogger()
	}
	return o
}

// Client holds one dialed, keyed connection.
type Client struct {
	conn net.Conn
	tr   *packet.Transport
	opts Options
	log  *slog.Logger

	suiteSessionID []byte

	mu       sync.Mutex
	exitErr  error
	done     chan struct{}
	doneOnce sync.Once
}

// Dial connects to addr ("host:port"), completes the version exchange
// and key-exchange handshake, and returns a *Client ready for
// Authenticate. ctx bounds the TCP dial; the handshake itself is
// bounded by opts.HandshakeTimeout via a connection deadline.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	opts = opts.withDefaults()

	dialer := net.Dialer{Timeout: opts.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, sshcore.Wrap(sshcore.KindIO, "dialing "+addr, err)
	}

	if err := conn.SetDeadline(time.Now().Add(opts.HandshakeTimeout)); err != nil {
		conn.Close()
		return nil, sshcore.Wrap(sshcore.KindIO, "setting handshake deadline", err)
	}

	if opts.Metrics != nil {
		opts.Metrics.RecordHandshakeAttempt()
	}

	tr := packet.New(conn)
	result, err := kex.Run(tr, conn, rand.Reader, opts.ClientVersion, opts.Logger)
	if err != nil {
		if opts.Metrics != nil {
			opts.Metrics.RecordHandshakeFailure(handshakeFailureReason(err))
		}
		conn.Close()
		return nil, err
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, sshcore.Wrap(sshcore.KindIO, "clearing handshake deadline", err)
	}

	opts.Logger.Info("handshake complete",
		"server_version", result.Versions.Server,
		"remote_addr", conn.RemoteAddr().String())

	return &Client{
		conn:           conn,
		tr:             tr,
		opts:           opts,
		log:            opts.Logger,
		suiteSessionID: result.Suite.SessionID,
		done:           make(chan struct{}),
	}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Authenticate runs password authentication for user.
func (c *Client) Authenticate(user string, prompt auth.PasswordPrompter, onBanner auth.BannerHandler) error {
	if c.opts.Metrics != nil {
		c.opts.Metrics.RecordAuthAttempt()
	}
	if err := auth.Authenticate(c.tr, user, prompt, onBanner, c.log); err != nil {
		if c.opts.Metrics != nil {
			c.opts.Metrics.RecordAuthFailure()
		}
		return err
	}
	return nil
}

// handshakeFailureReason extracts the sshcore.Kind string from err for
// the handshake_failures_total "reason" label, falling back to
// "Unknown" for errors this core didn't originate.
func handshakeFailureReason(err error) string {
	var coreErr *sshcore.Error
	if errors.As(err, &coreErr) {
		return coreErr.Kind.String()
	}
	return "Unknown"
}

func (c *Client) setError(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	if c.exitErr == nil {
		c.exitErr = err
	}
	c.mu.Unlock()
}

func (c *Client) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Err returns the first error recorded by a running shell session.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitErr
}
