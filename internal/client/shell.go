package client

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/term"

	"github.com/coinstash/tssh/internal/input"
	"github.com/coinstash/tssh/internal/session"
)

// RunShell opens a "session" channel, requests a pty and a shell, and
// pumps stdin/stdout/stderr until the remote side closes the channel
// or ctx is cancelled. It returns the remote exit status (0 if the
// server never reported one) and the first error encountered.
//
// Mirrors the donor shell client's Run(): a goroutine reading the
// local input side and a goroutine driving the channel's dispatch
// loop, both torn down through one cancellable context and a
// WaitGroup, plus a SIGWINCH-driven resize goroutine when stdin is a
// terminal (spec section 5's concurrency model).
func (c *Client) RunShell(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	ch, err := session.Open(c.tr, c.log)
	if err != nil {
		return 1, err
	}
	ch.Stdout = stdout
	ch.Stderr = stderr
	if c.opts.Metrics != nil {
		ch.OnBytes = c.opts.Metrics.RecordChannelBytes
		ch.OnWindowAdjust = c.opts.Metrics.RecordWindowAdjust
	}

	cols, rows := uint32(80), uint32(24)
	isTerminal := false
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		isTerminal = true
		if w, h, err := term.GetSize(int(f.Fd())); err == nil {
			cols, rows = uint32(w), uint32(h)
		}
	}

	if err := ch.RequestPty(c.opts.TerminalType, cols, rows, nil); err != nil {
		return 1, err
	}

	var oldState *term.State
	if isTerminal {
		if f, ok := stdin.(*os.File); ok {
			oldState, err = term.MakeRaw(int(f.Fd()))
			if err == nil {
				defer term.Restore(int(f.Fd()), oldState)
			}
		}
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	if isTerminal {
		if f, ok := stdin.(*os.File); ok {
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGWINCH)
			defer signal.Stop(sigCh)
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.handleResize(sessionCtx, ch, f, sigCh)
			}()
		}
	}

	// pumpStdin is not tracked by wg: stdin.Read is a blocking syscall
	// that won't observe context cancellation, same as the donor's
	// pumpStdin. It returns on Esc, on a send error, or once sessionCtx
	// is cancelled; stdin EOF alone does not end it.
	go func() {
		defer cancel()
		c.pumpStdin(sessionCtx, ch, stdin)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		defer c.markDone()
		if err := ch.Run(sessionCtx); err != nil {
			c.setError(err)
		}
	}()

	select {
	case <-c.done:
	case <-sessionCtx.Done():
	}
	cancel()
	wg.Wait()

	status, _ := ch.ExitStatus()
	return int(status), c.Err()
}

// pumpStdin decodes stdin through internal/input and forwards each
// key as the octets spec.md's key-to-octet table prescribes, one
// CHANNEL_DATA send per key (session.Channel.SendBytes handles the
// per-octet window accounting). A bare Esc stops the pump without
// being forwarded: the CLI-level disconnect gesture from spec.md's
// end-to-end scenario 1, layered above the core's own teardown paths
// (channel close, context cancellation, SSH_MSG_DISCONNECT).
func (c *Client) pumpStdin(ctx context.Context, ch *session.Channel, stdin io.Reader) {
	in := input.NewReader(stdin, nil)
	done := make(chan struct{})
	go in.Run(done)
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in.Events():
			if !ok {
				if err := in.Err(); err != nil && err != io.EOF {
					c.setError(err)
				}
				return
			}
			if ev.Kind != input.EventKey {
				continue
			}
			if ev.Key.Code == input.KeyEsc {
				return
			}
			data := encodeKey(ev.Key)
			if len(data) == 0 {
				continue
			}
			if sendErr := ch.SendBytes(ctx, data); sendErr != nil {
				c.setError(sendErr)
				return
			}
		}
	}
}

func (c *Client) handleResize(ctx context.Context, ch *session.Channel, f *os.File, sigCh <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			w, h, err := term.GetSize(int(f.Fd()))
			if err != nil {
				continue
			}
			if err := ch.SendResize(uint32(w), uint32(h)); err != nil {
				return
			}
		}
	}
}
