package session

import (
	"context"

	"github.com/coinstash/tssh/internal/sshmsg"
	"github.com/coinstash/tssh/internal/wire"
)

// SendBytes transmits data to the channel one octet at a time,
// blocking on the remote window before each octet (spec section
// 4.6.5's keystroke-to-octet mapping: a single keystroke produces one
// or more input octets, each sent as its own CHANNEL_DATA message so
// the window accounting stays exact down to the octet).
func (c *Channel) SendBytes(ctx context.Context, data []byte) error {
	for _, b := range data {
		if err := c.sendOctet(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) sendOctet(ctx context.Context, b byte) error {
	if err := c.waitForRemoteWindow(ctx); err != nil {
		return err
	}

	c.remoteWindowMu.Lock()
	c.remoteWindow--
	c.remoteWindowMu.Unlock()

	msg := []byte{sshmsg.ChannelData}
	msg = wire.AppendUint32(msg, c.remote)
	msg = wire.AppendString(msg, []byte{b})
	if err := c.tr.WritePacket(msg); err != nil {
		return err
	}
	if c.OnBytes != nil {
		c.OnBytes("tx", 1)
	}
	return nil
}

// waitForRemoteWindow blocks until the remote window has at least
// one octet of headroom or ctx is cancelled. A watcher goroutine
// wakes the condition variable on cancellation since sync.Cond has no
// native context support.
func (c *Channel) waitForRemoteWindow(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.remoteWindowMu.Lock()
			c.remoteWindowCV.Broadcast()
			c.remoteWindowMu.Unlock()
		case <-done:
		}
	}()

	c.remoteWindowMu.Lock()
	defer c.remoteWindowMu.Unlock()
	for c.remoteWindow == 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.remoteWindowCV.Wait()
	}
	return nil
}

// SendResize sends a window-change CHANNEL_REQUEST (want_reply is
// always false for this message per RFC 4254 section 6.7).
func (c *Channel) SendResize(cols, rows uint32) error {
	msg := []byte{sshmsg.ChannelRequest}
	msg = wire.AppendUint32(msg, c.remote)
	msg = wire.AppendString(msg, []byte("window-change"))
	msg = wire.AppendBool(msg, false)
	msg = wire.AppendUint32(msg, cols)
	msg = wire.AppendUint32(msg, rows)
	msg = wire.AppendUint32(msg, 0)
	msg = wire.AppendUint32(msg, 0)
	return c.tr.WritePacket(msg)
}

// SendSignal delivers a "signal" CHANNEL_REQUEST (RFC 4254 section
// 6.9), name without the "SIG" prefix (e.g. "INT", "TERM").
func (c *Channel) SendSignal(name string) error {
	msg := []byte{sshmsg.ChannelRequest}
	msg = wire.AppendUint32(msg, c.remote)
	msg = wire.AppendString(msg, []byte("signal"))
	msg = wire.AppendBool(msg, false)
	msg = wire.AppendString(msg, []byte(name))
	return c.tr.WritePacket(msg)
}

// Close sends CHANNEL_EOF followed by CHANNEL_CLOSE, signalling that
// this side has no more data to send.
func (c *Channel) Close() error {
	eof := []byte{sshmsg.ChannelEOF}
	eof = wire.AppendUint32(eof, c.remote)
	if err := c.tr.WritePacket(eof); err != nil {
		return err
	}
	closeMsg := []byte{sshmsg.ChannelClose}
	closeMsg = wire.AppendUint32(closeMsg, c.remote)
	return c.tr.WritePacket(closeMsg)
}
