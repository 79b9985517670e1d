package session

import (
	"context"

	"github.com/coinstash/tssh/internal/sshcore"
	"github.com/coinstash/tssh/internal/sshmsg"
	"github.com/coinstash/tssh/internal/wire"
)

// Run drives the channel's unified read loop: it sends the shell
// request once the pty-req succeeds, transitions through
// AwaitingShell into Running, and from there dispatches
// CHANNEL_DATA/CHANNEL_EXTENDED_DATA to Stdout/Stderr, replenishes
// the local window, honors CHANNEL_WINDOW_ADJUST for the remote
// window, records exit-status requests, and rejects anything this
// core doesn't initiate itself (spec section 4.6.4).
//
// Run returns when the channel closes (CHANNEL_CLOSE, a
// SSH_MSG_DISCONNECT, or a transport error), or when ctx is found
// cancelled. ctx is checked before each read; a ReadPacket already
// blocked waiting for the server is not interrupted by cancellation.
func (c *Channel) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgType, body, err := c.tr.ReadPacket()
		if err != nil {
			return err
		}

		switch msgType {
		case sshmsg.ChannelSuccess:
			if err := c.handleSuccess(); err != nil {
				return err
			}
		case sshmsg.ChannelFailure:
			return sshcore.New(sshcore.KindChannelOpenFailed, "server rejected "+c.Phase().String()+" request")

		case sshmsg.ChannelData:
			if err := c.handleData(body); err != nil {
				return err
			}
		case sshmsg.ChannelExtendedData:
			if err := c.handleExtendedData(body); err != nil {
				return err
			}

		case sshmsg.ChannelWindowAdjust:
			if err := c.handleWindowAdjust(body); err != nil {
				return err
			}

		case sshmsg.ChannelRequest:
			if err := c.handleIncomingRequest(body); err != nil {
				return err
			}

		case sshmsg.ChannelEOF:
			// The server will not send more data; this core still
			// drains until CHANNEL_CLOSE.

		case sshmsg.ChannelClose:
			c.setPhase(Closed)
			closeMsg := wire.AppendUint32([]byte{sshmsg.ChannelClose}, c.remote)
			_ = c.tr.WritePacket(closeMsg)
			return nil

		case sshmsg.ChannelOpen:
			if err := c.rejectUnsolicitedOpen(body); err != nil {
				return err
			}

		case sshmsg.GlobalRequest:
			if err := c.rejectGlobalRequest(body); err != nil {
				return err
			}

		case sshmsg.Disconnect:
			reason, rest, _ := wire.ExtractUint32(body)
			desc, _, _ := wire.ExtractString(rest)
			return sshcore.New(sshcore.KindPeerDisconnect, describeDisconnect(reason, string(desc)))

		case sshmsg.Ignore, sshmsg.Debug:
			// Nothing to do.

		default:
			c.log.Debug("ignoring unrecognized message", "type", sshmsg.Name(msgType))
		}
	}
}

// handleSuccess advances the phase machine on CHANNEL_SUCCESS,
// issuing the next request or declaring the channel Running (spec
// section 4.6.2/3).
func (c *Channel) handleSuccess() error {
	switch c.Phase() {
	case AwaitingPty:
		return c.requestShell()
	case AwaitingShell:
		c.setPhase(Running)
		return nil
	default:
		// A CHANNEL_SUCCESS for a request we didn't track (e.g. a
		// window-change ack some servers send despite want_reply=false
		// not being honored); harmless.
		return nil
	}
}

func (c *Channel) handleData(body []byte) error {
	_, rest, err := wire.ExtractUint32(body) // recipient channel, always ours
	if err != nil {
		return err
	}
	data, _, err := wire.ExtractString(rest)
	if err != nil {
		return err
	}
	if c.Stdout != nil {
		if _, err := c.Stdout.Write(data); err != nil {
			return sshcore.Wrap(sshcore.KindIO, "writing channel data to stdout", err)
		}
	}
	if c.OnBytes != nil {
		c.OnBytes("rx", len(data))
	}
	return c.replenishLocalWindow(uint32(len(data)))
}

func (c *Channel) handleExtendedData(body []byte) error {
	_, rest, err := wire.ExtractUint32(body) // recipient channel, always ours
	if err != nil {
		return err
	}
	dataType, rest, err := wire.ExtractUint32(rest)
	if err != nil {
		return err
	}
	data, _, err := wire.ExtractString(rest)
	if err != nil {
		return err
	}
	if c.Stderr != nil && dataType == extendedDataStderr {
		if _, err := c.Stderr.Write(data); err != nil {
			return sshcore.Wrap(sshcore.KindIO, "writing channel data to stderr", err)
		}
	}
	if c.OnBytes != nil {
		c.OnBytes("rx", len(data))
	}
	return c.replenishLocalWindow(uint32(len(data)))
}

// replenishLocalWindow accounts a consumed chunk of the local
// receive window and, once headroom drops to the replenish
// threshold, sends CHANNEL_WINDOW_ADJUST to raise it by
// InitialWindowSize (spec section 4.6.4 step 4).
func (c *Channel) replenishLocalWindow(consumed uint32) error {
	c.localWindowMu.Lock()
	if consumed > c.localWindowRemaining {
		c.localWindowRemaining = 0
	} else {
		c.localWindowRemaining -= consumed
	}
	needsAdjust := c.localWindowRemaining <= windowReplenishThreshold
	if needsAdjust {
		c.localWindowRemaining += InitialWindowSize
	}
	c.localWindowMu.Unlock()

	if !needsAdjust {
		return nil
	}
	msg := []byte{sshmsg.ChannelWindowAdjust}
	msg = wire.AppendUint32(msg, c.remote)
	msg = wire.AppendUint32(msg, InitialWindowSize)
	if err := c.tr.WritePacket(msg); err != nil {
		return err
	}
	if c.OnWindowAdjust != nil {
		c.OnWindowAdjust()
	}
	return nil
}

func (c *Channel) handleWindowAdjust(body []byte) error {
	_, rest, err := wire.ExtractUint32(body) // recipient channel, always ours
	if err != nil {
		return err
	}
	amount, _, err := wire.ExtractUint32(rest)
	if err != nil {
		return err
	}
	c.remoteWindowMu.Lock()
	c.remoteWindow += uint64(amount)
	c.remoteWindowCV.Broadcast()
	c.remoteWindowMu.Unlock()
	return nil
}

// handleIncomingRequest services CHANNEL_REQUEST messages the server
// sends on our channel: exit-status is recorded, everything else is
// refused (this core never offers a service the server would need to
// drive).
func (c *Channel) handleIncomingRequest(body []byte) error {
	_, rest, err := wire.ExtractUint32(body) // recipient channel, always ours
	if err != nil {
		return err
	}
	name, rest, err := wire.ExtractString(rest)
	if err != nil {
		return err
	}
	wantReply, rest, err := wire.ExtractBool(rest)
	if err != nil {
		return err
	}

	if string(name) == "exit-status" {
		status, _, err := wire.ExtractUint32(rest)
		if err != nil {
			return err
		}
		s := int32(status)
		c.exitMu.Lock()
		c.exitStatus = &s
		c.exitMu.Unlock()
		return nil
	}

	if wantReply {
		msg := []byte{sshmsg.ChannelFailure}
		msg = wire.AppendUint32(msg, c.remote)
		return c.tr.WritePacket(msg)
	}
	return nil
}

func (c *Channel) rejectUnsolicitedOpen(body []byte) error {
	_, rest, err := wire.ExtractString(body) // channel type
	if err != nil {
		return err
	}
	senderChannel, _, err := wire.ExtractUint32(rest)
	if err != nil {
		return err
	}
	msg := []byte{sshmsg.ChannelOpenFailure}
	msg = wire.AppendUint32(msg, senderChannel)
	msg = wire.AppendUint32(msg, sshmsg.OpenAdministrativelyProhibited)
	msg = wire.AppendString(msg, []byte("no server-initiated channels accepted"))
	msg = wire.AppendString(msg, nil)
	return c.tr.WritePacket(msg)
}

func (c *Channel) rejectGlobalRequest(body []byte) error {
	_, rest, err := wire.ExtractString(body)
	if err != nil {
		return err
	}
	wantReply, _, err := wire.ExtractBool(rest)
	if err != nil {
		return err
	}
	if wantReply {
		return c.tr.WritePacket([]byte{sshmsg.RequestFailure})
	}
	return nil
}

func describeDisconnect(reason uint32, desc string) string {
	if desc == "" {
		return "peer disconnected"
	}
	return "peer disconnected: " + desc
}
