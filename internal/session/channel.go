// Package session implements the SSH-2 connection protocol's channel
// layer (RFC 4254): opening a single session channel, requesting a
// pty and a shell, and running the data-plane dispatch loop with
// per-direction window accounting.
package session

import (
	"io"
	"log/slog"
	"sync"

	"github.com/coinstash/tssh/internal/logging"
	"github.com/coinstash/tssh/internal/packet"
	"github.com/coinstash/tssh/internal/sshcore"
	"github.com/coinstash/tssh/internal/sshmsg"
	"github.com/coinstash/tssh/internal/wire"
)

// Phase is the channel's position in the open → pty → shell → running
// lifecycle (spec section 3's Channel state).
type Phase int

const (
	AwaitingOpen Phase = iota
	AwaitingPty
	AwaitingShell
	Running
	Closed
)

func (p Phase) String() string {
	switch p {
	case AwaitingOpen:
		return "AwaitingOpen"
	case AwaitingPty:
		return "AwaitingPty"
	case AwaitingShell:
		return "AwaitingShell"
	case Running:
		return "Running"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

const (
	channelType = "session"

	// InitialWindowSize is the local receive window this core
	// advertises on CHANNEL_OPEN and adds back to the local window with
	// each CHANNEL_WINDOW_ADJUST it sends (spec section 4.6.1/4).
	InitialWindowSize = 2097152
	// MaxPacketSize is the maximum CHANNEL_DATA payload this core
	// will accept in one packet.
	MaxPacketSize = 32768
	// windowReplenishThreshold is the local-window headroom below
	// which a WINDOW_ADJUST is emitted.
	windowReplenishThreshold = 100

	extendedDataStderr = 1
)

// Channel is the single "session" channel this core drives.
type Channel struct {
	tr  *packet.Transport
	log *slog.Logger

	Stdout io.Writer
	Stderr io.Writer

	local  uint32
	remote uint32

	phaseMu sync.Mutex
	phase   Phase

	localWindowMu        sync.Mutex
	localWindowRemaining uint32

	remoteWindowMu sync.Mutex
	remoteWindowCV *sync.Cond
	remoteWindow   uint64

	remoteMaxPacket uint32

	exitMu     sync.Mutex
	exitStatus *int32

	// OnBytes, if set, is called after each CHANNEL_DATA/EXTENDED_DATA
	// payload is delivered or sent, with direction "rx" or "tx".
	OnBytes func(direction string, n int)
	// OnWindowAdjust, if set, is called each time this side sends a
	// CHANNEL_WINDOW_ADJUST to replenish its local receive window.
	OnWindowAdjust func()
}

// Open sends CHANNEL_OPEN for a "session" channel and waits for the
// server's confirmation or rejection (spec section 4.6.1).
func Open(tr *packet.Transport, log *slog.Logger) (*Channel, error) {
	if log == nil {
		log = logging.NopLogger()
	}
	c := &Channel{
		tr:                   tr,
		log:                  log,
		phase:                AwaitingOpen,
		localWindowRemaining: InitialWindowSize,
	}
	c.remoteWindowCV = sync.NewCond(&c.remoteWindowMu)

	msg := []byte{sshmsg.ChannelOpen}
	msg = wire.AppendString(msg, []byte(channelType))
	msg = wire.AppendUint32(msg, 0) // local channel number
	msg = wire.AppendUint32(msg, InitialWindowSize)
	msg = wire.AppendUint32(msg, MaxPacketSize)
	if err := tr.WritePacket(msg); err != nil {
		return nil, err
	}

	msgType, body, err := tr.ReadPacket()
	if err != nil {
		return nil, err
	}
	switch msgType {
	case sshmsg.ChannelOpenConfirmation:
		local, rest, err := wire.ExtractUint32(body)
		if err != nil {
			return nil, err
		}
		if local != 0 {
			return nil, sshcore.New(sshcore.KindUnexpectedMessage, "CHANNEL_OPEN_CONFIRMATION names an unrequested local channel")
		}
		remote, rest, err := wire.ExtractUint32(rest)
		if err != nil {
			return nil, err
		}
		serverWindow, rest, err := wire.ExtractUint32(rest)
		if err != nil {
			return nil, err
		}
		serverMaxPacket, _, err := wire.ExtractUint32(rest)
		if err != nil {
			return nil, err
		}
		c.remote = remote
		c.remoteWindow = uint64(serverWindow)
		c.remoteMaxPacket = serverMaxPacket
		return c, nil
	case sshmsg.ChannelOpenFailure:
		_, rest, err := wire.ExtractUint32(body) // local channel, echoed
		if err != nil {
			return nil, err
		}
		reason, rest, err := wire.ExtractUint32(rest)
		if err != nil {
			return nil, err
		}
		desc, _, _ := wire.ExtractString(rest)
		return nil, sshcore.New(sshcore.KindChannelOpenFailed, channelOpenFailureReason(reason)+": "+string(desc))
	default:
		return nil, sshcore.New(sshcore.KindUnexpectedMessage, "expected CHANNEL_OPEN_CONFIRMATION, got "+sshmsg.Name(msgType))
	}
}

// RequestPty sends a pty-req CHANNEL_REQUEST and transitions the
// phase to AwaitingPty. modes is the encoded terminal-modes string;
// pass nil for "no modes requested" (a single TTY_OP_END octet).
func (c *Channel) RequestPty(term string, cols, rows uint32, modes []byte) error {
	if modes == nil {
		modes = []byte{0}
	}
	msg := []byte{sshmsg.ChannelRequest}
	msg = wire.AppendUint32(msg, c.remote)
	msg = wire.AppendString(msg, []byte("pty-req"))
	msg = wire.AppendBool(msg, true)
	msg = wire.AppendString(msg, []byte(term))
	msg = wire.AppendUint32(msg, cols)
	msg = wire.AppendUint32(msg, rows)
	msg = wire.AppendUint32(msg, 0) // pixel width
	msg = wire.AppendUint32(msg, 0) // pixel height
	msg = wire.AppendString(msg, modes)
	if err := c.tr.WritePacket(msg); err != nil {
		return err
	}
	c.setPhase(AwaitingPty)
	return nil
}

func (c *Channel) requestShell() error {
	msg := []byte{sshmsg.ChannelRequest}
	msg = wire.AppendUint32(msg, c.remote)
	msg = wire.AppendString(msg, []byte("shell"))
	msg = wire.AppendBool(msg, true)
	if err := c.tr.WritePacket(msg); err != nil {
		return err
	}
	c.setPhase(AwaitingShell)
	return nil
}

func (c *Channel) setPhase(p Phase) {
	c.phaseMu.Lock()
	c.phase = p
	c.phaseMu.Unlock()
}

// Phase returns the channel's current lifecycle phase.
func (c *Channel) Phase() Phase {
	c.phaseMu.Lock()
	defer c.phaseMu.Unlock()
	return c.phase
}

// ExitStatus returns the exit-status value reported by the server, if
// any, and whether one was ever received.
func (c *Channel) ExitStatus() (int32, bool) {
	c.exitMu.Lock()
	defer c.exitMu.Unlock()
	if c.exitStatus == nil {
		return 0, false
	}
	return *c.exitStatus, true
}

func channelOpenFailureReason(reason uint32) string {
	switch reason {
	case sshmsg.OpenAdministrativelyProhibited:
		return "administratively prohibited"
	case sshmsg.OpenConnectFailed:
		return "connect failed"
	case sshmsg.OpenUnknownChannelType:
		return "unknown channel type"
	case sshmsg.OpenResourceShortage:
		return "resource shortage"
	default:
		return "unknown reason"
	}
}
