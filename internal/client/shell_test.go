package client

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/coinstash/tssh/internal/input"
	"github.com/coinstash/tssh/internal/packet"
	"github.com/coinstash/tssh/internal/session"
	"github.com/coinstash/tssh/internal/sshmsg"
	"github.com/coinstash/tssh/internal/wire"
)

func TestEncodeKeyMatchesEgressTable(t *testing.T) {
	cases := []struct {
		name string
		key  input.Key
		want []byte
	}{
		{"printable", input.Key{Rune: 'q', Code: input.KeyOther}, []byte("q")},
		{"ctrlC", input.Key{Ctrl: true, Rune: 'C', Code: input.KeyOther}, []byte{0x03}},
		{"enter", input.Key{Code: input.KeyEnter}, []byte{0x0A}},
		{"tab", input.Key{Code: input.KeyTab}, []byte{0x09}},
		{"backspace", input.Key{Code: input.KeyBackspace}, []byte{0x7F}},
		{"delete", input.Key{Code: input.KeyDelete}, []byte{0x7F}},
		{"up", input.Key{Code: input.KeyUp}, []byte("\x1b[A")},
		{"down", input.Key{Code: input.KeyDown}, []byte("\x1b[B")},
		{"right", input.Key{Code: input.KeyRight}, []byte("\x1b[C")},
		{"left", input.Key{Code: input.KeyLeft}, []byte("\x1b[D")},
		{"insert", input.Key{Code: input.KeyInsert}, []byte("\x1b[2~")},
		{"home", input.Key{Code: input.KeyHome}, []byte("\x1b[H")},
		{"end", input.Key{Code: input.KeyEnd}, []byte("\x1b[F")},
		{"pageUp", input.Key{Code: input.KeyPageUp}, []byte("\x1b[5~")},
		{"pageDown", input.Key{Code: input.KeyPageDown}, []byte("\x1b[6~")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := encodeKey(tc.key)
			if !bytes.Equal(got, tc.want) {
				t.Fatalf("encodeKey(%+v) = % x, want % x", tc.key, got, tc.want)
			}
		})
	}
}

// fakeOpenServer plays just enough of the server side of CHANNEL_OPEN
// to let session.Open succeed, then records every CHANNEL_DATA payload
// it receives so pumpStdin's egress can be inspected from outside.
type fakeOpenServer struct {
	tr     *packet.Transport
	remote uint32
}

func (s *fakeOpenServer) acceptOpen() error {
	msgType, body, err := s.tr.ReadPacket()
	if err != nil {
		return err
	}
	if msgType != sshmsg.ChannelOpen {
		return errUnexpectedMsg(msgType)
	}
	_, rest, err := wire.ExtractString(body)
	if err != nil {
		return err
	}
	senderChannel, _, err := wire.ExtractUint32(rest)
	if err != nil {
		return err
	}
	s.remote = senderChannel

	reply := []byte{sshmsg.ChannelOpenConfirmation}
	reply = wire.AppendUint32(reply, senderChannel)
	reply = wire.AppendUint32(reply, 42)
	reply = wire.AppendUint32(reply, session.InitialWindowSize)
	reply = wire.AppendUint32(reply, session.MaxPacketSize)
	return s.tr.WritePacket(reply)
}

func (s *fakeOpenServer) readData() ([]byte, error) {
	msgType, body, err := s.tr.ReadPacket()
	if err != nil {
		return nil, err
	}
	if msgType != sshmsg.ChannelData {
		return nil, errUnexpectedMsg(msgType)
	}
	_, rest, err := wire.ExtractUint32(body)
	if err != nil {
		return nil, err
	}
	data, _, err := wire.ExtractString(rest)
	return data, err
}

type unexpectedMsg byte

func (u unexpectedMsg) Error() string { return sshmsg.Name(byte(u)) }
func errUnexpectedMsg(b byte) error   { return unexpectedMsg(b) }

func TestPumpStdinForwardsEncodedKeys(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	srv := &fakeOpenServer{tr: packet.New(serverConn)}
	openErr := make(chan error, 1)
	go func() { openErr <- srv.acceptOpen() }()

	ch, err := session.Open(packet.New(clientConn), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := <-openErr; err != nil {
		t.Fatalf("acceptOpen: %v", err)
	}

	c := &Client{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stdin := strings.NewReader("hi\t\x1b[A")
	done := make(chan struct{})
	go func() {
		c.pumpStdin(ctx, ch, stdin)
		close(done)
	}()

	// SendBytes (session.Channel) splits every key's encoded octets
	// into one CHANNEL_DATA message each, so a 3-octet arrow-key
	// escape sequence arrives as three separate messages.
	want := []byte{'h', 'i', 0x09, 0x1b, '[', 'A'}
	for i, w := range want {
		got, err := srv.readData()
		if err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		if !bytes.Equal(got, []byte{w}) {
			t.Fatalf("message %d = % x, want % x", i, got, w)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pumpStdin did not return after cancel")
	}
	if err := c.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPumpStdinStopsOnEscWithoutForwarding(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	srv := &fakeOpenServer{tr: packet.New(serverConn)}
	openErr := make(chan error, 1)
	go func() { openErr <- srv.acceptOpen() }()

	ch, err := session.Open(packet.New(clientConn), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := <-openErr; err != nil {
		t.Fatalf("acceptOpen: %v", err)
	}

	c := &Client{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Esc (0x1B) followed by a byte other than '[' decodes as a bare
	// Esc key, which must stop the pump before the following byte
	// ("x") is forwarded.
	stdin := strings.NewReader("\x1bx")

	done := make(chan struct{})
	go func() {
		c.pumpStdin(ctx, ch, stdin)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pumpStdin did not stop on Esc")
	}
	if err := c.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
