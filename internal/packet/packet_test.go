package packet

import (
	"bytes"
	"testing"

	"github.com/coinstash/tssh/internal/cipher"
	"github.com/coinstash/tssh/internal/sshcore"
	"github.com/coinstash/tssh/internal/wire"
)

func TestPaddingLengthAtLeastFour(t *testing.T) {
	for payloadLen := 0; payloadLen < 64; payloadLen++ {
		pad := paddingLength(payloadLen, 16)
		if pad < 4 {
			t.Fatalf("payloadLen=%d: padding %d below minimum", payloadLen, pad)
		}
		total := 4 + 1 + payloadLen + pad
		if total%16 != 0 {
			t.Fatalf("payloadLen=%d: total record length %d not block-aligned", payloadLen, total)
		}
	}
}

func TestWriteReadRoundTripPlaintext(t *testing.T) {
	buf := new(bytes.Buffer)
	tr := New(buf)

	payload := []byte{20, 'h', 'e', 'l', 'l', 'o'}
	if err := tr.WritePacket(payload); err != nil {
		t.Fatal(err)
	}

	msgType, rest, err := tr.ReadPacket()
	if err != nil {
		t.Fatal(err)
	}
	if msgType != 20 {
		t.Fatalf("msgType = %d, want 20", msgType)
	}
	if string(rest) != "hello" {
		t.Fatalf("payload = %q, want %q", rest, "hello")
	}
}

func newTestDirectionState(t *testing.T, seed byte) *cipher.DirectionState {
	t.Helper()
	key := bytes.Repeat([]byte{seed}, cipher.KeySize)
	iv := bytes.Repeat([]byte{seed + 1}, cipher.IVSize)
	macKey := bytes.Repeat([]byte{seed + 2}, cipher.MacKeySize)
	d, err := cipher.NewDirectionState(key, iv, macKey)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestWriteReadRoundTripEncrypted(t *testing.T) {
	buf := new(bytes.Buffer)
	writer := New(buf)
	reader := New(buf)

	writer.SetSendCipher(newTestDirectionState(t, 10))
	reader.SetReceiveCipher(newTestDirectionState(t, 10))

	payload := []byte{50, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if err := writer.WritePacket(payload); err != nil {
		t.Fatal(err)
	}

	msgType, rest, err := reader.ReadPacket()
	if err != nil {
		t.Fatal(err)
	}
	if msgType != 50 {
		t.Fatalf("msgType = %d, want 50", msgType)
	}
	if !bytes.Equal(rest, payload[1:]) {
		t.Fatalf("payload = % x, want % x", rest, payload[1:])
	}
}

func TestWriteReadMultiplePacketsEncrypted(t *testing.T) {
	buf := new(bytes.Buffer)
	writer := New(buf)
	reader := New(buf)

	writer.SetSendCipher(newTestDirectionState(t, 20))
	reader.SetReceiveCipher(newTestDirectionState(t, 20))

	for i := 0; i < 5; i++ {
		payload := []byte{byte(90 + i), byte(i)}
		if err := writer.WritePacket(payload); err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
	}
	for i := 0; i < 5; i++ {
		msgType, rest, err := reader.ReadPacket()
		if err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
		if msgType != byte(90+i) || len(rest) != 1 || rest[0] != byte(i) {
			t.Fatalf("packet %d: got type=%d rest=% x", i, msgType, rest)
		}
	}
}

func TestMacMismatchRejected(t *testing.T) {
	buf := new(bytes.Buffer)
	writer := New(buf)
	reader := New(buf)

	writer.SetSendCipher(newTestDirectionState(t, 30))
	// Same cipher key and IV as the writer, different MAC key: the
	// record decrypts cleanly and only the MAC check can fail.
	recvState, stateErr := cipher.NewDirectionState(
		bytes.Repeat([]byte{30}, cipher.KeySize),
		bytes.Repeat([]byte{31}, cipher.IVSize),
		bytes.Repeat([]byte{33}, cipher.MacKeySize))
	if stateErr != nil {
		t.Fatal(stateErr)
	}
	reader.SetReceiveCipher(recvState)

	if err := writer.WritePacket([]byte{20, 'x'}); err != nil {
		t.Fatal(err)
	}
	_, _, err := reader.ReadPacket()
	if err == nil {
		t.Fatal("expected MAC mismatch error")
	}
	if !sshcore.Is(err, sshcore.KindMacMismatch) {
		t.Fatalf("got %v, want KindMacMismatch", err)
	}
}

func TestReadPacketLengthOutOfRangeRejected(t *testing.T) {
	buf := new(bytes.Buffer)
	// A bogus length field far beyond MaxPacketLength, followed by
	// filler so the read doesn't also fail with a short read.
	var length [4]byte
	length[0] = 0x7F
	length[1] = 0xFF
	length[2] = 0xFF
	length[3] = 0xFF
	buf.Write(length[:])
	buf.Write(make([]byte, 4))

	tr := New(buf)
	_, _, err := tr.ReadPacket()
	if err == nil {
		t.Fatal("expected error for out-of-range packet_length")
	}
	if !sshcore.Is(err, sshcore.KindMalformedPacket) {
		t.Fatalf("got %v, want KindMalformedPacket", err)
	}
}

func TestReadPacketLengthJustOverMaxRejected(t *testing.T) {
	buf := new(bytes.Buffer)
	buf.Write(wire.AppendUint32(nil, MaxPacketLength+1))
	buf.Write(make([]byte, 4))

	tr := New(buf)
	_, _, err := tr.ReadPacket()
	if err == nil {
		t.Fatal("expected error for packet_length one above MaxPacketLength")
	}
	if !sshcore.Is(err, sshcore.KindMalformedPacket) {
		t.Fatalf("got %v, want KindMalformedPacket", err)
	}
}

func TestReadPacketLengthJustUnderMinRejected(t *testing.T) {
	buf := new(bytes.Buffer)
	buf.Write(wire.AppendUint32(nil, minPacketLength-1))
	buf.Write(make([]byte, 4))

	tr := New(buf)
	_, _, err := tr.ReadPacket()
	if err == nil {
		t.Fatal("expected error for packet_length one below minPacketLength")
	}
	if !sshcore.Is(err, sshcore.KindMalformedPacket) {
		t.Fatalf("got %v, want KindMalformedPacket", err)
	}
}

// TestReadPacketAtMaxLengthAccepted exercises the real receive-side
// ceiling (spec section 6: 35000-octet maximum inbound packet, which
// is packet_length <= 34996 once the 4-octet length prefix is
// excluded), not an arbitrary large value.
func TestReadPacketAtMaxLengthAccepted(t *testing.T) {
	buf := new(bytes.Buffer)
	tr := New(buf)

	// payloadLen=34991 + padding_length byte(1) + minimal pad(4) ==
	// MaxPacketLength exactly.
	payload := make([]byte, 34991)
	payload[0] = 99
	if err := tr.WritePacket(payload); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != MaxPacketLength+4 {
		t.Fatalf("wire length = %d, want %d", buf.Len(), MaxPacketLength+4)
	}

	msgType, rest, err := tr.ReadPacket()
	if err != nil {
		t.Fatal(err)
	}
	if msgType != 99 {
		t.Fatalf("msgType = %d, want 99", msgType)
	}
	if len(rest) != len(payload)-1 {
		t.Fatalf("payload length = %d, want %d", len(rest), len(payload)-1)
	}
}
