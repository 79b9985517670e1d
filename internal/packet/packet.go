// Package packet implements the SSH-2 binary packet protocol (RFC 4253
// section 6): framing, padding, and the MAC-then-encrypt pipeline (the
// MAC is computed over the cleartext record and sent after the
// ciphertext) that sits on top of a raw byte stream. A Transport starts in the
// cleartext phase (8-byte block alignment, no MAC) and is promoted to
// the encrypted phase once NEWKEYS keys are installed.
package packet

import (
	"crypto/rand"
	"io"
	"sync"

	"github.com/coinstash/tssh/internal/cipher"
	"github.com/coinstash/tssh/internal/sshcore"
	"github.com/coinstash/tssh/internal/wire"
)

// plaintextBlockSize is the block-size alignment used before any
// cipher is installed (RFC 4253 section 6: "in the case of a stream
// cipher, the 'block size' is 8 bytes").
const plaintextBlockSize = 8

// MaxPacketLength bounds the packet_length field accepted on receive:
// 34996, the ceiling that keeps the 4-octet length prefix plus
// packet_length within the 35000-octet maximum inbound packet size.
const MaxPacketLength = 34996

// minPacketLength is the smallest packet_length admitted: enough room
// for a one-octet message type, the one-octet padding_length field,
// and the 4-octet minimum padding.
const minPacketLength = 12

// Transport reads and writes SSH binary packets over an underlying
// byte stream. A single Transport is shared by one reader goroutine
// and one writer goroutine; the send half is safe for concurrent use,
// the receive half is not (it has exactly one caller, by design — see
// the session layer).
type Transport struct {
	conn io.ReadWriter

	sendMu     sync.Mutex
	send       *cipher.DirectionState
	plainSend  uint32

	recv      *cipher.DirectionState
	plainRecv uint32
}

// New wraps conn in a Transport starting in the cleartext phase.
func New(conn io.ReadWriter) *Transport {
	return &Transport{conn: conn}
}

// SetSendCipher installs the send-direction cipher state, carrying
// over the cleartext-phase sequence count (spec section 4.4 step 8:
// sequence numbers are never reset across NEWKEYS).
func (t *Transport) SetSendCipher(d *cipher.DirectionState) {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	d.SetSeq(t.plainSend)
	t.send = d
}

// SetReceiveCipher installs the receive-direction cipher state,
// carrying over the cleartext-phase sequence count.
func (t *Transport) SetReceiveCipher(d *cipher.DirectionState) {
	d.SetSeq(t.plainRecv)
	t.recv = d
}

// WritePacket frames payload as a binary packet — computing padding,
// the MAC (if a cipher is installed), and encrypting — then writes it
// to the underlying stream. Safe for concurrent use.
func (t *Transport) WritePacket(payload []byte) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	blockSize := plaintextBlockSize
	if t.send != nil {
		blockSize = t.send.BlockSize()
	}

	padLen := paddingLength(len(payload), blockSize)
	packetLen := 1 + len(payload) + padLen

	record := make([]byte, 0, 4+packetLen)
	record = wire.AppendUint32(record, uint32(packetLen))
	record = append(record, byte(padLen))
	record = append(record, payload...)

	pad := make([]byte, padLen)
	if t.send != nil {
		// Padding must be unpredictable once the stream is encrypted
		// (RFC 4253 section 6: "random padding").
		if _, err := rand.Read(pad); err != nil {
			return sshcore.Wrap(sshcore.KindInternal, "reading random padding", err)
		}
	}
	record = append(record, pad...)

	if t.send != nil {
		mac := t.send.Mac(t.send.Seq(), record)
		t.send.EncryptBlock(record)
		record = append(record, mac...)
	} else {
		t.plainSend++
	}

	_, err := t.conn.Write(record)
	if err != nil {
		return sshcore.Wrap(sshcore.KindIO, "writing packet", err)
	}
	return nil
}

// paddingLength returns the smallest padding length (at least 4) that
// makes (packet_length + 4) a multiple of blockSize, where
// packet_length = 1 + payloadLen + padding.
func paddingLength(payloadLen, blockSize int) int {
	pad := blockSize - ((5 + payloadLen) % blockSize)
	if pad < 4 {
		pad += blockSize
	}
	return pad
}

// ReadPacket reads and decodes the next binary packet from the
// underlying stream, returning the SSH message type and the remaining
// payload bytes. Only one goroutine may call ReadPacket at a time.
func (t *Transport) ReadPacket() (msgType byte, payload []byte, err error) {
	blockSize := plaintextBlockSize
	if t.recv != nil {
		blockSize = t.recv.BlockSize()
	}

	first := make([]byte, blockSize)
	if _, err := io.ReadFull(t.conn, first); err != nil {
		return 0, nil, sshcore.Wrap(sshcore.KindIO, "reading packet length block", err)
	}
	if t.recv != nil {
		t.recv.DecryptBlock(first)
	}

	packetLen, _, err := wire.ExtractUint32(first)
	if err != nil {
		return 0, nil, err
	}
	if packetLen < minPacketLength || packetLen > MaxPacketLength {
		return 0, nil, sshcore.New(sshcore.KindMalformedPacket, "packet_length out of range")
	}
	total := int(packetLen) + 4
	if total%blockSize != 0 {
		return 0, nil, sshcore.New(sshcore.KindMalformedPacket, "packet length not block-aligned")
	}
	remaining := total - blockSize
	if remaining < 0 {
		return 0, nil, sshcore.New(sshcore.KindMalformedPacket, "packet shorter than one block")
	}

	record := make([]byte, total)
	copy(record, first)
	if remaining > 0 {
		rest := record[blockSize:]
		if _, err := io.ReadFull(t.conn, rest); err != nil {
			return 0, nil, sshcore.Wrap(sshcore.KindIO, "reading packet body", err)
		}
		if t.recv != nil {
			t.recv.DecryptBlock(rest)
		}
	}

	if t.recv != nil {
		tag := make([]byte, t.recv.MacTagLength())
		if _, err := io.ReadFull(t.conn, tag); err != nil {
			return 0, nil, sshcore.Wrap(sshcore.KindIO, "reading MAC", err)
		}
		seq := t.recv.Seq()
		if !t.recv.Verify(seq, record, tag) {
			return 0, nil, sshcore.New(sshcore.KindMacMismatch, "MAC verification failed")
		}
		t.recv.IncSeq()
	} else {
		t.plainRecv++
	}

	padLen := int(record[4])
	body := record[5:]
	if padLen < 4 || padLen > len(body) {
		return 0, nil, sshcore.New(sshcore.KindMalformedPacket, "padding_length out of range")
	}
	msg := body[:len(body)-padLen]
	if len(msg) < 1 {
		return 0, nil, sshcore.New(sshcore.KindMalformedPacket, "empty message payload")
	}
	return msg[0], msg[1:], nil
}
