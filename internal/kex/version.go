// Package kex drives the SSH-2 handshake: version exchange, KEXINIT
// algorithm negotiation, ECDH key agreement, host-key signature
// verification, key derivation, and the NEWKEYS cipher activation.
package kex

import (
	"io"
	"strings"

	"github.com/coinstash/tssh/internal/sshcore"
)

// maxVersionLineLength is the RFC 4253 section 4.2 bound, including
// the terminating CR LF.
const maxVersionLineLength = 255

// ClientVersion is the identification string this client sends,
// without the trailing CR LF.
const ClientVersion = "SSH-2.0-tssh_1.0"

// Versions holds both sides' identification strings, trimmed of their
// CR LF terminator — the exact bytes that feed the exchange hash as
// the first two fields (spec section 4.4 step 1).
type Versions struct {
	Client string
	Server string
}

// ExchangeVersions writes the client's identification line and reads
// the server's, skipping any pre-banner lines that don't begin with
// "SSH-" (RFC 4253 section 4.2 permits a server to send those before
// its real version line).
func ExchangeVersions(rw io.ReadWriter, clientVersion string) (*Versions, error) {
	line := clientVersion + "\r\n"
	if _, err := rw.Write([]byte(line)); err != nil {
		return nil, sshcore.Wrap(sshcore.KindIO, "writing version line", err)
	}

	const maxPreambleLines = 50
	for i := 0; i < maxPreambleLines; i++ {
		raw, err := readLine(rw)
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(raw, "SSH-") {
			if !strings.HasPrefix(raw, "SSH-2.") {
				return nil, sshcore.New(sshcore.KindBadVersion, "server version is not SSH-2.x: "+raw)
			}
			return &Versions{Client: clientVersion, Server: raw}, nil
		}
	}
	return nil, sshcore.New(sshcore.KindBadVersion, "too many lines before server version banner")
}

// readLine reads one CR-LF-terminated line (stripped of the
// terminator) from r, one octet at a time so no bytes belonging to
// the first binary packet are consumed past the line.
func readLine(r io.Reader) (string, error) {
	var buf []byte
	var b [1]byte
	for {
		if len(buf) >= maxVersionLineLength {
			return "", sshcore.New(sshcore.KindBadVersion, "version line exceeds 255 octets")
		}
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", sshcore.Wrap(sshcore.KindIO, "reading version line", err)
		}
		if b[0] == '\n' {
			if len(buf) == 0 || buf[len(buf)-1] != '\r' {
				return "", sshcore.New(sshcore.KindBadVersion, "version line not terminated by CR LF")
			}
			return string(buf[:len(buf)-1]), nil
		}
		buf = append(buf, b[0])
	}
}
