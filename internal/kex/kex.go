package kex

import (
	"io"
	"log/slog"

	"github.com/coinstash/tssh/internal/cipher"
	"github.com/coinstash/tssh/internal/logging"
	"github.com/coinstash/tssh/internal/packet"
	"github.com/coinstash/tssh/internal/sshcore"
	"github.com/coinstash/tssh/internal/sshmsg"
	"github.com/coinstash/tssh/internal/wire"
)

// Result is everything the rest of the client needs once the
// handshake completes: the installed cipher suite and the
// identification strings exchanged (useful for logging).
type Result struct {
	Suite    *cipher.Suite
	Versions *Versions
}

// Run drives the full handshake state sequence over conn: version
// exchange, KEXINIT negotiation, ECDH, host-key verification, key
// derivation, and NEWKEYS activation (spec section 4.4). tr must wrap
// the same conn and start in its cleartext phase. rnd supplies
// randomness for the KEXINIT cookie and the ephemeral ECDH key.
func Run(tr *packet.Transport, conn io.ReadWriter, rnd io.Reader, clientVersion string, log *slog.Logger) (*Result, error) {
	if log == nil {
		log = logging.NopLogger()
	}

	versions, err := ExchangeVersions(conn, clientVersion)
	if err != nil {
		return nil, err
	}
	log.Debug("version exchange complete", "client", versions.Client, "server", versions.Server)

	clientPrefs := DefaultPreferences()
	iC, err := BuildKexInit(rnd, clientPrefs)
	if err != nil {
		return nil, err
	}
	if err := tr.WritePacket(iC); err != nil {
		return nil, err
	}

	msgType, body, err := tr.ReadPacket()
	if err != nil {
		return nil, err
	}
	if msgType != sshmsg.KexInit {
		return nil, sshcore.New(sshcore.KindUnexpectedMessage, "expected KEXINIT, got "+sshmsg.Name(msgType))
	}
	iS := append([]byte{msgType}, body...)
	serverAlgs, err := ParseKexInit(body)
	if err != nil {
		return nil, err
	}

	negotiated, err := Negotiate(clientPrefs, serverAlgs)
	if err != nil {
		return nil, err
	}
	log.Debug("algorithms negotiated",
		"kex", negotiated.Kex, "hostkey", negotiated.HostKey,
		"enc_c2s", negotiated.EncC2S, "enc_s2c", negotiated.EncS2C,
		"mac_c2s", negotiated.MacC2S, "mac_s2c", negotiated.MacS2C)

	exch, err := newECDHExchange(rnd)
	if err != nil {
		return nil, err
	}
	qC := exch.publicBytes()

	initMsg := []byte{sshmsg.KexECDHInit}
	initMsg = wire.AppendString(initMsg, qC)
	if err := tr.WritePacket(initMsg); err != nil {
		return nil, err
	}

	msgType, body, err = tr.ReadPacket()
	if err != nil {
		return nil, err
	}
	if msgType != sshmsg.KexECDHReply {
		return nil, sshcore.New(sshcore.KindUnexpectedMessage, "expected KEX_ECDH_REPLY, got "+sshmsg.Name(msgType))
	}
	kS, rest, err := wire.ExtractString(body)
	if err != nil {
		return nil, err
	}
	qS, rest, err := wire.ExtractString(rest)
	if err != nil {
		return nil, err
	}
	sigBlob, _, err := wire.ExtractString(rest)
	if err != nil {
		return nil, err
	}

	sharedSecret, err := exch.sharedSecret(qS)
	if err != nil {
		return nil, err
	}
	hostKey, err := ParseHostKey(kS)
	if err != nil {
		return nil, err
	}

	h := exchangeHash(versions, iC, iS, kS, qC, qS, sharedSecret)
	if err := VerifySignature(hostKey, h, sigBlob); err != nil {
		return nil, err
	}
	log.Debug("host key signature verified")

	sessionID := h
	sharedMpint := wire.AppendMpint(nil, sharedSecret, true)
	keys := derivedKeys(sharedMpint, h, sessionID)

	sendState, err := cipher.NewDirectionState(keys.ClientKey, keys.ClientIV, keys.ClientMacKey)
	if err != nil {
		return nil, err
	}
	recvState, err := cipher.NewDirectionState(keys.ServerKey, keys.ServerIV, keys.ServerMacKey)
	if err != nil {
		return nil, err
	}

	// Send NEWKEYS under the old (cleartext) send state, then switch.
	if err := tr.WritePacket([]byte{sshmsg.NewKeys}); err != nil {
		return nil, err
	}
	tr.SetSendCipher(sendState)

	// Read the peer's NEWKEYS under the old receive state, then switch.
	msgType, _, err = tr.ReadPacket()
	if err != nil {
		return nil, err
	}
	if msgType != sshmsg.NewKeys {
		return nil, sshcore.New(sshcore.KindUnexpectedMessage, "expected NEWKEYS, got "+sshmsg.Name(msgType))
	}
	tr.SetReceiveCipher(recvState)
	log.Debug("NEWKEYS activated")

	return &Result{
		Suite: &cipher.Suite{
			Send:      sendState,
			Receive:   recvState,
			SessionID: sessionID,
		},
		Versions: versions,
	}, nil
}
