package kex

import (
	"crypto/ecdh"
	"crypto/sha256"
	"io"
	"math/big"

	"github.com/coinstash/tssh/internal/cipher"
	"github.com/coinstash/tssh/internal/sshcore"
	"github.com/coinstash/tssh/internal/wire"
)

// ecdhExchange holds one side's ephemeral ECDH key pair and the
// negotiated curve (always P-256 in this core — spec section 4.4.4).
type ecdhExchange struct {
	curve ecdh.Curve
	priv  *ecdh.PrivateKey
}

// newECDHExchange generates an ephemeral P-256 key pair.
func newECDHExchange(rnd io.Reader) (*ecdhExchange, error) {
	curve := ecdh.P256()
	priv, err := curve.GenerateKey(rnd)
	if err != nil {
		return nil, sshcore.Wrap(sshcore.KindInternal, "generating ephemeral ECDH key", err)
	}
	return &ecdhExchange{curve: curve, priv: priv}, nil
}

// publicBytes returns Q_C/Q_S: the SEC1-encoded (uncompressed) public point.
func (e *ecdhExchange) publicBytes() []byte {
	return e.priv.PublicKey().Bytes()
}

// sharedSecret computes K as the X-coordinate of priv * peerPublic,
// returned as a non-negative big integer (crypto/ecdh's ECDH method
// already strips the point down to just the shared X-coordinate for
// NIST curves).
func (e *ecdhExchange) sharedSecret(peerPointBytes []byte) (*big.Int, error) {
	peerPub, err := e.curve.NewPublicKey(peerPointBytes)
	if err != nil {
		return nil, sshcore.Wrap(sshcore.KindMalformedPacket, "decoding peer ECDH public point", err)
	}
	raw, err := e.priv.ECDH(peerPub)
	if err != nil {
		return nil, sshcore.Wrap(sshcore.KindInternal, "computing ECDH shared secret", err)
	}
	return new(big.Int).SetBytes(raw), nil
}

// exchangeHash computes H = SHA256(V_C || V_S || I_C || I_S || K_S ||
// Q_C || Q_S || mpint(K)), each field length-prefixed as an SSH
// string except the final mpint, which carries its own length prefix
// as part of the mpint encoding itself (spec section 4.4.5).
func exchangeHash(versions *Versions, iC, iS, hostKeyBlob, qC, qS []byte, sharedSecret *big.Int) []byte {
	buf := wire.AppendString(nil, []byte(versions.Client))
	buf = wire.AppendString(buf, []byte(versions.Server))
	buf = wire.AppendString(buf, iC)
	buf = wire.AppendString(buf, iS)
	buf = wire.AppendString(buf, hostKeyBlob)
	buf = wire.AppendString(buf, qC)
	buf = wire.AppendString(buf, qS)
	buf = wire.AppendMpint(buf, sharedSecret, true)
	sum := sha256.Sum256(buf)
	return sum[:]
}

// derivedKeys runs the RFC 4253 section 7.2 KDF for all six outputs.
func derivedKeys(sharedSecretMpint, h, sessionID []byte) cipher.Keys {
	return cipher.Keys{
		ClientIV:     cipher.GenerateKey(sha256.New, sharedSecretMpint, h, cipher.LetterClientIV, sessionID, cipher.IVSize),
		ServerIV:     cipher.GenerateKey(sha256.New, sharedSecretMpint, h, cipher.LetterServerIV, sessionID, cipher.IVSize),
		ClientKey:    cipher.GenerateKey(sha256.New, sharedSecretMpint, h, cipher.LetterClientKey, sessionID, cipher.KeySize),
		ServerKey:    cipher.GenerateKey(sha256.New, sharedSecretMpint, h, cipher.LetterServerKey, sessionID, cipher.KeySize),
		ClientMacKey: cipher.GenerateKey(sha256.New, sharedSecretMpint, h, cipher.LetterClientMac, sessionID, cipher.MacKeySize),
		ServerMacKey: cipher.GenerateKey(sha256.New, sharedSecretMpint, h, cipher.LetterServerMac, sessionID, cipher.MacKeySize),
	}
}
