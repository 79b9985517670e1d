package kex

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha512"
	"math/big"

	"github.com/coinstash/tssh/internal/sshcore"
	"github.com/coinstash/tssh/internal/wire"
)

// hostKeyName is the public-key format name embedded in K_S. It stays
// "ssh-rsa" even though the signature itself is produced under the
// "rsa-sha2-512" algorithm name (RFC 8332 section 3: the key format
// doesn't change, only the signature format does).
const hostKeyName = "ssh-rsa"

// signatureAlgorithmName is the name this core requires in the
// signature blob's algorithm field.
const signatureAlgorithmName = "rsa-sha2-512"

// HostKey is the server's public key, parsed from K_S.
type HostKey struct {
	Blob     []byte // raw K_S, unmodified — fed into the exchange hash as-is
	Exponent *big.Int
	Modulus  *big.Int
}

// ParseHostKey decodes K_S as string("ssh-rsa") || mpint(e) || mpint(n).
func ParseHostKey(blob []byte) (*HostKey, error) {
	name, rest, err := wire.ExtractString(blob)
	if err != nil {
		return nil, err
	}
	if string(name) != hostKeyName {
		return nil, sshcore.New(sshcore.KindMalformedPacket, "host key algorithm name is not ssh-rsa")
	}
	e, rest, err := wire.ExtractMpintUnsigned(rest)
	if err != nil {
		return nil, err
	}
	n, _, err := wire.ExtractMpintUnsigned(rest)
	if err != nil {
		return nil, err
	}
	return &HostKey{Blob: append([]byte(nil), blob...), Exponent: e, Modulus: n}, nil
}

// VerifySignature checks sigBlob — string("rsa-sha2-512") ||
// string(raw_signature) — as the RSA-SHA-512 PKCS#1 v1.5 signature
// over exchangeHash.
func VerifySignature(hostKey *HostKey, exchangeHash, sigBlob []byte) error {
	algName, rest, err := wire.ExtractString(sigBlob)
	if err != nil {
		return err
	}
	if string(algName) != signatureAlgorithmName {
		return sshcore.New(sshcore.KindSignatureInvalid, "signature algorithm name is not rsa-sha2-512")
	}
	rawSig, _, err := wire.ExtractString(rest)
	if err != nil {
		return err
	}

	if hostKey.Exponent.BitLen() > 31 {
		return sshcore.New(sshcore.KindSignatureInvalid, "host key exponent implausibly large")
	}
	pub := &rsa.PublicKey{E: int(hostKey.Exponent.Int64()), N: hostKey.Modulus}

	digest := sha512.Sum512(exchangeHash)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA512, digest[:], rawSig); err != nil {
		return sshcore.Wrap(sshcore.KindSignatureInvalid, "rsa-sha2-512 verification failed", err)
	}
	return nil
}
