package kex

import (
	"io"

	"github.com/coinstash/tssh/internal/sshcore"
	"github.com/coinstash/tssh/internal/sshmsg"
	"github.com/coinstash/tssh/internal/wire"
)

// Algorithms holds the ten name-lists carried by a KEXINIT message, in
// RFC 4253 section 7.1 order.
type Algorithms struct {
	Kex, HostKey                 []string
	EncC2S, EncS2C               []string
	MacC2S, MacS2C                []string
	CompC2S, CompS2C              []string
	LangC2S, LangS2C              []string
}

// DefaultPreferences returns the single algorithm this core supports
// in every slot — the negotiation step still runs so a server whose
// list lacks that name is rejected with NoCommonAlgorithm rather than
// silently assumed compatible. The name's position in the server's
// list does not matter.
func DefaultPreferences() Algorithms {
	return Algorithms{
		Kex:     []string{"ecdh-sha2-nistp256"},
		HostKey: []string{"rsa-sha2-512"},
		EncC2S:  []string{"aes256-ctr"},
		EncS2C:  []string{"aes256-ctr"},
		MacC2S:  []string{"hmac-sha2-256"},
		MacS2C:  []string{"hmac-sha2-256"},
		CompC2S: []string{"none"},
		CompS2C: []string{"none"},
		LangC2S: []string{},
		LangS2C: []string{},
	}
}

// BuildKexInit encodes a full KEXINIT message (including the leading
// message-type octet, so the result can be hashed verbatim as I_C/I_S
// and written directly via packet.Transport.WritePacket).
func BuildKexInit(rnd io.Reader, prefs Algorithms) ([]byte, error) {
	cookie := make([]byte, 16)
	if _, err := io.ReadFull(rnd, cookie); err != nil {
		return nil, sshcore.Wrap(sshcore.KindInternal, "reading KEXINIT cookie", err)
	}

	buf := []byte{sshmsg.KexInit}
	buf = append(buf, cookie...)
	buf = wire.AppendNameList(buf, prefs.Kex)
	buf = wire.AppendNameList(buf, prefs.HostKey)
	buf = wire.AppendNameList(buf, prefs.EncC2S)
	buf = wire.AppendNameList(buf, prefs.EncS2C)
	buf = wire.AppendNameList(buf, prefs.MacC2S)
	buf = wire.AppendNameList(buf, prefs.MacS2C)
	buf = wire.AppendNameList(buf, prefs.CompC2S)
	buf = wire.AppendNameList(buf, prefs.CompS2C)
	buf = wire.AppendNameList(buf, prefs.LangC2S)
	buf = wire.AppendNameList(buf, prefs.LangS2C)
	buf = wire.AppendBool(buf, false) // first_kex_packet_follows
	buf = wire.AppendUint32(buf, 0)   // reserved
	return buf, nil
}

// ParseKexInit decodes the body of a KEXINIT message (everything
// after the message-type octet, i.e. starting with the cookie).
func ParseKexInit(body []byte) (Algorithms, error) {
	var a Algorithms
	if len(body) < 16 {
		return a, sshcore.New(sshcore.KindMalformedPacket, "KEXINIT shorter than cookie")
	}
	rest := body[16:]

	lists := []*[]string{
		&a.Kex, &a.HostKey,
		&a.EncC2S, &a.EncS2C,
		&a.MacC2S, &a.MacS2C,
		&a.CompC2S, &a.CompS2C,
		&a.LangC2S, &a.LangS2C,
	}
	for _, dst := range lists {
		names, next, err := wire.ExtractNameList(rest)
		if err != nil {
			return a, err
		}
		*dst = names
		rest = next
	}
	// first_kex_packet_follows and the reserved uint32 are not used by
	// this negotiation strategy (it never guesses a kex packet).
	return a, nil
}

// NegotiatedAlgorithms is the outcome of picking one name per slot.
type NegotiatedAlgorithms struct {
	Kex, HostKey, EncC2S, EncS2C, MacC2S, MacS2C, CompC2S, CompS2C string
}

// Negotiate walks each of client's preference lists in order and
// picks the first name that also appears in the matching server list.
func Negotiate(client, server Algorithms) (NegotiatedAlgorithms, error) {
	var n NegotiatedAlgorithms
	var err error
	if n.Kex, err = pick(client.Kex, server.Kex); err != nil {
		return n, err
	}
	if n.HostKey, err = pick(client.HostKey, server.HostKey); err != nil {
		return n, err
	}
	if n.EncC2S, err = pick(client.EncC2S, server.EncC2S); err != nil {
		return n, err
	}
	if n.EncS2C, err = pick(client.EncS2C, server.EncS2C); err != nil {
		return n, err
	}
	if n.MacC2S, err = pick(client.MacC2S, server.MacC2S); err != nil {
		return n, err
	}
	if n.MacS2C, err = pick(client.MacS2C, server.MacS2C); err != nil {
		return n, err
	}
	if n.CompC2S, err = pick(client.CompC2S, server.CompC2S); err != nil {
		return n, err
	}
	if n.CompS2C, err = pick(client.CompS2C, server.CompS2C); err != nil {
		return n, err
	}
	return n, nil
}

func pick(clientPrefs, serverList []string) (string, error) {
	for _, want := range clientPrefs {
		for _, have := range serverList {
			if want == have {
				return want, nil
			}
		}
	}
	return "", sshcore.New(sshcore.KindNoCommonAlgorithm, "no overlap in offered algorithm list")
}
