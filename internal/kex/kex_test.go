package kex

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"io"
	"math/big"
	"net"
	"testing"

	"github.com/coinstash/tssh/internal/cipher"
	"github.com/coinstash/tssh/internal/packet"
	"github.com/coinstash/tssh/internal/sshmsg"
	"github.com/coinstash/tssh/internal/wire"
)

func TestNegotiateDeterminism(t *testing.T) {
	client := Algorithms{Kex: []string{"a", "b", "c"}}
	server := Algorithms{Kex: []string{"c", "a"}}
	got, err := pick(client.Kex, server.Kex)
	if err != nil {
		t.Fatal(err)
	}
	if got != "a" {
		t.Fatalf("negotiated %q, want %q", got, "a")
	}
}

func TestNegotiateNoOverlapFails(t *testing.T) {
	_, err := pick([]string{"x"}, []string{"y"})
	if err == nil {
		t.Fatal("expected NoCommonAlgorithm error")
	}
}

func TestKexInitBuildParseRoundTrip(t *testing.T) {
	prefs := DefaultPreferences()
	full, err := BuildKexInit(rand.Reader, prefs)
	if err != nil {
		t.Fatal(err)
	}
	if full[0] != sshmsg.KexInit {
		t.Fatalf("first byte = %d, want KexInit", full[0])
	}
	got, err := ParseKexInit(full[1:])
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Kex) != 1 || got.Kex[0] != "ecdh-sha2-nistp256" {
		t.Fatalf("kex list = %v", got.Kex)
	}
	if len(got.HostKey) != 1 || got.HostKey[0] != "rsa-sha2-512" {
		t.Fatalf("host key list = %v", got.HostKey)
	}
}

func TestExchangeVersionsRejectsNonSSH2(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() {
		if _, err := readLine(server); err != nil {
			done <- err
			return
		}
		_, err := server.Write([]byte("SSH-1.99-bogus\r\n"))
		done <- err
	}()

	_, err := ExchangeVersions(client, ClientVersion)
	<-done
	if err == nil {
		t.Fatal("expected BadVersion error for SSH-1.x banner")
	}
}

func TestExchangeVersionsSkipsPreamble(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		readLine(server)
		server.Write([]byte("Welcome to example corp\r\n"))
		server.Write([]byte("SSH-2.0-OpenSSH_9.6\r\n"))
	}()

	v, err := ExchangeVersions(client, ClientVersion)
	if err != nil {
		t.Fatal(err)
	}
	if v.Server != "SSH-2.0-OpenSSH_9.6" {
		t.Fatalf("server version = %q", v.Server)
	}
	if v.Client != ClientVersion {
		t.Fatalf("client version = %q", v.Client)
	}
}

// fakeServer runs a mirrored handshake over conn, playing the SSH
// server this test's client Run() call is talking to. It reuses the
// package's own unexported helpers (negotiation, ECDH, key
// derivation) since the test file lives in the same package.
type fakeServer struct {
	conn    net.Conn
	version string
	rsaKey  *rsa.PrivateKey
	tr      *packet.Transport
}

func (s *fakeServer) run() error {
	s.tr = packet.New(s.conn)
	tr := s.tr

	// Read the client's version line before writing ours: net.Pipe is
	// fully synchronous, and ExchangeVersions on the client side
	// writes first, so the server must be ready to read first to
	// avoid both ends blocking in Write simultaneously.
	clientLine, err := readLine(s.conn)
	if err != nil {
		return err
	}
	if _, err := s.conn.Write([]byte(s.version + "\r\n")); err != nil {
		return err
	}
	versions := &Versions{Client: clientLine, Server: s.version}

	msgType, body, err := tr.ReadPacket()
	if err != nil {
		return err
	}
	if msgType != sshmsg.KexInit {
		return io.ErrUnexpectedEOF
	}
	iC := append([]byte{msgType}, body...)
	clientAlgs, err := ParseKexInit(body)
	if err != nil {
		return err
	}

	serverPrefs := DefaultPreferences()
	iS, err := BuildKexInit(rand.Reader, serverPrefs)
	if err != nil {
		return err
	}
	if err := tr.WritePacket(iS); err != nil {
		return err
	}

	if _, err := Negotiate(clientAlgs, serverPrefs); err != nil {
		return err
	}

	msgType, body, err = tr.ReadPacket()
	if err != nil {
		return err
	}
	if msgType != sshmsg.KexECDHInit {
		return io.ErrUnexpectedEOF
	}
	qC, _, err := wire.ExtractString(body)
	if err != nil {
		return err
	}

	exch, err := newECDHExchange(rand.Reader)
	if err != nil {
		return err
	}
	qS := exch.publicBytes()
	sharedSecret, err := exch.sharedSecret(qC)
	if err != nil {
		return err
	}

	hostKeyBlob := encodeRSAHostKey(s.rsaKey)
	h := exchangeHash(versions, iC, iS, hostKeyBlob, qC, qS, sharedSecret)

	digest := sha512.Sum512(h)
	rawSig, err := rsa.SignPKCS1v15(rand.Reader, s.rsaKey, crypto.SHA512, digest[:])
	if err != nil {
		return err
	}
	sigBlob := wire.AppendString(nil, []byte("rsa-sha2-512"))
	sigBlob = wire.AppendString(sigBlob, rawSig)

	reply := []byte{sshmsg.KexECDHReply}
	reply = wire.AppendString(reply, hostKeyBlob)
	reply = wire.AppendString(reply, qS)
	reply = wire.AppendString(reply, sigBlob)
	if err := tr.WritePacket(reply); err != nil {
		return err
	}

	sessionID := h
	sharedMpint := wire.AppendMpint(nil, sharedSecret, true)
	keys := derivedKeys(sharedMpint, h, sessionID)

	recvState, err := cipher.NewDirectionState(keys.ClientKey, keys.ClientIV, keys.ClientMacKey)
	if err != nil {
		return err
	}
	sendState, err := cipher.NewDirectionState(keys.ServerKey, keys.ServerIV, keys.ServerMacKey)
	if err != nil {
		return err
	}

	msgType, _, err = tr.ReadPacket()
	if err != nil {
		return err
	}
	if msgType != sshmsg.NewKeys {
		return io.ErrUnexpectedEOF
	}
	tr.SetReceiveCipher(recvState)

	if err := tr.WritePacket([]byte{sshmsg.NewKeys}); err != nil {
		return err
	}
	tr.SetSendCipher(sendState)

	return nil
}

func encodeRSAHostKey(key *rsa.PrivateKey) []byte {
	buf := wire.AppendString(nil, []byte("ssh-rsa"))
	buf = wire.AppendMpint(buf, big.NewInt(int64(key.PublicKey.E)), true)
	buf = wire.AppendMpint(buf, key.PublicKey.N, true)
	return buf
}

func TestRunFullHandshake(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	srv := &fakeServer{conn: serverConn, version: "SSH-2.0-faketest", rsaKey: rsaKey}
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.run() }()

	tr := packet.New(clientConn)
	result, err := Run(tr, clientConn, rand.Reader, ClientVersion, nil)
	if err != nil {
		t.Fatalf("client handshake failed: %v", err)
	}
	if err := <-srvErr; err != nil {
		t.Fatalf("server handshake failed: %v", err)
	}

	if len(result.Suite.SessionID) != 32 {
		t.Fatalf("session ID length = %d, want 32", len(result.Suite.SessionID))
	}

	// Prove the derived keys are actually usable in both directions:
	// a packet the client encrypts must decrypt and verify correctly
	// against the fake server's independently derived receive state,
	// and vice versa.
	clientDone := make(chan error, 1)
	go func() {
		clientDone <- tr.WritePacket([]byte{99, 'h', 'i'})
	}()
	msgType, payload, err := srv.tr.ReadPacket()
	if err != nil {
		t.Fatalf("server failed to read client's post-handshake packet: %v", err)
	}
	if err := <-clientDone; err != nil {
		t.Fatal(err)
	}
	if msgType != 99 || string(payload) != "hi" {
		t.Fatalf("got type=%d payload=%q", msgType, payload)
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.tr.WritePacket([]byte{100, 'o', 'k'})
	}()
	msgType, payload, err = tr.ReadPacket()
	if err != nil {
		t.Fatalf("client failed to read server's post-handshake packet: %v", err)
	}
	if err := <-serverDone; err != nil {
		t.Fatal(err)
	}
	if msgType != 100 || string(payload) != "ok" {
		t.Fatalf("got type=%d payload=%q", msgType, payload)
	}
}
