// Package auth drives SSH-2 user authentication (RFC 4252) over an
// already-keyed packet transport: the ssh-userauth service request,
// a "none" method probe, and the password method with bounded retry.
package auth

import (
	"log/slog"

	"github.com/coinstash/tssh/internal/logging"
	"github.com/coinstash/tssh/internal/packet"
	"github.com/coinstash/tssh/internal/sshcore"
	"github.com/coinstash/tssh/internal/sshmsg"
	"github.com/coinstash/tssh/internal/wire"
)

// MaxPasswordAttempts bounds the password retry loop (spec section 4.5.3).
const MaxPasswordAttempts = 3

const serviceName = "ssh-userauth"
const connectionService = "ssh-connection"
const passwordMethod = "password"

// PasswordPrompter supplies a password for one attempt. label is a
// short description (e.g. "user@host's password") suitable for
// display; implementations must not echo the input.
type PasswordPrompter func(label string) (string, error)

// BannerHandler receives SSH_MSG_USERAUTH_BANNER text as it arrives.
type BannerHandler func(text string)

// Authenticate runs the userauth state machine for user over tr,
// prompting for a password via prompt (up to MaxPasswordAttempts
// times) and forwarding any banner text to onBanner. Returns nil on
// USERAUTH_SUCCESS, or a *sshcore.Error otherwise.
func Authenticate(tr *packet.Transport, user string, prompt PasswordPrompter, onBanner BannerHandler, log *slog.Logger) error {
	if log == nil {
		log = logging.NopLogger()
	}
	if onBanner == nil {
		onBanner = func(string) {}
	}

	if err := requestService(tr); err != nil {
		return err
	}
	log.Debug("ssh-userauth service accepted")

	methods, err := probeNone(tr, user)
	if err != nil {
		return err
	}
	if !contains(methods, passwordMethod) {
		return sshcore.New(sshcore.KindAuthMethodUnsupported, "server does not offer the password method")
	}

	for attempt := 1; attempt <= MaxPasswordAttempts; attempt++ {
		password, err := prompt(user + "'s password")
		if err != nil {
			return sshcore.Wrap(sshcore.KindIO, "reading password", err)
		}

		if err := sendPasswordRequest(tr, user, password); err != nil {
			return err
		}

		ok, methods, err := awaitAuthOutcome(tr, onBanner)
		if err != nil {
			return err
		}
		if ok {
			log.Debug("authentication succeeded", "attempt", attempt)
			return nil
		}
		log.Debug("password rejected", "attempt", attempt, "methods_remaining", methods)
	}
	return sshcore.New(sshcore.KindAuthFailed, "exhausted password retry budget")
}

func requestService(tr *packet.Transport) error {
	msg := []byte{sshmsg.ServiceRequest}
	msg = wire.AppendString(msg, []byte(serviceName))
	if err := tr.WritePacket(msg); err != nil {
		return err
	}

	msgType, body, err := tr.ReadPacket()
	if err != nil {
		return err
	}
	if msgType != sshmsg.ServiceAccept {
		return sshcore.New(sshcore.KindUnexpectedMessage, "expected SERVICE_ACCEPT, got "+sshmsg.Name(msgType))
	}
	name, _, err := wire.ExtractString(body)
	if err != nil {
		return err
	}
	if string(name) != serviceName {
		return sshcore.New(sshcore.KindUnexpectedMessage, "SERVICE_ACCEPT names unexpected service: "+string(name))
	}
	return nil
}

// probeNone sends a "none"-method request purely to learn the
// server's permitted method list (spec section 4.5.2); servers never
// accept "none" outright in this core's use case, so the reply is
// always a USERAUTH_FAILURE naming the real options.
func probeNone(tr *packet.Transport, user string) ([]string, error) {
	msg := []byte{sshmsg.UserauthRequest}
	msg = wire.AppendString(msg, []byte(user))
	msg = wire.AppendString(msg, []byte(connectionService))
	msg = wire.AppendString(msg, []byte("none"))
	if err := tr.WritePacket(msg); err != nil {
		return nil, err
	}

	msgType, body, err := tr.ReadPacket()
	if err != nil {
		return nil, err
	}
	switch msgType {
	case sshmsg.UserauthFailure:
		methods, _, err := parseFailure(body)
		return methods, err
	case sshmsg.UserauthSuccess:
		// A server configured to allow anonymous "none" auth; this
		// core has nowhere to route that (it always authenticates a
		// named user with a password), so treat it as unsupported.
		return nil, sshcore.New(sshcore.KindAuthMethodUnsupported, "server accepted the none method unexpectedly")
	default:
		return nil, sshcore.New(sshcore.KindUnexpectedMessage, "expected USERAUTH_FAILURE, got "+sshmsg.Name(msgType))
	}
}

func sendPasswordRequest(tr *packet.Transport, user, password string) error {
	msg := []byte{sshmsg.UserauthRequest}
	msg = wire.AppendString(msg, []byte(user))
	msg = wire.AppendString(msg, []byte(connectionService))
	msg = wire.AppendString(msg, []byte(passwordMethod))
	msg = wire.AppendBool(msg, false) // not a password-change submission
	msg = wire.AppendString(msg, []byte(password))
	return tr.WritePacket(msg)
}

// awaitAuthOutcome reads USERAUTH messages until a terminal
// success/failure for this attempt, forwarding any banners along the
// way (spec section 4.5.4).
func awaitAuthOutcome(tr *packet.Transport, onBanner BannerHandler) (ok bool, methods []string, err error) {
	for {
		msgType, body, err := tr.ReadPacket()
		if err != nil {
			return false, nil, err
		}
		switch msgType {
		case sshmsg.UserauthSuccess:
			return true, nil, nil
		case sshmsg.UserauthFailure:
			methods, _, err := parseFailure(body)
			return false, methods, err
		case sshmsg.UserauthBanner:
			text, _, err := wire.ExtractString(body)
			if err != nil {
				return false, nil, err
			}
			onBanner(string(text))
		case sshmsg.UserauthPasswdChangeReq:
			return false, nil, sshcore.New(sshcore.KindPasswordExpired, "server requires a password change")
		default:
			// Spec section 4.5.4: any other code is ignored.
		}
	}
}

func parseFailure(body []byte) ([]string, []byte, error) {
	methods, rest, err := wire.ExtractNameList(body)
	if err != nil {
		return nil, nil, err
	}
	return methods, rest, nil
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
