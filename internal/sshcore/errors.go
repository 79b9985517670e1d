// Package sshcore defines the shared error taxonomy used across the
// tssh transport, key-exchange, auth, and session packages.
package sshcore

import (
	"errors"
	"fmt"
)

// Kind classifies a core error into one of the fixed categories the
// client can react to. The set is closed: every fatal condition the
// client can encounter maps to exactly one Kind.
type Kind int

const (
	// KindIO covers any byte-duplex fault (read/write/EOF).
	KindIO Kind = iota
	// KindBadVersion covers a malformed or non-SSH-2 version line.
	KindBadVersion
	// KindMalformedPacket covers a framing violation.
	KindMalformedPacket
	// KindMacMismatch covers a failed MAC verification.
	KindMacMismatch
	// KindNoCommonAlgorithm covers a negotiation slot with no overlap.
	KindNoCommonAlgorithm
	// KindSignatureInvalid covers a host-key signature that fails to verify.
	KindSignatureInvalid
	// KindUnexpectedMessage covers a message type disallowed in the current state.
	KindUnexpectedMessage
	// KindAuthMethodUnsupported covers a server that doesn't offer password auth.
	KindAuthMethodUnsupported
	// KindAuthFailed covers exhausting the password retry budget.
	KindAuthFailed
	// KindPasswordExpired covers a USERAUTH_PASSWD_CHANGEREQ.
	KindPasswordExpired
	// KindChannelOpenFailed covers a rejected CHANNEL_OPEN.
	KindChannelOpenFailed
	// KindPeerDisconnect covers a received SSH_MSG_DISCONNECT.
	KindPeerDisconnect
	// KindInternal covers an invariant violation in our own code.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "Io"
	case KindBadVersion:
		return "BadVersion"
	case KindMalformedPacket:
		return "MalformedPacket"
	case KindMacMismatch:
		return "MacMismatch"
	case KindNoCommonAlgorithm:
		return "NoCommonAlgorithm"
	case KindSignatureInvalid:
		return "SignatureInvalid"
	case KindUnexpectedMessage:
		return "UnexpectedMessage"
	case KindAuthMethodUnsupported:
		return "AuthMethodUnsupported"
	case KindAuthFailed:
		return "AuthFailed"
	case KindPasswordExpired:
		return "PasswordExpired"
	case KindChannelOpenFailed:
		return "ChannelOpenFailed"
	case KindPeerDisconnect:
		return "PeerDisconnect"
	case KindInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned by every core package.
// It is always fatal to the connection it came from.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Detail != "" {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with no wrapped cause.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap builds an Error wrapping an underlying cause.
func Wrap(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// Is reports whether err is a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
