// Package sshmsg defines the SSH-2 message-type octets used by this
// client (RFC 4253 and RFC 4254), restricted to the subset the core
// drives or recognizes.
package sshmsg

const (
	Disconnect uint8 = 1
	Ignore     uint8 = 2
	Unimplemented uint8 = 3
	Debug      uint8 = 4

	ServiceRequest uint8 = 5
	ServiceAccept  uint8 = 6

	KexInit  uint8 = 20
	NewKeys  uint8 = 21

	KexECDHInit  uint8 = 30
	KexECDHReply uint8 = 31

	UserauthRequest       uint8 = 50
	UserauthFailure       uint8 = 51
	UserauthSuccess       uint8 = 52
	UserauthBanner        uint8 = 53
	UserauthPasswdChangeReq uint8 = 60

	GlobalRequest  uint8 = 80
	RequestSuccess uint8 = 81
	RequestFailure uint8 = 82

	ChannelOpen             uint8 = 90
	ChannelOpenConfirmation uint8 = 91
	ChannelOpenFailure      uint8 = 92
	ChannelWindowAdjust     uint8 = 93
	ChannelData             uint8 = 94
	ChannelExtendedData     uint8 = 95
	ChannelEOF              uint8 = 96
	ChannelClose            uint8 = 97
	ChannelRequest          uint8 = 98
	ChannelSuccess          uint8 = 99
	ChannelFailure          uint8 = 100
)

// Disconnect reason codes (RFC 4253 section 11.1); only these two are
// named, and this client does not send DISCONNECT itself.
const (
	DisconnectProtocolError     uint32 = 2
	DisconnectByApplication     uint32 = 11
)

// Channel-open failure reason codes (RFC 4254 section 5.1).
const (
	OpenAdministrativelyProhibited uint32 = 1
	OpenConnectFailed              uint32 = 2
	OpenUnknownChannelType         uint32 = 3
	OpenResourceShortage           uint32 = 4
)

// Name returns a human-readable name for a message type, for logging.
func Name(t uint8) string {
	switch t {
	case Disconnect:
		return "SSH_MSG_DISCONNECT"
	case Ignore:
		return "SSH_MSG_IGNORE"
	case Unimplemented:
		return "SSH_MSG_UNIMPLEMENTED"
	case Debug:
		return "SSH_MSG_DEBUG"
	case ServiceRequest:
		return "SSH_MSG_SERVICE_REQUEST"
	case ServiceAccept:
		return "SSH_MSG_SERVICE_ACCEPT"
	case KexInit:
		return "SSH_MSG_KEXINIT"
	case NewKeys:
		return "SSH_MSG_NEWKEYS"
	case KexECDHInit:
		return "SSH_MSG_KEX_ECDH_INIT"
	case KexECDHReply:
		return "SSH_MSG_KEX_ECDH_REPLY"
	case UserauthRequest:
		return "SSH_MSG_USERAUTH_REQUEST"
	case UserauthFailure:
		return "SSH_MSG_USERAUTH_FAILURE"
	case UserauthSuccess:
		return "SSH_MSG_USERAUTH_SUCCESS"
	case UserauthBanner:
		return "SSH_MSG_USERAUTH_BANNER"
	case UserauthPasswdChangeReq:
		return "SSH_MSG_USERAUTH_PASSWD_CHANGEREQ"
	case GlobalRequest:
		return "SSH_MSG_GLOBAL_REQUEST"
	case RequestSuccess:
		return "SSH_MSG_REQUEST_SUCCESS"
	case RequestFailure:
		return "SSH_MSG_REQUEST_FAILURE"
	case ChannelOpen:
		return "SSH_MSG_CHANNEL_OPEN"
	case ChannelOpenConfirmation:
		return "SSH_MSG_CHANNEL_OPEN_CONFIRMATION"
	case ChannelOpenFailure:
		return "SSH_MSG_CHANNEL_OPEN_FAILURE"
	case ChannelWindowAdjust:
		return "SSH_MSG_CHANNEL_WINDOW_ADJUST"
	case ChannelData:
		return "SSH_MSG_CHANNEL_DATA"
	case ChannelExtendedData:
		return "SSH_MSG_CHANNEL_EXTENDED_DATA"
	case ChannelEOF:
		return "SSH_MSG_CHANNEL_EOF"
	case ChannelClose:
		return "SSH_MSG_CHANNEL_CLOSE"
	case ChannelRequest:
		return "SSH_MSG_CHANNEL_REQUEST"
	case ChannelSuccess:
		return "SSH_MSG_CHANNEL_SUCCESS"
	case ChannelFailure:
		return "SSH_MSG_CHANNEL_FAILURE"
	default:
		return "UNKNOWN"
	}
}
