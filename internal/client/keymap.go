package client

import "github.com/coinstash/tssh/internal/input"

// encodeKey turns one decoded keystroke into the octets the wire
// format carries, per spec.md section 4.6's key-to-octet table. Esc
// never reaches here: pumpStdin intercepts it as the disconnect
// gesture before encoding.
func encodeKey(k input.Key) []byte {
	switch k.Code {
	case input.KeyEnter:
		return []byte{0x0A}
	case input.KeyTab:
		return []byte{0x09}
	case input.KeyBackspace, input.KeyDelete:
		return []byte{0x7F}
	case input.KeyUp:
		return []byte{0x1B, '[', 'A'}
	case input.KeyDown:
		return []byte{0x1B, '[', 'B'}
	case input.KeyRight:
		return []byte{0x1B, '[', 'C'}
	case input.KeyLeft:
		return []byte{0x1B, '[', 'D'}
	case input.KeyInsert:
		return []byte("\x1b[2~")
	case input.KeyHome:
		return []byte("\x1b[H")
	case input.KeyEnd:
		return []byte("\x1b[F")
	case input.KeyPageUp:
		return []byte("\x1b[5~")
	case input.KeyPageDown:
		return []byte("\x1b[6~")
	}
	if k.Ctrl {
		return []byte{byte(k.Rune) & 0x1F}
	}
	if k.Rune != 0 {
		return []byte(string(k.Rune))
	}
	return nil
}
