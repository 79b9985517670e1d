// Package input decodes raw terminal bytes into logical key and
// resize events for the CLI layer above the core session channel.
// Decoding here never touches the wire: internal/client (keymap.go's
// encodeKey) turns a logical key back into the octets it sends, this
// package only spares internal/client.pumpStdin from reimplementing
// ANSI/CSI parsing itself (e.g. to recognize a bare Esc as a quit
// gesture).
package input

import (
	"bufio"
	"io"
	"sync"
)

// KeyCode classifies a decoded key beyond its rune value.
type KeyCode int

const (
	KeyOther KeyCode = iota
	KeyEnter
	KeyTab
	KeyBackspace
	KeyEsc
	KeyUp
	KeyDown
	KeyLeft
	KeyRight
	KeyInsert
	KeyDelete
	KeyHome
	KeyEnd
	KeyPageUp
	KeyPageDown
)

// Key is one decoded keystroke.
type Key struct {
	Ctrl bool
	Rune rune
	Code KeyCode
}

// EventKind distinguishes a key event from a resize notification.
type EventKind int

const (
	EventKey EventKind = iota
	EventResize
)

// Event is either a decoded Key or a terminal resize.
type Event struct {
	Kind EventKind
	Key  Key
	Cols uint16
	Rows uint16
}

// Resize carries a new terminal size from a SIGWINCH handler.
type Resize struct {
	Cols uint16
	Rows uint16
}

// Reader decodes src into a stream of Events, merging in resize
// notifications delivered on resize.
type Reader struct {
	br     *bufio.Reader
	resize <-chan Resize
	events chan Event

	mu  sync.Mutex
	err error
}

// NewReader wraps src for byte-at-a-time decoding. resize may be nil
// if the caller never reports terminal size changes.
func NewReader(src io.Reader, resize <-chan Resize) *Reader {
	return &Reader{
		br:     bufio.NewReader(src),
		resize: resize,
		events: make(chan Event, 16),
	}
}

// Events returns the channel Events are delivered on. It is closed
// when Run returns.
func (r *Reader) Events() <-chan Event {
	return r.events
}

// Err returns the error that caused the key-decoding loop to stop
// (io.EOF on a clean stdin close), if any.
func (r *Reader) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Reader) setErr(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.mu.Unlock()
}

// Run decodes keys and relays resize notifications into Events until
// doneCh is closed, and only then closes Events. Exhausting the
// underlying reader ends key decoding (see Err) but not Run: resize
// notifications are still relayed and Events stays open. The
// key-decoding goroutine is not tracked by Run's return, matching
// internal/client's stdin-pump: a blocking Read on a terminal can't
// observe context cancellation, so it is left to exit on its own once
// the process tears down the fd.
func (r *Reader) Run(doneCh <-chan struct{}) {
	go r.readKeys(doneCh)
	for {
		select {
		case <-doneCh:
			close(r.events)
			return
		case rs, ok := <-r.resize:
			if !ok {
				r.resize = nil
				continue
			}
			select {
			case r.events <- Event{Kind: EventResize, Cols: rs.Cols, Rows: rs.Rows}:
			case <-doneCh:
				close(r.events)
				return
			}
		}
	}
}

func (r *Reader) readKeys(doneCh <-chan struct{}) {
	for {
		key, err := r.decodeKey()
		if err != nil {
			r.setErr(err)
			return
		}
		select {
		case r.events <- Event{Kind: EventKey, Key: key}:
		case <-doneCh:
			return
		}
	}
}

// decodeKey reads one logical keystroke, recognizing ESC [ CSI
// sequences for arrows, Insert/Delete/Home/End/PageUp/PageDown and
// passing everything else through as a single rune (original
// original_source/tssh/src/writer.rs's KeyCode match, reworked as a
// byte-at-a-time state machine instead of crossterm's event enum).
func (r *Reader) decodeKey() (Key, error) {
	ch, _, err := r.br.ReadRune()
	if err != nil {
		return Key{}, err
	}

	if ch == 0x1b {
		if r.br.Buffered() == 0 {
			return Key{Code: KeyEsc}, nil
		}
		next, err := r.br.Peek(1)
		if err != nil || next[0] != '[' {
			return Key{Code: KeyEsc}, nil
		}
		if _, err := r.br.ReadByte(); err != nil {
			return Key{}, err
		}
		return r.decodeCSI()
	}

	return decodeRune(ch), nil
}

func decodeRune(ch rune) Key {
	switch ch {
	case '\r', '\n':
		return Key{Code: KeyEnter}
	case '\t':
		return Key{Code: KeyTab}
	case 0x7f:
		return Key{Code: KeyBackspace}
	}
	if ch < 0x20 {
		return Key{Ctrl: true, Rune: ch + 0x40, Code: KeyOther}
	}
	return Key{Rune: ch, Code: KeyOther}
}

// decodeCSI consumes bytes up to and including the final byte of a
// CSI sequence (0x40-0x7e) and maps the recognized ones.
func (r *Reader) decodeCSI() (Key, error) {
	var params []byte
	for {
		b, err := r.br.ReadByte()
		if err != nil {
			return Key{}, err
		}
		if b >= 0x40 && b <= 0x7e {
			return mapCSI(params, b), nil
		}
		params = append(params, b)
	}
}

func mapCSI(params []byte, final byte) Key {
	switch final {
	case 'A':
		return Key{Code: KeyUp}
	case 'B':
		return Key{Code: KeyDown}
	case 'C':
		return Key{Code: KeyRight}
	case 'D':
		return Key{Code: KeyLeft}
	case 'H':
		return Key{Code: KeyHome}
	case 'F':
		return Key{Code: KeyEnd}
	case '~':
		switch string(params) {
		case "2":
			return Key{Code: KeyInsert}
		case "3":
			return Key{Code: KeyDelete}
		case "5":
			return Key{Code: KeyPageUp}
		case "6":
			return Key{Code: KeyPageDown}
		}
	}
	return Key{Code: KeyOther}
}
