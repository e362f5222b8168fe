// Package keys decodes raw terminal bytes into key events. The decoder is
// a pure state machine: every byte (or timeout) maps the current state to
// a successor state plus zero or more emitted keys, which keeps the
// protocol handling testable without a terminal attached.
package keys

import (
	"strconv"
	"strings"
	"time"

	"github.com/ternlabs/tern/internal/logging"
)

// BackslashWindow is how long a lone backslash is held waiting for a
// return byte, to emulate shift-enter in terminals that report it as
// backslash+CR.
const BackslashWindow = 25 * time.Millisecond

// MaxSequenceLength caps the extended-protocol buffer; overflow flushes
// the buffer and re-enters normal processing.
const MaxSequenceLength = 256

// Key is an immutable decoded keypress.
type Key struct {
	Name             string
	Ctrl             bool
	Meta             bool
	Shift            bool
	Paste            bool
	Sequence         string
	ExtendedProtocol bool
}

// Overflow is emitted when the extended-protocol buffer exceeds its cap;
// Sequence carries the truncated prefix.
const Overflow = "overflow"

type state int

const (
	stateGround state = iota
	stateEscape
	stateCSI
	statePaste
)

var pasteEnd = []byte("\x1b[201~")

// Decoder turns bytes into keys. Feed one byte at a time; the returned
// slice holds everything decodable so far. The only asynchronous input is
// the backslash timer: the caller arms it when HoldingBackslash reports
// true and feeds expiry back via Timeout.
type Decoder struct {
	state state

	csiBuf   []byte
	pasteBuf []byte
	// pasteMatch counts how many bytes of the end sentinel matched.
	pasteMatch int

	holdingBackslash bool
}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// HoldingBackslash reports whether a lone backslash is being held for the
// detection window; the caller should deliver Timeout after
// BackslashWindow if no further byte arrives.
func (d *Decoder) HoldingBackslash() bool {
	return d.holdingBackslash
}

// Timeout expires the backslash window, flushing the held key.
func (d *Decoder) Timeout() []Key {
	if !d.holdingBackslash {
		return nil
	}
	d.holdingBackslash = false
	return []Key{{Name: `\`, Sequence: `\`}}
}

// Flush drains buffered state at end of input. A partial paste is emitted
// as a single paste key; a held backslash is emitted as itself.
func (d *Decoder) Flush() []Key {
	var out []Key
	out = append(out, d.Timeout()...)
	if d.state == statePaste {
		out = append(out, Key{Paste: true, Sequence: string(d.pasteBuf)})
		d.pasteBuf = nil
		d.pasteMatch = 0
		d.state = stateGround
	}
	d.csiBuf = nil
	return out
}

// Feed advances the machine by one byte.
func (d *Decoder) Feed(b byte) []Key {
	// Ctrl-C preempts any in-progress buffering.
	if b == 0x03 && d.state != statePaste {
		d.reset()
		return []Key{{Name: "c", Ctrl: true, Sequence: string(rune(b))}}
	}

	switch d.state {
	case statePaste:
		return d.feedPaste(b)
	case stateEscape:
		return d.feedEscape(b)
	case stateCSI:
		return d.feedCSI(b)
	default:
		return d.feedGround(b)
	}
}

func (d *Decoder) reset() {
	d.state = stateGround
	d.csiBuf = nil
	d.pasteBuf = nil
	d.pasteMatch = 0
	d.holdingBackslash = false
}

func (d *Decoder) feedGround(b byte) []Key {
	if d.holdingBackslash {
		d.holdingBackslash = false
		if b == '\r' {
			return []Key{{Name: "return", Shift: true, Sequence: "\\\r"}}
		}
		flushed := Key{Name: `\`, Sequence: `\`}
		return append([]Key{flushed}, d.feedGround(b)...)
	}

	switch {
	case b == '\\':
		d.holdingBackslash = true
		return nil
	case b == 0x1b:
		d.state = stateEscape
		return nil
	case b == '\r' || b == '\n':
		return []Key{{Name: "return", Sequence: string(rune(b))}}
	case b == '\t':
		return []Key{{Name: "tab", Sequence: "\t"}}
	case b == 0x7f || b == 0x08:
		return []Key{{Name: "backspace", Sequence: string(rune(b))}}
	case b < 0x20:
		// Remaining C0 controls are ctrl+letter.
		return []Key{{Name: string(rune('a' + b - 1)), Ctrl: true, Sequence: string(rune(b))}}
	default:
		return []Key{{Name: string(rune(b)), Sequence: string(rune(b))}}
	}
}

func (d *Decoder) feedEscape(b byte) []Key {
	switch b {
	case '[':
		d.state = stateCSI
		d.csiBuf = d.csiBuf[:0]
		return nil
	case 0x1b:
		// Stay in escape; report the first as a bare escape.
		return []Key{{Name: "escape", Sequence: "\x1b"}}
	default:
		d.state = stateGround
		keys := d.feedGround(b)
		for i := range keys {
			keys[i].Meta = true
		}
		return keys
	}
}

func (d *Decoder) feedCSI(b byte) []Key {
	d.csiBuf = append(d.csiBuf, b)

	if len(d.csiBuf) > MaxSequenceLength {
		prefix := string(d.csiBuf)
		logging.Logger().Warn("extended-keyboard buffer overflow", "prefix_len", len(prefix))
		d.csiBuf = nil
		d.state = stateGround
		return []Key{{Name: Overflow, Sequence: prefix}}
	}

	// Parameter bytes are digits and ';'; anything else terminates.
	if b >= '0' && b <= '9' || b == ';' {
		return nil
	}

	d.state = stateGround
	seq := string(d.csiBuf)
	d.csiBuf = nil
	params := seq[:len(seq)-1]
	final := seq[len(seq)-1]

	// Arrow keys pass straight through; they never accumulate.
	if params == "" {
		switch final {
		case 'A':
			return []Key{{Name: "up", Sequence: "\x1b[A"}}
		case 'B':
			return []Key{{Name: "down", Sequence: "\x1b[B"}}
		case 'C':
			return []Key{{Name: "right", Sequence: "\x1b[C"}}
		case 'D':
			return []Key{{Name: "left", Sequence: "\x1b[D"}}
		}
	}

	switch final {
	case '~':
		if params == "200" {
			d.state = statePaste
			d.pasteBuf = nil
			d.pasteMatch = 0
			return nil
		}
		return d.extendedKey(params, "\x1b["+seq)
	case 'u':
		return d.extendedKey(params, "\x1b["+seq)
	}

	// Unrecognized CSI sequences are dropped.
	return nil
}

// extendedKey parses "<keycode>(;<modifiers>)?" from an extended-keyboard
// CSI sequence.
func (d *Decoder) extendedKey(params, sequence string) []Key {
	keycodeStr, modifiersStr, _ := strings.Cut(params, ";")
	keycode, err := strconv.Atoi(keycodeStr)
	if err != nil {
		return nil
	}

	key := Key{Sequence: sequence, ExtendedProtocol: true}
	if modifiersStr != "" {
		if modifiers, err := strconv.Atoi(modifiersStr); err == nil && modifiers > 0 {
			bits := modifiers - 1
			key.Shift = bits&1 != 0
			key.Meta = bits&2 != 0
			key.Ctrl = bits&4 != 0
		}
	}

	switch {
	case keycode == 27:
		key.Name = "escape"
	case keycode == 13, keycode == 57414:
		key.Name = "return"
	case keycode >= 97 && keycode <= 122:
		key.Name = string(rune(keycode))
		key.Ctrl = true
	default:
		return nil
	}
	return []Key{key}
}

func (d *Decoder) feedPaste(b byte) []Key {
	if b == pasteEnd[d.pasteMatch] {
		d.pasteMatch++
		if d.pasteMatch == len(pasteEnd) {
			key := Key{Paste: true, Sequence: string(d.pasteBuf)}
			d.pasteBuf = nil
			d.pasteMatch = 0
			d.state = stateGround
			return []Key{key}
		}
		return nil
	}

	// A failed partial match is paste content.
	if d.pasteMatch > 0 {
		d.pasteBuf = append(d.pasteBuf, pasteEnd[:d.pasteMatch]...)
		d.pasteMatch = 0
		// The current byte may begin a fresh sentinel match.
		if b == pasteEnd[0] {
			d.pasteMatch = 1
			return nil
		}
	}
	d.pasteBuf = append(d.pasteBuf, b)
	return nil
}
