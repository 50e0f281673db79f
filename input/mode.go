package input

import (
	"fmt"
	"strconv"
	"strings"
)

// Mode is the framing discipline of a transport: either a fixed record
// length or a single delimiter byte. The zero value is FixedLength(0), in
// which every byte is its own record.
type Mode struct {
	length   int
	delim    byte
	hasDelim bool
}

// FixedLength returns a mode that completes a record every n bytes.
// n == 0 means every byte is dispatched on its own.
func FixedLength(n int) Mode { return Mode{length: n} }

// DelimiterByte returns a mode that completes a record at every d, or when
// the buffer is full.
func DelimiterByte(d byte) Mode { return Mode{delim: d, hasDelim: true} }

// Length reports the fixed record length, if the mode is a fixed-length one.
func (m Mode) Length() (int, bool) {
	if m.hasDelim {
		return 0, false
	}
	return m.length, true
}

// Delimiter reports the delimiter byte, if one is configured.
func (m Mode) Delimiter() (byte, bool) {
	return m.delim, m.hasDelim
}

func (m Mode) String() string {
	if d, ok := m.Delimiter(); ok {
		return fmt.Sprintf("delimiter(%q)", d)
	}
	return fmt.Sprintf("fixed(%d)", m.length)
}

// Selector is the optional framing argument of a registration call. The zero
// value selects nothing and leaves the current mode untouched.
type Selector struct {
	kind   selectorKind
	length int
	delim  string
}

type selectorKind uint8

const (
	selectorNone selectorKind = iota
	selectorLength
	selectorDelimiter
)

// NoSelector keeps the transport's current framing.
var NoSelector = Selector{}

// Length selects FixedLength(n). Negative n is rejected at registration.
func Length(n int) Selector { return Selector{kind: selectorLength, length: n} }

// Delimiter selects DelimiterByte(s[0]). s must be exactly one byte long;
// anything else is rejected at registration.
func Delimiter(s string) Selector { return Selector{kind: selectorDelimiter, delim: s} }

// IsSet reports whether the selector carries a framing choice.
func (s Selector) IsSet() bool { return s.kind != selectorNone }

// Mode validates the selector and returns the mode it selects.
func (s Selector) Mode() (Mode, error) {
	switch s.kind {
	case selectorLength:
		if s.length < 0 {
			return Mode{}, fmt.Errorf("%w: negative record length %d", ErrConfiguration, s.length)
		}
		return FixedLength(s.length), nil
	case selectorDelimiter:
		if len(s.delim) != 1 {
			return Mode{}, fmt.Errorf("%w: only single byte end marker supported, got %q", ErrConfiguration, s.delim)
		}
		return DelimiterByte(s.delim[0]), nil
	default:
		return Mode{}, fmt.Errorf("%w: no selector given", ErrConfiguration)
	}
}

func (s Selector) String() string {
	switch s.kind {
	case selectorLength:
		return strconv.Itoa(s.length)
	case selectorDelimiter:
		return strconv.Quote(s.delim)
	default:
		return "none"
	}
}

// ParseSelector turns textual configuration into a Selector. An empty string
// is NoSelector, a decimal integer is a length, and anything else is a
// delimiter. Delimiters may be written with Go escapes, e.g. `\r` or `\x02`.
func ParseSelector(s string) (Selector, error) {
	if s == "" {
		return NoSelector, nil
	}
	var sel Selector
	if n, err := strconv.Atoi(s); err == nil {
		sel = Length(n)
	} else {
		if strings.HasPrefix(s, `\`) || strings.HasPrefix(s, `"`) {
			q := s
			if !strings.HasPrefix(q, `"`) {
				q = `"` + q + `"`
			}
			u, err := strconv.Unquote(q)
			if err != nil {
				return NoSelector, fmt.Errorf("%w: bad delimiter %s: %v", ErrConfiguration, s, err)
			}
			s = u
		}
		sel = Delimiter(s)
	}
	if _, err := sel.Mode(); err != nil {
		return NoSelector, err
	}
	return sel, nil
}
