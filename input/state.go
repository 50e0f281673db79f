package input

import (
	"fmt"
	"sync/atomic"
)

const (
	// DefaultCapacity is the buffer size used when the mode does not dictate
	// one: delimiter framing and FixedLength(0). It is the historical maximum
	// serial input line length.
	DefaultCapacity = 255
	// DefaultMaxCapacity bounds buffer growth unless overridden.
	DefaultMaxCapacity = 64 * 1024
)

// State is the input state of one transport: the record buffer, the framing
// mode and the data and error callback slots.
//
// A State is owned by a single consumer goroutine. Apart from HasDataHandler,
// none of its methods may be called concurrently, including from within a
// handler running on another goroutine.
type State struct {
	buf []byte // len(buf) is the capacity; nil iff no data handler is bound
	pos int

	mode Mode
	// recLen is the fixed length the record in flight started under, 0 if it
	// started under delimiter or pass-through framing. A later
	// reconfiguration may shorten that record but never lengthen it.
	recLen int

	onData  Handler
	onError Handler
	bound   atomic.Bool

	maxCap int
}

// NewState returns an empty State in FixedLength(0) mode with no handlers.
// maxCapacity bounds buffer growth; values <= 0 select DefaultMaxCapacity.
func NewState(maxCapacity int) *State {
	if maxCapacity <= 0 {
		maxCapacity = DefaultMaxCapacity
	}
	return &State{mode: FixedLength(0), maxCap: maxCapacity}
}

// Register binds, rebinds or (with a nil handler) unbinds the handler of one
// event slot. A set selector changes the framing of the data slot; with the
// error event it is validated but has no effect. On error nothing is changed.
func (s *State) Register(ev Event, sel Selector, h Handler) error {
	mode := s.mode
	if sel.IsSet() {
		m, err := sel.Mode()
		if err != nil {
			return err
		}
		mode = m
	}
	switch ev {
	case EventData:
		return s.Configure(mode, h)
	case EventError:
		s.onError = h
		return nil
	default:
		return fmt.Errorf("%w: method %s not supported", ErrConfiguration, ev)
	}
}

// Configure sets the framing mode and binds the data handler in one step.
//
// Binding allocates or grows the buffer so it can hold a full record; it
// never shrinks, and it always keeps room for the bytes already buffered.
// Unbinding (h == nil) drops any buffered bytes without delivering them and
// releases the buffer.
//
// A record in flight is framed by the new mode from the next byte on. A new
// delimiter ends it when that byte arrives, and a length at or below the
// buffered count completes it with the next byte. Only a length longer than the one the record
// started under is deferred to the next record.
// The handler change is immediate.
func (s *State) Configure(mode Mode, h Handler) error {
	if h == nil {
		s.mode = mode
		s.onData = nil
		s.buf = nil
		s.pos = 0
		s.recLen = 0
		s.bound.Store(false)
		return nil
	}

	need := requiredCapacity(mode)
	if s.pos >= need {
		need = s.pos + 1
	}
	if need > len(s.buf) {
		if need > s.maxCap {
			return fmt.Errorf("%w: record buffer of %d bytes exceeds limit %d", ErrAllocation, need, s.maxCap)
		}
		grown := make([]byte, need)
		copy(grown, s.buf[:s.pos])
		s.buf = grown
	}

	s.mode = mode
	s.onData = h
	s.bound.Store(true)
	return nil
}

func requiredCapacity(m Mode) int {
	if n, ok := m.Length(); ok && n > 0 {
		return n
	}
	return DefaultCapacity
}

// Feed appends p to the record buffer and dispatches every record it
// completes, in order, before returning. Bytes fed while no data handler is
// bound are discarded.
func (s *State) Feed(p []byte) {
	for _, c := range p {
		if s.buf == nil {
			return
		}
		if s.pos == 0 {
			s.recLen, _ = s.mode.Length()
		}
		s.buf[s.pos] = c
		s.pos++

		atEnd := s.pos >= s.target()
		d, hasDelim := s.mode.Delimiter()
		if atEnd || (hasDelim && c == d) {
			// Reset before the callback so it may reconfigure freely.
			n := s.pos
			s.pos = 0
			s.DispatchData(s.buf[:n])
		}
	}
}

// target is the record length that forces a dispatch: the configured length
// (buffer capacity for delimiter framing), capped by the length the record
// started under.
func (s *State) target() int {
	n := len(s.buf)
	if _, ok := s.mode.Delimiter(); !ok {
		n, _ = s.mode.Length()
	}
	if s.recLen > 0 && s.recLen < n {
		n = s.recLen
	}
	return n
}

// DispatchData hands p straight to the data handler, bypassing framing. It
// reports whether a handler was invoked; empty input invokes nothing.
func (s *State) DispatchData(p []byte) bool {
	if s.onData == nil || len(p) == 0 {
		return false
	}
	s.onData(p)
	return true
}

// ReportError hands msg, whole, to the error handler. Reports without a
// bound handler are dropped silently.
func (s *State) ReportError(msg []byte) bool {
	if s.onError == nil || len(msg) == 0 {
		return false
	}
	s.onError(msg)
	return true
}

// HasDataHandler reports whether a data handler is bound. Unlike every other
// method it is safe to call from any goroutine.
func (s *State) HasDataHandler() bool { return s.bound.Load() }

// HasErrorHandler reports whether an error handler is bound.
func (s *State) HasErrorHandler() bool { return s.onError != nil }

// Capacity returns the size of the record buffer, zero when released.
func (s *State) Capacity() int { return len(s.buf) }

// Buffered returns the number of bytes of the record in flight.
func (s *State) Buffered() int { return s.pos }

// Mode returns the configured framing mode.
func (s *State) Mode() Mode { return s.mode }
