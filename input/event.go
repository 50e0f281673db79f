package input

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration reports an invalid selector, event name or write value.
	// Nothing is mutated when it is returned.
	ErrConfiguration = errors.New("configuration error")
	// ErrAllocation reports that the record buffer could not grow to the
	// required capacity. The state is left as it was.
	ErrAllocation = errors.New("allocation error")
)

// Event names one of the two callback slots of a transport.
type Event uint8

const (
	EventData Event = iota
	EventError
)

func (e Event) String() string {
	switch e {
	case EventData:
		return "data"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("event(%d)", uint8(e))
	}
}

// ParseEvent maps "data" and "error" to their Event.
func ParseEvent(s string) (Event, error) {
	switch s {
	case "data":
		return EventData, nil
	case "error":
		return EventError, nil
	default:
		return 0, fmt.Errorf("%w: method %q not supported", ErrConfiguration, s)
	}
}

// Handler receives a completed record or an error report. The slice is only
// valid for the duration of the call; copy it to retain it.
type Handler func(p []byte)
