package main

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/luhtfiimanal/go-serial-dispatch/engine"
	"github.com/luhtfiimanal/go-serial-dispatch/input"
)

// session holds what the listen command's handlers and console commands
// share. All of its methods run on the engine consumer.
type session struct {
	eng *engine.Engine
	out io.Writer
	log *zap.Logger
}

// onRecord prints each record of a transport on its own line.
func (s *session) onRecord(name string) input.Handler {
	return func(p []byte) {
		fmt.Fprintf(s.out, "%s: %q\n", name, p)
	}
}

func (s *session) onError(name string) input.Handler {
	return func(msg []byte) {
		s.log.Warn("transport error", zap.String("transport", name), zap.ByteString("error", msg))
	}
}

// bind registers the printing handlers of a transport.
func (s *session) bind(name string, sel input.Selector) error {
	if err := s.eng.Register(name, input.EventData, sel, s.onRecord(name)); err != nil {
		return err
	}
	return s.eng.Register(name, input.EventError, input.NoSelector, s.onError(name))
}

const helpText = `commands:
  status                              show transports and their framing
  write <transport> <value>...        send strings, "quoted\r\n" strings or bytes (0..255, 0x..)
  register <transport> <data|error> [selector]
                                      bind the printing handler; selector is a length or one byte
  unregister <transport> <data|error> drop the handler and any buffered bytes
  mode raw                            stop routing console input here (PUT /mode to undo)
  help                                this text
`

// exec runs one console command line.
func (s *session) exec(line []byte) {
	words, err := splitWords(strings.TrimSpace(string(line)))
	if err != nil {
		fmt.Fprintln(s.out, "error:", err)
		return
	}
	if len(words) == 0 {
		return
	}
	if err := s.run(words[0], words[1:]); err != nil {
		fmt.Fprintln(s.out, "error:", err)
	}
}

func (s *session) run(cmd string, args []string) error {
	switch cmd {
	case "help", "?":
		fmt.Fprint(s.out, helpText)
	case "status":
		for _, st := range s.eng.Snapshot() {
			fmt.Fprintf(s.out, "%-10s mode=%-14s cap=%-5d buffered=%-5d data=%t error=%t console=%t\n",
				st.Name, st.Mode, st.Capacity, st.Buffered, st.OnData, st.OnError, st.Console)
		}
	case "write":
		if len(args) < 1 {
			return fmt.Errorf("usage: write <transport> <value>...")
		}
		values, err := parseValues(args[1:])
		if err != nil {
			return err
		}
		return s.eng.Write(args[0], values...)
	case "register", "unregister":
		if len(args) < 2 {
			return fmt.Errorf("usage: %s <transport> <data|error> [selector]", cmd)
		}
		ev, err := input.ParseEvent(args[1])
		if err != nil {
			return err
		}
		sel := input.NoSelector
		if len(args) > 2 {
			if sel, err = input.ParseSelector(args[2]); err != nil {
				return err
			}
		}
		var h input.Handler
		if cmd == "register" {
			h = s.onRecord(args[0])
			if ev == input.EventError {
				h = s.onError(args[0])
			}
		}
		return s.eng.Register(args[0], ev, sel, h)
	case "mode":
		if len(args) != 1 || (args[0] != "raw" && args[0] != "interactive") {
			return fmt.Errorf("usage: mode raw")
		}
		s.eng.SetInteractive(args[0] == "interactive")
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
	return nil
}
