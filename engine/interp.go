package engine

import "bytes"

// Interpreter is the line-oriented execution context that console input is
// routed to while the engine is interactive. Input runs on the consumer.
type Interpreter interface {
	Input(p []byte)
}

// InterpreterFunc adapts a function to Interpreter.
type InterpreterFunc func(p []byte)

func (f InterpreterFunc) Input(p []byte) { f(p) }

// maxLine caps a single interpreter line; longer input is split.
const maxLine = 1024

// Lines returns an Interpreter that collects input into lines and calls exec
// with each complete one, stripped of its "\n" or "\r\n" terminator.
func Lines(exec func(line []byte)) Interpreter {
	var line []byte
	return InterpreterFunc(func(p []byte) {
		for _, c := range p {
			if c == '\n' {
				exec(bytes.TrimSuffix(line, []byte{'\r'}))
				line = line[:0]
				continue
			}
			line = append(line, c)
			if len(line) >= maxLine {
				exec(line)
				line = line[:0]
			}
		}
	})
}
