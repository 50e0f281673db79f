// Package serial is the hardware side of a serial input dispatch engine:
// Linux-only, raw, unbuffered byte access to serial ports and the system
// console.
//
// Every transport is exposed through the Adapter contract used by the
// engine package: a blocking single-byte read, and a write that chunks its
// input to at most 255 bytes per driver call, drains the line after every
// chunk and retries writes that made no progress.
//
// Features:
//   - Raw syscall-based serial I/O on Linux, no buffering delays
//   - Single-byte reads, because some consoles cannot do partial-timeout reads
//   - Chunked, flushed writes paced by a token bucket on stalls
//   - Self-pipe mechanism for killability
//   - PTY-based tests for reliability
//
// This package does **not** support Windows.
//
// Example usage:
//
//	port, err := serial.Open(serial.Config{
//	    Device:   "/dev/ttyUSB0",
//	    BaudRate: 115200,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
//	eng := engine.New(engine.Config{})
//	eng.Attach("uart1", port, engine.TransportOptions{})
//	eng.Register("uart1", input.EventData, input.Delimiter("\r"), func(rec []byte) {
//	    fmt.Printf("record: %q\n", rec)
//	})
//	go eng.Run(ctx)
//
//	// to stop, cancel ctx; Run closes every attached adapter on the way out
package serial
