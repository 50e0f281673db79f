package serial

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

// Console adapts the process's standard input and output to the Adapter
// contract. Input is read one byte at a time; output is chunked and synced
// after each chunk because not every console driver honours unbuffered stdout.
//
// Console does not own the files: Close only unblocks a pending ReadByte.
type Console struct {
	in      *os.File
	out     *os.File
	waker   *waker
	limiter *rate.Limiter
}

// OpenConsole wraps in and out. Pass os.Stdin and os.Stdout for the system console.
func OpenConsole(in, out *os.File) (*Console, error) {
	w, err := newWaker()
	if err != nil {
		return nil, err
	}
	// Blocking single-byte reads; poll takes care of killability.
	syscall.SetNonblock(int(in.Fd()), false)
	return &Console{in: in, out: out, waker: w, limiter: newRetryLimiter(0)}, nil
}

// ReadByte blocks until one byte arrives on the console input.
func (c *Console) ReadByte() (byte, error) {
	var b [1]byte
	for {
		if _, err := c.waker.wait(int(c.in.Fd()), 0); err != nil {
			return 0, err
		}
		n, err := unix.Read(int(c.in.Fd()), b[:])
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("read console: %w", err)
		}
		if n == 0 {
			return 0, fmt.Errorf("read console: end of input: %w", ErrHangup)
		}
		return b[0], nil
	}
}

// Write writes p to the console output.
func (c *Console) Write(p []byte) (int, error) {
	if c.waker.closed() {
		return 0, ErrClosed
	}
	return WriteChunked(context.Background(), syncWriter{c.out}, p, DefaultMaxChunk, c.limiter)
}

// Close unblocks any pending ReadByte. Safe to call multiple times.
func (c *Console) Close() error {
	if c.waker.wake() {
		c.waker.close()
	}
	return nil
}

type syncWriter struct{ f *os.File }

func (w syncWriter) Write(p []byte) (int, error) { return w.f.Write(p) }

// Flush fsyncs the output; terminals and pipes reject fsync, which is fine.
func (w syncWriter) Flush() error {
	err := w.f.Sync()
	if errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.EROFS) {
		return nil
	}
	return err
}
