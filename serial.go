package serial

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"
)

var (
	// ErrClosed is returned by ReadByte and Write once the adapter has been closed.
	ErrClosed = errors.New("serial: adapter closed")
	// ErrTimeout is returned by ReadByte when no byte arrived within the read timeout.
	ErrTimeout = errors.New("serial: read timeout")
	// ErrHangup is returned by ReadByte when the device went away or the
	// input reached its end. No further bytes will arrive.
	ErrHangup = errors.New("serial: hung up")
)

// Adapter is the hardware contract the dispatch engine reads from and writes to.
//
// ReadByte blocks until exactly one byte is available. It returns ErrTimeout
// when the adapter's read timeout elapsed without data, ErrClosed after
// Close and an error wrapping ErrHangup once the device is gone. Any other
// error is a fault the caller may read past. Write accepts an arbitrary-length sequence and is responsible for any
// transport-specific chunking, flushing and retrying.
type Adapter interface {
	ReadByte() (byte, error)
	Write(p []byte) (int, error)
	Close() error
}

var (
	_ Adapter = (*Port)(nil)
	_ Adapter = (*Console)(nil)
)

// Port provides low-latency, killable, byte-oriented access to a Linux serial port.
// ReadByte must only be called from one goroutine at a time; Write and Close
// are safe to call from any goroutine.
type Port struct {
	fd      int
	waker   *waker
	config  Config
	limiter *rate.Limiter
}

// Config holds configuration parameters for opening a serial port.
type Config struct {
	Device   string
	BaudRate int
	// ReadTimeout bounds a single ReadByte call. Zero blocks until data arrives.
	ReadTimeout time.Duration
	// MaxChunk caps the bytes handed to the driver per write call. Default 255.
	MaxChunk int
	// RetryInterval paces retries of writes that made no progress. Default 1ms.
	RetryInterval time.Duration
}

// Open opens a serial port using the provided Config and returns a Port.
// The port is configured for raw, low-latency, non-buffered operation.
func Open(cfg Config) (*Port, error) {
	fd, err := syscall.Open(cfg.Device, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0666)
	if err != nil {
		return nil, fmt.Errorf("open failed: %w", err)
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("get termios: %w", err)
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB
	termios.Cflag |= unix.CS8

	// Baud rate
	baud := baudToUnix(cfg.BaudRate)
	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= baud

	// One byte satisfies a read, no inter-byte timer
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set termios: %w", err)
	}

	// Turn back into blocking mode now that config is done
	syscall.SetNonblock(fd, false)

	w, err := newWaker()
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	if cfg.MaxChunk <= 0 {
		cfg.MaxChunk = DefaultMaxChunk
	}
	return &Port{
		fd:      fd,
		waker:   w,
		config:  cfg,
		limiter: newRetryLimiter(cfg.RetryInterval),
	}, nil
}

// Name returns the device path the port was opened with.
func (p *Port) Name() string { return p.config.Device }

// ReadByte blocks until a single byte is received from the device.
// Some consoles do not support partial-timeout reads, so the engine always
// reads one byte per call.
func (p *Port) ReadByte() (byte, error) {
	var b [1]byte
	for {
		ready, err := p.waker.wait(p.fd, p.config.ReadTimeout)
		if err != nil {
			return 0, err
		}
		if !ready {
			return 0, ErrTimeout
		}
		n, err := unix.Read(p.fd, b[:])
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		if err != nil {
			if p.waker.closed() {
				return 0, ErrClosed
			}
			if err == unix.EIO || err == unix.ENXIO || err == unix.ENODEV {
				return 0, fmt.Errorf("read %s: %w: %v", p.config.Device, ErrHangup, err)
			}
			return 0, fmt.Errorf("read %s: %w", p.config.Device, err)
		}
		if n == 0 {
			return 0, fmt.Errorf("read %s: %w", p.config.Device, ErrHangup)
		}
		return b[0], nil
	}
}

// Write writes p to the port in MaxChunk-sized pieces, draining the line after each.
func (p *Port) Write(b []byte) (int, error) {
	return p.WriteContext(context.Background(), b)
}

// WriteContext is Write with a context bounding retries of stalled writes.
func (p *Port) WriteContext(ctx context.Context, b []byte) (int, error) {
	if p.waker.closed() {
		return 0, ErrClosed
	}
	return WriteChunked(ctx, fdWriter(p.fd), b, p.config.MaxChunk, p.limiter)
}

// Close closes the serial port and unblocks any ReadByte call.
// Safe to call multiple times; subsequent calls are no-ops.
func (p *Port) Close() error {
	var err error
	if p.waker.wake() {
		err = unix.Close(p.fd)
		p.waker.close()
	}
	return err
}

// fdWriter writes straight to a blocking descriptor so that partial progress is visible.
type fdWriter int

func (w fdWriter) Write(b []byte) (int, error) {
	n, err := unix.Write(int(w), b)
	if err == unix.EAGAIN || err == unix.EINTR {
		return 0, nil
	}
	if n < 0 {
		n = 0
	}
	return n, err
}

// Flush waits until all queued output has been transmitted (tcdrain).
func (w fdWriter) Flush() error {
	err := unix.IoctlSetInt(int(w), unix.TCSBRK, 1)
	if err == unix.ENOTTY || err == unix.EINVAL {
		return nil
	}
	return err
}

func baudToUnix(baud int) uint32 {
	switch baud {
	case 9600:
		return unix.B9600
	case 19200:
		return unix.B19200
	case 38400:
		return unix.B38400
	case 57600:
		return unix.B57600
	case 115200:
		return unix.B115200
	case 230400:
		return unix.B230400
	default:
		return unix.B115200 // fallback
	}
}
