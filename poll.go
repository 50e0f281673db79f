package serial

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// waker is a self-pipe that interrupts a blocked poll when the adapter closes.
type waker struct {
	pipeR, pipeW int
	done         chan struct{}
	once         sync.Once
}

func newWaker() (*waker, error) {
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("pipe: %w", err)
	}
	return &waker{pipeR: fds[0], pipeW: fds[1], done: make(chan struct{})}, nil
}

// wait blocks until fd is readable (or hung up), the timeout elapses, or the
// waker fires. ready is false only on timeout.
func (w *waker) wait(fd int, timeout time.Duration) (ready bool, err error) {
	ms := -1
	if timeout > 0 {
		ms = int(timeout / time.Millisecond)
		if ms == 0 {
			ms = 1
		}
	}
	for {
		pfd := []unix.PollFd{
			{Fd: int32(fd), Events: unix.POLLIN},
			{Fd: int32(w.pipeR), Events: unix.POLLIN},
		}
		n, err := unix.Poll(pfd, ms)
		if w.closed() {
			return false, ErrClosed
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			return false, nil
		}
		if pfd[1].Revents != 0 {
			return false, ErrClosed
		}
		if pfd[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			return true, nil
		}
		if pfd[0].Revents&unix.POLLNVAL != 0 {
			return false, ErrClosed
		}
	}
}

func (w *waker) closed() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// wake fires the waker. It reports whether this call was the one that fired it.
func (w *waker) wake() bool {
	fired := false
	w.once.Do(func() {
		fired = true
		close(w.done)
		unix.Write(w.pipeW, []byte{1})
	})
	return fired
}

func (w *waker) close() {
	unix.Close(w.pipeR)
	unix.Close(w.pipeW)
}
