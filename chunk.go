package serial

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMaxChunk is the largest write handed to a driver in one call.
// Some USB consoles silently drop characters beyond this.
const DefaultMaxChunk = 255

const defaultRetryInterval = time.Millisecond

// FlushWriter is a writer whose queued output can be pushed to the wire.
type FlushWriter interface {
	io.Writer
	Flush() error
}

// WriteChunked writes p to w in pieces of at most maxChunk bytes and flushes after
// every piece. A write that makes no progress and reports no error is retried
// once the limiter grants a token; any error aborts the call. It returns the
// number of bytes accepted by w.
func WriteChunked(ctx context.Context, w FlushWriter, p []byte, maxChunk int, limiter *rate.Limiter) (int, error) {
	if maxChunk <= 0 {
		maxChunk = DefaultMaxChunk
	}
	if limiter == nil {
		limiter = newRetryLimiter(0)
	}
	written := 0
	for written < len(p) {
		end := written + maxChunk
		if end > len(p) {
			end = len(p)
		}
		n, err := w.Write(p[written:end])
		if n > 0 {
			written += n
		}
		if ferr := w.Flush(); ferr != nil && err == nil {
			err = fmt.Errorf("flush: %w", ferr)
		}
		if err != nil {
			return written, err
		}
		if n == 0 {
			if err := limiter.Wait(ctx); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

func newRetryLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		interval = defaultRetryInterval
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}
