package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	serial "github.com/luhtfiimanal/go-serial-dispatch"
	"github.com/luhtfiimanal/go-serial-dispatch/input"
)

// errorReportWindow bounds how long an asynchronous write-fault report may
// wait for the consumer.
const errorReportWindow = time.Second

// readFaultBackoff paces reads after a transient fault so that a device
// failing every read cannot spin the reader.
const readFaultBackoff = 100 * time.Millisecond

// transport is one attached adapter plus its consumer-owned input state.
// It is the bridge.Sink for bytes read from that adapter.
type transport struct {
	name    string
	adapter serial.Adapter
	state   *input.State
	console bool
	eng     *Engine

	// writeMu keeps the arguments of one Write call contiguous on the wire.
	writeMu sync.Mutex
}

func (t *transport) Name() string { return t.name }

// FeedByte runs on the consumer.
func (t *transport) FeedByte(b byte) {
	e := t.eng
	e.metrics.ByteReceived(t.name)
	one := []byte{b}
	if t.routesToInterpreter() {
		e.interp.Input(one)
	}
	t.state.Feed(one)
}

// ReportError runs on the consumer.
func (t *transport) ReportError(msg []byte) {
	handled := t.state.ReportError(msg)
	t.eng.metrics.ErrorReported(t.name, handled)
	if !handled {
		t.eng.log.Debug("transport error dropped, no handler", zap.String("transport", t.name), zap.ByteString("error", msg))
	}
}

func (t *transport) routesToInterpreter() bool {
	return t.console && t.eng.interp != nil && t.eng.interactive.Load()
}

// wanted reports whether a freshly read byte has anywhere to go. Bytes
// nobody listens to are not worth a trip through the bridge.
func (t *transport) wanted() bool {
	return t.state.HasDataHandler() || t.routesToInterpreter()
}

// produce is the reader loop of one transport.
func (e *Engine) produce(ctx context.Context, t *transport) {
	defer e.producers.Done()
	log := e.log.With(zap.String("transport", t.name))
	log.Debug("reader started")
	defer log.Debug("reader stopped")

	backoff := rate.NewLimiter(rate.Every(readFaultBackoff), 1)
	for ctx.Err() == nil {
		b, err := t.adapter.ReadByte()
		switch {
		case err == nil:
			if t.wanted() {
				e.bridge.PostByte(ctx, t, b)
			}
		case errors.Is(err, serial.ErrTimeout):
			continue
		case errors.Is(err, serial.ErrClosed):
			return
		case errors.Is(err, serial.ErrHangup):
			if ctx.Err() != nil {
				return
			}
			log.Warn("device hung up, reader exiting", zap.Error(err))
			e.bridge.PostError(ctx, t, []byte(err.Error()))
			return
		default:
			if ctx.Err() != nil {
				return
			}
			log.Warn("read failed", zap.Error(err))
			e.bridge.PostError(ctx, t, []byte(err.Error()))
			if backoff.Wait(ctx) != nil {
				return
			}
		}
	}
}

// Write sends values to the named transport in order. Each value is a
// string, a []byte, or an integer in [0, 255] sent as one byte. An invalid
// value aborts the call before it is written; values before it have already
// been sent. Adapter faults are returned wrapped in ErrTransport and also
// reported to the transport's error handler.
func (e *Engine) Write(name string, values ...any) error {
	t, err := e.lookup(name)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	for i, v := range values {
		p, err := encodeValue(v)
		if err != nil {
			return fmt.Errorf("argument %d: %w", i+1, err)
		}
		if len(p) == 0 {
			continue
		}
		n, err := t.adapter.Write(p)
		e.metrics.Written(t.name, n)
		if err != nil {
			e.log.Warn("write failed", zap.String("transport", t.name), zap.Int("written", n), zap.Error(err))
			e.reportAsync(t, err)
			return fmt.Errorf("%w: write %s: %v", ErrTransport, t.name, err)
		}
	}
	return nil
}

// reportAsync forwards a write fault to the error slot without blocking the
// writer, which may itself be running on the consumer.
func (e *Engine) reportAsync(t *transport, err error) {
	msg := []byte(err.Error())
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), errorReportWindow)
		defer cancel()
		e.bridge.PostError(ctx, t, msg)
	}()
}

func encodeValue(v any) ([]byte, error) {
	var n int64
	switch x := v.(type) {
	case string:
		return []byte(x), nil
	case []byte:
		return x, nil
	case uint8:
		return []byte{x}, nil
	case int:
		n = int64(x)
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint:
		if x > 255 {
			return nil, fmt.Errorf("%w: invalid number %d", ErrConfiguration, x)
		}
		n = int64(x)
	case uint16:
		n = int64(x)
	case uint32:
		n = int64(x)
	case uint64:
		if x > 255 {
			return nil, fmt.Errorf("%w: invalid number %d", ErrConfiguration, x)
		}
		n = int64(x)
	default:
		return nil, fmt.Errorf("%w: cannot write %T", ErrConfiguration, v)
	}
	if n < 0 || n > 255 {
		return nil, fmt.Errorf("%w: invalid number %d", ErrConfiguration, n)
	}
	return []byte{byte(n)}, nil
}
