// Package bridge funnels bytes from many producer goroutines into one
// consumer goroutine.
//
// Each transport's read loop is a producer. Producers hand items over a
// bounded channel and block while it is full, so a slow consumer stalls
// the readers instead of dropping input. Only if the hand-off has not
// completed within the configured window is the item given up on; that is
// logged as a fault and never retried.
//
// The consumer, started with Run, processes one item at a time and runs the
// resulting callbacks to completion before accepting the next item.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultQueueSize is the hand-off capacity used when Config.QueueSize is unset.
const DefaultQueueSize = 64

// ErrRunning is returned by Run when a consumer is already running.
var ErrRunning = errors.New("bridge: consumer already running")

// Sink is the consumer-side destination of one producer's items.
// Its methods are only ever called from the consumer goroutine.
type Sink interface {
	Name() string
	FeedByte(b byte)
	ReportError(msg []byte)
}

// Config sizes the hand-off.
type Config struct {
	// QueueSize is the number of items that may wait for the consumer.
	QueueSize int
	// HandoffTimeout is how long a producer waits for room before the item
	// is lost. Zero or less waits indefinitely.
	HandoffTimeout time.Duration
}

type kind uint8

const (
	kindByte kind = iota
	kindError
	kindCall
)

type item struct {
	kind kind
	sink Sink
	b    byte
	msg  []byte
	fn   func()
	errc chan error
	ctx  context.Context // caller of a kindCall item
}

// Bridge is a bounded multi-producer, single-consumer hand-off.
type Bridge struct {
	queue   chan item
	timeout time.Duration
	log     *zap.Logger
	onLost  func(Sink)
	running atomic.Bool
}

// New creates a Bridge. log may be nil. onLost, if set, is called on the
// producer goroutine for every item that could not be handed off.
func New(cfg Config, log *zap.Logger, onLost func(Sink)) *Bridge {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{
		queue:   make(chan item, cfg.QueueSize),
		timeout: cfg.HandoffTimeout,
		log:     log,
		onLost:  onLost,
	}
}

// PostByte hands one received byte to the consumer on behalf of sink.
// It reports false if the byte was lost or ctx was cancelled.
func (b *Bridge) PostByte(ctx context.Context, sink Sink, c byte) bool {
	if b.handoff(ctx, item{kind: kindByte, sink: sink, b: c}) {
		return true
	}
	b.lost(ctx, sink, zap.Uint8("byte", c))
	return false
}

// PostError hands a transport fault report to the consumer on behalf of sink.
func (b *Bridge) PostError(ctx context.Context, sink Sink, msg []byte) bool {
	if b.handoff(ctx, item{kind: kindError, sink: sink, msg: msg}) {
		return true
	}
	b.lost(ctx, sink, zap.ByteString("error", msg))
	return false
}

// Call runs fn on the consumer goroutine and waits for it to return. It is
// how goroutines other than the consumer safely mutate consumer-owned state.
// Call must not be used from the consumer itself; code running there may
// simply call fn directly. A panic in fn is returned as an error.
//
// If ctx ends while fn is still queued, Call returns ctx.Err() and fn is
// skipped when the consumer reaches it. Once fn has started it runs to
// completion even if the caller has stopped waiting.
func (b *Bridge) Call(ctx context.Context, fn func()) error {
	it := item{kind: kindCall, fn: fn, errc: make(chan error, 1), ctx: ctx}
	select {
	case b.queue <- it:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-it.errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the consumer loop. It returns ctx.Err() once ctx is done, or
// ErrRunning if another Run is active.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer b.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case it := <-b.queue:
			b.process(it)
		}
	}
}

// Pending returns the number of items waiting for the consumer.
func (b *Bridge) Pending() int { return len(b.queue) }

func (b *Bridge) handoff(ctx context.Context, it item) bool {
	select {
	case b.queue <- it:
		return true
	default:
	}

	var expired <-chan time.Time
	if b.timeout > 0 {
		t := time.NewTimer(b.timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case b.queue <- it:
		return true
	case <-expired:
		return false
	case <-ctx.Done():
		return false
	}
}

func (b *Bridge) lost(ctx context.Context, sink Sink, field zap.Field) {
	if ctx.Err() != nil {
		// Shutting down, not a fault.
		return
	}
	b.log.Error("lost input data",
		zap.String("transport", sink.Name()),
		zap.Duration("waited", b.timeout),
		field)
	if b.onLost != nil {
		b.onLost(sink)
	}
}

func (b *Bridge) process(it item) {
	if it.kind == kindCall {
		if err := it.ctx.Err(); err != nil {
			it.errc <- err
			return
		}
		it.errc <- b.protect("call", it.fn)
		return
	}
	name := it.sink.Name()
	switch it.kind {
	case kindByte:
		b.protect(name, func() { it.sink.FeedByte(it.b) })
	case kindError:
		b.protect(name, func() { it.sink.ReportError(it.msg) })
	}
}

// protect runs fn, turning a panicking callback into a logged error so that
// one bad handler does not take the consumer down.
func (b *Bridge) protect(what string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panicked: %v", r)
			b.log.Error("callback panicked", zap.String("source", what), zap.Any("panic", r))
		}
	}()
	fn()
	return nil
}
