// Package engine turns the byte streams of several serial transports into
// framed records delivered to registered handlers.
//
// Every attached transport gets its own producer goroutine doing blocking
// single-byte reads. Bytes cross a bounded bridge into one consumer
// goroutine, the only place where input state is touched and handlers run.
// A slow handler therefore stalls every transport, never drops data.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	serial "github.com/luhtfiimanal/go-serial-dispatch"
	"github.com/luhtfiimanal/go-serial-dispatch/bridge"
	"github.com/luhtfiimanal/go-serial-dispatch/input"
	"github.com/luhtfiimanal/go-serial-dispatch/metrics"
)

var (
	// ErrConfiguration is input.ErrConfiguration, re-exported for callers
	// that only import engine.
	ErrConfiguration = input.ErrConfiguration
	// ErrTransport wraps faults reported by an adapter.
	ErrTransport = errors.New("transport error")
	// ErrStarted is returned by Attach once Run has been called.
	ErrStarted = errors.New("engine already started")
)

// Config holds engine-wide settings.
type Config struct {
	Bridge bridge.Config
	// MaxRecordSize bounds every transport's record buffer unless its
	// TransportOptions override it.
	MaxRecordSize int
}

// TransportOptions configures one attached transport.
type TransportOptions struct {
	// Console marks the transport whose input is also routed to the
	// interpreter while the engine is interactive.
	Console bool
	// MaxCapacity overrides Config.MaxRecordSize for this transport.
	MaxCapacity int
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMetrics enables Prometheus accounting.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithInterpreter sets where console input goes while interactive.
func WithInterpreter(in Interpreter) Option {
	return func(e *Engine) { e.interp = in }
}

// Engine owns the transports, the bridge and the per-transport input state.
type Engine struct {
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Metrics
	interp  Interpreter
	bridge  *bridge.Bridge

	interactive atomic.Bool
	started     atomic.Bool

	mu         sync.RWMutex
	transports map[string]*transport

	producers sync.WaitGroup
}

// New creates an Engine. It starts in interactive mode.
func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:        cfg,
		log:        zap.NewNop(),
		transports: make(map[string]*transport),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.bridge = bridge.New(cfg.Bridge, e.log.Named("bridge"), func(s bridge.Sink) {
		e.metrics.Lost(s.Name())
	})
	e.SetInteractive(true)
	return e
}

// Attach adds a transport under name. It must be called before Run.
func (e *Engine) Attach(name string, a serial.Adapter, opts TransportOptions) error {
	if e.started.Load() {
		return ErrStarted
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.transports[name]; ok {
		return fmt.Errorf("%w: transport %q already attached", ErrConfiguration, name)
	}
	maxCap := opts.MaxCapacity
	if maxCap <= 0 {
		maxCap = e.cfg.MaxRecordSize
	}
	e.transports[name] = &transport{
		name:    name,
		adapter: a,
		state:   input.NewState(maxCap),
		console: opts.Console,
		eng:     e,
	}
	return nil
}

// Transports returns the attached transport names, sorted.
func (e *Engine) Transports() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.transports))
	for name := range e.transports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) lookup(name string) (*transport, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.transports[name]
	if !ok {
		return nil, fmt.Errorf("%w: no transport %q", ErrConfiguration, name)
	}
	return t, nil
}

// Run starts one reader per transport and runs the consumer until ctx is
// done, which is a normal stop and returns nil. On return every adapter has
// been closed and every reader has exited.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrStarted
	}
	e.mu.RLock()
	for _, t := range e.transports {
		e.producers.Add(1)
		go e.produce(ctx, t)
	}
	e.mu.RUnlock()

	e.log.Info("dispatch engine running", zap.Strings("transports", e.Transports()))
	err := e.bridge.Run(ctx)
	if cerr := e.Close(); cerr != nil {
		e.log.Warn("closing transports", zap.Error(cerr))
	}
	e.producers.Wait()
	e.log.Info("dispatch engine stopped")
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Close closes every adapter, which unblocks the readers.
func (e *Engine) Close() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var errs []error
	for _, t := range e.transports {
		if err := t.adapter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", t.name, err))
		}
	}
	return errors.Join(errs...)
}

// Do runs fn on the consumer goroutine and waits for it. Use it to call
// Register from any other goroutine while the engine runs. Handlers already
// run on the consumer and may call Register directly. If ctx ends before
// the consumer gets to fn, fn is skipped and ctx.Err() is returned.
func (e *Engine) Do(ctx context.Context, fn func()) error {
	return e.bridge.Call(ctx, fn)
}

// Register binds (or, with a nil handler, unbinds) the handler of ev on the
// named transport, optionally changing its framing. It must run on the
// consumer goroutine: from a handler, inside Do, or before Run.
func (e *Engine) Register(name string, ev input.Event, sel input.Selector, h input.Handler) error {
	t, err := e.lookup(name)
	if err != nil {
		return err
	}
	if h != nil && ev == input.EventData {
		inner := h
		h = func(p []byte) {
			e.metrics.RecordDispatched(t.name)
			inner(p)
		}
	}
	if err := t.state.Register(ev, sel, h); err != nil {
		return err
	}
	e.log.Debug("handler registered",
		zap.String("transport", name),
		zap.Stringer("event", ev),
		zap.Stringer("selector", sel),
		zap.Bool("bound", h != nil))
	return nil
}

// SetInteractive switches routing of console input to the interpreter.
func (e *Engine) SetInteractive(on bool) {
	e.interactive.Store(on)
	e.metrics.SetInteractive(on)
}

// Interactive reports whether console input is routed to the interpreter.
func (e *Engine) Interactive() bool { return e.interactive.Load() }

// Status describes one transport's input state.
type Status struct {
	Name     string `json:"name"`
	Console  bool   `json:"console"`
	Mode     string `json:"mode"`
	Capacity int    `json:"capacity"`
	Buffered int    `json:"buffered"`
	OnData   bool   `json:"on_data"`
	OnError  bool   `json:"on_error"`
}

// Status snapshots every transport's input state on the consumer goroutine.
func (e *Engine) Status(ctx context.Context) ([]Status, error) {
	var out []Status
	if err := e.Do(ctx, func() { out = e.Snapshot() }); err != nil {
		return nil, err
	}
	return out, nil
}

// Snapshot is Status for code already running on the consumer, such as
// handlers and the interpreter.
func (e *Engine) Snapshot() []Status {
	var out []Status
	for _, name := range e.Transports() {
		t, _ := e.lookup(name)
		out = append(out, Status{
			Name:     t.name,
			Console:  t.console,
			Mode:     t.state.Mode().String(),
			Capacity: t.state.Capacity(),
			Buffered: t.state.Buffered(),
			OnData:   t.state.HasDataHandler(),
			OnError:  t.state.HasErrorHandler(),
		})
	}
	return out
}
