package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	serial "github.com/luhtfiimanal/go-serial-dispatch"
	"github.com/luhtfiimanal/go-serial-dispatch/bridge"
	"github.com/luhtfiimanal/go-serial-dispatch/input"
	"github.com/luhtfiimanal/go-serial-dispatch/metrics"
)

// fakeAdapter is an in-memory transport. Bytes pushed with feed come out of
// ReadByte; fail makes the next ReadByte return an error.
type fakeAdapter struct {
	in     chan byte
	errs   chan error
	closed chan struct{}
	once   sync.Once

	mu       sync.Mutex
	out      bytes.Buffer
	writeErr error
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		in:     make(chan byte, 1024),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeAdapter) feed(s string) {
	for i := 0; i < len(s); i++ {
		f.in <- s[i]
	}
}

func (f *fakeAdapter) fail(err error) { f.errs <- err }

func (f *fakeAdapter) ReadByte() (byte, error) {
	select {
	case b := <-f.in:
		return b, nil
	case err := <-f.errs:
		return 0, err
	case <-f.closed:
		return 0, serial.ErrClosed
	}
}

func (f *fakeAdapter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return f.out.Write(p)
}

func (f *fakeAdapter) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeAdapter) written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.String()
}

// collector turns handler invocations into a channel of copies.
type collector chan string

func (c collector) handle(p []byte) { c <- string(p) }

func (c collector) expect(t *testing.T, want ...string) {
	t.Helper()
	for _, w := range want {
		select {
		case got := <-c:
			require.Equal(t, w, got)
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %q", w)
		}
	}
}

func (c collector) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case got := <-c:
		t.Fatalf("unexpected record %q", got)
	case <-time.After(wait):
	}
}

func runEngine(t *testing.T, e *Engine) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("engine did not stop")
		}
	})
	return ctx
}

func TestEngine_FixedLengthScenario(t *testing.T) {
	e := New(Config{})
	uart := newFakeAdapter()
	require.NoError(t, e.Attach("uart1", uart, TransportOptions{}))

	records := make(collector, 4)
	require.NoError(t, e.Register("uart1", input.EventData, input.Length(4), records.handle))
	runEngine(t, e)

	uart.feed("ABCD")
	uart.feed("EFGH")
	records.expect(t, "ABCD", "EFGH")
	records.expectNone(t, 20*time.Millisecond)
}

func TestEngine_DelimiterScenario(t *testing.T) {
	e := New(Config{})
	uart := newFakeAdapter()
	require.NoError(t, e.Attach("uart1", uart, TransportOptions{}))

	records := make(collector, 4)
	require.NoError(t, e.Register("uart1", input.EventData, input.Delimiter("\r"), records.handle))
	runEngine(t, e)

	uart.feed("foo\rbar\r")
	records.expect(t, "foo\r", "bar\r")
}

func TestEngine_RegisterWhileRunning(t *testing.T) {
	e := New(Config{})
	uart := newFakeAdapter()
	require.NoError(t, e.Attach("uart1", uart, TransportOptions{}))
	ctx := runEngine(t, e)

	records := make(collector, 4)
	var regErr error
	require.NoError(t, e.Do(ctx, func() {
		regErr = e.Register("uart1", input.EventData, input.Length(2), records.handle)
	}))
	require.NoError(t, regErr)

	uart.feed("hi")
	records.expect(t, "hi")

	require.NoError(t, e.Do(ctx, func() {
		regErr = e.Register("uart1", input.EventData, input.NoSelector, nil)
	}))
	require.NoError(t, regErr)

	uart.feed("there")
	records.expectNone(t, 50*time.Millisecond)

	st, err := e.Status(ctx)
	require.NoError(t, err)
	require.Len(t, st, 1)
	require.False(t, st[0].OnData)
	require.Zero(t, st[0].Capacity)
}

func TestEngine_HandlerReconfiguresFromConsumer(t *testing.T) {
	e := New(Config{})
	uart := newFakeAdapter()
	require.NoError(t, e.Attach("uart1", uart, TransportOptions{}))

	records := make(collector, 8)
	regErr := make(chan error, 1)
	var onData input.Handler
	onData = func(p []byte) {
		records.handle(p)
		if string(p) == "LEN" {
			// Switch to newline framing after a fixed-size header.
			regErr <- e.Register("uart1", input.EventData, input.Delimiter("\n"), onData)
		}
	}
	require.NoError(t, e.Register("uart1", input.EventData, input.Length(3), onData))
	runEngine(t, e)

	uart.feed("LENsome line\nnext\n")
	records.expect(t, "LEN", "some line\n", "next\n")
	require.NoError(t, <-regErr)
}

func TestEngine_TransportsAreIndependent(t *testing.T) {
	e := New(Config{Bridge: bridge.Config{QueueSize: 2}})
	a, b := newFakeAdapter(), newFakeAdapter()
	require.NoError(t, e.Attach("a", a, TransportOptions{}))
	require.NoError(t, e.Attach("b", b, TransportOptions{}))

	fromA := make(collector, 64)
	fromB := make(collector, 64)
	require.NoError(t, e.Register("a", input.EventData, input.Delimiter(";"), fromA.handle))
	require.NoError(t, e.Register("b", input.EventData, input.Length(2), fromB.handle))
	runEngine(t, e)

	go a.feed("one;two;three;")
	go b.feed("112233")

	fromA.expect(t, "one;", "two;", "three;")
	fromB.expect(t, "11", "22", "33")
}

func TestEngine_ReadErrorReachesErrorHandler(t *testing.T) {
	e := New(Config{})
	uart := newFakeAdapter()
	require.NoError(t, e.Attach("uart1", uart, TransportOptions{}))

	errs := make(collector, 1)
	require.NoError(t, e.Register("uart1", input.EventError, input.NoSelector, errs.handle))
	runEngine(t, e)

	uart.fail(errors.New("framing error"))
	errs.expect(t, "framing error")
}

func TestEngine_ReadFaultIsNotFatal(t *testing.T) {
	e := New(Config{})
	uart := newFakeAdapter()
	require.NoError(t, e.Attach("uart1", uart, TransportOptions{}))

	records := make(collector, 2)
	errs := make(collector, 2)
	require.NoError(t, e.Register("uart1", input.EventData, input.Length(1), records.handle))
	require.NoError(t, e.Register("uart1", input.EventError, input.NoSelector, errs.handle))
	runEngine(t, e)

	uart.fail(errors.New("framing error"))
	errs.expect(t, "framing error")

	// The reader backs off and then resumes.
	uart.feed("k")
	records.expect(t, "k")

	uart.fail(errors.New("parity error"))
	errs.expect(t, "parity error")
	uart.feed("z")
	records.expect(t, "z")
}

func TestEngine_HangupEndsReader(t *testing.T) {
	e := New(Config{})
	uart := newFakeAdapter()
	require.NoError(t, e.Attach("uart1", uart, TransportOptions{}))

	records := make(collector, 1)
	errs := make(collector, 1)
	require.NoError(t, e.Register("uart1", input.EventData, input.Length(1), records.handle))
	require.NoError(t, e.Register("uart1", input.EventError, input.NoSelector, errs.handle))
	runEngine(t, e)

	uart.fail(fmt.Errorf("read /dev/ttyUSB0: %w", serial.ErrHangup))
	errs.expect(t, "read /dev/ttyUSB0: serial: hung up")

	uart.feed("k")
	records.expectNone(t, 300*time.Millisecond)
}

func TestEngine_ReadErrorWithoutHandlerIsDropped(t *testing.T) {
	reg := metrics.NewRegistry()
	m := metrics.New(reg)
	e := New(Config{}, WithMetrics(m))
	uart, other := newFakeAdapter(), newFakeAdapter()
	require.NoError(t, e.Attach("uart1", uart, TransportOptions{}))
	require.NoError(t, e.Attach("uart2", other, TransportOptions{}))

	records := make(collector, 1)
	require.NoError(t, e.Register("uart2", input.EventData, input.Length(1), records.handle))
	runEngine(t, e)

	uart.fail(errors.New("overrun"))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ErrorsReported.WithLabelValues("uart1", "false")) == 1
	}, time.Second, 5*time.Millisecond)

	// The failing reader must not disturb the other transport.
	other.feed("k")
	records.expect(t, "k")
}

func TestEngine_Write(t *testing.T) {
	e := New(Config{})
	uart := newFakeAdapter()
	require.NoError(t, e.Attach("uart1", uart, TransportOptions{}))

	require.NoError(t, e.Write("uart1", "AB", 0x43, "D"))
	require.Equal(t, "ABCD", uart.written())

	require.NoError(t, e.Write("uart1", []byte{0x00, 0xff}, byte(1), uint16(2), 'z'))
	require.Equal(t, "ABCD\x00\xff\x01\x02z", uart.written())
}

func TestEngine_WriteRejectsBadValues(t *testing.T) {
	e := New(Config{})
	uart := newFakeAdapter()
	require.NoError(t, e.Attach("uart1", uart, TransportOptions{}))

	err := e.Write("uart1", "AB", 256, "CD")
	require.ErrorIs(t, err, ErrConfiguration)
	require.Equal(t, "AB", uart.written())

	require.ErrorIs(t, e.Write("uart1", -1), ErrConfiguration)
	require.ErrorIs(t, e.Write("uart1", 1.5), ErrConfiguration)
	require.ErrorIs(t, e.Write("nope", "x"), ErrConfiguration)
	require.Equal(t, "AB", uart.written())
}

func TestEngine_WriteFaultIsReturnedAndReported(t *testing.T) {
	e := New(Config{})
	uart := newFakeAdapter()
	uart.writeErr = errors.New("tx stuck")
	require.NoError(t, e.Attach("uart1", uart, TransportOptions{}))

	errs := make(collector, 1)
	require.NoError(t, e.Register("uart1", input.EventError, input.NoSelector, errs.handle))
	runEngine(t, e)

	err := e.Write("uart1", "x")
	require.ErrorIs(t, err, ErrTransport)
	errs.expect(t, "tx stuck")
}

func TestEngine_InteractiveRouting(t *testing.T) {
	lines := make(collector, 4)
	e := New(Config{}, WithInterpreter(Lines(func(l []byte) { lines.handle(l) })))
	console := newFakeAdapter()
	require.NoError(t, e.Attach("console", console, TransportOptions{Console: true}))
	ctx := runEngine(t, e)
	require.True(t, e.Interactive())

	// No data handler: input only reaches the interpreter.
	console.feed("print(1)\r\n")
	lines.expect(t, "print(1)")

	records := make(collector, 16)
	var regErr error
	require.NoError(t, e.Do(ctx, func() {
		regErr = e.Register("console", input.EventData, input.Delimiter("\n"), records.handle)
	}))
	require.NoError(t, regErr)
	console.feed("both\n")
	lines.expect(t, "both")
	records.expect(t, "both\n")

	e.SetInteractive(false)
	console.feed("raw\n")
	records.expect(t, "raw\n")
	lines.expectNone(t, 50*time.Millisecond)

	// Segmentation is untouched by the toggle.
	st, err := e.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, input.DelimiterByte('\n').String(), st[0].Mode)
}

func TestEngine_NonConsoleNeverReachesInterpreter(t *testing.T) {
	lines := make(collector, 1)
	e := New(Config{}, WithInterpreter(Lines(func(l []byte) { lines.handle(l) })))
	uart := newFakeAdapter()
	require.NoError(t, e.Attach("uart1", uart, TransportOptions{}))
	records := make(collector, 1)
	require.NoError(t, e.Register("uart1", input.EventData, input.Delimiter("\n"), records.handle))
	runEngine(t, e)

	uart.feed("cmd\n")
	records.expect(t, "cmd\n")
	lines.expectNone(t, 30*time.Millisecond)
}

func TestEngine_AttachRules(t *testing.T) {
	e := New(Config{})
	require.NoError(t, e.Attach("uart1", newFakeAdapter(), TransportOptions{}))
	require.ErrorIs(t, e.Attach("uart1", newFakeAdapter(), TransportOptions{}), ErrConfiguration)
	require.ErrorIs(t, e.Register("uart9", input.EventData, input.NoSelector, func([]byte) {}), ErrConfiguration)

	runEngine(t, e)
	require.Eventually(t, func() bool { return e.started.Load() }, time.Second, time.Millisecond)
	require.ErrorIs(t, e.Attach("uart2", newFakeAdapter(), TransportOptions{}), ErrStarted)
	require.Equal(t, []string{"uart1"}, e.Transports())
}

func TestEngine_MaxRecordSize(t *testing.T) {
	e := New(Config{MaxRecordSize: 16})
	require.NoError(t, e.Attach("uart1", newFakeAdapter(), TransportOptions{}))
	require.NoError(t, e.Attach("uart2", newFakeAdapter(), TransportOptions{MaxCapacity: 1024}))

	require.ErrorIs(t, e.Register("uart1", input.EventData, input.Length(32), func([]byte) {}), input.ErrAllocation)
	require.NoError(t, e.Register("uart2", input.EventData, input.Length(32), func([]byte) {}))
}
