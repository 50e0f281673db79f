package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	serial "github.com/luhtfiimanal/go-serial-dispatch"
	"github.com/luhtfiimanal/go-serial-dispatch/bridge"
	"github.com/luhtfiimanal/go-serial-dispatch/engine"
	"github.com/luhtfiimanal/go-serial-dispatch/input"
	"github.com/luhtfiimanal/go-serial-dispatch/internal/config"
	"github.com/luhtfiimanal/go-serial-dispatch/internal/httpapi"
	"github.com/luhtfiimanal/go-serial-dispatch/internal/logging"
	"github.com/luhtfiimanal/go-serial-dispatch/metrics"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Attach the configured transports and print their records",
	Long: `Attach every configured transport and print each record it produces.

With a console transport, typed lines are run as commands while the engine
is interactive (type "help"). The HTTP surface, when enabled, serves
/healthz, /metrics, /mode and /transports.`,
	RunE: runListen,
}

func init() {
	key := "http"
	listenCmd.Flags().Bool(key, false, "enable the HTTP control surface")
	key = "http-addr"
	listenCmd.Flags().String(key, "", "HTTP listen address (overrides http.addr)")
	key = "console"
	listenCmd.Flags().Bool(key, false, "attach the console even if no transport in the config is one")
}

func runListen(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if on, _ := cmd.Flags().GetBool("http"); on {
		cfg.HTTP.Enable = true
	}
	if addr, _ := cmd.Flags().GetString("http-addr"); addr != "" {
		cfg.HTTP.Addr = addr
	}
	if on, _ := cmd.Flags().GetBool("console"); on && !hasConsole(cfg) {
		cfg.Transports = append(cfg.Transports, config.TransportConfig{Name: "console", Console: true})
	}
	if len(cfg.Transports) == 0 {
		return fmt.Errorf("no transports configured")
	}

	log := logging.New(cfg.Logging, nil)
	defer log.Sync()

	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	s := &session{out: cmd.OutOrStdout(), log: log}
	e := engine.New(engine.Config{
		Bridge: bridge.Config{
			QueueSize:      cfg.Engine.Bridge.QueueSize,
			HandoffTimeout: cfg.Engine.Bridge.HandoffTimeout,
		},
		MaxRecordSize: cfg.Engine.MaxRecordSize,
	},
		engine.WithLogger(log.Named("engine")),
		engine.WithMetrics(m),
		engine.WithInterpreter(engine.Lines(s.exec)),
	)
	s.eng = e
	e.SetInteractive(cfg.Engine.Interactive)

	if err := attachAll(e, s, cfg.Transports); err != nil {
		_ = e.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var running atomic.Bool
	var srv *httpapi.Server
	if cfg.HTTP.Enable {
		var mh http.Handler
		if cfg.Metrics.Enable {
			mh = metrics.Handler(reg)
		}
		srv = httpapi.New(cfg.HTTP, e, cfg.Metrics.Path, mh, running.Load, log.Named("http"))
		go func() {
			if err := srv.Start(); err != nil {
				log.Error("http server failed", zap.Error(err))
				stop()
			}
		}()
	}

	running.Store(true)
	err = e.Run(ctx)
	running.Store(false)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil && !errors.Is(serr, context.DeadlineExceeded) {
			log.Warn("http shutdown", zap.Error(serr))
		}
	}
	return err
}

func hasConsole(cfg *config.Config) bool {
	for _, t := range cfg.Transports {
		if t.Console {
			return true
		}
	}
	return false
}

// attachAll opens and attaches every transport and binds the printing
// handlers. A console without a selector gets no data handler, so its input
// only reaches the command interpreter.
func attachAll(e *engine.Engine, s *session, transports []config.TransportConfig) error {
	for _, t := range transports {
		a, err := openTransport(t)
		if err != nil {
			return fmt.Errorf("transport %q: %w", t.Name, err)
		}
		if err := e.Attach(t.Name, a, engine.TransportOptions{Console: t.Console, MaxCapacity: t.MaxCapacity}); err != nil {
			_ = a.Close()
			return err
		}
		sel, err := input.ParseSelector(t.Selector)
		if err != nil {
			return fmt.Errorf("transport %q: %w", t.Name, err)
		}
		if t.Console && !sel.IsSet() {
			if err := e.Register(t.Name, input.EventError, input.NoSelector, s.onError(t.Name)); err != nil {
				return err
			}
			continue
		}
		if err := s.bind(t.Name, sel); err != nil {
			return fmt.Errorf("transport %q: %w", t.Name, err)
		}
	}
	return nil
}

func openTransport(t config.TransportConfig) (serial.Adapter, error) {
	if t.Console {
		return serial.OpenConsole(os.Stdin, os.Stdout)
	}
	return serial.Open(serial.Config{
		Device:      t.Device,
		BaudRate:    t.BaudRate,
		ReadTimeout: t.ReadTimeout,
		MaxChunk:    t.MaxChunk,
	})
}
