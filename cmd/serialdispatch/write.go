package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luhtfiimanal/go-serial-dispatch/engine"
	"github.com/luhtfiimanal/go-serial-dispatch/internal/config"
	"github.com/luhtfiimanal/go-serial-dispatch/internal/logging"
)

var writeCmd = &cobra.Command{
	Use:   "write <transport|device> <value>...",
	Short: "Write values to a serial port",
	Long: `Write values to a configured transport or a device path.

Integers (42, 0x2a) are sent as one byte and must be in 0..255. Double-quoted
values are unquoted with Go escapes ("AT\r\n"). Anything else is sent as is.
Values are written in order; an invalid value stops the write there.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runWrite,
}

func init() {
	key := "baud"
	writeCmd.Flags().Int(key, 115200, "baud rate when writing to a device path")
}

func runWrite(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	values, err := parseValues(args[1:])
	if err != nil {
		return err
	}

	target := args[0]
	tc, ok := findTransport(cfg, target)
	if !ok {
		baud, _ := cmd.Flags().GetInt("baud")
		tc = config.TransportConfig{Name: target, Device: target, BaudRate: baud}
	}

	log := logging.New(cfg.Logging, cmd.ErrOrStderr())
	defer log.Sync()

	a, err := openTransport(tc)
	if err != nil {
		return fmt.Errorf("open %s: %w", target, err)
	}
	e := engine.New(engine.Config{}, engine.WithLogger(log))
	defer e.Close()
	if err := e.Attach(tc.Name, a, engine.TransportOptions{Console: tc.Console}); err != nil {
		_ = a.Close()
		return err
	}
	return e.Write(tc.Name, values...)
}

func findTransport(cfg *config.Config, name string) (config.TransportConfig, bool) {
	for _, t := range cfg.Transports {
		if t.Name == name {
			return t, true
		}
	}
	return config.TransportConfig{}, false
}

