package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/luhtfiimanal/go-serial-dispatch/internal/config"
)

const Version = "0.3.0"

var (
	rootCmd = &cobra.Command{
		Use:   "serialdispatch",
		Short: "frame serial input into records",
		Long: fmt.Sprintf(`serialdispatch (v%s)

Reads serial ports and the console, splits their byte streams into
fixed-length or delimiter-terminated records and hands them to handlers.
Settings come from a YAML file, .env files and SERIALD_* variables.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of serialdispatch",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "serialdispatch v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(initEnv)

	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	key := "config"
	rootCmd.PersistentFlags().String(key, "", "path to the configuration file (default ./serialdispatch.yaml)")
	key = "log-level"
	rootCmd.PersistentFlags().String(key, "info", "log level (debug, info, warn, error)")
}

// initEnv loads .env files before any configuration is read.
func initEnv() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "warning:", err)
	}
}

// loadConfig reads the configuration, letting the persistent flags override
// file and environment values.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	if err := v.BindPFlag("logging.level", cmd.Flags().Lookup("log-level")); err != nil {
		return nil, err
	}
	path, _ := cmd.Flags().GetString("config")
	return config.Load(v, path)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
