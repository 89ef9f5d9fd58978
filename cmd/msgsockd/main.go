// Command msgsockd runs a msgsock service and offers a small client for
// talking to one.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "msgsockd",
		Short: "Single-client framed message service over TCP",
		Long: `msgsockd listens for one TCP client at a time and exchanges
length-prefixed text messages with it. Additional clients are
disconnected while one is active.`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a config file (yaml, toml or json)")
	rootCmd.PersistentFlags().String("log-level", "info", "Minimum log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format: text or json")
	mustBind(v, "log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBind(v, "log.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(
		serveCmd(v),
		sendCmd(v),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
