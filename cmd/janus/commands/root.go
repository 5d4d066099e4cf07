// Package commands implements the janus CLI's subcommands.
package commands

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	debug   bool
	log     = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "janus",
	Short: "Janus — Unix-domain datagram IPC client and server",
	Long: `janus drives the Janus datagram protocol: a long-running server
(listen), a one-shot request sender (send), and a stats viewer built on
the server_stats built-in request.`,
	SilenceUsage:  false,
	SilenceErrors: true,
}

// runtimeError marks an error as having occurred after argument parsing
// succeeded, so main can map it to exit code 1 rather than the usage-error
// exit code 2 Cobra uses for flag/argument failures.
type runtimeError struct{ err error }

func (r *runtimeError) Error() string { return r.err.Error() }
func (r *runtimeError) Unwrap() error { return r.err }

// Runtime wraps err so Execute's caller can distinguish a usage error
// (exit 2) from a failure that happened while actually doing the work
// (exit 1).
func Runtime(err error) error {
	if err == nil {
		return nil
	}
	return &runtimeError{err: err}
}

// IsRuntimeError reports whether err was raised via Runtime.
func IsRuntimeError(err error) bool {
	var re *runtimeError
	return errors.As(err, &re)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// PrintErr prints a message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/janus/janus.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(statsCmd)

	cobra.OnInitialize(func() {
		if debug {
			log.SetLevel(logrus.DebugLevel)
		} else {
			log.SetLevel(logrus.InfoLevel)
		}
	})
}
