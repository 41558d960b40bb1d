// Command strictdb is the database's command-line front end: a cobra
// root command carrying the shared flags, with a repl subcommand that
// drives an interactive shell against one open engine.Engine.
//
// Grounded on leftmike/maho's cmd package (mahoCmd as a persistent cobra
// root with log-file/log-level/config-file flags, a repl subcommand that
// opens a server and calls into repl.Interact). strictdb has no network
// listener to start, so the root command's pre-run opens the engine
// directly instead of a server, and the repl subcommand just drives the
// shell against it.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"strictdb/config"
	"strictdb/engine"
)

var (
	dataDir    = "data/strictdb"
	configFile = ""
	logFile    = ""
	logLevel   = "info"

	logWriter io.WriteCloser
	eng       *engine.Engine
)

var rootCmd = &cobra.Command{
	Use:               "strictdb",
	Short:             "A single-node relational storage engine",
	Long:              "strictdb is a single-node relational database engine: heap files, a B+ tree index, write-ahead logging, two-phase locking, and crash recovery, driven through a thin command shell.",
	PersistentPreRunE: rootPreRun,
	PersistentPostRun: rootPostRun,
}

func init() {
	fs := rootCmd.PersistentFlags()

	fs.StringVar(&dataDir, "data-dir", dataDir, "`directory` holding the database's files")
	fs.StringVar(&configFile, "config", configFile, "`file` to load HCL configuration from")
	fs.StringVar(&logFile, "log-file", logFile, "`file` to append logs to (default: stderr)")
	fs.StringVar(&logLevel, "log-level", logLevel, "log level: trace, debug, info, warn, error, fatal, or panic")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootPreRun(cmd *cobra.Command, args []string) error {
	if logFile != "" {
		w, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			return fmt.Errorf("strictdb: open log file: %w", err)
		}
		logWriter = w
		logrus.SetOutput(w)
	}
	ll, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("strictdb: %w", err)
	}
	logrus.SetLevel(ll)

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("strictdb: %w", err)
	}

	e, err := engine.Open(dataDir, cfg, logrus.StandardLogger())
	if err != nil {
		return fmt.Errorf("strictdb: open engine at %s: %w", dataDir, err)
	}
	eng = e

	logrus.WithField("pid", os.Getpid()).WithField("data_dir", dataDir).Info("strictdb starting")
	return nil
}

func rootPostRun(cmd *cobra.Command, args []string) {
	if eng != nil {
		if err := eng.Close(); err != nil {
			logrus.WithError(err).Error("close engine")
		}
	}
	logrus.WithField("pid", os.Getpid()).Info("strictdb done")
	if logWriter != nil {
		logWriter.Close()
	}
}
