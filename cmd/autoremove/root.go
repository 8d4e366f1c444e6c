package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mohamurshid/AutoRemoveAi/internal/config"
	"github.com/mohamurshid/AutoRemoveAi/pkg/log"
)

type rootOptions struct {
	logLevel string
	logFile  string
	closers  []func() error
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "autoremove",
		Short:         "Remove image backgrounds in batches through a remote removal service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setupLogging()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return opts.close()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	cmd.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "append logs to this file instead of stderr")

	cmd.AddCommand(
		newProcessCmd(opts),
		newServeCmd(opts),
	)
	return cmd
}

// setupLogging installs the global logger before any config is read so that
// config loading itself is logged at the requested level.
func (o *rootOptions) setupLogging() error {
	level := log.ParseLevel(firstNonEmpty(o.logLevel, os.Getenv("LOG_LEVEL"), "info"))
	if o.logFile == "" {
		log.SetLogger(log.NewLoggerTo(os.Stderr, level))
		return nil
	}

	fl, err := log.NewFileLogger(o.logFile, level)
	if err != nil {
		return err
	}
	log.SetLogger(fl.Logger)
	o.closers = append(o.closers, fl.Close)
	return nil
}

// loadConfig reads configuration and applies its log level to the global
// logger unless --log-level was given.
func (o *rootOptions) loadConfig(extra ...config.Option) (*config.Config, error) {
	cfg, err := config.NewFromEnv(append([]config.Option{config.WithLogLevel(o.logLevel)}, extra...)...)
	if err != nil {
		return nil, err
	}
	log.GetLogger().SetLevel(log.ParseLevel(cfg.Log.Level))
	return cfg, nil
}

func (o *rootOptions) close() error {
	var first error
	for _, c := range o.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	o.closers = nil
	return first
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
