package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/treemirror/mirror"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "treemirror",
		Short:        "Mirror a remote instance tree from chunked snapshots and diffs",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to treemirror.yaml")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (overrides the config file)")

	cmd.AddCommand(
		newServeCmd(opts),
		newSplitCmd(),
		newPushCmd(),
		newInspectCmd(opts),
	)
	return cmd
}

// loadConfig reads --config when given and applies --log-level.
func (o *rootOptions) loadConfig() (*mirror.Config, error) {
	cfg := mirror.DefaultConfig()
	if o.configPath != "" {
		c, err := mirror.LoadConfigFile(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = c
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// newLogger returns a JSON logger on w at the configured level.
func newLogger(w io.Writer, cfg *mirror.Config) *slog.Logger {
	lvl, _ := mirror.ParseLevel(cfg.LogLevel)
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}
