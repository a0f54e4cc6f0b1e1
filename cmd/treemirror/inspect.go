package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/treemirror/mirror"
)

type inspectOptions struct {
	journal string
	path    string
	depth   int
}

func newInspectCmd(root *rootOptions) *cobra.Command {
	opts := &inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Replay a journal offline and print the status or a node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if opts.journal != "" {
				cfg.Journal.Path = opts.journal
			}
			if cfg.Journal.Path == "" {
				return errors.New("inspect: no journal (use --journal or enable it in the config)")
			}
			if _, err := os.Stat(cfg.Journal.Path); err != nil {
				return fmt.Errorf("inspect: %w", err)
			}
			cfg.Journal.Enabled = true
			return inspect(cmd, cfg, opts)
		},
	}
	cmd.Flags().StringVar(&opts.journal, "journal", "", "SQLite journal path")
	cmd.Flags().StringVar(&opts.path, "path", "", "print this node instead of the status")
	cmd.Flags().IntVar(&opts.depth, "depth", 1, "levels of children to print with --path (-1 for all)")
	return cmd
}

func inspect(cmd *cobra.Command, cfg *mirror.Config, opts *inspectOptions) error {
	m, err := mirror.New(cfg, newLogger(cmd.ErrOrStderr(), cfg))
	if err != nil {
		return err
	}
	defer m.Close()

	if _, err := m.Restore(cmd.Context()); err != nil {
		return err
	}

	if opts.path != "" {
		n, err := m.GetNode(opts.path, opts.depth)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), n)
	}

	stats, _, err := m.JournalStats(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]any{
		"status":  m.Status(),
		"journal": stats,
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
