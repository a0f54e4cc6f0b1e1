package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/treemirror/chunk"
)

type splitOptions struct {
	out      string
	maxBytes int
	id       string
}

func newSplitCmd() *cobra.Command {
	opts := &splitOptions{}
	cmd := &cobra.Command{
		Use:   "split <payload.json>",
		Short: "Cut a payload into fragment files for a spool directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			names, err := writeFragments(opts.out, payload, opts.id, opts.maxBytes)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.out, "out", "o", ".", "directory to write the fragment files into")
	cmd.Flags().IntVar(&opts.maxBytes, "max-bytes", chunk.DefaultFragmentBytes, "maximum text bytes per fragment")
	cmd.Flags().StringVar(&opts.id, "id", "", "transfer id (generated when empty)")
	return cmd
}

// writeFragments writes one <id>_<index>.json file per fragment into dir,
// each through a .tmp rename so a watching spool never reads a partial file.
func writeFragments(dir string, payload []byte, id string, maxBytes int) ([]string, error) {
	frags, err := chunk.Split(payload, id, maxBytes)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("split: mkdir: %w", err)
	}

	names := make([]string, 0, len(frags))
	for _, f := range frags {
		data, err := json.Marshal(f)
		if err != nil {
			return nil, err
		}
		name := fmt.Sprintf("%s_%05d.json", f.ID, f.Index)
		final := filepath.Join(dir, name)
		tmp := final + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return nil, fmt.Errorf("split: write %s: %w", name, err)
		}
		if err := os.Rename(tmp, final); err != nil {
			return nil, fmt.Errorf("split: rename %s: %w", name, err)
		}
		names = append(names, final)
	}
	return names, nil
}
