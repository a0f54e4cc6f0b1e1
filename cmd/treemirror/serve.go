package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/treemirror/mirror"
)

var version = "dev"

type serveOptions struct {
	listen   string
	journal  string
	spool    string
	mcpStdio bool
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the mirror: HTTP and websocket ingestion, queries, metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if opts.listen != "" {
				cfg.Listen = opts.listen
			}
			if opts.journal != "" {
				cfg.Journal.Enabled = true
				cfg.Journal.Path = opts.journal
			}
			if opts.spool != "" {
				cfg.Spool.Dir = opts.spool
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cfg, opts.mcpStdio, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&opts.listen, "listen", "", "HTTP listen address (overrides the config file)")
	cmd.Flags().StringVar(&opts.journal, "journal", "", "enable the replay journal at this SQLite path")
	cmd.Flags().StringVar(&opts.spool, "spool", "", "ingest fragment files dropped into this directory")
	cmd.Flags().BoolVar(&opts.mcpStdio, "mcp-stdio", false, "also serve the query tools over MCP on stdin/stdout")
	return cmd
}

func serve(ctx context.Context, cfg *mirror.Config, mcpStdio bool, logOut io.Writer) error {
	logger := newLogger(logOut, cfg)

	m, err := mirror.New(cfg, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	if n, err := m.Restore(ctx); err != nil {
		// Serve anyway: the next snapshot repopulates the store.
		logger.Error("treemirror: restore failed", "replayed", n, "error", err)
	} else if n > 0 {
		logger.Info("treemirror: restored from journal", "entries", n, "nodes", m.Store().Len())
	}

	errc := make(chan error, 3)

	if cfg.Spool.Dir != "" {
		go func() {
			if err := m.WatchSpool(ctx, cfg.Spool.Dir); err != nil {
				errc <- fmt.Errorf("spool: %w", err)
			}
		}()
	}

	if mcpStdio {
		srv := mcp.NewServer(&mcp.Implementation{Name: "treemirror", Version: version}, nil)
		m.RegisterMCP(srv)
		go func() {
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				errc <- fmt.Errorf("mcp: %w", err)
			}
		}()
	}

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("treemirror: listening", "addr", cfg.Listen, "journal", cfg.Journal.Enabled, "spool", cfg.Spool.Dir)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("treemirror: shutting down")
	case runErr = <-errc:
		logger.Error("treemirror: stopped", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("treemirror: http shutdown", "error", err)
	}
	return runErr
}
