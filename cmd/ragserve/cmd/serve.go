package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/markerlab/ragserve/internal/config"
	"github.com/markerlab/ragserve/internal/server"
)

func newServeCmd(configPath *string) *cobra.Command {
	var listenAddr string
	var offline bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the RAG HTTP service",
		Long: `Start the HTTP service exposing the pipeline at /api/rag.

The service answers health, stats, config, index, query and clear
requests until interrupted. Runtime parameters are reloaded when
config.json changes on disk.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configPath, listenAddr, offline)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "Override the configured listen address")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use static hash embeddings instead of Ollama")

	return cmd
}

func runServe(ctx context.Context, configPath, listenAddr string, offline bool) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The generator is probed by /health rather than at startup, so the
	// service comes up even while Ollama is still warming.
	p, err := buildPipeline(ctx, configPath, pipelineOptions{offline: offline})
	if err != nil {
		return err
	}
	defer p.close()

	snap := p.cfg.Get()
	if err := p.cfg.Save(snap.VectorDBPath); err != nil {
		p.logger.Warn("could not persist startup config", "error", err)
	}

	addr := p.serverCfg.ListenAddr
	if listenAddr != "" {
		addr = listenAddr
	}

	watcher := config.NewWatcher(p.cfg, snap.VectorDBPath, p.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return server.New(p.svc, p.logger).Run(ctx, addr)
	})
	return g.Wait()
}
