package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCmd(configPath *string) *cobra.Command {
	var jsonOutput bool
	var offline bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show vector store and model statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd.Context(), cmd, *configPath, jsonOutput, offline)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use static hash embeddings instead of Ollama")

	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, configPath string, jsonOutput, offline bool) error {
	p, err := buildPipeline(ctx, configPath, pipelineOptions{offline: offline})
	if err != nil {
		return err
	}
	defer p.close()

	stats, err := p.svc.Stats(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "Vector Store")
	fmt.Fprintln(w, "============")
	fmt.Fprintf(w, "Collection: %s\n", stats.VectorStore.CollectionName)
	fmt.Fprintf(w, "Documents:  %d\n", stats.VectorStore.DocumentCount)
	fmt.Fprintf(w, "Path:       %s\n", stats.VectorStore.DBPath)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Embedding Model")
	fmt.Fprintln(w, "===============")
	fmt.Fprintf(w, "Model:      %s\n", stats.EmbeddingModel.ModelName)
	fmt.Fprintf(w, "Dimensions: %d\n", stats.EmbeddingModel.EmbeddingDimension)
	fmt.Fprintf(w, "Device:     %s\n", stats.EmbeddingModel.Device)
	return nil
}

func newClearCmd(configPath *string) *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every indexed document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runClear(cmd.Context(), cmd, *configPath, offline)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Use static hash embeddings instead of Ollama")

	return cmd
}

func runClear(ctx context.Context, cmd *cobra.Command, configPath string, offline bool) error {
	p, err := buildPipeline(ctx, configPath, pipelineOptions{offline: offline})
	if err != nil {
		return err
	}
	defer p.close()

	if err := p.svc.Clear(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Vector store cleared")
	return nil
}
