package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/markerlab/ragserve/internal/rag"
)

func newQueryCmd(configPath *string) *cobra.Command {
	var topK int
	var jsonOutput bool
	var withChunks bool
	var offline bool

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Ask a question against the indexed documents",
		Long: `Retrieve the most relevant chunks for the question and generate a
grounded answer. When no indexed content is relevant enough the command
refuses instead of guessing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), cmd, *configPath, args[0], topK, jsonOutput, withChunks, offline)
		},
	}

	cmd.Flags().IntVar(&topK, "top-k", 0, "Number of chunks to retrieve (default: configured top_k)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the full result as JSON")
	cmd.Flags().BoolVar(&withChunks, "chunks", false, "Include the retrieved chunks in the output")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use static hash embeddings instead of Ollama")

	return cmd
}

func runQuery(ctx context.Context, cmd *cobra.Command, configPath, question string, topK int, jsonOutput, withChunks, offline bool) error {
	p, err := buildPipeline(ctx, configPath, pipelineOptions{offline: offline, checkGenerator: true})
	if err != nil {
		return err
	}
	defer p.close()

	result, err := p.svc.Answer(ctx, question, rag.Options{
		TopK:          topK,
		IncludeChunks: withChunks,
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return printQueryResult(cmd, result)
}

func printQueryResult(cmd *cobra.Command, result *rag.QueryResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, result.Answer)
	fmt.Fprintln(w)

	if len(result.Sources) > 0 {
		fmt.Fprintln(w, "Sources:")
		for i, s := range result.Sources {
			heading := s.Heading
			if heading == "" {
				heading = "(no heading)"
			}
			fmt.Fprintf(w, "  %d. %s#%d %s (similarity %.2f)\n", i+1, s.DocID, s.ChunkIndex, heading, s.Similarity)
		}
		fmt.Fprintln(w)
	}

	if len(result.RetrievedChunks) > 0 {
		fmt.Fprintln(w, "Retrieved chunks:")
		for _, c := range result.RetrievedChunks {
			fmt.Fprintf(w, "--- %s#%d (similarity %.2f)\n%s\n", c.DocID, c.ChunkIndex, c.Similarity, c.Text)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Model: %s  Tokens: %d  Confidence: %.2f\n",
		result.ModelID, result.TokensGenerated, result.Confidence)
	return nil
}
