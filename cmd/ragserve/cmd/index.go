package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/markerlab/ragserve/internal/chunk"
)

func newIndexCmd(configPath *string) *cobra.Command {
	var clear bool
	var offline bool

	cmd := &cobra.Command{
		Use:   "index <path>...",
		Short: "Index documents into the vector store",
		Long: `Index markdown or JSON block files into the local vector store.

Arguments may be files or directories. Directories are walked
recursively for .md, .markdown and .json files; hidden directories
are skipped. Re-indexing a file replaces its previous chunks.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), cmd, *configPath, args, clear, offline)
		},
	}

	cmd.Flags().BoolVar(&clear, "clear", false, "Clear the collection before indexing")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use static hash embeddings instead of Ollama")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, configPath string, args []string, clear, offline bool) error {
	files, err := collectDocFiles(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no indexable files under %s", strings.Join(args, ", "))
	}

	p, err := buildPipeline(ctx, configPath, pipelineOptions{offline: offline})
	if err != nil {
		return err
	}
	defer p.close()

	if clear {
		if err := p.svc.Clear(ctx); err != nil {
			return err
		}
	}

	w := cmd.OutOrStdout()
	var totalChunks, failed int
	for _, path := range files {
		kind, err := docKind(path)
		if err != nil {
			fmt.Fprintf(w, "  %s: %v\n", path, err)
			failed++
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(w, "  %s: %v\n", path, err)
			failed++
			continue
		}
		report, err := p.svc.Index(ctx, filepath.Base(path), string(content), kind, false)
		if err != nil {
			fmt.Fprintf(w, "  %s: %v\n", path, err)
			failed++
			continue
		}
		fmt.Fprintf(w, "  %s: %d chunks\n", path, report.ChunksCreated)
		totalChunks += report.ChunksCreated
	}

	fmt.Fprintf(w, "Indexed %d of %d files (%d chunks)\n", len(files)-failed, len(files), totalChunks)
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}

// collectDocFiles expands file and directory arguments into a sorted,
// deduplicated list of indexable files.
func collectDocFiles(args []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string

	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if name := d.Name(); strings.HasPrefix(name, ".") && path != arg {
					return filepath.SkipDir
				}
				return nil
			}
			if _, kindErr := docKind(path); kindErr == nil {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Strings(files)
	return files, nil
}

// docKind maps a file extension to a document kind.
func docKind(path string) (chunk.Kind, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return chunk.KindMarkdown, nil
	case ".json":
		return chunk.KindJSONBlocks, nil
	default:
		return "", fmt.Errorf("unsupported file type %q, want .md, .markdown or .json", filepath.Ext(path))
	}
}
