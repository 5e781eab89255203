package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/markerlab/ragserve/internal/config"
	"github.com/markerlab/ragserve/internal/ragerr"
)

// OllamaConfig tunes construction of the Ollama backend. Endpoint and
// model come from the live config snapshot on every request, so config
// updates apply without rebuilding the generator.
type OllamaConfig struct {
	// CheckModel verifies at construction that the configured model is
	// installed.
	CheckModel bool
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response  string `json:"response"`
	EvalCount int    `json:"eval_count"`
	Done      bool   `json:"done"`
}

// OllamaGenerator calls Ollama's /api/generate endpoint with streaming
// disabled.
type OllamaGenerator struct {
	cfg    *config.Store
	client *http.Client
	logger *slog.Logger
}

var _ Generator = (*OllamaGenerator)(nil)

// NewOllamaGenerator creates a generator driven by the config store.
// With CheckModel set it fails fast when the configured model is not
// installed.
func NewOllamaGenerator(ctx context.Context, cfg *config.Store, opts OllamaConfig, logger *slog.Logger) (*OllamaGenerator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g := &OllamaGenerator{
		cfg:    cfg,
		client: &http.Client{},
		logger: logger,
	}
	if opts.CheckModel {
		installed, err := g.modelInstalled(ctx)
		if err != nil {
			return nil, err
		}
		if !installed {
			model := g.ModelID()
			return nil, ragerr.ModelMissing(model).
				WithSuggestion("run `ollama pull " + model + "`")
		}
	}
	return g, nil
}

// target returns the endpoint and model from the current snapshot.
func (g *OllamaGenerator) target() (string, string) {
	snap := g.cfg.Get()
	return strings.TrimSuffix(snap.GeneratorEndpoint, "/"), snap.GeneratorModel
}

// Generate runs one non-streaming completion.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string, params Params) (*Completion, error) {
	endpoint, model := g.target()

	options := map[string]any{
		"temperature": params.Temperature,
	}
	if params.MaxTokens > 0 {
		options["num_predict"] = params.MaxTokens
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:   model,
		Prompt:  prompt,
		Stream:  false,
		Options: options,
	})
	if err != nil {
		return nil, ragerr.Internal("marshal generate request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, ragerr.Internal("build generate request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, ragerr.BackendUnavailable("generator", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, ragerr.ModelMissing(model).WithDetail("body", string(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, ragerr.Newf(ragerr.CodeGenerateFailed, "generate request failed with %s", resp.Status).
			WithDetail("body", string(respBody))
	}

	var result ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, ragerr.Wrap(ragerr.CodeGenerateFailed, err)
	}

	g.logger.Debug("completion generated",
		"model", model,
		"tokens", result.EvalCount,
		"elapsed_ms", time.Since(start).Milliseconds())
	return &Completion{
		Text:            strings.TrimSpace(result.Response),
		TokensGenerated: result.EvalCount,
	}, nil
}

// ModelID returns the currently configured model name.
func (g *OllamaGenerator) ModelID() string {
	return g.cfg.Get().GeneratorModel
}

// Healthy reports whether the backend answers and the model is present.
func (g *OllamaGenerator) Healthy(ctx context.Context) bool {
	installed, err := g.modelInstalled(ctx)
	return err == nil && installed
}

func (g *OllamaGenerator) modelInstalled(ctx context.Context) (bool, error) {
	endpoint, model := g.target()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/api/tags", nil)
	if err != nil {
		return false, ragerr.Internal("build tags request", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return false, ragerr.BackendUnavailable("generator", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false, ragerr.BackendUnavailable("generator", nil).
			WithDetail("status", resp.Status)
	}
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false, ragerr.BackendUnavailable("generator", err)
	}
	want := strings.ToLower(model)
	wantBase := strings.Split(want, ":")[0]
	for _, m := range tags.Models {
		name := strings.ToLower(m.Name)
		if name == want || strings.Split(name, ":")[0] == wantBase {
			return true, nil
		}
	}
	return false, nil
}
