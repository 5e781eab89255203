package chunk

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/markerlab/ragserve/internal/ragerr"
)

// ParseBlocks decodes converter JSON output into blocks.
//
// Two shapes are accepted: a top-level array of block objects, or an
// object with a "blocks" array. Anything else falls back to recursive
// text extraction, which collects "text"/"content" strings in document
// order and yields one block per collected string.
func ParseBlocks(data []byte) ([]Block, error) {
	if len(data) == 0 {
		return nil, ragerr.Validation("empty json-blocks payload")
	}

	var wrapper struct {
		Blocks []Block `json:"blocks"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && len(wrapper.Blocks) > 0 {
		return wrapper.Blocks, nil
	}

	var direct []Block
	if err := json.Unmarshal(data, &direct); err == nil && len(direct) > 0 {
		return direct, nil
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, ragerr.Wrap(ragerr.CodeInvalidInput, err).
			WithDetail("reason", "payload is not valid JSON")
	}

	var texts []string
	collectText(generic, &texts)
	if len(texts) == 0 {
		return nil, nil
	}
	blocks := make([]Block, 0, len(texts))
	for _, t := range texts {
		blocks = append(blocks, Block{Text: t})
	}
	return blocks, nil
}

// collectText walks arbitrary JSON gathering text fields. Map keys are
// visited in sorted order so extraction is deterministic.
func collectText(v any, out *[]string) {
	switch val := v.(type) {
	case string:
		if s := strings.TrimSpace(val); s != "" {
			*out = append(*out, s)
		}
	case map[string]any:
		if s, ok := val["text"].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				*out = append(*out, s)
				return
			}
		}
		if s, ok := val["content"].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				*out = append(*out, s)
				return
			}
		}
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectText(val[k], out)
		}
	case []any:
		for _, item := range val {
			collectText(item, out)
		}
	}
}
