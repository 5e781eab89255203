package rag

import (
	"fmt"
	"strings"

	"github.com/markerlab/ragserve/internal/config"
	"github.com/markerlab/ragserve/internal/store"
)

const promptInstruction = "You are a careful assistant answering questions about a document collection. " +
	"Use only the numbered sources below. If they do not contain the answer, " +
	"say that the provided documents do not contain the information. " +
	"Never use outside knowledge."

// BuildPrompt renders the grounded prompt for a query. It is a pure
// function of its inputs: hits appear as numbered sources in the order
// given, each truncated to context_chunk_chars.
func BuildPrompt(query string, hits []store.Hit, snap *config.Snapshot) string {
	var b strings.Builder
	b.WriteString(promptInstruction)
	b.WriteString("\n\n")

	for i, h := range hits {
		fmt.Fprintf(&b, "[Source %d]: %s\n\n", i+1, truncateRunes(h.Chunk.Text, snap.ContextChunkChars))
	}

	b.WriteString("Question: ")
	b.WriteString(query)
	b.WriteString("\n\nAnswer:")
	return b.String()
}

// truncateRunes cuts s to at most max runes.
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
