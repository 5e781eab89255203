package chunk

import (
	"strings"
	"unicode"
)

// EstimateTokens counts whitespace- and punctuation-delimited units.
// A unit is a maximal run of letters or digits, so "don't stop" is three
// tokens. This is a sizing approximation, not a tokenizer.
func EstimateTokens(s string) int {
	count := 0
	inToken := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if !inToken {
				count++
				inToken = true
			}
		} else {
			inToken = false
		}
	}
	return count
}

// splitSentences splits text at sentence-ending punctuation followed by
// whitespace. The terminator stays with its sentence.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		// Consume trailing terminators like "?!" or "...".
		j := i
		for j+1 < len(runes) && (runes[j+1] == '.' || runes[j+1] == '!' || runes[j+1] == '?') {
			j++
		}
		if j+1 < len(runes) && !unicode.IsSpace(runes[j+1]) {
			i = j
			continue
		}
		s := strings.TrimSpace(string(runes[start : j+1]))
		if s != "" {
			sentences = append(sentences, s)
		}
		start = j + 1
		i = j
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

// splitWhitespace splits text into word groups of at most maxTokens units.
func splitWhitespace(text string, maxTokens int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var parts []string
	var cur []string
	curTokens := 0
	for _, w := range words {
		t := EstimateTokens(w)
		if t == 0 {
			t = 1
		}
		if curTokens > 0 && curTokens+t > maxTokens {
			parts = append(parts, strings.Join(cur, " "))
			cur = cur[:0]
			curTokens = 0
		}
		cur = append(cur, w)
		curTokens += t
	}
	if len(cur) > 0 {
		parts = append(parts, strings.Join(cur, " "))
	}
	return parts
}

// truncateBytes cuts s to at most max bytes on a rune boundary.
func truncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !isRuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// tailTokens extracts the trailing overlap tokens of text, rounded to a
// sentence boundary when one fits inside the budget.
func tailTokens(text string, overlap int) string {
	if overlap <= 0 {
		return ""
	}
	sentences := splitSentences(text)

	// Prefer whole sentences from the end.
	total := 0
	start := len(sentences)
	for i := len(sentences) - 1; i >= 0; i-- {
		t := EstimateTokens(sentences[i])
		if total+t > overlap {
			break
		}
		total += t
		start = i
	}
	if start < len(sentences) {
		return strings.Join(sentences[start:], " ")
	}

	// No whole sentence fits; fall back to trailing words.
	words := strings.Fields(text)
	total = 0
	idx := len(words)
	for i := len(words) - 1; i >= 0; i-- {
		t := EstimateTokens(words[i])
		if t == 0 {
			t = 1
		}
		if total+t > overlap {
			break
		}
		total += t
		idx = i
	}
	if idx == len(words) {
		return ""
	}
	return strings.Join(words[idx:], " ")
}
