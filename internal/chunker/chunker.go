// Package chunker splits document text into retrieval-sized segments.
// Paragraph boundaries are preferred, then sentences, then a hard cut
// for pathological runs, with overlap carried between neighbors so
// answers spanning a boundary stay retrievable.
package chunker

import "strings"

// Config controls chunking behavior.
type Config struct {
	ChunkSize int // Target chunk size in characters.
	Overlap   int // Overlap between consecutive chunks in characters.
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize: 1000,
		Overlap:   200,
	}
}

// Split breaks text into chunks of approximately cfg.ChunkSize characters.
func Split(text string, cfg Config) []string {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.Overlap <= 0 || cfg.Overlap >= cfg.ChunkSize {
		cfg.Overlap = cfg.ChunkSize / 5
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= cfg.ChunkSize {
		return []string{text}
	}

	var result []string
	var current strings.Builder

	flush := func() string {
		chunk := strings.TrimSpace(current.String())
		if chunk != "" {
			result = append(result, chunk)
		}
		current.Reset()
		return chunk
	}

	for _, para := range splitParagraphs(text) {
		if len(para) > cfg.ChunkSize {
			flush()
			result = append(result, splitSentenceChunks(para, cfg)...)
			continue
		}

		if current.Len()+len(para) > cfg.ChunkSize && current.Len() > 0 {
			chunk := flush()
			if overlap := overlapTail(chunk, cfg.Overlap); overlap != "" {
				current.WriteString(overlap)
			}
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return result
}

func splitParagraphs(text string) []string {
	parts := strings.Split(text, "\n\n")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// splitSentenceChunks handles paragraphs larger than the target size.
func splitSentenceChunks(text string, cfg Config) []string {
	var result []string
	var current strings.Builder

	for _, sent := range splitSentences(text) {
		// A single oversized sentence gets hard cut.
		if len(sent) > cfg.ChunkSize {
			if current.Len() > 0 {
				result = append(result, strings.TrimSpace(current.String()))
				current.Reset()
			}
			result = append(result, hardSplit(sent, cfg)...)
			continue
		}

		if current.Len()+len(sent) > cfg.ChunkSize && current.Len() > 0 {
			chunk := strings.TrimSpace(current.String())
			result = append(result, chunk)
			current.Reset()
			if overlap := overlapTail(chunk, cfg.Overlap); overlap != "" {
				current.WriteString(overlap)
			}
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sent)
	}
	if current.Len() > 0 {
		result = append(result, strings.TrimSpace(current.String()))
	}
	return result
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for i, r := range text {
		current.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && i+1 < len(text) && text[i+1] == ' ' {
			sentences = append(sentences, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// hardSplit cuts text at fixed offsets, stepping back by the overlap.
func hardSplit(text string, cfg Config) []string {
	var result []string
	step := cfg.ChunkSize - cfg.Overlap
	for start := 0; start < len(text); start += step {
		end := start + cfg.ChunkSize
		if end >= len(text) {
			result = append(result, text[start:])
			break
		}
		result = append(result, text[start:end])
	}
	return result
}

// overlapTail returns the last n characters of text, extended left to
// the nearest word boundary.
func overlapTail(text string, n int) string {
	if len(text) <= n {
		return text
	}
	tail := text[len(text)-n:]
	if idx := strings.IndexByte(tail, ' '); idx >= 0 && idx+1 < len(tail) {
		tail = tail[idx+1:]
	}
	return tail
}
