package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"seagoat/pkg/types"
)

// Defaults recommended by the chunking contract: 40 lines per chunk with an
// 8-line overlap so semantic context survives chunk boundaries.
const (
	DefaultChunkLines   = 40
	DefaultChunkOverlap = 8
)

// Chunker splits file text into fixed-line-count overlapping chunks.
type Chunker struct {
	// ChunkLines bounds the number of lines per chunk.
	ChunkLines int
	// ChunkOverlap is the number of lines shared between consecutive chunks.
	ChunkOverlap int
}

// New returns a Chunker configured with the recommended defaults.
func New() *Chunker {
	return &Chunker{ChunkLines: DefaultChunkLines, ChunkOverlap: DefaultChunkOverlap}
}

// NewWithConfig returns a Chunker with explicit line/overlap settings,
// clamping overlap below the chunk size so chunking always advances.
func NewWithConfig(chunkLines, chunkOverlap int) *Chunker {
	if chunkLines <= 0 {
		chunkLines = DefaultChunkLines
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkLines {
		chunkOverlap = DefaultChunkOverlap
	}
	if chunkOverlap >= chunkLines {
		chunkOverlap = chunkLines - 1
	}
	return &Chunker{ChunkLines: chunkLines, ChunkOverlap: chunkOverlap}
}

// Chunk splits raw file bytes into chunks. An empty blob produces zero
// chunks. A blob that is not valid UTF-8 is lossily decoded (invalid byte
// sequences replaced with U+FFFD) purely so any diagnostic logging of the
// resulting UnreadableBlob failure is stable, and yields no chunks.
func (c *Chunker) Chunk(path string, raw []byte, blobID string) ([]*types.Chunk, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	text := string(raw)
	if !utf8.ValidString(text) {
		preview := []rune(toValidUTF8(text))
		if len(preview) > 80 {
			preview = preview[:80]
		}
		return nil, types.NewError(types.KindUnreadableBlob, "chunker.Chunk", fmt.Errorf("lossy preview: %q", string(preview)))
	}

	lines := splitLines(text)
	if len(lines) == 0 {
		return nil, nil
	}

	stride := c.ChunkLines - c.ChunkOverlap
	if stride <= 0 {
		stride = 1
	}

	var chunks []*types.Chunk
	for start := 0; start < len(lines); start += stride {
		end := start + c.ChunkLines
		if end > len(lines) {
			end = len(lines)
		}
		content := strings.Join(lines[start:end], "\n")
		chunks = append(chunks, types.NewChunk(path, start+1, content, blobID))
		if end == len(lines) {
			break
		}
	}

	return chunks, nil
}

// splitLines splits on "\n", retaining trailing blank lines the way
// strings.Split does (a trailing newline yields a trailing empty line).
func splitLines(text string) []string {
	return strings.Split(text, "\n")
}

// toValidUTF8 replaces invalid UTF-8 byte sequences with U+FFFD.
func toValidUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(utf8.RuneError)
			i++
			continue
		}
		b.WriteRune(r)
		i += size
	}
	return b.String()
}
