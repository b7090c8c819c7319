package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
)

// Chunk is an ordered range of lines from one blob, content-addressed so
// that repeating the chunker on identical input yields the identical ID.
type Chunk struct {
	// ID is hex(sha256(Path + sep + StartLine + sep + Content)).
	ID string
	// Path is repository-relative.
	Path string
	// StartLine is 1-based.
	StartLine int
	// LineCount is the number of lines this chunk covers.
	LineCount int
	// Content is the chunk's raw text.
	Content string
	// BlobID is the Git object hash of the file version this chunk was cut from.
	BlobID string
}

// chunkIDSeparator matches no valid path or line-number character, so the
// concatenation used for hashing cannot collide across different (path,
// start line) pairs by construction.
const chunkIDSeparator = "\x00"

// ComputeChunkID derives the stable content-addressed ID for a chunk.
func ComputeChunkID(path string, startLine int, content string) string {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write([]byte(chunkIDSeparator))
	h.Write([]byte(strconv.Itoa(startLine)))
	h.Write([]byte(chunkIDSeparator))
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

// NewChunk builds a Chunk with its ID computed from its identifying fields.
func NewChunk(path string, startLine int, content string, blobID string) *Chunk {
	lineCount := 1
	for _, r := range content {
		if r == '\n' {
			lineCount++
		}
	}
	return &Chunk{
		ID:        ComputeChunkID(path, startLine, content),
		Path:      path,
		StartLine: startLine,
		LineCount: lineCount,
		Content:   content,
		BlobID:    blobID,
	}
}

// EndLine returns the last line this chunk covers, inclusive.
func (c *Chunk) EndLine() int {
	return c.StartLine + c.LineCount - 1
}

// Validate checks the structural invariants of a Chunk.
func (c *Chunk) Validate() error {
	if c.Path == "" {
		return errors.New("chunk path is required")
	}
	if c.StartLine <= 0 {
		return errors.New("chunk start line must be positive")
	}
	if c.Content == "" {
		return errors.New("chunk content cannot be empty")
	}
	if c.ID != ComputeChunkID(c.Path, c.StartLine, c.Content) {
		return errors.New("chunk id does not match its identifying fields")
	}
	return nil
}
