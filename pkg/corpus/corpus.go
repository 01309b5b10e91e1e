// Package corpus models the immutable passage set the pipeline retrieves
// from. Chunks are produced by the external ingestion pipeline; within one
// index build the core treats them as read-only.
package corpus

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNotFound is returned when a chunk id is not present in the corpus.
var ErrNotFound = errors.New("chunk not found")

// Chunk is one retrievable passage. Immutable for the lifetime of an index
// build; the embedding lives in the vector index, keyed by ID.
type Chunk struct {
	ID           string `json:"chunk_id"`
	Text         string `json:"text"`
	Source       string `json:"source"`
	Page         int    `json:"page,omitempty"`
	Domain       string `json:"domain"`
	ParagraphRef string `json:"paragraph_ref,omitempty"`
}

// Corpus is an ordered set of chunks with a stable content hash. Any change
// to any chunk's text, addition, removal, or reordering changes the hash.
type Corpus struct {
	chunks []Chunk
	byID   map[string]int
	hash   string
}

// New builds a corpus from ordered chunks and computes its hash. Duplicate
// or empty chunk ids are rejected: derived indexes key on them.
func New(chunks []Chunk) (*Corpus, error) {
	byID := make(map[string]int, len(chunks))
	for i, c := range chunks {
		if strings.TrimSpace(c.ID) == "" {
			return nil, fmt.Errorf("chunk %d has empty id", i)
		}
		if _, dup := byID[c.ID]; dup {
			return nil, fmt.Errorf("duplicate chunk id %q", c.ID)
		}
		byID[c.ID] = i
	}
	return &Corpus{
		chunks: chunks,
		byID:   byID,
		hash:   HashChunks(chunks),
	}, nil
}

// Get returns the chunk for id or ErrNotFound.
func (c *Corpus) Get(id string) (Chunk, error) {
	i, ok := c.byID[id]
	if !ok {
		return Chunk{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c.chunks[i], nil
}

// Has reports whether id is present.
func (c *Corpus) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// All returns the ordered chunk slice. Callers must not mutate it.
func (c *Corpus) All() []Chunk {
	return c.chunks
}

// Len returns the number of chunks.
func (c *Corpus) Len() int {
	return len(c.chunks)
}

// Hash returns the stable corpus hash used to invalidate derived indexes.
func (c *Corpus) Hash() string {
	return c.hash
}

// HashChunks digests the ordered tuple (chunk_id, len(text), sha256(text))
// per chunk. Order-sensitive by construction.
func HashChunks(chunks []Chunk) string {
	h := sha256.New()
	var lenBuf [8]byte
	for _, c := range chunks {
		h.Write([]byte(c.ID))
		h.Write([]byte{0})
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(c.Text)))
		h.Write(lenBuf[:])
		textSum := sha256.Sum256([]byte(c.Text))
		h.Write(textSum[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

var spaceRE = regexp.MustCompile(`\s+`)

// NormalizeText collapses whitespace so tokenization and n-gram overlap see
// the same text the index was built from.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimSpace(spaceRE.ReplaceAllString(s, " "))
}

// SafeSnippet truncates text to max runes for user-facing extractive output.
func SafeSnippet(text string, max int) string {
	if max <= 0 {
		max = 600
	}
	masked := maskSecrets(text)
	runes := []rune(masked)
	if len(runes) <= max {
		return masked
	}
	return string(runes[:max]) + "..."
}

// secretPatterns is compiled once at package init; maskSecrets runs on every
// extractive snippet returned to a user.
var secretPatterns = []struct {
	re *regexp.Regexp
	rp string
}{
	{regexp.MustCompile(`(?i)sk-[a-z0-9]{20,}`), "[REDACTED_API_KEY]"},
	{regexp.MustCompile(`(?i)api[_-]?key\s*[:=]\s*[^\s]+`), "api_key=[REDACTED]"},
	{regexp.MustCompile(`(?i)bearer\s+[a-z0-9\-\._~\+/]+=*`), "Bearer [REDACTED]"},
	{regexp.MustCompile(`(?i)password\s*[:=]\s*[^\s]+`), "password=[REDACTED]"},
	{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), "[REDACTED_AWS_KEY]"},
}

func maskSecrets(text string) string {
	out := text
	for _, r := range secretPatterns {
		out = r.re.ReplaceAllString(out, r.rp)
	}
	return out
}
