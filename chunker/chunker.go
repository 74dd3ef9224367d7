// Package chunker splits raw document text into word-bounded, overlapping
// chunks and deduplicates the split against a ChunkStore by document hash.
package chunker

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/brunobiangulo/factextract/store"
)

// Config controls the chunking behaviour.
type Config struct {
	SizeWords    int // Target words per chunk.
	OverlapWords int // Word overlap between consecutive chunks.
}

// ChunkStore is the subset of store.ChunkStore the chunker needs to
// deduplicate a split against previously persisted chunks.
type ChunkStore interface {
	ListByHash(ctx context.Context, documentHash string) ([]store.Chunk, error)
	Upsert(ctx context.Context, chunk store.Chunk) error
}

// Chunker splits documents into chunks, keyed and deduplicated by
// document content hash.
type Chunker struct {
	cfg     Config
	chunks  ChunkStore
}

// New returns a Chunker with the given configuration and backing store.
// Zero-value fields are replaced with the spec's defaults.
func New(cfg Config, chunks ChunkStore) *Chunker {
	if cfg.SizeWords == 0 {
		cfg.SizeWords = 750
	}
	if cfg.OverlapWords == 0 {
		cfg.OverlapWords = 50
	}
	return &Chunker{cfg: cfg, chunks: chunks}
}

// Result is the outcome of a Split call.
type Result struct {
	Chunks          []store.Chunk
	AlreadyComplete bool
	DocumentHash    string
}

// DocumentHash returns the hex-encoded MD5 digest of raw text, used as the
// document's internal identity for dedup purposes.
func DocumentHash(rawText string) string {
	sum := md5.Sum([]byte(rawText))
	return hex.EncodeToString(sum[:])
}

// Split computes the document hash, checks ChunkStore for a prior complete
// pass, and otherwise splits rawText into chunks and idempotently upserts
// the ones that still need processing. It returns only the chunks that
// require extraction.
func (c *Chunker) Split(ctx context.Context, documentName, rawText, sourceURI string) (Result, error) {
	trimmed := strings.TrimSpace(rawText)
	if trimmed == "" {
		return Result{}, fmt.Errorf("chunker: %w", errEmptyInput)
	}

	documentHash := DocumentHash(rawText)

	existing, err := c.chunks.ListByHash(ctx, documentHash)
	if err != nil {
		return Result{}, fmt.Errorf("chunker: listing existing chunks: %w", err)
	}
	if len(existing) > 0 && allExtracted(existing) {
		return Result{AlreadyComplete: true, DocumentHash: documentHash}, nil
	}

	existingByIndex := make(map[int]store.Chunk, len(existing))
	for _, ch := range existing {
		existingByIndex[ch.ChunkIndex] = ch
	}

	windows := splitWords(rawText, c.cfg.SizeWords, c.cfg.OverlapWords)

	now := time.Now().UTC()
	pending := make([]store.Chunk, 0, len(windows))
	for i, w := range windows {
		if prior, ok := existingByIndex[i]; ok && prior.AllFactsExtracted {
			continue
		}

		ch := store.Chunk{
			DocumentName: documentName,
			DocumentHash: documentHash,
			ChunkIndex:   i,
			Content:      w.text,
			StartOffset:  w.start,
			Status:       store.ChunkStatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := c.chunks.Upsert(ctx, ch); err != nil {
			return Result{}, fmt.Errorf("chunker: upserting chunk %d: %w", i, err)
		}
		pending = append(pending, ch)
	}

	_ = sourceURI // carried by the caller into document metadata, not the split itself

	return Result{Chunks: pending, DocumentHash: documentHash}, nil
}

func allExtracted(chunks []store.Chunk) bool {
	for _, ch := range chunks {
		if !ch.AllFactsExtracted {
			return false
		}
	}
	return true
}

// errEmptyInput is a package-local sentinel; the root factextract package
// re-exports its own ErrEmptyInput and maps this one onto it at the call
// site so the chunker package stays free of an import cycle.
var errEmptyInput = fmt.Errorf("empty input")

// IsEmptyInput reports whether err originated from an empty raw_text split.
func IsEmptyInput(err error) bool {
	return err != nil && strings.Contains(err.Error(), errEmptyInput.Error())
}

// wordWindow is one chunk's worth of text plus its byte offset into the
// original document.
type wordWindow struct {
	text  string
	start int
}

// word is a single whitespace-delimited token with its byte span and the
// strength of the boundary that precedes it (see boundary constants).
type word struct {
	start, end int
	boundary   int
}

const (
	boundaryNone = iota
	boundaryWhitespace
	boundarySentence
	boundaryLine
	boundaryParagraph
	boundaryHeading
)

var sentenceEnd = regexp.MustCompile(`[.!?]\s*$`)

// splitWords performs the recursive word-based split described in the
// chunking contract: target sizeWords per chunk, overlapWords of trailing
// context carried into the next chunk, preferring to cut before a heading,
// then at a paragraph break, then a line break, then a sentence break,
// then plain whitespace.
func splitWords(text string, sizeWords, overlapWords int) []wordWindow {
	words := tokenize(text)
	if len(words) == 0 {
		return nil
	}
	if overlapWords >= sizeWords {
		overlapWords = sizeWords / 2
	}

	var windows []wordWindow
	start := 0
	for start < len(words) {
		end := findCut(words, start, sizeWords)
		if end <= start {
			end = start + 1
		}

		winStart := words[start].start
		winEnd := words[end-1].end
		windows = append(windows, wordWindow{
			text:  text[winStart:winEnd],
			start: winStart,
		})

		if end >= len(words) {
			break
		}
		next := end - overlapWords
		if next <= start {
			next = end
		}
		start = next
	}
	return windows
}

// findCut picks the end index (exclusive) of the next chunk starting at
// start, scanning a tolerance window on both sides of the ideal cut point
// (start+sizeWords) for the strongest boundary (the earliest one wins a
// tie), falling back to an exact word-count cut when no boundary qualifies.
func findCut(words []word, start, sizeWords int) int {
	ideal := start + sizeWords
	if ideal >= len(words) {
		return len(words)
	}

	slack := sizeWords / 5
	if slack < 5 {
		slack = 5
	}
	lo := ideal - slack
	if lo < start+1 {
		lo = start + 1
	}
	hi := ideal + slack
	if hi > len(words) {
		hi = len(words)
	}

	best := -1
	bestBoundary := boundaryNone
	for i := lo; i < hi; i++ {
		if words[i].boundary > bestBoundary {
			bestBoundary = words[i].boundary
			best = i
		}
	}
	if best >= 0 && bestBoundary >= boundarySentence {
		return best
	}
	return ideal
}

// tokenize splits text on whitespace, recording each word's byte span and
// classifying the boundary immediately preceding it.
func tokenize(text string) []word {
	var words []word
	n := len(text)
	i := 0
	boundary := boundaryParagraph // start of document counts as a hard break
	for i < n {
		for i < n && isSpace(text[i]) {
			i++
		}
		if i >= n {
			break
		}
		wordStart := i
		for i < n && !isSpace(text[i]) {
			i++
		}
		words = append(words, word{start: wordStart, end: i, boundary: boundary})
		boundary = classifyGap(text, i, n)
	}
	return words
}

// classifyGap inspects the whitespace run starting at i to classify the
// strength of the boundary that follows the word ending at i.
func classifyGap(text string, i, n int) int {
	gap := i
	newlines := 0
	for gap < n && isSpace(text[gap]) {
		if text[gap] == '\n' {
			newlines++
		}
		gap++
	}
	if newlines >= 1 && IsHeading(nextLine(text, gap, n)) {
		return boundaryHeading
	}
	if newlines >= 2 {
		return boundaryParagraph
	}
	if newlines == 1 {
		return boundaryLine
	}
	if i > 0 && sentenceEnd.MatchString(text[:i]) {
		return boundarySentence
	}
	return boundaryWhitespace
}

// nextLine returns the line of text starting at byte offset i, used to
// check whether a chunk boundary lands on a section heading.
func nextLine(text string, i, n int) string {
	end := i
	for end < n && text[end] != '\n' {
		end++
	}
	return text[i:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}
