package chunker

import (
	"context"
	"strings"
	"testing"

	"github.com/brunobiangulo/factextract/store"
)

type fakeChunkStore struct {
	byHash map[string][]store.Chunk
}

func newFakeChunkStore() *fakeChunkStore {
	return &fakeChunkStore{byHash: make(map[string][]store.Chunk)}
}

func (f *fakeChunkStore) ListByHash(ctx context.Context, documentHash string) ([]store.Chunk, error) {
	out := make([]store.Chunk, len(f.byHash[documentHash]))
	copy(out, f.byHash[documentHash])
	return out, nil
}

func (f *fakeChunkStore) Upsert(ctx context.Context, chunk store.Chunk) error {
	chunks := f.byHash[chunk.DocumentHash]
	for i, ch := range chunks {
		if ch.ChunkIndex == chunk.ChunkIndex {
			chunks[i] = chunk
			f.byHash[chunk.DocumentHash] = chunks
			return nil
		}
	}
	f.byHash[chunk.DocumentHash] = append(chunks, chunk)
	return nil
}

func TestSplitEmptyInputIsRejected(t *testing.T) {
	c := New(Config{}, newFakeChunkStore())
	_, err := c.Split(context.Background(), "doc", "   \n\t  ", "")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !IsEmptyInput(err) {
		t.Fatalf("expected IsEmptyInput, got %v", err)
	}
}

func TestSplitSingleWordIsOneChunkAtOffsetZero(t *testing.T) {
	c := New(Config{}, newFakeChunkStore())
	result, err := c.Split(context.Background(), "doc", "hello", "")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(result.Chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(result.Chunks))
	}
	ch := result.Chunks[0]
	if ch.StartOffset != 0 {
		t.Errorf("StartOffset = %d, want 0", ch.StartOffset)
	}
	if ch.Content != "hello" {
		t.Errorf("Content = %q", ch.Content)
	}
}

func TestSplitDefaultsAreApplied(t *testing.T) {
	c := New(Config{}, newFakeChunkStore())
	if c.cfg.SizeWords != 750 {
		t.Errorf("SizeWords = %d, want 750", c.cfg.SizeWords)
	}
	if c.cfg.OverlapWords != 50 {
		t.Errorf("OverlapWords = %d, want 50", c.cfg.OverlapWords)
	}
}

func TestSplitPrefersHeadingBoundary(t *testing.T) {
	// Two sections separated by a markdown heading; a chunk size landing
	// inside the tolerance window of the heading should cut there rather
	// than mid-paragraph, since a heading is a stronger boundary.
	first := strings.Repeat("alpha ", 38)
	text := strings.TrimSpace(first) + "\n## Section Two\n" + strings.Repeat("beta ", 10)

	c := New(Config{SizeWords: 40, OverlapWords: 0}, newFakeChunkStore())
	result, err := c.Split(context.Background(), "doc", text, "")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(result.Chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(result.Chunks))
	}
	if strings.Contains(result.Chunks[0].Content, "Section Two") {
		t.Errorf("expected first chunk to end before the heading, got: %q", result.Chunks[0].Content)
	}
}

func TestSplitPrefersParagraphBoundary(t *testing.T) {
	// Build two paragraphs: first ~40 words, second ~10 words, so a chunk
	// size of 40 should cut right at the paragraph break rather than
	// mid-sentence in the second paragraph.
	first := strings.Repeat("alpha ", 40)
	second := strings.Repeat("beta ", 10)
	text := strings.TrimSpace(first) + "\n\n" + strings.TrimSpace(second)

	c := New(Config{SizeWords: 40, OverlapWords: 0}, newFakeChunkStore())
	result, err := c.Split(context.Background(), "doc", text, "")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(result.Chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(result.Chunks))
	}
	if strings.Contains(result.Chunks[0].Content, "beta") {
		t.Errorf("first chunk bled into second paragraph: %q", result.Chunks[0].Content)
	}
}

func TestSplitOverlapCarriesWordsIntoNextChunk(t *testing.T) {
	words := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		words = append(words, "w"+string(rune('a'+i%26)))
	}
	text := strings.Join(words, " ")

	c := New(Config{SizeWords: 30, OverlapWords: 10}, newFakeChunkStore())
	result, err := c.Split(context.Background(), "doc", text, "")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(result.Chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(result.Chunks))
	}

	firstWords := strings.Fields(result.Chunks[0].Content)
	secondWords := strings.Fields(result.Chunks[1].Content)
	tail := firstWords[len(firstWords)-10:]
	head := secondWords[:10]
	for i := range tail {
		if tail[i] != head[i] {
			t.Fatalf("expected overlap, first chunk tail %v != second chunk head %v", tail, head)
		}
	}
}

func TestSplitSkipsCompletedChunksOnResubmit(t *testing.T) {
	fake := newFakeChunkStore()
	c := New(Config{SizeWords: 30, OverlapWords: 0}, fake)
	text := strings.Repeat("word ", 90)

	result, err := c.Split(context.Background(), "doc", text, "")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(result.Chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(result.Chunks))
	}

	// Mark the first chunk complete, as the pipeline would after extraction.
	docHash := result.DocumentHash
	chunks := fake.byHash[docHash]
	chunks[0].AllFactsExtracted = true
	fake.byHash[docHash] = chunks

	again, err := c.Split(context.Background(), "doc", text, "")
	if err != nil {
		t.Fatalf("second Split: %v", err)
	}
	if again.AlreadyComplete {
		t.Fatal("should not be fully complete, only the first chunk is")
	}
	for _, ch := range again.Chunks {
		if ch.ChunkIndex == 0 {
			t.Fatal("completed chunk 0 should not be re-returned for processing")
		}
	}
}

func TestSplitAlreadyCompleteShortCircuits(t *testing.T) {
	fake := newFakeChunkStore()
	c := New(Config{SizeWords: 30, OverlapWords: 0}, fake)
	text := "hello world"

	result, err := c.Split(context.Background(), "doc", text, "")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	docHash := result.DocumentHash
	chunks := fake.byHash[docHash]
	for i := range chunks {
		chunks[i].AllFactsExtracted = true
	}
	fake.byHash[docHash] = chunks

	again, err := c.Split(context.Background(), "doc", text, "")
	if err != nil {
		t.Fatalf("second Split: %v", err)
	}
	if !again.AlreadyComplete {
		t.Fatal("expected AlreadyComplete")
	}
	if len(again.Chunks) != 0 {
		t.Errorf("expected no pending chunks, got %d", len(again.Chunks))
	}
}

func TestDocumentHashIsStableAndContentSensitive(t *testing.T) {
	h1 := DocumentHash("abc")
	h2 := DocumentHash("abc")
	h3 := DocumentHash("abd")
	if h1 != h2 {
		t.Error("hash should be stable for identical input")
	}
	if h1 == h3 {
		t.Error("hash should differ for different input")
	}
}
