// Package pipeline implements the per-document processing coordinator: it
// fans extraction and verification out across chunks with a bounded
// semaphore, owns the exponential backoff for rate-limited LLM calls, and
// routes each verified or rejected decision through the consistency layer.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/brunobiangulo/factextract/consistency"
	"github.com/brunobiangulo/factextract/extract"
	"github.com/brunobiangulo/factextract/store"
	"github.com/brunobiangulo/factextract/verify"
)

// Embedder produces embeddings for verified fact statements.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// RetryClassifier distinguishes rate-limited/timeout/transient LLM errors
// (retried with backoff) from permanent ones (not retried). Satisfied by
// the llm package's IsRateLimited/IsTimeout/IsTransient/IsRetryable helpers
// without requiring an import of the llm package itself.
type RetryClassifier struct {
	IsRetryable func(error) bool
}

// Config controls concurrency and retry behaviour.
type Config struct {
	MaxConcurrentChunks int
	LLMTimeoutS         float64
	MaxRetries          int
	BackoffBaseS        float64
}

// Report summarizes the outcome of processing a document's pending chunks.
type Report struct {
	ChunksProcessed      int
	CandidatesExtracted  int
	Verified             int
	Rejected             int
	Errors               []string
	AlreadyComplete      bool
}

// Coordinator drives the per-chunk state machine: PENDING -> EXTRACTING ->
// (NO_CANDIDATES | HAS_CANDIDATES) -> VERIFYING -> DONE | ERROR.
type Coordinator struct {
	chunks      *store.ChunkStore
	extractor   *extract.Extractor
	verifier    *verify.Verifier
	embedder    Embedder
	consistency *consistency.Layer
	retry       RetryClassifier
	cfg         Config
}

// New returns a Coordinator wired to its collaborators. Zero-value Config
// fields fall back to the spec's defaults.
func New(chunks *store.ChunkStore, extractor *extract.Extractor, verifier *verify.Verifier, embedder Embedder, layer *consistency.Layer, retry RetryClassifier, cfg Config) *Coordinator {
	if cfg.MaxConcurrentChunks <= 0 {
		cfg.MaxConcurrentChunks = 5
	}
	if cfg.LLMTimeoutS <= 0 {
		cfg.LLMTimeoutS = 60
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BackoffBaseS <= 0 {
		cfg.BackoffBaseS = 2
	}
	return &Coordinator{
		chunks:      chunks,
		extractor:   extractor,
		verifier:    verifier,
		embedder:    embedder,
		consistency: layer,
		retry:       retry,
		cfg:         cfg,
	}
}

// ProcessDocument runs extraction and verification over pending, each chunk
// bounded by the configured concurrency. Chunks complete independently; a
// per-chunk failure is contained and recorded rather than aborting the
// document.
func (c *Coordinator) ProcessDocument(ctx context.Context, documentName string, pending []store.Chunk) Report {
	if len(pending) == 0 {
		return Report{AlreadyComplete: true}
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		sem    = make(chan struct{}, c.cfg.MaxConcurrentChunks)
		report Report
	)

	for _, chunk := range pending {
		wg.Add(1)
		go func(chunk store.Chunk) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				report.Errors = append(report.Errors, fmt.Sprintf("chunk %d: %v", chunk.ChunkIndex, ctx.Err()))
				mu.Unlock()
				return
			}

			outcome := c.processChunk(ctx, chunk)

			mu.Lock()
			report.ChunksProcessed++
			report.CandidatesExtracted += outcome.candidates
			report.Verified += outcome.verified
			report.Rejected += outcome.rejected
			if outcome.err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("chunk %d: %v", chunk.ChunkIndex, outcome.err))
			}
			mu.Unlock()
		}(chunk)
	}

	wg.Wait()
	return report
}

type chunkOutcome struct {
	candidates int
	verified   int
	rejected   int
	err        error
}

// processChunk runs extraction, then verifies every candidate, committing
// each decision through the consistency layer. all_facts_extracted is set
// only once every candidate has been decided.
func (c *Coordinator) processChunk(ctx context.Context, chunk store.Chunk) chunkOutcome {
	key := store.ChunkKey{DocumentHash: chunk.DocumentHash, ChunkIndex: chunk.ChunkIndex}
	processing := store.ChunkStatusProcessing
	if err := c.chunks.SetStatus(ctx, key, processing, nil, nil, nil); err != nil {
		return chunkOutcome{err: fmt.Errorf("marking processing: %w", err)}
	}

	candidates, err := c.retryExtract(ctx, chunk.Content)
	if err != nil {
		return c.failChunk(ctx, key, fmt.Errorf("extraction: %w", err))
	}

	containsFacts := len(candidates) > 0
	outcome := chunkOutcome{candidates: len(candidates)}

	for _, statement := range candidates {
		result, err := c.retryVerify(ctx, statement, chunk.Content)
		if err != nil {
			slog.Warn("pipeline: verification failed for one candidate, continuing chunk",
				"document_hash", chunk.DocumentHash, "chunk_index", chunk.ChunkIndex, "error", err)
			outcome.err = fmt.Errorf("verification: %w", err)
			continue
		}

		fact := store.Fact{
			Statement:        statement,
			DocumentName:     chunk.DocumentName,
			SourceChunkIndex: chunk.ChunkIndex,
			OriginalText:     chunk.Content,
		}

		if result.Decision == verify.Verified {
			fact.VerificationStatus = store.VerificationStatusVerified
			fact.VerificationReason = result.Reason
			if err := c.commitVerified(ctx, fact); err != nil {
				outcome.err = err
				continue
			}
			outcome.verified++
		} else {
			fact.VerificationStatus = store.VerificationStatusRejected
			fact.VerificationReason = result.Reason
			if _, _, err := c.consistency.CommitRejected(ctx, fact); err != nil {
				outcome.err = fmt.Errorf("committing rejected fact: %w", err)
				continue
			}
			outcome.rejected++
		}
	}

	status := store.ChunkStatusProcessed
	allExtracted := outcome.err == nil
	if outcome.err != nil {
		status = store.ChunkStatusError
	}
	errMsg := ""
	if outcome.err != nil {
		errMsg = outcome.err.Error()
	}
	if err := c.chunks.SetStatus(ctx, key, status, &containsFacts, &allExtracted, &errMsg); err != nil {
		outcome.err = fmt.Errorf("marking done: %w", err)
	}

	return outcome
}

func (c *Coordinator) commitVerified(ctx context.Context, fact store.Fact) error {
	vecs, err := c.embedder.Embed(ctx, []string{fact.Statement})
	if err != nil || len(vecs) == 0 {
		return fmt.Errorf("embedding verified fact: %w", err)
	}
	meta := store.VectorMetadata{DocumentName: fact.DocumentName, ChunkIndex: fact.SourceChunkIndex}
	if _, _, err := c.consistency.CommitVerified(ctx, fact, vecs[0], meta); err != nil {
		return fmt.Errorf("committing verified fact: %w", err)
	}
	return nil
}

func (c *Coordinator) failChunk(ctx context.Context, key store.ChunkKey, err error) chunkOutcome {
	status := store.ChunkStatusError
	allExtracted := false
	msg := err.Error()
	if setErr := c.chunks.SetStatus(ctx, key, status, nil, &allExtracted, &msg); setErr != nil {
		slog.Error("pipeline: failed to record chunk error", "error", setErr)
	}
	return chunkOutcome{err: err}
}

// retryExtract calls the extractor, retrying rate-limit/timeout/transient
// failures with the spec's exponential backoff (2,4,8,16,32 seconds,
// max 5 retries). Parse errors and other permanent failures are not
// retried.
func (c *Coordinator) retryExtract(ctx context.Context, content string) ([]string, error) {
	return withRetry(ctx, c.cfg, c.retry, func() ([]string, error) {
		return c.extractor.Extract(ctx, content, c.cfg.LLMTimeoutS)
	})
}

func (c *Coordinator) retryVerify(ctx context.Context, statement, originalText string) (verify.Result, error) {
	return withRetry(ctx, c.cfg, c.retry, func() (verify.Result, error) {
		return c.verifier.Verify(ctx, statement, originalText, c.cfg.LLMTimeoutS)
	})
}

// withRetry applies exponential backoff base^n seconds (n starting at 1)
// to retryable errors only, up to cfg.MaxRetries retries after the first
// attempt.
func withRetry[T any](ctx context.Context, cfg Config, retry RetryClassifier, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		retryable := retry.IsRetryable != nil && retry.IsRetryable(err)
		if !retryable || attempt == cfg.MaxRetries {
			return zero, err
		}

		wait := time.Duration(math.Pow(cfg.BackoffBaseS, float64(attempt+1))) * time.Second
		slog.Warn("pipeline: retrying after transient LLM error",
			"attempt", attempt+1, "wait", wait, "error", err)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	return zero, lastErr
}
