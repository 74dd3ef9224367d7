package factextract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brunobiangulo/factextract/chunker"
	"github.com/brunobiangulo/factextract/consistency"
	"github.com/brunobiangulo/factextract/export"
	"github.com/brunobiangulo/factextract/extract"
	"github.com/brunobiangulo/factextract/llm"
	"github.com/brunobiangulo/factextract/pipeline"
	"github.com/brunobiangulo/factextract/reader"
	"github.com/brunobiangulo/factextract/store"
	"github.com/brunobiangulo/factextract/verify"
)

// Report summarizes the outcome of a single submit call.
type Report struct {
	ChunksProcessed     int      `json:"chunks_processed"`
	CandidatesExtracted int      `json:"candidates_extracted"`
	Verified            int      `json:"verified"`
	Rejected            int      `json:"rejected"`
	Errors              []string `json:"errors,omitempty"`
	AlreadyComplete     bool     `json:"already_complete"`
}

// FactWithSimilarity pairs a fact with its cosine similarity to a search
// query.
type FactWithSimilarity struct {
	Fact       store.Fact `json:"fact"`
	Similarity float64    `json:"similarity"`
}

// Result is the outcome of an update_fact call.
type Result struct {
	FactID string `json:"fact_id"`
	Status string `json:"status"`
}

// Engine is the core fact-extraction service: submit documents, read back
// verified facts, search them semantically, edit or move individual facts,
// and purge a document's contribution entirely.
type Engine struct {
	cfg         Config
	store       *store.Store
	readers     *reader.Registry
	chunker     *chunker.Chunker
	chat        llm.Provider
	embed       llm.Provider
	extractor   *extract.Extractor
	verifier    *verify.Verifier
	consistency *consistency.Layer
	coordinator *pipeline.Coordinator
}

// embedAdapter narrows an llm.Provider down to consistency.Embedder /
// pipeline.Embedder's single-method shape.
type embedAdapter struct {
	provider llm.Provider
}

func (a embedAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return a.provider.Embed(ctx, texts)
}

// New wires a fully configured Engine: tabular + vector stores, chunker,
// LLM providers, extractor/verifier, the consistency layer, and the
// pipeline coordinator.
func New(cfg Config) (*Engine, error) {
	cfg = applyDefaults(cfg)

	if err := cfg.ensureDataDir(); err != nil {
		return nil, fmt.Errorf("factextract: creating data dir: %w", err)
	}

	s, err := store.Open(cfg.resolveDBPath(), cfg.EmbeddingDim, cfg.VectorCollection)
	if err != nil {
		return nil, fmt.Errorf("factextract: %w: %v", ErrStoreUnavailable, err)
	}

	chatProvider, err := llm.NewProvider(llm.Config{
		Provider: cfg.Chat.Provider, Model: cfg.Chat.Model, BaseURL: cfg.Chat.BaseURL, APIKey: cfg.Chat.APIKey,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("factextract: %w: chat provider: %v", ErrInvalidConfig, err)
	}

	embedProvider, err := llm.NewProvider(llm.Config{
		Provider: cfg.Embedding.Provider, Model: cfg.Embedding.Model, BaseURL: cfg.Embedding.BaseURL, APIKey: cfg.Embedding.APIKey,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("factextract: %w: embedding provider: %v", ErrInvalidConfig, err)
	}

	return newWithProviders(cfg, s, chatProvider, embedProvider), nil
}

// newWithProviders assembles an Engine from an already-open store and
// already-constructed LLM providers, letting tests substitute fakes for
// both without going through llm.NewProvider.
func newWithProviders(cfg Config, s *store.Store, chatProvider, embedProvider llm.Provider) *Engine {
	embed := embedAdapter{provider: embedProvider}
	layer := consistency.New(s.Facts(), s.RejectedFacts(), s.Vectors(), embed)

	retry := pipeline.RetryClassifier{IsRetryable: llm.IsRetryable}
	coordinator := pipeline.New(s.Chunks(), extract.New(chatProvider), verify.New(chatProvider), embed, layer, retry, pipeline.Config{
		MaxConcurrentChunks: cfg.MaxConcurrentChunks,
		LLMTimeoutS:         cfg.LLMTimeoutS,
		MaxRetries:          cfg.MaxRetries,
		BackoffBaseS:        cfg.BackoffBaseS,
	})

	return &Engine{
		cfg:         cfg,
		store:       s,
		readers:     reader.NewRegistry(),
		chunker:     chunker.New(chunker.Config{SizeWords: cfg.ChunkSizeWords, OverlapWords: cfg.ChunkOverlapWords}, s.Chunks()),
		chat:        chatProvider,
		embed:       embedProvider,
		extractor:   extract.New(chatProvider),
		verifier:    verify.New(chatProvider),
		consistency: layer,
		coordinator: coordinator,
	}
}

// applyDefaults fills zero-valued fields from DefaultConfig, leaving any
// field the caller set explicitly untouched.
func applyDefaults(cfg Config) Config {
	d := DefaultConfig()
	if cfg.DataDir == "" {
		cfg.DataDir = d.DataDir
	}
	if cfg.Chat.Provider == "" {
		cfg.Chat = d.Chat
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding = d.Embedding
	}
	if cfg.ChunkSizeWords == 0 {
		cfg.ChunkSizeWords = d.ChunkSizeWords
	}
	if cfg.ChunkOverlapWords == 0 {
		cfg.ChunkOverlapWords = d.ChunkOverlapWords
	}
	if cfg.MaxConcurrentChunks == 0 {
		cfg.MaxConcurrentChunks = d.MaxConcurrentChunks
	}
	if cfg.LLMTimeoutS == 0 {
		cfg.LLMTimeoutS = d.LLMTimeoutS
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = d.MaxRetries
	}
	if cfg.BackoffBaseS == 0 {
		cfg.BackoffBaseS = d.BackoffBaseS
	}
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = d.EmbeddingDim
	}
	if cfg.VectorCollection == "" {
		cfg.VectorCollection = d.VectorCollection
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = d.LogLevel
	}
	return cfg
}

// Close releases the underlying store's resources.
func (e *Engine) Close() error {
	return e.store.Close()
}

// ReadDocument loads a file from disk via the registered DocumentReader for
// its extension, returning its text and a detected document name.
func (e *Engine) ReadDocument(ctx context.Context, path string) (text, detectedName string, err error) {
	text, detectedName, err = e.readers.Read(ctx, path)
	if reader.IsUnsupportedFormat(err) {
		return "", "", fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	return text, detectedName, err
}

// Export regenerates the three reference columnar files (all_chunks,
// all_facts, rejected_facts) under the engine's data directory.
func (e *Engine) Export(ctx context.Context) error {
	return export.WriteAll(ctx, e.cfg.DataDir, e.store)
}

// Submit chunks raw_text, extracts and verifies candidate facts for every
// pending chunk, and commits decisions through the consistency layer. A
// resubmission of already fully processed content is a no-op, reported via
// AlreadyComplete rather than an error.
func (e *Engine) Submit(ctx context.Context, documentName, rawText, sourceURI string) (Report, error) {
	result, err := e.chunker.Split(ctx, documentName, rawText, sourceURI)
	if err != nil {
		if chunker.IsEmptyInput(err) {
			return Report{}, fmt.Errorf("%w", ErrEmptyInput)
		}
		return Report{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if result.AlreadyComplete {
		return Report{AlreadyComplete: true}, nil
	}

	if err := e.store.Documents().Upsert(ctx, store.Document{
		DocumentName: documentName,
		DocumentHash: result.DocumentHash,
		SourceURI:    sourceURI,
	}); err != nil {
		slog.Warn("factextract: recording document metadata failed, continuing", "error", err)
	}

	pr := e.coordinator.ProcessDocument(ctx, documentName, result.Chunks)

	if e.cfg.ExportOnSubmit {
		if err := export.WriteAll(ctx, e.cfg.DataDir, e.store); err != nil {
			slog.Warn("factextract: export after submit failed", "error", err)
		}
	}

	return Report{
		ChunksProcessed:     pr.ChunksProcessed,
		CandidatesExtracted: pr.CandidatesExtracted,
		Verified:            pr.Verified,
		Rejected:            pr.Rejected,
		Errors:              pr.Errors,
	}, nil
}

// GetFacts returns a snapshot of facts, optionally scoped to a document and
// optionally including rejected facts.
func (e *Engine) GetFacts(ctx context.Context, documentName string, verifiedOnly bool) ([]store.Fact, error) {
	var facts []store.Fact
	var err error
	if documentName != "" {
		facts, err = e.store.Facts().GetByDocument(ctx, documentName)
	} else {
		facts, err = e.store.Facts().GetAll(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if verifiedOnly {
		return facts, nil
	}

	var rejected []store.Fact
	if documentName != "" {
		rejected, err = e.store.RejectedFacts().GetByDocument(ctx, documentName)
	} else {
		rejected, err = e.store.RejectedFacts().GetAll(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return append(facts, rejected...), nil
}

// Search embeds query and performs a k-nearest-neighbor lookup against the
// verified store only, hydrating each hit against the tabular side and
// dropping (with a logged warning) any vector entry whose fact_id is no
// longer present there.
func (e *Engine) Search(ctx context.Context, query string, k int) ([]FactWithSimilarity, error) {
	vecs, err := e.embed.Embed(ctx, []string{query})
	if err != nil || len(vecs) == 0 {
		return nil, fmt.Errorf("%w: embedding query: %v", ErrStoreUnavailable, err)
	}

	hits, err := e.store.Vectors().Query(ctx, vecs[0], k)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	results := make([]FactWithSimilarity, 0, len(hits))
	for _, hit := range hits {
		fact, ok, err := e.store.Facts().GetByID(ctx, hit.FactID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if !ok {
			slog.Warn("factextract: dropping orphan vector entry on search", "fact_id", hit.FactID)
			continue
		}
		results = append(results, FactWithSimilarity{Fact: fact, Similarity: hit.Similarity})
	}
	return results, nil
}

// UpdateFact edits a fact's statement and/or moves it between the verified
// and rejected stores, entirely through the consistency layer so the
// invariants in the data model always hold afterward.
func (e *Engine) UpdateFact(ctx context.Context, factID string, newStatement, newStatus *string, reason string) (Result, error) {
	if newStatement != nil {
		if err := e.consistency.EditStatement(ctx, factID, *newStatement); err != nil {
			return Result{}, translateConsistencyErr(err)
		}
	}

	status := ""
	if newStatus != nil {
		switch *newStatus {
		case store.VerificationStatusVerified:
			if err := e.consistency.Flip(ctx, factID, false, reason); err != nil {
				return Result{}, translateConsistencyErr(err)
			}
			status = store.VerificationStatusVerified
		case store.VerificationStatusRejected:
			if err := e.consistency.Flip(ctx, factID, true, reason); err != nil {
				return Result{}, translateConsistencyErr(err)
			}
			status = store.VerificationStatusRejected
		default:
			return Result{}, fmt.Errorf("%w: unrecognized status %q", ErrInvalidConfig, *newStatus)
		}
	}

	return Result{FactID: factID, Status: status}, nil
}

// PurgeDocument removes every chunk, fact, rejected fact, and vector entry
// belonging to documentName, returning the number of fact rows removed.
func (e *Engine) PurgeDocument(ctx context.Context, documentName string) (int, error) {
	removedVerified, err := e.store.Facts().DeleteByDocument(ctx, documentName)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	for _, f := range removedVerified {
		if err := e.store.Vectors().Delete(ctx, f.FactID); err != nil {
			slog.Warn("factextract: purge: vector delete failed", "fact_id", f.FactID, "error", err)
		}
	}

	removedRejected, err := e.store.RejectedFacts().DeleteByDocument(ctx, documentName)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if _, err := e.store.Chunks().DeleteByDocument(ctx, documentName); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.store.Documents().DeleteByName(ctx, documentName); err != nil {
		slog.Warn("factextract: purge: document metadata delete failed", "error", err)
	}

	return len(removedVerified) + len(removedRejected), nil
}

func translateConsistencyErr(err error) error {
	if consistency.IsViolation(err) {
		return fmt.Errorf("%w: %v", ErrConsistencyViolation, err)
	}
	if strings.Contains(err.Error(), "fact not found") {
		return fmt.Errorf("%w: %v", ErrFactNotFound, err)
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
