package factextract

import "errors"

var (
	// ErrEmptyInput is returned when submit is called with empty raw_text.
	ErrEmptyInput = errors.New("factextract: empty input")

	// ErrUnsupportedFormat is returned for unrecognized document formats.
	ErrUnsupportedFormat = errors.New("factextract: unsupported document format")

	// ErrRateLimited names the rate-limit failure class. LLM calls report
	// it as an *llm.Error of KindRateLimited, which the Coordinator retries
	// with backoff; this sentinel itself is not returned by the engine.
	ErrRateLimited = errors.New("factextract: LLM rate limited")

	// ErrTimeout names the call-timeout failure class. LLM calls report it
	// as an *llm.Error of KindTimeout, which the Coordinator retries with
	// backoff; this sentinel itself is not returned by the engine.
	ErrTimeout = errors.New("factextract: LLM call timed out")

	// ErrTransient names the retryable network/server failure class. LLM
	// calls report it as an *llm.Error of KindTransient, which the
	// Coordinator retries with backoff; this sentinel itself is not
	// returned by the engine.
	ErrTransient = errors.New("factextract: transient LLM error")

	// ErrPermanent names the non-retryable failure class (auth failure,
	// malformed request). LLM calls report it as an *llm.Error of
	// KindPermanent; this sentinel itself is not returned by the engine.
	ErrPermanent = errors.New("factextract: permanent LLM error")

	// ErrExtractionParse names the extraction parse failure class. A chunk
	// whose extractor response cannot be parsed records the extract
	// package's parse error text as its error_message; this sentinel
	// itself is not returned by the engine.
	ErrExtractionParse = errors.New("factextract: extraction response parse failed")

	// ErrVerificationParse names the verification parse failure class. A
	// chunk whose verifier response cannot be parsed records the verify
	// package's parse error text as its error_message; this sentinel
	// itself is not returned by the engine.
	ErrVerificationParse = errors.New("factextract: verification response parse failed")

	// ErrConsistencyViolation is returned when a committed multi-store
	// mutation would leave FactStore/VectorIndex/RejectedFactStore out
	// of sync; the mutation is rolled back.
	ErrConsistencyViolation = errors.New("factextract: consistency invariant violated")

	// ErrStoreUnavailable is returned when a store operation cannot
	// reach the underlying database.
	ErrStoreUnavailable = errors.New("factextract: store unavailable")

	// ErrDuplicateRejected names the case where update_fact moves a fact
	// into RejectedFactStore and its fact_hash already exists there. It is
	// not returned: the move succeeds and the existing rejected row stands
	// in for the moved fact.
	ErrDuplicateRejected = errors.New("factextract: fact already rejected")

	// ErrFactNotFound is returned when a fact_id does not exist in either
	// store.
	ErrFactNotFound = errors.New("factextract: fact not found")

	// ErrDocumentNotFound names a document with no chunks on record. It is
	// not returned by purge_document, which reports a count of 0 for such a
	// document.
	ErrDocumentNotFound = errors.New("factextract: document not found")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("factextract: invalid configuration")

	// ErrStoreClosed names operations on a closed store. It is not
	// returned by the engine; such operations fail with the database
	// driver's own error, wrapped in ErrStoreUnavailable.
	ErrStoreClosed = errors.New("factextract: store is closed")
)
