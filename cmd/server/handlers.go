package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/brunobiangulo/factextract"
	"github.com/brunobiangulo/factextract/store"
)

type handler struct {
	engine *factextract.Engine
}

func newHandler(e *factextract.Engine) *handler {
	return &handler{engine: e}
}

// POST /submit
// Accepts a JSON body naming a document, its raw text, and an optional
// source URI, and runs it through chunking, extraction, and verification.
func (h *handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	var req struct {
		DocumentName string `json:"document_name"`
		RawText      string `json:"raw_text"`
		SourceURI    string `json:"source_uri,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.DocumentName == "" {
		writeError(w, http.StatusBadRequest, "document_name is required")
		return
	}

	report, err := h.engine.Submit(ctx, req.DocumentName, req.RawText, req.SourceURI)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, factextract.ErrEmptyInput) || errors.Is(err, factextract.ErrUnsupportedFormat) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		slog.Error("submit error", "document_name", req.DocumentName, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// GET /facts?document_name=...&verified_only=true
func (h *handler) handleGetFacts(w http.ResponseWriter, r *http.Request) {
	documentName := r.URL.Query().Get("document_name")
	verifiedOnly := true
	if v := r.URL.Query().Get("verified_only"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "verified_only must be a boolean")
			return
		}
		verifiedOnly = parsed
	}

	facts, err := h.engine.GetFacts(r.Context(), documentName, verifiedOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list facts")
		slog.Error("get facts error", "document_name", documentName, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"facts": facts})
}

// GET /search?q=...&k=...
func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	k := 10
	if v := r.URL.Query().Get("k"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "k must be a positive integer")
			return
		}
		k = parsed
	}

	results, err := h.engine.Search(r.Context(), query, k)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		slog.Error("search error", "query", query, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// PATCH /facts/{fact_id}
func (h *handler) handleUpdateFact(w http.ResponseWriter, r *http.Request) {
	factID := r.PathValue("fact_id")
	if factID == "" {
		writeError(w, http.StatusBadRequest, "fact_id is required")
		return
	}

	var req struct {
		NewStatement *string `json:"new_statement,omitempty"`
		NewStatus    *string `json:"new_status,omitempty"`
		Reason       string  `json:"reason,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.NewStatus != nil {
		switch *req.NewStatus {
		case store.VerificationStatusVerified, store.VerificationStatusRejected:
		default:
			writeError(w, http.StatusBadRequest, "new_status must be verified or rejected")
			return
		}
	}

	result, err := h.engine.UpdateFact(r.Context(), factID, req.NewStatement, req.NewStatus, req.Reason)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, factextract.ErrConsistencyViolation) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		slog.Error("update fact error", "fact_id", factID, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// DELETE /documents/{document_name}
func (h *handler) handlePurgeDocument(w http.ResponseWriter, r *http.Request) {
	documentName := r.PathValue("document_name")
	if documentName == "" {
		writeError(w, http.StatusBadRequest, "document_name is required")
		return
	}

	removed, err := h.engine.PurgeDocument(r.Context(), documentName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "purge failed")
		slog.Error("purge error", "document_name", documentName, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"document_name": documentName,
		"count_removed": removed,
	})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf("%s", msg)})
}
