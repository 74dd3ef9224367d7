// Package verify judges whether a candidate fact statement is actually
// supported by the chunk text it was extracted from, stateless and
// retry-free like its extract counterpart.
package verify

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Completer is the subset of llm.Provider the verifier needs.
type Completer interface {
	Complete(ctx context.Context, prompt string, timeoutS float64) (string, error)
}

// Decision is the verifier's verdict on a candidate statement.
type Decision string

const (
	Verified Decision = "verified"
	Rejected Decision = "rejected"
)

// Result is the outcome of verifying one statement.
type Result struct {
	Decision Decision
	Reason   string
}

// Verifier judges candidate statements against the text they came from.
type Verifier struct {
	llm Completer
}

// New returns a Verifier backed by the given completion client.
func New(llm Completer) *Verifier {
	return &Verifier{llm: llm}
}

var (
	decisionTag = regexp.MustCompile(`(?s)<decision>(.*?)</decision>`)
	reasonTag   = regexp.MustCompile(`(?s)<reason>(.*?)</reason>`)
)

// Verify decides whether statement is directly supported by originalText.
// The decision must attribute to originalText, never to outside knowledge,
// and is idempotent for identical inputs modulo LLM nondeterminism.
func (v *Verifier) Verify(ctx context.Context, statement, originalText string, timeoutS float64) (Result, error) {
	prompt := buildVerificationPrompt(statement, originalText)

	resp, err := v.llm.Complete(ctx, prompt, timeoutS)
	if err != nil {
		return Result{}, err
	}

	dm := decisionTag.FindStringSubmatch(resp)
	if dm == nil {
		return Result{}, fmt.Errorf("verify: %w: missing decision tag", errParse)
	}

	decision := Decision(strings.ToLower(strings.TrimSpace(dm[1])))
	if decision != Verified && decision != Rejected {
		return Result{}, fmt.Errorf("verify: %w: unrecognized decision %q", errParse, dm[1])
	}

	reason := ""
	if rm := reasonTag.FindStringSubmatch(resp); rm != nil {
		reason = strings.TrimSpace(rm[1])
	}

	return Result{Decision: decision, Reason: reason}, nil
}

func buildVerificationPrompt(statement, originalText string) string {
	return fmt.Sprintf(`You verify whether a candidate statement is directly supported by a source excerpt.

Candidate statement:
%s

Source excerpt:
%s

Decide "verified" only if the excerpt directly states or unambiguously implies the statement.
Decide "rejected" if the statement is unsupported, contradicted, or requires outside knowledge.
Do not rely on anything you know beyond the excerpt.

Respond with exactly:
<decision>verified|rejected</decision>
<reason>one sentence explaining the decision, citing the excerpt</reason>`, statement, originalText)
}

var errParse = fmt.Errorf("verification response parse failure")

// IsParseError reports whether err came from an unparseable LLM response.
func IsParseError(err error) bool {
	return err != nil && strings.Contains(err.Error(), errParse.Error())
}
