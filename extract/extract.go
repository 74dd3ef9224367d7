// Package extract turns a chunk of document text into candidate fact
// statements using an LLM completion, stateless and retry-free: the
// pipeline coordinator owns backoff, this package only formats the
// prompt and parses the response.
package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Completer is the subset of llm.Provider the extractor needs.
type Completer interface {
	Complete(ctx context.Context, prompt string, timeoutS float64) (string, error)
}

// Extractor produces candidate fact statements from chunk content.
type Extractor struct {
	llm Completer
}

// New returns an Extractor backed by the given completion client.
func New(llm Completer) *Extractor {
	return &Extractor{llm: llm}
}

var factTag = regexp.MustCompile(`(?s)<fact>(.*?)</fact>`)

// Extract asks the LLM for every standalone factual statement supported by
// chunkContent. A chunk yielding no facts is a valid outcome, not an error.
func (e *Extractor) Extract(ctx context.Context, chunkContent string, timeoutS float64) ([]string, error) {
	prompt := buildExtractionPrompt(chunkContent)

	resp, err := e.llm.Complete(ctx, prompt, timeoutS)
	if err != nil {
		return nil, err
	}

	if !strings.Contains(resp, "<fact>") && strings.TrimSpace(resp) != noFactsMarker {
		return nil, fmt.Errorf("extract: %w: response has no recognizable tags", errParse)
	}

	matches := factTag.FindAllStringSubmatch(resp, -1)
	statements := make([]string, 0, len(matches))
	for _, m := range matches {
		s := strings.TrimSpace(m[1])
		if s != "" {
			statements = append(statements, s)
		}
	}
	return statements, nil
}

const noFactsMarker = "NO_FACTS"

func buildExtractionPrompt(chunkContent string) string {
	return fmt.Sprintf(`You extract standalone, verifiable factual statements from a document excerpt.

Rules:
1. Each fact must be a single, self-contained claim that is true or false independent of the rest of the document.
2. Do not infer facts that require outside world knowledge; only what the excerpt states or directly implies.
3. Preserve exact numbers, names, dates, and units as written.
4. Wrap each fact in its own <fact>...</fact> tag, one statement per tag.
5. If the excerpt contains no extractable facts, respond with exactly %s and no tags.

Excerpt:
%s`, noFactsMarker, chunkContent)
}

var errParse = fmt.Errorf("extraction response parse failure")

// IsParseError reports whether err came from an unparseable LLM response.
func IsParseError(err error) bool {
	return err != nil && strings.Contains(err.Error(), errParse.Error())
}
