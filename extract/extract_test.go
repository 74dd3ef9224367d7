package extract

import (
	"context"
	"testing"
)

type fakeCompleter struct {
	resp string
	err  error
}

func (f fakeCompleter) Complete(ctx context.Context, prompt string, timeoutS float64) (string, error) {
	return f.resp, f.err
}

func TestExtractParsesMultipleFacts(t *testing.T) {
	e := New(fakeCompleter{resp: "<fact>ACME shipped 12,345 units.</fact>\n<fact>Revenue was $4M.</fact>"})
	facts, err := e.Extract(context.Background(), "some chunk", 30)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("expected 2 facts, got %d: %v", len(facts), facts)
	}
	if facts[0] != "ACME shipped 12,345 units." {
		t.Errorf("facts[0] = %q", facts[0])
	}
}

func TestExtractNoFactsIsValid(t *testing.T) {
	e := New(fakeCompleter{resp: "NO_FACTS"})
	facts, err := e.Extract(context.Background(), "irrelevant chunk", 30)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(facts) != 0 {
		t.Errorf("expected no facts, got %v", facts)
	}
}

func TestExtractMalformedResponseIsParseError(t *testing.T) {
	e := New(fakeCompleter{resp: "I think there might be some facts here but no tags."})
	_, err := e.Extract(context.Background(), "chunk", 30)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !IsParseError(err) {
		t.Fatalf("expected IsParseError, got %v", err)
	}
}

func TestExtractPropagatesLLMError(t *testing.T) {
	wantErr := context.DeadlineExceeded
	e := New(fakeCompleter{err: wantErr})
	_, err := e.Extract(context.Background(), "chunk", 30)
	if err != wantErr {
		t.Fatalf("expected passthrough error, got %v", err)
	}
}
