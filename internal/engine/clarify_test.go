package engine

import (
	"context"
	"testing"
)

func TestLLMClarifierShortQuery(t *testing.T) {
	llm := &scriptedLLM{}
	c := NewLLMClarifier(llm)

	result, err := c.Clarify(context.Background(), "AI")
	if err != nil {
		t.Fatalf("Clarify: %v", err)
	}
	if !result.NeedClarification || result.Question == "" {
		t.Fatalf("expected forced clarification, got %+v", result)
	}
	if llm.callCount() != 0 {
		t.Fatal("length gate must not reach the LLM")
	}
}

func TestLLMClarifierStructuredResponse(t *testing.T) {
	llm := &scriptedLLM{responses: []string{`{"need_clarification": true, "question": "Which battery chemistry?"}`}}
	c := NewLLMClarifier(llm)

	result, err := c.Clarify(context.Background(), "Research battery recycling")
	if err != nil {
		t.Fatalf("Clarify: %v", err)
	}
	if !result.NeedClarification || result.Question != "Which battery chemistry?" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestLLMClarifierFreeTextFallback(t *testing.T) {
	c := NewLLMClarifier(&scriptedLLM{responses: []string{"I need more details about the intended scope"}})
	result, err := c.Clarify(context.Background(), "Research battery recycling")
	if err != nil {
		t.Fatalf("Clarify: %v", err)
	}
	if !result.NeedClarification {
		t.Fatalf("expected keyword to trigger clarification: %+v", result)
	}

	c = NewLLMClarifier(&scriptedLLM{responses: []string{"The query is specific and actionable."}})
	result, err = c.Clarify(context.Background(), "Research battery recycling")
	if err != nil {
		t.Fatalf("Clarify: %v", err)
	}
	if result.NeedClarification || result.Verification == "" {
		t.Fatalf("expected verification pass-through: %+v", result)
	}
}

func TestLLMClarifierPropagatesError(t *testing.T) {
	c := NewLLMClarifier(&scriptedLLM{err: errStub})
	if _, err := c.Clarify(context.Background(), "Research battery recycling"); err == nil {
		t.Fatal("expected error from failing completer")
	}
}

func TestIterativeClarifierRefinesQuestion(t *testing.T) {
	base := &stubClarifier{result: Clarification{NeedClarification: true, Question: "What do you mean?"}}
	llm := &scriptedLLM{responses: []string{"Which battery chemistry and which region?", "OK"}}
	c := NewIterativeClarifier(base, llm, 3)

	result, err := c.Clarify(context.Background(), "Research battery recycling")
	if err != nil {
		t.Fatalf("Clarify: %v", err)
	}
	if result.Question != "Which battery chemistry and which region?" {
		t.Fatalf("expected refined question, got %q", result.Question)
	}
	if llm.callCount() != 2 {
		t.Fatalf("expected refinement to stop on OK, got %d calls", llm.callCount())
	}
}

func TestIterativeClarifierPassesThroughClearQueries(t *testing.T) {
	base := &stubClarifier{result: Clarification{Verification: "clear enough"}}
	llm := &scriptedLLM{}
	c := NewIterativeClarifier(base, llm, 3)

	result, err := c.Clarify(context.Background(), "Research battery recycling")
	if err != nil {
		t.Fatalf("Clarify: %v", err)
	}
	if result.NeedClarification || llm.callCount() != 0 {
		t.Fatalf("expected pass-through without refinement, got %+v after %d calls", result, llm.callCount())
	}
}
