package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"deepresearch/internal/state"
	"deepresearch/provider"
)

// MinQueryLength is the shortest query accepted without clarification.
const MinQueryLength = 10

// Clarification is the outcome of the clarify gate.
type Clarification struct {
	NeedClarification bool   `json:"need_clarification"`
	Question          string `json:"question"`
	Verification      string `json:"verification"`
}

// Clarifier decides whether a user query is specific enough to research.
type Clarifier interface {
	Clarify(ctx context.Context, query string) (Clarification, error)
}

// LLMClarifier is the base strategy: a length heuristic followed by an
// LLM clarity check.
type LLMClarifier struct {
	llm provider.Completer
}

// NewLLMClarifier builds the base clarifier.
func NewLLMClarifier(llm provider.Completer) *LLMClarifier {
	return &LLMClarifier{llm: llm}
}

// Clarify gates the query. Queries shorter than MinQueryLength are
// rejected without an LLM round trip.
func (c *LLMClarifier) Clarify(ctx context.Context, query string) (Clarification, error) {
	query = strings.TrimSpace(query)
	if len(query) < MinQueryLength {
		return Clarification{
			NeedClarification: true,
			Question:          "Please provide a more detailed research query (at least 10 characters) so I can understand what you want to research.",
		}, nil
	}

	out, err := provider.CompleteStructured[Clarification](ctx, c.llm, []state.Message{
		{Role: "system", Content: `Decide whether the research query below is specific enough to act on. Answer with JSON: {"need_clarification": bool, "question": string, "verification": string}.`},
		{Role: "user", Content: query},
	})
	if err == nil {
		return out, nil
	}
	var notJSON *provider.NotJSONError
	if !errors.As(err, &notJSON) {
		return Clarification{}, fmt.Errorf("clarity check failed: %w", err)
	}
	// Free-text answer: look for the keywords that signal a question back.
	raw := notJSON.Raw
	lower := strings.ToLower(raw)
	if strings.Contains(lower, "clarif") || strings.Contains(lower, "need") {
		return Clarification{NeedClarification: true, Question: strings.TrimSpace(raw)}, nil
	}
	return Clarification{Verification: strings.TrimSpace(raw)}, nil
}

// IterativeClarifier wraps a base Clarifier and refines the
// clarification question through bounded critique rounds. It composes
// the base strategy instead of extending it.
type IterativeClarifier struct {
	base      Clarifier
	llm       provider.Completer
	maxRounds int
}

// NewIterativeClarifier builds the refining wrapper. maxRounds below 1
// is raised to 1.
func NewIterativeClarifier(base Clarifier, llm provider.Completer, maxRounds int) *IterativeClarifier {
	if maxRounds < 1 {
		maxRounds = 1
	}
	return &IterativeClarifier{base: base, llm: llm, maxRounds: maxRounds}
}

// Clarify runs the base strategy, then critiques and rewrites the
// resulting question until a round produces no improvement or the
// round budget runs out. Refinement failures keep the best question
// seen so far.
func (c *IterativeClarifier) Clarify(ctx context.Context, query string) (Clarification, error) {
	result, err := c.base.Clarify(ctx, query)
	if err != nil || !result.NeedClarification {
		return result, err
	}

	for round := 1; round < c.maxRounds; round++ {
		if ctx.Err() != nil {
			return result, nil
		}
		refined, err := c.llm.Complete(ctx, []state.Message{
			{Role: "system", Content: "Critique the clarification question for focus and answerability, then reply with an improved question only. Reply OK if it cannot be improved."},
			{Role: "user", Content: fmt.Sprintf("Query: %s\n\nQuestion: %s", query, result.Question)},
		}, "")
		if err != nil {
			break
		}
		refined = strings.TrimSpace(refined)
		if refined == "" || strings.EqualFold(refined, "OK") {
			break
		}
		result.Question = refined
	}
	return result, nil
}
