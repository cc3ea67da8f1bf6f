package engine

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"deepresearch/internal/state"
	"deepresearch/internal/telemetry"
	"deepresearch/provider"
	"deepresearch/tools/registry"
	searchmodels "deepresearch/tools/websearch/models"
)

var supervisorTracer trace.Tracer = otel.Tracer("deepresearch/internal/engine/supervisor")

// Supervisor loop bounds and thresholds.
const (
	maxResearchTopics    = 3
	maxPruneNotes        = 5
	maxPrunedFacts       = 10
	maxSummaryPerGroup   = 15
	dedupPrefixLen       = 20
	redTeamSeverity      = 8
	redTeamDraftWindow   = 800
	highConfidenceCutoff = 80
	baseQuality          = 5.0
	convergedQuality     = 8.0
	relaxedQuality       = 7.5
	noNewFactsSentinel   = "NO_NEW_FACTS"
)

// Diffusion loop phases.
const (
	nodeBrain   state.Node = "brain"
	nodeTools   state.Node = "tools"
	nodeQuality state.Node = "quality"
	nodeRedTeam state.Node = "redteam"
	nodePrune   state.Node = "prune"
)

// SupervisorEngine runs the diffusion loop: brain, tools, quality
// scoring, convergence, red team, context pruning. Tool work goes
// through the registry so per-call failures stay contained.
type SupervisorEngine struct {
	llm       provider.Completer
	tools     ToolInvoker
	telemetry *telemetry.Telemetry
	logger    *log.Logger
	states    *state.StateManager
	router    *state.TransitionRouter

	// MaxIterations bounds the loop. Zero means the default budget.
	MaxIterations int
}

// NewSupervisorEngine builds a supervisor over the given collaborators.
func NewSupervisorEngine(llm provider.Completer, tools ToolInvoker, tel *telemetry.Telemetry, logger *log.Logger) *SupervisorEngine {
	if logger == nil {
		logger = log.New(log.Writer(), "[SUPERVISOR] ", log.LstdFlags)
	}
	e := &SupervisorEngine{
		llm:           llm,
		tools:         tools,
		telemetry:     tel,
		logger:        logger,
		states:        state.NewStateManager(),
		MaxIterations: DefaultSupervisorIterations,
	}
	e.router = buildDiffusionRouter()
	return e
}

// buildDiffusionRouter wires the phase graph. The conditional edge out
// of the quality phase decides between convergence, the red team, and
// skipping straight to pruning on the first iteration.
func buildDiffusionRouter() *state.TransitionRouter {
	r := state.NewTransitionRouter()
	r.AddEdge(nodeBrain, nodeTools)
	r.AddEdge(nodeTools, nodeQuality)
	r.AddConditionalEdge(nodeQuality, func(s *state.SupervisorState) (state.Node, error) {
		iteration := s.Iteration - 1
		quality := s.LatestQuality()
		if quality >= convergedQuality || (iteration > 0 && quality >= relaxedQuality && iteration >= 2) {
			return state.EndNode, nil
		}
		if iteration == 0 {
			return nodePrune, nil
		}
		return nodeRedTeam, nil
	}, nodeRedTeam)
	r.AddEdge(nodeRedTeam, nodePrune)
	r.AddEdge(nodePrune, nodeBrain)
	return r
}

func (e *SupervisorEngine) budget() int {
	if e.MaxIterations <= 0 {
		return DefaultSupervisorIterations
	}
	return e.MaxIterations
}

// History exposes the snapshots captured during supervision.
func (e *SupervisorEngine) History() []state.StateSnapshot {
	return e.states.History()
}

// Supervise runs the diffusion loop and returns the final state plus
// the deterministic research summary. Collaborator failures degrade;
// the only returned error is context cancellation.
func (e *SupervisorEngine) Supervise(ctx context.Context, brief, draft string, status StatusFunc) (*state.SupervisorState, string, error) {
	ctx, span := supervisorTracer.Start(ctx, "SupervisorEngine.Supervise")
	defer span.End()

	if strings.TrimSpace(draft) == "" {
		draft = "Initial draft for: " + brief
	}
	s := state.NewSupervisorState(brief, draft)
	started := time.Now()
	emit(status, "[supervisor] starting diffusion loop...")

	budget := e.budget()
	for i := 0; i < budget; i++ {
		if ctx.Err() != nil {
			return s, e.renderSummary(s), ctx.Err()
		}
		emit(status, fmt.Sprintf("[supervisor] iteration %d/%d", i+1, budget))

		emit(status, "[supervisor] supervisor brain: analyzing state and deciding next actions...")
		decision := e.brainDecide(ctx, s)
		emit(status, "[supervisor] brain decision recorded")

		emit(status, "[supervisor] executing tools...")
		e.executeTools(ctx, s, status)
		e.maybeRefineDraft(ctx, s, decision.Value)
		emit(status, fmt.Sprintf("[supervisor] %d facts in knowledge base", s.KnowledgeBase.Len()))

		quality := e.scoreQuality(ctx, s, i)
		emit(status, fmt.Sprintf("[supervisor] quality score: %.1f/10", quality))
		e.states.CaptureSnapshot(fmt.Sprintf("iteration-%d", i+1), s)

		next := e.router.NextTransition(nodeQuality, s)
		if next.IsTerminal {
			emit(status, fmt.Sprintf("[supervisor] converged at iteration %d", i+1))
			break
		}
		if next.Next == nodeRedTeam {
			emit(status, "[supervisor] red team: generating adversarial critique...")
			if critique := e.redTeam(ctx, s); critique != nil {
				s.ActiveCritiques.Add(*critique)
				emit(status, "[supervisor] critique: "+preview(critique.Concern, 50))
			} else {
				emit(status, "[supervisor] red team: PASS - no issues found")
			}
		}

		if s.RawNotes.Len() > 0 {
			emit(status, "[supervisor] context pruning: extracting and deduplicating facts...")
			e.pruneContext(ctx, s)
			emit(status, "[supervisor] knowledge base refined")
		}
	}

	e.states.CaptureSnapshot("final", s)
	if e.telemetry != nil {
		e.telemetry.RecordStageEvent("supervisor", true, time.Since(started))
	}
	emit(status, "[supervisor] diffusion loop complete")

	span.SetAttributes(
		attribute.Int("iterations", s.Iteration),
		attribute.Int("knowledge_base", s.KnowledgeBase.Len()),
		attribute.Float64("quality", s.LatestQuality()),
	)
	return s, e.renderSummary(s), nil
}

// brainDecide builds the supervision context, asks the planner for the
// next action, and marks every critique it was shown as addressed.
func (e *SupervisorEngine) brainDecide(ctx context.Context, s *state.SupervisorState) Result[string] {
	prompt := buildBrainContext(s)

	resp, err := e.llm.Complete(ctx, []state.Message{
		{Role: "system", Content: "You are the research supervisor. Decide what to research or refine next. Be concrete and brief."},
		{Role: "user", Content: prompt},
	}, "")

	result := Ok(resp)
	if err != nil || strings.TrimSpace(resp) == "" {
		fallback := "Continue research on key topics. Refine current draft based on gathered information."
		reason := "empty brain response"
		if err != nil {
			reason = err.Error()
		}
		result = Degraded(fallback, reason)
		e.logger.Printf("brain degraded: %s", reason)
	}
	s.Messages.Add(state.Message{Role: "assistant", Content: result.Value})

	critiques := s.ActiveCritiques.Items()
	changed := false
	for idx := range critiques {
		if !critiques[idx].Addressed {
			critiques[idx].Addressed = true
			changed = true
		}
	}
	if changed {
		s.ActiveCritiques.Replace(critiques)
	}
	return result
}

func buildBrainContext(s *state.SupervisorState) string {
	var b strings.Builder
	b.WriteString("=== SUPERVISOR BRAIN CONTEXT ===\n")
	fmt.Fprintf(&b, "Date: %s\n", time.Now().UTC().Format("2006-01-02"))
	fmt.Fprintf(&b, "Research Brief: %s\n", s.ResearchBrief)
	quality := baseQuality
	if s.QualityHistory.Len() > 0 {
		quality = s.LatestQuality()
	}
	fmt.Fprintf(&b, "Current Draft Quality: %.1f\n", quality)
	fmt.Fprintf(&b, "Iteration: %d\n", s.Iteration)

	if unaddressed := s.UnaddressedCritiques(); len(unaddressed) > 0 {
		b.WriteString("\n=== CRITICAL ISSUES TO ADDRESS ===\n")
		for _, c := range unaddressed {
			fmt.Fprintf(&b, "• [%s] %s\n", c.Author, c.Concern)
		}
	}
	if s.QualityHistory.Len() >= 2 && s.LatestQuality() < 6.0 {
		b.WriteString("\nWARNING: quality remains low after multiple iterations. Change strategy.\n")
	}
	return b.String()
}

// executeTools fans out over up to three derived topics. Each topic
// runs search, summarize, extract through the tool registry; failures
// are logged and the loop continues with partial results.
func (e *SupervisorEngine) executeTools(ctx context.Context, s *state.SupervisorState, status StatusFunc) {
	topics := deriveTopics(s.ResearchBrief)

	sem := make(chan struct{}, maxResearchTopics)
	var wg sync.WaitGroup
	for _, topic := range topics {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			facts, err := e.researchTopic(ctx, topic)
			if err != nil {
				e.logger.Printf("topic %q: %v", topic, err)
				return
			}
			s.KnowledgeBase.AddRange(facts)
		}(topic)
	}
	wg.Wait()

	s.RawNotes.Add("Research on: " + strings.Join(topics, ", "))
	s.Messages.Add(state.Message{
		Role:    "tool",
		Content: fmt.Sprintf("Researched %d topics, knowledge base now holds %d facts", len(topics), s.KnowledgeBase.Len()),
	})
}

// researchTopic runs the search, summarize, extract chain for a topic.
func (e *SupervisorEngine) researchTopic(ctx context.Context, topic string) ([]state.Fact, error) {
	raw, err := e.tools.Invoke(ctx, registry.ToolWebSearch, map[string]any{
		"query": topic, "max_results": maxResearchTopics,
	})
	if err != nil {
		return nil, fmt.Errorf("websearch: %w", err)
	}
	docs, _ := raw.([]searchmodels.Document)
	if len(docs) == 0 {
		return nil, nil
	}

	var text strings.Builder
	for _, doc := range docs {
		body := doc.MarkdownBody
		if body == "" {
			body = doc.HTMLBody
		}
		fmt.Fprintf(&text, "%s (%s)\n%s\n\n", doc.Title, doc.URL, body)
	}

	summary, err := e.tools.Invoke(ctx, registry.ToolSummarize, map[string]any{"text": text.String()})
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	summaryText, _ := summary.(string)
	if strings.TrimSpace(summaryText) == "" {
		return nil, nil
	}

	extracted, err := e.tools.Invoke(ctx, registry.ToolExtractFact, map[string]any{
		"text": summaryText, "source": topic,
	})
	if err != nil {
		return nil, fmt.Errorf("extractfacts: %w", err)
	}
	facts, _ := extracted.([]state.Fact)
	return facts, nil
}

// maybeRefineDraft rewrites the draft when the brain asked for
// refinement. Failures keep the current draft.
func (e *SupervisorEngine) maybeRefineDraft(ctx context.Context, s *state.SupervisorState, decision string) {
	if !strings.Contains(strings.ToLower(decision), "refine") || strings.TrimSpace(s.DraftReport) == "" {
		return
	}
	refined, err := e.tools.Invoke(ctx, registry.ToolRefineDraft, map[string]any{
		"draft": s.DraftReport, "feedback": decision,
	})
	if err != nil {
		e.logger.Printf("refinedraft: %v", err)
		return
	}
	if text, _ := refined.(string); strings.TrimSpace(text) != "" {
		s.DraftReport = text
	}
}

// scoreQuality computes the heuristic quality score, optionally lets
// the LLM assessor override it from the third iteration onward, and
// appends the result to the quality history.
func (e *SupervisorEngine) scoreQuality(ctx context.Context, s *state.SupervisorState, iteration int) float64 {
	quality := baseQuality
	quality += min(2.5, float64(s.KnowledgeBase.Len())/4.0)

	facts := s.KnowledgeBase.Items()
	if len(facts) > 0 {
		var sum float64
		for _, f := range facts {
			sum += f.Confidence()
		}
		quality += (sum / float64(len(facts))) * 1.5
	}

	critiques := s.ActiveCritiques.Items()
	if len(critiques) > 0 {
		addressed := 0
		for _, c := range critiques {
			if c.Addressed {
				addressed++
			}
		}
		quality += float64(addressed) / float64(len(critiques)) * 1.5
	}

	history := s.QualityHistory.Items()
	if len(history) >= 2 && history[len(history)-1].Score > history[len(history)-2].Score {
		quality += 0.5
	}

	if s.Iteration >= 3 && s.KnowledgeBase.Len() > 0 {
		if override, err := e.tools.Invoke(ctx, registry.ToolQualityEval, map[string]any{
			"draft": s.DraftReport, "fact_count": s.KnowledgeBase.Len(),
		}); err == nil {
			if score, ok := override.(float64); ok {
				quality = score
			}
		} else {
			e.logger.Printf("qualityevaluation: %v", err)
		}
	}

	if quality < 0 {
		quality = 0
	}
	if quality > 10 {
		quality = 10
	}
	s.QualityHistory.Add(state.QualityMetric{Score: quality, Feedback: "Iteration quality", Iteration: iteration})
	s.Iteration = iteration + 1
	if e.telemetry != nil {
		e.telemetry.RecordQualityScore(quality)
	}
	return quality
}

// redTeam asks the adversarial reviewer for holes in the current
// draft. A short PASS answer means no critique.
func (e *SupervisorEngine) redTeam(ctx context.Context, s *state.SupervisorState) *state.Critique {
	draft := s.DraftReport
	if len(draft) > redTeamDraftWindow {
		draft = draft[:redTeamDraftWindow]
	}
	resp, err := e.llm.Complete(ctx, []state.Message{
		{Role: "system", Content: "You are an adversarial reviewer. Find unsupported claims, logical fallacies, missing perspectives, stale sources, or bias in the draft. If none, reply PASS."},
		{Role: "user", Content: draft},
	}, "")
	if err != nil {
		e.logger.Printf("red team: %v", err)
		return nil
	}
	resp = strings.TrimSpace(resp)
	if strings.Contains(resp, "PASS") && len(resp) < 30 {
		return nil
	}
	critique := state.NewCritique("Red Team", resp, redTeamSeverity)
	return &critique
}

// pruneContext distills raw notes into deduplicated facts and clears
// the notes buffer regardless of how many facts were extracted.
func (e *SupervisorEngine) pruneContext(ctx context.Context, s *state.SupervisorState) {
	notes := s.RawNotes.Items()
	if len(notes) == 0 {
		return
	}
	defer s.RawNotes.Clear()

	prompt := fmt.Sprintf(
		"Extract discrete facts from the notes below. One per line, format: [FACT] claim | source | confidence. Reply %s if there is nothing new.\n\n%s",
		noNewFactsSentinel, strings.Join(notes[:min(len(notes), maxPruneNotes)], "\n"))
	resp, err := e.llm.Complete(ctx, []state.Message{{Role: "user", Content: prompt}}, "")
	if err != nil {
		e.logger.Printf("context pruning: %v", err)
		return
	}
	if strings.Contains(resp, noNewFactsSentinel) {
		return
	}

	existing := s.KnowledgeBase.Items()
	added := 0
	for _, line := range strings.Split(resp, "\n") {
		if added >= maxPrunedFacts {
			break
		}
		if !strings.Contains(line, "[FACT]") {
			continue
		}
		fact, ok := parsePrunedFact(line)
		if !ok {
			continue
		}
		if isDuplicate(fact.Content, existing) {
			continue
		}
		s.KnowledgeBase.Add(fact)
		existing = append(existing, fact)
		added++
	}
}

func parsePrunedFact(line string) (state.Fact, bool) {
	idx := strings.Index(line, "[FACT]")
	parts := strings.Split(line[idx+len("[FACT]"):], "|")
	if len(parts) < 3 {
		return state.Fact{}, false
	}
	content := strings.TrimSpace(parts[0])
	source := strings.TrimSpace(parts[1])
	if content == "" {
		return state.Fact{}, false
	}
	if source == "" {
		source = state.SourceContextPruning
	}
	confidence := 70
	confText := strings.TrimSuffix(strings.TrimSpace(parts[2]), "%")
	if v, err := strconv.Atoi(confText); err == nil {
		confidence = v
	}
	return state.NewFact(content, source, confidence), true
}

func isDuplicate(content string, existing []state.Fact) bool {
	prefix := content[:min(len(content), dedupPrefixLen)]
	for _, f := range existing {
		if strings.Contains(f.Content, prefix) {
			return true
		}
	}
	return false
}

// deriveTopics expands the brief into up to three research topics.
func deriveTopics(brief string) []string {
	topics := []string{brief}
	if len(brief) > 20 {
		topics = append(topics, brief+" trends", brief+" applications")
	}
	seen := make(map[string]struct{}, len(topics))
	out := make([]string, 0, maxResearchTopics)
	for _, t := range topics {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == maxResearchTopics {
			break
		}
	}
	return out
}

// renderSummary produces the deterministic end-of-supervision report,
// grouping facts by confidence band.
func (e *SupervisorEngine) renderSummary(s *state.SupervisorState) string {
	facts := s.KnowledgeBase.Items()
	if len(facts) == 0 {
		return "No facts extracted for topic: " + s.ResearchBrief
	}

	var high, standard []state.Fact
	for _, f := range facts {
		if f.ConfidenceScore >= highConfidenceCutoff {
			high = append(high, f)
		} else {
			standard = append(standard, f)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== Research Summary: %s ===\n", s.ResearchBrief)
	writeFactGroup(&b, "High Confidence", high)
	writeFactGroup(&b, "Standard", standard)
	fmt.Fprintf(&b, "\nTotal facts compiled: %d\n", len(facts))
	return b.String()
}

func writeFactGroup(b *strings.Builder, name string, facts []state.Fact) {
	if len(facts) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s Facts\n", name)
	for i, f := range facts {
		if i >= maxSummaryPerGroup {
			break
		}
		fmt.Fprintf(b, "%d. %s\n", i+1, f.Content)
		fmt.Fprintf(b, "   Source: %s | Confidence: %d%%\n", f.Source, f.ConfidenceScore)
		if f.Disputed {
			b.WriteString("   ⚠️  DISPUTED\n")
		}
	}
}
