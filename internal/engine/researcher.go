package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"deepresearch/internal/state"
	"deepresearch/internal/store"
	"deepresearch/internal/telemetry"
	"deepresearch/provider"
	"deepresearch/tools/websearch"
	searchmodels "deepresearch/tools/websearch/models"
)

var researcherTracer trace.Tracer = otel.Tracer("deepresearch/internal/engine/researcher")

// Researcher act-step bounds.
const (
	maxSearchQueries      = 3
	maxConcurrentSearches = 2
	maxDocumentsPerQuery  = 3
	noteTruncateLen       = 280
	maxResearchFacts      = 20
	factConfidence        = 75
)

var stopSignals = []string{"enough", "sufficient", "stop"}

// ResearcherEngine runs the bounded ReAct loop: plan, continue
// decision, act, then compress and persist extracted facts.
type ResearcherEngine struct {
	llm       provider.Completer
	search    websearch.SearchAndScraper
	facts     store.FactStore
	telemetry *telemetry.Telemetry
	logger    *log.Logger

	// MaxIterations bounds the loop. Zero means the default budget.
	MaxIterations int
}

// NewResearcherEngine builds a researcher. The fact store may be nil,
// in which case extracted facts are returned but not persisted.
func NewResearcherEngine(llm provider.Completer, search websearch.SearchAndScraper, facts store.FactStore, tel *telemetry.Telemetry, logger *log.Logger) *ResearcherEngine {
	if logger == nil {
		logger = log.New(log.Writer(), "[RESEARCHER] ", log.LstdFlags)
	}
	return &ResearcherEngine{
		llm:           llm,
		search:        search,
		facts:         facts,
		telemetry:     tel,
		logger:        logger,
		MaxIterations: DefaultResearcherIterations,
	}
}

func (e *ResearcherEngine) budget() int {
	if e.MaxIterations <= 0 {
		return DefaultResearcherIterations
	}
	return e.MaxIterations
}

// Research runs the full loop for one topic and returns the final
// state plus the newly extracted facts. Collaborator failures degrade
// to fallbacks; the only returned error is context cancellation.
func (e *ResearcherEngine) Research(ctx context.Context, topic string, status StatusFunc) (*state.ResearcherState, []state.Fact, error) {
	ctx, span := researcherTracer.Start(ctx, "ResearcherEngine.Research")
	defer span.End()
	span.SetAttributes(attribute.String("topic", topic))

	started := time.Now()
	s := state.NewResearcherState(topic)
	s.Messages.Add(state.Message{Role: "user", Content: "Research this topic thoroughly: " + topic})
	emit(status, "[researcher] starting research on: "+topic)

	budget := e.budget()
	for i := 0; i < budget; i++ {
		if ctx.Err() != nil {
			return s, nil, ctx.Err()
		}
		emit(status, fmt.Sprintf("[researcher] iteration %d/%d", i+1, budget))

		decision := e.decideNextStep(ctx, s)
		s.Messages.Add(state.Message{Role: "assistant", Content: decision.Value})
		emit(status, "[researcher] llm: "+preview(decision.Value, 60))
		if decision.Degraded {
			e.logger.Printf("plan degraded: %s", decision.Reason)
		}

		if !e.shouldContinue(s, i, budget) {
			emit(status, "[researcher] converging to compression phase")
			break
		}

		gathered := e.executeTools(ctx, s, decision.Value)
		emit(status, fmt.Sprintf("[researcher] tools: gathered %d notes", gathered))
	}

	emit(status, "[researcher] compressing findings...")
	compressed := e.compress(ctx, s)
	s.CompressedResearch = compressed.Value
	emit(status, fmt.Sprintf("[researcher] compressed summary: %d chars", len(s.CompressedResearch)))

	facts := extractResearchFacts(s.CompressedResearch)
	if e.facts != nil && len(facts) > 0 {
		if err := e.facts.SaveFacts(ctx, facts); err != nil {
			e.logger.Printf("persisting facts: %v", err)
		}
	}
	if e.telemetry != nil {
		e.telemetry.RecordFactsExtracted(len(facts))
		e.telemetry.RecordStageEvent("researcher", true, time.Since(started))
	}
	emit(status, fmt.Sprintf("[researcher] extracted and persisted %d facts", len(facts)))
	emit(status, fmt.Sprintf("[researcher] research complete - %d iterations", s.ToolIterations))

	span.SetAttributes(
		attribute.Int("facts", len(facts)),
		attribute.Int("tool_iterations", s.ToolIterations),
	)
	return s, facts, nil
}

// decideNextStep asks the planner what to do next given the history so
// far. Failure falls back to a plain search directive.
func (e *ResearcherEngine) decideNextStep(ctx context.Context, s *state.ResearcherState) Result[string] {
	messages := append([]state.Message{
		{Role: "system", Content: "You are a research planner. Decide the next action: search for specific information, reflect on gathered notes, or state that you have enough to stop."},
	}, s.Messages.Items()...)

	resp, err := e.llm.Complete(ctx, messages, "")
	if err != nil || strings.TrimSpace(resp) == "" {
		fallback := "Search for more information about: " + s.Topic
		reason := "empty planner response"
		if err != nil {
			reason = err.Error()
		}
		return Degraded(fallback, reason)
	}
	return Ok(resp)
}

// shouldContinue reports whether another act iteration should run.
// The loop stops on the last budgeted iteration, when no notes have
// been gathered yet, or when the planner signals it has enough.
func (e *ResearcherEngine) shouldContinue(s *state.ResearcherState, iteration, budget int) bool {
	if iteration >= budget-1 {
		return false
	}
	if s.RawNotes.Len() == 0 {
		return false
	}
	if last, ok := s.Messages.Last(); ok {
		lower := strings.ToLower(last.Content)
		for _, signal := range stopSignals {
			if strings.Contains(lower, signal) {
				return false
			}
		}
	}
	return true
}

// executeTools derives queries from the plan, runs up to two of them
// concurrently, and turns every scraped document into a raw note.
func (e *ResearcherEngine) executeTools(ctx context.Context, s *state.ResearcherState, decision string) int {
	queries := extractSearchQueries(decision, s.Topic)

	sem := make(chan struct{}, maxConcurrentSearches)
	var wg sync.WaitGroup
	var mu sync.Mutex
	gathered := 0

	for _, query := range queries[:min(len(queries), maxConcurrentSearches)] {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(q string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			docs, err := e.search.SearchAndScrape(ctx, q, maxDocumentsPerQuery)
			if e.telemetry != nil {
				e.telemetry.RecordSearchEvent("researcher", len(docs), err == nil)
			}
			if err != nil {
				e.logger.Printf("search %q: %v", q, err)
				return
			}
			for _, doc := range docs {
				note := formatNote(doc)
				mu.Lock()
				s.RawNotes.Add(note)
				gathered++
				mu.Unlock()
			}
		}(query)
	}
	wg.Wait()

	s.Messages.Add(state.Message{
		Role:    "tool",
		Content: fmt.Sprintf("Searched %d topics across the web and gathered %d pieces of information", len(queries), gathered),
	})
	s.ToolIterations++
	return gathered
}

// compress summarizes the gathered notes. Failure falls back to the
// first five raw notes verbatim.
func (e *ResearcherEngine) compress(ctx context.Context, s *state.ResearcherState) Result[string] {
	notes := s.RawNotes.Items()

	messages := append([]state.Message{
		{Role: "system", Content: "Compress the research conversation below into a dense factual summary. Keep concrete claims, drop filler."},
	}, s.Messages.Items()...)
	if len(notes) > 0 {
		messages = append(messages, state.Message{Role: "user", Content: "Raw notes:\n" + strings.Join(notes, "\n")})
	}

	resp, err := e.llm.Complete(ctx, messages, "")
	if err != nil || strings.TrimSpace(resp) == "" {
		fallback := strings.Join(notes[:min(len(notes), 5)], "\n\n")
		reason := "empty compression response"
		if err != nil {
			reason = err.Error()
		}
		return Degraded(fallback, reason)
	}
	return Ok(resp)
}

// ProgressQuality scores how far a research session has progressed, in
// [0,1]. It is reporting-only and never gates the loop.
func ProgressQuality(s *state.ResearcherState) float64 {
	q := min(float64(s.RawNotes.Len())/10.0, 0.3)
	q += min(float64(s.Messages.Len())/5.0, 0.3)
	q += min(float64(s.ToolIterations)/5.0, 0.2)
	q += min(float64(len(s.CompressedResearch))/5000.0, 0.2)
	return q
}

// extractSearchQueries derives up to three queries: the bare topic,
// optionally a phrase pulled from a "search for" directive in the plan
// text, and generic variants for longer topics.
func extractSearchQueries(decision, topic string) []string {
	queries := []string{topic}

	lower := strings.ToLower(decision)
	if idx := strings.Index(lower, "search for"); idx >= 0 {
		tail := decision[idx+len("search for"):]
		if len(tail) > 100 {
			tail = tail[:100]
		}
		var words []string
		for _, w := range strings.Fields(tail) {
			w = strings.Trim(w, `.,:;"'()[]`)
			if len(w) > 2 {
				words = append(words, w)
			}
			if len(words) == 3 {
				break
			}
		}
		if len(words) > 0 {
			queries = append(queries, strings.TrimSpace(topic+" "+strings.Join(words, " ")))
		}
	}
	if len(topic) > 10 {
		queries = append(queries, topic+" applications", topic+" benefits")
	}

	seen := make(map[string]struct{}, len(queries))
	out := make([]string, 0, maxSearchQueries)
	for _, q := range queries {
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
		if len(out) == maxSearchQueries {
			break
		}
	}
	return out
}

// extractResearchFacts splits compressed text into paragraph-like
// chunks and keeps the substantial ones as facts.
func extractResearchFacts(compressed string) []state.Fact {
	var facts []state.Fact
	for _, chunk := range splitChunks(compressed) {
		if len(facts) >= maxResearchFacts {
			break
		}
		chunk = strings.TrimSpace(chunk)
		if len(chunk) <= 20 {
			continue
		}
		facts = append(facts, state.NewFact(chunk, state.SourceCompressedResearch, factConfidence))
	}
	return facts
}

func splitChunks(text string) []string {
	chunks := []string{text}
	for _, sep := range []string{"\n\n", "\n", ". "} {
		var next []string
		for _, c := range chunks {
			next = append(next, strings.Split(c, sep)...)
		}
		chunks = next
	}
	return chunks
}

func formatNote(doc searchmodels.Document) string {
	body := strings.TrimSpace(doc.MarkdownBody)
	if body == "" {
		body = strings.TrimSpace(doc.HTMLBody)
	}
	if len(body) > noteTruncateLen {
		body = body[:noteTruncateLen] + "..."
	}
	return fmt.Sprintf("%s (%s): %s", doc.Title, doc.URL, body)
}

func preview(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
