// Package state holds the data model shared by the research engines:
// facts, critiques, quality metrics and the nested workflow states,
// together with the accumulator, validator, snapshot and routing
// machinery built on top of them.
package state

import (
	"time"

	"github.com/google/uuid"
)

// Provenance labels attached to facts at extraction time.
const (
	SourceCompressedResearch = "compressed_research"
	SourceContextPruning     = "context_pruning"
)

// Message is a single entry in a conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Fact is one extracted claim. ConfidenceScore (1-100) is the canonical
// confidence representation; the 0-1 fraction is derived via Confidence().
type Fact struct {
	ID              string                 `json:"id"`
	Content         string                 `json:"content"`
	Source          string                 `json:"source"`
	ConfidenceScore int                    `json:"confidence_score"`
	ExtractedAt     time.Time              `json:"extracted_at"`
	Disputed        bool                   `json:"disputed"`
	Tags            []string               `json:"tags,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// NewFact builds a fact with a fresh ID and a clamped confidence score.
func NewFact(content, source string, confidence int) Fact {
	return Fact{
		ID:              uuid.NewString(),
		Content:         content,
		Source:          source,
		ConfidenceScore: ClampConfidence(confidence),
		ExtractedAt:     time.Now().UTC(),
	}
}

// Confidence returns the derived 0.0-1.0 view of the confidence score.
func (f Fact) Confidence() float64 {
	return float64(ClampConfidence(f.ConfidenceScore)) / 100.0
}

// ClampConfidence forces a confidence score into [1,100].
func ClampConfidence(score int) int {
	if score < 1 {
		return 1
	}
	if score > 100 {
		return 100
	}
	return score
}

// Critique is one adversarial-review finding against the current draft.
type Critique struct {
	Author    string `json:"author"`
	Concern   string `json:"concern"`
	Severity  int    `json:"severity"`
	Addressed bool   `json:"addressed"`
}

// NewCritique builds a critique with severity clamped to [1,10].
func NewCritique(author, concern string, severity int) Critique {
	if severity < 1 {
		severity = 1
	}
	if severity > 10 {
		severity = 10
	}
	return Critique{Author: author, Concern: concern, Severity: severity}
}

// QualityMetric is one scored iteration of the diffusion loop.
type QualityMetric struct {
	Score     float64 `json:"score"`
	Feedback  string  `json:"feedback"`
	Iteration int     `json:"iteration"`
}

// ResearcherState is the working state of one ReAct research task.
// RawNotes is transient: it is cleared once notes are compressed.
type ResearcherState struct {
	Topic              string
	Messages           *Accumulator[Message]
	ToolIterations     int
	CompressedResearch string
	RawNotes           *Accumulator[string]
}

// NewResearcherState builds an empty researcher state for a topic.
func NewResearcherState(topic string) *ResearcherState {
	return &ResearcherState{
		Topic:    topic,
		Messages: NewAccumulator[Message](),
		RawNotes: NewAccumulator[string](),
	}
}

// SupervisorState is the working state of one supervision session.
// KnowledgeBase and QualityHistory only grow within a session; RawNotes
// is transient and cleared by the pruning step.
type SupervisorState struct {
	Messages        *Accumulator[Message]
	ResearchBrief   string
	DraftReport     string
	RawNotes        *Accumulator[string]
	KnowledgeBase   *Accumulator[Fact]
	Iteration       int
	ActiveCritiques *Accumulator[Critique]
	QualityHistory  *Accumulator[QualityMetric]
	NeedsRepair     bool
}

// NewSupervisorState builds an empty supervision state around a brief
// and an initial draft.
func NewSupervisorState(brief, draft string) *SupervisorState {
	return &SupervisorState{
		Messages:        NewAccumulator[Message](),
		ResearchBrief:   brief,
		DraftReport:     draft,
		RawNotes:        NewAccumulator[string](),
		KnowledgeBase:   NewAccumulator[Fact](),
		ActiveCritiques: NewAccumulator[Critique](),
		QualityHistory:  NewAccumulator[QualityMetric](),
	}
}

// LatestQuality returns the most recent quality score, or 0 when the
// session has not been scored yet.
func (s *SupervisorState) LatestQuality() float64 {
	if m, ok := s.QualityHistory.Last(); ok {
		return m.Score
	}
	return 0
}

// UnaddressedCritiques returns the critiques the brain has not yet
// acted on, in registration order.
func (s *SupervisorState) UnaddressedCritiques() []Critique {
	var out []Critique
	for _, c := range s.ActiveCritiques.Items() {
		if !c.Addressed {
			out = append(out, c)
		}
	}
	return out
}

// AgentState is the top-level pipeline state. It is populated stage by
// stage and never partially rolled back: on failure the last
// successfully written field stands.
type AgentState struct {
	UserQuery          string
	Messages           *Accumulator[Message]
	ResearchBrief      string
	SupervisorMessages *Accumulator[Message]
	RawNotes           *Accumulator[string]
	Notes              *Accumulator[string]
	DraftReport        string
	FinalReport        string
	Supervisor         *SupervisorState
	NeedsRepair        bool
}

// NewAgentState builds an empty pipeline state for a user query.
func NewAgentState(query string) *AgentState {
	return &AgentState{
		UserQuery:          query,
		Messages:           NewAccumulator[Message](),
		SupervisorMessages: NewAccumulator[Message](),
		RawNotes:           NewAccumulator[string](),
		Notes:              NewAccumulator[string](),
	}
}

// StateSnapshot is a read-only scalar projection of a supervision
// session at one point in time.
type StateSnapshot struct {
	Iteration      int       `json:"iteration"`
	Timestamp      time.Time `json:"timestamp"`
	Phase          string    `json:"phase"`
	ResearchBrief  string    `json:"research_brief"`
	DraftLength    int       `json:"draft_length"`
	MessageCount   int       `json:"message_count"`
	NoteCount      int       `json:"note_count"`
	FactCount      int       `json:"fact_count"`
	CritiqueCount  int       `json:"critique_count"`
	QualityEntries int       `json:"quality_entries"`
	LatestQuality  float64   `json:"latest_quality"`
	NeedsRepair    bool      `json:"needs_repair"`
}
