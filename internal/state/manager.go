package state

import (
	"sync"
	"time"
)

// StateManager owns the append-only snapshot history of a supervision
// session and performs accumulator-style merges between states of the
// same shape.
type StateManager struct {
	mu      sync.Mutex
	history []StateSnapshot
}

// NewStateManager builds an empty manager.
func NewStateManager() *StateManager {
	return &StateManager{}
}

// CaptureSnapshot records a scalar projection of the session under a
// phase label and returns it. Snapshots are never mutated or removed.
func (m *StateManager) CaptureSnapshot(phase string, s *SupervisorState) StateSnapshot {
	snap := StateSnapshot{Phase: phase, Timestamp: time.Now().UTC()}
	if s != nil {
		snap.Iteration = s.Iteration
		snap.ResearchBrief = s.ResearchBrief
		snap.DraftLength = len(s.DraftReport)
		snap.MessageCount = s.Messages.Len()
		snap.NoteCount = s.RawNotes.Len()
		snap.FactCount = s.KnowledgeBase.Len()
		snap.CritiqueCount = s.ActiveCritiques.Len()
		snap.QualityEntries = s.QualityHistory.Len()
		snap.LatestQuality = s.LatestQuality()
		snap.NeedsRepair = s.NeedsRepair
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, snap)
	return snap
}

// History returns a copy of the snapshot history in capture order.
func (m *StateManager) History() []StateSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StateSnapshot(nil), m.history...)
}

// MergeSupervisorStates folds src into dst: accumulators are
// concatenated, scalars keep dst's value unless dst's is empty, and the
// iteration counter takes the maximum. src is not mutated.
func MergeSupervisorStates(dst, src *SupervisorState) {
	if dst == nil || src == nil {
		return
	}
	dst.Messages.AddRange(src.Messages.Items())
	dst.RawNotes.AddRange(src.RawNotes.Items())
	dst.KnowledgeBase.AddRange(src.KnowledgeBase.Items())
	dst.ActiveCritiques.AddRange(src.ActiveCritiques.Items())
	dst.QualityHistory.AddRange(src.QualityHistory.Items())
	if dst.ResearchBrief == "" {
		dst.ResearchBrief = src.ResearchBrief
	}
	if dst.DraftReport == "" {
		dst.DraftReport = src.DraftReport
	}
	if src.Iteration > dst.Iteration {
		dst.Iteration = src.Iteration
	}
	dst.NeedsRepair = dst.NeedsRepair || src.NeedsRepair
}

// MergeResearcherStates folds src into dst with the same rules as
// MergeSupervisorStates.
func MergeResearcherStates(dst, src *ResearcherState) {
	if dst == nil || src == nil {
		return
	}
	dst.Messages.AddRange(src.Messages.Items())
	dst.RawNotes.AddRange(src.RawNotes.Items())
	if dst.Topic == "" {
		dst.Topic = src.Topic
	}
	if dst.CompressedResearch == "" {
		dst.CompressedResearch = src.CompressedResearch
	}
	if src.ToolIterations > dst.ToolIterations {
		dst.ToolIterations = src.ToolIterations
	}
}

// MergeAgentStates folds src into dst with the same rules as
// MergeSupervisorStates, recursing into the embedded supervisor state.
func MergeAgentStates(dst, src *AgentState) {
	if dst == nil || src == nil {
		return
	}
	dst.Messages.AddRange(src.Messages.Items())
	dst.SupervisorMessages.AddRange(src.SupervisorMessages.Items())
	dst.RawNotes.AddRange(src.RawNotes.Items())
	dst.Notes.AddRange(src.Notes.Items())
	if dst.UserQuery == "" {
		dst.UserQuery = src.UserQuery
	}
	if dst.ResearchBrief == "" {
		dst.ResearchBrief = src.ResearchBrief
	}
	if dst.DraftReport == "" {
		dst.DraftReport = src.DraftReport
	}
	if dst.FinalReport == "" {
		dst.FinalReport = src.FinalReport
	}
	if dst.Supervisor == nil {
		dst.Supervisor = src.Supervisor
	} else if src.Supervisor != nil {
		MergeSupervisorStates(dst.Supervisor, src.Supervisor)
	}
	dst.NeedsRepair = dst.NeedsRepair || src.NeedsRepair
}
