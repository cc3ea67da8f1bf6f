package state

import "fmt"

// ExcellentQuality is the score at which the diffusion loop no longer
// needs to keep iterating on its own account.
const ExcellentQuality = 8.0

// ValidationResult is the outcome of validating one entity.
type ValidationResult struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors,omitempty"`
}

func resultOf(errs []string) ValidationResult {
	return ValidationResult{IsValid: len(errs) == 0, Errors: errs}
}

// ValidateFact checks the fact invariants: non-empty content and
// source, confidence score within [1,100].
func ValidateFact(f Fact) ValidationResult {
	var errs []string
	if f.Content == "" {
		errs = append(errs, "fact content is empty")
	}
	if f.Source == "" {
		errs = append(errs, "fact source is empty")
	}
	if f.ConfidenceScore < 1 || f.ConfidenceScore > 100 {
		errs = append(errs, fmt.Sprintf("confidence score %d outside [1,100]", f.ConfidenceScore))
	}
	return resultOf(errs)
}

// ValidateCritique checks author, concern and severity bounds.
func ValidateCritique(c Critique) ValidationResult {
	var errs []string
	if c.Author == "" {
		errs = append(errs, "critique author is empty")
	}
	if c.Concern == "" {
		errs = append(errs, "critique concern is empty")
	}
	if c.Severity < 1 || c.Severity > 10 {
		errs = append(errs, fmt.Sprintf("severity %d outside [1,10]", c.Severity))
	}
	return resultOf(errs)
}

// ValidateQualityMetric checks score and iteration bounds.
func ValidateQualityMetric(m QualityMetric) ValidationResult {
	var errs []string
	if m.Score < 0 || m.Score > 10 {
		errs = append(errs, fmt.Sprintf("score %.2f outside [0,10]", m.Score))
	}
	if m.Iteration < 0 {
		errs = append(errs, fmt.Sprintf("iteration %d is negative", m.Iteration))
	}
	return resultOf(errs)
}

// ValidateResearcherState checks the researcher state's collections and
// counters.
func ValidateResearcherState(s *ResearcherState) ValidationResult {
	var errs []string
	if s == nil {
		return resultOf([]string{"researcher state is nil"})
	}
	if s.Messages == nil || s.RawNotes == nil {
		errs = append(errs, "researcher collections not initialized")
	}
	if s.ToolIterations < 0 {
		errs = append(errs, fmt.Sprintf("tool iterations %d is negative", s.ToolIterations))
	}
	return resultOf(errs)
}

// ValidateSupervisorState checks collections, counters and every
// contained fact, critique and quality metric.
func ValidateSupervisorState(s *SupervisorState) ValidationResult {
	var errs []string
	if s == nil {
		return resultOf([]string{"supervisor state is nil"})
	}
	if s.Messages == nil || s.RawNotes == nil || s.KnowledgeBase == nil ||
		s.ActiveCritiques == nil || s.QualityHistory == nil {
		errs = append(errs, "supervisor collections not initialized")
	}
	if s.Iteration < 0 {
		errs = append(errs, fmt.Sprintf("iteration %d is negative", s.Iteration))
	}
	if s.KnowledgeBase != nil {
		for i, f := range s.KnowledgeBase.Items() {
			if r := ValidateFact(f); !r.IsValid {
				errs = append(errs, fmt.Sprintf("fact %d: %v", i, r.Errors))
			}
		}
	}
	if s.ActiveCritiques != nil {
		for i, c := range s.ActiveCritiques.Items() {
			if r := ValidateCritique(c); !r.IsValid {
				errs = append(errs, fmt.Sprintf("critique %d: %v", i, r.Errors))
			}
		}
	}
	if s.QualityHistory != nil {
		for i, m := range s.QualityHistory.Items() {
			if r := ValidateQualityMetric(m); !r.IsValid {
				errs = append(errs, fmt.Sprintf("quality metric %d: %v", i, r.Errors))
			}
		}
	}
	return resultOf(errs)
}

// ValidateAgentState checks the pipeline state, including the stage
// ordering constraint that a final report requires a draft.
func ValidateAgentState(s *AgentState) ValidationResult {
	var errs []string
	if s == nil {
		return resultOf([]string{"agent state is nil"})
	}
	if s.Messages == nil || s.SupervisorMessages == nil || s.RawNotes == nil || s.Notes == nil {
		errs = append(errs, "agent collections not initialized")
	}
	if s.FinalReport != "" && s.DraftReport == "" {
		errs = append(errs, "final report present without a draft report")
	}
	if s.Supervisor != nil {
		if r := ValidateSupervisorState(s.Supervisor); !r.IsValid {
			errs = append(errs, r.Errors...)
		}
	}
	return resultOf(errs)
}

// HealthReport aggregates the observable health of a supervision
// session.
type HealthReport struct {
	IsValid             bool    `json:"is_valid"`
	Iteration           int     `json:"iteration"`
	TotalCritiques      int     `json:"total_critiques"`
	UnaddressedCritique int     `json:"unaddressed_critiques"`
	KnowledgeBaseSize   int     `json:"knowledge_base_size"`
	MeanConfidence      float64 `json:"mean_confidence"`
	LatestQuality       float64 `json:"latest_quality"`
	DisputedFacts       int     `json:"disputed_facts"`
	NeedsRepair         bool    `json:"needs_repair"`
}

// BuildHealthReport computes the aggregate health of a supervision
// session.
func BuildHealthReport(s *SupervisorState) HealthReport {
	rep := HealthReport{IsValid: ValidateSupervisorState(s).IsValid}
	if s == nil {
		return rep
	}
	rep.Iteration = s.Iteration
	rep.NeedsRepair = s.NeedsRepair
	rep.LatestQuality = s.LatestQuality()
	rep.TotalCritiques = s.ActiveCritiques.Len()
	rep.UnaddressedCritique = len(s.UnaddressedCritiques())
	facts := s.KnowledgeBase.Items()
	rep.KnowledgeBaseSize = len(facts)
	var sum float64
	for _, f := range facts {
		sum += f.Confidence()
		if f.Disputed {
			rep.DisputedFacts++
		}
	}
	if len(facts) > 0 {
		rep.MeanConfidence = sum / float64(len(facts))
	}
	return rep
}

// ShouldContinueDiffusion decides whether the diffusion loop has more
// work to do. Budget exhaustion always stops; the repair flag and any
// unaddressed critique always continue; otherwise the loop keeps going
// only while the latest quality is below the excellent threshold.
func ShouldContinueDiffusion(s *SupervisorState, maxIterations int) bool {
	if s == nil {
		return false
	}
	if s.Iteration >= maxIterations {
		return false
	}
	if s.NeedsRepair {
		return true
	}
	if len(s.UnaddressedCritiques()) > 0 {
		return true
	}
	return s.LatestQuality() < ExcellentQuality
}
