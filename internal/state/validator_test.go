package state

import "testing"

func TestValidateCritiqueRequiredFields(t *testing.T) {
	r := ValidateCritique(Critique{Author: "", Concern: "", Severity: 8})
	if r.IsValid {
		t.Fatalf("expected invalid critique with empty author and concern")
	}
	if len(r.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %v", r.Errors)
	}
}

func TestValidateFactBounds(t *testing.T) {
	f := Fact{Content: "claim", Source: "src", ConfidenceScore: 101}
	if ValidateFact(f).IsValid {
		t.Fatalf("expected out-of-range confidence to fail validation")
	}
	f.ConfidenceScore = 100
	if r := ValidateFact(f); !r.IsValid {
		t.Fatalf("expected valid fact, got errors %v", r.Errors)
	}
}

func TestValidateFactIdempotent(t *testing.T) {
	f := NewFact("claim", "src", 80)
	first := ValidateFact(f)
	second := ValidateFact(f)
	if first.IsValid != second.IsValid || len(first.Errors) != len(second.Errors) {
		t.Fatalf("validation not idempotent: %+v vs %+v", first, second)
	}
}

func TestValidateAgentStateOrdering(t *testing.T) {
	s := NewAgentState("query")
	s.FinalReport = "done"
	if ValidateAgentState(s).IsValid {
		t.Fatalf("expected final report without draft to fail validation")
	}
	s.DraftReport = "draft"
	if r := ValidateAgentState(s); !r.IsValid {
		t.Fatalf("expected valid state, got errors %v", r.Errors)
	}
}

func TestShouldContinueDiffusionBudget(t *testing.T) {
	s := NewSupervisorState("brief", "draft")
	s.Iteration = 5
	if ShouldContinueDiffusion(s, 5) {
		t.Fatalf("expected stop once iteration budget exhausted")
	}
}

func TestShouldContinueDiffusionStopConditions(t *testing.T) {
	s := NewSupervisorState("brief", "draft")
	s.Iteration = 1
	s.QualityHistory.Add(QualityMetric{Score: 9.0, Iteration: 0})
	if ShouldContinueDiffusion(s, 5) {
		t.Fatalf("expected stop at excellent quality with nothing pending")
	}

	s.NeedsRepair = true
	if !ShouldContinueDiffusion(s, 5) {
		t.Fatalf("expected continue while repair flag set")
	}
	s.NeedsRepair = false

	s.ActiveCritiques.Add(NewCritique("Red Team", "gap", 8))
	if !ShouldContinueDiffusion(s, 5) {
		t.Fatalf("expected continue while a critique is unaddressed")
	}
}

func TestShouldContinueDiffusionPostcondition(t *testing.T) {
	// Whenever the predicate says stop, either the budget is spent or
	// the session is clean and at excellent quality.
	s := NewSupervisorState("brief", "draft")
	s.Iteration = 2
	s.QualityHistory.Add(QualityMetric{Score: 8.5, Iteration: 1})
	if ShouldContinueDiffusion(s, 5) {
		t.Fatalf("expected stop")
	}
	if s.Iteration < 5 {
		if len(s.UnaddressedCritiques()) != 0 || s.NeedsRepair || s.LatestQuality() < ExcellentQuality {
			t.Fatalf("stop postcondition violated: %+v", BuildHealthReport(s))
		}
	}
}

func TestBuildHealthReport(t *testing.T) {
	s := NewSupervisorState("brief", "draft")
	s.Iteration = 2
	s.KnowledgeBase.Add(NewFact("a", "src", 80))
	disputed := NewFact("b", "src", 60)
	disputed.Disputed = true
	s.KnowledgeBase.Add(disputed)
	s.ActiveCritiques.Add(NewCritique("Red Team", "gap", 8))
	s.QualityHistory.Add(QualityMetric{Score: 7.0, Iteration: 1})

	rep := BuildHealthReport(s)
	if !rep.IsValid {
		t.Fatalf("expected valid report")
	}
	if rep.KnowledgeBaseSize != 2 || rep.DisputedFacts != 1 {
		t.Fatalf("unexpected fact counts: %+v", rep)
	}
	if rep.MeanConfidence != 0.7 {
		t.Fatalf("expected mean confidence 0.7, got %v", rep.MeanConfidence)
	}
	if rep.TotalCritiques != 1 || rep.UnaddressedCritique != 1 {
		t.Fatalf("unexpected critique counts: %+v", rep)
	}
	if rep.LatestQuality != 7.0 {
		t.Fatalf("expected latest quality 7.0, got %v", rep.LatestQuality)
	}
}
