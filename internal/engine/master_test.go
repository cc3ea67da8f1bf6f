package engine

import (
	"context"
	"strings"
	"testing"
)

func newFailingSupervisor() *SupervisorEngine {
	e := NewSupervisorEngine(&scriptedLLM{err: errStub}, failingInvoker{}, nil, nil)
	e.MaxIterations = 2
	return e
}

func TestMasterShortQueryAsksForClarification(t *testing.T) {
	llm := &scriptedLLM{}
	p := NewMasterPipeline(llm, NewLLMClarifier(llm), newFailingSupervisor(), nil, nil)

	s, err := p.Run(context.Background(), "AI", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.HasPrefix(s.FinalReport, "Clarification needed:") {
		t.Fatalf("expected clarification early return, got %q", s.FinalReport)
	}
	// The length gate never reaches the LLM, and research never starts.
	if llm.callCount() != 0 {
		t.Fatalf("expected no LLM calls, got %d", llm.callCount())
	}
	if s.ResearchBrief != "" || s.DraftReport != "" {
		t.Fatal("expected no downstream stage to run")
	}
}

func TestMasterClarifierErrorProceeds(t *testing.T) {
	clarifier := &stubClarifier{err: errStub}
	p := NewMasterPipeline(&scriptedLLM{err: errStub}, clarifier, newFailingSupervisor(), nil, nil)

	s, err := p.Run(context.Background(), "Research the state of battery recycling", nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.HasPrefix(s.FinalReport, "Clarification needed:") {
		t.Fatal("clarifier failure must not block the pipeline")
	}
	if s.FinalReport == "" {
		t.Fatal("expected a final report")
	}
}

func TestMasterDegradesEndToEnd(t *testing.T) {
	clarifier := &stubClarifier{}
	query := "Research the state of battery recycling"
	p := NewMasterPipeline(&scriptedLLM{err: errStub}, clarifier, newFailingSupervisor(), nil, nil)

	s, err := p.Run(context.Background(), query, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.ResearchBrief != "Research Brief: "+query {
		t.Fatalf("unexpected brief fallback: %q", s.ResearchBrief)
	}
	if s.DraftReport == "" {
		t.Fatal("expected a draft despite collaborator failures")
	}
	if !strings.Contains(s.FinalReport, "=== Final Research Report ===") {
		t.Fatalf("expected templated final report, got %q", s.FinalReport)
	}
	if !strings.Contains(s.FinalReport, "Original Query: "+query) {
		t.Fatalf("final report does not cite the query: %q", s.FinalReport)
	}
	if s.Supervisor == nil {
		t.Fatal("expected supervisor state to be attached")
	}
}

func TestMasterHappyPath(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"Brief: scope and key questions for battery recycling research",
		"Initial draft with placeholder sections",
	}}
	supervisor := NewSupervisorEngine(llm, richInvoker(10, 90), nil, nil)
	p := NewMasterPipeline(llm, &stubClarifier{}, supervisor, nil, nil)

	var statuses []string
	s, err := p.Run(context.Background(), "Research the state of battery recycling", func(line string) {
		statuses = append(statuses, line)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.FinalReport == "" || strings.Contains(s.FinalReport, "=== Final Research Report ===") {
		t.Fatalf("expected synthesized report, got %q", s.FinalReport)
	}
	if s.Notes.Len() == 0 {
		t.Fatal("expected the supervision summary in the notes")
	}

	sawMaster, sawSupervisor := false, false
	for _, line := range statuses {
		switch {
		case strings.HasPrefix(line, "[master]"):
			sawMaster = true
		case strings.HasPrefix(line, "[supervisor]"):
			sawSupervisor = true
		default:
			t.Fatalf("status without stage prefix: %q", line)
		}
	}
	if !sawMaster || !sawSupervisor {
		t.Fatalf("expected both stage prefixes in %v", statuses)
	}
}

func TestRunStreamClosesAndEmitsReport(t *testing.T) {
	p := NewMasterPipeline(&scriptedLLM{err: errStub}, &stubClarifier{}, newFailingSupervisor(), nil, nil)

	var lines []string
	for line := range p.RunStream(context.Background(), "Research the state of battery recycling") {
		lines = append(lines, line)
	}
	if len(lines) < 2 {
		t.Fatalf("expected statuses plus report, got %v", lines)
	}
	if !strings.Contains(lines[len(lines)-1], "=== Final Research Report ===") {
		t.Fatalf("expected the report as the last line, got %q", lines[len(lines)-1])
	}
}
