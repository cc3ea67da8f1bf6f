package state

import "testing"

func TestNewFactClampsConfidence(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{150, 100},
		{-5, 1},
		{0, 1},
		{75, 75},
		{100, 100},
	}
	for _, c := range cases {
		f := NewFact("claim", "source", c.in)
		if f.ConfidenceScore != c.want {
			t.Fatalf("confidence %d: expected clamp to %d, got %d", c.in, c.want, f.ConfidenceScore)
		}
	}
}

func TestFactConfidenceFraction(t *testing.T) {
	f := NewFact("claim", "source", 75)
	if got := f.Confidence(); got != 0.75 {
		t.Fatalf("expected derived confidence 0.75, got %v", got)
	}
}

func TestNewCritiqueClampsSeverity(t *testing.T) {
	if c := NewCritique("Red Team", "weak sourcing", 15); c.Severity != 10 {
		t.Fatalf("expected severity clamp to 10, got %d", c.Severity)
	}
	if c := NewCritique("Red Team", "weak sourcing", 0); c.Severity != 1 {
		t.Fatalf("expected severity clamp to 1, got %d", c.Severity)
	}
}

func TestSupervisorStateUnaddressedCritiques(t *testing.T) {
	s := NewSupervisorState("brief", "draft")
	s.ActiveCritiques.Add(NewCritique("Red Team", "one", 8))
	done := NewCritique("Red Team", "two", 8)
	done.Addressed = true
	s.ActiveCritiques.Add(done)
	open := s.UnaddressedCritiques()
	if len(open) != 1 || open[0].Concern != "one" {
		t.Fatalf("expected single unaddressed critique 'one', got %+v", open)
	}
}

func TestSupervisorStateLatestQuality(t *testing.T) {
	s := NewSupervisorState("brief", "draft")
	if q := s.LatestQuality(); q != 0 {
		t.Fatalf("expected 0 quality on fresh state, got %v", q)
	}
	s.QualityHistory.Add(QualityMetric{Score: 6.5, Iteration: 0})
	s.QualityHistory.Add(QualityMetric{Score: 7.25, Iteration: 1})
	if q := s.LatestQuality(); q != 7.25 {
		t.Fatalf("expected latest quality 7.25, got %v", q)
	}
}
