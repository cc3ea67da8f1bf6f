package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"deepresearch/internal/state"
	"deepresearch/internal/telemetry"
	"deepresearch/provider"
)

var masterTracer trace.Tracer = otel.Tracer("deepresearch/internal/engine/master")

// MasterPipeline drives the five outer stages: clarify, brief, draft,
// supervise, finalize. Every stage has a deterministic fallback so the
// pipeline always produces output.
type MasterPipeline struct {
	llm        provider.Completer
	clarifier  Clarifier
	supervisor *SupervisorEngine
	telemetry  *telemetry.Telemetry
	logger     *log.Logger
}

// NewMasterPipeline builds the pipeline over its collaborators.
func NewMasterPipeline(llm provider.Completer, clarifier Clarifier, supervisor *SupervisorEngine, tel *telemetry.Telemetry, logger *log.Logger) *MasterPipeline {
	if logger == nil {
		logger = log.New(log.Writer(), "[MASTER] ", log.LstdFlags)
	}
	return &MasterPipeline{
		llm:        llm,
		clarifier:  clarifier,
		supervisor: supervisor,
		telemetry:  tel,
		logger:     logger,
	}
}

// Run executes the full pipeline for a fresh query.
func (p *MasterPipeline) Run(ctx context.Context, query string, status StatusFunc) (*state.AgentState, error) {
	return p.Execute(ctx, state.NewAgentState(query), status)
}

// RunStream executes the pipeline in the background and yields one
// status line per logical step. The channel closes when the pipeline
// finishes; the final report is emitted as the last status.
func (p *MasterPipeline) RunStream(ctx context.Context, query string) <-chan string {
	out := make(chan string, 16)
	go func() {
		defer close(out)
		s, err := p.Run(ctx, query, func(line string) { out <- line })
		if err != nil {
			out <- "[master] aborted: " + err.Error()
			return
		}
		out <- "[master] final report ready"
		out <- s.FinalReport
	}()
	return out
}

// Execute runs the stages against an existing agent state. Stages
// never roll back: on failure the last successfully written field
// stands. The only returned error is context cancellation.
func (p *MasterPipeline) Execute(ctx context.Context, s *state.AgentState, status StatusFunc) (*state.AgentState, error) {
	ctx, span := masterTracer.Start(ctx, "MasterPipeline.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("query", s.UserQuery))

	started := time.Now()
	s.Messages.Add(state.Message{Role: "user", Content: s.UserQuery})

	emit(status, "[master] clarifying query...")
	clarification, err := p.clarifier.Clarify(ctx, s.UserQuery)
	if err != nil {
		// A failed clarity check never blocks research.
		p.logger.Printf("clarify: %v", err)
		clarification = Clarification{}
	}
	if clarification.NeedClarification {
		s.FinalReport = "Clarification needed:\n\n" + clarification.Question
		emit(status, "[master] clarification required, stopping early")
		return s, nil
	}
	if ctx.Err() != nil {
		return s, ctx.Err()
	}

	emit(status, "[master] generating research brief...")
	brief := p.writeBrief(ctx, s.UserQuery)
	s.ResearchBrief = brief.Value

	emit(status, "[master] drafting initial report...")
	draft := p.writeDraft(ctx, s.ResearchBrief)
	s.DraftReport = draft.Value
	if ctx.Err() != nil {
		return s, ctx.Err()
	}

	emit(status, "[master] delegating to supervisor...")
	supState, summary, err := p.supervisor.Supervise(ctx, s.ResearchBrief, s.DraftReport, status)
	s.Supervisor = supState
	if supState != nil {
		s.SupervisorMessages.AddRange(supState.Messages.Items())
		s.RawNotes.AddRange(supState.RawNotes.Items())
		if strings.TrimSpace(supState.DraftReport) != "" {
			s.DraftReport = supState.DraftReport
		}
	}
	s.Notes.Add(summary)
	if err != nil {
		return s, err
	}

	p.repair(s)

	emit(status, "[master] finalizing report...")
	final := p.finalize(ctx, s, summary)
	s.FinalReport = final.Value
	emit(status, "[master] pipeline complete")

	if p.telemetry != nil {
		p.telemetry.RecordStageEvent("master", true, time.Since(started))
	}
	span.SetAttributes(attribute.Bool("degraded_final", final.Degraded))
	return s, nil
}

// writeBrief turns the raw query into a research brief.
func (p *MasterPipeline) writeBrief(ctx context.Context, query string) Result[string] {
	resp, err := p.llm.Complete(ctx, []state.Message{
		{Role: "system", Content: "Rewrite the user's query as a structured research brief: scope, key questions, expected depth."},
		{Role: "user", Content: query},
	}, "")
	if err != nil || strings.TrimSpace(resp) == "" {
		return Degraded("Research Brief: "+query, reasonOf(err, "empty brief response"))
	}
	return Ok(resp)
}

// writeDraft produces an initial report skeleton from the brief.
func (p *MasterPipeline) writeDraft(ctx context.Context, brief string) Result[string] {
	resp, err := p.llm.Complete(ctx, []state.Message{
		{Role: "system", Content: "Write an initial report draft answering the brief. Use placeholder sections where research is still needed."},
		{Role: "user", Content: brief},
	}, "")
	if err != nil || strings.TrimSpace(resp) == "" {
		return Degraded("Initial draft based on: "+brief, reasonOf(err, "empty draft response"))
	}
	return Ok(resp)
}

// repair fills defaults for any field the validator flags so the
// finalize stage always has something to work with.
func (p *MasterPipeline) repair(s *state.AgentState) {
	if vr := state.ValidateAgentState(s); vr.IsValid {
		return
	}
	s.NeedsRepair = true
	if strings.TrimSpace(s.ResearchBrief) == "" {
		s.ResearchBrief = "Research Brief: " + s.UserQuery
	}
	if strings.TrimSpace(s.DraftReport) == "" {
		s.DraftReport = "Initial draft based on: " + s.ResearchBrief
	}
	p.logger.Printf("agent state repaired before finalize")
}

// finalize synthesizes the polished report.
func (p *MasterPipeline) finalize(ctx context.Context, s *state.AgentState, summary string) Result[string] {
	prompt := fmt.Sprintf(
		"Original Query: %s\n\nResearch Brief: %s\n\nDraft Report:\n%s\n\nResearch Summary:\n%s",
		s.UserQuery, s.ResearchBrief, s.DraftReport, summary)
	resp, err := p.llm.Complete(ctx, []state.Message{
		{Role: "system", Content: "Synthesize the material below into a polished final research report with clear sections and cited sources where available."},
		{Role: "user", Content: prompt},
	}, "")
	if err != nil || strings.TrimSpace(resp) == "" {
		fallback := fmt.Sprintf("=== Final Research Report ===\n\nOriginal Query: %s\n\nResearch Findings:\n%s", s.UserQuery, summary)
		return Degraded(fallback, reasonOf(err, "empty final response"))
	}
	return Ok(resp)
}

func reasonOf(err error, fallback string) string {
	if err != nil {
		return err.Error()
	}
	return fallback
}
