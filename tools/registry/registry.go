// Package registry exposes the fixed set of engine tools behind a
// name-based invocation surface. Parameters are validated against each
// tool's declared JSON schema before the handler runs.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"deepresearch/internal/state"
	"deepresearch/provider"
	"deepresearch/tools/websearch"
)

// Fixed tool names.
const (
	ToolWebSearch   = "websearch"
	ToolSummarize   = "summarize"
	ToolExtractFact = "extractfacts"
	ToolQualityEval = "qualityevaluation"
	ToolRefineDraft = "refinedraft"
)

// ErrUnknownTool indicates an invocation of a name that was never
// registered.
var ErrUnknownTool = fmt.Errorf("unknown tool")

// Handler executes one tool call with already-validated parameters.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// Tool is one registered capability.
type Tool struct {
	Name        string
	Description string
	schema      *jsonschema.Schema
	handler     Handler
}

// Registry holds tools keyed by name.
type Registry struct {
	tools map[string]Tool
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register compiles the parameter schema and adds the tool. A second
// registration under the same name replaces the first.
func (r *Registry) Register(name, description, schemaJSON string, handler Handler) error {
	schema, err := jsonschema.CompileString(name+".schema.json", schemaJSON)
	if err != nil {
		return fmt.Errorf("compiling schema for %s: %w", name, err)
	}
	r.tools[name] = Tool{Name: name, Description: description, schema: schema, handler: handler}
	return nil
}

// Invoke validates params against the tool's schema and runs it.
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]any) (any, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	normalized := map[string]any{}
	for k, v := range params {
		normalized[k] = v
	}
	if err := tool.schema.Validate(normalized); err != nil {
		return nil, fmt.Errorf("invalid parameters for %s: %w", name, err)
	}
	return tool.handler(ctx, normalized)
}

// Names returns every registered tool name.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tools))
	for n := range r.tools {
		out = append(out, n)
	}
	return out
}

// NewDefaultRegistry wires the five engine tools against the given
// collaborators.
func NewDefaultRegistry(llm provider.Completer, search websearch.SearchAndScraper, logger *log.Logger) (*Registry, error) {
	r := New()

	err := r.Register(ToolWebSearch, "Search the web and scrape the top hits",
		`{"type":"object","properties":{"query":{"type":"string","minLength":1},"max_results":{"type":"integer","minimum":1,"maximum":10}},"required":["query"]}`,
		func(ctx context.Context, params map[string]any) (any, error) {
			query, _ := params["query"].(string)
			max := intParam(params, "max_results", 3)
			docs, err := search.SearchAndScrape(ctx, query, max)
			if err != nil {
				return nil, fmt.Errorf("web search failed: %w", err)
			}
			return docs, nil
		})
	if err != nil {
		return nil, err
	}

	err = r.Register(ToolSummarize, "Summarize research text",
		`{"type":"object","properties":{"text":{"type":"string","minLength":1}},"required":["text"]}`,
		func(ctx context.Context, params map[string]any) (any, error) {
			text, _ := params["text"].(string)
			return llm.Complete(ctx, []state.Message{
				{Role: "system", Content: "Summarize the following research material into a dense factual digest."},
				{Role: "user", Content: text},
			}, "")
		})
	if err != nil {
		return nil, err
	}

	err = r.Register(ToolExtractFact, "Extract discrete facts from text",
		`{"type":"object","properties":{"text":{"type":"string","minLength":1},"source":{"type":"string"},"confidence":{"type":"integer","minimum":1,"maximum":100}},"required":["text"]}`,
		func(ctx context.Context, params map[string]any) (any, error) {
			text, _ := params["text"].(string)
			source, _ := params["source"].(string)
			if source == "" {
				source = state.SourceCompressedResearch
			}
			confidence := intParam(params, "confidence", 75)
			return ExtractFacts(text, source, confidence, 20), nil
		})
	if err != nil {
		return nil, err
	}

	err = r.Register(ToolQualityEval, "Score draft quality on a 0-10 scale",
		`{"type":"object","properties":{"draft":{"type":"string","minLength":1},"fact_count":{"type":"integer","minimum":0}},"required":["draft"]}`,
		func(ctx context.Context, params map[string]any) (any, error) {
			draft, _ := params["draft"].(string)
			facts := intParam(params, "fact_count", 0)
			resp, err := llm.Complete(ctx, []state.Message{
				{Role: "system", Content: "You are a strict research quality assessor. Reply with a single number from 0 to 10."},
				{Role: "user", Content: fmt.Sprintf("Knowledge base size: %d facts.\n\nDraft:\n%s", facts, draft)},
			}, "")
			if err != nil {
				return nil, err
			}
			score, err := ParseScore(resp)
			if err != nil {
				return nil, err
			}
			return score, nil
		})
	if err != nil {
		return nil, err
	}

	err = r.Register(ToolRefineDraft, "Rewrite the draft using feedback",
		`{"type":"object","properties":{"draft":{"type":"string","minLength":1},"feedback":{"type":"string"}},"required":["draft"]}`,
		func(ctx context.Context, params map[string]any) (any, error) {
			draft, _ := params["draft"].(string)
			feedback, _ := params["feedback"].(string)
			return llm.Complete(ctx, []state.Message{
				{Role: "system", Content: "Improve the draft. Keep its structure, address the feedback, do not invent sources."},
				{Role: "user", Content: fmt.Sprintf("Draft:\n%s\n\nFeedback:\n%s", draft, feedback)},
			}, "")
		})
	if err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Printf("registered tools: %v", r.Names())
	}
	return r, nil
}

// ExtractFacts splits text into paragraph-like chunks and turns each
// substantial one into a fact with the given provenance.
func ExtractFacts(text, source string, confidence, maxFacts int) []state.Fact {
	var facts []state.Fact
	for _, para := range strings.Split(text, "\n") {
		if len(facts) >= maxFacts {
			break
		}
		para = strings.TrimSpace(para)
		if len(para) <= 20 {
			continue
		}
		facts = append(facts, state.NewFact(para, source, confidence))
	}
	return facts
}

// ParseScore pulls the first number out of an LLM's free-text answer.
func ParseScore(resp string) (float64, error) {
	for _, tok := range strings.Fields(strings.ReplaceAll(resp, "/", " ")) {
		tok = strings.Trim(tok, ".,:;()[]")
		if v, err := strconv.ParseFloat(tok, 64); err == nil {
			return v, nil
		}
	}
	return 0, fmt.Errorf("no numeric score in response %q", resp)
}

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}
