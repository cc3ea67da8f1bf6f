package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"deepresearch/internal/state"
	searchmodels "deepresearch/tools/websearch/models"
)

var errStub = errors.New("collaborator down")

// scriptedLLM replays canned responses, then repeats the last one.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
}

func (l *scriptedLLM) Complete(_ context.Context, _ []state.Message, _ string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return "", l.err
	}
	if len(l.responses) == 0 {
		return "scripted response with some substance", nil
	}
	resp := l.responses[0]
	if len(l.responses) > 1 {
		l.responses = l.responses[1:]
	}
	return resp, nil
}

func (l *scriptedLLM) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type stubSearcher struct {
	mu    sync.Mutex
	docs  []searchmodels.Document
	err   error
	calls int
}

func (s *stubSearcher) SearchAndScrape(_ context.Context, _ string, _ int) ([]searchmodels.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.docs, nil
}

func (s *stubSearcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// stubInvoker dispatches to per-tool handlers and records call order.
type stubInvoker struct {
	mu       sync.Mutex
	handlers map[string]func(params map[string]any) (any, error)
	calls    []string
}

func (s *stubInvoker) Invoke(_ context.Context, name string, params map[string]any) (any, error) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	handler, ok := s.handlers[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no handler for %s", name)
	}
	return handler(params)
}

func (s *stubInvoker) called(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == name {
			n++
		}
	}
	return n
}

// failingInvoker rejects every tool call.
type failingInvoker struct{}

func (failingInvoker) Invoke(_ context.Context, name string, _ map[string]any) (any, error) {
	return nil, fmt.Errorf("%s unavailable: %w", name, errStub)
}

type stubClarifier struct {
	result Clarification
	err    error
	calls  int
}

func (c *stubClarifier) Clarify(_ context.Context, _ string) (Clarification, error) {
	c.calls++
	return c.result, c.err
}
