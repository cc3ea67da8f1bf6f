package state

import "fmt"

// Node identifies one step in a workflow graph.
type Node string

// EndNode is the sentinel node that marks the end of a graph.
const EndNode Node = "__end__"

// Transition is the resolved outcome of routing from a node. Exactly
// one of Next or Parallel is meaningful for non-terminal transitions.
type Transition struct {
	From       Node
	Next       Node
	Parallel   []Node
	IsTerminal bool
}

// ConditionFunc picks the next node from the current state. Returning
// an error or an empty node sends routing to the registered fallback.
type ConditionFunc func(s *SupervisorState) (Node, error)

type edgeResolver func(s *SupervisorState) Transition

// TransitionRouter maps nodes to fixed, conditional or parallel edges.
// Later registrations for the same node override earlier ones, so
// default wiring can be replaced at composition time. The router keeps
// no visitation history: cycle detection and iteration limits belong to
// the caller.
type TransitionRouter struct {
	edges map[Node]edgeResolver
}

// NewTransitionRouter builds an empty router.
func NewTransitionRouter() *TransitionRouter {
	return &TransitionRouter{edges: make(map[Node]edgeResolver)}
}

// AddEdge registers a fixed edge from one node to the next.
func (r *TransitionRouter) AddEdge(from, to Node) {
	r.edges[from] = func(*SupervisorState) Transition {
		return Transition{From: from, Next: to}
	}
}

// AddConditionalEdge registers a state-dependent edge. When cond fails
// or returns an empty node, routing falls back to the fallback node.
func (r *TransitionRouter) AddConditionalEdge(from Node, cond ConditionFunc, fallback Node) {
	r.edges[from] = func(s *SupervisorState) Transition {
		next, err := cond(s)
		if err != nil || next == "" {
			next = fallback
		}
		return Transition{From: from, Next: next}
	}
}

// AddParallelEdge registers a fan-out edge; the caller is responsible
// for joining the targets.
func (r *TransitionRouter) AddParallelEdge(from Node, targets ...Node) {
	fanout := append([]Node(nil), targets...)
	r.edges[from] = func(*SupervisorState) Transition {
		return Transition{From: from, Parallel: fanout}
	}
}

// NextTransition resolves the edge registered for a node against the
// current state. Unregistered nodes and the end sentinel resolve to a
// terminal transition; the state itself is never modified.
func (r *TransitionRouter) NextTransition(from Node, s *SupervisorState) Transition {
	if from == EndNode {
		return Transition{From: from, IsTerminal: true}
	}
	resolve, ok := r.edges[from]
	if !ok {
		return Transition{From: from, IsTerminal: true}
	}
	t := resolve(s)
	if t.Next == EndNode && len(t.Parallel) == 0 {
		t.IsTerminal = true
	}
	return t
}

// Nodes returns every node with a registered outgoing edge.
func (r *TransitionRouter) Nodes() []Node {
	out := make([]Node, 0, len(r.edges))
	for n := range r.edges {
		out = append(out, n)
	}
	return out
}

func (t Transition) String() string {
	if t.IsTerminal {
		return fmt.Sprintf("%s -> (terminal)", t.From)
	}
	if len(t.Parallel) > 0 {
		return fmt.Sprintf("%s -> %v", t.From, t.Parallel)
	}
	return fmt.Sprintf("%s -> %s", t.From, t.Next)
}
