// Package dag builds and validates workflow graphs.
package dag

import (
	"fmt"
	"sort"

	"github.com/soochol/deskflow/internal/deskflow"
)

// DAG is a validated workflow graph: one trigger root, acyclic, every node
// reachable from the root, every node config typed.
type DAG struct {
	def       *deskflow.WorkflowDefinition
	nodes     map[string]*Node
	index     map[string]int
	children  map[string][]string
	parents   map[string][]string
	out       map[string][]deskflow.EdgeDefinition
	root      string
	topoOrder []string
}

// Build validates wf and returns its graph. All problems found are
// reported together in a *deskflow.ValidationError.
func Build(wf *deskflow.WorkflowDefinition) (*DAG, error) {
	d := &DAG{
		def:      wf,
		nodes:    make(map[string]*Node),
		index:    make(map[string]int),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
		out:      make(map[string][]deskflow.EdgeDefinition),
	}
	var problems []deskflow.Problem

	if len(wf.Nodes) == 0 {
		problems = append(problems, deskflow.Problem{Message: "workflow has no nodes"})
		return nil, deskflow.Validation(problems)
	}

	var triggers []string
	for i := range wf.Nodes {
		nd := &wf.Nodes[i]
		if nd.ID == "" {
			problems = append(problems, deskflow.Problem{Path: fmt.Sprintf("nodes[%d]", i), Message: "node id is required"})
			continue
		}
		if _, exists := d.nodes[nd.ID]; exists {
			problems = append(problems, deskflow.Problem{NodeID: nd.ID, Message: "duplicate node id"})
			continue
		}
		d.nodes[nd.ID] = decodeNode(nd, &problems)
		d.index[nd.ID] = i
		if nd.Type == deskflow.NodeTypeTrigger {
			triggers = append(triggers, nd.ID)
		}
	}

	switch len(triggers) {
	case 0:
		problems = append(problems, deskflow.Problem{Message: "workflow has no trigger node"})
	case 1:
		d.root = triggers[0]
	default:
		for _, id := range triggers[1:] {
			problems = append(problems, deskflow.Problem{NodeID: id, Message: "workflow must have exactly one trigger node"})
		}
	}

	seenEdges := map[string]bool{}
	for _, e := range wf.Edges {
		if p, ok := d.checkEdge(e, seenEdges); !ok {
			problems = append(problems, p)
			continue
		}
		seenEdges[e.Key()] = true
		d.out[e.From] = append(d.out[e.From], e)
		d.children[e.From] = appendUnique(d.children[e.From], e.To)
		d.parents[e.To] = appendUnique(d.parents[e.To], e.From)
	}

	order, cyclic := d.topoSort()
	for _, id := range cyclic {
		problems = append(problems, deskflow.Problem{NodeID: id, Message: "node is on or behind a cycle"})
	}
	d.topoOrder = order

	if d.root != "" && len(cyclic) == 0 {
		reached := d.reachable(d.root)
		for _, id := range order {
			if !reached[id] {
				problems = append(problems, deskflow.Problem{NodeID: id, Message: "node is not reachable from the trigger"})
			}
		}
	}

	if err := deskflow.Validation(problems); err != nil {
		return nil, err
	}
	return d, nil
}

// checkEdge validates one edge against the decoded nodes.
func (d *DAG) checkEdge(e deskflow.EdgeDefinition, seen map[string]bool) (deskflow.Problem, bool) {
	bad := func(format string, args ...any) (deskflow.Problem, bool) {
		return deskflow.Problem{Edge: e.Key(), Message: fmt.Sprintf(format, args...)}, false
	}

	from, ok := d.nodes[e.From]
	if !ok {
		return bad("edge references unknown node %q", e.From)
	}
	to, ok := d.nodes[e.To]
	if !ok {
		return bad("edge references unknown node %q", e.To)
	}
	if e.From == e.To {
		return bad("self-loop")
	}
	if seen[e.Key()] {
		return bad("duplicate edge")
	}
	if to.Type == deskflow.NodeTypeTrigger {
		return bad("trigger node cannot have incoming edges")
	}
	if e.Label == "" {
		return deskflow.Problem{}, true
	}

	switch from.Type {
	case deskflow.NodeTypeAction:
		if e.Label != deskflow.LabelOnError {
			return bad("action edges may only be labeled %q", deskflow.LabelOnError)
		}
	case deskflow.NodeTypeCondition:
		if from.Condition == nil {
			return deskflow.Problem{}, true
		}
		for _, l := range from.Condition.Labels() {
			if l == e.Label {
				return deskflow.Problem{}, true
			}
		}
		return bad("condition node %q never selects label %q", e.From, e.Label)
	default:
		return bad("%s edges cannot be labeled", from.Type)
	}
	return deskflow.Problem{}, true
}

// topoSort runs Kahn's algorithm, breaking ties by definition order. Nodes
// left with incoming edges sit on a cycle and are returned separately.
func (d *DAG) topoSort() (order, cyclic []string) {
	inDegree := make(map[string]int, len(d.nodes))
	for id := range d.nodes {
		inDegree[id] = len(d.parents[id])
	}
	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	d.sortByIndex(queue)
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)
		for _, c := range d.children[node] {
			inDegree[c]--
			if inDegree[c] == 0 {
				queue = append(queue, c)
			}
		}
		d.sortByIndex(queue)
	}
	if len(order) != len(d.nodes) {
		for id, deg := range inDegree {
			if deg > 0 {
				cyclic = append(cyclic, id)
			}
		}
		d.sortByIndex(cyclic)
	}
	return order, cyclic
}

func (d *DAG) sortByIndex(ids []string) {
	sort.Slice(ids, func(i, j int) bool { return d.index[ids[i]] < d.index[ids[j]] })
}

func (d *DAG) reachable(from string) map[string]bool {
	seen := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range d.children[n] {
			if !seen[c] {
				seen[c] = true
				stack = append(stack, c)
			}
		}
	}
	return seen
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func (d *DAG) Definition() *deskflow.WorkflowDefinition { return d.def }
func (d *DAG) TopologicalOrder() []string               { return d.topoOrder }
func (d *DAG) Root() string                             { return d.root }
func (d *DAG) Node(id string) *Node                     { return d.nodes[id] }
func (d *DAG) Children(nodeID string) []string          { return d.children[nodeID] }
func (d *DAG) Parents(nodeID string) []string           { return d.parents[nodeID] }

// OutEdges returns the edges leaving nodeID in definition order.
func (d *DAG) OutEdges(nodeID string) []deskflow.EdgeDefinition { return d.out[nodeID] }

// RootNode returns the trigger node.
func (d *DAG) RootNode() *Node { return d.nodes[d.root] }
