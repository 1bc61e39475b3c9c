// Package models defines the core data structures for BotLoom.
//
// It includes flow graph types, conversation sessions, outbound message shapes,
// and webhook protocol types, which are shared across modules.
package models

import "fmt"

// NodeKind identifies the instruction a flow node executes.
type NodeKind string

const (
	// NodeStart is the entry node of a flow or sub-flow; it has no side effect.
	NodeStart NodeKind = "start"
	// NodeAutomaticResponses matches inbound text against branches and is the
	// pause point a session parks at between turns.
	NodeAutomaticResponses NodeKind = "automatic_responses"
	// NodeOutputText emits an interpolated text message.
	NodeOutputText NodeKind = "output_text"
	// NodeOutputImage emits a media message (image, video, or document).
	NodeOutputImage NodeKind = "output_image"
	// NodeOutputLink emits a link message with a label and URL.
	NodeOutputLink NodeKind = "output_link"
	// NodeOutputMenu emits a prompt plus an options list and waits for an
	// exact-string choice.
	NodeOutputMenu NodeKind = "output_menu"
	// NodeInputText pauses for a free-text reply.
	NodeInputText NodeKind = "input_text"
	// NodeInputDate pauses for a date reply.
	NodeInputDate NodeKind = "input_date"
	// NodeInputFile pauses for a file reply.
	NodeInputFile NodeKind = "input_file"
	// NodeActionWait delays for a configured number of seconds within the turn.
	NodeActionWait NodeKind = "action_wait"
	// NodeActionTimeRouting branches on the wall-clock hour in the engine's
	// reference timezone.
	NodeActionTimeRouting NodeKind = "action_time_routing"
	// NodeActionWebService delegates the step to an operator-configured webhook.
	NodeActionWebService NodeKind = "action_web_service"
	// NodeFixedProcess calls into a reusable sub-flow and returns to the
	// caller's next node when the sub-flow completes.
	NodeFixedProcess NodeKind = "fixed_process"
)

// Operator names a comparison applied by the condition evaluator.
type Operator string

const (
	OperatorEq          Operator = "eq"
	OperatorGt          Operator = "gt"
	OperatorGte         Operator = "gte"
	OperatorLt          Operator = "lt"
	OperatorLte         Operator = "lte"
	OperatorContains    Operator = "contains"
	OperatorCont        Operator = "cont" // legacy alias of contains
	OperatorContainsAny Operator = "contains_any"
	OperatorContainsAll Operator = "contains_all"
)

// DefaultBranchKey marks the branch taken when no other branch matches.
const DefaultBranchKey = "option-default"

// BranchKey returns the stable key addressing branch i of a node.
func BranchKey(i int) string {
	return fmt.Sprintf("option-%d", i)
}

// NodeMetadata holds the kind-specific payload of a flow node.
type NodeMetadata struct {
	Variable    string `json:"variable,omitempty"`     // parameter name for input kinds
	MediaType   string `json:"media_type,omitempty"`   // image, video or document
	Caption     string `json:"caption,omitempty"`      // secondary text for media nodes
	Label       string `json:"label,omitempty"`        // display label (Goto targets match on this)
	LinkText    string `json:"link_text,omitempty"`    // anchor text for output_link
	WaitSeconds int    `json:"wait_seconds,omitempty"` // delay for action_wait
}

// FlowNode is one instruction in a flow graph. Nodes are created and replaced
// wholesale by the authoring layer; the engine reads them only.
type FlowNode struct {
	ID             string       `json:"id"`
	Kind           NodeKind     `json:"kind"`
	FlowID         string       `json:"flow_id,omitempty"`     // empty for sub-flow-owned nodes
	SubFlowID      string       `json:"sub_flow_id,omitempty"` // set when the node references a reusable sub-flow
	IsSubFlowProxy bool         `json:"is_sub_flow_proxy,omitempty"`
	Value          string       `json:"value,omitempty"` // primary payload: text template, URL, ...
	Metadata       NodeMetadata `json:"metadata,omitempty"`
	Next           string       `json:"next,omitempty"` // successor for non-branching kinds
}

// FlowBranch is one outgoing labeled edge of a branching node. The ordered
// branch list of a node defines the stable index space addressed as option-<i>;
// index 0 of an automatic_responses node is the unconditional fallback.
type FlowBranch struct {
	OwnerNodeID  string   `json:"owner_node_id"`
	Key          string   `json:"key"` // option-<i> or option-default
	MatchValue   string   `json:"match_value"`
	Operator     Operator `json:"operator"`
	TargetNodeID string   `json:"target_node_id,omitempty"`
	AuxImage     string   `json:"aux_image,omitempty"` // editor-only, ignored by the engine
}

// IsDefault reports whether the branch is the explicit default edge.
func (b FlowBranch) IsDefault() bool {
	return b.Key == DefaultBranchKey
}

// FlowGraph is the read-only projection of one flow (or sub-flow) consumed by
// the engine for a single execution. It is rebuilt from storage on every turn;
// the engine holds no graph cache across turns.
type FlowGraph struct {
	FlowID   string
	FlowName string
	Nodes    []FlowNode

	nodesByID map[string]*FlowNode
	branches  map[string][]FlowBranch
}

// NewFlowGraph builds the derived adjacency for the given nodes and branches.
// Branches must already be in declaration order per owner node.
func NewFlowGraph(flowID, flowName string, nodes []FlowNode, branches []FlowBranch) *FlowGraph {
	g := &FlowGraph{
		FlowID:    flowID,
		FlowName:  flowName,
		Nodes:     nodes,
		nodesByID: make(map[string]*FlowNode, len(nodes)),
		branches:  make(map[string][]FlowBranch),
	}
	for i := range nodes {
		g.nodesByID[nodes[i].ID] = &nodes[i]
	}
	for _, b := range branches {
		g.branches[b.OwnerNodeID] = append(g.branches[b.OwnerNodeID], b)
	}
	return g
}

// Node returns the node with the given id, or nil if the graph has none.
func (g *FlowGraph) Node(id string) *FlowNode {
	if g == nil || id == "" {
		return nil
	}
	return g.nodesByID[id]
}

// Branches returns the ordered outgoing branch list of a node.
func (g *FlowGraph) Branches(nodeID string) []FlowBranch {
	if g == nil {
		return nil
	}
	return g.branches[nodeID]
}

// DefaultBranch returns the branch explicitly keyed as the default edge.
func (g *FlowGraph) DefaultBranch(nodeID string) (FlowBranch, bool) {
	for _, b := range g.branches[nodeID] {
		if b.IsDefault() {
			return b, true
		}
	}
	return FlowBranch{}, false
}

// FindByKind returns the first node of the given kind, or nil.
func (g *FlowGraph) FindByKind(kind NodeKind) *FlowNode {
	for i := range g.Nodes {
		if g.Nodes[i].Kind == kind {
			return &g.Nodes[i]
		}
	}
	return nil
}

// FindByLabel returns the first node whose display label matches, or nil.
// Webhook Goto actions address nodes this way.
func (g *FlowGraph) FindByLabel(label string) *FlowNode {
	if label == "" {
		return nil
	}
	for i := range g.Nodes {
		if g.Nodes[i].Metadata.Label == label {
			return &g.Nodes[i]
		}
	}
	return nil
}
