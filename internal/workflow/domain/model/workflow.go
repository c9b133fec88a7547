// Package model defines the workflow graph as authored by the user.
package model

import (
	"encoding/json"
	"time"
)

// Node type discriminators with engine-level semantics.
const (
	TypeIf        = "If"
	TypeSwitch    = "Switch"
	TypeLoop      = "Loop"
	TypeScheduler = "Scheduler"
)

// Edge handles emitted by branching and loop nodes.
const (
	HandleTrue    = "true"
	HandleFalse   = "false"
	HandleDefault = "default"
	HandleLoop    = "loop"
	HandleDone    = "done"
)

// Workflow is a user-authored directed graph of typed nodes. Nodes and
// edges are immutable within a run.
type Workflow struct {
	ID              string                     `json:"id"`
	UserID          string                     `json:"userId"`
	Name            string                     `json:"name"`
	Nodes           []Node                     `json:"nodes"`
	Edges           []Edge                     `json:"edges"`
	IsActive        bool                       `json:"isActive"`
	ScheduleCron    string                     `json:"scheduleCron,omitempty"`
	PersistentState map[string]json.RawMessage `json:"persistentState,omitempty"`
	ProjectID       string                     `json:"projectId,omitempty"`
	CreatedAt       time.Time                  `json:"createdAt"`
	UpdatedAt       time.Time                  `json:"updatedAt"`
}

// Node is a unit of work. ID is stable and human-readable; it doubles as
// the reference name in parameter templates.
type Node struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Category Category               `json:"category,omitempty"`
	Position Position               `json:"position"`
	Values   map[string]interface{} `json:"values,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// Position is editor-bound node placement.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge is a directed connection between nodes. Handles discriminate
// branching outputs ("true", "false", "case1", "default", "loop", "done").
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// Category is the executor dispatch key.
type Category string

const (
	CategoryDataSource    Category = "DataSource"
	CategoryIndicator     Category = "Indicator"
	CategoryBroker        Category = "Broker"
	CategoryCommunication Category = "Communication"
	CategoryControlFlow   Category = "ControlFlow"
	CategoryUtility       Category = "Utility"
	CategoryHTTP          Category = "HTTP"
)

// typeCategories maps legacy node types to their dispatch category for
// nodes that do not declare one.
var typeCategories = map[string]Category{
	TypeIf:         CategoryControlFlow,
	TypeSwitch:     CategoryControlFlow,
	TypeLoop:       CategoryControlFlow,
	"EditFields":   CategoryControlFlow,
	"Math":         CategoryControlFlow,
	"Transform":    CategoryControlFlow,
	TypeScheduler:  CategoryUtility,
	"trigger":      CategoryUtility,
	"Visualize":    CategoryUtility,
	"webhook":      CategoryUtility,
	"httprequest":  CategoryUtility,
	"Gmail":        CategoryCommunication,
	"WhatsApp":     CategoryCommunication,
	"FinnHub":      CategoryDataSource,
	"YahooFinance": CategoryDataSource,
}

// EffectiveCategory returns the declared category, or derives it from the
// node type.
func (n *Node) EffectiveCategory() Category {
	if n.Category != "" {
		return n.Category
	}
	if c, ok := typeCategories[n.Type]; ok {
		return c
	}
	return ""
}

// IsBranching reports whether the node's outgoing edges are selected by
// its result.
func (n *Node) IsBranching() bool {
	return n.Type == TypeIf || n.Type == TypeSwitch
}

// DisplayName returns the name templates may use to reference this node's
// output: values.label, else the definition name from editor metadata,
// else the type.
func (n *Node) DisplayName() string {
	if label, ok := n.Values["label"].(string); ok && label != "" {
		return label
	}
	if def, ok := n.Data["definition"].(map[string]interface{}); ok {
		if name, ok := def["name"].(string); ok && name != "" {
			return name
		}
	}
	return n.Type
}

// NodeByID returns the node with the given ID, or nil.
func (w *Workflow) NodeByID(id string) *Node {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}

// SourceNodes returns the nodes with no incoming edges.
func (w *Workflow) SourceNodes() []string {
	incoming := make(map[string]bool, len(w.Nodes))
	for _, e := range w.Edges {
		incoming[e.Target] = true
	}
	var sources []string
	for _, n := range w.Nodes {
		if !incoming[n.ID] {
			sources = append(sources, n.ID)
		}
	}
	return sources
}

// SchedulerNodes returns the nodes of type Scheduler, used for cron
// derivation.
func (w *Workflow) SchedulerNodes() []*Node {
	var out []*Node
	for i := range w.Nodes {
		if w.Nodes[i].Type == TypeScheduler {
			out = append(out, &w.Nodes[i])
		}
	}
	return out
}
