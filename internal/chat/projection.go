// ABOUTME: UI projection of a conversation: renderable nodes streamed to observers
// ABOUTME: Derived from the record, never the reverse; markdown rendered via goldmark

package chat

import (
	"bytes"
	"fmt"
	"html"

	"github.com/yuin/goldmark"

	"github.com/sibyl-sh/sibyl/internal/stream"
)

// NodeKind classifies a projection node for the presentation layer.
type NodeKind string

const (
	NodeUser    NodeKind = "user"
	NodeSpinner NodeKind = "spinner"
	NodeSection NodeKind = "section" // tool activity during research
	NodeAnswer  NodeKind = "answer"
	NodeInquiry NodeKind = "inquiry"
	NodeRelated NodeKind = "related"
	NodeError   NodeKind = "error"
)

// UINode is one renderable unit in the live projection. HTML is derived from
// Markdown at construction; the presentation layer treats both as opaque.
type UINode struct {
	ID       string   `json:"id"`
	Kind     NodeKind `json:"kind"`
	Markdown string   `json:"markdown,omitempty"`
	HTML     string   `json:"html,omitempty"`
}

// NewNode builds a node, rendering its markdown content to HTML.
func NewNode(id string, kind NodeKind, markdown string) UINode {
	return UINode{
		ID:       id,
		Kind:     kind,
		Markdown: markdown,
		HTML:     RenderHTML(markdown),
	}
}

// RenderHTML converts markdown to HTML. A conversion failure falls back to
// the escaped source rather than dropping content.
func RenderHTML(markdown string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "<pre>" + html.EscapeString(markdown) + "</pre>"
	}
	return buf.String()
}

// Projection is the streaming channel of UI nodes for one turn. It wraps a
// Streamable of the full node list: Append adds a node, Replace swaps the
// last one (used for incremental rewrites of a streaming answer).
type Projection struct {
	s *stream.Streamable[[]UINode]
}

// NewProjection creates an empty pending projection.
func NewProjection() *Projection {
	return &Projection{s: stream.New[[]UINode]()}
}

// Append adds a node to the end of the projection.
func (p *Projection) Append(node UINode) error {
	nodes, _ := p.s.Value()
	next := make([]UINode, len(nodes)+1)
	copy(next, nodes)
	next[len(nodes)] = node
	return p.s.Append(next)
}

// Replace swaps the last node, or appends when the projection is empty.
func (p *Projection) Replace(node UINode) error {
	nodes, _ := p.s.Value()
	if len(nodes) == 0 {
		return p.Append(node)
	}
	next := make([]UINode, len(nodes))
	copy(next, nodes)
	next[len(next)-1] = node
	return p.s.Append(next)
}

// Done marks the projection complete.
func (p *Projection) Done() error { return p.s.Done() }

// Fail marks the projection terminated with an error.
func (p *Projection) Fail(err error) error { return p.s.Fail(err) }

// Nodes returns the current node list and stream state.
func (p *Projection) Nodes() ([]UINode, stream.State) { return p.s.Value() }

// Stream exposes the underlying streamable for subscription.
func (p *Projection) Stream() *stream.Streamable[[]UINode] { return p.s }

// ProjectionFromRecord derives the projection nodes for a persisted record.
// System messages are filtered out; every remaining message maps to exactly
// one node keyed "<chatID>-<filteredIndex>", deterministically.
func ProjectionFromRecord(rec Record) []UINode {
	nodes := make([]UINode, 0, len(rec.Messages))
	idx := 0
	for _, msg := range rec.Messages {
		if msg.Role == RoleSystem {
			continue
		}
		kind := NodeAnswer
		if msg.Role == RoleUser {
			kind = NodeUser
		}
		nodes = append(nodes, NewNode(fmt.Sprintf("%s-%d", rec.ID, idx), kind, msg.Content))
		idx++
	}
	return nodes
}
